// Package payments collects each participant's fare share after a
// lobby finalizes. Collection is best-effort and happens outside the
// finalization transaction; a failed charge never unwinds the ride.
package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient is a thin wrapper around stripe-go for the hold/capture
// flow on participant shares.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the STRIPE_API_KEY
// env var. Returns nil when no key is configured, which disables fare
// collection.
func NewStripeClient() *StripeClient {
	key := os.Getenv("STRIPE_API_KEY")
	if key == "" {
		return nil
	}
	stripe.Key = key
	return &StripeClient{}
}

// HoldShare creates a manual-capture PaymentIntent for one
// participant's share and returns its ID.
func (s *StripeClient) HoldShare(ctx context.Context, amountCents int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// CaptureShare finalizes a previously-held share.
func (s *StripeClient) CaptureShare(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Capture(paymentIntentID, nil)
	return err
}

// ReleaseShare cancels a hold, e.g. when the lobby is cancelled after
// shares were held.
func (s *StripeClient) ReleaseShare(ctx context.Context, paymentIntentID string) error {
	_, err := paymentintent.Cancel(paymentIntentID, nil)
	return err
}
