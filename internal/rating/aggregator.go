// Package rating accepts post-ride ratings and keeps each user's stored
// rating equal to the mean of every rating ever recorded against them.
package rating

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/observability"
	"github.com/example/ride-lobby/internal/storage"
)

var (
	ErrNotAParticipant = errors.New("not a participant of this ride")
	ErrAlreadyRated    = errors.New("participant already rated")
	ErrInvalidScore    = errors.New("score must be between 1 and 5")
	ErrSelfRating      = errors.New("cannot rate yourself")
)

type Aggregator struct {
	store  storage.Store
	logger *slog.Logger
}

func NewAggregator(store storage.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// Rate records a score against the ratee's participant row and
// recomputes their running mean. Any participant may rate any other
// participant of a shared ride; each row takes at most one rating,
// first write wins.
func (a *Aggregator) Rate(ctx context.Context, rideID, raterID, rateeID string, score int, review *string) error {
	if score < 1 || score > 5 {
		return ErrInvalidScore
	}
	if raterID == rateeID {
		return ErrSelfRating
	}
	err := a.store.Transact(ctx, func(tx storage.Store) error {
		if _, err := participant(ctx, tx, rideID, raterID); err != nil {
			return err
		}
		ratee, err := participant(ctx, tx, rideID, rateeID)
		if err != nil {
			return err
		}
		if ratee.Rating != nil {
			return ErrAlreadyRated
		}
		// the store re-checks under its own write guard; a racing rater
		// that slipped past the read above loses here
		if err := tx.SetParticipantRating(ctx, rideID, rateeID, score, review); err != nil {
			if errors.Is(err, storage.ErrAlreadySet) {
				return ErrAlreadyRated
			}
			return err
		}
		ratings, err := tx.RatingsForUser(ctx, rateeID)
		if err != nil {
			return err
		}
		return tx.UpdateUserRating(ctx, rateeID, mean(ratings))
	})
	if err != nil {
		return err
	}
	observability.RatingsSet.Inc()
	a.logger.Info("rating recorded", "ride_id", rideID, "rater_id", raterID, "ratee_id", rateeID, "score", score)
	return nil
}

func participant(ctx context.Context, tx storage.Store, rideID, userID string) (*models.RideParticipant, error) {
	p, err := tx.GetRideParticipant(ctx, rideID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotAParticipant
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// mean rounds to two decimals, matching the precision users see.
func mean(ratings []int) float64 {
	if len(ratings) == 0 {
		return 5.0
	}
	var sum int
	for _, r := range ratings {
		sum += r
	}
	m := float64(sum) / float64(len(ratings))
	return math.Round(m*100) / 100
}
