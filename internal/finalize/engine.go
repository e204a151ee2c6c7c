// Package finalize converts an in-progress lobby into a persisted ride
// record. The conversion is the system's only multi-row write that must
// be all-or-nothing.
package finalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/observability"
	"github.com/example/ride-lobby/internal/storage"
)

type Publisher interface {
	Publish(lobbyID string, ev models.Event)
}

type Engine struct {
	store  storage.Store
	pub    Publisher
	logger *slog.Logger
}

func NewEngine(store storage.Store, pub Publisher, logger *slog.Logger) *Engine {
	return &Engine{store: store, pub: pub, logger: logger}
}

// Input carries the fare and route metrics reported at trip end.
type Input struct {
	TotalFareCents  int64
	DistanceMeters  float64
	DurationMinutes int
}

// Finalize atomically creates the ride and participant rows, bumps each
// participant's completed-ride counter and moves the lobby to Completed.
// Either every write commits or none do. A second call finds the lobby
// already Completed and fails with ErrInvalidState, so double
// finalization is structurally impossible.
func (e *Engine) Finalize(ctx context.Context, lobbyID, requesterID string, in Input) (*models.Ride, error) {
	if in.TotalFareCents < 0 {
		return nil, fmt.Errorf("total fare must not be negative")
	}
	var ride *models.Ride
	err := e.store.Transact(ctx, func(tx storage.Store) error {
		l, err := tx.GetLobbyForUpdate(ctx, lobbyID)
		if err != nil {
			return err
		}
		if l.CreatorID != requesterID {
			return lobby.ErrNotAuthorized
		}
		if l.Status != models.LobbyStarted {
			return lobby.ErrInvalidState
		}
		members, err := tx.ActiveMembers(ctx, lobbyID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return lobby.ErrNoActiveMembers
		}

		now := time.Now().UTC()
		r := &models.Ride{
			ID:              uuid.NewString(),
			LobbyID:         l.ID,
			DriverID:        l.CreatorID,
			Origin:          l.Origin,
			Destination:     l.Destination,
			OriginCoord:     l.OriginCoord,
			DestCoord:       l.DestCoord,
			DepartureTime:   l.DepartureTime,
			CompletedAt:     now,
			TotalFareCents:  in.TotalFareCents,
			DistanceMeters:  in.DistanceMeters,
			DurationMinutes: in.DurationMinutes,
			Status:          "completed",
		}
		if err := tx.CreateRide(ctx, r); err != nil {
			return err
		}

		shares := splitFare(in.TotalFareCents, len(members))
		// the remainder goes to the driver; when the creator's row is no
		// longer active it falls to the first member so the amounts
		// still sum to the total
		remainderIdx := 0
		for i, m := range members {
			if m.UserID == l.CreatorID {
				remainderIdx = i
				break
			}
		}
		participants := make([]models.RideParticipant, len(members))
		for i, m := range members {
			amount := shares.perHead
			if i == remainderIdx {
				amount += shares.remainder
			}
			participants[i] = models.RideParticipant{
				RideID:          r.ID,
				UserID:          m.UserID,
				AmountPaidCents: amount,
				Pickup:          m.Pickup,
				Dropoff:         l.Destination,
			}
		}
		if err := tx.CreateRideParticipants(ctx, participants); err != nil {
			return err
		}
		for _, m := range members {
			if err := tx.IncrementUserRides(ctx, m.UserID); err != nil {
				return err
			}
		}
		if !lobby.CanTransition(l.Status, models.LobbyCompleted) {
			return lobby.ErrInvalidTransition
		}
		if err := tx.SetLobbyStatus(ctx, lobbyID, models.LobbyCompleted, now); err != nil {
			return err
		}
		ride = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RidesFinalized.Inc()
	e.logger.Info("lobby finalized", "lobby_id", lobbyID, "ride_id", ride.ID, "total_fare_cents", in.TotalFareCents)
	e.pub.Publish(lobbyID, models.NewStatusChanged(lobbyID, models.LobbyCompleted, requesterID))
	return ride, nil
}

type fareSplit struct {
	perHead   int64
	remainder int64
}

// splitFare divides the fare evenly in cents. Integer division leaves a
// remainder of at most n-1 cents, which goes to the driver so the
// participant amounts always sum to the total exactly.
func splitFare(totalCents int64, n int) fareSplit {
	per := totalCents / int64(n)
	return fareSplit{perHead: per, remainder: totalCents - per*int64(n)}
}
