package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-lobby/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadySet is returned by conditional writes that found the target
// column already populated.
var ErrAlreadySet = errors.New("already set")

// Store defines persistence for the lobby core. Implementations must
// make Transact atomic: every write inside fn is visible after a nil
// return, none otherwise. Calling Transact on the store passed to fn
// joins the enclosing transaction instead of opening a new one.
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	UpdateUserRating(ctx context.Context, id string, rating float64) error
	IncrementUserRides(ctx context.Context, id string) error

	CreateLobby(ctx context.Context, l *models.Lobby) error
	GetLobby(ctx context.Context, id string) (*models.Lobby, error)
	// GetLobbyForUpdate reads the lobby while holding its row lock for
	// the rest of the enclosing transaction. Capacity checks and the
	// finalization member snapshot rely on this for per-lobby
	// serialization.
	GetLobbyForUpdate(ctx context.Context, id string) (*models.Lobby, error)
	ListLobbiesByStatus(ctx context.Context, status models.LobbyStatus) ([]models.Lobby, error)
	SetLobbyStatus(ctx context.Context, id string, status models.LobbyStatus, at time.Time) error

	CreateMembership(ctx context.Context, m *models.Membership) error
	GetMembership(ctx context.Context, lobbyID, userID string) (*models.Membership, error)
	ReactivateMembership(ctx context.Context, lobbyID, userID, pickup string, at time.Time) error
	MarkMembershipLeft(ctx context.Context, lobbyID, userID string, at time.Time) error
	// ActiveMembers returns active memberships ordered by join time
	// ascending.
	ActiveMembers(ctx context.Context, lobbyID string) ([]models.Membership, error)

	AppendChatEvent(ctx context.Context, c *models.ChatEvent) error
	ListChatEvents(ctx context.Context, lobbyID string, limit int) ([]models.ChatEvent, error)
	// DeleteChatEvent removes a message if and only if authorID wrote it.
	DeleteChatEvent(ctx context.Context, id, authorID string) error

	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	GetRideByLobby(ctx context.Context, lobbyID string) (*models.Ride, error)
	CreateRideParticipants(ctx context.Context, ps []models.RideParticipant) error
	ListRideParticipants(ctx context.Context, rideID string) ([]models.RideParticipant, error)
	GetRideParticipant(ctx context.Context, rideID, userID string) (*models.RideParticipant, error)
	// SetParticipantRating writes the score only when the row's rating
	// is still null, so concurrent raters cannot overwrite each other.
	// Returns ErrAlreadySet when a rating is already present.
	SetParticipantRating(ctx context.Context, rideID, userID string, score int, review *string) error
	// RatingsForUser returns every non-null rating recorded against the
	// user's participant rows, across all rides.
	RatingsForUser(ctx context.Context, userID string) ([]int, error)

	Transact(ctx context.Context, fn func(tx Store) error) error
}
