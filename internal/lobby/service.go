package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/observability"
	"github.com/example/ride-lobby/internal/storage"
)

// Publisher fans an event out to the lobby's room. The hub implements
// it; tests use a recording fake.
type Publisher interface {
	Publish(lobbyID string, ev models.Event)
}

// Service orchestrates the ledger, the state machine and the broadcast
// fabric. Cross-component cascades (creator leaving cancels the lobby)
// live here so each component stays independently testable.
type Service struct {
	store   storage.Store
	ledger  *Ledger
	machine *Machine
	pub     Publisher
	logger  *slog.Logger
}

func NewService(store storage.Store, pub Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  NewLedger(store),
		machine: NewMachine(store),
		pub:     pub,
		logger:  logger,
	}
}

func (s *Service) Ledger() *Ledger { return s.ledger }

// CreateParams carries everything needed to open a lobby. Coordinates
// arrive already resolved; the transport layer owns geocoding.
type CreateParams struct {
	CreatorID         string
	Origin            string
	Destination       string
	OriginCoord       models.Coord
	DestCoord         models.Coord
	DepartureTime     time.Time
	VehicleClass      string
	Capacity          int
	PricePerSeatCents int64
	Description       string
}

func (p CreateParams) validate() error {
	if p.CreatorID == "" {
		return fmt.Errorf("creator id required")
	}
	if p.Capacity < 1 {
		return fmt.Errorf("capacity must be at least 1")
	}
	if p.PricePerSeatCents < 0 {
		return fmt.Errorf("price per seat must not be negative")
	}
	return nil
}

// Create opens a lobby and enrolls the creator as its first member in
// the same transaction.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Lobby, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	l := &models.Lobby{
		ID:                uuid.NewString(),
		CreatorID:         p.CreatorID,
		Origin:            p.Origin,
		Destination:       p.Destination,
		OriginCoord:       p.OriginCoord,
		DestCoord:         p.DestCoord,
		DepartureTime:     p.DepartureTime,
		VehicleClass:      p.VehicleClass,
		Capacity:          p.Capacity,
		PricePerSeatCents: p.PricePerSeatCents,
		Description:       p.Description,
		Status:            models.LobbyOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err := s.store.Transact(ctx, func(tx storage.Store) error {
		if err := tx.CreateLobby(ctx, l); err != nil {
			return err
		}
		return tx.CreateMembership(ctx, &models.Membership{
			LobbyID:  l.ID,
			UserID:   p.CreatorID,
			Pickup:   p.Origin,
			Status:   models.MemberActive,
			JoinedAt: now,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create lobby: %w", err)
	}
	observability.LobbiesCreated.Inc()
	s.logger.Info("lobby created", "lobby_id", l.ID, "creator_id", p.CreatorID, "capacity", p.Capacity)
	return l, nil
}

// Join enrolls a user and announces them to the room.
func (s *Service) Join(ctx context.Context, lobbyID, userID, pickup string) (*models.Membership, error) {
	m, err := s.ledger.AddMember(ctx, lobbyID, userID, pickup)
	if err != nil {
		return nil, err
	}
	observability.MembersJoined.Inc()
	s.pub.Publish(lobbyID, models.NewMemberJoined(lobbyID, userID))
	return m, nil
}

// Leave marks the member left and, when the leaver is the creator,
// cascades to cancellation. The cascade is a second explicit step, not
// a ledger side effect.
func (s *Service) Leave(ctx context.Context, lobbyID, userID string) error {
	if err := s.ledger.RemoveMember(ctx, lobbyID, userID); err != nil {
		return err
	}
	observability.MembersLeft.Inc()
	s.pub.Publish(lobbyID, models.NewMemberLeft(lobbyID, userID))

	l, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return err
	}
	if l.CreatorID != userID || IsTerminal(l.Status) {
		return nil
	}
	if _, err := s.machine.SystemCancel(ctx, lobbyID); err != nil {
		// another transition won the race; the lobby is already settled
		if errors.Is(err, ErrInvalidTransition) {
			return nil
		}
		return err
	}
	s.logger.Info("lobby cancelled after creator left", "lobby_id", lobbyID)
	s.pub.Publish(lobbyID, models.NewStatusChanged(lobbyID, models.LobbyCancelled, userID))
	return nil
}

// ChangeStatus applies a creator-requested transition and broadcasts it.
func (s *Service) ChangeStatus(ctx context.Context, lobbyID, requesterID string, target models.LobbyStatus) (*models.Lobby, error) {
	l, err := s.machine.Transition(ctx, lobbyID, requesterID, target)
	if err != nil {
		return nil, err
	}
	s.logger.Info("lobby status changed", "lobby_id", lobbyID, "status", target, "requester_id", requesterID)
	s.pub.Publish(lobbyID, models.NewStatusChanged(lobbyID, target, requesterID))
	return l, nil
}

// Get returns a lobby with its current members.
func (s *Service) Get(ctx context.Context, lobbyID string) (*models.Lobby, []models.Membership, error) {
	l, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.ledger.ActiveMembers(ctx, lobbyID)
	if err != nil {
		return nil, nil, err
	}
	return l, members, nil
}

// ListOpen returns joinable lobbies ordered by creation time.
func (s *Service) ListOpen(ctx context.Context) ([]models.Lobby, error) {
	return s.store.ListLobbiesByStatus(ctx, models.LobbyOpen)
}
