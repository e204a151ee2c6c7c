package lobby

import (
	"context"
	"time"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/storage"
)

// Machine applies status transitions under the lobby row lock.
type Machine struct {
	store storage.Store
}

func NewMachine(store storage.Store) *Machine {
	return &Machine{store: store}
}

// Transition moves a lobby to target on behalf of requester. Only the
// creator may drive a lobby forward; any other requester fails before
// the reachability check is consulted.
func (m *Machine) Transition(ctx context.Context, lobbyID, requesterID string, target models.LobbyStatus) (*models.Lobby, error) {
	return m.apply(ctx, lobbyID, target, func(l *models.Lobby) error {
		if l.CreatorID != requesterID {
			return ErrNotAuthorized
		}
		return nil
	})
}

// SystemCancel cancels a lobby without a requester. It backs the
// creator-leave cascade, which Service invokes explicitly.
func (m *Machine) SystemCancel(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	return m.apply(ctx, lobbyID, models.LobbyCancelled, func(*models.Lobby) error { return nil })
}

func (m *Machine) apply(ctx context.Context, lobbyID string, target models.LobbyStatus, authorize func(*models.Lobby) error) (*models.Lobby, error) {
	var out *models.Lobby
	err := m.store.Transact(ctx, func(tx storage.Store) error {
		l, err := tx.GetLobbyForUpdate(ctx, lobbyID)
		if err != nil {
			return err
		}
		if err := authorize(l); err != nil {
			return err
		}
		if !CanTransition(l.Status, target) {
			return ErrInvalidTransition
		}
		now := time.Now().UTC()
		if err := tx.SetLobbyStatus(ctx, lobbyID, target, now); err != nil {
			return err
		}
		l.Status = target
		l.UpdatedAt = now
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
