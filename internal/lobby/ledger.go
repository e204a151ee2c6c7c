package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/storage"
)

// Ledger tracks who belongs to which lobby. It is a pure data layer:
// the creator-leave cancellation cascade lives in Service, not here.
type Ledger struct {
	store storage.Store
}

func NewLedger(store storage.Store) *Ledger {
	return &Ledger{store: store}
}

func (l *Ledger) IsActiveMember(ctx context.Context, lobbyID, userID string) (bool, error) {
	m, err := l.store.GetMembership(ctx, lobbyID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	return m.Status == models.MemberActive, nil
}

// AddMember joins a user to a lobby. The capacity check and the insert
// run in one transaction with the lobby row locked, so two
// near-simultaneous joins cannot both slip past a full lobby. A member
// who previously left rejoins through their retained row.
func (l *Ledger) AddMember(ctx context.Context, lobbyID, userID, pickup string) (*models.Membership, error) {
	var out *models.Membership
	err := l.store.Transact(ctx, func(tx storage.Store) error {
		lob, err := tx.GetLobbyForUpdate(ctx, lobbyID)
		if err != nil {
			return err
		}
		if lob.Status != models.LobbyOpen {
			return ErrLobbyNotJoinable
		}
		now := time.Now().UTC()
		prior, err := tx.GetMembership(ctx, lobbyID, userID)
		switch {
		case err == nil && prior.Status == models.MemberActive:
			return ErrAlreadyMember
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return err
		}
		active, err := tx.ActiveMembers(ctx, lobbyID)
		if err != nil {
			return err
		}
		if len(active) >= lob.Capacity {
			return ErrLobbyFull
		}
		if prior != nil {
			if err := tx.ReactivateMembership(ctx, lobbyID, userID, pickup, now); err != nil {
				return err
			}
			out = &models.Membership{LobbyID: lobbyID, UserID: userID, Pickup: pickup, Status: models.MemberActive, JoinedAt: now}
			return nil
		}
		m := &models.Membership{
			LobbyID:  lobbyID,
			UserID:   userID,
			Pickup:   pickup,
			Status:   models.MemberActive,
			JoinedAt: now,
		}
		if err := tx.CreateMembership(ctx, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveMember marks the membership left; the row is retained.
func (l *Ledger) RemoveMember(ctx context.Context, lobbyID, userID string) error {
	return l.store.Transact(ctx, func(tx storage.Store) error {
		if _, err := tx.GetLobbyForUpdate(ctx, lobbyID); err != nil {
			return err
		}
		err := tx.MarkMembershipLeft(ctx, lobbyID, userID, time.Now().UTC())
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAMember
		}
		return err
	})
}

// ActiveMembers returns current members ordered by join time ascending.
func (l *Ledger) ActiveMembers(ctx context.Context, lobbyID string) ([]models.Membership, error) {
	return l.store.ActiveMembers(ctx, lobbyID)
}
