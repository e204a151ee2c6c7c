package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/storage"
)

func seedLobby(t *testing.T, store storage.Store, id string, capacity int, status models.LobbyStatus) {
	t.Helper()
	now := time.Now().UTC()
	err := store.CreateLobby(context.Background(), &models.Lobby{
		ID:            id,
		CreatorID:     "creator",
		Origin:        "A",
		Destination:   "B",
		DepartureTime: now.Add(time.Hour),
		Capacity:      capacity,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("seed lobby: %v", err)
	}
}

func TestAddMember_CapacityUnderConcurrency(t *testing.T) {
	store := storage.NewMemoryStore()
	const capacity = 3
	seedLobby(t, store, "l1", capacity, models.LobbyOpen)
	ledger := NewLedger(store)

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.AddMember(context.Background(), "l1", fmt.Sprintf("u%d", i), "")
		}(i)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrLobbyFull):
			full++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != capacity {
		t.Fatalf("expected exactly %d successful joins, got %d", capacity, ok)
	}
	if full != attempts-capacity {
		t.Fatalf("expected %d full rejections, got %d", attempts-capacity, full)
	}
	active, err := ledger.ActiveMembers(context.Background(), "l1")
	if err != nil {
		t.Fatalf("active members: %v", err)
	}
	if len(active) != capacity {
		t.Fatalf("ledger holds %d active members, want %d", len(active), capacity)
	}
}

func TestAddMember_DuplicateAndRejoin(t *testing.T) {
	store := storage.NewMemoryStore()
	seedLobby(t, store, "l1", 4, models.LobbyOpen)
	ledger := NewLedger(store)
	ctx := context.Background()

	if _, err := ledger.AddMember(ctx, "l1", "u1", "corner of 5th"); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := ledger.AddMember(ctx, "l1", "u1", ""); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("second join: got %v, want ErrAlreadyMember", err)
	}
	if err := ledger.RemoveMember(ctx, "l1", "u1"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if ok, _ := ledger.IsActiveMember(ctx, "l1", "u1"); ok {
		t.Fatalf("left member should not be active")
	}
	// rejoining reuses the retained row with the new pickup
	m, err := ledger.AddMember(ctx, "l1", "u1", "main station")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if m.Status != models.MemberActive || m.Pickup != "main station" {
		t.Fatalf("rejoined membership = %+v", m)
	}
	got, err := store.GetMembership(ctx, "l1", "u1")
	if err != nil {
		t.Fatalf("get membership: %v", err)
	}
	if got.Status != models.MemberActive || got.LeftAt != nil {
		t.Fatalf("stored membership after rejoin = %+v", got)
	}
}

func TestAddMember_NotJoinable(t *testing.T) {
	store := storage.NewMemoryStore()
	seedLobby(t, store, "started", 4, models.LobbyStarted)
	seedLobby(t, store, "cancelled", 4, models.LobbyCancelled)
	ledger := NewLedger(store)
	ctx := context.Background()

	for _, id := range []string{"started", "cancelled"} {
		if _, err := ledger.AddMember(ctx, id, "u1", ""); !errors.Is(err, ErrLobbyNotJoinable) {
			t.Fatalf("join %s lobby: got %v, want ErrLobbyNotJoinable", id, err)
		}
	}
}

func TestRemoveMember_NotAMember(t *testing.T) {
	store := storage.NewMemoryStore()
	seedLobby(t, store, "l1", 4, models.LobbyOpen)
	ledger := NewLedger(store)

	if err := ledger.RemoveMember(context.Background(), "l1", "ghost"); !errors.Is(err, ErrNotAMember) {
		t.Fatalf("got %v, want ErrNotAMember", err)
	}
}

func TestActiveMembers_JoinOrder(t *testing.T) {
	store := storage.NewMemoryStore()
	seedLobby(t, store, "l1", 5, models.LobbyOpen)
	ledger := NewLedger(store)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := ledger.AddMember(ctx, "l1", u, ""); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
		time.Sleep(time.Millisecond)
	}
	active, err := ledger.ActiveMembers(ctx, "l1")
	if err != nil {
		t.Fatalf("active members: %v", err)
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if active[i].UserID != want {
			t.Fatalf("position %d = %s, want %s", i, active[i].UserID, want)
		}
	}
}
