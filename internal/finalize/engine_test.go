package finalize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/storage"
)

type nopPublisher struct{ events []models.Event }

func (p *nopPublisher) Publish(lobbyID string, ev models.Event) { p.events = append(p.events, ev) }

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// seedStartedLobby builds a Started lobby with the given active members,
// the first of whom is the creator.
func seedStartedLobby(t *testing.T, store storage.Store, lobbyID string, members ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, u := range members {
		err := store.CreateUser(ctx, &models.User{ID: u, Name: u, Rating: 5, Active: true, CreatedAt: now})
		if err != nil {
			t.Fatalf("seed user %s: %v", u, err)
		}
	}
	err := store.CreateLobby(ctx, &models.Lobby{
		ID:            lobbyID,
		CreatorID:     members[0],
		Origin:        "Downtown",
		Destination:   "Airport",
		DepartureTime: now.Add(time.Hour),
		Capacity:      len(members) + 1,
		Status:        models.LobbyStarted,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		t.Fatalf("seed lobby: %v", err)
	}
	for i, u := range members {
		err := store.CreateMembership(ctx, &models.Membership{
			LobbyID:  lobbyID,
			UserID:   u,
			Pickup:   "stop",
			Status:   models.MemberActive,
			JoinedAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed membership %s: %v", u, err)
		}
	}
}

func TestFinalize_RemainderFallsToFirstMemberWhenCreatorLeft(t *testing.T) {
	store := storage.NewMemoryStore()
	seedStartedLobby(t, store, "l1", "driver", "u2", "u3")
	// the creator's row can already be left when Finalize runs; the
	// remainder cent must land on someone so the split stays exact
	if err := store.MarkMembershipLeft(context.Background(), "l1", "driver", time.Now().UTC()); err != nil {
		t.Fatalf("mark left: %v", err)
	}
	engine := NewEngine(store, &nopPublisher{}, testLogger())
	ctx := context.Background()

	ride, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 9999, DistanceMeters: 8000, DurationMinutes: 20})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	parts, err := store.ListRideParticipants(ctx, ride.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("got %d participants", len(parts))
	}
	var sum int64
	for _, p := range parts {
		sum += p.AmountPaidCents
	}
	if sum != 9999 {
		t.Fatalf("amounts sum to %d, want 9999", sum)
	}
	if parts[0].AmountPaidCents != 5000 || parts[1].AmountPaidCents != 4999 {
		t.Fatalf("split = %d/%d, want 5000/4999", parts[0].AmountPaidCents, parts[1].AmountPaidCents)
	}
}

func TestFinalize_SplitsFareExactly(t *testing.T) {
	store := storage.NewMemoryStore()
	seedStartedLobby(t, store, "l1", "driver", "u2", "u3")
	engine := NewEngine(store, &nopPublisher{}, testLogger())
	ctx := context.Background()

	// 100.00 / 3 leaves a 1 cent remainder for the driver
	ride, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 10000, DistanceMeters: 12500, DurationMinutes: 25})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	parts, err := store.ListRideParticipants(ctx, ride.ID)
	if err != nil {
		t.Fatalf("participants: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d participants", len(parts))
	}
	var sum int64
	for _, p := range parts {
		sum += p.AmountPaidCents
		want := int64(3333)
		if p.UserID == "driver" {
			want = 3334
		}
		if p.AmountPaidCents != want {
			t.Fatalf("%s paid %d, want %d", p.UserID, p.AmountPaidCents, want)
		}
	}
	if sum != 10000 {
		t.Fatalf("participant amounts sum to %d, want 10000", sum)
	}

	l, _ := store.GetLobby(ctx, "l1")
	if l.Status != models.LobbyCompleted {
		t.Fatalf("lobby status = %s, want completed", l.Status)
	}
	for _, u := range []string{"driver", "u2", "u3"} {
		usr, _ := store.GetUser(ctx, u)
		if usr.CompletedRides != 1 {
			t.Fatalf("%s completed rides = %d, want 1", u, usr.CompletedRides)
		}
	}
}

func TestFinalize_SecondCallFails(t *testing.T) {
	store := storage.NewMemoryStore()
	seedStartedLobby(t, store, "l1", "driver", "u2")
	engine := NewEngine(store, &nopPublisher{}, testLogger())
	ctx := context.Background()

	if _, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 5000}); err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	if _, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 5000}); !errors.Is(err, lobby.ErrInvalidState) {
		t.Fatalf("second finalize: got %v, want ErrInvalidState", err)
	}
	if r, err := store.GetRideByLobby(ctx, "l1"); err != nil || r == nil {
		t.Fatalf("exactly one ride expected: %v", err)
	}
}

func TestFinalize_Guards(t *testing.T) {
	store := storage.NewMemoryStore()
	seedStartedLobby(t, store, "l1", "driver", "u2")
	engine := NewEngine(store, &nopPublisher{}, testLogger())
	ctx := context.Background()

	if _, err := engine.Finalize(ctx, "l1", "u2", Input{TotalFareCents: 5000}); !errors.Is(err, lobby.ErrNotAuthorized) {
		t.Fatalf("non-creator: got %v, want ErrNotAuthorized", err)
	}
	if _, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: -1}); err == nil {
		t.Fatalf("negative fare accepted")
	}
	if _, err := engine.Finalize(ctx, "missing", "driver", Input{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing lobby: got %v", err)
	}
}

func TestFinalize_RequiresStartedLobby(t *testing.T) {
	store := storage.NewMemoryStore()
	seedStartedLobby(t, store, "l1", "driver", "u2")
	ctx := context.Background()
	if err := store.SetLobbyStatus(ctx, "l1", models.LobbyOpen, time.Now().UTC()); err != nil {
		t.Fatalf("reset status: %v", err)
	}
	engine := NewEngine(store, &nopPublisher{}, testLogger())

	if _, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 5000}); !errors.Is(err, lobby.ErrInvalidState) {
		t.Fatalf("open lobby: got %v, want ErrInvalidState", err)
	}
}

// failingStore makes IncrementUserRides fail so a mid-transaction error
// can be observed from outside.
type failingStore struct {
	storage.Store
	err error
}

func (f *failingStore) Transact(ctx context.Context, fn func(tx storage.Store) error) error {
	return f.Store.Transact(ctx, func(tx storage.Store) error {
		return fn(&failingStore{Store: tx, err: f.err})
	})
}

func (f *failingStore) IncrementUserRides(ctx context.Context, id string) error { return f.err }

func TestFinalize_RollsBackOnFailure(t *testing.T) {
	base := storage.NewMemoryStore()
	seedStartedLobby(t, base, "l1", "driver", "u2")
	boom := errors.New("boom")
	engine := NewEngine(&failingStore{Store: base, err: boom}, &nopPublisher{}, testLogger())
	ctx := context.Background()

	if _, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 5000}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	// nothing committed: no ride, lobby still started, counters untouched
	if _, err := base.GetRideByLobby(ctx, "l1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("ride should not exist, got %v", err)
	}
	l, _ := base.GetLobby(ctx, "l1")
	if l.Status != models.LobbyStarted {
		t.Fatalf("lobby status = %s, want started", l.Status)
	}
	u, _ := base.GetUser(ctx, "driver")
	if u.CompletedRides != 0 {
		t.Fatalf("completed rides = %d, want 0", u.CompletedRides)
	}
}

func TestFinalize_NoActiveMembers(t *testing.T) {
	store := storage.NewMemoryStore()
	seedStartedLobby(t, store, "l1", "driver")
	ctx := context.Background()
	if err := store.MarkMembershipLeft(ctx, "l1", "driver", time.Now().UTC()); err != nil {
		t.Fatalf("mark left: %v", err)
	}
	engine := NewEngine(store, &nopPublisher{}, testLogger())

	if _, err := engine.Finalize(ctx, "l1", "driver", Input{TotalFareCents: 5000}); !errors.Is(err, lobby.ErrNoActiveMembers) {
		t.Fatalf("got %v, want ErrNoActiveMembers", err)
	}
}

func TestSplitFare(t *testing.T) {
	cases := []struct {
		total    int64
		n        int
		per, rem int64
	}{
		{10000, 3, 3333, 1},
		{9000, 2, 4500, 0},
		{1, 2, 0, 1},
		{0, 4, 0, 0},
	}
	for _, c := range cases {
		got := splitFare(c.total, c.n)
		if got.perHead != c.per || got.remainder != c.rem {
			t.Fatalf("splitFare(%d,%d) = %+v", c.total, c.n, got)
		}
		if got.perHead*int64(c.n)+got.remainder != c.total {
			t.Fatalf("splitFare(%d,%d) does not sum back", c.total, c.n)
		}
	}
}
