package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-lobby/internal/config"
	"github.com/example/ride-lobby/internal/finalize"
	"github.com/example/ride-lobby/internal/hub"
	"github.com/example/ride-lobby/internal/identity"
	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/rating"
	"github.com/example/ride-lobby/internal/storage"
)

type testEnv struct {
	srv      *httptest.Server
	store    *storage.MemoryStore
	verifier *identity.JWTVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryStore()
	verifier := identity.NewJWTVerifier("test-secret")
	h := hub.New(lobby.NewLedger(store), store, verifier, nil, logger, 16)
	svc := lobby.NewService(store, h, logger)

	cfg := config.ServerConfig{HubQueueSize: 16, ChatHistoryLimit: 200}
	s := NewServer(cfg, logger, Deps{
		Store:    store,
		Service:  svc,
		Engine:   finalize.NewEngine(store, h, logger),
		Ratings:  rating.NewAggregator(store, logger),
		Hub:      h,
		Verifier: verifier,
	})
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	t.Cleanup(h.Shutdown)
	return &testEnv{srv: srv, store: store, verifier: verifier}
}

func (e *testEnv) seedUser(t *testing.T, id string) string {
	t.Helper()
	err := e.store.CreateUser(context.Background(), &models.User{ID: id, Name: id, Rating: 5, Active: true, CreatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	tok, err := e.verifier.IssueToken(id, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestAPI_RequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/v1/lobbies", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestAPI_Healthz(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

// TestAPI_FullRideFlow walks a lobby from creation through finalization
// and rating over the public API.
func TestAPI_FullRideFlow(t *testing.T) {
	e := newTestEnv(t)
	driverTok := e.seedUser(t, "driver")
	riderTok := e.seedUser(t, "rider")
	lateTok := e.seedUser(t, "latecomer")

	// driver opens a two-seat lobby
	resp := e.do(t, http.MethodPost, "/api/v1/lobbies", driverTok, map[string]any{
		"origin":       "Downtown",
		"destination":  "Airport",
		"origin_coord": models.Coord{Lat: 48.14, Lon: 11.56},
		"dest_coord":   models.Coord{Lat: 48.35, Lon: 11.78},
		"capacity":     2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lobby: status %d", resp.StatusCode)
	}
	l := decodeBody[models.Lobby](t, resp)

	// rider takes the last seat; the latecomer bounces off a full lobby
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/join", riderTok, map[string]any{"pickup": "pier 7"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("join: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/join", lateTok, map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("join full lobby: status %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// only the creator may start the ride
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/status", riderTok, map[string]string{"target": "started"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("rider start: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/status", driverTok, map[string]string{"target": "started"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// a started lobby no longer accepts members
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/join", lateTok, map[string]any{})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("join started lobby: status %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	// 90.00 split between two members is 45.00 each
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/finalize", driverTok, map[string]any{"total_fare_cents": 9000})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("finalize: status %d", resp.StatusCode)
	}
	ride := decodeBody[models.Ride](t, resp)
	if ride.TotalFareCents != 9000 {
		t.Fatalf("ride fare = %d", ride.TotalFareCents)
	}

	resp = e.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, riderTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get ride: status %d", resp.StatusCode)
	}
	detail := decodeBody[struct {
		Participants []models.RideParticipant `json:"participants"`
	}](t, resp)
	if len(detail.Participants) != 2 {
		t.Fatalf("%d participants", len(detail.Participants))
	}
	for _, p := range detail.Participants {
		if p.AmountPaidCents != 4500 {
			t.Fatalf("%s paid %d, want 4500", p.UserID, p.AmountPaidCents)
		}
	}

	// outsiders cannot view the ride
	resp = e.do(t, http.MethodGet, "/api/v1/rides/"+ride.ID, lateTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider get ride: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// rider rates the driver once; the second attempt conflicts
	resp = e.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/ratings", riderTok, map[string]any{"ratee_id": "driver", "score": 5})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("rate: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = e.do(t, http.MethodPost, "/api/v1/rides/"+ride.ID+"/ratings", riderTok, map[string]any{"ratee_id": "driver", "score": 1})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second rate: status %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	u, err := e.store.GetUser(context.Background(), "driver")
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if u.Rating != 5.0 || u.CompletedRides != 1 {
		t.Fatalf("driver after flow = %+v", u)
	}
}

func TestAPI_CreatorLeaveCancels(t *testing.T) {
	e := newTestEnv(t)
	driverTok := e.seedUser(t, "driver")
	riderTok := e.seedUser(t, "rider")

	resp := e.do(t, http.MethodPost, "/api/v1/lobbies", driverTok, map[string]any{
		"origin": "A", "destination": "B", "capacity": 3,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	l := decodeBody[models.Lobby](t, resp)

	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/join", riderTok, map[string]any{})
	resp.Body.Close()
	resp = e.do(t, http.MethodPost, "/api/v1/lobbies/"+l.ID+"/leave", driverTok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("leave: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = e.do(t, http.MethodGet, "/api/v1/lobbies/"+l.ID, riderTok, nil)
	got := decodeBody[struct {
		Lobby models.Lobby `json:"lobby"`
	}](t, resp)
	if got.Lobby.Status != models.LobbyCancelled {
		t.Fatalf("lobby status = %s, want cancelled", got.Lobby.Status)
	}
}

func TestStatusForErr(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{identity.ErrUnauthenticated, http.StatusUnauthorized},
		{lobby.ErrNotAuthorized, http.StatusForbidden},
		{storage.ErrNotFound, http.StatusNotFound},
		{lobby.ErrLobbyFull, http.StatusConflict},
		{lobby.ErrInvalidState, http.StatusConflict},
		{rating.ErrAlreadyRated, http.StatusConflict},
		{rating.ErrInvalidScore, http.StatusUnprocessableEntity},
		{rating.ErrSelfRating, http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusForErr(c.err); got != c.want {
			t.Fatalf("statusForErr(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
