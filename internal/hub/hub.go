// Package hub is the presence and broadcast fabric: it tracks live
// connections, their room subscriptions and fans room events out to
// exactly the sessions subscribed to that room. Room subscription is a
// transport-level concern; domain membership lives in the ledger and is
// only consulted here for authorization.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/observability"
)

var (
	// ErrUnauthenticated rejects any command issued before a successful
	// Authenticate on the same connection.
	ErrUnauthenticated = errors.New("connection is not authenticated")
	// ErrNotAuthorized rejects room commands from non-members.
	ErrNotAuthorized = errors.New("not an active member of this lobby")
	// ErrInvalidMessage rejects chat payloads outside 1..1000 characters
	// or with an unknown kind.
	ErrInvalidMessage = errors.New("invalid chat message")
)

// MembershipChecker is the slice of the ledger the hub needs.
type MembershipChecker interface {
	IsActiveMember(ctx context.Context, lobbyID, userID string) (bool, error)
}

// ChatStore persists chat events before they are fanned out.
type ChatStore interface {
	AppendChatEvent(ctx context.Context, c *models.ChatEvent) error
}

// TokenVerifier resolves a credential token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// LocationSink receives location telemetry for the kafka pipeline.
// Delivery is best-effort; failures are logged and swallowed.
type LocationSink interface {
	PublishLocation(loc models.MemberLocation) error
}

type Hub struct {
	ledger    MembershipChecker
	chats     ChatStore
	verifier  TokenVerifier
	sink      LocationSink // nil when telemetry export is not configured
	logger    *slog.Logger
	queueSize int

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]map[string]*Session // lobby id -> session id
}

func New(ledger MembershipChecker, chats ChatStore, verifier TokenVerifier, sink LocationSink, logger *slog.Logger, queueSize int) *Hub {
	return &Hub{
		ledger:    ledger,
		chats:     chats,
		verifier:  verifier,
		sink:      sink,
		logger:    logger,
		queueSize: queueSize,
		sessions:  make(map[string]*Session),
		rooms:     make(map[string]map[string]*Session),
	}
}

// Connect registers a connection and starts its writer. The session is
// unauthenticated until Authenticate succeeds.
func (h *Hub) Connect(conn Conn) *Session {
	s := newSession(uuid.NewString(), conn, h.queueSize)
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	observability.Connections.Inc()
	go h.writePump(s)
	return s
}

func (h *Hub) writePump(s *Session) {
	for {
		ev, ok := s.next()
		if !ok {
			h.Disconnect(s)
			return
		}
		if err := s.conn.WriteJSON(ev); err != nil {
			h.logger.Warn("session write failed", "session_id", s.id, "error", err)
			h.Disconnect(s)
			return
		}
	}
}

// Authenticate verifies the token and binds the user to the session.
// It must succeed before any room command is accepted.
func (h *Hub) Authenticate(s *Session, token string) (string, error) {
	userID, err := h.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	s.setUserID(userID)
	h.logger.Debug("session authenticated", "session_id", s.id, "user_id", userID)
	return userID, nil
}

// JoinRoom subscribes the session to a lobby's room. It requires active
// domain membership but does not touch the ledger itself.
func (h *Hub) JoinRoom(ctx context.Context, s *Session, lobbyID string) error {
	userID := s.UserID()
	if userID == "" {
		return ErrUnauthenticated
	}
	ok, err := h.ledger.IsActiveMember(ctx, lobbyID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAuthorized
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[lobbyID]
	if room == nil {
		room = make(map[string]*Session)
		h.rooms[lobbyID] = room
	}
	room[s.id] = s
	return nil
}

// LeaveRoom unsubscribes the session. Idempotent; never fails.
func (h *Hub) LeaveRoom(s *Session, lobbyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropFromRoom(s, lobbyID)
}

// dropFromRoom requires h.mu held.
func (h *Hub) dropFromRoom(s *Session, lobbyID string) {
	room := h.rooms[lobbyID]
	if room == nil {
		return
	}
	delete(room, s.id)
	if len(room) == 0 {
		delete(h.rooms, lobbyID)
	}
}

// Publish fans ev out to every session subscribed to the room. Each
// subscriber receives the event at most once and in publish order
// relative to its other events; ordering across subscribers is not
// promised.
func (h *Hub) Publish(lobbyID string, ev models.Event) {
	h.mu.RLock()
	subs := make([]*Session, 0, len(h.rooms[lobbyID]))
	for _, s := range h.rooms[lobbyID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	for _, s := range subs {
		if !s.enqueue(ev) {
			// overflow closed the session; the writer will clean up
			s.close()
		}
	}
	observability.EventsPublished.WithLabelValues(ev.Kind).Inc()
}

// SendChat validates, persists and then broadcasts a chat message.
// Only currently active members may post; members who left cannot.
func (h *Hub) SendChat(ctx context.Context, s *Session, lobbyID, text string, kind models.ChatKind) (*models.ChatEvent, error) {
	userID := s.UserID()
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if n := utf8.RuneCountInString(text); n < 1 || n > 1000 {
		return nil, ErrInvalidMessage
	}
	switch kind {
	case "":
		kind = models.ChatText
	case models.ChatText, models.ChatImage, models.ChatLocation:
	default:
		return nil, ErrInvalidMessage
	}
	ok, err := h.ledger.IsActiveMember(ctx, lobbyID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAuthorized
	}
	c := &models.ChatEvent{
		ID:        uuid.NewString(),
		LobbyID:   lobbyID,
		AuthorID:  userID,
		Text:      text,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.chats.AppendChatEvent(ctx, c); err != nil {
		return nil, err
	}
	h.Publish(lobbyID, models.NewChatMessage(c))
	return c, nil
}

// UpdateLocation broadcasts a member's position. Telemetry policy: an
// unauthorized or unauthenticated sender is silently ignored rather
// than surfaced as an error.
func (h *Hub) UpdateLocation(ctx context.Context, s *Session, lobbyID string, loc models.Coord) {
	userID := s.UserID()
	if userID == "" {
		return
	}
	ok, err := h.ledger.IsActiveMember(ctx, lobbyID, userID)
	if err != nil || !ok {
		return
	}
	h.Publish(lobbyID, models.NewLocationUpdate(lobbyID, userID, loc))
	if h.sink != nil {
		m := models.MemberLocation{LobbyID: lobbyID, UserID: userID, Loc: loc, Updated: time.Now().UTC()}
		if err := h.sink.PublishLocation(m); err != nil {
			h.logger.Warn("location telemetry publish failed", "lobby_id", lobbyID, "error", err)
		}
	}
}

// Disconnect purges the session from every room and closes it. Domain
// membership is untouched. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	_, registered := h.sessions[s.id]
	delete(h.sessions, s.id)
	for lobbyID := range h.rooms {
		h.dropFromRoom(s, lobbyID)
	}
	h.mu.Unlock()
	s.close()
	if registered {
		observability.Connections.Dec()
	}
}

// Shutdown disconnects every session; used on server drain.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		h.Disconnect(s)
	}
}

// SessionCount reports live connections; used by health checks.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
