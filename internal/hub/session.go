package hub

import (
	"sync"

	"github.com/example/ride-lobby/internal/models"
	"github.com/example/ride-lobby/internal/observability"
)

// Conn is the transport half of a session. The websocket layer adapts
// *websocket.Conn to it; tests plug in fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session is one live connection: its authenticated user, once
// Authenticate succeeds, and a bounded FIFO of outbound events. A
// single writer goroutine drains the queue, so delivery to one
// connection is always in publish order.
type Session struct {
	id   string
	conn Conn

	mu       sync.Mutex
	userID   string
	queue    []models.Event
	notEmpty *sync.Cond
	closed   bool
	max      int
}

func newSession(id string, conn Conn, queueSize int) *Session {
	s := &Session{id: id, conn: conn, max: queueSize}
	s.notEmpty = sync.NewCond(&s.mu)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) setUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

// enqueue appends ev to the outbound queue. When the queue is full,
// telemetry makes room by evicting the oldest queued telemetry event
// (or is itself dropped when none is queued); anything else closes the
// session — a consumer that far behind is treated as gone.
// The returned flag reports whether the session is still usable.
func (s *Session) enqueue(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.queue) >= s.max {
		if !ev.Telemetry() {
			s.closed = true
			s.notEmpty.Signal()
			return false
		}
		if !s.evictOldestTelemetry() {
			observability.EventsDropped.Inc()
			return true
		}
		observability.EventsDropped.Inc()
	}
	s.queue = append(s.queue, ev)
	s.notEmpty.Signal()
	return true
}

// evictOldestTelemetry removes the first telemetry event in the queue.
// Chat and state-change events are never evicted.
func (s *Session) evictOldestTelemetry() bool {
	for i, queued := range s.queue {
		if queued.Telemetry() {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return true
		}
	}
	return false
}

// next blocks until an event is available or the session closes.
func (s *Session) next() (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.notEmpty.Wait()
	}
	if len(s.queue) == 0 {
		return models.Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

func (s *Session) close() {
	s.mu.Lock()
	already := s.closed
	s.closed = true
	s.notEmpty.Signal()
	s.mu.Unlock()
	if !already {
		_ = s.conn.Close()
	}
}
