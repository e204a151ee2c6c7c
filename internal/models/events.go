package models

import "time"

// Event kinds fanned out to a lobby's room.
const (
	EventMemberJoined   = "member_joined"
	EventMemberLeft     = "member_left"
	EventChatMessage    = "chat_message"
	EventLocationUpdate = "location_update"
	EventStatusChanged  = "status_changed"
)

// Event is a single room-scoped realtime message. Payload fields are
// populated per kind; unused ones are omitted on the wire.
type Event struct {
	Kind      string    `json:"kind"`
	LobbyID   string    `json:"lobby_id"`
	Timestamp time.Time `json:"ts"`

	Actor     string      `json:"actor,omitempty"`
	Text      string      `json:"text,omitempty"`
	ChatKind  ChatKind    `json:"chat_kind,omitempty"`
	Loc       *Coord      `json:"loc,omitempty"`
	NewStatus LobbyStatus `json:"new_status,omitempty"`
}

// Telemetry reports whether the event is best-effort: it may be dropped
// under backpressure, unlike chat and state-change events.
func (e Event) Telemetry() bool { return e.Kind == EventLocationUpdate }

func NewMemberJoined(lobbyID, userID string) Event {
	return Event{Kind: EventMemberJoined, LobbyID: lobbyID, Actor: userID, Timestamp: time.Now().UTC()}
}

func NewMemberLeft(lobbyID, userID string) Event {
	return Event{Kind: EventMemberLeft, LobbyID: lobbyID, Actor: userID, Timestamp: time.Now().UTC()}
}

func NewChatMessage(c *ChatEvent) Event {
	return Event{
		Kind:      EventChatMessage,
		LobbyID:   c.LobbyID,
		Actor:     c.AuthorID,
		Text:      c.Text,
		ChatKind:  c.Kind,
		Timestamp: c.CreatedAt,
	}
}

func NewLocationUpdate(lobbyID, userID string, loc Coord) Event {
	return Event{Kind: EventLocationUpdate, LobbyID: lobbyID, Actor: userID, Loc: &loc, Timestamp: time.Now().UTC()}
}

func NewStatusChanged(lobbyID string, status LobbyStatus, changedBy string) Event {
	return Event{Kind: EventStatusChanged, LobbyID: lobbyID, NewStatus: status, Actor: changedBy, Timestamp: time.Now().UTC()}
}
