package httpapi

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-lobby/internal/hub"
	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/models"
)

var upgrader = websocket.Upgrader{}

// wsConn adapts *websocket.Conn to the hub's Conn interface. The mutex
// serializes writes between the hub's writer goroutine and command
// replies from the read loop; gorilla connections allow one concurrent
// writer only.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error { return c.conn.Close() }

// wsCommand is one inbound frame. Action selects the operation;
// the remaining fields are per-action payload.
type wsCommand struct {
	Action  string        `json:"action"` // authenticate, join_room, leave_room, chat, location, status
	Token   string        `json:"token,omitempty"`
	LobbyID string        `json:"lobby_id,omitempty"`
	Text    string        `json:"text,omitempty"`
	Kind    string        `json:"kind,omitempty"`
	Loc     *models.Coord `json:"loc,omitempty"`
	Target  string        `json:"target,omitempty"`
}

type wsReply struct {
	Kind   string `json:"kind"` // ack or error
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	conn := &wsConn{conn: raw}
	session := s.hub.Connect(conn)
	defer s.hub.Disconnect(session)

	for {
		var cmd wsCommand
		if err := raw.ReadJSON(&cmd); err != nil {
			return
		}
		s.dispatchWS(r, conn, session, cmd)
	}
}

var errUnknownAction = errors.New("unknown action")

func (s *Server) dispatchWS(r *http.Request, conn *wsConn, session *hub.Session, cmd wsCommand) {
	ctx := r.Context()
	switch cmd.Action {
	case "authenticate":
		userID, err := s.hub.Authenticate(session, cmd.Token)
		if err != nil {
			writeWSError(conn, cmd.Action, err)
			return
		}
		_ = conn.WriteJSON(wsReply{Kind: "ack", Action: cmd.Action, UserID: userID})
	case "join_room":
		if err := s.hub.JoinRoom(ctx, session, cmd.LobbyID); err != nil {
			writeWSError(conn, cmd.Action, err)
			return
		}
		_ = conn.WriteJSON(wsReply{Kind: "ack", Action: cmd.Action})
	case "leave_room":
		s.hub.LeaveRoom(session, cmd.LobbyID)
		_ = conn.WriteJSON(wsReply{Kind: "ack", Action: cmd.Action})
	case "chat":
		if _, err := s.hub.SendChat(ctx, session, cmd.LobbyID, cmd.Text, models.ChatKind(cmd.Kind)); err != nil {
			writeWSError(conn, cmd.Action, err)
			return
		}
	case "location":
		if cmd.Loc != nil {
			s.hub.UpdateLocation(ctx, session, cmd.LobbyID, *cmd.Loc)
		}
	case "status":
		if session.UserID() == "" {
			writeWSError(conn, cmd.Action, hub.ErrUnauthenticated)
			return
		}
		target, err := lobby.ParseStatus(cmd.Target)
		if err != nil {
			writeWSError(conn, cmd.Action, err)
			return
		}
		if _, err := s.svc.ChangeStatus(ctx, cmd.LobbyID, session.UserID(), target); err != nil {
			writeWSError(conn, cmd.Action, err)
			return
		}
	default:
		writeWSError(conn, cmd.Action, errUnknownAction)
	}
}

func writeWSError(conn *wsConn, action string, err error) {
	_ = conn.WriteJSON(wsReply{Kind: "error", Action: action, Error: err.Error()})
}
