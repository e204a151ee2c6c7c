package lobby

import "errors"

// Sentinel errors for the lobby core. Handlers map these onto HTTP
// status codes; the websocket layer echoes them back as error frames.
var (
	ErrNotAuthorized     = errors.New("not authorized")
	ErrAlreadyMember     = errors.New("already a member")
	ErrLobbyFull         = errors.New("lobby is full")
	ErrLobbyNotJoinable  = errors.New("lobby is not joinable")
	ErrNotAMember        = errors.New("not an active member")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidState      = errors.New("lobby is not in a valid state for this operation")
	ErrNoActiveMembers   = errors.New("lobby has no active members")
)
