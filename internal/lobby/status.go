package lobby

import "github.com/example/ride-lobby/internal/models"

// transitions lists every reachable target per status. Completed and
// Cancelled are terminal: no outgoing edges, so a finalized lobby can
// never be finalized again.
var transitions = map[models.LobbyStatus][]models.LobbyStatus{
	models.LobbyOpen:    {models.LobbyStarted, models.LobbyCancelled},
	models.LobbyStarted: {models.LobbyCompleted, models.LobbyCancelled},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to models.LobbyStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s models.LobbyStatus) bool {
	return len(transitions[s]) == 0
}

// ParseStatus validates a client-supplied status name.
func ParseStatus(s string) (models.LobbyStatus, error) {
	switch models.LobbyStatus(s) {
	case models.LobbyOpen, models.LobbyStarted, models.LobbyCompleted, models.LobbyCancelled:
		return models.LobbyStatus(s), nil
	}
	return "", ErrInvalidTransition
}
