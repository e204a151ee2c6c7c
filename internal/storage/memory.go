package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-lobby/internal/models"
)

// MemoryStore keeps everything in process memory. It backs tests and
// DSN-less local runs. Transact clones the full state, applies fn to
// the clone, and swaps it in only on success, so rollback is a no-op.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	users        map[string]*models.User
	lobbies      map[string]*models.Lobby
	memberships  map[string][]*models.Membership // keyed by lobby, insertion order
	chat         map[string][]*models.ChatEvent  // keyed by lobby, append order
	rides        map[string]*models.Ride
	rideByLobby  map[string]string
	participants map[string][]*models.RideParticipant // keyed by ride
}

func newMemState() *memState {
	return &memState{
		users:        make(map[string]*models.User),
		lobbies:      make(map[string]*models.Lobby),
		memberships:  make(map[string][]*models.Membership),
		chat:         make(map[string][]*models.ChatEvent),
		rides:        make(map[string]*models.Ride),
		rideByLobby:  make(map[string]string),
		participants: make(map[string][]*models.RideParticipant),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	for k, v := range s.lobbies {
		l := *v
		c.lobbies[k] = &l
	}
	for k, list := range s.memberships {
		out := make([]*models.Membership, len(list))
		for i, m := range list {
			mm := *m
			out[i] = &mm
		}
		c.memberships[k] = out
	}
	for k, list := range s.chat {
		out := make([]*models.ChatEvent, len(list))
		for i, ev := range list {
			e := *ev
			out[i] = &e
		}
		c.chat[k] = out
	}
	for k, v := range s.rides {
		r := *v
		c.rides[k] = &r
	}
	for k, v := range s.rideByLobby {
		c.rideByLobby[k] = v
	}
	for k, list := range s.participants {
		out := make([]*models.RideParticipant, len(list))
		for i, p := range list {
			pp := *p
			out[i] = &pp
		}
		c.participants[k] = out
	}
	return c
}

func (s *MemoryStore) Transact(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createUser(u)
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getUser(id)
}

func (s *MemoryStore) UpdateUserRating(ctx context.Context, id string, rating float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.updateUserRating(id, rating)
}

func (s *MemoryStore) IncrementUserRides(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.incrementUserRides(id)
}

func (s *MemoryStore) CreateLobby(ctx context.Context, l *models.Lobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createLobby(l)
}

func (s *MemoryStore) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getLobby(id)
}

func (s *MemoryStore) GetLobbyForUpdate(ctx context.Context, id string) (*models.Lobby, error) {
	// The store mutex already serializes all access.
	return s.GetLobby(ctx, id)
}

func (s *MemoryStore) ListLobbiesByStatus(ctx context.Context, status models.LobbyStatus) ([]models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listLobbiesByStatus(status)
}

func (s *MemoryStore) SetLobbyStatus(ctx context.Context, id string, status models.LobbyStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.setLobbyStatus(id, status, at)
}

func (s *MemoryStore) CreateMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createMembership(m)
}

func (s *MemoryStore) GetMembership(ctx context.Context, lobbyID, userID string) (*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getMembership(lobbyID, userID)
}

func (s *MemoryStore) ReactivateMembership(ctx context.Context, lobbyID, userID, pickup string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.reactivateMembership(lobbyID, userID, pickup, at)
}

func (s *MemoryStore) MarkMembershipLeft(ctx context.Context, lobbyID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.markMembershipLeft(lobbyID, userID, at)
}

func (s *MemoryStore) ActiveMembers(ctx context.Context, lobbyID string) ([]models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.activeMembers(lobbyID)
}

func (s *MemoryStore) AppendChatEvent(ctx context.Context, c *models.ChatEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.appendChatEvent(c)
}

func (s *MemoryStore) ListChatEvents(ctx context.Context, lobbyID string, limit int) ([]models.ChatEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listChatEvents(lobbyID, limit)
}

func (s *MemoryStore) DeleteChatEvent(ctx context.Context, id, authorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.deleteChatEvent(id, authorID)
}

func (s *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createRide(r)
}

func (s *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getRide(id)
}

func (s *MemoryStore) GetRideByLobby(ctx context.Context, lobbyID string) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getRideByLobby(lobbyID)
}

func (s *MemoryStore) CreateRideParticipants(ctx context.Context, ps []models.RideParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.createRideParticipants(ps)
}

func (s *MemoryStore) ListRideParticipants(ctx context.Context, rideID string) ([]models.RideParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.listRideParticipants(rideID)
}

func (s *MemoryStore) GetRideParticipant(ctx context.Context, rideID, userID string) (*models.RideParticipant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.getRideParticipant(rideID, userID)
}

func (s *MemoryStore) SetParticipantRating(ctx context.Context, rideID, userID string, score int, review *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.setParticipantRating(rideID, userID, score, review)
}

func (s *MemoryStore) RatingsForUser(ctx context.Context, userID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ratingsForUser(userID)
}

// memTx is the view handed to Transact callbacks. The enclosing
// MemoryStore mutex is held for its whole lifetime, so it does no
// locking of its own.
type memTx struct {
	state *memState
}

func (t *memTx) Transact(ctx context.Context, fn func(tx Store) error) error { return fn(t) }

func (t *memTx) CreateUser(ctx context.Context, u *models.User) error { return t.state.createUser(u) }

func (t *memTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return t.state.getUser(id)
}

func (t *memTx) UpdateUserRating(ctx context.Context, id string, rating float64) error {
	return t.state.updateUserRating(id, rating)
}

func (t *memTx) IncrementUserRides(ctx context.Context, id string) error {
	return t.state.incrementUserRides(id)
}

func (t *memTx) CreateLobby(ctx context.Context, l *models.Lobby) error {
	return t.state.createLobby(l)
}

func (t *memTx) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	return t.state.getLobby(id)
}

func (t *memTx) GetLobbyForUpdate(ctx context.Context, id string) (*models.Lobby, error) {
	return t.state.getLobby(id)
}

func (t *memTx) ListLobbiesByStatus(ctx context.Context, status models.LobbyStatus) ([]models.Lobby, error) {
	return t.state.listLobbiesByStatus(status)
}

func (t *memTx) SetLobbyStatus(ctx context.Context, id string, status models.LobbyStatus, at time.Time) error {
	return t.state.setLobbyStatus(id, status, at)
}

func (t *memTx) CreateMembership(ctx context.Context, m *models.Membership) error {
	return t.state.createMembership(m)
}

func (t *memTx) GetMembership(ctx context.Context, lobbyID, userID string) (*models.Membership, error) {
	return t.state.getMembership(lobbyID, userID)
}

func (t *memTx) ReactivateMembership(ctx context.Context, lobbyID, userID, pickup string, at time.Time) error {
	return t.state.reactivateMembership(lobbyID, userID, pickup, at)
}

func (t *memTx) MarkMembershipLeft(ctx context.Context, lobbyID, userID string, at time.Time) error {
	return t.state.markMembershipLeft(lobbyID, userID, at)
}

func (t *memTx) ActiveMembers(ctx context.Context, lobbyID string) ([]models.Membership, error) {
	return t.state.activeMembers(lobbyID)
}

func (t *memTx) AppendChatEvent(ctx context.Context, c *models.ChatEvent) error {
	return t.state.appendChatEvent(c)
}

func (t *memTx) ListChatEvents(ctx context.Context, lobbyID string, limit int) ([]models.ChatEvent, error) {
	return t.state.listChatEvents(lobbyID, limit)
}

func (t *memTx) DeleteChatEvent(ctx context.Context, id, authorID string) error {
	return t.state.deleteChatEvent(id, authorID)
}

func (t *memTx) CreateRide(ctx context.Context, r *models.Ride) error { return t.state.createRide(r) }

func (t *memTx) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return t.state.getRide(id)
}

func (t *memTx) GetRideByLobby(ctx context.Context, lobbyID string) (*models.Ride, error) {
	return t.state.getRideByLobby(lobbyID)
}

func (t *memTx) CreateRideParticipants(ctx context.Context, ps []models.RideParticipant) error {
	return t.state.createRideParticipants(ps)
}

func (t *memTx) ListRideParticipants(ctx context.Context, rideID string) ([]models.RideParticipant, error) {
	return t.state.listRideParticipants(rideID)
}

func (t *memTx) GetRideParticipant(ctx context.Context, rideID, userID string) (*models.RideParticipant, error) {
	return t.state.getRideParticipant(rideID, userID)
}

func (t *memTx) SetParticipantRating(ctx context.Context, rideID, userID string, score int, review *string) error {
	return t.state.setParticipantRating(rideID, userID, score, review)
}

func (t *memTx) RatingsForUser(ctx context.Context, userID string) ([]int, error) {
	return t.state.ratingsForUser(userID)
}

func (s *memState) createUser(u *models.User) error {
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memState) getUser(id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memState) updateUserRating(id string, rating float64) error {
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Rating = rating
	return nil
}

func (s *memState) incrementUserRides(id string) error {
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.CompletedRides++
	return nil
}

func (s *memState) createLobby(l *models.Lobby) error {
	cp := *l
	s.lobbies[l.ID] = &cp
	return nil
}

func (s *memState) getLobby(id string) (*models.Lobby, error) {
	l, ok := s.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memState) listLobbiesByStatus(status models.LobbyStatus) ([]models.Lobby, error) {
	out := make([]models.Lobby, 0)
	for _, l := range s.lobbies {
		if l.Status == status {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memState) setLobbyStatus(id string, status models.LobbyStatus, at time.Time) error {
	l, ok := s.lobbies[id]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.UpdatedAt = at
	return nil
}

func (s *memState) createMembership(m *models.Membership) error {
	cp := *m
	s.memberships[m.LobbyID] = append(s.memberships[m.LobbyID], &cp)
	return nil
}

func (s *memState) getMembership(lobbyID, userID string) (*models.Membership, error) {
	for _, m := range s.memberships[lobbyID] {
		if m.UserID == userID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memState) reactivateMembership(lobbyID, userID, pickup string, at time.Time) error {
	for _, m := range s.memberships[lobbyID] {
		if m.UserID == userID {
			m.Status = models.MemberActive
			m.Pickup = pickup
			m.JoinedAt = at
			m.LeftAt = nil
			return nil
		}
	}
	return ErrNotFound
}

func (s *memState) markMembershipLeft(lobbyID, userID string, at time.Time) error {
	for _, m := range s.memberships[lobbyID] {
		if m.UserID == userID && m.Status == models.MemberActive {
			m.Status = models.MemberLeft
			left := at
			m.LeftAt = &left
			return nil
		}
	}
	return ErrNotFound
}

func (s *memState) activeMembers(lobbyID string) ([]models.Membership, error) {
	out := make([]models.Membership, 0)
	for _, m := range s.memberships[lobbyID] {
		if m.Status == models.MemberActive {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *memState) appendChatEvent(c *models.ChatEvent) error {
	cp := *c
	s.chat[c.LobbyID] = append(s.chat[c.LobbyID], &cp)
	return nil
}

func (s *memState) listChatEvents(lobbyID string, limit int) ([]models.ChatEvent, error) {
	list := s.chat[lobbyID]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]models.ChatEvent, len(list))
	for i, c := range list {
		out[i] = *c
	}
	return out, nil
}

func (s *memState) deleteChatEvent(id, authorID string) error {
	for lobbyID, list := range s.chat {
		for i, c := range list {
			if c.ID == id {
				if c.AuthorID != authorID {
					return ErrNotFound
				}
				s.chat[lobbyID] = append(list[:i], list[i+1:]...)
				return nil
			}
		}
	}
	return ErrNotFound
}

func (s *memState) createRide(r *models.Ride) error {
	cp := *r
	s.rides[r.ID] = &cp
	s.rideByLobby[r.LobbyID] = r.ID
	return nil
}

func (s *memState) getRide(id string) (*models.Ride, error) {
	r, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memState) getRideByLobby(lobbyID string) (*models.Ride, error) {
	id, ok := s.rideByLobby[lobbyID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getRide(id)
}

func (s *memState) createRideParticipants(ps []models.RideParticipant) error {
	for _, p := range ps {
		cp := p
		s.participants[p.RideID] = append(s.participants[p.RideID], &cp)
	}
	return nil
}

func (s *memState) listRideParticipants(rideID string) ([]models.RideParticipant, error) {
	list := s.participants[rideID]
	out := make([]models.RideParticipant, len(list))
	for i, p := range list {
		out[i] = *p
	}
	return out, nil
}

func (s *memState) getRideParticipant(rideID, userID string) (*models.RideParticipant, error) {
	for _, p := range s.participants[rideID] {
		if p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memState) setParticipantRating(rideID, userID string, score int, review *string) error {
	for _, p := range s.participants[rideID] {
		if p.UserID == userID {
			if p.Rating != nil {
				return ErrAlreadySet
			}
			sc := score
			p.Rating = &sc
			p.Review = review
			return nil
		}
	}
	return ErrNotFound
}

func (s *memState) ratingsForUser(userID string) ([]int, error) {
	out := make([]int, 0)
	for _, list := range s.participants {
		for _, p := range list {
			if p.UserID == userID && p.Rating != nil {
				out = append(out, *p.Rating)
			}
		}
	}
	return out, nil
}
