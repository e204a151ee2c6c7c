package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-lobby/internal/finalize"
	"github.com/example/ride-lobby/internal/geocode"
	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/models"
)

type createLobbyRequest struct {
	Origin            string        `json:"origin"`
	Destination       string        `json:"destination"`
	OriginCoord       *models.Coord `json:"origin_coord,omitempty"`
	DestCoord         *models.Coord `json:"dest_coord,omitempty"`
	DepartureTime     time.Time     `json:"departure_time"`
	VehicleClass      string        `json:"vehicle_class"`
	Capacity          int           `json:"capacity"`
	PricePerSeatCents int64         `json:"price_per_seat_cents"`
	Description       string        `json:"description"`
}

func (s *Server) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p := lobby.CreateParams{
		CreatorID:         userIDFromContext(r.Context()),
		Origin:            req.Origin,
		Destination:       req.Destination,
		DepartureTime:     req.DepartureTime,
		VehicleClass:      req.VehicleClass,
		Capacity:          req.Capacity,
		PricePerSeatCents: req.PricePerSeatCents,
	}
	p.Description = req.Description

	originCoord, originName, err := s.resolveOrUse(r.Context(), req.Origin, req.OriginCoord)
	if err != nil {
		s.writeError(w, err)
		return
	}
	destCoord, destName, err := s.resolveOrUse(r.Context(), req.Destination, req.DestCoord)
	if err != nil {
		s.writeError(w, err)
		return
	}
	p.OriginCoord = originCoord
	p.DestCoord = destCoord
	if originName != "" {
		p.Origin = originName
	}
	if destName != "" {
		p.Destination = destName
	}

	l, err := s.svc.Create(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

// resolveOrUse prefers client-supplied coordinates and falls back to
// the geocoder for free-text addresses.
func (s *Server) resolveOrUse(ctx context.Context, address string, given *models.Coord) (models.Coord, string, error) {
	if given != nil {
		return *given, "", nil
	}
	if s.resolver == nil || address == "" {
		return models.Coord{}, "", nil
	}
	places, err := s.resolver.Resolve(ctx, address)
	if err != nil {
		return models.Coord{}, "", err
	}
	return places[0].Loc, places[0].DisplayName, nil
}

func (s *Server) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	lobbies, err := s.svc.ListOpen(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobbies": lobbies})
}

func (s *Server) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	l, members, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobby": l, "members": members})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pickup string `json:"pickup"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.svc.Join(r.Context(), mux.Vars(r)["id"], userIDFromContext(r.Context()), req.Pickup)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Leave(r.Context(), mux.Vars(r)["id"], userIDFromContext(r.Context())); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := lobby.ParseStatus(req.Target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	l, err := s.svc.ChangeStatus(r.Context(), mux.Vars(r)["id"], userIDFromContext(r.Context()), target)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type finalizeRequest struct {
	TotalFareCents  int64   `json:"total_fare_cents"`
	DistanceMeters  float64 `json:"distance_meters"`
	DurationMinutes int     `json:"duration_minutes"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	lobbyID := mux.Vars(r)["id"]
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := finalize.Input{
		TotalFareCents:  req.TotalFareCents,
		DistanceMeters:  req.DistanceMeters,
		DurationMinutes: req.DurationMinutes,
	}
	if in.DistanceMeters == 0 && in.DurationMinutes == 0 {
		if m, ok := s.routeMetrics(r.Context(), lobbyID); ok {
			in.DistanceMeters = m.DistanceMeters
			in.DurationMinutes = int(m.DurationSeconds / 60)
		}
	}
	ride, err := s.engine.Finalize(r.Context(), lobbyID, userIDFromContext(r.Context()), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.stripe != nil {
		go s.collectFares(ride)
	}
	writeJSON(w, http.StatusCreated, ride)
}

// routeMetrics fills in distance/duration the client did not report,
// from the routing engine when configured, else a haversine estimate.
func (s *Server) routeMetrics(ctx context.Context, lobbyID string) (geocode.RouteMetrics, bool) {
	l, err := s.store.GetLobby(ctx, lobbyID)
	if err != nil {
		return geocode.RouteMetrics{}, false
	}
	zero := models.Coord{}
	if l.OriginCoord == zero && l.DestCoord == zero {
		return geocode.RouteMetrics{}, false
	}
	if s.router != nil {
		if m, err := s.router.Route(ctx, l.OriginCoord, l.DestCoord); err == nil {
			return m, true
		}
	}
	return geocode.EstimateRoute(l.OriginCoord, l.DestCoord, 0), true
}

// collectFares holds and captures each participant's share. Runs after
// the finalization commit; failures are logged, never unwound.
func (s *Server) collectFares(ride *models.Ride) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	participants, err := s.store.ListRideParticipants(ctx, ride.ID)
	if err != nil {
		s.logger.Error("fare collection: list participants", "ride_id", ride.ID, "error", err)
		return
	}
	for _, p := range participants {
		if p.AmountPaidCents == 0 {
			continue
		}
		intent, err := s.stripe.HoldShare(ctx, p.AmountPaidCents, "usd", "")
		if err != nil {
			s.logger.Error("fare hold failed", "ride_id", ride.ID, "user_id", p.UserID, "error", err)
			continue
		}
		if err := s.stripe.CaptureShare(ctx, intent); err != nil {
			s.logger.Error("fare capture failed", "ride_id", ride.ID, "user_id", p.UserID, "intent", intent, "error", err)
		}
	}
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	lobbyID := mux.Vars(r)["id"]
	userID := userIDFromContext(r.Context())
	ok, err := s.svc.Ledger().IsActiveMember(r.Context(), lobbyID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		s.writeError(w, lobby.ErrNotAuthorized)
		return
	}
	events, err := s.store.ListChatEvents(r.Context(), lobbyID, s.cfg.ChatHistoryLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	err := s.store.DeleteChatEvent(r.Context(), vars["eventID"], userIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["id"]
	userID := userIDFromContext(r.Context())
	ride, err := s.store.GetRide(r.Context(), rideID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.store.GetRideParticipant(r.Context(), rideID, userID); err != nil {
		// only participants may view a ride
		s.writeError(w, lobby.ErrNotAuthorized)
		return
	}
	participants, err := s.store.ListRideParticipants(r.Context(), rideID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ride": ride, "participants": participants})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RateeID string  `json:"ratee_id"`
		Score   int     `json:"score"`
		Review  *string `json:"review,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := s.ratings.Rate(r.Context(), mux.Vars(r)["id"], userIDFromContext(r.Context()), req.RateeID, req.Score, req.Review)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusForErr(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", code)
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
