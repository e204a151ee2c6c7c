package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-lobby/internal/config"
	"github.com/example/ride-lobby/internal/finalize"
	"github.com/example/ride-lobby/internal/geocode"
	"github.com/example/ride-lobby/internal/hub"
	"github.com/example/ride-lobby/internal/identity"
	"github.com/example/ride-lobby/internal/lobby"
	"github.com/example/ride-lobby/internal/payments"
	"github.com/example/ride-lobby/internal/rating"
	"github.com/example/ride-lobby/internal/storage"
)

// Server is the transport shell around the lobby core: request parsing,
// routing, auth extraction and the websocket endpoint.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	store    storage.Store
	svc      *lobby.Service
	engine   *finalize.Engine
	ratings  *rating.Aggregator
	hub      *hub.Hub
	verifier *identity.JWTVerifier
	resolver geocode.Resolver       // nil disables address resolution
	router   geocode.Router         // nil falls back to haversine estimates
	stripe   *payments.StripeClient // nil disables fare collection

	mux *mux.Router
}

type Deps struct {
	Store    storage.Store
	Service  *lobby.Service
	Engine   *finalize.Engine
	Ratings  *rating.Aggregator
	Hub      *hub.Hub
	Verifier *identity.JWTVerifier
	Resolver geocode.Resolver
	Router   geocode.Router
	Stripe   *payments.StripeClient
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, d Deps) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    d.Store,
		svc:      d.Service,
		engine:   d.Engine,
		ratings:  d.Ratings,
		hub:      d.Hub,
		verifier: d.Verifier,
		resolver: d.Resolver,
		router:   d.Router,
		stripe:   d.Stripe,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/lobbies", s.handleCreateLobby).Methods(http.MethodPost)
	api.HandleFunc("/lobbies", s.handleListLobbies).Methods(http.MethodGet)
	api.HandleFunc("/lobbies/{id}", s.handleGetLobby).Methods(http.MethodGet)
	api.HandleFunc("/lobbies/{id}/join", s.handleJoin).Methods(http.MethodPost)
	api.HandleFunc("/lobbies/{id}/leave", s.handleLeave).Methods(http.MethodPost)
	api.HandleFunc("/lobbies/{id}/status", s.handleChangeStatus).Methods(http.MethodPost)
	api.HandleFunc("/lobbies/{id}/finalize", s.handleFinalize).Methods(http.MethodPost)
	api.HandleFunc("/lobbies/{id}/chat", s.handleChatHistory).Methods(http.MethodGet)
	api.HandleFunc("/lobbies/{id}/chat/{eventID}", s.handleDeleteChat).Methods(http.MethodDelete)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/ratings", s.handleRate).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// statusForErr maps core sentinels onto HTTP status codes.
func statusForErr(err error) int {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated), errors.Is(err, hub.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, lobby.ErrNotAuthorized), errors.Is(err, hub.ErrNotAuthorized),
		errors.Is(err, rating.ErrNotAParticipant):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lobby.ErrAlreadyMember), errors.Is(err, lobby.ErrLobbyFull),
		errors.Is(err, lobby.ErrLobbyNotJoinable), errors.Is(err, lobby.ErrInvalidState),
		errors.Is(err, lobby.ErrInvalidTransition), errors.Is(err, lobby.ErrNoActiveMembers),
		errors.Is(err, rating.ErrAlreadyRated):
		return http.StatusConflict
	case errors.Is(err, rating.ErrInvalidScore), errors.Is(err, rating.ErrSelfRating),
		errors.Is(err, hub.ErrInvalidMessage), errors.Is(err, geocode.ErrNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
