package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LobbiesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lobby", Name: "lobbies_created_total", Help: "Total lobbies created"})
	MembersJoined  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lobby", Name: "members_joined_total", Help: "Total successful lobby joins"})
	MembersLeft    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lobby", Name: "members_left_total", Help: "Total lobby leaves"})
	RidesFinalized = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lobby", Name: "rides_finalized_total", Help: "Total lobbies finalized into rides"})
	RatingsSet     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lobby", Name: "ratings_recorded_total", Help: "Total participant ratings recorded"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lobby", Name: "events_published_total", Help: "Room events fanned out, per kind"},
		[]string{"kind"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_lobby", Name: "events_dropped_total", Help: "Telemetry events dropped under backpressure"})
	Connections   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_lobby", Name: "ws_connections", Help: "Live websocket connections"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_lobby", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_lobby",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
