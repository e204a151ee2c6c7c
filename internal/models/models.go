package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// User is owned by the account subsystem; the core only reads it and
// adjusts Rating and CompletedRides as finalization/rating side effects.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Rating         float64   `json:"rating"` // running mean, 1.00..5.00
	CompletedRides int       `json:"completed_rides"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

type LobbyStatus string

const (
	LobbyOpen      LobbyStatus = "open"
	LobbyStarted   LobbyStatus = "started"
	LobbyCompleted LobbyStatus = "completed"
	LobbyCancelled LobbyStatus = "cancelled"
)

// Lobby is a proposed, capacity-bounded ride-sharing group. Rows are
// never deleted; terminal statuses are retained for history.
type Lobby struct {
	ID                string      `json:"id"`
	CreatorID         string      `json:"creator_id"`
	Origin            string      `json:"origin"`
	Destination       string      `json:"destination"`
	OriginCoord       Coord       `json:"origin_coord"`
	DestCoord         Coord       `json:"dest_coord"`
	DepartureTime     time.Time   `json:"departure_time"`
	VehicleClass      string      `json:"vehicle_class"`
	Capacity          int         `json:"capacity"`
	PricePerSeatCents int64       `json:"price_per_seat_cents"`
	Description       string      `json:"description"`
	Status            LobbyStatus `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type MembershipStatus string

const (
	MemberActive MembershipStatus = "active"
	MemberLeft   MembershipStatus = "left"
)

// Membership ties a user to a lobby. A row transitions to MemberLeft
// rather than being deleted, so "current members" is always the
// MemberActive view.
type Membership struct {
	LobbyID  string           `json:"lobby_id"`
	UserID   string           `json:"user_id"`
	Pickup   string           `json:"pickup"`
	Status   MembershipStatus `json:"status"`
	JoinedAt time.Time        `json:"joined_at"`
	LeftAt   *time.Time       `json:"left_at,omitempty"`
}

type ChatKind string

const (
	ChatText     ChatKind = "text"
	ChatImage    ChatKind = "image"
	ChatLocation ChatKind = "location"
)

// ChatEvent is append-only; deletable only by its author.
type ChatEvent struct {
	ID        string    `json:"id"`
	LobbyID   string    `json:"lobby_id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	Kind      ChatKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Ride is the immutable record produced exactly once per finalized lobby.
type Ride struct {
	ID              string    `json:"id"`
	LobbyID         string    `json:"lobby_id"`
	DriverID        string    `json:"driver_id"`
	Origin          string    `json:"origin"`
	Destination     string    `json:"destination"`
	OriginCoord     Coord     `json:"origin_coord"`
	DestCoord       Coord     `json:"dest_coord"`
	DepartureTime   time.Time `json:"departure_time"`
	CompletedAt     time.Time `json:"completed_at"`
	TotalFareCents  int64     `json:"total_fare_cents"`
	DistanceMeters  float64   `json:"distance_meters"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status"` // completed, cancelled
}

// RideParticipant records one member's share of a ride. Rating and
// Review are nil until a counter-party rates them, and each may be set
// at most once.
type RideParticipant struct {
	RideID          string  `json:"ride_id"`
	UserID          string  `json:"user_id"`
	AmountPaidCents int64   `json:"amount_paid_cents"`
	Pickup          string  `json:"pickup"`
	Dropoff         string  `json:"dropoff"`
	Rating          *int    `json:"rating,omitempty"`
	Review          *string `json:"review,omitempty"`
}

// MemberLocation is the telemetry message carried over the kafka
// pipeline and mirrored into redis by the consumer.
type MemberLocation struct {
	LobbyID string    `json:"lobby_id"`
	UserID  string    `json:"user_id"`
	Loc     Coord     `json:"loc"`
	Updated time.Time `json:"updated"`
}
