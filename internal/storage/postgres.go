package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-lobby/internal/models"
)

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists the core through database/sql and lib/pq.
type PostgresStore struct {
	db *sql.DB
	q  querier
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, q: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// OpenMigrationDB opens a short-lived connection for applying schema files.
func OpenMigrationDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (p *PostgresStore) Transact(ctx context.Context, fn func(tx Store) error) error {
	if _, ok := p.q.(*sql.Tx); ok {
		// already inside a transaction; join it
		return fn(p)
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&PostgresStore{db: p.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO users(id, name, rating, completed_rides, active, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Name, u.Rating, u.CompletedRides, u.Active, u.CreatedAt)
	return err
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := p.q.QueryRowContext(ctx,
		`SELECT id, name, rating, completed_rides, active, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Name, &u.Rating, &u.CompletedRides, &u.Active, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *PostgresStore) UpdateUserRating(ctx context.Context, id string, rating float64) error {
	return p.execOne(ctx, `UPDATE users SET rating=$1 WHERE id=$2`, rating, id)
}

func (p *PostgresStore) IncrementUserRides(ctx context.Context, id string) error {
	return p.execOne(ctx, `UPDATE users SET completed_rides = completed_rides + 1 WHERE id=$1`, id)
}

const lobbyCols = `id, creator_id, origin, destination, origin_lat, origin_lon, dest_lat, dest_lon,
	departure_time, vehicle_class, capacity, price_per_seat_cents, description, status, created_at, updated_at`

func (p *PostgresStore) CreateLobby(ctx context.Context, l *models.Lobby) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO lobbies(`+lobbyCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		l.ID, l.CreatorID, l.Origin, l.Destination, l.OriginCoord.Lat, l.OriginCoord.Lon,
		l.DestCoord.Lat, l.DestCoord.Lon, l.DepartureTime, l.VehicleClass, l.Capacity,
		l.PricePerSeatCents, l.Description, l.Status, l.CreatedAt, l.UpdatedAt)
	return err
}

func (p *PostgresStore) GetLobby(ctx context.Context, id string) (*models.Lobby, error) {
	return p.scanLobby(p.q.QueryRowContext(ctx,
		`SELECT `+lobbyCols+` FROM lobbies WHERE id=$1`, id))
}

func (p *PostgresStore) GetLobbyForUpdate(ctx context.Context, id string) (*models.Lobby, error) {
	return p.scanLobby(p.q.QueryRowContext(ctx,
		`SELECT `+lobbyCols+` FROM lobbies WHERE id=$1 FOR UPDATE`, id))
}

func (p *PostgresStore) scanLobby(row *sql.Row) (*models.Lobby, error) {
	var l models.Lobby
	err := row.Scan(&l.ID, &l.CreatorID, &l.Origin, &l.Destination,
		&l.OriginCoord.Lat, &l.OriginCoord.Lon, &l.DestCoord.Lat, &l.DestCoord.Lon,
		&l.DepartureTime, &l.VehicleClass, &l.Capacity, &l.PricePerSeatCents,
		&l.Description, &l.Status, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (p *PostgresStore) ListLobbiesByStatus(ctx context.Context, status models.LobbyStatus) ([]models.Lobby, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT `+lobbyCols+` FROM lobbies WHERE status=$1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Lobby, 0)
	for rows.Next() {
		var l models.Lobby
		if err := rows.Scan(&l.ID, &l.CreatorID, &l.Origin, &l.Destination,
			&l.OriginCoord.Lat, &l.OriginCoord.Lon, &l.DestCoord.Lat, &l.DestCoord.Lon,
			&l.DepartureTime, &l.VehicleClass, &l.Capacity, &l.PricePerSeatCents,
			&l.Description, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetLobbyStatus(ctx context.Context, id string, status models.LobbyStatus, at time.Time) error {
	return p.execOne(ctx, `UPDATE lobbies SET status=$1, updated_at=$2 WHERE id=$3`, status, at, id)
}

func (p *PostgresStore) CreateMembership(ctx context.Context, m *models.Membership) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO memberships(lobby_id, user_id, pickup, status, joined_at) VALUES($1,$2,$3,$4,$5)`,
		m.LobbyID, m.UserID, m.Pickup, m.Status, m.JoinedAt)
	return err
}

func (p *PostgresStore) GetMembership(ctx context.Context, lobbyID, userID string) (*models.Membership, error) {
	var m models.Membership
	var leftAt sql.NullTime
	err := p.q.QueryRowContext(ctx,
		`SELECT lobby_id, user_id, pickup, status, joined_at, left_at FROM memberships WHERE lobby_id=$1 AND user_id=$2`,
		lobbyID, userID).
		Scan(&m.LobbyID, &m.UserID, &m.Pickup, &m.Status, &m.JoinedAt, &leftAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if leftAt.Valid {
		t := leftAt.Time
		m.LeftAt = &t
	}
	return &m, nil
}

func (p *PostgresStore) ReactivateMembership(ctx context.Context, lobbyID, userID, pickup string, at time.Time) error {
	return p.execOne(ctx,
		`UPDATE memberships SET status=$1, pickup=$2, joined_at=$3, left_at=NULL WHERE lobby_id=$4 AND user_id=$5`,
		models.MemberActive, pickup, at, lobbyID, userID)
}

func (p *PostgresStore) MarkMembershipLeft(ctx context.Context, lobbyID, userID string, at time.Time) error {
	return p.execOne(ctx,
		`UPDATE memberships SET status=$1, left_at=$2 WHERE lobby_id=$3 AND user_id=$4 AND status=$5`,
		models.MemberLeft, at, lobbyID, userID, models.MemberActive)
}

func (p *PostgresStore) ActiveMembers(ctx context.Context, lobbyID string) ([]models.Membership, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT lobby_id, user_id, pickup, status, joined_at, left_at FROM memberships
		 WHERE lobby_id=$1 AND status=$2 ORDER BY joined_at`, lobbyID, models.MemberActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Membership, 0)
	for rows.Next() {
		var m models.Membership
		var leftAt sql.NullTime
		if err := rows.Scan(&m.LobbyID, &m.UserID, &m.Pickup, &m.Status, &m.JoinedAt, &leftAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendChatEvent(ctx context.Context, c *models.ChatEvent) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO chat_events(id, lobby_id, author_id, text, kind, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		c.ID, c.LobbyID, c.AuthorID, c.Text, c.Kind, c.CreatedAt)
	return err
}

func (p *PostgresStore) ListChatEvents(ctx context.Context, lobbyID string, limit int) ([]models.ChatEvent, error) {
	q := `SELECT id, lobby_id, author_id, text, kind, created_at FROM chat_events WHERE lobby_id=$1 ORDER BY created_at`
	args := []any{lobbyID}
	if limit > 0 {
		// newest N, returned oldest-first
		q = `SELECT id, lobby_id, author_id, text, kind, created_at FROM (
			SELECT id, lobby_id, author_id, text, kind, created_at FROM chat_events
			WHERE lobby_id=$1 ORDER BY created_at DESC LIMIT $2
		) sub ORDER BY created_at`
		args = append(args, limit)
	}
	rows, err := p.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.ChatEvent, 0)
	for rows.Next() {
		var c models.ChatEvent
		if err := rows.Scan(&c.ID, &c.LobbyID, &c.AuthorID, &c.Text, &c.Kind, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteChatEvent(ctx context.Context, id, authorID string) error {
	return p.execOne(ctx, `DELETE FROM chat_events WHERE id=$1 AND author_id=$2`, id, authorID)
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.q.ExecContext(ctx,
		`INSERT INTO rides(id, lobby_id, driver_id, origin, destination, origin_lat, origin_lon,
			dest_lat, dest_lon, departure_time, completed_at, total_fare_cents, distance_meters,
			duration_minutes, status)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.LobbyID, r.DriverID, r.Origin, r.Destination,
		r.OriginCoord.Lat, r.OriginCoord.Lon, r.DestCoord.Lat, r.DestCoord.Lon,
		r.DepartureTime, r.CompletedAt, r.TotalFareCents, r.DistanceMeters,
		r.DurationMinutes, r.Status)
	return err
}

const rideCols = `id, lobby_id, driver_id, origin, destination, origin_lat, origin_lon,
	dest_lat, dest_lon, departure_time, completed_at, total_fare_cents, distance_meters,
	duration_minutes, status`

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return p.scanRide(p.q.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, id))
}

func (p *PostgresStore) GetRideByLobby(ctx context.Context, lobbyID string) (*models.Ride, error) {
	return p.scanRide(p.q.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE lobby_id=$1`, lobbyID))
}

func (p *PostgresStore) scanRide(row *sql.Row) (*models.Ride, error) {
	var r models.Ride
	err := row.Scan(&r.ID, &r.LobbyID, &r.DriverID, &r.Origin, &r.Destination,
		&r.OriginCoord.Lat, &r.OriginCoord.Lon, &r.DestCoord.Lat, &r.DestCoord.Lon,
		&r.DepartureTime, &r.CompletedAt, &r.TotalFareCents, &r.DistanceMeters,
		&r.DurationMinutes, &r.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) CreateRideParticipants(ctx context.Context, ps []models.RideParticipant) error {
	if len(ps) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO ride_participants(ride_id, user_id, amount_paid_cents, pickup, dropoff) VALUES `)
	args := make([]any, 0, len(ps)*5)
	for i, pt := range ps {
		if i > 0 {
			sb.WriteString(",")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, pt.RideID, pt.UserID, pt.AmountPaidCents, pt.Pickup, pt.Dropoff)
	}
	_, err := p.q.ExecContext(ctx, sb.String(), args...)
	return err
}

func (p *PostgresStore) ListRideParticipants(ctx context.Context, rideID string) ([]models.RideParticipant, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT ride_id, user_id, amount_paid_cents, pickup, dropoff, rating, review
		 FROM ride_participants WHERE ride_id=$1 ORDER BY user_id`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.RideParticipant, 0)
	for rows.Next() {
		pt, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *pt)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetRideParticipant(ctx context.Context, rideID, userID string) (*models.RideParticipant, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT ride_id, user_id, amount_paid_cents, pickup, dropoff, rating, review
		 FROM ride_participants WHERE ride_id=$1 AND user_id=$2`, rideID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanParticipant(rows)
}

func scanParticipant(rows *sql.Rows) (*models.RideParticipant, error) {
	var pt models.RideParticipant
	var rating sql.NullInt64
	var review sql.NullString
	if err := rows.Scan(&pt.RideID, &pt.UserID, &pt.AmountPaidCents, &pt.Pickup, &pt.Dropoff, &rating, &review); err != nil {
		return nil, err
	}
	if rating.Valid {
		v := int(rating.Int64)
		pt.Rating = &v
	}
	if review.Valid {
		v := review.String
		pt.Review = &v
	}
	return &pt, nil
}

func (p *PostgresStore) SetParticipantRating(ctx context.Context, rideID, userID string, score int, review *string) error {
	// the rating IS NULL guard makes the write first-wins even when two
	// transactions read the row as unrated concurrently
	res, err := p.q.ExecContext(ctx,
		`UPDATE ride_participants SET rating=$1, review=$2 WHERE ride_id=$3 AND user_id=$4 AND rating IS NULL`,
		score, review, rideID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetRideParticipant(ctx, rideID, userID); err != nil {
			return err
		}
		return ErrAlreadySet
	}
	return nil
}

func (p *PostgresStore) RatingsForUser(ctx context.Context, userID string) ([]int, error) {
	rows, err := p.q.QueryContext(ctx,
		`SELECT rating FROM ride_participants WHERE user_id=$1 AND rating IS NOT NULL`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]int, 0)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *PostgresStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := p.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
