package storage

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

//go:embed migrations/001_init.sql
var initSchema string

type PostgresGateway struct {
	db *sqlx.DB
}

type driverRow struct {
	ID            string  `db:"driver_id"`
	Lat           float64 `db:"latitude"`
	Lon           float64 `db:"longitude"`
	Available     int     `db:"available"`
	TotalEarnings float64 `db:"total_earnings"`
}

func NewPostgresGateway(ctx context.Context, dsn string) (*PostgresGateway, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresGateway{db: db}, nil
}

// NewPostgresGatewayFromDB wraps an existing handle.
func NewPostgresGatewayFromDB(db *sqlx.DB) *PostgresGateway {
	return &PostgresGateway{db: db}
}

// Migrate creates the drivers, riders and rides tables if they are missing.
func (p *PostgresGateway) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, initSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *PostgresGateway) UpsertDriver(ctx context.Context, d models.Driver) error {
	row := driverRow{ID: d.ID, Lat: d.Loc.Lat, Lon: d.Loc.Lon, TotalEarnings: d.TotalEarnings}
	if d.Available {
		row.Available = 1
	}
	_, err := p.db.NamedExecContext(ctx, `INSERT INTO drivers (driver_id, latitude, longitude, available, total_earnings)
		VALUES (:driver_id, :latitude, :longitude, :available, :total_earnings)
		ON CONFLICT (driver_id) DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			available = EXCLUDED.available,
			total_earnings = EXCLUDED.total_earnings`, row)
	if err != nil {
		return fmt.Errorf("upsert driver %s: %w", d.ID, err)
	}
	return nil
}

func (p *PostgresGateway) InsertRider(ctx context.Context, r models.Rider) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO riders (rider_id, latitude, longitude) VALUES ($1, $2, $3)`,
		r.ID, r.Loc.Lat, r.Loc.Lon)
	if err != nil {
		return fmt.Errorf("insert rider %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresGateway) InsertRide(ctx context.Context, r models.Ride) (int64, error) {
	status := r.PaymentStatus
	if status == "" {
		status = models.PaymentPending
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var id int64
	err := p.db.QueryRowxContext(ctx, `INSERT INTO rides (rider_id, driver_id, distance, fare, duration, payment_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING ride_id`,
		r.RiderID, r.DriverID, r.DistanceKm, r.Fare, r.DurationMin, string(status), createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert ride: %w", err)
	}
	return id, nil
}

func (p *PostgresGateway) Close() error {
	return p.db.Close()
}
