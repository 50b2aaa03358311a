package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

// RedisGateway stores rows as hashes and keeps driver positions in a GEO set.
type RedisGateway struct {
	client *redis.Client
	prefix string
}

func NewRedisGateway(addr, password, prefix string) *RedisGateway {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return NewRedisGatewayFromClient(c, prefix)
}

func NewRedisGatewayFromClient(c *redis.Client, prefix string) *RedisGateway {
	return &RedisGateway{client: c, prefix: prefix}
}

func (r *RedisGateway) DriverKey(id string) string { return r.prefix + "driver:" + id }
func (r *RedisGateway) RiderKey(id string) string  { return r.prefix + "rider:" + id }
func (r *RedisGateway) RideKey(id int64) string    { return r.prefix + "ride:" + strconv.FormatInt(id, 10) }
func (r *RedisGateway) GeoKey() string             { return r.prefix + "drivers_geo" }
func (r *RedisGateway) RidesKey() string           { return r.prefix + "rides" }
func (r *RedisGateway) rideSeqKey() string         { return r.prefix + "rides:seq" }

func (r *RedisGateway) UpsertDriver(ctx context.Context, d models.Driver) error {
	available := "0"
	if d.Available {
		available = "1"
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.GeoKey(), &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID})
		pipe.HSet(ctx, r.DriverKey(d.ID), map[string]interface{}{
			"lat":            formatFloat(d.Loc.Lat),
			"lon":            formatFloat(d.Loc.Lon),
			"available":      available,
			"total_earnings": formatFloat(d.TotalEarnings),
			"cell":           geo.Cell(d.Loc, geo.DefaultCellPrecision),
			"updated":        time.Now().Format(time.RFC3339),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert driver %s: %w", d.ID, err)
	}
	return nil
}

// InsertRider refuses to overwrite an existing rider row. The existence check
// is not atomic with the write; the fleet registry is the only writer.
func (r *RedisGateway) InsertRider(ctx context.Context, rd models.Rider) error {
	n, err := r.client.Exists(ctx, r.RiderKey(rd.ID)).Result()
	if err != nil {
		return fmt.Errorf("insert rider %s: %w", rd.ID, err)
	}
	if n > 0 {
		return fmt.Errorf("insert rider %s: already stored", rd.ID)
	}
	err = r.client.HSet(ctx, r.RiderKey(rd.ID), map[string]interface{}{
		"lat": formatFloat(rd.Loc.Lat),
		"lon": formatFloat(rd.Loc.Lon),
	}).Err()
	if err != nil {
		return fmt.Errorf("insert rider %s: %w", rd.ID, err)
	}
	return nil
}

func (r *RedisGateway) InsertRide(ctx context.Context, rd models.Ride) (int64, error) {
	status := rd.PaymentStatus
	if status == "" {
		status = models.PaymentPending
	}
	createdAt := rd.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	id, err := r.client.Incr(ctx, r.rideSeqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate ride id: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.RideKey(id), map[string]interface{}{
			"rider_id":       rd.RiderID,
			"driver_id":      rd.DriverID,
			"distance":       formatFloat(rd.DistanceKm),
			"fare":           formatFloat(rd.Fare),
			"duration":       formatFloat(rd.DurationMin),
			"payment_status": string(status),
			"created_at":     createdAt.UTC().Format(time.RFC3339Nano),
		})
		pipe.RPush(ctx, r.RidesKey(), id)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert ride %d: %w", id, err)
	}
	return id, nil
}

func (r *RedisGateway) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisGateway) Close() error {
	return r.client.Close()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
