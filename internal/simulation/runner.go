package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// Area riders appear in and released drivers are moved to.
const (
	MinLat = 30.0
	MaxLat = 50.0
	MinLon = -125.0
	MaxLon = -70.0
)

// SeedDrivers is the starting fleet: New York, Los Angeles and Chicago.
var SeedDrivers = []models.Driver{
	{ID: "D1", Loc: models.Coord{Lat: 40.7128, Lon: -74.0060}},
	{ID: "D2", Loc: models.Coord{Lat: 34.0522, Lon: -118.2437}},
	{ID: "D3", Loc: models.Coord{Lat: 41.8781, Lon: -87.6298}},
}

// SeedFleet registers SeedDrivers. Drivers already present are left alone.
func SeedFleet(ctx context.Context, pool *fleet.Registry) error {
	for _, d := range SeedDrivers {
		if _, err := pool.RegisterDriver(ctx, d.ID, d.Loc); err != nil && !errors.Is(err, fleet.ErrDuplicateID) {
			return fmt.Errorf("seed driver %s: %w", d.ID, err)
		}
	}
	return nil
}

// StepResult describes one simulation tick.
type StepResult struct {
	Rider    models.Rider
	Matched  bool
	Match    models.MatchResult
	Released *models.Driver
}

type Runner struct {
	Pool               *fleet.Registry
	Matcher            *matcher.Service
	ReleaseProbability float64

	rng    *rand.Rand
	logger *slog.Logger
}

func NewRunner(pool *fleet.Registry, m *matcher.Service, releaseProbability float64, seed int64, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Pool:               pool,
		Matcher:            m,
		ReleaseProbability: releaseProbability,
		rng:                rand.New(rand.NewSource(seed)),
		logger:             logger,
	}
}

// Step creates a rider somewhere in the area, matches it, and with
// ReleaseProbability frees a random driver at a random location.
func (r *Runner) Step(ctx context.Context) (StepResult, error) {
	var res StepResult

	rider, err := r.Pool.RegisterRider(ctx, r.riderID(), r.randomCoord())
	if err != nil {
		return res, fmt.Errorf("register rider: %w", err)
	}
	res.Rider = rider

	match, ok, err := r.Matcher.MatchRide(ctx, rider, r.Pool)
	if err != nil {
		return res, fmt.Errorf("match rider %s: %w", rider.ID, err)
	}
	res.Matched, res.Match = ok, match

	if r.rng.Float64() < r.ReleaseProbability {
		drivers := r.Pool.Drivers()
		if len(drivers) > 0 {
			pick := drivers[r.rng.Intn(len(drivers))]
			d, err := r.Matcher.CompleteRide(ctx, pick.ID, r.randomCoord(), r.Pool)
			if err != nil {
				return res, fmt.Errorf("release driver %s: %w", pick.ID, err)
			}
			res.Released = &d
		}
	}
	return res, nil
}

// Run steps every interval until ctx is cancelled. Failed steps are logged
// and the loop continues.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		res, err := r.Step(ctx)
		if err != nil {
			observability.SimulationTicks.WithLabelValues("error").Inc()
			r.logger.Error("simulation step failed", "error", err)
			continue
		}
		r.logStep(res)
	}
}

func (r *Runner) logStep(res StepResult) {
	if res.Matched {
		observability.SimulationTicks.WithLabelValues("matched").Inc()
		r.logger.Info("ride matched",
			"rider_id", res.Rider.ID,
			"driver_id", res.Match.Driver.ID,
			"ride_id", res.Match.Ride.ID,
			"distance_km", res.Match.DistanceKm,
			"fare", res.Match.Fare,
			"duration_min", res.Match.DurationMin,
		)
	} else {
		observability.SimulationTicks.WithLabelValues("no_match").Inc()
		r.logger.Info("no driver available", "rider_id", res.Rider.ID)
	}
	if res.Released != nil {
		r.logger.Info("driver released", "driver_id", res.Released.ID, "lat", res.Released.Loc.Lat, "lon", res.Released.Loc.Lon)
	}
}

// riderID draws R1000..R9999, falling back to a uuid once the short id
// is taken.
func (r *Runner) riderID() string {
	id := fmt.Sprintf("R%d", 1000+r.rng.Intn(9000))
	if _, taken := r.Pool.Rider(id); taken {
		return "R-" + uuid.NewString()
	}
	return id
}

func (r *Runner) randomCoord() models.Coord {
	return models.Coord{
		Lat: MinLat + r.rng.Float64()*(MaxLat-MinLat),
		Lon: MinLon + r.rng.Float64()*(MaxLon-MinLon),
	}
}
