package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/pricing"
)

// Notifier delivers a committed match to the driver.
type Notifier interface {
	Offer(ctx context.Context, m models.MatchResult) error
}

// Publisher emits fleet events to downstream consumers.
type Publisher interface {
	PublishMatch(ctx context.Context, m models.MatchResult) error
	PublishRelease(ctx context.Context, d models.Driver) error
}

type Service struct {
	Pricing pricing.Model
	Notify  Notifier  // optional
	Events  Publisher // optional
}

func NewService(p pricing.Model) *Service {
	return &Service{Pricing: p}
}

// Candidate is an available driver with its distance to the rider.
type Candidate struct {
	Driver     models.Driver
	DistanceKm float64
}

// Nearest scans drivers in order and returns the available one closest to
// origin. Ties keep the earlier driver.
func Nearest(origin models.Coord, drivers []models.Driver) (Candidate, bool) {
	best := Candidate{DistanceKm: math.Inf(1)}
	found := false
	for _, d := range drivers {
		if !d.Available {
			continue
		}
		dist := geo.DistanceKm(origin, d.Loc)
		if dist < best.DistanceKm {
			best = Candidate{Driver: d, DistanceKm: dist}
			found = true
		}
	}
	return best, found
}

// MatchRide assigns the nearest available driver in pool to rider, measured
// from the rider's registered location. The scan and the commit (driver
// busy, earnings accrued, ride recorded) run as one critical section of the
// pool, so a driver is never handed to two riders.
// matched is false with a nil error when no driver is available.
func (s *Service) MatchRide(ctx context.Context, rider models.Rider, pool *fleet.Registry) (models.MatchResult, bool, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	var res models.MatchResult
	matched := false
	err := pool.Update(ctx, func(tx *fleet.Tx) error {
		stored, ok := tx.Rider(rider.ID)
		if !ok {
			return fmt.Errorf("rider %s: %w", rider.ID, fleet.ErrNotFound)
		}
		best, ok := Nearest(stored.Loc, tx.Drivers())
		if !ok {
			return nil
		}
		fare, duration := s.Pricing.Quote(best.DistanceKm)
		if _, err := tx.SetAvailability(best.Driver.ID, false); err != nil {
			return err
		}
		d, err := tx.AccrueEarnings(best.Driver.ID, fare)
		if err != nil {
			return err
		}
		ride, err := tx.RecordRide(stored.ID, d.ID, best.DistanceKm, fare, duration)
		if err != nil {
			return err
		}
		res = models.MatchResult{Rider: stored, Driver: d, DistanceKm: best.DistanceKm, Fare: fare, DurationMin: duration, Ride: ride}
		matched = true
		return nil
	})
	if err != nil {
		countPersistence(err)
		return models.MatchResult{}, false, err
	}
	observability.DriversAvailable.Set(float64(pool.AvailableCount()))
	if !matched {
		observability.NoMatchTotal.Inc()
		return models.MatchResult{}, false, nil
	}
	observability.MatchesTotal.Inc()
	observability.RideFare.Observe(res.Fare)

	if s.Notify != nil {
		if err := s.Notify.Offer(ctx, res); err != nil {
			observability.NotifyErrors.WithLabelValues("offer").Inc()
		}
	}
	if s.Events != nil {
		if err := s.Events.PublishMatch(ctx, res); err != nil {
			observability.NotifyErrors.WithLabelValues("publish_match").Inc()
		}
	}
	return res, true, nil
}

// CompleteRide returns a busy driver to the available pool at loc. It is the
// only path from busy back to available.
func (s *Service) CompleteRide(ctx context.Context, driverID string, loc models.Coord, pool *fleet.Registry) (models.Driver, error) {
	var d models.Driver
	err := pool.Update(ctx, func(tx *fleet.Tx) (err error) {
		if _, err = tx.UpdateLocation(driverID, loc); err != nil {
			return err
		}
		d, err = tx.SetAvailability(driverID, true)
		return err
	})
	if err != nil {
		countPersistence(err)
		return models.Driver{}, err
	}
	observability.DriversAvailable.Set(float64(pool.AvailableCount()))
	if s.Events != nil {
		if err := s.Events.PublishRelease(ctx, d); err != nil {
			observability.NotifyErrors.WithLabelValues("publish_release").Inc()
		}
	}
	return d, nil
}

func countPersistence(err error) {
	if errors.Is(err, fleet.ErrPersistence) {
		observability.PersistenceErrors.Inc()
	}
}
