package fleet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// Registry is the authoritative in-memory fleet: drivers, riders and the
// rides recorded against them. Every mutation is written through to the
// gateway before it becomes visible. All access is serialized by one mutex.
type Registry struct {
	mu      sync.Mutex
	gw      storage.Gateway
	now     func() time.Time
	drivers map[string]models.Driver
	order   []string
	riders  map[string]models.Rider
	rides   []models.Ride
}

type Option func(*Registry)

// WithClock overrides the clock used to stamp rides.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(gw storage.Gateway, opts ...Option) *Registry {
	r := &Registry{
		gw:      gw,
		now:     time.Now,
		drivers: make(map[string]models.Driver),
		riders:  make(map[string]models.Rider),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Update runs fn as one critical section. If fn returns an error, drivers it
// mutated are restored and their previous rows flushed again; riders and
// rides already written stay, as they are append-only.
func (r *Registry) Update(ctx context.Context, fn func(tx *Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &Tx{r: r, ctx: ctx, undo: make(map[string]models.Driver)}
	if err := fn(tx); err != nil {
		if rbErr := tx.rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return nil
}

// View runs fn with a consistent read of the fleet. Mutations through the
// Tx inside View are not allowed.
func (r *Registry) View(fn func(tx *Tx)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&Tx{r: r, readOnly: true})
}

func (r *Registry) RegisterDriver(ctx context.Context, id string, loc models.Coord) (models.Driver, error) {
	var d models.Driver
	err := r.Update(ctx, func(tx *Tx) (err error) {
		d, err = tx.RegisterDriver(id, loc)
		return err
	})
	return d, err
}

func (r *Registry) RegisterRider(ctx context.Context, id string, loc models.Coord) (models.Rider, error) {
	var rd models.Rider
	err := r.Update(ctx, func(tx *Tx) (err error) {
		rd, err = tx.RegisterRider(id, loc)
		return err
	})
	return rd, err
}

func (r *Registry) SetAvailability(ctx context.Context, driverID string, available bool) (models.Driver, error) {
	var d models.Driver
	err := r.Update(ctx, func(tx *Tx) (err error) {
		d, err = tx.SetAvailability(driverID, available)
		return err
	})
	return d, err
}

func (r *Registry) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) (models.Driver, error) {
	var d models.Driver
	err := r.Update(ctx, func(tx *Tx) (err error) {
		d, err = tx.UpdateLocation(driverID, loc)
		return err
	})
	return d, err
}

func (r *Registry) AccrueEarnings(ctx context.Context, driverID string, fare float64) (models.Driver, error) {
	var d models.Driver
	err := r.Update(ctx, func(tx *Tx) (err error) {
		d, err = tx.AccrueEarnings(driverID, fare)
		return err
	})
	return d, err
}

func (r *Registry) RecordRide(ctx context.Context, riderID, driverID string, distanceKm, fare, durationMin float64) (models.Ride, error) {
	var ride models.Ride
	err := r.Update(ctx, func(tx *Tx) (err error) {
		ride, err = tx.RecordRide(riderID, driverID, distanceKm, fare, durationMin)
		return err
	})
	return ride, err
}

func (r *Registry) Driver(id string) (models.Driver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drivers[id]
	return d, ok
}

// Drivers returns all drivers in registration order.
func (r *Registry) Drivers() []models.Driver {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.driversLocked()
}

func (r *Registry) AvailableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.drivers {
		if d.Available {
			n++
		}
	}
	return n
}

func (r *Registry) Rider(id string) (models.Rider, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rd, ok := r.riders[id]
	return rd, ok
}

// Rides returns recorded rides in creation order.
func (r *Registry) Rides() []models.Ride {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Ride, len(r.rides))
	copy(out, r.rides)
	return out
}

func (r *Registry) driversLocked() []models.Driver {
	out := make([]models.Driver, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.drivers[id])
	}
	return out
}
