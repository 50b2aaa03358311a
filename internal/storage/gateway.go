package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Gateway defines durable writes for fleet state and ride history.
// Riders and rides are append-only; drivers are upserted by id.
type Gateway interface {
	UpsertDriver(ctx context.Context, d models.Driver) error
	InsertRider(ctx context.Context, r models.Rider) error
	// InsertRide stores r and returns its auto-assigned sequential id.
	InsertRide(ctx context.Context, r models.Ride) (int64, error)
}

type MemoryGateway struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	riders  map[string]models.Rider
	rides   []models.Ride
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		drivers: make(map[string]models.Driver),
		riders:  make(map[string]models.Rider),
	}
}

func (m *MemoryGateway) UpsertDriver(_ context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryGateway) InsertRider(_ context.Context, r models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riders[r.ID] = r
	return nil
}

func (m *MemoryGateway) InsertRide(_ context.Context, r models.Ride) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.rides) + 1)
	if r.PaymentStatus == "" {
		r.PaymentStatus = models.PaymentPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.rides = append(m.rides, r)
	return r.ID, nil
}

func (m *MemoryGateway) Driver(id string) (models.Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	return d, ok
}

func (m *MemoryGateway) Rider(id string) (models.Rider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	return r, ok
}

// Rides returns a copy of the ride history in insertion order.
func (m *MemoryGateway) Rides() []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, len(m.rides))
	copy(out, m.rides)
	return out
}
