package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/fleet"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/pricing"
	"github.com/example/ride-dispatch/internal/storage"
)

type recordingNotifier struct {
	mu     sync.Mutex
	offers []models.MatchResult
	err    error
}

func (n *recordingNotifier) Offer(_ context.Context, m models.MatchResult) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, m)
	return n.err
}

type recordingPublisher struct {
	matches  []models.MatchResult
	releases []models.Driver
}

func (p *recordingPublisher) PublishMatch(_ context.Context, m models.MatchResult) error {
	p.matches = append(p.matches, m)
	return nil
}

func (p *recordingPublisher) PublishRelease(_ context.Context, d models.Driver) error {
	p.releases = append(p.releases, d)
	return nil
}

// rideFailingGateway accepts driver and rider writes but rejects rides.
type rideFailingGateway struct{ *storage.MemoryGateway }

func (g rideFailingGateway) InsertRide(context.Context, models.Ride) (int64, error) {
	return 0, errors.New("rides table locked")
}

var (
	newYork    = models.Coord{Lat: 40.7128, Lon: -74.0060}
	losAngeles = models.Coord{Lat: 34.0522, Lon: -118.2437}
	chicago    = models.Coord{Lat: 41.8781, Lon: -87.6298}
)

func newPool(t *testing.T, gw storage.Gateway, drivers ...models.Driver) *fleet.Registry {
	t.Helper()
	pool := fleet.NewRegistry(gw)
	ctx := context.Background()
	for _, d := range drivers {
		_, err := pool.RegisterDriver(ctx, d.ID, d.Loc)
		require.NoError(t, err)
		if !d.Available {
			_, err = pool.SetAvailability(ctx, d.ID, false)
			require.NoError(t, err)
		}
	}
	return pool
}

func addRider(t *testing.T, pool *fleet.Registry, id string, loc models.Coord) models.Rider {
	t.Helper()
	r, err := pool.RegisterRider(context.Background(), id, loc)
	require.NoError(t, err)
	return r
}

func TestNearest(t *testing.T) {
	origin := models.Coord{Lat: 40, Lon: -74}

	t.Run("skips busy drivers", func(t *testing.T) {
		best, ok := Nearest(origin, []models.Driver{
			{ID: "close-but-busy", Loc: newYork, Available: false},
			{ID: "far", Loc: losAngeles, Available: true},
		})
		require.True(t, ok)
		assert.Equal(t, "far", best.Driver.ID)
	})

	t.Run("no available drivers", func(t *testing.T) {
		_, ok := Nearest(origin, []models.Driver{{ID: "D1", Loc: newYork}})
		assert.False(t, ok)
		_, ok = Nearest(origin, nil)
		assert.False(t, ok)
	})

	t.Run("first driver wins exact ties", func(t *testing.T) {
		drivers := []models.Driver{
			{ID: "B", Loc: newYork, Available: true},
			{ID: "A", Loc: newYork, Available: true},
			{ID: "C", Loc: newYork, Available: true},
		}
		for i := 0; i < 20; i++ {
			best, ok := Nearest(origin, drivers)
			require.True(t, ok)
			assert.Equal(t, "B", best.Driver.ID)
		}
	})

	t.Run("picks minimum distance", func(t *testing.T) {
		best, ok := Nearest(origin, []models.Driver{
			{ID: "LA", Loc: losAngeles, Available: true},
			{ID: "CHI", Loc: chicago, Available: true},
			{ID: "NY", Loc: newYork, Available: true},
		})
		require.True(t, ok)
		assert.Equal(t, "NY", best.Driver.ID)
		assert.InDelta(t, 79.26, best.DistanceKm, 0.01)
	})
}

func TestMatchRide_NewYorkScenario(t *testing.T) {
	gw := storage.NewMemoryGateway()
	pool := newPool(t, gw,
		models.Driver{ID: "D1", Loc: newYork, Available: true},
		models.Driver{ID: "D2", Loc: losAngeles, Available: false},
	)
	rider := addRider(t, pool, "R1", models.Coord{Lat: 40.0, Lon: -74.0})
	s := NewService(pricing.Default())

	res, ok, err := s.MatchRide(context.Background(), rider, pool)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "D1", res.Driver.ID)
	assert.InDelta(t, 79.26, res.DistanceKm, 0.01)
	assert.InDelta(t, 163.52, res.Fare, 0.01)
	assert.InDelta(t, 118.89, res.DurationMin, 0.01)
	assert.False(t, res.Driver.Available)
	assert.Equal(t, res.Fare, res.Driver.TotalEarnings)

	rides := gw.Rides()
	require.Len(t, rides, 1)
	assert.Equal(t, res.Ride.ID, rides[0].ID)
	assert.Equal(t, "R1", rides[0].RiderID)
	assert.Equal(t, "D1", rides[0].DriverID)
	assert.Equal(t, res.DistanceKm, rides[0].DistanceKm)
	assert.Equal(t, models.PaymentPending, rides[0].PaymentStatus)

	stored, _ := gw.Driver("D1")
	assert.False(t, stored.Available)
	assert.Equal(t, res.Fare, stored.TotalEarnings)

	d2, _ := pool.Driver("D2")
	assert.Zero(t, d2.TotalEarnings)
}

func TestMatchRide_QuoteIsConsistentWithPricing(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(), models.Driver{ID: "D1", Loc: chicago, Available: true})
	rider := addRider(t, pool, "R1", newYork)
	m := pricing.Model{BaseFare: 2, FarePerKm: 1, AverageSpeedKmph: 60}
	s := NewService(m)

	res, ok, err := s.MatchRide(context.Background(), rider, pool)
	require.NoError(t, err)
	require.True(t, ok)

	fare, duration := m.Quote(res.DistanceKm)
	assert.Equal(t, fare, res.Fare)
	assert.Equal(t, duration, res.DurationMin)
	assert.Equal(t, fare, res.Ride.Fare)
	assert.Equal(t, duration, res.Ride.DurationMin)
}

func TestMatchRide_NoAvailableDrivers(t *testing.T) {
	gw := storage.NewMemoryGateway()
	pool := newPool(t, gw,
		models.Driver{ID: "D1", Loc: newYork, Available: false},
		models.Driver{ID: "D2", Loc: losAngeles, Available: false},
	)
	rider := addRider(t, pool, "R1", newYork)
	before := pool.Drivers()

	_, ok, err := NewService(pricing.Default()).MatchRide(context.Background(), rider, pool)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, gw.Rides())
	assert.Empty(t, pool.Rides())
	assert.Equal(t, before, pool.Drivers())
}

func TestMatchRide_EmptyPool(t *testing.T) {
	pool := fleet.NewRegistry(storage.NewMemoryGateway())
	rider := addRider(t, pool, "R1", newYork)

	_, ok, err := NewService(pricing.Default()).MatchRide(context.Background(), rider, pool)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchRide_UnknownRider(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(), models.Driver{ID: "D1", Loc: newYork, Available: true})

	_, ok, err := NewService(pricing.Default()).MatchRide(context.Background(), models.Rider{ID: "ghost", Loc: newYork}, pool)
	assert.ErrorIs(t, err, fleet.ErrNotFound)
	assert.False(t, ok)
	d, _ := pool.Driver("D1")
	assert.True(t, d.Available)
}

func TestMatchRide_AntipodalDriverIsMatched(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(), models.Driver{ID: "far-side", Loc: models.Coord{Lat: 89.26, Lon: 0}, Available: true})
	rider := addRider(t, pool, "R1", models.Coord{Lat: -89.26, Lon: -180})

	res, ok, err := NewService(pricing.Default()).MatchRide(context.Background(), rider, pool)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "far-side", res.Driver.ID)
	assert.InDelta(t, math.Pi*geo.EarthRadiusKm, res.DistanceKm, 0.01)
}

func TestMatchRide_UsesRegisteredRiderLocation(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(),
		models.Driver{ID: "D1", Loc: newYork, Available: true},
		models.Driver{ID: "D2", Loc: losAngeles, Available: true},
	)
	addRider(t, pool, "R1", models.Coord{Lat: 40, Lon: -74})
	moved := models.Rider{ID: "R1", Loc: models.Coord{Lat: 34, Lon: -118}}

	res, ok, err := NewService(pricing.Default()).MatchRide(context.Background(), moved, pool)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "D1", res.Driver.ID)
	assert.Equal(t, models.Coord{Lat: 40, Lon: -74}, res.Rider.Loc)
	assert.InDelta(t, 79.26, res.DistanceKm, 0.01)
}

func TestMatchRide_TieBreakIsReproducible(t *testing.T) {
	for run := 0; run < 5; run++ {
		pool := newPool(t, storage.NewMemoryGateway(),
			models.Driver{ID: "first", Loc: chicago, Available: true},
			models.Driver{ID: "second", Loc: chicago, Available: true},
		)
		rider := addRider(t, pool, "R1", newYork)

		res, ok, err := NewService(pricing.Default()).MatchRide(context.Background(), rider, pool)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "first", res.Driver.ID)
	}
}

func TestMatchRide_BusyDriverNeverSelectedTwice(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(),
		models.Driver{ID: "near", Loc: newYork, Available: true},
		models.Driver{ID: "far", Loc: losAngeles, Available: true},
	)
	s := NewService(pricing.Default())
	ctx := context.Background()

	first, ok, err := s.MatchRide(ctx, addRider(t, pool, "R1", models.Coord{Lat: 40, Lon: -74}), pool)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := s.MatchRide(ctx, addRider(t, pool, "R2", models.Coord{Lat: 40, Lon: -74}), pool)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = s.MatchRide(ctx, addRider(t, pool, "R3", models.Coord{Lat: 40, Lon: -74}), pool)
	require.NoError(t, err)

	assert.Equal(t, "near", first.Driver.ID)
	assert.Equal(t, "far", second.Driver.ID)
	assert.False(t, ok)
}

func TestMatchRide_ReselectsDriverAfterRelease(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(),
		models.Driver{ID: "D1", Loc: newYork, Available: true},
		models.Driver{ID: "D2", Loc: losAngeles, Available: true},
	)
	rider := addRider(t, pool, "R1", models.Coord{Lat: 40, Lon: -74})
	s := NewService(pricing.Default())
	ctx := context.Background()

	first, ok, err := s.MatchRide(ctx, rider, pool)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = pool.SetAvailability(ctx, "D1", true)
	require.NoError(t, err)

	again, ok, err := s.MatchRide(ctx, rider, pool)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first.Driver.ID, again.Driver.ID)
	assert.InDelta(t, 2*first.Fare, again.Driver.TotalEarnings, 1e-9)
	assert.NotEqual(t, first.Ride.ID, again.Ride.ID)
}

func TestMatchRide_PersistenceFailureRollsBack(t *testing.T) {
	gw := rideFailingGateway{storage.NewMemoryGateway()}
	pool := newPool(t, gw, models.Driver{ID: "D1", Loc: newYork, Available: true})
	rider := addRider(t, pool, "R1", newYork)
	notifier := &recordingNotifier{}
	s := NewService(pricing.Default())
	s.Notify = notifier

	_, ok, err := s.MatchRide(context.Background(), rider, pool)
	require.Error(t, err)
	assert.ErrorIs(t, err, fleet.ErrPersistence)
	assert.False(t, ok)

	d, _ := pool.Driver("D1")
	assert.True(t, d.Available)
	assert.Zero(t, d.TotalEarnings)
	stored, _ := gw.Driver("D1")
	assert.True(t, stored.Available)
	assert.Zero(t, stored.TotalEarnings)
	assert.Empty(t, notifier.offers)
}

func TestMatchRide_NotifiesAndPublishesAfterCommit(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(), models.Driver{ID: "D1", Loc: newYork, Available: true})
	rider := addRider(t, pool, "R1", newYork)
	notifier := &recordingNotifier{err: errors.New("driver offline")}
	pub := &recordingPublisher{}
	s := &Service{Pricing: pricing.Default(), Notify: notifier, Events: pub}

	res, ok, err := s.MatchRide(context.Background(), rider, pool)
	require.NoError(t, err, "notification failure must not undo the match")
	require.True(t, ok)
	require.Len(t, notifier.offers, 1)
	assert.Equal(t, res, notifier.offers[0])
	require.Len(t, pub.matches, 1)
	assert.Equal(t, res.Ride.ID, pub.matches[0].Ride.ID)

	d, _ := pool.Driver("D1")
	assert.False(t, d.Available)
}

func TestMatchRide_ConcurrentRequestsAssignAtMostOnce(t *testing.T) {
	const drivers = 5
	const riders = 40

	var fleetDrivers []models.Driver
	for i := 0; i < drivers; i++ {
		fleetDrivers = append(fleetDrivers, models.Driver{ID: fmt.Sprintf("D%d", i), Loc: models.Coord{Lat: 40 + float64(i)*0.01, Lon: -74}, Available: true})
	}
	gw := storage.NewMemoryGateway()
	pool := newPool(t, gw, fleetDrivers...)
	s := NewService(pricing.Default())
	ctx := context.Background()

	var rs []models.Rider
	for i := 0; i < riders; i++ {
		rs = append(rs, addRider(t, pool, fmt.Sprintf("R%d", i), models.Coord{Lat: 40, Lon: -74}))
	}

	var wg sync.WaitGroup
	results := make(chan models.MatchResult, riders)
	errs := make(chan error, riders)
	for _, r := range rs {
		wg.Add(1)
		go func(r models.Rider) {
			defer wg.Done()
			res, ok, err := s.MatchRide(ctx, r, pool)
			if err != nil {
				errs <- err
				return
			}
			if ok {
				results <- res
			}
		}(r)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	seen := make(map[string]bool)
	for res := range results {
		assert.False(t, seen[res.Driver.ID], "driver %s assigned twice", res.Driver.ID)
		seen[res.Driver.ID] = true
	}
	assert.Len(t, seen, drivers)
	assert.Len(t, gw.Rides(), drivers)
	assert.Zero(t, pool.AvailableCount())
}

func TestCompleteRide(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(), models.Driver{ID: "D1", Loc: newYork, Available: false})
	pub := &recordingPublisher{}
	s := &Service{Pricing: pricing.Default(), Events: pub}

	d, err := s.CompleteRide(context.Background(), "D1", chicago, pool)
	require.NoError(t, err)
	assert.True(t, d.Available)
	assert.Equal(t, chicago, d.Loc)
	require.Len(t, pub.releases, 1)
	assert.Equal(t, "D1", pub.releases[0].ID)

	_, err = s.CompleteRide(context.Background(), "ghost", chicago, pool)
	assert.ErrorIs(t, err, fleet.ErrNotFound)
}

func TestCompleteRide_InvalidLocationKeepsDriverBusy(t *testing.T) {
	pool := newPool(t, storage.NewMemoryGateway(), models.Driver{ID: "D1", Loc: newYork, Available: false})

	_, err := NewService(pricing.Default()).CompleteRide(context.Background(), "D1", models.Coord{Lat: 200}, pool)
	assert.ErrorIs(t, err, fleet.ErrInvalidCoordinate)
	d, _ := pool.Driver("D1")
	assert.False(t, d.Available)
	assert.Equal(t, newYork, d.Loc)
}
