package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/example/ride-dispatch/internal/models"
)

var errReadOnly = errors.New("fleet: mutation inside read-only view")

// Tx is a handle on the registry valid only inside Update or View.
type Tx struct {
	r        *Registry
	ctx      context.Context
	readOnly bool

	undo      map[string]models.Driver
	undoOrder []string
}

func (tx *Tx) Driver(id string) (models.Driver, bool) {
	d, ok := tx.r.drivers[id]
	return d, ok
}

// Drivers returns every driver in registration order.
func (tx *Tx) Drivers() []models.Driver { return tx.r.driversLocked() }

func (tx *Tx) Rider(id string) (models.Rider, bool) {
	rd, ok := tx.r.riders[id]
	return rd, ok
}

func (tx *Tx) RegisterDriver(id string, loc models.Coord) (models.Driver, error) {
	if tx.readOnly {
		return models.Driver{}, errReadOnly
	}
	if err := loc.Validate(); err != nil {
		return models.Driver{}, fmt.Errorf("driver %s: %w: %v", id, ErrInvalidCoordinate, err)
	}
	if _, ok := tx.r.drivers[id]; ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", id, ErrDuplicateID)
	}
	d := models.Driver{ID: id, Loc: loc, Available: true}
	if err := tx.r.gw.UpsertDriver(tx.ctx, d); err != nil {
		return models.Driver{}, &PersistenceError{Op: "register driver", ID: id, Err: err}
	}
	tx.r.drivers[id] = d
	tx.r.order = append(tx.r.order, id)
	return d, nil
}

func (tx *Tx) RegisterRider(id string, loc models.Coord) (models.Rider, error) {
	if tx.readOnly {
		return models.Rider{}, errReadOnly
	}
	if err := loc.Validate(); err != nil {
		return models.Rider{}, fmt.Errorf("rider %s: %w: %v", id, ErrInvalidCoordinate, err)
	}
	if _, ok := tx.r.riders[id]; ok {
		return models.Rider{}, fmt.Errorf("rider %s: %w", id, ErrDuplicateID)
	}
	rd := models.Rider{ID: id, Loc: loc}
	if err := tx.r.gw.InsertRider(tx.ctx, rd); err != nil {
		return models.Rider{}, &PersistenceError{Op: "register rider", ID: id, Err: err}
	}
	tx.r.riders[id] = rd
	return rd, nil
}

func (tx *Tx) SetAvailability(driverID string, available bool) (models.Driver, error) {
	return tx.mutateDriver("set availability", driverID, func(d *models.Driver) error {
		d.Available = available
		return nil
	})
}

func (tx *Tx) UpdateLocation(driverID string, loc models.Coord) (models.Driver, error) {
	return tx.mutateDriver("update location", driverID, func(d *models.Driver) error {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("driver %s: %w: %v", driverID, ErrInvalidCoordinate, err)
		}
		d.Loc = loc
		return nil
	})
}

func (tx *Tx) AccrueEarnings(driverID string, fare float64) (models.Driver, error) {
	return tx.mutateDriver("accrue earnings", driverID, func(d *models.Driver) error {
		if fare < 0 || math.IsNaN(fare) || math.IsInf(fare, 0) {
			return fmt.Errorf("fare %v: %w", fare, ErrInvalidAmount)
		}
		d.TotalEarnings += fare
		return nil
	})
}

// RecordRide appends a Pending ride for a registered rider and driver. The
// id is assigned by the gateway.
func (tx *Tx) RecordRide(riderID, driverID string, distanceKm, fare, durationMin float64) (models.Ride, error) {
	if tx.readOnly {
		return models.Ride{}, errReadOnly
	}
	if _, ok := tx.r.riders[riderID]; !ok {
		return models.Ride{}, fmt.Errorf("rider %s: %w", riderID, ErrNotFound)
	}
	if _, ok := tx.r.drivers[driverID]; !ok {
		return models.Ride{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	for _, v := range []float64{distanceKm, fare, durationMin} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return models.Ride{}, fmt.Errorf("ride value %v: %w", v, ErrInvalidAmount)
		}
	}
	ride := models.Ride{
		RiderID:       riderID,
		DriverID:      driverID,
		DistanceKm:    distanceKm,
		Fare:          fare,
		DurationMin:   durationMin,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     tx.r.now(),
	}
	id, err := tx.r.gw.InsertRide(tx.ctx, ride)
	if err != nil {
		return models.Ride{}, &PersistenceError{Op: "record ride", ID: riderID + "/" + driverID, Err: err}
	}
	ride.ID = id
	tx.r.rides = append(tx.r.rides, ride)
	return ride, nil
}

// mutateDriver applies fn to a copy, persists the copy and only then
// replaces the in-memory row.
func (tx *Tx) mutateDriver(op, driverID string, fn func(d *models.Driver) error) (models.Driver, error) {
	if tx.readOnly {
		return models.Driver{}, errReadOnly
	}
	prev, ok := tx.r.drivers[driverID]
	if !ok {
		return models.Driver{}, fmt.Errorf("driver %s: %w", driverID, ErrNotFound)
	}
	next := prev
	if err := fn(&next); err != nil {
		return models.Driver{}, err
	}
	if err := tx.r.gw.UpsertDriver(tx.ctx, next); err != nil {
		return models.Driver{}, &PersistenceError{Op: op, ID: driverID, Err: err}
	}
	if _, seen := tx.undo[driverID]; !seen {
		tx.undo[driverID] = prev
		tx.undoOrder = append(tx.undoOrder, driverID)
	}
	tx.r.drivers[driverID] = next
	return next, nil
}

func (tx *Tx) rollback() error {
	if len(tx.undoOrder) == 0 {
		return nil
	}
	ctx := context.WithoutCancel(tx.ctx)
	var errs []error
	for i := len(tx.undoOrder) - 1; i >= 0; i-- {
		id := tx.undoOrder[i]
		prev := tx.undo[id]
		tx.r.drivers[id] = prev
		if err := tx.r.gw.UpsertDriver(ctx, prev); err != nil {
			errs = append(errs, &PersistenceError{Op: "restore driver", ID: id, Err: err})
		}
	}
	return errors.Join(errs...)
}
