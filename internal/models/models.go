package models

import (
	"fmt"
	"math"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate reports whether c lies within lat [-90,90] and lon [-180,180].
func (c Coord) Validate() error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90,90]", c.Lat)
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180,180]", c.Lon)
	}
	return nil
}

type Driver struct {
	ID            string  `json:"id"`
	Loc           Coord   `json:"loc"`
	Available     bool    `json:"available"`
	TotalEarnings float64 `json:"total_earnings"`
}

type Rider struct {
	ID  string `json:"id"`
	Loc Coord  `json:"loc"`
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentFailed  PaymentStatus = "Failed"
)

type Ride struct {
	ID            int64         `json:"id"`
	RiderID       string        `json:"rider_id"`
	DriverID      string        `json:"driver_id"`
	DistanceKm    float64       `json:"distance_km"`
	Fare          float64       `json:"fare"`
	DurationMin   float64       `json:"duration_min"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// MatchResult is the outcome of a successful match. Driver reflects the
// committed state (busy, earnings already accrued).
type MatchResult struct {
	Rider       Rider   `json:"rider"`
	Driver      Driver  `json:"driver"`
	DistanceKm  float64 `json:"distance_km"`
	Fare        float64 `json:"fare"`
	DurationMin float64 `json:"duration_min"`
	Ride        Ride    `json:"ride"`
}

// CompletionEvent frees a driver at a new location once a ride is over.
type CompletionEvent struct {
	DriverID string `json:"driver_id"`
	Loc      Coord  `json:"loc"`
}
