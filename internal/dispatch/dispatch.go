package dispatch

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// OfferMessage is the payload a driver receives for a committed match,
// over a websocket session or a webhook.
type OfferMessage struct {
	Type        string       `json:"type"`
	RideID      int64        `json:"ride_id"`
	DriverID    string       `json:"driver_id"`
	RiderID     string       `json:"rider_id"`
	Pickup      models.Coord `json:"pickup"`
	DistanceKm  float64      `json:"distance_km"`
	Fare        float64      `json:"fare"`
	DurationMin float64      `json:"duration_min"`
}

const offerType = "ride_offer"

func NewOfferMessage(m models.MatchResult) OfferMessage {
	return OfferMessage{
		Type:        offerType,
		RideID:      m.Ride.ID,
		DriverID:    m.Driver.ID,
		RiderID:     m.Rider.ID,
		Pickup:      m.Rider.Loc,
		DistanceKm:  m.DistanceKm,
		Fare:        m.Fare,
		DurationMin: m.DurationMin,
	}
}

// OfferNotifier is anything that can deliver a match to its driver.
type OfferNotifier interface {
	Offer(ctx context.Context, m models.MatchResult) error
}

// Fallback tries Primary and, if it fails, Secondary. Either may be nil.
type Fallback struct {
	Primary   OfferNotifier
	Secondary OfferNotifier
}

func (f *Fallback) Offer(ctx context.Context, m models.MatchResult) error {
	var primaryErr error
	if f.Primary != nil {
		if primaryErr = f.Primary.Offer(ctx, m); primaryErr == nil {
			return nil
		}
	}
	if f.Secondary == nil {
		if primaryErr == nil {
			return ErrNoSession
		}
		return primaryErr
	}
	if err := f.Secondary.Offer(ctx, m); err != nil {
		return errors.Join(primaryErr, err)
	}
	return nil
}
