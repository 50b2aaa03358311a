package pricing

import (
	"errors"
	"fmt"
	"math"
)

const (
	DefaultBaseFare         = 5.0
	DefaultFarePerKm        = 2.0
	DefaultAverageSpeedKmph = 40.0
)

// Model derives fare and trip duration from a distance.
type Model struct {
	BaseFare         float64
	FarePerKm        float64
	AverageSpeedKmph float64
}

func Default() Model {
	return Model{BaseFare: DefaultBaseFare, FarePerKm: DefaultFarePerKm, AverageSpeedKmph: DefaultAverageSpeedKmph}
}

// Validate rejects constants that would produce negative fares or undefined durations.
func (m Model) Validate() error {
	var errs []error
	if m.BaseFare < 0 || math.IsNaN(m.BaseFare) {
		errs = append(errs, fmt.Errorf("base fare must be >= 0, got %v", m.BaseFare))
	}
	if m.FarePerKm < 0 || math.IsNaN(m.FarePerKm) {
		errs = append(errs, fmt.Errorf("fare per km must be >= 0, got %v", m.FarePerKm))
	}
	if !(m.AverageSpeedKmph > 0) {
		errs = append(errs, fmt.Errorf("average speed must be > 0, got %v", m.AverageSpeedKmph))
	}
	return errors.Join(errs...)
}

// Quote returns the fare in currency units and the duration in minutes for a
// trip of distanceKm.
func (m Model) Quote(distanceKm float64) (fare, durationMin float64) {
	fare = m.BaseFare + distanceKm*m.FarePerKm
	durationMin = distanceKm / m.AverageSpeedKmph * 60
	return fare, durationMin
}
