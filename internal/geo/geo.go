package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/example/ride-dispatch/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// DefaultCellPrecision gives ~150m cells, enough to bucket drivers per block.
const DefaultCellPrecision = 7

// DistanceKm returns the haversine great-circle distance between a and b in
// kilometers. Inputs are not validated; NaN propagates.
func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// Haversine distance in kilometers
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	rLat1 := toRadians(lat1)
	rLat2 := toRadians(lat2)
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push a just past 1 for antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Cell encodes c as a geohash of the given precision.
func Cell(c models.Coord, precision uint) string {
	return geohash.EncodeWithPrecision(c.Lat, c.Lon, precision)
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
