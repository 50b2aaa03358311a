package geo

import (
	"math"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceSamePointIsZero(t *testing.T) {
	for _, c := range []models.Coord{{Lat: 40.7128, Lon: -74.0060}, {Lat: -33.86, Lon: 151.2}, {Lat: 90, Lon: 0}} {
		if d := DistanceKm(c, c); d != 0 {
			t.Fatalf("distance(%v,%v) = %f, want 0", c, c, d)
		}
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := models.Coord{Lat: 40.0, Lon: -74.0}
	b := models.Coord{Lat: 34.0522, Lon: -118.2437}
	if ab, ba := DistanceKm(a, b), DistanceKm(b, a); math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("asymmetric: %f vs %f", ab, ba)
	}
}

func TestDistanceKnownValues(t *testing.T) {
	cases := []struct {
		name string
		a, b models.Coord
		want float64
	}{
		{"one degree of longitude at equator", models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 0, Lon: 1}, 111.195},
		{"rider to new york", models.Coord{Lat: 40.0, Lon: -74.0}, models.Coord{Lat: 40.7128, Lon: -74.0060}, 79.261},
		{"rider to los angeles", models.Coord{Lat: 40.0, Lon: -74.0}, models.Coord{Lat: 34.0522, Lon: -118.2437}, 3942.043},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DistanceKm(tc.a, tc.b)
			if math.Abs(got-tc.want) > 0.01 {
				t.Fatalf("got %.4f km, want %.3f", got, tc.want)
			}
		})
	}
}

func TestDistanceAntipodalIsHalfCircumference(t *testing.T) {
	want := math.Pi * EarthRadiusKm
	pairs := [][2]models.Coord{
		{{Lat: -89.26, Lon: -180}, {Lat: 89.26, Lon: 0}},
		{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 180}},
		{{Lat: 90, Lon: 0}, {Lat: -90, Lon: 0}},
	}
	for lat := -89.0; lat <= 89; lat += 0.37 {
		for lon := -180.0; lon < 0; lon += 7.3 {
			pairs = append(pairs, [2]models.Coord{{Lat: lat, Lon: lon}, {Lat: -lat, Lon: lon + 180}})
		}
	}
	for _, p := range pairs {
		got := DistanceKm(p[0], p[1])
		if math.IsNaN(got) || math.Abs(got-want) > 0.01 {
			t.Fatalf("distance(%v,%v) = %f, want %f", p[0], p[1], got, want)
		}
	}
}

func TestDistanceNaNPropagates(t *testing.T) {
	d := DistanceKm(models.Coord{Lat: math.NaN()}, models.Coord{})
	if !math.IsNaN(d) {
		t.Fatalf("expected NaN, got %f", d)
	}
}

func TestCell(t *testing.T) {
	if got := Cell(models.Coord{Lat: 40.7128, Lon: -74.0060}, DefaultCellPrecision); got != "dr5regw" {
		t.Fatalf("unexpected cell %q", got)
	}
}
