// Package geo is the boundary to address geocoding, travel matrices and
// traffic-aware route durations.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrNotFound is returned when a geocoder has no result for an address.
var ErrNotFound = errors.New("address not found")

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key rounds to 6 decimal degrees (~0.1 m); equal keys are the same point.
func (c Coordinates) Key() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Matrix holds pairwise travel metrics; index 0 is the depot by convention.
type Matrix struct {
	Distances [][]int `json:"distances"` // meters
	Durations [][]int `json:"durations"` // seconds
}

// Size returns the row count, or -1 when distances and durations disagree
// or a row is not square.
func (m Matrix) Size() int {
	n := len(m.Distances)
	if len(m.Durations) != n {
		return -1
	}
	for i := 0; i < n; i++ {
		if len(m.Distances[i]) != n || len(m.Durations[i]) != n {
			return -1
		}
	}
	return n
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (Coordinates, error)
}

type MatrixProvider interface {
	Matrix(ctx context.Context, points []Coordinates) (Matrix, error)
}

// ETAProvider returns the traffic-aware driving duration along points in order.
type ETAProvider interface {
	RouteDuration(ctx context.Context, points []Coordinates) (int, error)
}

// GeocodeError names the address that could not be resolved.
type GeocodeError struct {
	Address string
	Err     error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("geocoding failed for %q: %v", e.Address, e.Err)
}

func (e *GeocodeError) Unwrap() error { return e.Err }

// HaversineMeters is the great-circle distance between two points.
func HaversineMeters(a, b Coordinates) float64 {
	const R = 6371000.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// HaversineKm is HaversineMeters in kilometres.
func HaversineKm(a, b Coordinates) float64 { return HaversineMeters(a, b) / 1000 }
