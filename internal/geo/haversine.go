package geo

import (
	"context"
	"math"
)

// Straight builds matrices from great-circle distance at a constant speed.
// It needs no network and is the default for development.
type Straight struct {
	SpeedKph float64
}

func (s Straight) speed() float64 {
	if s.SpeedKph <= 0 {
		return 40
	}
	return s.SpeedKph
}

func (s Straight) Matrix(ctx context.Context, points []Coordinates) (Matrix, error) {
	if err := ctx.Err(); err != nil {
		return Matrix{}, err
	}
	n := len(points)
	mps := s.speed() / 3.6
	out := Matrix{Distances: make([][]int, n), Durations: make([][]int, n)}
	for i := 0; i < n; i++ {
		out.Distances[i] = make([]int, n)
		out.Durations[i] = make([]int, n)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			d := HaversineMeters(points[i], points[j])
			out.Distances[i][j] = int(math.Round(d))
			out.Durations[i][j] = int(math.Round(d / mps))
		}
	}
	return out, nil
}
