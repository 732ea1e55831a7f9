package opt

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	h7  = 7 * 3600
	h9  = 9 * 3600
	end = 23*3600 + 59*60
)

// uniform builds a problem where every pair of distinct nodes is dist meters
// and secs seconds apart.
func uniform(n, dist, secs int) Problem {
	p := Problem{
		DistanceMatrix: make([][]int, n),
		TimeMatrix:     make([][]int, n),
		TimeWindows:    make([][2]int, n),
		Demands:        make([]int, n),
		ServiceTimes:   make([]int, n),
	}
	for i := 0; i < n; i++ {
		p.DistanceMatrix[i] = make([]int, n)
		p.TimeMatrix[i] = make([]int, n)
		for j := 0; j < n; j++ {
			if i != j {
				p.DistanceMatrix[i][j] = dist
				p.TimeMatrix[i][j] = secs
			}
		}
		p.TimeWindows[i] = [2]int{h7, end}
		if i > 0 {
			p.Demands[i] = 1
			p.ServiceTimes[i] = 600
		}
	}
	return p
}

func quickEngine() *Engine {
	return &Engine{Seed: 7, TimeBudget: 5 * time.Second, IterationsLimit: 40, MaxWaitSec: 1800}
}

func TestEngineSingleDelivery(t *testing.T) {
	p := uniform(2, 1000, 600)
	p.TimeWindows[1] = [2]int{h9, 10 * 3600}
	p.VehicleCapacities = []int{10}

	sol, err := quickEngine().Solve(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, sol.Routes, 1)

	r := sol.Routes[0]
	assert.Equal(t, []int{0, 1, 0}, r.Route)
	// leaves just in time for the 09:00 opening
	assert.Equal(t, []int{h9 - 600, h9 + 600, h9 + 1200}, r.ArrivalTimes)
	assert.Equal(t, 2000, r.Distance)
	assert.Equal(t, 1800, r.Time)
	assert.Equal(t, []int{0, 1, 1}, r.Loads)
	assert.Equal(t, 1, sol.NumVehiclesUsed)
}

func TestEngineUnreachableWindowIsInfeasible(t *testing.T) {
	p := uniform(2, 1000, 600)
	p.TimeWindows[1] = [2]int{3600, 5400} // closes before the depot opens
	p.VehicleCapacities = []int{10}

	_, err := quickEngine().Solve(context.Background(), p)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestEngineCapacityNeedsMoreVehicles(t *testing.T) {
	p := uniform(4, 1000, 300)
	p.VehicleCapacities = []int{2, 2}

	sol, err := quickEngine().Solve(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, ValidateSolution(p, sol))
	assert.Equal(t, 2, sol.NumVehiclesUsed)
	assert.Equal(t, 3, sol.TotalLoad)
	for _, r := range sol.Routes {
		assert.LessOrEqual(t, r.Load, r.Capacity)
	}

	p.VehicleCapacities = []int{2}
	_, err = quickEngine().Solve(context.Background(), p)
	assert.ErrorIs(t, err, ErrInfeasible)
}

func TestEngineWaitLimit(t *testing.T) {
	base := uniform(3, 1000, 600)
	base.TimeWindows[1] = [2]int{h9, h9 + 1800}
	base.TimeWindows[2] = [2]int{12 * 3600, 13 * 3600}

	t.Run("two vehicles split the gap", func(t *testing.T) {
		p := base
		p.VehicleCapacities = []int{5, 5}
		sol, err := quickEngine().Solve(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, 2, sol.NumVehiclesUsed)
	})
	t.Run("one vehicle cannot wait that long", func(t *testing.T) {
		p := base
		p.VehicleCapacities = []int{5}
		_, err := quickEngine().Solve(context.Background(), p)
		assert.ErrorIs(t, err, ErrInfeasible)
	})
	t.Run("no limit", func(t *testing.T) {
		p := base
		p.VehicleCapacities = []int{5}
		e := quickEngine()
		e.MaxWaitSec = 0
		sol, err := e.Solve(context.Background(), p)
		require.NoError(t, err)
		require.Len(t, sol.Routes, 1)
		assert.Equal(t, []int{0, 1, 2, 0}, sol.Routes[0].Route)
	})
}

func TestEngineRandomInstances(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for run := 0; run < 5; run++ {
		n := 10
		xs := make([]int, n)
		ys := make([]int, n)
		for i := range xs {
			xs[i], ys[i] = rng.Intn(5000), rng.Intn(5000)
		}
		p := uniform(n, 0, 0)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				d := abs(xs[i]-xs[j]) + abs(ys[i]-ys[j])
				p.DistanceMatrix[i][j] = d
				p.TimeMatrix[i][j] = d / 10
			}
			if i > 0 {
				start := h7 + rng.Intn(4)*3600
				p.TimeWindows[i] = [2]int{start, start + 6*3600}
				p.Demands[i] = 1 + rng.Intn(3)
			}
		}
		p.VehicleCapacities = []int{20, 20, 20}

		sol, err := quickEngine().Solve(context.Background(), p)
		require.NoError(t, err)
		require.NoError(t, ValidateSolution(p, sol))

		visited := 0
		for _, r := range sol.Routes {
			assert.LessOrEqual(t, r.Load, r.Capacity)
			for k := 1; k < len(r.Route)-1; k++ {
				idx := r.Route[k]
				begin := r.ArrivalTimes[k] - p.ServiceTimes[idx]
				assert.GreaterOrEqual(t, begin, p.TimeWindows[idx][0])
				assert.LessOrEqual(t, begin, p.TimeWindows[idx][1])
				visited++
			}
			assert.LessOrEqual(t, r.ArrivalTimes[len(r.ArrivalTimes)-1], end)
		}
		assert.Equal(t, n-1, visited)
	}
}

func TestEngineDeterministicForSeed(t *testing.T) {
	p := uniform(7, 1000, 300)
	for i := 1; i < 7; i++ {
		p.DistanceMatrix[0][i] = 500 * i
		p.DistanceMatrix[i][0] = 500 * i
	}
	p.VehicleCapacities = []int{3, 3, 3}

	a, err := quickEngine().Solve(context.Background(), p)
	require.NoError(t, err)
	b, err := quickEngine().Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEngineCancelled(t *testing.T) {
	p := uniform(5, 1000, 300)
	p.VehicleCapacities = []int{10}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Engine{Seed: 1, TimeBudget: time.Second}).Solve(ctx, p)
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineRecordsMetrics(t *testing.T) {
	p := uniform(4, 1000, 300)
	p.VehicleCapacities = []int{10}
	ctx := WithBatchKey(context.Background(), "test-batch")

	_, err := quickEngine().Solve(ctx, p)
	require.NoError(t, err)

	recent := RecentMetrics(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "test-batch", recent[0].Key)
	assert.Equal(t, 40, recent[0].Metrics.Iterations)
	assert.Equal(t, recent[0].Metrics.BestCost, recent[0].Metrics.FinalCost)
}

func TestEngineDepotOnly(t *testing.T) {
	p := uniform(1, 0, 0)
	p.VehicleCapacities = []int{1}
	sol, err := quickEngine().Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, sol.Routes)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
