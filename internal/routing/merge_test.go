package routing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viasync/internal/geo"
)

func stopAt(id string, lat, lon float64, start, end int) Stop {
	return Stop{
		ID:      id,
		Address: "addr " + id,
		Coord:   geo.Coordinates{Lat: lat, Lon: lon},
		Window:  Window{Start: start, End: end},
		Demand:  1,
		Orders:  []Order{{ID: id, Address: "addr " + id, Window: Window{Start: start, End: end}, Demand: 1}},
	}
}

func TestMergeSameCoordinates(t *testing.T) {
	stops := []Stop{
		stopAt("b", 40.7128, -74.0060, 9*60, 10*60),
		stopAt("x", 40.8000, -74.1000, 9*60, 17*60),
		stopAt("a", 40.71280004, -74.00600001, 9*60+30, 11*60),
	}

	merged := MergeDuplicates(stops)
	require.Len(t, merged, 2)

	m := merged[0]
	assert.Equal(t, "a,b", m.ID)
	assert.Equal(t, []string{"a", "b"}, m.MergedIDs)
	assert.Equal(t, Window{9 * 60, 11 * 60}, m.Window, "union of member windows")
	assert.Equal(t, 2, m.Demand)
	assert.Equal(t, "addr b", m.Address)
	assert.Len(t, m.Orders, 2)

	assert.Equal(t, stops[1], merged[1], "singletons pass through")
}

func TestMergeIsIdempotent(t *testing.T) {
	var stops []Stop
	for i := 0; i < 12; i++ {
		// every third stop shares a point with the previous one
		lat := 40.0 + float64(i/3)*0.01 + float64(i%3/2)*0.005
		stops = append(stops, stopAt(fmt.Sprintf("s%02d", i), lat, -75, 8*60+i*10, 12*60+i*10))
	}
	once := MergeDuplicates(stops)
	twice := MergeDuplicates(once)
	assert.Equal(t, once, twice)

	total := 0
	for _, s := range once {
		total += s.Demand
	}
	assert.Equal(t, len(stops), total)
}

func TestMergeFlattensAlreadyMergedStops(t *testing.T) {
	first := MergeDuplicates([]Stop{stopAt("a", 1, 1, 60, 120), stopAt("c", 1, 1, 60, 120)})
	require.Len(t, first, 1)

	again := MergeDuplicates(append(first, stopAt("b", 1, 1, 30, 90)))
	require.Len(t, again, 1)
	assert.Equal(t, "a,b,c", again[0].ID)
	assert.Equal(t, Window{30, 120}, again[0].Window)
	assert.Equal(t, 3, again[0].Demand)
}
