package routing

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"viasync/internal/geo"
)

var depotCoord = geo.Coordinates{Lat: 40.0, Lon: -75.0}

func randomStops(rng *rand.Rand, n int) []Stop {
	stops := make([]Stop, n)
	for i := range stops {
		start := 8*60 + rng.Intn(8)*60
		stops[i] = stopAt(fmt.Sprintf("d%03d", i), 40+rng.Float64()*0.3, -75+rng.Float64()*0.3, start, start+120)
	}
	return stops
}

func TestClusterThirtyStops(t *testing.T) {
	stops := randomStops(rand.New(rand.NewSource(1)), 30)

	clusters := Cluster(depotCoord, stops, 24)
	require.GreaterOrEqual(t, len(clusters), 2)
	seen := map[string]int{}
	for _, c := range clusters {
		assert.LessOrEqual(t, len(c), 24)
		for _, s := range c {
			seen[s.ID]++
		}
	}
	assert.Len(t, seen, 30)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestClusterPartitionsAnyInput(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 25; run++ {
		n := rng.Intn(60)
		size := 1 + rng.Intn(15)
		stops := randomStops(rng, n)

		clusters := Cluster(depotCoord, stops, size)
		assert.Len(t, clusters, (n+size-1)/size)
		var ids []string
		for _, c := range clusters {
			assert.NotEmpty(t, c)
			assert.LessOrEqual(t, len(c), size)
			for _, s := range c {
				ids = append(ids, s.ID)
			}
		}
		var want []string
		for _, s := range stops {
			want = append(want, s.ID)
		}
		assert.ElementsMatch(t, want, ids)
	}
}

func TestClusterSeedsNearDepotAndGroupsNeighbours(t *testing.T) {
	near := []Stop{
		stopAt("n1", 40.001, -75.001, 9*60, 11*60),
		stopAt("n2", 40.002, -75.001, 9*60, 11*60),
	}
	far := []Stop{
		stopAt("f1", 40.5, -75.5, 9*60, 11*60),
		stopAt("f2", 40.501, -75.5, 9*60, 11*60),
	}
	stops := []Stop{far[0], near[1], far[1], near[0]}

	clusters := Cluster(depotCoord, stops, 2)
	require.Len(t, clusters, 2)
	assert.Equal(t, "n1", clusters[0][0].ID)
	assert.ElementsMatch(t, []string{"n1", "n2"}, []string{clusters[0][0].ID, clusters[0][1].ID})
	assert.ElementsMatch(t, []string{"f1", "f2"}, []string{clusters[1][0].ID, clusters[1][1].ID})
}

func TestClusterPrefersCompatibleWindows(t *testing.T) {
	// c seeds the cluster; a and b are both close to it but only a shares its morning window
	stops := []Stop{
		stopAt("a", 40.01, -75.00, 9*60, 10*60),
		stopAt("b", 40.02, -75.00, 16*60, 17*60),
		stopAt("c", 40.00, -75.01, 9*60, 10*60),
	}
	clusters := Cluster(depotCoord, stops, 2)
	require.Len(t, clusters, 2)
	ids := []string{clusters[0][0].ID, clusters[0][1].ID}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
}

func TestClusterIndex(t *testing.T) {
	idx, err := ClusterIndex(0, 24, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	idx, err = ClusterIndex(30, 24, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	_, err = ClusterIndex(48, 24, 2)
	assert.Equal(t, KindConfiguration, KindOf(err))
	_, err = ClusterIndex(-1, 24, 2)
	assert.Equal(t, KindConfiguration, KindOf(err))
}
