package routing

import (
	"fmt"
	"math"
	"sort"

	"viasync/internal/geo"
)

// Cluster partitions stops into batches of at most maxBatchSize. Each batch
// is seeded with the unassigned stop closest to the depot and grown with the
// candidate minimizing
//
//	0.5*meanDistanceToMembers + 0.2*depotDistance + 0.3*timeCompatibility
//
// with distances in kilometres. The heuristic is greedy: it guarantees a
// partition of the input, not an optimal one.
func Cluster(depot geo.Coordinates, stops []Stop, maxBatchSize int) [][]Stop {
	if maxBatchSize < 1 {
		maxBatchSize = 1
	}
	n := len(stops)
	depotDist := make([]float64, n)
	byDepot := make([]int, n)
	for i, s := range stops {
		depotDist[i] = geo.HaversineKm(depot, s.Coord)
		byDepot[i] = i
	}
	sort.SliceStable(byDepot, func(a, b int) bool { return depotDist[byDepot[a]] < depotDist[byDepot[b]] })

	assigned := make([]bool, n)
	remaining := n
	var clusters [][]Stop
	for remaining > 0 {
		var members []int
		for _, i := range byDepot {
			if !assigned[i] {
				members = append(members, i)
				assigned[i] = true
				remaining--
				break
			}
		}
		for len(members) < maxBatchSize && remaining > 0 {
			best, bestScore := -1, math.Inf(1)
			for _, c := range byDepot {
				if assigned[c] {
					continue
				}
				sc := clusterScore(stops, members, c, depotDist[c])
				if sc < bestScore {
					best, bestScore = c, sc
				}
			}
			members = append(members, best)
			assigned[best] = true
			remaining--
		}
		batch := make([]Stop, len(members))
		for j, i := range members {
			batch[j] = stops[i]
		}
		clusters = append(clusters, batch)
	}
	return clusters
}

func clusterScore(stops []Stop, members []int, cand int, depotKm float64) float64 {
	var dist float64
	for _, m := range members {
		dist += geo.HaversineKm(stops[m].Coord, stops[cand].Coord)
	}
	mean := dist / float64(len(members))
	return 0.5*mean + 0.2*depotKm + 0.3*timeCompatibility(stops, members, cand)
}

// timeCompatibility is low for candidates whose window overlaps the members'
// by an hour or more and whose window centre is close to theirs.
func timeCompatibility(stops []Stop, members []int, cand int) float64 {
	c := stops[cand].Window
	var total float64
	for _, m := range members {
		w := stops[m].Window
		overlap := math.Max(0, float64(min(c.End, w.End)-max(c.Start, w.Start)))
		centre := math.Abs(float64(c.Start+c.End)/2 - float64(w.Start+w.End)/2)
		total += math.Max(0, 60-overlap) + math.Min(centre, 240)
	}
	return total / float64(len(members))
}

// ClusterIndex maps a pagination offset to a cluster.
func ClusterIndex(offset, maxBatchSize, count int) (int, error) {
	if offset < 0 || maxBatchSize < 1 {
		return 0, configError(fmt.Sprint(offset), "offset must be >= 0")
	}
	idx := offset / maxBatchSize
	if idx >= count {
		return 0, configError(fmt.Sprint(offset), "offset selects cluster %d but only %d exist", idx+1, count)
	}
	return idx, nil
}
