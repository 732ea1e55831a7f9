package routing

import (
	"sort"
	"strings"

	"viasync/internal/geo"
)

// Order is one original delivery request.
type Order struct {
	ID       string
	Address  string
	Window   Window
	Demand   int
	Metadata map[string]any
}

// Stop is a routable location. A stop built from several deliveries at the
// same point carries their ids in MergedIDs and their records in Orders.
type Stop struct {
	ID        string
	Address   string
	Coord     geo.Coordinates
	Window    Window
	Demand    int
	MergedIDs []string
	Orders    []Order
}

func (s Stop) memberIDs() []string {
	if len(s.MergedIDs) > 0 {
		return s.MergedIDs
	}
	return []string{s.ID}
}

type Depot struct {
	Address string
	Coord   geo.Coordinates
	Window  Window
}

// MergeDuplicates collapses stops whose coordinates agree to six decimals.
// A merged stop takes the union of the member windows, the sum of their
// demands and the first member's address; its id is the sorted member ids
// joined with ",". Output order follows first appearance and a location
// with a single stop is passed through unchanged, so merging twice is the
// same as merging once.
func MergeDuplicates(stops []Stop) []Stop {
	groups := map[string][]int{}
	var keys []string
	for i, s := range stops {
		k := s.Coord.Key()
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], i)
	}

	out := make([]Stop, 0, len(keys))
	for _, k := range keys {
		members := groups[k]
		if len(members) == 1 {
			out = append(out, stops[members[0]])
			continue
		}
		first := stops[members[0]]
		merged := Stop{Address: first.Address, Coord: first.Coord, Window: first.Window}
		seen := map[string]bool{}
		var ids []string
		for _, i := range members {
			s := stops[i]
			for _, id := range s.memberIDs() {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
			merged.Window.Start = min(merged.Window.Start, s.Window.Start)
			merged.Window.End = max(merged.Window.End, s.Window.End)
			merged.Demand += s.Demand
			merged.Orders = append(merged.Orders, s.Orders...)
		}
		sort.Strings(ids)
		merged.ID = strings.Join(ids, ",")
		merged.MergedIDs = ids
		out = append(out, merged)
	}
	return out
}
