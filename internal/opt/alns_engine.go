package opt

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"
	"time"
)

// Engine is an in-process VRPTW solver using adaptive large neighbourhood
// search: greedy seed, random/Shaw removal, greedy/regret-2 insertion, local
// improvement and simulated-annealing acceptance with adaptive weights.
type Engine struct {
	Seed            int64         // 0 seeds from the clock
	TimeBudget      time.Duration // search time; default 2s
	IterationsLimit int           // optional iteration cap
	MaxWaitSec      int           // longest wait before a window opens; 0 = unlimited
	TimeWeight      float64       // cost per second of route duration; distance costs 1 per meter
	InitialTemp     float64       // 0 derives it from the seed cost
	Cooling         float64       // cooling factor per iteration

	InitialRemovalWeights   []float64 // [random, shaw]
	InitialInsertionWeights []float64 // [greedy, regret2]
}

type RoutePlan struct {
	Vehicle int
	Order   []int // node indices, depot excluded
}

type solution struct {
	Plans      []RoutePlan
	Unassigned []int
	Cost       float64
}

func (s solution) clone() solution {
	out := solution{Plans: make([]RoutePlan, len(s.Plans)), Unassigned: append([]int(nil), s.Unassigned...), Cost: s.Cost}
	for i, pl := range s.Plans {
		out.Plans[i] = RoutePlan{Vehicle: pl.Vehicle, Order: append([]int(nil), pl.Order...)}
	}
	return out
}

type Metrics struct {
	RemovalSelects        [2]int // random, shaw
	InsertSelects         [2]int // greedy, regret2
	Iterations            int
	Improvements          int
	AcceptedWorse         int
	BestCost              float64
	FinalCost             float64
	FinalRemovalWeights   [2]float64
	FinalInsertionWeights [2]float64
	Snapshots             []WeightSnapshot
}

type WeightSnapshot struct {
	Iteration int
	Removal   [2]float64
	Insertion [2]float64
}

const unassignedPenalty = 1e9

// schedule is the timing of one vehicle's plan.
type schedule struct {
	depart, ret int
	arrivals    []int // service start + service time, per planned node
	loads       []int // cumulative load after each planned node
	dist, load  int
}

type search struct {
	p          Problem
	maxWait    int
	timeWeight float64
	rng        *rand.Rand
}

// Solve implements Solver.
func (e *Engine) Solve(ctx context.Context, p Problem) (Solution, error) {
	if err := ValidateProblem(p); err != nil {
		return Solution{}, err
	}
	seed := e.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	tw := e.TimeWeight
	if tw <= 0 {
		tw = 1
	}
	s := &search{p: p, maxWait: e.MaxWaitSec, timeWeight: tw, rng: rand.New(rand.NewSource(seed))}

	if p.Nodes() == 1 {
		return Solution{Routes: []VehicleRoute{}}, nil
	}
	if node, ok := s.unservable(); ok {
		return Solution{}, fmt.Errorf("%w: node %d cannot be served by any vehicle on its own", ErrInfeasible, node)
	}

	best, m, err := s.run(ctx, e)
	RecordMetrics(BatchKey(ctx), m)
	if err != nil {
		return Solution{}, &ProcessError{Op: "solve", Err: err}
	}
	if len(best.Unassigned) > 0 {
		return Solution{}, fmt.Errorf("%w: %d of %d stops could not be routed", ErrInfeasible, len(best.Unassigned), p.Nodes()-1)
	}
	log.Printf("[SOLVER] alns nodes=%d vehicles=%d iterations=%d best=%.0f", p.Nodes(), len(p.VehicleCapacities), m.Iterations, m.BestCost)
	return s.toSolution(best), nil
}

func (s *search) run(ctx context.Context, e *Engine) (solution, Metrics, error) {
	nodes := make([]int, 0, s.p.Nodes()-1)
	for i := 1; i < s.p.Nodes(); i++ {
		nodes = append(nodes, i)
	}
	// tightest deadlines first gives the greedy seed a feasible shape
	sort.SliceStable(nodes, func(a, b int) bool {
		return s.p.TimeWindows[nodes[a]][1] < s.p.TimeWindows[nodes[b]][1]
	})

	curr := s.greedyInsert(s.empty(), nodes)
	curr = s.improve(curr)
	best := curr

	remW := []float64{1, 1}
	insW := []float64{1, 1}
	if len(e.InitialRemovalWeights) == 2 {
		remW = []float64{e.InitialRemovalWeights[0], e.InitialRemovalWeights[1]}
	}
	if len(e.InitialInsertionWeights) == 2 {
		insW = []float64{e.InitialInsertionWeights[0], e.InitialInsertionWeights[1]}
	}
	temp := e.InitialTemp
	if temp <= 0 {
		temp = math.Max(1, 0.01*math.Mod(best.Cost, unassignedPenalty))
	}
	cool := 0.995
	if e.Cooling > 0 && e.Cooling < 1 {
		cool = e.Cooling
	}
	budget := e.TimeBudget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	deadline := time.Now().Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	m := Metrics{BestCost: best.Cost}
	maxRemove := 3
	if n := len(nodes) / 5; n > maxRemove {
		maxRemove = n
	}
	snapshotEvery := 50
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return best, m, err
		}
		if e.IterationsLimit > 0 && m.Iterations >= e.IterationsLimit {
			break
		}
		m.Iterations++
		k := 1 + s.rng.Intn(maxRemove)
		op := selectOp(remW, s.rng)
		m.RemovalSelects[op]++
		ip := selectOp(insW, s.rng)
		m.InsertSelects[ip]++

		cand := curr.clone()
		var removed []int
		switch op {
		case 0:
			removed = s.pickRandomNodes(cand, k)
		case 1:
			removed = s.shawRemoval(cand, k)
		}
		cand = removeNodes(cand, removed)
		pending := append(cand.Unassigned, removed...)
		cand.Unassigned = nil
		switch ip {
		case 0:
			cand = s.greedyInsert(cand, pending)
		case 1:
			cand = s.regretInsert(cand, pending)
		}
		cand = s.improve(cand)

		delta := cand.Cost - curr.Cost
		if delta < 0 || s.rng.Float64() < math.Exp(-delta/(temp+1e-9)) {
			curr = cand
			if cand.Cost+1e-6 < best.Cost {
				best = cand
				remW[op] += 0.1
				insW[ip] += 0.1
				m.Improvements++
				m.BestCost = best.Cost
			} else {
				remW[op] += 0.01
				insW[ip] += 0.01
				if delta > 0 {
					m.AcceptedWorse++
				}
			}
		} else {
			remW[op] = math.Max(0.01, remW[op]*0.999)
			insW[ip] = math.Max(0.01, insW[ip]*0.999)
		}
		temp *= cool
		if m.Iterations%snapshotEvery == 0 {
			m.Snapshots = append(m.Snapshots, WeightSnapshot{Iteration: m.Iterations, Removal: [2]float64{remW[0], remW[1]}, Insertion: [2]float64{insW[0], insW[1]}})
		}
	}
	m.FinalCost = best.Cost
	m.FinalRemovalWeights = [2]float64{remW[0], remW[1]}
	m.FinalInsertionWeights = [2]float64{insW[0], insW[1]}
	return best, m, nil
}

func (s *search) empty() solution {
	plans := make([]RoutePlan, len(s.p.VehicleCapacities))
	for vi := range plans {
		plans[vi] = RoutePlan{Vehicle: vi, Order: []int{}}
	}
	return solution{Plans: plans}
}

// unservable returns a node no vehicle can visit even alone.
func (s *search) unservable() (int, bool) {
	for i := 1; i < s.p.Nodes(); i++ {
		ok := false
		for vi := range s.p.VehicleCapacities {
			if _, feasible := s.schedulePlan(RoutePlan{Vehicle: vi, Order: []int{i}}); feasible {
				ok = true
				break
			}
		}
		if !ok {
			return i, true
		}
	}
	return 0, false
}

// schedulePlan times a plan, leaving the depot as late as waiting limits
// allow. It reports false when capacity, a window, the wait limit or the
// depot closing time is violated.
func (s *search) schedulePlan(pl RoutePlan) (schedule, bool) {
	p := s.p
	var sc schedule
	for _, idx := range pl.Order {
		sc.load += p.Demands[idx]
	}
	if sc.load > p.VehicleCapacities[pl.Vehicle] {
		return sc, false
	}
	open, closeAt := p.TimeWindows[0][0], p.TimeWindows[0][1]
	if len(pl.Order) == 0 {
		sc.depart, sc.ret = open, open
		return sc, true
	}
	depart := open
	first := pl.Order[0]
	if latest := p.TimeWindows[first][0] - p.TimeMatrix[0][first]; latest > depart {
		depart = latest
	}
	// Each retry removes one excess wait by departing later, so this
	// terminates within len(Order) passes.
	for pass := 0; pass <= len(pl.Order); pass++ {
		if depart > closeAt {
			return sc, false
		}
		shift, ok := s.forward(pl, depart, &sc)
		if ok {
			return sc, true
		}
		if shift <= 0 {
			return sc, false
		}
		depart += shift
	}
	return sc, false
}

// forward simulates the plan from depart. On an excess wait it returns the
// extra departure delay that would absorb it.
func (s *search) forward(pl RoutePlan, depart int, sc *schedule) (int, bool) {
	p := s.p
	sc.arrivals = sc.arrivals[:0]
	sc.loads = sc.loads[:0]
	sc.dist = 0
	t, prev, cum := depart, 0, 0
	for _, idx := range pl.Order {
		arr := t + p.TimeMatrix[prev][idx]
		begin := arr
		if ws := p.TimeWindows[idx][0]; ws > begin {
			begin = ws
		}
		if begin > p.TimeWindows[idx][1] {
			return 0, false
		}
		if wait := begin - arr; s.maxWait > 0 && wait > s.maxWait {
			return wait - s.maxWait, false
		}
		t = begin + p.service(idx)
		cum += p.Demands[idx]
		sc.arrivals = append(sc.arrivals, t)
		sc.loads = append(sc.loads, cum)
		sc.dist += p.DistanceMatrix[prev][idx]
		prev = idx
	}
	ret := t + p.TimeMatrix[prev][0]
	if ret > p.TimeWindows[0][1] {
		return 0, false
	}
	sc.dist += p.DistanceMatrix[prev][0]
	sc.depart, sc.ret = depart, ret
	return 0, true
}

func (s *search) planCost(pl RoutePlan) (float64, bool) {
	if len(pl.Order) == 0 {
		return 0, true
	}
	sc, ok := s.schedulePlan(pl)
	if !ok {
		return math.Inf(1), false
	}
	return float64(sc.dist) + s.timeWeight*float64(sc.ret-sc.depart), true
}

func (s *search) cost(sol solution) float64 {
	total := 0.0
	for _, pl := range sol.Plans {
		c, ok := s.planCost(pl)
		if !ok {
			c = unassignedPenalty * float64(len(pl.Order))
		}
		total += c
	}
	return total + unassignedPenalty*float64(len(sol.Unassigned))
}

func insertAt(order []int, idx, pos int) []int {
	out := make([]int, 0, len(order)+1)
	out = append(out, order[:pos]...)
	out = append(out, idx)
	return append(out, order[pos:]...)
}

// bestInsertions returns the cheapest and second cheapest feasible insertion
// of idx, taking the second from a different vehicle.
func (s *search) bestInsertions(sol solution, base []float64, idx int) (plan, pos int, best1, best2 float64) {
	plan, pos = -1, -1
	best1, best2 = math.Inf(1), math.Inf(1)
	for vi, pl := range sol.Plans {
		vBest := math.Inf(1)
		vPos := -1
		for at := 0; at <= len(pl.Order); at++ {
			c, ok := s.planCost(RoutePlan{Vehicle: pl.Vehicle, Order: insertAt(pl.Order, idx, at)})
			if !ok {
				continue
			}
			if d := c - base[vi]; d < vBest {
				vBest, vPos = d, at
			}
		}
		if vPos < 0 {
			continue
		}
		if vBest < best1 {
			best2 = best1
			best1, plan, pos = vBest, vi, vPos
		} else if vBest < best2 {
			best2 = vBest
		}
	}
	return plan, pos, best1, best2
}

func (s *search) planCosts(sol solution) []float64 {
	base := make([]float64, len(sol.Plans))
	for vi, pl := range sol.Plans {
		base[vi], _ = s.planCost(pl)
	}
	return base
}

// greedyInsert inserts nodes by cheapest feasible insertion; nodes that fit
// nowhere stay unassigned.
func (s *search) greedyInsert(sol solution, nodes []int) solution {
	pending := append([]int(nil), nodes...)
	for len(pending) > 0 {
		base := s.planCosts(sol)
		bestNode, bestPlan, bestPos := -1, -1, -1
		bestCost := math.Inf(1)
		for ni, idx := range pending {
			plan, pos, c, _ := s.bestInsertions(sol, base, idx)
			if plan >= 0 && c < bestCost {
				bestNode, bestPlan, bestPos, bestCost = ni, plan, pos, c
			}
		}
		if bestNode < 0 {
			sol.Unassigned = append(sol.Unassigned, pending...)
			break
		}
		pl := &sol.Plans[bestPlan]
		pl.Order = insertAt(pl.Order, pending[bestNode], bestPos)
		pending = append(pending[:bestNode], pending[bestNode+1:]...)
	}
	sol.Cost = s.cost(sol)
	return sol
}

// regretInsert inserts the node with the largest regret-2 value first.
func (s *search) regretInsert(sol solution, nodes []int) solution {
	pending := append([]int(nil), nodes...)
	for len(pending) > 0 {
		base := s.planCosts(sol)
		bestNode, bestPlan, bestPos := -1, -1, -1
		bestRegret, bestCost := -1.0, math.Inf(1)
		for ni, idx := range pending {
			plan, pos, c1, c2 := s.bestInsertions(sol, base, idx)
			if plan < 0 {
				continue
			}
			regret := math.MaxFloat64 // only one vehicle can take it
			if !math.IsInf(c2, 1) {
				regret = c2 - c1
			}
			if regret > bestRegret || (regret == bestRegret && c1 < bestCost) {
				bestNode, bestPlan, bestPos, bestRegret, bestCost = ni, plan, pos, regret, c1
			}
		}
		if bestNode < 0 {
			sol.Unassigned = append(sol.Unassigned, pending...)
			break
		}
		pl := &sol.Plans[bestPlan]
		pl.Order = insertAt(pl.Order, pending[bestNode], bestPos)
		pending = append(pending[:bestNode], pending[bestNode+1:]...)
	}
	sol.Cost = s.cost(sol)
	return sol
}

func (s *search) pickRandomNodes(sol solution, k int) []int {
	var all []int
	for _, pl := range sol.Plans {
		all = append(all, pl.Order...)
	}
	removed := []int{}
	for i := 0; i < k && len(all) > 0; i++ {
		j := s.rng.Intn(len(all))
		removed = append(removed, all[j])
		all = append(all[:j], all[j+1:]...)
	}
	return removed
}

// shawRemoval selects a random seed node plus the k-1 nodes most related to
// it by travel distance and window start.
func (s *search) shawRemoval(sol solution, k int) []int {
	var assigned []int
	for _, pl := range sol.Plans {
		assigned = append(assigned, pl.Order...)
	}
	if len(assigned) == 0 {
		return nil
	}
	seed := assigned[s.rng.Intn(len(assigned))]
	maxD, maxT := 1.0, 1.0
	for _, idx := range assigned {
		maxD = math.Max(maxD, float64(s.p.DistanceMatrix[seed][idx]))
		maxT = math.Max(maxT, math.Abs(float64(s.p.TimeWindows[seed][0]-s.p.TimeWindows[idx][0])))
	}
	type pair struct {
		idx   int
		score float64
	}
	rel := make([]pair, 0, len(assigned))
	for _, idx := range assigned {
		if idx == seed {
			continue
		}
		geo := float64(s.p.DistanceMatrix[seed][idx]) / maxD
		tw := math.Abs(float64(s.p.TimeWindows[seed][0]-s.p.TimeWindows[idx][0])) / maxT
		rel = append(rel, pair{idx: idx, score: geo + tw})
	}
	sort.Slice(rel, func(i, j int) bool {
		if rel[i].score != rel[j].score {
			return rel[i].score < rel[j].score
		}
		return rel[i].idx < rel[j].idx
	})
	removed := []int{seed}
	for i := 0; i < len(rel) && len(removed) < k; i++ {
		removed = append(removed, rel[i].idx)
	}
	return removed
}

func removeNodes(sol solution, removed []int) solution {
	if len(removed) == 0 {
		return sol
	}
	rm := map[int]bool{}
	for _, i := range removed {
		rm[i] = true
	}
	for i := range sol.Plans {
		kept := sol.Plans[i].Order[:0]
		for _, idx := range sol.Plans[i].Order {
			if !rm[idx] {
				kept = append(kept, idx)
			}
		}
		sol.Plans[i].Order = kept
	}
	return sol
}

// improve runs the local searches and retries unassigned nodes.
func (s *search) improve(sol solution) solution {
	for vi := range sol.Plans {
		sol.Plans[vi] = s.twoOptImprove(sol.Plans[vi])
		sol.Plans[vi] = s.relocateImprove(sol.Plans[vi])
	}
	sol = s.crossExchangeImprove(sol)
	sol = s.twoOptStarImprove(sol)
	if len(sol.Unassigned) > 0 {
		pending := sol.Unassigned
		sol.Unassigned = nil
		sol = s.greedyInsert(sol, pending)
	}
	sol.Cost = s.cost(sol)
	return sol
}

// twoOptImprove reverses segments within a plan while that lowers its cost.
func (s *search) twoOptImprove(pl RoutePlan) RoutePlan {
	best, ok := s.planCost(pl)
	if !ok {
		return pl
	}
	n := len(pl.Order)
	improved := true
	for improved {
		improved = false
		for i := 0; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				cand := RoutePlan{Vehicle: pl.Vehicle, Order: append([]int(nil), pl.Order...)}
				for a, b := i, k; a < b; a, b = a+1, b-1 {
					cand.Order[a], cand.Order[b] = cand.Order[b], cand.Order[a]
				}
				if c, ok := s.planCost(cand); ok && c+1e-6 < best {
					pl, best, improved = cand, c, true
				}
			}
		}
	}
	return pl
}

// relocateImprove moves single nodes to a better position in the same plan.
func (s *search) relocateImprove(pl RoutePlan) RoutePlan {
	best, ok := s.planCost(pl)
	if !ok {
		return pl
	}
	improved := true
	for improved {
		improved = false
		for i := 0; i < len(pl.Order); i++ {
			for j := 0; j < len(pl.Order); j++ {
				if i == j {
					continue
				}
				rest := append(append([]int(nil), pl.Order[:i]...), pl.Order[i+1:]...)
				cand := RoutePlan{Vehicle: pl.Vehicle, Order: insertAt(rest, pl.Order[i], j)}
				if c, ok := s.planCost(cand); ok && c+1e-6 < best {
					pl, best, improved = cand, c, true
				}
			}
		}
	}
	return pl
}

// crossExchangeImprove swaps single nodes between plans when feasible and cheaper.
func (s *search) crossExchangeImprove(sol solution) solution {
	m := len(sol.Plans)
	improved := true
	for improved {
		improved = false
		for a := 0; a < m; a++ {
			for b := a + 1; b < m; b++ {
				pa, pb := sol.Plans[a], sol.Plans[b]
				ca0, _ := s.planCost(pa)
				cb0, _ := s.planCost(pb)
				for i := 0; i < len(pa.Order); i++ {
					for j := 0; j < len(pb.Order); j++ {
						na := RoutePlan{Vehicle: pa.Vehicle, Order: append([]int(nil), pa.Order...)}
						nb := RoutePlan{Vehicle: pb.Vehicle, Order: append([]int(nil), pb.Order...)}
						na.Order[i], nb.Order[j] = nb.Order[j], na.Order[i]
						ca, okA := s.planCost(na)
						cb, okB := s.planCost(nb)
						if okA && okB && ca+cb+1e-6 < ca0+cb0 {
							sol.Plans[a], sol.Plans[b] = na, nb
							improved = true
							break
						}
					}
					if improved {
						break
					}
				}
			}
		}
	}
	return sol
}

// twoOptStarImprove exchanges segments of length 1..2 between plans, which
// also lets capacity move between vehicles of different size.
func (s *search) twoOptStarImprove(sol solution) solution {
	m := len(sol.Plans)
	improved := true
	for improved {
		improved = false
	outer:
		for a := 0; a < m; a++ {
			for b := 0; b < m; b++ {
				if a == b {
					continue
				}
				pa, pb := sol.Plans[a], sol.Plans[b]
				ca0, _ := s.planCost(pa)
				cb0, _ := s.planCost(pb)
				for i := 0; i < len(pa.Order); i++ {
					for la := 1; la <= 2 && i+la <= len(pa.Order); la++ {
						for j := 0; j <= len(pb.Order); j++ {
							for lb := 0; lb <= 2 && j+lb <= len(pb.Order); lb++ {
								segA := append([]int(nil), pa.Order[i:i+la]...)
								segB := append([]int(nil), pb.Order[j:j+lb]...)
								na := RoutePlan{Vehicle: pa.Vehicle, Order: append(append(append([]int(nil), pa.Order[:i]...), segB...), pa.Order[i+la:]...)}
								nb := RoutePlan{Vehicle: pb.Vehicle, Order: append(append(append([]int(nil), pb.Order[:j]...), segA...), pb.Order[j+lb:]...)}
								ca, okA := s.planCost(na)
								cb, okB := s.planCost(nb)
								if okA && okB && ca+cb+1e-6 < ca0+cb0 {
									sol.Plans[a], sol.Plans[b] = na, nb
									improved = true
									break outer
								}
							}
						}
					}
				}
			}
		}
	}
	return sol
}

func (s *search) toSolution(sol solution) Solution {
	out := Solution{Routes: []VehicleRoute{}}
	plans := append([]RoutePlan(nil), sol.Plans...)
	sort.Slice(plans, func(i, j int) bool { return plans[i].Vehicle < plans[j].Vehicle })
	for _, pl := range plans {
		if len(pl.Order) == 0 {
			continue
		}
		sc, _ := s.schedulePlan(pl)
		r := VehicleRoute{
			VehicleID: pl.Vehicle,
			Route:     append(append([]int{0}, pl.Order...), 0),
			Loads:     append(append([]int{0}, sc.loads...), sc.load),
			Distance:  sc.dist,
			Time:      sc.ret - sc.depart,
			Load:      sc.load,
			Capacity:  s.p.VehicleCapacities[pl.Vehicle],
		}
		r.ArrivalTimes = append(append([]int{sc.depart}, sc.arrivals...), sc.ret)
		out.Routes = append(out.Routes, r)
		out.TotalDistance += r.Distance
		out.TotalTime += r.Time
		out.TotalLoad += r.Load
	}
	out.NumVehiclesUsed = len(out.Routes)
	return out
}

func selectOp(weights []float64, rng *rand.Rand) int {
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	if sum <= 0 {
		return 0
	}
	r := rng.Float64() * sum
	acc := 0.0
	for i, w := range weights {
		acc += w
		if r <= acc {
			return i
		}
	}
	return len(weights) - 1
}
