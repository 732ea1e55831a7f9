package routing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"viasync/internal/geo"
	"viasync/internal/metrics"
	"viasync/internal/model"
	"viasync/internal/obs"
	"viasync/internal/opt"
)

type Options struct {
	MaxBatchSize       int
	ServiceTimeMinutes int
	MinWindowMinutes   int
	DepotWindow        Window
	DropUngeocodable   bool
	EnrichETA          bool
	ClusterParallelism int
	GeocodeConcurrency int
	GeocodeBatchDelay  time.Duration
	SolverName         string
	SolverTimeout      time.Duration
	SolverRetries      int
}

// Orchestrator runs the optimization pipeline:
// geocode, merge, cluster, build, solve, reconstruct, enrich.
type Orchestrator struct {
	Geocoder      geo.Geocoder
	DepotGeocoder geo.Geocoder // defaults to Geocoder
	Matrix        geo.MatrixProvider
	ETA           geo.ETAProvider // nil disables enrichment
	Solver        opt.Solver
	Options       Options
}

// request is a validated OptimizeRequest.
type request struct {
	depotAddress string
	depotWindow  Window
	orders       []Order
	capacities   []int
	serviceMin   int
	customStart  *int
	offset       *int
}

func (o *Orchestrator) validate(req model.OptimizeRequest) (request, error) {
	var r request
	if len(req.VehicleCapacities) == 0 {
		return r, configError("vehicleCapacities", "at least one vehicle capacity is required")
	}
	for i, c := range req.VehicleCapacities {
		if c <= 0 || c != math.Trunc(c) || c > math.MaxInt32 {
			return r, configError(fmt.Sprintf("vehicleCapacities[%d]=%v", i, c), "capacities must be positive integers")
		}
		r.capacities = append(r.capacities, int(c))
	}

	r.serviceMin = o.Options.ServiceTimeMinutes
	if req.ServiceTimeMinutes != nil {
		if *req.ServiceTimeMinutes < 0 {
			return r, configError(strconv.Itoa(*req.ServiceTimeMinutes), "serviceTimeMinutes must be >= 0")
		}
		r.serviceMin = *req.ServiceTimeMinutes
	}

	if strings.TrimSpace(req.Depot.Address) == "" {
		return r, configError("depot.address", "depot address is required")
	}
	r.depotAddress = req.Depot.Address
	r.depotWindow = o.Options.DepotWindow
	if r.depotWindow == (Window{}) {
		r.depotWindow = DefaultDepotWindow
	}
	if tw := req.Depot.TimeWindow; tw != nil {
		w, err := parseWindow(tw.Start, tw.End)
		if err != nil {
			return r, configError("depot.timeWindow", "%v", err)
		}
		if w.Start >= w.End {
			return r, configError("depot.timeWindow", "depot window must open before it closes")
		}
		r.depotWindow = w
	}

	if cs := req.CustomStartTime; cs != nil {
		if cs.Date != "" {
			if _, err := time.Parse("2006-01-02", cs.Date); err != nil {
				return r, configError(cs.Date, "invalid customStartTime date, want YYYY-MM-DD")
			}
		}
		m, err := ParseClock(cs.Time)
		if err != nil {
			return r, configError(cs.Time, "%v", err)
		}
		if m > r.depotWindow.End {
			return r, configError(cs.Time, "custom start is after the depot closes")
		}
		r.customStart = &m
	}

	if req.Offset != nil {
		if *req.Offset < 0 {
			return r, configError(strconv.Itoa(*req.Offset), "offset must be >= 0")
		}
		off := *req.Offset
		r.offset = &off
	}

	if len(req.Deliveries) == 0 {
		return r, configError("deliveries", "at least one delivery is required")
	}
	seen := map[string]bool{}
	for i, d := range req.Deliveries {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			id = strconv.Itoa(i + 1)
		}
		if seen[id] {
			return r, configError(id, "duplicate delivery id")
		}
		seen[id] = true
		if strings.TrimSpace(d.Address) == "" {
			return r, configError(id, "delivery address is required")
		}
		w, err := parseWindow(d.TimeWindow.Start, d.TimeWindow.End)
		if err != nil {
			return r, configError(id, "%v", err)
		}
		if w, err = NormalizeWindow(w, o.Options.MinWindowMinutes); err != nil {
			return r, configError(id, "%v", err)
		}
		demand := 1
		if d.Demand != nil {
			if *d.Demand < 0 {
				return r, configError(id, "demand must be >= 0")
			}
			demand = *d.Demand
		}
		r.orders = append(r.orders, Order{ID: id, Address: d.Address, Window: w, Demand: demand, Metadata: d.Metadata})
	}
	// Merging and dropping only shrink the stop set, so this bounds the
	// cluster count from above.
	if r.offset != nil {
		limit := o.batchLimit()
		if _, err := ClusterIndex(*r.offset, limit, (len(r.orders)+limit-1)/limit); err != nil {
			return r, err
		}
	}
	return r, nil
}

func (o *Orchestrator) batchLimit() int {
	if o.Options.MaxBatchSize < 1 {
		return 24
	}
	return o.Options.MaxBatchSize
}

// Optimize plans routes for req. Invalid input is rejected before any
// geocoding or solver call.
func (o *Orchestrator) Optimize(ctx context.Context, req model.OptimizeRequest) (res model.OptimizeResult, err error) {
	defer obs.Time(ctx, "optimize")(&err)
	mode := "direct"
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		metrics.Optimizations.WithLabelValues(mode, outcome).Inc()
	}()

	r, err := o.validate(req)
	if err != nil {
		return res, err
	}
	res.Warnings = []string{}
	res.Routes = []model.Route{}

	depot, err := o.geocodeDepot(ctx, r)
	if err != nil {
		return res, err
	}
	stops, warnings, err := o.geocodeStops(ctx, r)
	if err != nil {
		return res, err
	}
	res.Warnings = append(res.Warnings, warnings...)

	before := len(stops)
	stops = MergeDuplicates(stops)
	if len(stops) < before {
		log.Printf("req_id=%s merged %d deliveries into %d locations", obs.RequestID(ctx), before, len(stops))
	}

	limit := o.batchLimit()
	switch {
	case len(stops) <= limit:
		if r.offset != nil {
			if _, err := ClusterIndex(*r.offset, limit, 1); err != nil {
				return res, err
			}
		}
		routes, err := o.solveBatch(ctx, depot, stops, r, "direct")
		if err != nil {
			return res, err
		}
		res.Routes = routes
		if r.offset != nil {
			res.Pagination = &model.Pagination{Offset: *r.offset, ClusterCount: 1, TotalStops: len(stops)}
		}
	case r.offset != nil:
		mode = "paginated"
		clusters := Cluster(depot.Coord, stops, limit)
		idx, err := ClusterIndex(*r.offset, limit, len(clusters))
		if err != nil {
			return res, err
		}
		routes, err := o.solveBatch(ctx, depot, clusters[idx], r, fmt.Sprintf("cluster-%d", idx+1))
		if err != nil {
			return res, err
		}
		for i := range routes {
			routes[i].Cluster = idx + 1
		}
		res.Routes = routes
		res.Warnings = append(res.Warnings, fmt.Sprintf("Cluster %d of %d (%d of %d stops)", idx+1, len(clusters), len(clusters[idx]), len(stops)))
		res.Pagination = &model.Pagination{
			Offset:       *r.offset,
			ClusterIndex: idx,
			ClusterCount: len(clusters),
			TotalStops:   len(stops),
			HasMore:      idx+1 < len(clusters),
		}
		if res.Pagination.HasMore {
			next := (idx + 1) * limit
			res.Pagination.NextOffset = &next
		}
	default:
		mode = "clustered"
		routes, warnings, err := o.solveClusters(ctx, depot, Cluster(depot.Coord, stops, limit), r)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			return res, err
		}
		res.Routes = routes
	}

	if o.Options.EnrichETA && o.ETA != nil {
		o.enrich(ctx, res.Routes)
	}
	Summarize(&res)
	return res, nil
}

func (o *Orchestrator) geocodeDepot(ctx context.Context, r request) (_ Depot, err error) {
	defer obs.Time(ctx, "geocode.depot")(&err)
	g := o.DepotGeocoder
	if g == nil {
		g = o.Geocoder
	}
	c, err := g.Geocode(ctx, r.depotAddress)
	if err != nil {
		return Depot{}, &Error{Kind: KindGeocoding, Input: r.depotAddress, Err: err}
	}
	return Depot{Address: r.depotAddress, Coord: c, Window: r.depotWindow}, nil
}

// geocodeStops resolves every delivery address. Unless DropUngeocodable is
// set the first unresolved address, in input order, fails the request.
func (o *Orchestrator) geocodeStops(ctx context.Context, r request) (_ []Stop, warnings []string, err error) {
	defer obs.Time(ctx, "geocode.deliveries")(&err)
	addrs := make([]string, len(r.orders))
	for i, ord := range r.orders {
		addrs[i] = ord.Address
	}
	var limiter *rate.Limiter
	if o.Options.GeocodeBatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(o.Options.GeocodeBatchDelay), 1)
	}
	gr, err := geo.GeocodeAll(ctx, o.Geocoder, addrs, o.Options.GeocodeConcurrency, limiter)
	if err != nil {
		return nil, nil, &Error{Kind: KindGeocoding, Err: err}
	}

	stops := make([]Stop, 0, len(r.orders))
	for _, ord := range r.orders {
		c, ok := gr.Coords[ord.Address]
		if !ok {
			gerr := gr.Errors[ord.Address]
			if !o.Options.DropUngeocodable {
				return nil, nil, &Error{Kind: KindGeocoding, Input: ord.Address, Err: gerr}
			}
			warnings = append(warnings, fmt.Sprintf("Delivery %s dropped: could not geocode %q", ord.ID, ord.Address))
			continue
		}
		stops = append(stops, Stop{
			ID:      ord.ID,
			Address: ord.Address,
			Coord:   c,
			Window:  ord.Window,
			Demand:  ord.Demand,
			Orders:  []Order{ord},
		})
	}
	if len(stops) == 0 {
		return nil, warnings, &Error{Kind: KindGeocoding, Input: r.orders[0].Address, Err: errors.New("no delivery address could be geocoded")}
	}
	return stops, warnings, nil
}

// solveClusters solves every cluster with bounded parallelism. A failed
// cluster becomes a warning; the call fails only when all clusters fail.
func (o *Orchestrator) solveClusters(ctx context.Context, depot Depot, clusters [][]Stop, r request) ([]model.Route, []string, error) {
	type outcome struct {
		routes []model.Route
		err    error
	}
	results := make([]outcome, len(clusters))
	var eg errgroup.Group
	eg.SetLimit(max(1, o.Options.ClusterParallelism))
	for i, c := range clusters {
		i, c := i, c
		eg.Go(func() error {
			routes, err := o.solveBatch(ctx, depot, c, r, fmt.Sprintf("cluster-%d", i+1))
			results[i] = outcome{routes: routes, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	var (
		routes   []model.Route
		warnings []string
		firstErr error
	)
	for i, res := range results {
		if res.err != nil {
			metrics.ClusterResults.WithLabelValues("failed").Inc()
			warnings = append(warnings, fmt.Sprintf("Cluster %d of %d failed (%d stops): %v", i+1, len(clusters), len(clusters[i]), res.err))
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		metrics.ClusterResults.WithLabelValues("ok").Inc()
		warnings = append(warnings, fmt.Sprintf("Cluster %d of %d: %d stops on %d routes", i+1, len(clusters), len(clusters[i]), len(res.routes)))
		for _, rt := range res.routes {
			rt.Cluster = i + 1
			routes = append(routes, rt)
		}
	}
	if len(routes) == 0 && firstErr != nil {
		return nil, warnings, firstErr
	}
	if routes == nil {
		routes = []model.Route{}
	}
	return routes, warnings, nil
}

func (o *Orchestrator) solveBatch(ctx context.Context, depot Depot, stops []Stop, r request, label string) (_ []model.Route, err error) {
	defer obs.Time(ctx, "batch."+label)(&err)

	points := make([]geo.Coordinates, 0, len(stops)+1)
	points = append(points, depot.Coord)
	for _, s := range stops {
		points = append(points, s.Coord)
	}
	m, err := o.Matrix.Matrix(ctx, points)
	if err != nil {
		return nil, &Error{Kind: KindMatrix, Err: err}
	}

	batch, err := BuildProblem(ProblemInput{
		Depot:             depot,
		Stops:             stops,
		Matrix:            m,
		VehicleCapacities: r.capacities,
		ServiceMinutes:    r.serviceMin,
		MinWindowMinutes:  o.Options.MinWindowMinutes,
		CustomStart:       r.customStart,
	})
	if err != nil {
		return nil, err
	}

	key := label
	if id := obs.RequestID(ctx); id != "" {
		key = id + "/" + label
	}
	sol, err := o.solve(ctx, batch.Problem, key)
	if err != nil {
		return nil, err
	}
	routes, err := batch.Reconstruct(sol)
	if err != nil {
		return nil, &Error{Kind: KindSolver, Err: err}
	}
	return routes, nil
}

// solve calls the solver under SolverTimeout. Process failures are retried
// up to SolverRetries times; infeasibility never is.
func (o *Orchestrator) solve(ctx context.Context, p opt.Problem, key string) (opt.Solution, error) {
	name := o.Options.SolverName
	if name == "" {
		name = "solver"
	}
	timeout := o.Options.SolverTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	for attempt := 0; ; attempt++ {
		sctx, cancel := context.WithTimeout(opt.WithBatchKey(ctx, key), timeout)
		sol, err := o.Solver.Solve(sctx, p)
		cancel()
		if err == nil {
			metrics.SolverRuns.WithLabelValues(name, "ok").Inc()
			return sol, nil
		}
		if errors.Is(err, opt.ErrInfeasible) {
			metrics.SolverRuns.WithLabelValues(name, "infeasible").Inc()
			return opt.Solution{}, &Error{Kind: KindInfeasible, Err: err}
		}
		metrics.SolverRuns.WithLabelValues(name, "failure").Inc()
		var perr *opt.ProcessError
		if errors.As(err, &perr) && attempt < o.Options.SolverRetries && ctx.Err() == nil {
			log.Printf("req_id=%s [SOLVER] %s attempt=%d failed, retrying: %v", obs.RequestID(ctx), key, attempt+1, err)
			continue
		}
		return opt.Solution{}, &Error{Kind: KindSolver, Err: err}
	}
}

// enrich adds a traffic-aware duration and return ETA to each route. Any
// failure leaves the fields unset.
func (o *Orchestrator) enrich(ctx context.Context, routes []model.Route) {
	var wg sync.WaitGroup
	for i := range routes {
		wg.Add(1)
		go func(rt *model.Route) {
			defer wg.Done()
			if len(rt.Stops) < 2 {
				return
			}
			points := make([]geo.Coordinates, len(rt.Stops))
			for j, s := range rt.Stops {
				points[j] = geo.Coordinates{Lat: s.Lat, Lon: s.Lng}
			}
			ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			secs, err := o.ETA.RouteDuration(ectx, points)
			if err != nil {
				metrics.EnrichmentFailures.Inc()
				log.Printf("req_id=%s [ETA] vehicle=%d enrichment skipped: %v", obs.RequestID(ctx), rt.VehicleID, err)
				return
			}
			mins := int(math.Round(float64(secs) / 60))
			rt.TrafficDurationMinutes = &mins
			rt.TrafficETA = formatSeconds(rt.Stops[0].DepartureSec + secs)
		}(&routes[i])
	}
	wg.Wait()
}
