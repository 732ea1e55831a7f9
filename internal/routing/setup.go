package routing

import (
	"fmt"

	"viasync/internal/cache"
	"viasync/internal/config"
	"viasync/internal/geo"
	"viasync/internal/opt"
)

// OptionsFromConfig converts the routing, geo and solver settings.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	open, err := ParseClock(cfg.Routing.DepotOpen)
	if err != nil {
		return Options{}, fmt.Errorf("depot open: %w", err)
	}
	closeAt, err := ParseClock(cfg.Routing.DepotClose)
	if err != nil {
		return Options{}, fmt.Errorf("depot close: %w", err)
	}
	return Options{
		MaxBatchSize:       cfg.Routing.MaxBatchSize,
		ServiceTimeMinutes: cfg.Routing.ServiceTimeMinutes,
		MinWindowMinutes:   cfg.Routing.MinWindowMinutes,
		DepotWindow:        Window{Start: open, End: closeAt},
		DropUngeocodable:   cfg.Routing.DropUngeocodable,
		EnrichETA:          cfg.Routing.EnrichETA,
		ClusterParallelism: cfg.Routing.ClusterParallelism,
		GeocodeConcurrency: cfg.Geo.Concurrency,
		GeocodeBatchDelay:  cfg.Geo.BatchDelay,
		SolverName:         cfg.Solver.Kind,
		SolverTimeout:      cfg.Solver.Timeout,
		SolverRetries:      cfg.Solver.Retries,
	}, nil
}

// NewFromConfig wires the providers and solver selected by cfg. Geocodes,
// depot lookups and remote matrices are read through c.
func NewFromConfig(cfg config.Config, c cache.Cache) (*Orchestrator, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{Options: opts}

	var ors *geo.ORS
	if cfg.Geo.ORSAPIKey != "" {
		ors = geo.NewORS(cfg.Geo.ORSAPIKey, cfg.Geo.ORSBaseURL)
		o.ETA = ors
	}

	var base geo.Geocoder
	switch cfg.Geo.Geocoder {
	case "ors":
		if ors == nil {
			return nil, fmt.Errorf("geocoder ors requires an API key")
		}
		base = ors
	case "nominatim":
		base = geo.NewNominatim(cfg.Geo.NominatimBaseURL)
	default:
		return nil, fmt.Errorf("unknown geocoder %q", cfg.Geo.Geocoder)
	}
	o.Geocoder = geo.NewCachedGeocoder(base, c, "geocode:", cfg.Cache.GeocodeTTL)
	o.DepotGeocoder = geo.NewCachedGeocoder(base, c, "depot:", cfg.Cache.DepotTTL)

	switch cfg.Geo.MatrixProvider {
	case "ors":
		if ors == nil {
			return nil, fmt.Errorf("matrix provider ors requires an API key")
		}
		o.Matrix = geo.NewCachedMatrix(ors, c, cfg.Cache.MatrixTTL)
	case "osrm":
		o.Matrix = geo.NewCachedMatrix(geo.NewOSRM(cfg.Geo.OSRMBaseURL), c, cfg.Cache.MatrixTTL)
	case "haversine":
		o.Matrix = geo.Straight{SpeedKph: cfg.Geo.AverageSpeedKph}
	default:
		return nil, fmt.Errorf("unknown matrix provider %q", cfg.Geo.MatrixProvider)
	}

	switch cfg.Solver.Kind {
	case "alns":
		o.Solver = &opt.Engine{
			Seed:            cfg.Solver.Seed,
			TimeBudget:      cfg.Solver.TimeBudget,
			IterationsLimit: cfg.Solver.Iterations,
			MaxWaitSec:      int(cfg.Solver.MaxWait.Seconds()),
		}
	case "exec":
		o.Solver = opt.NewExecSolver(cfg.Solver.Command)
	default:
		return nil, fmt.Errorf("unknown solver %q", cfg.Solver.Kind)
	}
	return o, nil
}
