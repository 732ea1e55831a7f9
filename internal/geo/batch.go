package geo

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// GeocodeResult pairs each distinct address with its outcome.
type GeocodeResult struct {
	Coords map[string]Coordinates
	Errors map[string]error
}

// GeocodeAll resolves addresses in batches of concurrency parallel lookups.
// Before each batch it waits on limiter (nil means no pacing), which yields
// the fixed inter-batch delay upstream quotas require. Individual failures
// are collected, not returned; only context cancellation aborts the run.
func GeocodeAll(ctx context.Context, g Geocoder, addresses []string, concurrency int, limiter *rate.Limiter) (GeocodeResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	seen := make(map[string]struct{}, len(addresses))
	uniq := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		uniq = append(uniq, a)
	}

	res := GeocodeResult{Coords: map[string]Coordinates{}, Errors: map[string]error{}}
	var mu sync.Mutex

	for start := 0; start < len(uniq); start += concurrency {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return res, err
			}
		}
		end := start + concurrency
		if end > len(uniq) {
			end = len(uniq)
		}
		var eg errgroup.Group
		for _, addr := range uniq[start:end] {
			addr := addr
			eg.Go(func() error {
				c, err := g.Geocode(ctx, addr)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Errors[addr] = err
					return nil
				}
				res.Coords[addr] = c
				return nil
			})
		}
		_ = eg.Wait()
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
	return res, nil
}
