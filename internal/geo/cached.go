package geo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"viasync/internal/cache"
	"viasync/internal/metrics"
)

// CachedGeocoder is a read-through cache in front of a Geocoder. Misses are
// not cached, so a later request retries the upstream.
type CachedGeocoder struct {
	Base   Geocoder
	Cache  cache.Cache
	Prefix string
	TTL    time.Duration
}

func NewCachedGeocoder(base Geocoder, c cache.Cache, prefix string, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{Base: base, Cache: c, Prefix: prefix, TTL: ttl}
}

func normalizeAddress(a string) string {
	return strings.ToLower(strings.Join(strings.Fields(a), " "))
}

func (g *CachedGeocoder) Geocode(ctx context.Context, address string) (Coordinates, error) {
	key := g.Prefix + normalizeAddress(address)
	if b, ok, err := g.Cache.Get(ctx, key); err != nil {
		log.Printf("[CACHE] geocode get failed key=%s err=%v", key, err)
	} else if ok {
		var c Coordinates
		if err := json.Unmarshal(b, &c); err == nil {
			metrics.CacheLookups.WithLabelValues(g.Prefix, "hit").Inc()
			return c, nil
		}
	}
	metrics.CacheLookups.WithLabelValues(g.Prefix, "miss").Inc()

	c, err := g.Base.Geocode(ctx, address)
	if err != nil {
		return Coordinates{}, err
	}
	if b, err := json.Marshal(c); err == nil {
		if err := g.Cache.Set(ctx, key, b, g.TTL); err != nil {
			log.Printf("[CACHE] geocode set failed key=%s err=%v", key, err)
		}
	}
	return c, nil
}

// CachedMatrix caches whole matrices keyed by the rounded point sequence.
type CachedMatrix struct {
	Base  MatrixProvider
	Cache cache.Cache
	TTL   time.Duration
}

func NewCachedMatrix(base MatrixProvider, c cache.Cache, ttl time.Duration) *CachedMatrix {
	return &CachedMatrix{Base: base, Cache: c, TTL: ttl}
}

func matrixKey(points []Coordinates) string {
	h := sha256.New()
	for _, p := range points {
		h.Write([]byte(p.Key()))
		h.Write([]byte{';'})
	}
	return "matrix:" + hex.EncodeToString(h.Sum(nil))
}

func (m *CachedMatrix) Matrix(ctx context.Context, points []Coordinates) (Matrix, error) {
	key := matrixKey(points)
	if b, ok, err := m.Cache.Get(ctx, key); err != nil {
		log.Printf("[CACHE] matrix get failed err=%v", err)
	} else if ok {
		var out Matrix
		if err := json.Unmarshal(b, &out); err == nil && out.Size() == len(points) {
			metrics.CacheLookups.WithLabelValues("matrix", "hit").Inc()
			return out, nil
		}
	}
	metrics.CacheLookups.WithLabelValues("matrix", "miss").Inc()

	out, err := m.Base.Matrix(ctx, points)
	if err != nil {
		return Matrix{}, err
	}
	if b, err := json.Marshal(out); err == nil {
		if err := m.Cache.Set(ctx, key, b, m.TTL); err != nil {
			log.Printf("[CACHE] matrix set failed err=%v", err)
		}
	}
	return out, nil
}
