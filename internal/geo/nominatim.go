package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type nominatimResponse struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Nominatim geocodes against an OpenStreetMap Nominatim instance. It needs no
// key but the public instance allows roughly one request per second, which
// callers enforce through GeocodeAll's limiter.
type Nominatim struct {
	baseURL   string
	userAgent string
	http      httpClient
}

func NewNominatim(baseURL string) *Nominatim {
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	return &Nominatim{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: "viasync/1.0",
		http:      newHTTPClient(10 * time.Second),
	}
}

func (g *Nominatim) Geocode(ctx context.Context, address string) (Coordinates, error) {
	endpoint := g.baseURL + "/search"
	log.Printf("[GEOCODING] Request: address=%s", address)

	resp, err := g.http.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("q", address)
		q.Set("format", "json")
		q.Set("limit", "1")
		req.URL.RawQuery = q.Encode()
		req.Header.Set("User-Agent", g.userAgent)
		return req, nil
	})
	if err != nil {
		return Coordinates{}, &GeocodeError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	var results []nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, &GeocodeError{Address: address, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(results) == 0 {
		return Coordinates{}, &GeocodeError{Address: address, Err: ErrNotFound}
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, &GeocodeError{Address: address, Err: fmt.Errorf("invalid latitude %q", results[0].Lat)}
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, &GeocodeError{Address: address, Err: fmt.Errorf("invalid longitude %q", results[0].Lon)}
	}
	log.Printf("[GEOCODING] Response: address=%s lat=%.6f lng=%.6f display_name=%s", address, lat, lon, results[0].DisplayName)
	return Coordinates{Lat: lat, Lon: lon}, nil
}
