package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"time"

	"viasync/internal/obs"
)

// ORSMaxMatrixPoints bounds one matrix request; the clustering batch size
// must stay below it.
const ORSMaxMatrixPoints = 50

// ORS talks to OpenRouteService for geocoding, matrices and directions.
type ORS struct {
	apiKey  string
	baseURL string
	profile string
	http    httpClient
}

func NewORS(apiKey, baseURL string) *ORS {
	if baseURL == "" {
		baseURL = "https://api.openrouteservice.org"
	}
	return &ORS{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: "driving-car",
		http:    newHTTPClient(20 * time.Second),
	}
}

func (o *ORS) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", o.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

type orsGeocodeResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

// Geocode resolves one address via /geocode/search.
func (o *ORS) Geocode(ctx context.Context, address string) (_ Coordinates, err error) {
	defer obs.Time(ctx, "ors.geocode")(&err)

	endpoint := o.baseURL + "/geocode/search"
	text := strings.TrimSpace(address)

	resp, err := o.http.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := o.newRequest(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		q := req.URL.Query()
		q.Set("text", text)
		q.Set("size", "1")
		req.URL.RawQuery = q.Encode()
		return req, nil
	})
	if err != nil {
		return Coordinates{}, &GeocodeError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	var decoded orsGeocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Coordinates{}, &GeocodeError{Address: address, Err: fmt.Errorf("decode geocode response: %w", err)}
	}
	if len(decoded.Features) == 0 {
		return Coordinates{}, &GeocodeError{Address: address, Err: ErrNotFound}
	}
	coords := decoded.Features[0].Geometry.Coordinates
	if len(coords) != 2 {
		return Coordinates{}, &GeocodeError{Address: address, Err: fmt.Errorf("invalid coordinate format")}
	}
	// ORS (GeoJSON) order is lon, lat.
	return Coordinates{Lat: coords[1], Lon: coords[0]}, nil
}

type orsMatrixRequest struct {
	Locations [][]float64 `json:"locations"`
	Metrics   []string    `json:"metrics"`
	Units     string      `json:"units"`
}

type orsMatrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// Matrix requests the full NxN distance/duration matrix.
func (o *ORS) Matrix(ctx context.Context, points []Coordinates) (_ Matrix, err error) {
	defer obs.Time(ctx, "ors.matrix")(&err)

	n := len(points)
	if n == 0 {
		return Matrix{}, nil
	}
	if n > ORSMaxMatrixPoints {
		return Matrix{}, fmt.Errorf("matrix of %d points exceeds provider cap %d", n, ORSMaxMatrixPoints)
	}

	locations := make([][]float64, 0, n)
	for _, p := range points {
		locations = append(locations, []float64{p.Lon, p.Lat})
	}
	payload, err := json.Marshal(orsMatrixRequest{Locations: locations, Metrics: []string{"distance", "duration"}, Units: "m"})
	if err != nil {
		return Matrix{}, fmt.Errorf("marshal matrix request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, o.profile)
	resp, err := o.http.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return Matrix{}, fmt.Errorf("matrix request failed: %w", err)
	}
	defer resp.Body.Close()

	var mr orsMatrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return Matrix{}, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Distances) != n || len(mr.Durations) != n {
		return Matrix{}, fmt.Errorf("expected %d rows; got distances=%d durations=%d", n, len(mr.Distances), len(mr.Durations))
	}

	out := Matrix{Distances: make([][]int, n), Durations: make([][]int, n)}
	for i := 0; i < n; i++ {
		if len(mr.Distances[i]) != n || len(mr.Durations[i]) != n {
			return Matrix{}, fmt.Errorf("row %d has wrong length", i)
		}
		out.Distances[i] = make([]int, n)
		out.Durations[i] = make([]int, n)
		for j := 0; j < n; j++ {
			d, t := mr.Distances[i][j], mr.Durations[i][j]
			if d == nil || t == nil {
				return Matrix{}, fmt.Errorf("no route between points %d and %d", i, j)
			}
			// ORS returns float metrics; round to whole meters/seconds.
			out.Distances[i][j] = int(math.Round(*d))
			out.Durations[i][j] = int(math.Round(*t))
		}
	}
	return out, nil
}

type orsDirectionsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
		} `json:"summary"`
	} `json:"routes"`
}

// RouteDuration returns the driving duration in seconds along points.
func (o *ORS) RouteDuration(ctx context.Context, points []Coordinates) (_ int, err error) {
	defer obs.Time(ctx, "ors.directions")(&err)

	if len(points) < 2 {
		return 0, nil
	}
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lon, p.Lat})
	}
	payload, err := json.Marshal(map[string]any{"coordinates": coords})
	if err != nil {
		return 0, fmt.Errorf("marshal directions request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v2/directions/%s", o.baseURL, o.profile)
	resp, err := o.http.doWithRetry(ctx, func() (*http.Request, error) {
		return o.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	})
	if err != nil {
		return 0, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	var dr orsDirectionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("decode directions response: %w", err)
	}
	if len(dr.Routes) == 0 {
		return 0, fmt.Errorf("directions returned no routes")
	}
	secs := int(math.Round(dr.Routes[0].Summary.Duration))
	log.Printf("[ORS] directions points=%d duration=%ds", len(points), secs)
	return secs, nil
}
