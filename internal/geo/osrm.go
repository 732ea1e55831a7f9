package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"viasync/internal/obs"
)

// OSRMMaxPoints is the coordinate cap of the public OSRM table service.
const OSRMMaxPoints = 80

// OSRM computes matrices with the OSRM table service.
type OSRM struct {
	baseURL string
	http    httpClient
}

func NewOSRM(baseURL string) *OSRM {
	if baseURL == "" {
		baseURL = "https://router.project-osrm.org"
	}
	return &OSRM{baseURL: strings.TrimRight(baseURL, "/"), http: newHTTPClient(30 * time.Second)}
}

type osrmTableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

func (c *OSRM) Matrix(ctx context.Context, points []Coordinates) (_ Matrix, err error) {
	defer obs.Time(ctx, "osrm.table")(&err)

	n := len(points)
	if n == 0 {
		return Matrix{}, nil
	}
	if n > OSRMMaxPoints {
		return Matrix{}, fmt.Errorf("matrix of %d points exceeds provider cap %d", n, OSRMMaxPoints)
	}
	parts := make([]string, 0, n)
	for _, p := range points {
		parts = append(parts, fmt.Sprintf("%.6f,%.6f", p.Lon, p.Lat))
	}
	endpoint := fmt.Sprintf("%s/table/v1/driving/%s?annotations=distance,duration", c.baseURL, strings.Join(parts, ";"))

	resp, err := c.http.doWithRetry(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return Matrix{}, fmt.Errorf("table request failed: %w", err)
	}
	defer resp.Body.Close()

	var tr osrmTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Matrix{}, fmt.Errorf("decode table response: %w", err)
	}
	if tr.Code != "Ok" {
		return Matrix{}, fmt.Errorf("osrm code %s: %s", tr.Code, tr.Message)
	}
	if len(tr.Distances) != n || len(tr.Durations) != n {
		return Matrix{}, fmt.Errorf("expected %d rows; got distances=%d durations=%d", n, len(tr.Distances), len(tr.Durations))
	}
	out := Matrix{Distances: make([][]int, n), Durations: make([][]int, n)}
	for i := 0; i < n; i++ {
		if len(tr.Distances[i]) != n || len(tr.Durations[i]) != n {
			return Matrix{}, fmt.Errorf("row %d has wrong length", i)
		}
		out.Distances[i] = make([]int, n)
		out.Durations[i] = make([]int, n)
		for j := 0; j < n; j++ {
			if tr.Distances[i][j] == nil || tr.Durations[i][j] == nil {
				return Matrix{}, fmt.Errorf("no route between points %d and %d", i, j)
			}
			out.Distances[i][j] = int(math.Round(*tr.Distances[i][j]))
			out.Durations[i][j] = int(math.Round(*tr.Durations[i][j]))
		}
	}
	return out, nil
}
