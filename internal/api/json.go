package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"viasync/internal/routing"
)

// Problem represents an RFC7807 problem details response body. Kind and
// Input are set for failed optimizations.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Input    string `json:"input,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// problemFor maps an optimization error to its HTTP status and title.
func problemFor(err error) Problem {
	p := Problem{Type: "about:blank", Detail: err.Error()}
	var re *routing.Error
	if errors.As(err, &re) {
		p.Kind = string(re.Kind)
		p.Input = re.Input
	}
	switch routing.KindOf(err) {
	case routing.KindConfiguration:
		p.Status, p.Title = http.StatusBadRequest, "Invalid optimize request"
	case routing.KindGeocoding:
		p.Status, p.Title = http.StatusUnprocessableEntity, "Address could not be geocoded"
	case routing.KindInfeasible:
		p.Status, p.Title = http.StatusUnprocessableEntity, "No feasible routes"
	case routing.KindMatrix:
		p.Status, p.Title = http.StatusBadGateway, "Distance matrix unavailable"
	case routing.KindSolver:
		if errors.Is(err, context.DeadlineExceeded) {
			p.Status, p.Title = http.StatusGatewayTimeout, "Solver timed out"
		} else {
			p.Status, p.Title = http.StatusServiceUnavailable, "Solver failed"
		}
	default:
		p.Status, p.Title = http.StatusInternalServerError, "Optimization failed"
	}
	return p
}

func writeOptimizeError(w http.ResponseWriter, r *http.Request, err error) {
	p := problemFor(err)
	p.Instance = r.URL.Path
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
