// Package opt holds the VRPTW solver contract and its implementations: an
// in-process adaptive large neighbourhood search and an adapter for an
// external optimizer process speaking the same JSON documents.
package opt

import (
	"context"
	"errors"
	"fmt"
)

// Problem is the solver input. Node 0 is the depot. Times are seconds from
// midnight, distances meters.
type Problem struct {
	NumVehicles       int      `json:"num_vehicles"`
	Depot             int      `json:"depot"`
	DistanceMatrix    [][]int  `json:"distance_matrix"`
	TimeMatrix        [][]int  `json:"time_matrix"`
	TimeWindows       [][2]int `json:"time_windows"`
	VehicleCapacities []int    `json:"vehicle_capacities"`
	Demands           []int    `json:"demands"`
	ServiceTimes      []int    `json:"service_times"`
}

// Nodes returns the node count including the depot.
func (p Problem) Nodes() int { return len(p.DistanceMatrix) }

func (p Problem) service(i int) int {
	if i <= 0 || i >= len(p.ServiceTimes) {
		return 0
	}
	return p.ServiceTimes[i]
}

// VehicleRoute is one used vehicle. Route starts and ends at 0.
// ArrivalTimes[k] for a delivery node is service start plus that node's
// service time; at the depot ends it is departure and return.
type VehicleRoute struct {
	VehicleID    int   `json:"vehicle_id"`
	Route        []int `json:"route"`
	Loads        []int `json:"loads"`
	ArrivalTimes []int `json:"arrival_times"`
	Distance     int   `json:"distance"`
	Time         int   `json:"time"`
	Load         int   `json:"load"`
	Capacity     int   `json:"capacity"`
}

type Solution struct {
	Routes          []VehicleRoute `json:"routes"`
	TotalDistance   int            `json:"total_distance"`
	TotalTime       int            `json:"total_time"`
	TotalLoad       int            `json:"total_load"`
	NumVehiclesUsed int            `json:"num_vehicles_used"`
	Error           string         `json:"error,omitempty"`
}

type Solver interface {
	Solve(ctx context.Context, p Problem) (Solution, error)
}

var (
	// ErrInfeasible means no assignment satisfies the constraints. Retrying
	// the same problem cannot help.
	ErrInfeasible = errors.New("no feasible solution found")
	// ErrInvalidProblem is returned for malformed input before any search.
	ErrInvalidProblem = errors.New("invalid problem")
)

// ProcessError is a solver process, transport or response failure. It is
// the retryable kind.
type ProcessError struct {
	Op  string
	Err error
}

func (e *ProcessError) Error() string { return fmt.Sprintf("solver %s: %v", e.Op, e.Err) }
func (e *ProcessError) Unwrap() error { return e.Err }

// ValidateProblem checks matrix shapes and parallel array lengths.
func ValidateProblem(p Problem) error {
	n := p.Nodes()
	if n == 0 {
		return fmt.Errorf("%w: empty matrix", ErrInvalidProblem)
	}
	if len(p.TimeMatrix) != n {
		return fmt.Errorf("%w: time matrix has %d rows, distance matrix %d", ErrInvalidProblem, len(p.TimeMatrix), n)
	}
	for i := 0; i < n; i++ {
		if len(p.DistanceMatrix[i]) != n || len(p.TimeMatrix[i]) != n {
			return fmt.Errorf("%w: row %d is not %d wide", ErrInvalidProblem, i, n)
		}
	}
	if len(p.TimeWindows) != n {
		return fmt.Errorf("%w: %d time windows for %d nodes", ErrInvalidProblem, len(p.TimeWindows), n)
	}
	for i, tw := range p.TimeWindows {
		if tw[0] > tw[1] {
			return fmt.Errorf("%w: window %d starts after it ends", ErrInvalidProblem, i)
		}
	}
	if len(p.Demands) != n {
		return fmt.Errorf("%w: %d demands for %d nodes", ErrInvalidProblem, len(p.Demands), n)
	}
	if len(p.ServiceTimes) != 0 && len(p.ServiceTimes) != n {
		return fmt.Errorf("%w: %d service times for %d nodes", ErrInvalidProblem, len(p.ServiceTimes), n)
	}
	if len(p.VehicleCapacities) == 0 {
		return fmt.Errorf("%w: no vehicles", ErrInvalidProblem)
	}
	if p.NumVehicles != 0 && p.NumVehicles != len(p.VehicleCapacities) {
		return fmt.Errorf("%w: num_vehicles %d for %d capacities", ErrInvalidProblem, p.NumVehicles, len(p.VehicleCapacities))
	}
	if p.Depot != 0 {
		return fmt.Errorf("%w: depot must be node 0, got %d", ErrInvalidProblem, p.Depot)
	}
	return nil
}

// ValidateSolution checks the shape of a solver response against p.
func ValidateSolution(p Problem, s Solution) error {
	n := p.Nodes()
	seen := map[int]bool{}
	bad := func(format string, args ...any) error {
		return &ProcessError{Op: "validate", Err: fmt.Errorf(format, args...)}
	}
	for ri, r := range s.Routes {
		if r.VehicleID < 0 || r.VehicleID >= len(p.VehicleCapacities) {
			return bad("route %d: vehicle %d out of range", ri, r.VehicleID)
		}
		if len(r.Route) < 2 || r.Route[0] != 0 || r.Route[len(r.Route)-1] != 0 {
			return bad("route %d: must start and end at the depot", ri)
		}
		if len(r.ArrivalTimes) != len(r.Route) {
			return bad("route %d: %d arrival times for %d nodes", ri, len(r.ArrivalTimes), len(r.Route))
		}
		if len(r.Loads) != 0 && len(r.Loads) != len(r.Route) {
			return bad("route %d: %d loads for %d nodes", ri, len(r.Loads), len(r.Route))
		}
		for _, idx := range r.Route[1 : len(r.Route)-1] {
			if idx <= 0 || idx >= n {
				return bad("route %d: node %d out of range", ri, idx)
			}
			if seen[idx] {
				return bad("node %d visited twice", idx)
			}
			seen[idx] = true
		}
	}
	return nil
}
