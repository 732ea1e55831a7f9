package routing

import (
	"fmt"

	"viasync/internal/geo"
	"viasync/internal/opt"
)

// DefaultDepotWindow is 07:00 to end of day.
var DefaultDepotWindow = Window{Start: 7 * 60, End: EndOfDay}

type ProblemInput struct {
	Depot             Depot // zero Window means DefaultDepotWindow
	Stops             []Stop
	Matrix            geo.Matrix // depot first, then Stops in order
	VehicleCapacities []int
	ServiceMinutes    int
	MinWindowMinutes  int
	CustomStart       *int // minutes from midnight; replaces the depot opening time
}

// Batch is a built problem together with what is needed to turn the
// solver's answer back into routes.
type Batch struct {
	Problem     opt.Problem
	Depot       Depot
	Stops       []Stop
	ServiceSec  int
	CustomStart *int
}

// BuildProblem assembles the solver input. Times are converted to seconds
// from midnight; matrix values are used as given.
func BuildProblem(in ProblemInput) (*Batch, error) {
	if len(in.VehicleCapacities) == 0 {
		return nil, configError("vehicleCapacities", "at least one vehicle is required")
	}
	n := len(in.Stops) + 1
	if size := in.Matrix.Size(); size != n {
		return nil, &Error{Kind: KindMatrix, Err: fmt.Errorf("matrix has %d rows for %d nodes", size, n)}
	}

	depotWin := in.Depot.Window
	if depotWin == (Window{}) {
		depotWin = DefaultDepotWindow
	}
	if in.CustomStart != nil {
		if *in.CustomStart > depotWin.End {
			return nil, configError(FormatClock(*in.CustomStart), "custom start is after the depot closes at %s", FormatClock(depotWin.End))
		}
		depotWin.Start = *in.CustomStart
	}
	depot := in.Depot
	depot.Window = depotWin

	svc := in.ServiceMinutes * 60
	p := opt.Problem{
		NumVehicles:       len(in.VehicleCapacities),
		Depot:             0,
		DistanceMatrix:    in.Matrix.Distances,
		TimeMatrix:        in.Matrix.Durations,
		TimeWindows:       make([][2]int, n),
		VehicleCapacities: append([]int(nil), in.VehicleCapacities...),
		Demands:           make([]int, n),
		ServiceTimes:      make([]int, n),
	}
	p.TimeWindows[0] = [2]int{depotWin.Start * 60, depotWin.End * 60}
	stops := make([]Stop, len(in.Stops))
	for i, s := range in.Stops {
		w, err := NormalizeWindow(s.Window, in.MinWindowMinutes)
		if err != nil {
			return nil, configError(s.ID, "%v", err)
		}
		s.Window = w
		stops[i] = s
		p.TimeWindows[i+1] = [2]int{w.Start * 60, w.End * 60}
		p.Demands[i+1] = s.Demand
		p.ServiceTimes[i+1] = svc
	}
	return &Batch{Problem: p, Depot: depot, Stops: stops, ServiceSec: svc, CustomStart: in.CustomStart}, nil
}
