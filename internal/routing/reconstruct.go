package routing

import (
	"math"

	"viasync/internal/model"
	"viasync/internal/opt"
)

// DepotLocationID identifies the depot stop in routes.
const DepotLocationID = "depot"

// Reconstruct converts a solution into driver-facing routes. The solver's
// arrival at a delivery already includes its service time, so the shown
// arrival is that value minus service and the departure is the value
// itself. The opening depot departure is the custom start when one was
// given, otherwise it is derived back from the first delivery. The
// returning depot visit has equal arrival and departure.
func (b *Batch) Reconstruct(sol opt.Solution) ([]model.Route, error) {
	if err := opt.ValidateSolution(b.Problem, sol); err != nil {
		return nil, err
	}
	routes := make([]model.Route, 0, len(sol.Routes))
	for _, vr := range sol.Routes {
		if len(vr.Route) <= 2 {
			continue
		}
		r := model.Route{
			VehicleID:     vr.VehicleID,
			TotalDistance: vr.Distance,
			TotalTime:     int(math.Round(float64(vr.Time) / 60)),
			Load:          vr.Load,
			Capacity:      vr.Capacity,
			Stops:         make([]model.RouteStop, 0, len(vr.Route)),
		}
		if r.Capacity == 0 {
			r.Capacity = b.Problem.VehicleCapacities[vr.VehicleID]
		}
		last := len(vr.Route) - 1
		load := 0
		for k, node := range vr.Route {
			switch {
			case k == 0:
				first := vr.Route[1]
				dep := vr.ArrivalTimes[1] - b.Problem.TimeMatrix[0][first] - b.ServiceSec
				if b.CustomStart != nil {
					dep = *b.CustomStart * 60
				}
				r.Stops = append(r.Stops, b.depotStop(dep))
			case k == last:
				r.Stops = append(r.Stops, b.depotStop(vr.ArrivalTimes[k]))
			default:
				s := b.Stops[node-1]
				arr := vr.ArrivalTimes[k] - b.ServiceSec
				dep := vr.ArrivalTimes[k]
				if arr < s.Window.Start*60 || arr > s.Window.End*60 {
					r.TimeWindowViolations++
				}
				load += s.Demand
				r.Stops = append(r.Stops, model.RouteStop{
					LocationID:    s.ID,
					Address:       s.Address,
					Lat:           s.Coord.Lat,
					Lng:           s.Coord.Lon,
					ArrivalTime:   formatSeconds(arr),
					DepartureTime: formatSeconds(dep),
					ArrivalSec:    arr,
					DepartureSec:  dep,
					TimeWindow:    windowOut(s.Window),
					Demand:        s.Demand,
					MergedIDs:     s.MergedIDs,
					Orders:        ordersOut(s.Orders),
				})
			}
		}
		if r.Load == 0 {
			r.Load = load
		}
		routes = append(routes, r)
	}
	return routes, nil
}

func (b *Batch) depotStop(sec int) model.RouteStop {
	return model.RouteStop{
		LocationID:    DepotLocationID,
		Address:       b.Depot.Address,
		Lat:           b.Depot.Coord.Lat,
		Lng:           b.Depot.Coord.Lon,
		ArrivalTime:   formatSeconds(sec),
		DepartureTime: formatSeconds(sec),
		ArrivalSec:    sec,
		DepartureSec:  sec,
		TimeWindow:    windowOut(b.Depot.Window),
		IsDepot:       true,
	}
}

func windowOut(w Window) model.TimeWindow {
	return model.TimeWindow{Start: FormatClock(w.Start), End: FormatClock(w.End)}
}

func ordersOut(orders []Order) []model.OrderRef {
	if len(orders) == 0 {
		return nil
	}
	out := make([]model.OrderRef, len(orders))
	for i, o := range orders {
		out[i] = model.OrderRef{ID: o.ID, Address: o.Address, TimeWindow: windowOut(o.Window), Demand: o.Demand, Metadata: o.Metadata}
	}
	return out
}

// Summarize fills the result totals from its routes.
func Summarize(res *model.OptimizeResult) {
	res.TotalDistance, res.TotalTime, res.TotalLoad = 0, 0, 0
	for _, r := range res.Routes {
		res.TotalDistance += r.TotalDistance
		res.TotalTime += r.TotalTime
		res.TotalLoad += r.Load
	}
	res.NumVehiclesUsed = len(res.Routes)
}
