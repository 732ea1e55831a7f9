package store

import (
    "context"
    "errors"
    "time"

    "viasync/internal/model"
)

// Store persists planned routes and their delivery-progress tracking.
type Store interface {
    // StoreRoute saves r with every delivery stop pending and returns its id.
    StoreRoute(ctx context.Context, r model.Route) (string, error)
    GetRoute(ctx context.Context, routeID string) (model.StoredRoute, error)
    ListRoutes(ctx context.Context, cursor string, limit int) ([]model.StoredRoute, string, error)

    UpdateStopStatus(ctx context.Context, routeID string, vehicleID int, stopID string, status model.StopStatus) (model.StoredRoute, error)
    UpdateVehiclePosition(ctx context.Context, routeID string, vehicleID int, lat, lng float64, ts time.Time) (model.VehiclePosition, error)
    ListVehiclePositions(ctx context.Context, routeID string) ([]model.VehiclePosition, error)

    Ping(ctx context.Context) error
}

var (
    ErrNotFound      = errors.New("not found")
    ErrInvalidStatus = errors.New("invalid stop status")
)

func clampLimit(limit int) int {
    if limit <= 0 || limit > 500 { return 100 }
    return limit
}

// findStop returns the index of a delivery stop on r, or -1.
func findStop(r model.Route, stopID string) int {
    for i, s := range r.Stops {
        if !s.IsDepot && s.LocationID == stopID { return i }
    }
    return -1
}

// markPending sets every delivery stop to pending.
func markPending(r *model.Route) {
    for i := range r.Stops {
        if r.Stops[i].IsDepot {
            r.Stops[i].Status = ""
            continue
        }
        r.Stops[i].Status = model.StopPending
    }
}

func applyStatuses(r *model.Route, statuses map[string]model.StopStatus) {
    for i := range r.Stops {
        if st, ok := statuses[r.Stops[i].LocationID]; ok && !r.Stops[i].IsDepot {
            r.Stops[i].Status = st
        }
    }
}
