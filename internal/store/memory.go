package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "viasync/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu        sync.Mutex
    routes    map[string]model.StoredRoute         // id -> route
    order     []string                             // insertion order
    positions map[string]map[int]model.VehiclePosition // route -> vehicle -> latest
    now       func() time.Time
}

func NewMemory() *Memory {
    return &Memory{
        routes:    map[string]model.StoredRoute{},
        positions: map[string]map[int]model.VehiclePosition{},
        now:       func() time.Time { return time.Now().UTC() },
    }
}

func (m *Memory) StoreRoute(ctx context.Context, r model.Route) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    r.ID = id
    r.Stops = append([]model.RouteStop(nil), r.Stops...)
    markPending(&r)
    now := m.now()
    m.routes[id] = model.StoredRoute{Route: r, CreatedAt: now, UpdatedAt: now}
    m.order = append(m.order, id)
    return id, nil
}

func (m *Memory) GetRoute(ctx context.Context, routeID string) (model.StoredRoute, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok { return model.StoredRoute{}, ErrNotFound }
    return copyRoute(r), nil
}

func (m *Memory) ListRoutes(ctx context.Context, cursor string, limit int) ([]model.StoredRoute, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    limit = clampLimit(limit)
    start := 0
    if cursor != "" {
        for i, id := range m.order {
            if id == cursor { start = i + 1; break }
        }
    }
    out := []model.StoredRoute{}
    for i := start; i < len(m.order) && len(out) < limit; i++ {
        out = append(out, copyRoute(m.routes[m.order[i]]))
    }
    next := ""
    if len(out) == limit && start+limit < len(m.order) {
        next = out[len(out)-1].ID
    }
    return out, next, nil
}

func (m *Memory) UpdateStopStatus(ctx context.Context, routeID string, vehicleID int, stopID string, status model.StopStatus) (model.StoredRoute, error) {
    if !status.Valid() { return model.StoredRoute{}, ErrInvalidStatus }
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok || r.VehicleID != vehicleID { return model.StoredRoute{}, ErrNotFound }
    i := findStop(r.Route, stopID)
    if i < 0 { return model.StoredRoute{}, ErrNotFound }
    r = copyRoute(r)
    r.Stops[i].Status = status
    r.UpdatedAt = m.now()
    m.routes[routeID] = r
    return copyRoute(r), nil
}

func (m *Memory) UpdateVehiclePosition(ctx context.Context, routeID string, vehicleID int, lat, lng float64, ts time.Time) (model.VehiclePosition, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.routes[routeID]
    if !ok || r.VehicleID != vehicleID { return model.VehiclePosition{}, ErrNotFound }
    if ts.IsZero() { ts = m.now() }
    pos := model.VehiclePosition{RouteID: routeID, VehicleID: vehicleID, Lat: lat, Lng: lng, RecordedAt: ts.UTC()}
    if m.positions[routeID] == nil { m.positions[routeID] = map[int]model.VehiclePosition{} }
    m.positions[routeID][vehicleID] = pos
    return pos, nil
}

func (m *Memory) ListVehiclePositions(ctx context.Context, routeID string) ([]model.VehiclePosition, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.routes[routeID]; !ok { return nil, ErrNotFound }
    out := []model.VehiclePosition{}
    for _, p := range m.positions[routeID] {
        out = append(out, p)
    }
    return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func copyRoute(r model.StoredRoute) model.StoredRoute {
    r.Stops = append([]model.RouteStop(nil), r.Stops...)
    return r
}
