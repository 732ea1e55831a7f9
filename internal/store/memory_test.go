package store

import (
    "errors"
    "testing"
    "time"

    "viasync/internal/model"
)

func sampleRoute() model.Route {
    return model.Route{
        VehicleID: 2,
        Stops: []model.RouteStop{
            {LocationID: "depot", IsDepot: true},
            {LocationID: "a", Address: "1 Main St"},
            {LocationID: "b,c", Address: "2 Main St", MergedIDs: []string{"b", "c"}},
            {LocationID: "depot", IsDepot: true},
        },
        Load: 3, Capacity: 10,
    }
}

func TestMemoryStoreRouteStartsPending(t *testing.T) {
    m := NewMemory()
    id, err := m.StoreRoute(testContext(t), sampleRoute())
    if err != nil { t.Fatalf("StoreRoute: %v", err) }
    r, err := m.GetRoute(testContext(t), id)
    if err != nil { t.Fatalf("GetRoute: %v", err) }
    if r.ID != id { t.Fatalf("want id %s, got %s", id, r.ID) }
    if r.Stops[1].Status != model.StopPending || r.Stops[2].Status != model.StopPending {
        t.Fatalf("delivery stops should be pending: %+v", r.Stops)
    }
    if r.Stops[0].Status != "" { t.Fatalf("depot should have no status") }
}

func TestMemoryUpdateStopStatus(t *testing.T) {
    m := NewMemory()
    id, _ := m.StoreRoute(testContext(t), sampleRoute())

    r, err := m.UpdateStopStatus(testContext(t), id, 2, "b,c", model.StopInProgress)
    if err != nil { t.Fatalf("UpdateStopStatus: %v", err) }
    if r.Stops[2].Status != model.StopInProgress { t.Fatalf("status not applied") }

    if _, err := m.UpdateStopStatus(testContext(t), id, 2, "a", "lost"); !errors.Is(err, ErrInvalidStatus) {
        t.Fatalf("want ErrInvalidStatus, got %v", err)
    }
    if _, err := m.UpdateStopStatus(testContext(t), id, 7, "a", model.StopCompleted); !errors.Is(err, ErrNotFound) {
        t.Fatalf("wrong vehicle: want ErrNotFound, got %v", err)
    }
    if _, err := m.UpdateStopStatus(testContext(t), id, 2, "depot", model.StopCompleted); !errors.Is(err, ErrNotFound) {
        t.Fatalf("depot: want ErrNotFound, got %v", err)
    }
    if _, err := m.UpdateStopStatus(testContext(t), "missing", 2, "a", model.StopCompleted); !errors.Is(err, ErrNotFound) {
        t.Fatalf("missing route: want ErrNotFound, got %v", err)
    }
}

func TestMemoryVehiclePositions(t *testing.T) {
    m := NewMemory()
    id, _ := m.StoreRoute(testContext(t), sampleRoute())
    ts := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

    if _, err := m.UpdateVehiclePosition(testContext(t), id, 2, 40.1, -75.2, ts); err != nil {
        t.Fatalf("UpdateVehiclePosition: %v", err)
    }
    if _, err := m.UpdateVehiclePosition(testContext(t), id, 2, 40.2, -75.3, ts.Add(time.Minute)); err != nil {
        t.Fatalf("UpdateVehiclePosition: %v", err)
    }
    pos, err := m.ListVehiclePositions(testContext(t), id)
    if err != nil { t.Fatalf("ListVehiclePositions: %v", err) }
    if len(pos) != 1 || pos[0].Lat != 40.2 || !pos[0].RecordedAt.Equal(ts.Add(time.Minute)) {
        t.Fatalf("want latest position, got %+v", pos)
    }
    if _, err := m.UpdateVehiclePosition(testContext(t), id, 9, 0, 0, ts); !errors.Is(err, ErrNotFound) {
        t.Fatalf("wrong vehicle: want ErrNotFound, got %v", err)
    }
}

func TestMemoryListRoutesPaginates(t *testing.T) {
    m := NewMemory()
    var ids []string
    for i := 0; i < 5; i++ {
        id, _ := m.StoreRoute(testContext(t), sampleRoute())
        ids = append(ids, id)
    }
    page, next, err := m.ListRoutes(testContext(t), "", 2)
    if err != nil { t.Fatalf("ListRoutes: %v", err) }
    if len(page) != 2 || next != ids[1] { t.Fatalf("page1: %d items next=%s", len(page), next) }

    page, next, _ = m.ListRoutes(testContext(t), next, 2)
    if len(page) != 2 || page[0].ID != ids[2] { t.Fatalf("page2 wrong: %+v", page) }

    page, next, _ = m.ListRoutes(testContext(t), next, 2)
    if len(page) != 1 || next != "" { t.Fatalf("last page: %d items next=%q", len(page), next) }
}

func TestMemoryGetReturnsCopy(t *testing.T) {
    m := NewMemory()
    id, _ := m.StoreRoute(testContext(t), sampleRoute())
    r, _ := m.GetRoute(testContext(t), id)
    r.Stops[1].Status = model.StopFailed
    again, _ := m.GetRoute(testContext(t), id)
    if again.Stops[1].Status != model.StopPending { t.Fatalf("mutation leaked into the store") }
}
