package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log"
    "net/http"
    "strconv"
    "strings"
    "time"

    "viasync/internal/model"
    "viasync/internal/obs"
    "viasync/internal/opt"
    "viasync/internal/store"
)

const maxBodyBytes = 8 << 20

var heartbeatInterval = 15 * time.Second

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    var req model.OptimizeRequest
    if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    res, err := s.Optimizer.Optimize(r.Context(), req)
    if err != nil {
        writeOptimizeError(w, r, err)
        return
    }
    for i := range res.Routes {
        rt := &res.Routes[i]
        id, err := s.Store.StoreRoute(r.Context(), *rt)
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Persist routes failed", err.Error(), r.URL.Path)
            return
        }
        rt.ID = id
        s.Broker.Publish(id, SSEEvent{Type: EventRoutePlanned, Data: map[string]any{
            "routeId":       id,
            "vehicleId":     rt.VehicleID,
            "cluster":       rt.Cluster,
            "stops":         len(rt.Stops),
            "totalDistance": rt.TotalDistance,
            "totalTime":     rt.TotalTime,
        }})
    }
    writeJSON(w, http.StatusOK, res)
}

// OptimizerConfigHandler returns the effective optimizer configuration
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    c := s.Config
    defaults := map[string]any{
        "maxBatchSize":       c.Routing.MaxBatchSize,
        "serviceTimeMinutes": c.Routing.ServiceTimeMinutes,
        "minWindowMinutes":   c.Routing.MinWindowMinutes,
        "depotWindow":        model.TimeWindow{Start: c.Routing.DepotOpen, End: c.Routing.DepotClose},
        "dropUngeocodable":   c.Routing.DropUngeocodable,
        "enrichEta":          c.Routing.EnrichETA,
        "clusterParallelism": c.Routing.ClusterParallelism,
        "geocoder":           c.Geo.Geocoder,
        "matrixProvider":     c.Geo.MatrixProvider,
        "solver":             c.Solver.Kind,
        "solverTimeoutMs":    c.Solver.Timeout.Milliseconds(),
        "timeBudgetMs":       c.Solver.TimeBudget.Milliseconds(),
        "maxIterations":      c.Solver.Iterations,
        "maxWaitMinutes":     int(c.Solver.MaxWait.Minutes()),
        "retries":            c.Solver.Retries,
    }
    writeJSON(w, 200, map[string]any{"defaults": defaults})
}

// RoutesIndexHandler handles GET /v1/routes
func (s *Server) RoutesIndexHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil { writeProblem(w, 400, "Invalid limit", err.Error(), r.URL.Path); return }
        limit = n
    }
    items, next, err := s.Store.ListRoutes(r.Context(), cursor, limit)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List routes failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// RouteByIDHandler handles GET /v1/routes/{id} and the tracking endpoints
// below it.
func (s *Server) RouteByIDHandler(w http.ResponseWriter, r *http.Request) {
    path := r.URL.Path
    rest := strings.TrimPrefix(path, "/v1/routes/")
    if rest == path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", path)
        return
    }
    id, action, _ := strings.Cut(rest, "/")
    method := http.MethodGet
    var handle func(http.ResponseWriter, *http.Request, string)
    switch action {
    case "":
        handle = s.getRoute
    case "stops/status":
        method, handle = http.MethodPost, s.updateStopStatus
    case "position":
        method, handle = http.MethodPost, s.updatePosition
    case "positions":
        handle = s.listPositions
    case "events/stream":
        handle = s.streamEvents
    case "ws":
        handle = s.RouteWSHandler
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", path)
        return
    }
    if r.Method != method {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    handle(w, r, id)
}

func (s *Server) getRoute(w http.ResponseWriter, r *http.Request, id string) {
    rt, err := s.Store.GetRoute(r.Context(), id)
    if err != nil { writeStoreError(w, r, "Get route failed", err); return }
    writeJSON(w, http.StatusOK, rt)
}

func (s *Server) updateStopStatus(w http.ResponseWriter, r *http.Request, id string) {
    var req model.StopStatusUpdate
    if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateStopStatusUpdate(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid status update", err.Error(), r.URL.Path)
        return
    }
    rt, err := s.Store.UpdateStopStatus(r.Context(), id, req.VehicleID, req.StopID, req.Status)
    if err != nil { writeStoreError(w, r, "Update stop status failed", err); return }
    s.Broker.Publish(id, SSEEvent{Type: EventStopStatus, Data: map[string]any{
        "routeId":   id,
        "vehicleId": req.VehicleID,
        "stopId":    req.StopID,
        "status":    req.Status,
        "ts":        rt.UpdatedAt.Format(time.RFC3339),
    }})
    writeJSON(w, http.StatusOK, rt)
}

func (s *Server) updatePosition(w http.ResponseWriter, r *http.Request, id string) {
    var req model.PositionUpdate
    if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validatePositionUpdate(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid position", err.Error(), r.URL.Path)
        return
    }
    pos, err := s.Store.UpdateVehiclePosition(r.Context(), id, req.VehicleID, req.Lat, req.Lng, req.Timestamp)
    if err != nil { writeStoreError(w, r, "Update position failed", err); return }
    s.Broker.Publish(id, SSEEvent{Type: EventVehiclePosition, Data: map[string]any{
        "routeId":   id,
        "vehicleId": pos.VehicleID,
        "lat":       pos.Lat,
        "lng":       pos.Lng,
        "ts":        pos.RecordedAt.Format(time.RFC3339),
    }})
    writeJSON(w, http.StatusOK, pos)
}

func (s *Server) listPositions(w http.ResponseWriter, r *http.Request, id string) {
    items, err := s.Store.ListVehiclePositions(r.Context(), id)
    if err != nil { writeStoreError(w, r, "List positions failed", err); return }
    writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// streamEvents serves route events as Server-Sent Events with a periodic
// heartbeat.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, id string) {
    if _, err := s.Store.GetRoute(r.Context(), id); err != nil { writeStoreError(w, r, "Get route failed", err); return }
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)

    heartbeat := func() {
        fmt.Fprintf(w, "event: heartbeat\n")
        fmt.Fprintf(w, "data: {\"routeId\":%q,\"ts\":%q}\n\n", id, time.Now().UTC().Format(time.RFC3339))
        flusher.Flush()
    }
    heartbeat()
    ticker := time.NewTicker(heartbeatInterval)
    defer ticker.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            b, err := json.Marshal(evt.Data)
            if err != nil {
                log.Printf("req_id=%s route=%s sse encode %s: %v", obs.RequestID(r.Context()), id, evt.Type, err)
                continue
            }
            fmt.Fprintf(w, "event: %s\n", evt.Type)
            fmt.Fprintf(w, "data: %s\n\n", b)
            flusher.Flush()
        case <-ticker.C:
            heartbeat()
        }
    }
}

// SolverMetricsHandler returns recent in-process search statistics, newest
// first.
func (s *Server) SolverMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/solver-metrics" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    limit := 20
    if v := r.URL.Query().Get("limit"); v != "" {
        n, err := strconv.Atoi(v)
        if err != nil || n < 1 { writeProblem(w, 400, "Invalid limit", "limit must be a positive integer", r.URL.Path); return }
        limit = n
    }
    key := r.URL.Query().Get("key")
    items := []opt.RecordedMetrics{}
    for _, m := range opt.RecentMetrics(0) {
        if key != "" && !strings.HasPrefix(m.Key, key) { continue }
        items = append(items, m)
        if len(items) == limit { break }
    }
    writeJSON(w, 200, map[string]any{"items": items})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
    defer cancel()
    if err := s.Store.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    type pinger interface{ Ping(ctx context.Context) error }
    if p, ok := s.Broker.(pinger); ok {
        if err := p.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", "broker: "+err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

func writeStoreError(w http.ResponseWriter, r *http.Request, title string, err error) {
    switch {
    case errors.Is(err, store.ErrNotFound):
        writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
    case errors.Is(err, store.ErrInvalidStatus):
        writeProblem(w, http.StatusBadRequest, title, err.Error(), r.URL.Path)
    default:
        writeProblem(w, http.StatusInternalServerError, title, err.Error(), r.URL.Path)
    }
}
