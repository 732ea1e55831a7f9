package api

import (
    "bufio"
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "net/http/httptest"
    "strings"
    "sync"
    "testing"
    "time"

    "github.com/gorilla/websocket"

    "viasync/internal/config"
    "viasync/internal/model"
    "viasync/internal/opt"
    "viasync/internal/routing"
    "viasync/internal/store"
)

type fakeOptimizer struct {
    res model.OptimizeResult
    err error
    got model.OptimizeRequest
}

func (f *fakeOptimizer) Optimize(_ context.Context, req model.OptimizeRequest) (model.OptimizeResult, error) {
    f.got = req
    return f.res, f.err
}

type recordingBroker struct {
    *Broker
    mu        sync.Mutex
    published []SSEEvent
}

func (b *recordingBroker) Publish(routeID string, evt SSEEvent) {
    b.mu.Lock()
    b.published = append(b.published, evt)
    b.mu.Unlock()
    b.Broker.Publish(routeID, evt)
}

func (b *recordingBroker) types() []string {
    b.mu.Lock()
    defer b.mu.Unlock()
    out := []string{}
    for _, e := range b.published { out = append(out, e.Type) }
    return out
}

func newTestServer(t *testing.T, o Optimizer) (*Server, *recordingBroker) {
    t.Helper()
    if o == nil { o = &fakeOptimizer{} }
    b := &recordingBroker{Broker: NewBroker()}
    return &Server{Store: store.NewMemory(), Broker: b, Optimizer: o, Config: config.Default()}, b
}

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

func seedRoute(t *testing.T, s *Server) string {
    t.Helper()
    id, err := s.Store.StoreRoute(testContext(t), sampleRoute())
    if err != nil { t.Fatalf("StoreRoute: %v", err) }
    return id
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
    var r io.Reader
    if body != "" { r = strings.NewReader(body) }
    req := httptest.NewRequest(method, path, r)
    if body != "" { req.Header.Set("Content-Type", "application/json") }
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    return rr
}

func TestHealthReady(t *testing.T) {
    s, _ := newTestServer(t, nil)
    h := s.Handler()
    if rr := do(h, http.MethodGet, "/healthz", ""); rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    if rr := do(h, http.MethodGet, "/readyz", ""); rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestOptimizePersistsAndPublishes(t *testing.T) {
    r1, r2 := sampleRoute(), sampleRoute()
    r2.VehicleID = 3
    o := &fakeOptimizer{res: model.OptimizeResult{Routes: []model.Route{r1, r2}, NumVehiclesUsed: 2, Warnings: []string{}}}
    s, b := newTestServer(t, o)
    h := s.Handler()

    rr := do(h, http.MethodPost, "/v1/optimize", `{"depot":{"address":"Depot"},"deliveries":[{"address":"1 Main St","timeWindow":{"start":"09:00","end":"10:00"}}],"vehicleCapacities":[5]}`)
    if rr.Code != 200 { t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String()) }
    if o.got.Depot.Address != "Depot" || len(o.got.Deliveries) != 1 || o.got.VehicleCapacities[0] != 5 {
        t.Fatalf("request not passed through: %+v", o.got)
    }
    var res model.OptimizeResult
    if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil { t.Fatalf("decode: %v", err) }
    if len(res.Routes) != 2 { t.Fatalf("want 2 routes, got %d", len(res.Routes)) }
    for _, rt := range res.Routes {
        if rt.ID == "" { t.Fatalf("route id not set: %+v", rt) }
        stored, err := s.Store.GetRoute(testContext(t), rt.ID)
        if err != nil { t.Fatalf("GetRoute %s: %v", rt.ID, err) }
        if stored.VehicleID != rt.VehicleID { t.Fatalf("stored vehicle %d, want %d", stored.VehicleID, rt.VehicleID) }
    }
    if got := b.types(); len(got) != 2 || got[0] != EventRoutePlanned || got[1] != EventRoutePlanned {
        t.Fatalf("published %v", got)
    }

    rr = do(h, http.MethodGet, "/v1/routes?limit=1", "")
    if rr.Code != 200 { t.Fatalf("routes index: %d", rr.Code) }
    var page struct {
        Items      []model.StoredRoute `json:"items"`
        NextCursor string              `json:"nextCursor"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &page)
    if len(page.Items) != 1 || page.NextCursor == "" { t.Fatalf("bad page: %+v", page) }
}

func TestOptimizeErrorMapping(t *testing.T) {
    cases := []struct {
        name   string
        err    error
        status int
        kind   string
        input  string
    }{
        {"configuration", &routing.Error{Kind: routing.KindConfiguration, Input: "vehicleCapacities", Err: errors.New("empty")}, 400, "configuration_error", "vehicleCapacities"},
        {"geocoding", &routing.Error{Kind: routing.KindGeocoding, Input: "Nowhere 1", Err: errors.New("not found")}, 422, "geocoding_failure", "Nowhere 1"},
        {"infeasible", &routing.Error{Kind: routing.KindInfeasible, Err: opt.ErrInfeasible}, 422, "solver_infeasible", ""},
        {"matrix", &routing.Error{Kind: routing.KindMatrix, Err: errors.New("upstream 500")}, 502, "matrix_failure", ""},
        {"solver", &routing.Error{Kind: routing.KindSolver, Err: &opt.ProcessError{Op: "run", Err: errors.New("exit 1")}}, 503, "solver_failure", ""},
        {"solver timeout", &routing.Error{Kind: routing.KindSolver, Err: &opt.ProcessError{Op: "run", Err: context.DeadlineExceeded}}, 504, "solver_failure", ""},
        {"unclassified", errors.New("boom"), 500, "", ""},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            s, b := newTestServer(t, &fakeOptimizer{err: tc.err})
            rr := do(s.Handler(), http.MethodPost, "/v1/optimize", `{}`)
            if rr.Code != tc.status { t.Fatalf("status %d, want %d", rr.Code, tc.status) }
            var p Problem
            if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil { t.Fatalf("decode: %v", err) }
            if p.Kind != tc.kind || p.Input != tc.input || p.Status != tc.status || p.Instance != "/v1/optimize" {
                t.Fatalf("bad problem: %+v", p)
            }
            if len(b.types()) != 0 { t.Fatalf("nothing should be published on failure") }
        })
    }
}

func TestOptimizeRejectsBadRequests(t *testing.T) {
    s, _ := newTestServer(t, nil)
    h := s.Handler()
    if rr := do(h, http.MethodPost, "/v1/optimize", `{"depot":`); rr.Code != 400 { t.Fatalf("invalid json: %d", rr.Code) }
    if rr := do(h, http.MethodGet, "/v1/optimize", ""); rr.Code != 405 { t.Fatalf("wrong method: %d", rr.Code) }
}

func TestOptimizerConfig(t *testing.T) {
    s, _ := newTestServer(t, nil)
    rr := do(s.Handler(), http.MethodGet, "/v1/optimizer/config", "")
    if rr.Code != 200 { t.Fatalf("config: %d", rr.Code) }
    var body struct{ Defaults map[string]any `json:"defaults"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &body)
    if body.Defaults["maxBatchSize"] != float64(24) || body.Defaults["solver"] != "alns" {
        t.Fatalf("unexpected defaults: %+v", body.Defaults)
    }
}

func TestStopStatusUpdates(t *testing.T) {
    s, _ := newTestServer(t, nil)
    h := s.Handler()
    id := seedRoute(t, s)
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)

    rr := do(h, http.MethodPost, "/v1/routes/"+id+"/stops/status", `{"vehicleId":2,"stopId":"b,c","status":"completed"}`)
    if rr.Code != 200 { t.Fatalf("update: %d %s", rr.Code, rr.Body.String()) }
    var rt model.StoredRoute
    _ = json.Unmarshal(rr.Body.Bytes(), &rt)
    if rt.Stops[2].Status != model.StopCompleted || rt.Stops[1].Status != model.StopPending {
        t.Fatalf("bad statuses: %+v", rt.Stops)
    }
    select {
    case evt := <-ch:
        if evt.Type != EventStopStatus || evt.Data["stopId"] != "b,c" { t.Fatalf("bad event: %+v", evt) }
    case <-time.After(time.Second):
        t.Fatal("no event published")
    }

    cases := map[string]struct {
        path, body string
        status     int
    }{
        "bad status":    {"/v1/routes/" + id + "/stops/status", `{"vehicleId":2,"stopId":"a","status":"lost"}`, 400},
        "missing stop":  {"/v1/routes/" + id + "/stops/status", `{"vehicleId":2,"status":"completed"}`, 400},
        "unknown stop":  {"/v1/routes/" + id + "/stops/status", `{"vehicleId":2,"stopId":"zz","status":"completed"}`, 404},
        "wrong vehicle": {"/v1/routes/" + id + "/stops/status", `{"vehicleId":9,"stopId":"a","status":"completed"}`, 404},
        "depot":         {"/v1/routes/" + id + "/stops/status", `{"vehicleId":2,"stopId":"depot","status":"completed"}`, 404},
        "unknown route": {"/v1/routes/nope/stops/status", `{"vehicleId":2,"stopId":"a","status":"completed"}`, 404},
        "bad json":      {"/v1/routes/" + id + "/stops/status", `{`, 400},
    }
    for name, tc := range cases {
        t.Run(name, func(t *testing.T) {
            if rr := do(h, http.MethodPost, tc.path, tc.body); rr.Code != tc.status {
                t.Fatalf("got %d, want %d: %s", rr.Code, tc.status, rr.Body.String())
            }
        })
    }
}

func TestVehiclePositions(t *testing.T) {
    s, b := newTestServer(t, nil)
    h := s.Handler()
    id := seedRoute(t, s)

    rr := do(h, http.MethodPost, "/v1/routes/"+id+"/position", `{"vehicleId":2,"lat":52.52,"lng":13.40,"ts":"2025-01-15T09:30:00Z"}`)
    if rr.Code != 200 { t.Fatalf("position: %d %s", rr.Code, rr.Body.String()) }
    rr = do(h, http.MethodPost, "/v1/routes/"+id+"/position", `{"vehicleId":2,"lat":52.53,"lng":13.41}`)
    if rr.Code != 200 { t.Fatalf("position: %d", rr.Code) }

    rr = do(h, http.MethodGet, "/v1/routes/"+id+"/positions", "")
    if rr.Code != 200 { t.Fatalf("positions: %d", rr.Code) }
    var body struct{ Items []model.VehiclePosition `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &body)
    if len(body.Items) != 1 || body.Items[0].Lat != 52.53 { t.Fatalf("want latest position only: %+v", body.Items) }
    if got := b.types(); len(got) != 2 || got[1] != EventVehiclePosition { t.Fatalf("published %v", got) }

    if rr := do(h, http.MethodPost, "/v1/routes/"+id+"/position", `{"vehicleId":2,"lat":95,"lng":0}`); rr.Code != 400 {
        t.Fatalf("out of range lat: %d", rr.Code)
    }
    if rr := do(h, http.MethodGet, "/v1/routes/nope/positions", ""); rr.Code != 404 { t.Fatalf("unknown route: %d", rr.Code) }
    if rr := do(h, http.MethodGet, "/v1/routes/"+id+"/position", ""); rr.Code != 405 { t.Fatalf("wrong method: %d", rr.Code) }
    if rr := do(h, http.MethodGet, "/v1/routes/"+id+"/assign", ""); rr.Code != 404 { t.Fatalf("unknown action: %d", rr.Code) }
}

func TestGetRoute(t *testing.T) {
    s, _ := newTestServer(t, nil)
    h := s.Handler()
    id := seedRoute(t, s)
    rr := do(h, http.MethodGet, "/v1/routes/"+id, "")
    if rr.Code != 200 { t.Fatalf("get: %d", rr.Code) }
    var rt model.StoredRoute
    _ = json.Unmarshal(rr.Body.Bytes(), &rt)
    if rt.ID != id || len(rt.Stops) != 4 { t.Fatalf("bad route: %+v", rt) }
    if rr := do(h, http.MethodGet, "/v1/routes/missing", ""); rr.Code != 404 { t.Fatalf("missing: %d", rr.Code) }
}

// readSSE reads one event block.
func readSSE(r *bufio.Reader) (event, data string, err error) {
    for {
        line, err := r.ReadString('\n')
        if err != nil { return "", "", err }
        line = strings.TrimRight(line, "\n")
        switch {
        case line == "":
            if event != "" { return event, data, nil }
        case strings.HasPrefix(line, "event: "):
            event = strings.TrimPrefix(line, "event: ")
        case strings.HasPrefix(line, "data: "):
            data = strings.TrimPrefix(line, "data: ")
        }
    }
}

func TestRouteEventStream(t *testing.T) {
    s, _ := newTestServer(t, nil)
    id := seedRoute(t, s)
    ts := httptest.NewServer(s.Handler())
    defer ts.Close()

    ctx, cancel := context.WithTimeout(testContext(t), 5*time.Second)
    defer cancel()
    req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/routes/"+id+"/events/stream", nil)
    resp, err := http.DefaultClient.Do(req)
    if err != nil { t.Fatalf("stream: %v", err) }
    defer func() { _ = resp.Body.Close() }()
    if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" { t.Fatalf("content type %q", ct) }

    br := bufio.NewReader(resp.Body)
    ev, data, err := readSSE(br)
    if err != nil || ev != "heartbeat" || !strings.Contains(data, id) { t.Fatalf("first event %q %q %v", ev, data, err) }

    post, err := http.Post(ts.URL+"/v1/routes/"+id+"/stops/status", "application/json",
        bytes.NewReader([]byte(`{"vehicleId":2,"stopId":"a","status":"in_progress"}`)))
    if err != nil { t.Fatalf("post: %v", err) }
    _ = post.Body.Close()
    if post.StatusCode != 200 { t.Fatalf("post status %d", post.StatusCode) }

    ev, data, err = readSSE(br)
    if err != nil { t.Fatalf("read: %v", err) }
    if ev != EventStopStatus { t.Fatalf("event %q", ev) }
    var payload map[string]any
    if err := json.Unmarshal([]byte(data), &payload); err != nil { t.Fatalf("payload %q: %v", data, err) }
    if payload["status"] != "in_progress" || payload["stopId"] != "a" { t.Fatalf("payload %+v", payload) }

    rr := do(s.Handler(), http.MethodGet, "/v1/routes/unknown/events/stream", "")
    if rr.Code != 404 { t.Fatalf("unknown route stream: %d", rr.Code) }
}

func TestRouteWebSocket(t *testing.T) {
    s, _ := newTestServer(t, nil)
    id := seedRoute(t, s)
    ts := httptest.NewServer(s.Handler())
    defer ts.Close()

    u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/routes/" + id + "/ws"
    c, _, err := websocket.DefaultDialer.Dial(u, nil)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer func() { _ = c.Close() }()
    _ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

    type msg struct {
        Type  string          `json:"type"`
        Event string          `json:"event"`
        Data  json.RawMessage `json:"data"`
    }
    var m msg
    if err := c.ReadJSON(&m); err != nil { t.Fatalf("read snapshot: %v", err) }
    if m.Type != "snapshot" { t.Fatalf("first message %q", m.Type) }
    var rt model.StoredRoute
    if err := json.Unmarshal(m.Data, &rt); err != nil || rt.ID != id { t.Fatalf("snapshot %s: %v", m.Data, err) }

    if err := c.WriteJSON(map[string]string{"type": "ping"}); err != nil { t.Fatalf("ping: %v", err) }
    if err := c.ReadJSON(&m); err != nil || m.Type != "pong" { t.Fatalf("want pong, got %+v %v", m, err) }

    post, err := http.Post(ts.URL+"/v1/routes/"+id+"/position", "application/json",
        strings.NewReader(`{"vehicleId":2,"lat":1.5,"lng":2.5}`))
    if err != nil { t.Fatalf("post: %v", err) }
    _ = post.Body.Close()

    if err := c.ReadJSON(&m); err != nil { t.Fatalf("read event: %v", err) }
    if m.Type != "event" || m.Event != EventVehiclePosition { t.Fatalf("got %+v", m) }

    _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/routes/missing/ws", nil)
    if err == nil || resp == nil || resp.StatusCode != 404 { t.Fatalf("unknown route should 404 before upgrade: %v", err) }
}

func TestSolverMetrics(t *testing.T) {
    s, _ := newTestServer(t, nil)
    h := s.Handler()
    opt.RecordMetrics("api-test:cluster-1", opt.Metrics{Iterations: 7})
    opt.RecordMetrics("api-test:cluster-2", opt.Metrics{Iterations: 9})

    rr := do(h, http.MethodGet, "/v1/admin/solver-metrics?key=api-test&limit=1", "")
    if rr.Code != 200 { t.Fatalf("metrics: %d", rr.Code) }
    var body struct{ Items []opt.RecordedMetrics `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &body)
    if len(body.Items) != 1 || body.Items[0].Key != "api-test:cluster-2" || body.Items[0].Metrics.Iterations != 9 {
        t.Fatalf("want newest entry, got %+v", body.Items)
    }
    if rr := do(h, http.MethodGet, "/v1/admin/solver-metrics?limit=x", ""); rr.Code != 400 { t.Fatalf("bad limit: %d", rr.Code) }
}

func TestRequestIDAndMetrics(t *testing.T) {
    s, _ := newTestServer(t, nil)
    h := s.Handler()

    req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
    req.Header.Set("X-Request-Id", "req-123")
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    if got := rr.Header().Get("X-Request-Id"); got != "req-123" { t.Fatalf("request id not echoed: %q", got) }
    rr = do(h, http.MethodGet, "/healthz", "")
    if rr.Header().Get("X-Request-Id") == "" { t.Fatal("request id not generated") }

    rr = do(h, http.MethodGet, "/metrics", "")
    if rr.Code != 200 { t.Fatalf("metrics: %d", rr.Code) }
    if !strings.Contains(rr.Body.String(), `http_requests_total{method="GET",path="/healthz",status="200"}`) {
        t.Fatalf("missing request counter in:\n%s", rr.Body.String())
    }
}

func TestPathLabel(t *testing.T) {
    cases := map[string]string{
        "/v1/routes":                   "/v1/routes",
        "/v1/routes/":                  "/v1/routes/",
        "/v1/routes/abc":               "/v1/routes/{id}",
        "/v1/routes/abc/stops/status":  "/v1/routes/{id}/stops/status",
        "/v1/routes/abc/events/stream": "/v1/routes/{id}/events/stream",
        "/v1/optimize":                 "/v1/optimize",
    }
    for in, want := range cases {
        if got := pathLabel(in); got != want { t.Errorf("pathLabel(%q) = %q, want %q", in, got, want) }
    }
}

func TestNewServerDefaults(t *testing.T) {
    s, err := NewServer(config.Default())
    if err != nil { t.Fatalf("NewServer: %v", err) }
    defer func() { _ = s.Close() }()
    if _, ok := s.Store.(*store.Memory); !ok { t.Fatalf("want memory store, got %T", s.Store) }
    if _, ok := s.Broker.(*Broker); !ok { t.Fatalf("want in-process broker, got %T", s.Broker) }
    if _, ok := s.Optimizer.(*routing.Orchestrator); !ok { t.Fatalf("want orchestrator, got %T", s.Optimizer) }
}

func TestDebugHandler(t *testing.T) {
    s, _ := newTestServer(t, nil)
    s.Config.Geo.ORSAPIKey = "secret-key"
    rr := do(s.Handler(), http.MethodGet, "/v1/admin/debug", "")
    if rr.Code != 200 { t.Fatalf("debug: %d", rr.Code) }
    if strings.Contains(rr.Body.String(), "secret-key") { t.Fatal("debug output leaks the API key") }
    if !strings.Contains(rr.Body.String(), fmt.Sprintf("%q:true", "HAS_ORS_API_KEY")) { t.Fatalf("body: %s", rr.Body.String()) }
}
