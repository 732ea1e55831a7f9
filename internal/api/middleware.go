package api

import (
    "bufio"
    "errors"
    "log"
    "net"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "viasync/internal/metrics"
    "viasync/internal/obs"
)

// statusWriter records the response status. It passes Flush and Hijack
// through so SSE and WebSocket handlers work behind the middleware.
type statusWriter struct {
    http.ResponseWriter
    status int
}

func (w *statusWriter) WriteHeader(code int) {
    if w.status == 0 { w.status = code }
    w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
    if w.status == 0 { w.status = http.StatusOK }
    return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Flush() {
    if f, ok := w.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
    h, ok := w.ResponseWriter.(http.Hijacker)
    if !ok { return nil, nil, errors.New("hijack not supported") }
    if w.status == 0 { w.status = http.StatusSwitchingProtocols }
    return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// requestIDMiddleware propagates X-Request-Id, generating one when absent.
func requestIDMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
        if id == "" { id = uuid.NewString() }
        w.Header().Set("X-Request-Id", id)
        next.ServeHTTP(w, r.WithContext(obs.WithRequestID(r.Context(), id)))
    })
}

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        sw := &statusWriter{ResponseWriter: w}
        next.ServeHTTP(sw, r)
        if sw.status == 0 { sw.status = http.StatusOK }
        dur := time.Since(start)
        status := strconv.Itoa(sw.status)
        path := pathLabel(r.URL.Path)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(dur.Seconds())
        log.Printf("req_id=%s method=%s path=%s status=%d dur=%dms", obs.RequestID(r.Context()), r.Method, r.URL.Path, sw.status, dur.Milliseconds())
    })
}

// pathLabel replaces the route id so metric labels stay bounded.
func pathLabel(path string) string {
    rest, ok := strings.CutPrefix(path, "/v1/routes/")
    if !ok || rest == "" { return path }
    if _, tail, found := strings.Cut(rest, "/"); found {
        return "/v1/routes/{id}/" + tail
    }
    return "/v1/routes/{id}"
}

func metricsHandler() http.Handler {
    metrics.RegisterDefault()
    return promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})
}
