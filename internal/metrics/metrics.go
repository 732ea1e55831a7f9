package metrics

import (
    "sync"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Optimizations counts optimize calls by mode (direct, clustered, paginated) and outcome
    Optimizations = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "optimizations_total", Help: "Optimization requests by mode and outcome."},
        []string{"mode", "outcome"},
    )
    // StageDuration tracks pipeline stage latencies (geocode, matrix, solve, ...)
    StageDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "stage_duration_seconds", Help: "Pipeline stage duration in seconds.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10, 30}},
        []string{"stage", "status"},
    )
    // SolverRuns counts solver invocations by solver name and outcome (ok, infeasible, failure)
    SolverRuns = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "solver_runs_total", Help: "Solver invocations by solver and outcome."},
        []string{"solver", "outcome"},
    )
    // ClusterResults counts per-cluster outcomes in clustered mode
    ClusterResults = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "cluster_results_total", Help: "Clustered batch outcomes."},
        []string{"status"},
    )
    // CacheLookups counts cache hits and misses by cache name
    CacheLookups = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "cache_lookups_total", Help: "Cache lookups by cache and result."},
        []string{"cache", "result"},
    )
    // EnrichmentFailures counts swallowed traffic ETA lookups
    EnrichmentFailures = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "eta_enrichment_failures_total", Help: "Traffic ETA enrichment failures."},
    )
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(Optimizations)
        Registry.MustRegister(StageDuration)
        Registry.MustRegister(SolverRuns)
        Registry.MustRegister(ClusterResults)
        Registry.MustRegister(CacheLookups)
        Registry.MustRegister(EnrichmentFailures)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
