package api

import (
    "context"
    "log"
    "net/http"
    "strings"
    "time"

    "viasync/internal/cache"
    "viasync/internal/config"
    "viasync/internal/model"
    "viasync/internal/routing"
    "viasync/internal/store"
)

// Optimizer plans routes for a request. *routing.Orchestrator implements it.
type Optimizer interface {
    Optimize(ctx context.Context, req model.OptimizeRequest) (model.OptimizeResult, error)
}

type Server struct {
    Store     store.Store
    Broker    EventBroker
    Optimizer Optimizer
    Config    config.Config

    closers []func() error
}

// NewServer wires the cache, store, broker and optimizer selected by cfg.
// Without DATABASE_URL routes are kept in memory; without REDIS_URL events
// stay in process.
func NewServer(cfg config.Config) (*Server, error) {
    s := &Server{Config: cfg}

    c, closeCache, err := cache.Open(cfg)
    if err != nil {
        return nil, err
    }
    s.closers = append(s.closers, closeCache)

    if strings.TrimSpace(cfg.DatabaseURL) == "" {
        s.Store = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            _ = s.Close()
            return nil, err
        }
        s.closers = append(s.closers, sp.Close)
        if cfg.DBMigrate {
            ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
            err := sp.Migrate(ctx)
            cancel()
            if err != nil {
                _ = s.Close()
                return nil, err
            }
        }
        s.Store = sp
    }

    // Broker selection
    if cfg.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.RedisURL); err == nil {
            s.Broker = rb
            s.closers = append(s.closers, rb.Close)
        } else {
            log.Printf("[BROKER] redis unavailable, using in-process broker: %v", err)
            s.Broker = NewBroker()
        }
    } else {
        s.Broker = NewBroker()
    }

    o, err := routing.NewFromConfig(cfg, c)
    if err != nil {
        _ = s.Close()
        return nil, err
    }
    s.Optimizer = o
    return s, nil
}

// Close releases the connections opened by NewServer, last opened first.
func (s *Server) Close() error {
    var first error
    for i := len(s.closers) - 1; i >= 0; i-- {
        if err := s.closers[i](); err != nil && first == nil {
            first = err
        }
    }
    s.closers = nil
    return first
}

// Handler returns the routed API wrapped in the request-id, logging and
// metrics middleware.
func (s *Server) Handler() http.Handler {
    mux := http.NewServeMux()

    // Optimization
    mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
    mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)

    // Routes and tracking
    mux.HandleFunc("/v1/routes", s.RoutesIndexHandler)
    mux.HandleFunc("/v1/routes/", s.RouteByIDHandler) // includes /stops/status, /position(s), /events/stream, /ws

    // Admin
    mux.HandleFunc("/v1/admin/solver-metrics", s.SolverMetricsHandler)
    mux.HandleFunc("/v1/admin/debug", s.DebugHandler)

    // Health
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", metricsHandler())

    return requestIDMiddleware(logMiddleware(mux))
}
