package main

import (
    "context"
    "errors"
    "log"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "viasync/internal/api"
    "viasync/internal/config"
    "viasync/internal/metrics"
)

func main() {
    cfg, err := config.Load()
    if err != nil {
        log.Fatalf("failed to load config: %v", err)
    }
    metrics.RegisterDefault()

    srvDeps, err := api.NewServer(cfg)
    if err != nil {
        log.Fatalf("failed to init server: %v", err)
    }
    defer func() { _ = srvDeps.Close() }()

    // No WriteTimeout: SSE and WebSocket streams stay open.
    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvDeps.Handler(),
        ReadHeaderTimeout: 5 * time.Second,
        IdleTimeout:       2 * time.Minute,
    }

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    go func() {
        log.Printf("API listening on %s (solver=%s geocoder=%s matrix=%s cache=%s)",
            srv.Addr, cfg.Solver.Kind, cfg.Geo.Geocoder, cfg.Geo.MatrixProvider, cfg.Cache.Backend)
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatalf("server error: %v", err)
        }
    }()

    <-ctx.Done()
    log.Printf("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Solver.Timeout+5*time.Second)
    defer cancel()
    if err := srv.Shutdown(shutdownCtx); err != nil {
        log.Printf("shutdown: %v", err)
    }
}
