package api

import (
    "net/http"
    "time"

    "viasync/internal/buildinfo"
)

// DebugHandler handles GET /v1/admin/debug: build info and the non-secret
// parts of the running configuration.
func (s *Server) DebugHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    c := s.Config
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "PORT":             c.Port,
            "CACHE_BACKEND":    c.Cache.Backend,
            "GEOCODER":         c.Geo.Geocoder,
            "MATRIX_PROVIDER":  c.Geo.MatrixProvider,
            "SOLVER":           c.Solver.Kind,
            "HAS_ORS_API_KEY":  c.Geo.ORSAPIKey != "",
            "HAS_DATABASE_URL": c.DatabaseURL != "",
            "HAS_REDIS_URL":    c.RedisURL != "",
        },
    }
    writeJSON(w, http.StatusOK, info)
}
