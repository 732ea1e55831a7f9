package opt

import (
    "context"
    "sync"
    "time"
)

type batchKeyCtx struct{}

// WithBatchKey tags ctx so Engine metrics from this solve are recorded
// under key.
func WithBatchKey(ctx context.Context, key string) context.Context {
    return context.WithValue(ctx, batchKeyCtx{}, key)
}

// BatchKey returns the key stored by WithBatchKey, or "".
func BatchKey(ctx context.Context) string {
    k, _ := ctx.Value(batchKeyCtx{}).(string)
    return k
}

// RecordedMetrics is one solve's search statistics.
type RecordedMetrics struct {
    Key        string    `json:"key"`
    RecordedAt time.Time `json:"recordedAt"`
    Metrics    Metrics   `json:"metrics"`
}

const maxRecorded = 100

var (
    mu       sync.Mutex
    recorded []RecordedMetrics
)

func RecordMetrics(key string, m Metrics) {
    mu.Lock()
    recorded = append(recorded, RecordedMetrics{Key: key, RecordedAt: time.Now().UTC(), Metrics: m})
    if len(recorded) > maxRecorded {
        recorded = append([]RecordedMetrics(nil), recorded[len(recorded)-maxRecorded:]...)
    }
    mu.Unlock()
}

// RecentMetrics returns up to limit entries, newest first. limit <= 0 means all.
func RecentMetrics(limit int) []RecordedMetrics {
    mu.Lock()
    defer mu.Unlock()
    out := []RecordedMetrics{}
    for i := len(recorded) - 1; i >= 0; i-- {
        if limit > 0 && len(out) >= limit {
            break
        }
        out = append(out, recorded[i])
    }
    return out
}
