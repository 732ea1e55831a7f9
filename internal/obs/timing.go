package obs

import (
	"context"
	"log"
	"time"

	"viasync/internal/metrics"
)

type ctxKey string

const RequestIDKey ctxKey = "req_id"

// WithRequestID stores id for later Time calls.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestID returns the request id stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// Time logs and records the duration of a named stage. Use as
//
//	defer obs.Time(ctx, "geo.matrix")(&err)
func Time(ctx context.Context, name string) func(errp *error) {
	start := time.Now()

	reqID := RequestID(ctx)

	return func(errp *error) {
		dur := time.Since(start)

		if errp != nil && *errp != nil {
			metrics.StageDuration.WithLabelValues(name, "error").Observe(dur.Seconds())
			log.Printf("req_id=%s op=%s dur=%dms err=%v", reqID, name, dur.Milliseconds(), *errp)
			return
		}
		metrics.StageDuration.WithLabelValues(name, "ok").Observe(dur.Seconds())
		log.Printf("req_id=%s op=%s dur=%dms", reqID, name, dur.Milliseconds())
	}
}
