package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/weathercore/internal/api/models"
)

// Logger logs one line per request. 5xx responses log at error level and 4xx
// at warn, except rate-limited and client-canceled requests which log at info. Weather requests
// also carry the location source and any failure kind.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			r, notes := withAnnotations(r)
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			event := levelFor(log, rec.statusCode)
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				event = event.
					Str("trace_id", sc.TraceID().String()).
					Str("span_id", sc.SpanID().String())
			}

			source, kind := notes.get()
			if source != "" {
				event = event.Str("location_source", source)
			}
			if kind != "" {
				event = event.Str("failure_kind", kind)
			}

			event.
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Int("status", rec.statusCode).
				Int64("bytes", rec.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request completed")
		})
	}
}

func levelFor(log zerolog.Logger, status int) *zerolog.Event {
	switch {
	case status >= 500:
		return log.Error()
	case status == http.StatusTooManyRequests, status == models.StatusClientClosedRequest:
		return log.Info()
	case status >= 400:
		return log.Warn()
	default:
		return log.Info()
	}
}
