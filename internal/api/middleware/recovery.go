package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/api/models"
)

// FailureKindPanic marks a response produced by Recovery.
const FailureKindPanic = "panic"

// Recovery turns a handler panic into a 500 problem, unless the handler had
// already started its response. http.ErrAbortHandler is re-raised so the
// server aborts the connection.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := newStatusRecorder(w)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				SetFailureKind(r.Context(), FailureKindPanic)
				requestID := GetRequestID(r.Context())
				source, _ := annotationsOf(r)

				event := log.Error().
					Str("request_id", requestID).
					Str("route", routePattern(r)).
					Interface("panic", rec).
					Bool("response_started", rw.wroteHeader).
					Bytes("stack", debug.Stack())
				if source != "" {
					event = event.Str("location_source", source)
				}
				event.Msg("weather handler panicked")

				if rw.wroteHeader {
					return
				}
				problem := models.NewInternalError(requestID, "an unexpected error occurred")
				problem.Instance = r.URL.Path
				problem.Write(rw)
			}()

			next.ServeHTTP(rw, r)
		})
	}
}
