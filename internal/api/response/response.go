// Package response writes weather payloads and problem documents.
package response

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/breatheroute/weathercore/internal/api/middleware"
	"github.com/breatheroute/weathercore/internal/api/models"
)

// JSON writes data as JSON with status. The body is encoded before anything is
// written, so an encoding failure becomes a 500 problem instead of a truncated
// 2xx. A nil data writes no body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	var body []byte
	if data != nil {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			InternalError(w, r, "response could not be encoded")
			return
		}
		body = append(body, '\n')
	}

	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set(middleware.RequestIDHeader, requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Observation writes a 200 weather payload. Last-Modified carries when the
// provider observed the data, which may be older than the response when it was
// served from cache.
func Observation(w http.ResponseWriter, r *http.Request, data any, observedAt time.Time) {
	if !observedAt.IsZero() {
		w.Header().Set("Last-Modified", observedAt.UTC().Format(http.TimeFormat))
	}
	JSON(w, r, http.StatusOK, data)
}

// Error writes problem with the request path as its instance.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// Failure writes the problem for an acquisition failure and annotates the
// request with its kind.
func Failure(w http.ResponseWriter, r *http.Request, err error) {
	problem := models.NewFromError(middleware.GetRequestID(r.Context()), err)
	if problem.Kind != "" {
		middleware.SetFailureKind(r.Context(), problem.Kind)
	}
	Error(w, r, problem)
}

// BadRequest writes a 400 with per-field errors.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(middleware.GetRequestID(r.Context()), detail, errors))
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(middleware.GetRequestID(r.Context()), detail))
}

// InternalError writes a 500.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(middleware.GetRequestID(r.Context()), detail))
}
