package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/breatheroute/weathercore/internal/fault"
)

// Problem is an RFC7807 error body, served as application/problem+json.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference that identifies the specific occurrence.
	Instance string `json:"instance,omitempty"`

	// TraceID is the request trace identifier for debugging.
	TraceID string `json:"traceId"`

	// Kind is the acquisition failure kind, set for weather failures.
	Kind string `json:"kind,omitempty"`

	// UpstreamStatus is the provider's HTTP status for API errors.
	UpstreamStatus int `json:"upstreamStatus,omitempty"`

	// Retryable tells the client whether repeating the request may succeed.
	Retryable bool `json:"retryable"`

	// Errors contains structured field validation errors.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StatusClientClosedRequest is the non-standard status logged when the client
// went away before a response was ready.
const StatusClientClosedRequest = 499

// Problem types served by the API.
const (
	ProblemTypeValidation          = "https://weathercore.dev/problems/validation-error"
	ProblemTypeNotFound            = "https://weathercore.dev/problems/not-found"
	ProblemTypeTooManyRequests     = "https://weathercore.dev/problems/too-many-requests"
	ProblemTypeInternal            = "https://weathercore.dev/problems/internal-error"
	ProblemTypeTimeout             = "https://weathercore.dev/problems/timeout"
	ProblemTypeCanceled            = "https://weathercore.dev/problems/canceled"
	ProblemTypeLocationUnavailable = "https://weathercore.dev/problems/location-unavailable"
	ProblemTypeLocationTimeout     = "https://weathercore.dev/problems/location-timeout"
	ProblemTypeProviderUnreachable = "https://weathercore.dev/problems/provider-unreachable"
	ProblemTypeMalformedResponse   = "https://weathercore.dev/problems/malformed-response"
	ProblemTypeUpstreamError       = "https://weathercore.dev/problems/upstream-error"
)

// NewProblem creates a Problem with no detail.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// Write serves the problem. The request ID is echoed in X-Request-Id.
func (p *Problem) Write(w http.ResponseWriter) {
	body, err := json.Marshal(p)
	if err != nil {
		body = []byte(`{"type":"` + ProblemTypeInternal + `","title":"Internal server error","status":500}`)
		p.Status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_, _ = w.Write(append(body, '\n'))
}

// NewBadRequest creates a 400 problem listing the rejected query fields.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID)
	p.Detail = detail
	p.Errors = errors
	return p
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID)
	p.Detail = detail
	return p
}

// NewTooManyRequests creates a 429 problem for a client over its rate limit.
func NewTooManyRequests(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID)
	p.Detail = detail
	p.Retryable = true
	return p
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	p := NewProblem(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID)
	p.Detail = detail
	return p
}

type failureProblem struct {
	typ    string
	title  string
	status int
	detail string
}

// failureProblems maps each acquisition failure kind to its response.
var failureProblems = map[fault.Kind]failureProblem{
	fault.KindLocationUnavailable: {
		ProblemTypeLocationUnavailable, "Location unavailable", http.StatusUnprocessableEntity,
		"the current position could not be determined",
	},
	fault.KindLocationTimeout: {
		ProblemTypeLocationTimeout, "Location timeout", http.StatusGatewayTimeout,
		"no position fix arrived in time",
	},
	fault.KindNetworkFailure: {
		ProblemTypeProviderUnreachable, "Weather provider unreachable", http.StatusServiceUnavailable,
		"the weather provider could not be reached",
	},
	fault.KindMalformedResponse: {
		ProblemTypeMalformedResponse, "Malformed upstream response", http.StatusBadGateway,
		"the weather provider returned an unreadable response",
	},
	fault.KindAPIError: {
		ProblemTypeUpstreamError, "Upstream error", http.StatusBadGateway,
		"the weather provider answered with status %d",
	},
}

// NewFromError maps an acquisition failure to a problem:
//
//	LocationUnavailable  422
//	LocationTimeout      504
//	NetworkFailure       503
//	MalformedResponse    502
//	APIError             502, upstream status in UpstreamStatus
//
// A deadline that expired outside the locator maps to 504, a caller
// cancellation to StatusClientClosedRequest, and anything else to 500 without
// exposing the error text.
func NewFromError(traceID string, err error) *Problem {
	kind := fault.KindOf(err)

	fp, ok := failureProblems[kind]
	if !ok {
		if errors.Is(err, context.Canceled) {
			p := NewProblem(ProblemTypeCanceled, "Client closed request", StatusClientClosedRequest, traceID)
			p.Detail = "the request was canceled before weather was acquired"
			return p
		}
		if errors.Is(err, context.DeadlineExceeded) {
			p := NewProblem(ProblemTypeTimeout, "Request timeout", http.StatusGatewayTimeout, traceID)
			p.Detail = "the request budget was exhausted"
			p.Retryable = true
			return p
		}
		return NewInternalError(traceID, "an unexpected error occurred")
	}

	p := NewProblem(fp.typ, fp.title, fp.status, traceID)
	p.Kind = kind.String()
	p.Retryable = fault.Retryable(err)
	p.Detail = fp.detail
	if code, isAPI := fault.StatusCode(err); isAPI {
		p.UpstreamStatus = code
		p.Detail = fmt.Sprintf(fp.detail, code)
	}
	return p
}
