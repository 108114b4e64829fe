package middleware

import (
	"context"
	"net/http"
	"sync"
)

// Location sources reported by weather handlers.
const (
	LocationSourceDevice  = "device"
	LocationSourceLocator = "locator"
)

type annotationsKey struct{}

// annotations carry what a handler learned about a weather request back out
// to the logging, tracing and metrics layers.
type annotations struct {
	mu             sync.Mutex
	locationSource string
	failureKind    string
}

// withAnnotations returns r carrying annotations, reusing any already attached.
func withAnnotations(r *http.Request) (*http.Request, *annotations) {
	if a, ok := r.Context().Value(annotationsKey{}).(*annotations); ok {
		return r, a
	}
	a := &annotations{}
	return r.WithContext(context.WithValue(r.Context(), annotationsKey{}, a)), a
}

// annotationsOf returns the annotations recorded so far on r, if any.
func annotationsOf(r *http.Request) (locationSource, failureKind string) {
	if a, ok := r.Context().Value(annotationsKey{}).(*annotations); ok {
		return a.get()
	}
	return "", ""
}

func (a *annotations) get() (locationSource, failureKind string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locationSource, a.failureKind
}

// SetLocationSource records whether the position came from the request or the
// configured locator. No-op outside the middleware stack.
func SetLocationSource(ctx context.Context, source string) {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		a.locationSource = source
		a.mu.Unlock()
	}
}

// SetFailureKind records the acquisition failure kind of the response.
func SetFailureKind(ctx context.Context, kind string) {
	if a, ok := ctx.Value(annotationsKey{}).(*annotations); ok {
		a.mu.Lock()
		a.failureKind = kind
		a.mu.Unlock()
	}
}
