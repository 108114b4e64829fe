package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/breatheroute/weathercore/internal/api/models"
)

// RateLimitConfig bounds how often one client may ask for weather.
type RateLimitConfig struct {
	// RequestLimit is the number of requests allowed per window and endpoint.
	RequestLimit int
	// WindowLength is the sliding window.
	WindowLength time.Duration
}

// DefaultRateLimit allows 60 requests a minute. Every request that misses the
// freshness cache costs one provider call against the API key's quota.
var DefaultRateLimit = RateLimitConfig{
	RequestLimit: 60,
	WindowLength: time.Minute,
}

// RateLimitWeather limits each client IP separately on each weather endpoint,
// so polling current conditions does not starve forecast requests. The client
// IP is taken from X-Forwarded-For or X-Real-IP when present.
func RateLimitWeather(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.RequestLimit <= 0 || cfg.WindowLength <= 0 {
		cfg = DefaultRateLimit
	}

	// httprate does not expose the reset time; a full window is the upper bound.
	retryAfter := strconv.Itoa(int(math.Ceil(cfg.WindowLength.Seconds())))
	detail := "Weather request limit reached for this client. Retry after " + retryAfter + " seconds."

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowLength,
		httprate.WithKeyFuncs(httprate.KeyByRealIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			problem := models.NewTooManyRequests(GetRequestID(r.Context()), detail)
			problem.Instance = r.URL.Path

			w.Header().Set("Retry-After", retryAfter)
			problem.Write(w)
		}),
	)
}
