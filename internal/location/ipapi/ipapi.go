// Package ipapi is a location platform that estimates the device position from
// its public IP address using the ip-api.com JSON endpoint.
package ipapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/breatheroute/weathercore/internal/location"
	"github.com/breatheroute/weathercore/internal/provider/resilience"
	"github.com/breatheroute/weathercore/pkg/geo"
)

const (
	// ProviderName identifies this platform in the provider registry.
	ProviderName = "ip-api"

	// DefaultURL is the lookup endpoint for the caller's own address.
	DefaultURL = "http://ip-api.com/json/?fields=status,message,lat,lon"

	// approxAccuracy is reported on every fix; IP geolocation is city level at best.
	approxAccuracy = 25000
)

var validate = validator.New()

// Config holds configuration for the IP geolocation platform.
type Config struct {
	// URL is the lookup endpoint (optional, defaults to DefaultURL).
	URL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *resilience.Client

	// Logger for lookups.
	Logger zerolog.Logger
}

// Platform implements location.Platform over an IP geolocation service.
type Platform struct {
	url        string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// New creates an IP geolocation platform.
func New(cfg Config) *Platform {
	url := cfg.URL
	if url == "" {
		url = DefaultURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}

	return &Platform{
		url:        url,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// RequestFix starts one lookup in the background and reports it through deliver.
// The returned cancel aborts the lookup.
func (p *Platform) RequestFix(ctx context.Context, deliver func(location.Fix, error)) (location.CancelFunc, error) {
	req, err := http.NewRequest(http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		coord, err := p.lookup(req.WithContext(ctx))
		if err != nil {
			deliver(location.Fix{}, err)
			return
		}
		deliver(location.Fix{Coordinate: coord, Accuracy: approxAccuracy, At: time.Now()}, nil)
	}()

	return location.CancelFunc(cancel), nil
}

type lookupResponse struct {
	Status  string   `json:"status" validate:"required,oneof=success fail"`
	Message string   `json:"message"`
	Lat     *float64 `json:"lat"`
	Lon     *float64 `json:"lon"`
}

func (p *Platform) lookup(req *http.Request) (geo.Coordinate, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("ip lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return geo.Coordinate{}, fmt.Errorf("ip lookup: unexpected status code: %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return geo.Coordinate{}, fmt.Errorf("ip lookup: decoding response: %w", err)
	}
	if err := validate.Struct(body); err != nil {
		return geo.Coordinate{}, fmt.Errorf("ip lookup: invalid response: %w", err)
	}

	if body.Status != "success" {
		p.logger.Debug().Str("message", body.Message).Msg("ip lookup refused")
		return geo.Coordinate{}, fmt.Errorf("%w: %s", location.ErrNoCapability, body.Message)
	}

	if body.Lat == nil || body.Lon == nil {
		return geo.Coordinate{}, fmt.Errorf("ip lookup: response without coordinates")
	}
	return geo.Coordinate{Lat: *body.Lat, Lon: *body.Lon}, nil
}
