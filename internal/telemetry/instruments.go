package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/breatheroute/weathercore"

// Outcome labels recorded on acquisitions.
const (
	OutcomeHit     = "hit"
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"

	// OutcomeCanceled is an acquisition abandoned by its caller.
	OutcomeCanceled = "canceled"
)

// Instruments holds the metric instruments for weather acquisitions.
// A nil *Instruments records nothing.
type Instruments struct {
	acquisitionDuration metric.Float64Histogram
	acquisitionTotal    metric.Int64Counter
	cacheLookups        metric.Int64Counter
	providerDuration    metric.Float64Histogram
	providerTotal       metric.Int64Counter
}

// NewInstruments creates the acquisition instruments on meter.
// A nil meter uses the global meter provider.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	acquisitionDuration, err := meter.Float64Histogram(
		"weather.acquisition.duration",
		metric.WithDescription("Duration of weather acquisitions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	acquisitionTotal, err := meter.Int64Counter(
		"weather.acquisition.total",
		metric.WithDescription("Total number of weather acquisitions by outcome"),
		metric.WithUnit("{acquisition}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"weather.cache.lookup",
		metric.WithDescription("Number of freshness cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	providerDuration, err := meter.Float64Histogram(
		"provider.request.duration",
		metric.WithDescription("Duration of provider requests in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	providerTotal, err := meter.Int64Counter(
		"provider.request.total",
		metric.WithDescription("Total number of provider requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &Instruments{
		acquisitionDuration: acquisitionDuration,
		acquisitionTotal:    acquisitionTotal,
		cacheLookups:        cacheLookups,
		providerDuration:    providerDuration,
		providerTotal:       providerTotal,
	}, nil
}

// RecordAcquisition records one finished acquisition. kind is the failure kind
// and is ignored unless outcome is OutcomeFailed.
func (m *Instruments) RecordAcquisition(operation, outcome, kind string, duration time.Duration) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("acquisition.operation", operation),
		attribute.String("acquisition.outcome", outcome),
	}
	if outcome == OutcomeFailed {
		attrs = append(attrs, attribute.String("error.kind", kind))
	}

	// Background context so cancelled callers are still counted.
	ctx := context.Background()
	m.acquisitionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.acquisitionTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCacheLookup records a freshness cache hit or miss.
func (m *Instruments) RecordCacheLookup(operation string, hit bool) {
	if m == nil {
		return
	}
	m.cacheLookups.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("acquisition.operation", operation),
		attribute.Bool("cache.hit", hit),
	))
}

// RecordProviderRequest records one provider call.
func (m *Instruments) RecordProviderRequest(provider, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}

	ctx := context.Background()
	m.providerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.providerTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}
