package telemetry

import (
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Meter returns the named meter from the global provider
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Int64Counter creates a counter, falling back to a no-op instrument when
// the provider rejects it.
func Int64Counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		log.Warn().Err(err).Str("instrument", name).Msg("failed to create counter")
		return noop.Int64Counter{}
	}
	return c
}

// Float64Histogram creates a histogram in seconds, falling back to a no-op
// instrument when the provider rejects it.
func Float64Histogram(meter metric.Meter, name, description string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, metric.WithDescription(description), metric.WithUnit("s"))
	if err != nil {
		log.Warn().Err(err).Str("instrument", name).Msg("failed to create histogram")
		return noop.Float64Histogram{}
	}
	return h
}
