package featureflags

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/flagplane/flagplane/internal/featureflags"

// Metrics holds instruments for flag evaluation and storage calls.
type Metrics struct {
	evaluations   metric.Int64Counter
	mutations     metric.Int64Counter
	storeDuration metric.Float64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
}

// NewMetrics creates flag metrics on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	evaluations, err := meter.Int64Counter(
		"featureflags.evaluations",
		metric.WithDescription("Number of feature flag evaluations"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, err
	}

	mutations, err := meter.Int64Counter(
		"featureflags.mutations",
		metric.WithDescription("Number of feature flag creates, updates and deletes"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, err
	}

	storeDuration, err := meter.Float64Histogram(
		"featureflags.store.duration",
		metric.WithDescription("Duration of flag store calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"featureflags.cache.hit",
		metric.WithDescription("Number of evaluation cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"featureflags.cache.miss",
		metric.WithDescription("Number of evaluation cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		evaluations:   evaluations,
		mutations:     mutations,
		storeDuration: storeDuration,
		cacheHits:     cacheHits,
		cacheMisses:   cacheMisses,
	}, nil
}

// RecordEvaluation records the outcome of an IsEnabled call.
func (m *Metrics) RecordEvaluation(environment string, enabled bool) {
	if m == nil {
		return
	}
	m.evaluations.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("flag.environment", environment),
		attribute.String("flag.result", strconv.FormatBool(enabled)),
	))
}

// RecordMutation records a successful create, update or delete.
func (m *Metrics) RecordMutation(action ChangeAction) {
	if m == nil {
		return
	}
	m.mutations.Add(context.TODO(), 1, metric.WithAttributes(
		attribute.String("flag.action", string(action)),
	))
}

// RecordStoreCall records the duration of a repository call.
func (m *Metrics) RecordStoreCall(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("store.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.Bool("error", true))
	}
	m.storeDuration.Record(context.TODO(), duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCacheHit records an evaluation served from the cache.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Add(context.TODO(), 1)
}

// RecordCacheMiss records an evaluation that went to the store.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Add(context.TODO(), 1)
}
