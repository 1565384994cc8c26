// Package observe provides application-wide observability primitives for
// Waveforge: OpenTelemetry metrics, distributed tracing, and structured
// logging setup.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Waveforge metrics.
const meterName = "github.com/MrWong99/waveforge"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Ingest counters ---

	// PCMPushes counts accepted PCM buffer pushes.
	PCMPushes metric.Int64Counter

	// PCMBytes counts raw PCM bytes accepted into the pipeline.
	PCMBytes metric.Int64Counter

	// --- Delivery counters ---

	// UnitsDelivered counts encoded units handed to the delivery callback.
	UnitsDelivered metric.Int64Counter

	// DeliveredBytes counts encoded bytes handed to the delivery callback.
	DeliveredBytes metric.Int64Counter

	// --- Sink pull counters ---

	// PullTimeouts counts sink pulls that returned no unit within the wait
	// window. These are expected during quiet periods and are not errors.
	PullTimeouts metric.Int64Counter

	// PullFailures counts sink pulls that returned an error.
	PullFailures metric.Int64Counter

	// --- Latency histograms ---

	// EncodeDuration tracks per-buffer encode latency.
	EncodeDuration metric.Float64Histogram

	// PushWait tracks how long PushPCM blocked on source backpressure.
	PushWait metric.Float64Histogram

	// --- Gauges ---

	// ActivePipelines tracks the number of pipelines currently in the running
	// state.
	ActivePipelines metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming-encode latencies, which sit well below typical request
// latencies.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.PCMPushes, err = m.Int64Counter("waveforge.pcm.pushes",
		metric.WithDescription("Total accepted PCM buffer pushes."),
	); err != nil {
		return nil, err
	}
	if met.PCMBytes, err = m.Int64Counter("waveforge.pcm.bytes",
		metric.WithDescription("Total raw PCM bytes accepted into the pipeline."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.UnitsDelivered, err = m.Int64Counter("waveforge.delivery.units",
		metric.WithDescription("Total encoded units handed to the delivery callback."),
	); err != nil {
		return nil, err
	}
	if met.DeliveredBytes, err = m.Int64Counter("waveforge.delivery.bytes",
		metric.WithDescription("Total encoded bytes handed to the delivery callback."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PullTimeouts, err = m.Int64Counter("waveforge.sink.pull_timeouts",
		metric.WithDescription("Total sink pulls that timed out without a unit."),
	); err != nil {
		return nil, err
	}
	if met.PullFailures, err = m.Int64Counter("waveforge.sink.pull_failures",
		metric.WithDescription("Total sink pulls that returned an error."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.EncodeDuration, err = m.Float64Histogram("waveforge.encode.duration",
		metric.WithDescription("Per-buffer encode latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PushWait, err = m.Float64Histogram("waveforge.push.wait",
		metric.WithDescription("Time PushPCM spent blocked on source backpressure."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePipelines, err = m.Int64UpDownCounter("waveforge.active_pipelines",
		metric.WithDescription("Number of pipelines currently running."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
