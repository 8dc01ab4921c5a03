// Package observe provides application-wide observability primitives for
// Earshot: OpenTelemetry metrics, structured logging helpers, and HTTP
// middleware for the ops endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Earshot metrics.
const meterName = "github.com/earshot-voice/earshot"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// SegmentDuration tracks the audio duration of emitted segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// PacketsDropped counts packets discarded by the buffer. Use with:
	//   attribute.String("reason", "evicted"|"expired"|"empty"|"handoff_full")
	PacketsDropped metric.Int64Counter

	// SegmentsEmitted counts finalized segments. Use with:
	//   attribute.String("reason", "silence_timeout"|"max_duration"|"forced")
	SegmentsEmitted metric.Int64Counter

	// SegmentsHeld counts flush evaluations that held a too-short utterance.
	SegmentsHeld metric.Int64Counter

	// SegmentsDropped counts finalized segments discarded because the segment
	// queue was full or already closed.
	SegmentsDropped metric.Int64Counter

	// WakeDetections counts wake-phrase hits. Use with:
	//   attribute.String("source", "audio"|"transcript")
	WakeDetections metric.Int64Counter

	// ReconnectAttempts counts voice reconnection attempts. Use with:
	//   attribute.String("status", "ok"|"error")
	ReconnectAttempts metric.Int64Counter

	// --- Gauges ---

	// PendingPackets tracks packets currently buffered awaiting identity.
	PendingPackets metric.Int64UpDownCounter

	// QueueDepth tracks segments currently queued for the consumer.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSpeakers tracks accumulators currently holding audio.
	ActiveSpeakers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// voice-pipeline latencies and segment durations.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("earshot.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("earshot.segment.duration",
		metric.WithDescription("Audio duration of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PacketsDropped, err = m.Int64Counter("earshot.packets.dropped",
		metric.WithDescription("Packets discarded by the packet buffer, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("earshot.segments.emitted",
		metric.WithDescription("Finalized speech segments, by flush reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsHeld, err = m.Int64Counter("earshot.segments.held",
		metric.WithDescription("Flush evaluations that held a below-minimum utterance."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("earshot.segments.dropped",
		metric.WithDescription("Finalized segments discarded before reaching the consumer."),
	); err != nil {
		return nil, err
	}
	if met.WakeDetections, err = m.Int64Counter("earshot.wake.detections",
		metric.WithDescription("Wake-phrase detections, by source."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("earshot.reconnect.attempts",
		metric.WithDescription("Voice reconnection attempts, by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.PendingPackets, err = m.Int64UpDownCounter("earshot.packets.pending",
		metric.WithDescription("Packets buffered while awaiting identity resolution."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("earshot.segment_queue.depth",
		metric.WithDescription("Segments queued for the downstream consumer."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSpeakers, err = m.Int64UpDownCounter("earshot.active_speakers",
		metric.WithDescription("Accumulators currently holding buffered audio."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("earshot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPacketDrop records a dropped packet with its reason.
func (m *Metrics) RecordPacketDrop(ctx context.Context, reason string) {
	m.PacketsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSegment records an emitted segment with its flush reason and audio
// duration in seconds.
func (m *Metrics) RecordSegment(ctx context.Context, reason string, seconds float64) {
	m.SegmentsEmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.SegmentDuration.Record(ctx, seconds)
}

// RecordWakeDetection records a wake-phrase hit with its source.
func (m *Metrics) RecordWakeDetection(ctx context.Context, source string) {
	m.WakeDetections.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordReconnectAttempt records a reconnection attempt outcome.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, status string) {
	m.ReconnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
