// Package observe provides observability primitives for the pushtalk client:
// OpenTelemetry metrics, tracing, trace-aware logging, and the HTTP
// middleware for the telemetry server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping by [InitProvider]. [DefaultMetrics] uses the global
// meter provider; tests should use [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all pushtalk metrics.
const meterName = "github.com/MrWong99/pushtalk"

// Metrics holds every metric instrument of the client. All fields are safe
// for concurrent use.
type Metrics struct {
	// CommandDuration tracks command round trips. Attributes: command, status.
	CommandDuration metric.Float64Histogram

	// Commands counts completed commands. Attributes: command, status.
	Commands metric.Int64Counter

	// FramesReceived counts inbound frames. Attribute: kind.
	FramesReceived metric.Int64Counter

	// FramesSent counts outbound frames. Attribute: kind ("text", "binary").
	FramesSent metric.Int64Counter

	// AudioPackets counts inbound audio packets. Attribute: outcome.
	AudioPackets metric.Int64Counter

	// Discontinuities counts packets that followed a gap.
	Discontinuities metric.Int64Counter

	// LostPackets sums the packet ids skipped by gaps.
	LostPackets metric.Int64Counter

	// DecodeErrors counts payloads that failed to decode.
	DecodeErrors metric.Int64Counter

	// EvictedFrames counts decoded frames dropped because the output queue
	// was full.
	EvictedFrames metric.Int64Counter

	// StreamsTornDown counts inbound streams removed after repeated decode
	// failures.
	StreamsTornDown metric.Int64Counter

	// StateTransitions counts session lifecycle changes. Attributes: from, to.
	StateTransitions metric.Int64Counter

	// DroppedEvents counts events lost to a full event channel. Attribute: kind.
	DroppedEvents metric.Int64Counter

	// ActiveStreams tracks open streams. Attribute: direction.
	ActiveStreams metric.Int64UpDownCounter

	// ActiveSessions tracks logged on sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks telemetry server requests. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds for command round trips.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CommandDuration, err = m.Float64Histogram("pushtalk.command.duration",
		metric.WithDescription("Round trip time from sending a command to its reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Commands, "pushtalk.commands", "Completed commands by command and status."},
		{&met.FramesReceived, "pushtalk.frames.received", "Inbound frames by routing kind."},
		{&met.FramesSent, "pushtalk.frames.sent", "Outbound frames by frame type."},
		{&met.AudioPackets, "pushtalk.audio.packets", "Inbound audio packets by outcome."},
		{&met.Discontinuities, "pushtalk.audio.discontinuities", "Inbound packets that followed a gap."},
		{&met.LostPackets, "pushtalk.audio.lost_packets", "Packet ids skipped by inbound gaps."},
		{&met.DecodeErrors, "pushtalk.audio.decode_errors", "Inbound payloads that failed to decode."},
		{&met.EvictedFrames, "pushtalk.audio.evicted_frames", "Decoded frames dropped because the output queue was full."},
		{&met.StreamsTornDown, "pushtalk.streams.torn_down", "Inbound streams removed after repeated decode failures."},
		{&met.StateTransitions, "pushtalk.session.transitions", "Session state transitions by from and to state."},
		{&met.DroppedEvents, "pushtalk.session.dropped_events", "Events dropped because the event channel was full."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveStreams, err = m.Int64UpDownCounter("pushtalk.streams.active",
		metric.WithDescription("Open audio streams by direction."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pushtalk.sessions.active",
		metric.WithDescription("Number of logged on sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("pushtalk.http.request.duration",
		metric.WithDescription("Telemetry server request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records one completed command.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string, d time.Duration) {
	attrs := metric.WithAttributes(Attr("command", command), Attr("status", status))
	m.Commands.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordFrame records one inbound or outbound frame.
func (m *Metrics) RecordFrame(ctx context.Context, inbound bool, kind string) {
	c := m.FramesSent
	if inbound {
		c = m.FramesReceived
	}
	c.Add(ctx, 1, metric.WithAttributes(Attr("kind", kind)))
}

// RecordStream adjusts the open stream gauge by delta.
func (m *Metrics) RecordStream(ctx context.Context, direction string, delta int64) {
	m.ActiveStreams.Add(ctx, delta, metric.WithAttributes(Attr("direction", direction)))
}
