package observe

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns Metrics backed by a ManualReader.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumValue returns the value of the int64 sum data point whose attributes
// include every key/value pair in attrs.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		match := true
		for i := 0; i+1 < len(attrs); i += 2 {
			v, ok := dp.Attributes.Value(attributeKey(attrs[i]))
			if !ok || v.AsString() != attrs[i+1] {
				match = false
				break
			}
		}
		if match {
			return dp.Value
		}
	}
	t.Fatalf("metric %q has no data point with %v", name, attrs)
	return 0
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m.CommandDuration == nil || m.AudioPackets == nil || m.HTTPRequestDuration == nil {
		t.Fatal("instrument missing")
	}
}

func TestRecordCommand(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordCommand(ctx, "send_text_message", "ok", 20*time.Millisecond)
	m.RecordCommand(ctx, "send_text_message", "ok", 40*time.Millisecond)
	m.RecordCommand(ctx, "send_text_message", "timeout", 5*time.Second)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "pushtalk.commands", "command", "send_text_message", "status", "ok"); got != 2 {
		t.Errorf("ok commands = %d, want 2", got)
	}
	if got := sumValue(t, rm, "pushtalk.commands", "status", "timeout"); got != 1 {
		t.Errorf("timed out commands = %d, want 1", got)
	}

	met := findMetric(rm, "pushtalk.command.duration")
	if met == nil {
		t.Fatal("duration metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("duration metric is not a histogram")
	}
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("duration samples = %d, want 3", total)
	}
}

func TestRecordFrameAndStream(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordFrame(ctx, true, "audio_data")
	m.RecordFrame(ctx, true, "audio_data")
	m.RecordFrame(ctx, false, "binary")
	m.RecordStream(ctx, "inbound", 1)
	m.RecordStream(ctx, "inbound", 1)
	m.RecordStream(ctx, "inbound", -1)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "pushtalk.frames.received", "kind", "audio_data"); got != 2 {
		t.Errorf("received = %d, want 2", got)
	}
	if got := sumValue(t, rm, "pushtalk.frames.sent", "kind", "binary"); got != 1 {
		t.Errorf("sent = %d, want 1", got)
	}
	if got := sumValue(t, rm, "pushtalk.streams.active", "direction", "inbound"); got != 1 {
		t.Errorf("active inbound = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
