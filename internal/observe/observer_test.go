package observe

import (
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/pushtalk/pkg/ptt/pipeline"
	"github.com/MrWong99/pushtalk/pkg/ptt/session"
)

func attributeKey(k string) attribute.Key { return attribute.Key(k) }

func TestSessionObserver_Lifecycle(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewSessionObserver(m)

	o.StateChanged(session.Disconnected, session.Connecting)
	o.StateChanged(session.Connecting, session.Authenticating)
	o.StateChanged(session.Authenticating, session.LoggedOn)
	o.StateChanged(session.LoggedOn, session.Active)
	o.StateChanged(session.Active, session.LoggedOn)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "pushtalk.sessions.active"); got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
	if got := sumValue(t, rm, "pushtalk.session.transitions", "from", "active", "to", "logged_on"); got != 1 {
		t.Errorf("active->logged_on = %d, want 1", got)
	}

	o.StateChanged(session.LoggedOn, session.Closing)
	o.StateChanged(session.Closing, session.Closed)
	rm = collect(t, reader)
	if got := sumValue(t, rm, "pushtalk.sessions.active"); got != 0 {
		t.Errorf("active sessions after close = %d, want 0", got)
	}
}

func TestSessionObserver_FailedLogonNotCounted(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewSessionObserver(m)

	o.StateChanged(session.Authenticating, session.LoggedOn)
	o.StateChanged(session.LoggedOn, session.Closing)
	// A second session that never logged on.
	o.StateChanged(session.Authenticating, session.Closing)

	if got := sumValue(t, collect(t, reader), "pushtalk.sessions.active"); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
}

func TestSessionObserver_InboundPacket(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewSessionObserver(m)

	derr := &pipeline.DecodeError{StreamID: 7, PacketID: 3, Err: errors.New("bad")}
	for _, res := range []pipeline.Result{
		{Delivered: true},
		{Delivered: true, Gap: 2},
		{Delivered: true, Evicted: true},
		{Unknown: true},
		{DecodeErr: derr},
		{DecodeErr: derr, TornDown: true},
		{Late: true},
	} {
		o.InboundPacket(res)
	}

	rm := collect(t, reader)
	checks := []struct {
		name  string
		attrs []string
		want  int64
	}{
		{"pushtalk.audio.packets", []string{"outcome", "delivered"}, 3},
		{"pushtalk.audio.packets", []string{"outcome", "unknown_stream"}, 1},
		{"pushtalk.audio.packets", []string{"outcome", "decode_error"}, 2},
		{"pushtalk.audio.packets", []string{"outcome", "dropped"}, 1},
		{"pushtalk.audio.discontinuities", nil, 1},
		{"pushtalk.audio.lost_packets", nil, 2},
		{"pushtalk.audio.decode_errors", nil, 2},
		{"pushtalk.audio.evicted_frames", nil, 1},
		{"pushtalk.streams.torn_down", nil, 1},
	}
	for _, c := range checks {
		if got := sumValue(t, rm, c.name, c.attrs...); got != c.want {
			t.Errorf("%s %v = %d, want %d", c.name, c.attrs, got, c.want)
		}
	}
}

func TestSessionObserver_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	o := NewSessionObserver(m)

	o.CommandCompleted("logon", "ok", 30*time.Millisecond)
	o.FrameReceived("reply")
	o.FrameSent("text")
	o.StreamOpened("outbound")
	o.StreamOpened("inbound")
	o.StreamClosed("outbound")
	o.EventDropped(session.EventTextMessage)

	rm := collect(t, reader)
	if got := sumValue(t, rm, "pushtalk.commands", "command", "logon"); got != 1 {
		t.Errorf("logon commands = %d", got)
	}
	if got := sumValue(t, rm, "pushtalk.frames.received", "kind", "reply"); got != 1 {
		t.Errorf("replies = %d", got)
	}
	if got := sumValue(t, rm, "pushtalk.frames.sent", "kind", "text"); got != 1 {
		t.Errorf("text frames = %d", got)
	}
	if got := sumValue(t, rm, "pushtalk.streams.active", "direction", "outbound"); got != 0 {
		t.Errorf("outbound streams = %d", got)
	}
	if got := sumValue(t, rm, "pushtalk.streams.active", "direction", "inbound"); got != 1 {
		t.Errorf("inbound streams = %d", got)
	}
	if got := sumValue(t, rm, "pushtalk.session.dropped_events", "kind", "text_message"); got != 1 {
		t.Errorf("dropped events = %d", got)
	}
}
