package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/pushtalk/pkg/ptt/pipeline"
	"github.com/MrWong99/pushtalk/pkg/ptt/session"
)

// SessionObserver records session callbacks on m.
type SessionObserver struct {
	m *Metrics
}

var _ session.Observer = (*SessionObserver)(nil)

// NewSessionObserver returns a [session.Observer] backed by m.
func NewSessionObserver(m *Metrics) *SessionObserver {
	return &SessionObserver{m: m}
}

func (o *SessionObserver) StateChanged(from, to session.State) {
	ctx := context.Background()
	o.m.StateTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("from", from.String()),
		Attr("to", to.String()),
	))
	switch {
	case to == session.LoggedOn && from == session.Authenticating:
		o.m.ActiveSessions.Add(ctx, 1)
	case to == session.Closing && from.LoggedIn():
		o.m.ActiveSessions.Add(ctx, -1)
	}
}

func (o *SessionObserver) CommandCompleted(command, status string, d time.Duration) {
	o.m.RecordCommand(context.Background(), command, status, d)
}

func (o *SessionObserver) FrameReceived(kind string) {
	o.m.RecordFrame(context.Background(), true, kind)
}

func (o *SessionObserver) FrameSent(kind string) {
	o.m.RecordFrame(context.Background(), false, kind)
}

// InboundPacket classifies res into a single outcome and updates the audio
// counters.
func (o *SessionObserver) InboundPacket(res pipeline.Result) {
	ctx := context.Background()
	o.m.AudioPackets.Add(ctx, 1, metric.WithAttributes(Attr("outcome", packetOutcome(res))))
	if res.Discontinuity() {
		o.m.Discontinuities.Add(ctx, 1)
		o.m.LostPackets.Add(ctx, int64(res.Gap))
	}
	if res.DecodeErr != nil {
		o.m.DecodeErrors.Add(ctx, 1)
	}
	if res.Evicted {
		o.m.EvictedFrames.Add(ctx, 1)
	}
	if res.TornDown {
		o.m.StreamsTornDown.Add(ctx, 1)
	}
}

func packetOutcome(res pipeline.Result) string {
	switch {
	case res.Unknown:
		return "unknown_stream"
	case res.DecodeErr != nil:
		return "decode_error"
	case res.Delivered:
		return "delivered"
	default:
		return "dropped"
	}
}

func (o *SessionObserver) StreamOpened(direction string) {
	o.m.RecordStream(context.Background(), direction, 1)
}

func (o *SessionObserver) StreamClosed(direction string) {
	o.m.RecordStream(context.Background(), direction, -1)
}

func (o *SessionObserver) EventDropped(kind session.EventKind) {
	o.m.DroppedEvents.Add(context.Background(), 1, metric.WithAttributes(Attr("kind", kind.String())))
}
