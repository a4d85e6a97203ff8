package session

import (
	"time"

	"github.com/MrWong99/pushtalk/pkg/ptt/pipeline"
)

// Observer receives instrumentation callbacks. Methods are called from the
// session's internal goroutines and must not block.
type Observer interface {
	// StateChanged is called on every lifecycle transition.
	StateChanged(from, to State)

	// CommandCompleted is called once per command with status "ok",
	// "rejected", "timeout" or "error".
	CommandCompleted(command, status string, d time.Duration)

	// FrameReceived is called for every inbound frame with its routing kind.
	FrameReceived(kind string)

	// FrameSent is called for every outbound frame, "text" or "binary".
	FrameSent(kind string)

	// InboundPacket is called with the outcome of every audio packet.
	InboundPacket(res pipeline.Result)

	// StreamOpened and StreamClosed track stream counts by direction,
	// "inbound" or "outbound".
	StreamOpened(direction string)
	StreamClosed(direction string)

	// EventDropped is called when the event channel was full.
	EventDropped(kind EventKind)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)                      {}
func (nopObserver) CommandCompleted(string, string, time.Duration) {}
func (nopObserver) FrameReceived(string)                           {}
func (nopObserver) FrameSent(string)                               {}
func (nopObserver) InboundPacket(pipeline.Result)                  {}
func (nopObserver) StreamOpened(string)                            {}
func (nopObserver) StreamClosed(string)                            {}
func (nopObserver) EventDropped(EventKind)                         {}
