package session

import (
	"encoding/json"

	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// EventKind classifies an [Event].
type EventKind int

const (
	EventOther EventKind = iota
	EventStateChanged
	EventTextMessage
	EventStreamStarted
	EventStreamStopped
	EventTalkStarted
	EventTalkStopped
	EventTalkFailed
	EventChannelStatus
	EventOnlineStatus
	EventServerError
)

var eventNames = [...]string{
	EventOther:         "other",
	EventStateChanged:  "state_changed",
	EventTextMessage:   "text_message",
	EventStreamStarted: "stream_started",
	EventStreamStopped: "stream_stopped",
	EventTalkStarted:   "talk_started",
	EventTalkStopped:   "talk_stopped",
	EventTalkFailed:    "talk_failed",
	EventChannelStatus: "channel_status",
	EventOnlineStatus:  "online_status",
	EventServerError:   "server_error",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "other"
}

// Event is a notification delivered on [Session.Events]. Which fields are
// set depends on Kind.
type Event struct {
	Kind EventKind

	// State is the new state for EventStateChanged.
	State State

	// StreamID is set for stream and talk events.
	StreamID uint32

	Channel string
	From    string
	For     string
	Author  string

	// Text is the message body, channel status or server error text.
	Text string

	UsersOnline uint32
	Online      bool

	// Codec is the announced codec header for EventStreamStarted.
	Codec wire.CodecHeader

	// Err is set for EventTalkFailed and EventServerError. On
	// EventStreamStopped it is the *pipeline.DecodeError that made the client
	// tear the stream down; nil when the server stopped it.
	Err error

	// Name and Raw hold the server event this was built from, if any.
	Name string
	Raw  json.RawMessage
}

// ServerError is an on_error event from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "session: server error: " + e.Message }

func eventFromWire(ev wire.Event) (Event, error) {
	out := Event{Kind: EventOther, Name: ev.Name, Raw: ev.Raw}
	switch ev.Name {
	case wire.EvTextMessage:
		var m wire.TextMessage
		if err := ev.Decode(&m); err != nil {
			return out, err
		}
		out.Kind = EventTextMessage
		out.Channel, out.From, out.For, out.Author, out.Text = m.Channel, m.From, m.For, m.Author, m.Text
	case wire.EvChannelStatus:
		var m wire.ChannelStatus
		if err := ev.Decode(&m); err != nil {
			return out, err
		}
		out.Kind = EventChannelStatus
		out.Channel, out.Text, out.UsersOnline = m.Channel, m.Status, m.UsersOnline
	case wire.EvOnlineStatus:
		var m wire.OnlineStatus
		if err := ev.Decode(&m); err != nil {
			return out, err
		}
		out.Kind = EventOnlineStatus
		out.Channel, out.From, out.Online = m.Channel, m.From, m.Online
	case wire.EvError:
		var m wire.ServerError
		if err := ev.Decode(&m); err != nil {
			return out, err
		}
		out.Kind = EventServerError
		out.Text = m.Error
		out.Err = &ServerError{Message: m.Error}
	}
	return out, nil
}
