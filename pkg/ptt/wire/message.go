package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
)

// Event names sent by the server.
const (
	EvTextMessage   = "on_text_message"
	EvStreamStart   = "on_stream_start"
	EvStreamStop    = "on_stream_stop"
	EvChannelStatus = "on_channel_status"
	EvOnlineStatus  = "on_online_status"
	EvError         = "on_error"
)

// ErrMalformed is wrapped by [Message.Err] for text frames that are not a
// JSON object.
var ErrMalformed = errors.New("wire: malformed control message")

// Kind is the routing class of an inbound frame.
type Kind int

const (
	KindUnknown Kind = iota
	KindReply
	KindEvent
	KindAudioStart
	KindAudioStop
	KindAudioData
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindEvent:
		return "event"
	case KindAudioStart:
		return "audio_start"
	case KindAudioStop:
		return "audio_stop"
	case KindAudioData:
		return "audio_data"
	default:
		return "unknown"
	}
}

// Reply answers a command with the same seq.
type Reply struct {
	Seq     uint32 `json:"seq"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// RefreshToken is set on successful logon replies.
	RefreshToken string `json:"refresh_token,omitempty"`

	// StreamID is set on start_stream replies.
	StreamID *uint32 `json:"stream_id,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// Event is a server-initiated notification. Raw holds the full object for
// the typed accessors.
type Event struct {
	Name string
	Raw  json.RawMessage
}

// TextMessage is an on_text_message event.
type TextMessage struct {
	MessageID uint64 `json:"message_id"`
	Channel   string `json:"channel"`
	From      string `json:"from"`
	For       string `json:"for,omitempty"`
	Text      string `json:"text"`
	Author    string `json:"author,omitempty"`
}

// StreamStart is an on_stream_start event.
type StreamStart struct {
	StreamID       uint32 `json:"stream_id"`
	Channel        string `json:"channel"`
	From           string `json:"from"`
	For            string `json:"for,omitempty"`
	Codec          string `json:"codec"`
	CodecHeader    string `json:"codec_header,omitempty"`
	PacketDuration uint32 `json:"packet_duration"`
}

// Header parses CodecHeader, falling back to the default when absent.
func (s StreamStart) Header() (CodecHeader, error) { return ParseCodecHeader(s.CodecHeader) }

// StreamStop is an on_stream_stop event.
type StreamStop struct {
	StreamID uint32 `json:"stream_id"`
}

// ChannelImage is attached to channel status updates.
type ChannelImage struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ChannelStatus is an on_channel_status event.
type ChannelStatus struct {
	Channel     string         `json:"channel"`
	Status      string         `json:"status"`
	UsersOnline uint32         `json:"users_online"`
	Images      []ChannelImage `json:"images,omitempty"`
}

// OnlineStatus is an on_online_status event.
type OnlineStatus struct {
	Channel string `json:"channel"`
	From    string `json:"from"`
	Online  bool   `json:"online"`
}

// ServerError is an on_error event.
type ServerError struct {
	Error string `json:"error"`
}

// Decode unmarshals the event body into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("wire: decode %s: %w", e.Name, err)
	}
	return nil
}

// Message is a classified inbound frame. Only the field matching Kind is set.
type Message struct {
	Kind  Kind
	Reply Reply
	Event Event
	Start StreamStart
	Stop  StreamStop
	Audio AudioPacket

	// Err explains why a frame was classified as KindUnknown.
	Err error
}

// Classify parses f and decides where it is routed. Text frames carrying a
// numeric seq are replies; other JSON objects are events, with stream
// start/stop split out. Binary frames are parsed by their fixed header.
// Anything unparseable is KindUnknown with Err set; Classify never panics.
func Classify(f transport.Frame) Message {
	switch f.Type {
	case transport.Text:
		return classifyText(f.Data)
	case transport.Binary:
		p, err := ParseAudioPacket(f.Data)
		if err != nil {
			return Message{Kind: KindUnknown, Err: err}
		}
		return Message{Kind: KindAudioData, Audio: p}
	default:
		return Message{Kind: KindUnknown, Err: fmt.Errorf("wire: unsupported frame type %s", f.Type)}
	}
}

func classifyText(data []byte) Message {
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return unknown(ErrMalformed)
	}

	if seq := gjson.GetBytes(data, "seq"); seq.Exists() && seq.Type == gjson.Number {
		var r Reply
		if err := json.Unmarshal(data, &r); err != nil {
			return unknown(fmt.Errorf("%w: reply: %w", ErrMalformed, err))
		}
		r.Raw = data
		return Message{Kind: KindReply, Reply: r}
	}

	ev := Event{Name: gjson.GetBytes(data, "command").String(), Raw: data}
	switch ev.Name {
	case EvStreamStart:
		var s StreamStart
		if err := ev.Decode(&s); err != nil {
			return unknown(fmt.Errorf("%w: %w", ErrMalformed, err))
		}
		return Message{Kind: KindAudioStart, Start: s, Event: ev}
	case EvStreamStop:
		var s StreamStop
		if err := ev.Decode(&s); err != nil {
			return unknown(fmt.Errorf("%w: %w", ErrMalformed, err))
		}
		return Message{Kind: KindAudioStop, Stop: s, Event: ev}
	default:
		return Message{Kind: KindEvent, Event: ev}
	}
}

func unknown(err error) Message { return Message{Kind: KindUnknown, Err: err} }
