package wire_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

func decodeObject(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	return m
}

func TestCommand_EncodeOrdersSeqAndCommandFirst(t *testing.T) {
	t.Parallel()
	b, err := wire.NewSendText("c", "hi", "").Encode(2)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"seq":2,"command":"send_text_message","channel":"c","text":"hi"}`
	if string(b) != want {
		t.Errorf("Encode = %s\nwant     %s", b, want)
	}
}

func TestCommand_EncodeRejectsReservedFields(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"seq", "command"} {
		c := wire.Command{Name: "x", Fields: map[string]any{key: 1}}
		if _, err := c.Encode(1); err == nil {
			t.Errorf("Encode with field %q: expected error", key)
		}
	}
	if _, err := (wire.Command{}).Encode(1); err == nil {
		t.Error("Encode with empty name: expected error")
	}
}

func TestNewLogon(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params wire.LogonParams
		want   map[string]any
	}{
		{
			name:   "password logon",
			params: wire.LogonParams{Username: "a", Password: "b", AuthToken: "t", Channel: "c"},
			want: map[string]any{
				"seq": 1.0, "command": "logon", "username": "a", "password": "b",
				"auth_token": "t", "channels": []any{"c"},
			},
		},
		{
			name:   "token only",
			params: wire.LogonParams{AuthToken: "t", Channel: "c"},
			want: map[string]any{
				"seq": 1.0, "command": "logon", "auth_token": "t", "channels": []any{"c"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := wire.NewLogon(tt.params).Encode(1)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got := decodeObject(t, b)
			gotJSON, _ := json.Marshal(got)
			wantJSON, _ := json.Marshal(tt.want)
			if string(gotJSON) != string(wantJSON) {
				t.Errorf("logon = %s, want %s", gotJSON, wantJSON)
			}
		})
	}
}

func TestNewStartStream(t *testing.T) {
	t.Parallel()
	b, err := wire.NewStartStream("c", "bob", wire.DefaultCodecHeader()).Encode(9)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	m := decodeObject(t, b)
	if m["command"] != "start_stream" || m["codec"] != "opus" || m["for"] != "bob" {
		t.Errorf("unexpected fields: %v", m)
	}
	if m["codec_header"] != "gD4BPA==" {
		t.Errorf("codec_header = %v, want gD4BPA==", m["codec_header"])
	}
	if m["packet_duration"] != 60.0 {
		t.Errorf("packet_duration = %v, want 60", m["packet_duration"])
	}
}

func TestNewStopStream(t *testing.T) {
	t.Parallel()
	b, _ := wire.NewStopStream(42).Encode(3)
	if string(b) != `{"seq":3,"command":"stop_stream","stream_id":42}` {
		t.Errorf("stop_stream = %s", b)
	}
}

func TestCodecHeader(t *testing.T) {
	t.Parallel()
	h := wire.CodecHeader{SampleRate: 48000, FramesPerPacket: 2, FrameSizeMs: 20}
	got, err := wire.ParseCodecHeader(h.Base64())
	if err != nil {
		t.Fatalf("ParseCodecHeader: %v", err)
	}
	if got != h {
		t.Errorf("parsed %v, want %v", got, h)
	}
	if h.PacketDuration() != 40 {
		t.Errorf("PacketDuration = %d, want 40", h.PacketDuration())
	}

	def, err := wire.ParseCodecHeader("")
	if err != nil || def != wire.DefaultCodecHeader() {
		t.Errorf("empty header = %v, %v; want default", def, err)
	}

	for _, bad := range []string{"!!!", "AAAA"} { // invalid base64; 3 bytes
		if _, err := wire.ParseCodecHeader(bad); err == nil {
			t.Errorf("ParseCodecHeader(%q): expected error", bad)
		}
	}
}

func TestAudioPacket(t *testing.T) {
	t.Parallel()
	p := wire.AudioPacket{StreamID: 7, PacketID: 258, Payload: []byte{0xAA, 0xBB}}
	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	want := []byte{0x01, 0, 0, 0, 7, 0, 0, 1, 2, 0xAA, 0xBB}
	if !bytes.Equal(b, want) {
		t.Fatalf("MarshalBinary = % x, want % x", b, want)
	}
	got, err := wire.ParseAudioPacket(b)
	if err != nil {
		t.Fatalf("ParseAudioPacket: %v", err)
	}
	if got.StreamID != 7 || got.PacketID != 258 || !bytes.Equal(got.Payload, p.Payload) {
		t.Errorf("parsed %+v", got)
	}
}

func TestAudioPacket_Errors(t *testing.T) {
	t.Parallel()
	if _, err := wire.ParseAudioPacket([]byte{1, 0, 0}); !errors.Is(err, wire.ErrShortPacket) {
		t.Errorf("short: err = %v", err)
	}
	if _, err := wire.ParseAudioPacket([]byte{9, 0, 0, 0, 1, 0, 0, 0, 1}); !errors.Is(err, wire.ErrUnknownKind) {
		t.Errorf("kind: err = %v", err)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	audio, _ := wire.AudioPacket{StreamID: 5, PacketID: 1, Payload: []byte{1}}.MarshalBinary()

	tests := []struct {
		name  string
		frame transport.Frame
		want  wire.Kind
	}{
		{"reply", transport.TextFrame(`{"seq":1,"success":true}`), wire.KindReply},
		{"event", transport.TextFrame(`{"command":"on_text_message","text":"hi"}`), wire.KindEvent},
		{"event without command", transport.TextFrame(`{"foo":1}`), wire.KindEvent},
		{"string seq is not a reply", transport.TextFrame(`{"seq":"1","command":"on_error"}`), wire.KindEvent},
		{"stream start", transport.TextFrame(`{"command":"on_stream_start","stream_id":5}`), wire.KindAudioStart},
		{"stream stop", transport.TextFrame(`{"command":"on_stream_stop","stream_id":5}`), wire.KindAudioStop},
		{"malformed json", transport.TextFrame(`{"seq":`), wire.KindUnknown},
		{"json array", transport.TextFrame(`[1,2]`), wire.KindUnknown},
		{"bad stream start", transport.TextFrame(`{"command":"on_stream_start","stream_id":"x"}`), wire.KindUnknown},
		{"audio", transport.Frame{Type: transport.Binary, Data: audio}, wire.KindAudioData},
		{"short binary", transport.Frame{Type: transport.Binary, Data: []byte{1}}, wire.KindUnknown},
		{"unknown tag", transport.Frame{Type: transport.Binary, Data: make([]byte, 12)}, wire.KindUnknown},
		{"bad frame type", transport.Frame{Data: []byte("x")}, wire.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := wire.Classify(tt.frame)
			if m.Kind != tt.want {
				t.Fatalf("Kind = %s, want %s (err %v)", m.Kind, tt.want, m.Err)
			}
			if (m.Kind == wire.KindUnknown) != (m.Err != nil) {
				t.Errorf("Err = %v for kind %s", m.Err, m.Kind)
			}
		})
	}
}

func TestClassify_ReplyFields(t *testing.T) {
	t.Parallel()
	m := wire.Classify(transport.TextFrame(`{"seq":4,"success":false,"error":"busy","stream_id":99,"refresh_token":"r"}`))
	r := m.Reply
	if r.Seq != 4 || r.Success || r.Error != "busy" || r.RefreshToken != "r" {
		t.Errorf("reply = %+v", r)
	}
	if r.StreamID == nil || *r.StreamID != 99 {
		t.Errorf("StreamID = %v, want 99", r.StreamID)
	}
	if !strings.Contains(string(r.Raw), `"busy"`) {
		t.Errorf("Raw = %s", r.Raw)
	}
}

func TestEvent_Decode(t *testing.T) {
	t.Parallel()
	m := wire.Classify(transport.TextFrame(`{"command":"on_online_status","channel":"c","from":"bob","online":true}`))
	var st wire.OnlineStatus
	if err := m.Event.Decode(&st); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if st.From != "bob" || !st.Online {
		t.Errorf("status = %+v", st)
	}

	start := wire.Classify(transport.TextFrame(`{"command":"on_stream_start","stream_id":3,"from":"amy","codec":"opus","packet_duration":60}`)).Start
	h, err := start.Header()
	if err != nil || h != wire.DefaultCodecHeader() {
		t.Errorf("Header = %v, %v", h, err)
	}
}
