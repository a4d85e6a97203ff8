// Package wire defines the push-to-talk wire protocol: JSON control commands,
// replies and events carried in text frames, and the fixed-header audio
// packets carried in binary frames.
//
// Outgoing commands are built without a sequence number; the session's
// correlator assigns one when the command is encoded with [Command.Encode].
// Inbound frames are sorted into a [Message] by [Classify].
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
)

// Command names understood by the server.
const (
	CmdLogon       = "logon"
	CmdSendText    = "send_text_message"
	CmdStartStream = "start_stream"
	CmdStopStream  = "stop_stream"
)

// CodecOpus is the only audio codec the protocol negotiates.
const CodecOpus = "opus"

// Command is an outgoing control request: a name plus JSON-shaped fields.
// The seq and command keys are reserved and written by Encode.
type Command struct {
	Name   string
	Fields map[string]any
}

// Encode renders c as a JSON object with seq and command first, followed by
// the remaining fields in key order. Nil field values are omitted.
func (c Command) Encode(seq uint32) ([]byte, error) {
	if c.Name == "" {
		return nil, fmt.Errorf("wire: encode: command name is empty")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"seq":`)
	buf.WriteString(strconv.FormatUint(uint64(seq), 10))
	buf.WriteString(`,"command":`)
	name, _ := json.Marshal(c.Name)
	buf.Write(name)

	for _, k := range slices.Sorted(maps.Keys(c.Fields)) {
		if k == "seq" || k == "command" {
			return nil, fmt.Errorf("wire: encode %s: reserved field %q", c.Name, k)
		}
		v := c.Fields[k]
		if v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("wire: encode %s: field %q: %w", c.Name, k, err)
		}
		key, _ := json.Marshal(k)
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// LogonParams are the credentials sent with a logon command.
type LogonParams struct {
	Username  string
	Password  string
	AuthToken string
	Channel   string
}

// NewLogon builds a logon command joining p.Channel. Username and password
// are left out when empty, which yields a token-only logon.
func NewLogon(p LogonParams) Command {
	f := map[string]any{
		"auth_token": p.AuthToken,
		"channels":   []string{p.Channel},
	}
	if p.Username != "" {
		f["username"] = p.Username
	}
	if p.Password != "" {
		f["password"] = p.Password
	}
	return Command{Name: CmdLogon, Fields: f}
}

// NewSendText builds a text message for channel. A non-empty recipient
// addresses a single callsign instead of the whole channel.
func NewSendText(channel, text, recipient string) Command {
	f := map[string]any{"channel": channel, "text": text}
	if recipient != "" {
		f["for"] = recipient
	}
	return Command{Name: CmdSendText, Fields: f}
}

// NewStartStream requests an outgoing Opus stream on channel.
func NewStartStream(channel, recipient string, h CodecHeader) Command {
	f := map[string]any{
		"channel":         channel,
		"codec":           CodecOpus,
		"codec_header":    h.Base64(),
		"packet_duration": h.PacketDuration(),
	}
	if recipient != "" {
		f["for"] = recipient
	}
	return Command{Name: CmdStartStream, Fields: f}
}

// NewStopStream ends the outgoing stream id.
func NewStopStream(id uint32) Command {
	return Command{Name: CmdStopStream, Fields: map[string]any{"stream_id": id}}
}
