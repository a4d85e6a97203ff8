package wire

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"
)

// CodecHeader describes an Opus stream. On the wire it is four bytes
// (sample rate as little-endian uint16, frames per packet, frame size in ms)
// encoded as standard base64.
type CodecHeader struct {
	SampleRate      uint16
	FramesPerPacket uint8
	FrameSizeMs     uint8
}

// DefaultCodecHeader is assumed when a stream start omits its header:
// 16 kHz, one 60 ms frame per packet.
func DefaultCodecHeader() CodecHeader {
	return CodecHeader{SampleRate: 16000, FramesPerPacket: 1, FrameSizeMs: 60}
}

// ParseCodecHeader decodes a base64 header. An empty string yields the default.
func ParseCodecHeader(s string) (CodecHeader, error) {
	if s == "" {
		return DefaultCodecHeader(), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return CodecHeader{}, fmt.Errorf("wire: codec header: %w", err)
	}
	var h CodecHeader
	if err := h.UnmarshalBinary(raw); err != nil {
		return CodecHeader{}, err
	}
	return h, nil
}

// MarshalBinary returns the 4-byte header.
func (h CodecHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, h.SampleRate)
	b[2] = h.FramesPerPacket
	b[3] = h.FrameSizeMs
	return b, nil
}

// UnmarshalBinary parses exactly four bytes.
func (h *CodecHeader) UnmarshalBinary(b []byte) error {
	if len(b) != 4 {
		return fmt.Errorf("wire: codec header: want 4 bytes, got %d", len(b))
	}
	h.SampleRate = binary.LittleEndian.Uint16(b)
	h.FramesPerPacket = b[2]
	h.FrameSizeMs = b[3]
	return nil
}

// Base64 returns the header as sent in start_stream.
func (h CodecHeader) Base64() string {
	b, _ := h.MarshalBinary()
	return base64.StdEncoding.EncodeToString(b)
}

// PacketDuration is the audio carried by one packet, in milliseconds.
func (h CodecHeader) PacketDuration() uint32 {
	return uint32(h.FrameSizeMs) * uint32(max(h.FramesPerPacket, 1))
}

// FrameDuration returns the duration of a single codec frame.
func (h CodecHeader) FrameDuration() time.Duration {
	return time.Duration(h.FrameSizeMs) * time.Millisecond
}

func (h CodecHeader) String() string {
	return fmt.Sprintf("%dHz %dx%dms", h.SampleRate, h.FramesPerPacket, h.FrameSizeMs)
}
