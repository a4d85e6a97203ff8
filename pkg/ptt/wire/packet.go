package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// KindAudio tags a binary frame as an audio packet.
const KindAudio byte = 0x01

// AudioHeaderSize is the fixed binary header length: kind, stream id, packet id.
const AudioHeaderSize = 9

var (
	// ErrShortPacket is returned for binary frames shorter than the header.
	ErrShortPacket = errors.New("wire: binary frame shorter than header")

	// ErrUnknownKind is returned for binary frames with an unrecognised tag.
	ErrUnknownKind = errors.New("wire: unknown binary message kind")
)

// AudioPacket is one binary audio frame.
type AudioPacket struct {
	StreamID uint32
	PacketID uint32
	Payload  []byte
}

// ParseAudioPacket decodes a binary frame. Payload aliases b.
func ParseAudioPacket(b []byte) (AudioPacket, error) {
	if len(b) < AudioHeaderSize {
		return AudioPacket{}, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(b))
	}
	if b[0] != KindAudio {
		return AudioPacket{}, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, b[0])
	}
	return AudioPacket{
		StreamID: binary.BigEndian.Uint32(b[1:5]),
		PacketID: binary.BigEndian.Uint32(b[5:9]),
		Payload:  b[AudioHeaderSize:],
	}, nil
}

// MarshalBinary encodes p with its header.
func (p AudioPacket) MarshalBinary() ([]byte, error) {
	return p.AppendBinary(make([]byte, 0, AudioHeaderSize+len(p.Payload)))
}

// AppendBinary appends the encoded packet to b.
func (p AudioPacket) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, KindAudio)
	b = binary.BigEndian.AppendUint32(b, p.StreamID)
	b = binary.BigEndian.AppendUint32(b, p.PacketID)
	return append(b, p.Payload...), nil
}
