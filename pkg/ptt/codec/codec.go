// Package codec defines the audio codec service the push-to-talk pipeline
// depends on, an Opus implementation backed by layeh.com/gopus, and a name
// registry used to pick a factory for the codec a stream announces.
//
// Decoders and encoders are stateful and belong to exactly one stream. They
// are not safe for concurrent use.
package codec

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// Params describes the PCM side of a codec instance.
type Params struct {
	SampleRate      int
	Channels        int
	FrameSizeMs     int
	FramesPerPacket int
}

// ParamsFromHeader returns mono params for a wire codec header.
func ParamsFromHeader(h wire.CodecHeader) Params {
	return Params{
		SampleRate:      int(h.SampleRate),
		Channels:        1,
		FrameSizeMs:     int(h.FrameSizeMs),
		FramesPerPacket: max(int(h.FramesPerPacket), 1),
	}
}

// Header returns the wire header announcing p.
func (p Params) Header() wire.CodecHeader {
	return wire.CodecHeader{
		SampleRate:      uint16(p.SampleRate),
		FramesPerPacket: uint8(p.FramesPerPacket),
		FrameSizeMs:     uint8(p.FrameSizeMs),
	}
}

// FrameSamples is the number of samples per channel in one codec frame.
func (p Params) FrameSamples() int { return p.SampleRate * p.FrameSizeMs / 1000 }

// PacketSamples is the number of samples per channel in one packet.
func (p Params) PacketSamples() int { return p.FrameSamples() * max(p.FramesPerPacket, 1) }

// PacketBytes is the size of one packet's PCM as interleaved int16.
func (p Params) PacketBytes() int { return p.PacketSamples() * p.Channels * 2 }

// PacketDuration is the audio carried by one packet.
func (p Params) PacketDuration() time.Duration {
	return time.Duration(p.FrameSizeMs*max(p.FramesPerPacket, 1)) * time.Millisecond
}

var opusRates = []int{8000, 12000, 16000, 24000, 48000}

// Validate reports every parameter Opus cannot handle.
func (p Params) Validate() error {
	var errs []error
	if !slices.Contains(opusRates, p.SampleRate) {
		errs = append(errs, fmt.Errorf("codec: unsupported sample rate %d", p.SampleRate))
	}
	if p.Channels != 1 && p.Channels != 2 {
		errs = append(errs, fmt.Errorf("codec: unsupported channel count %d", p.Channels))
	}
	switch p.FrameSizeMs {
	case 10, 20, 40, 60:
	default:
		errs = append(errs, fmt.Errorf("codec: unsupported frame size %dms", p.FrameSizeMs))
	}
	if p.FramesPerPacket < 1 {
		errs = append(errs, fmt.Errorf("codec: frames per packet must be at least 1, got %d", p.FramesPerPacket))
	}
	return errors.Join(errs...)
}

// Decoder turns one codec payload into interleaved little-endian int16 PCM.
type Decoder interface {
	Decode(payload []byte) ([]byte, error)
	Close() error
}

// Encoder turns exactly one packet of PCM into a codec payload.
type Encoder interface {
	Encode(pcm []byte) ([]byte, error)
	Close() error
}

// Factory creates per-stream codec instances.
type Factory interface {
	Name() string
	NewDecoder(p Params) (Decoder, error)
	NewEncoder(p Params) (Encoder, error)
}
