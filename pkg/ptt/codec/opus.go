package codec

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// maxOpusPacket bounds a single encoded packet.
const maxOpusPacket = 4000

// Opus returns the gopus-backed Opus factory.
func Opus() Factory { return opusFactory{} }

type opusFactory struct{}

func (opusFactory) Name() string { return wire.CodecOpus }

// NewDecoder creates a decoder for one inbound stream. Each stream gets its
// own decoder so prediction state carries across consecutive packets.
func (opusFactory) NewDecoder(p Params) (Decoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	dec, err := gopus.NewDecoder(p.SampleRate, p.Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, maxSamples: p.PacketSamples()}, nil
}

// NewEncoder creates an encoder for the outgoing stream. Only one Opus
// frame per packet is produced.
func (opusFactory) NewEncoder(p Params) (Encoder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.FramesPerPacket != 1 {
		return nil, fmt.Errorf("codec: opus encoder: %d frames per packet not supported", p.FramesPerPacket)
	}
	enc, err := gopus.NewEncoder(p.SampleRate, p.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc, frameSamples: p.FrameSamples(), pcmBytes: p.PacketBytes()}, nil
}

type opusDecoder struct {
	dec        *gopus.Decoder
	maxSamples int
}

func (d *opusDecoder) Decode(payload []byte) ([]byte, error) {
	if d.dec == nil {
		return nil, fmt.Errorf("codec: opus decode: decoder closed")
	}
	pcm, err := d.dec.Decode(payload, d.maxSamples, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// Close drops the decoder; gopus frees native state on collection.
func (d *opusDecoder) Close() error {
	d.dec = nil
	return nil
}

type opusEncoder struct {
	enc          *gopus.Encoder
	frameSamples int
	pcmBytes     int
}

func (e *opusEncoder) Encode(pcm []byte) ([]byte, error) {
	if e.enc == nil {
		return nil, fmt.Errorf("codec: opus encode: encoder closed")
	}
	if len(pcm) != e.pcmBytes {
		return nil, fmt.Errorf("codec: opus encode: want %d bytes of pcm, got %d", e.pcmBytes, len(pcm))
	}
	out, err := e.enc.Encode(bytesToInt16s(pcm), e.frameSamples, maxOpusPacket)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	return out, nil
}

func (e *opusEncoder) Close() error {
	e.enc = nil
	return nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
