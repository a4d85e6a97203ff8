package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// Outbound packetizes captured PCM for one outgoing stream. Input frames of
// any size and format are converted to the stream format, cut into whole
// codec packets, encoded, and wrapped with the stream id and a packet id
// counting up from zero.
type Outbound struct {
	streamID uint32
	params   codec.Params
	enc      codec.Encoder
	conv     audio.FormatConverter
	pending  []byte
	nextID   uint32
}

// NewOutbound returns a packetizer for streamID. It takes ownership of enc.
func NewOutbound(streamID uint32, params codec.Params, enc codec.Encoder) *Outbound {
	return &Outbound{
		streamID: streamID,
		params:   params,
		enc:      enc,
		conv: audio.FormatConverter{Target: audio.Format{
			SampleRate: params.SampleRate,
			Channels:   params.Channels,
		}},
	}
}

// StreamID returns the outgoing stream id.
func (o *Outbound) StreamID() uint32 { return o.streamID }

// Packets returns the number of packets produced so far.
func (o *Outbound) Packets() uint32 { return o.nextID }

// Write buffers f and returns every complete binary frame it yields, in
// order. Leftover samples stay buffered for the next call.
func (o *Outbound) Write(f audio.AudioFrame) ([][]byte, error) {
	if f.SampleRate > 0 && f.Channels > 0 {
		f = o.conv.Convert(f)
	}
	o.pending = append(o.pending, f.Data...)

	size := o.params.PacketBytes()
	var out [][]byte
	for len(o.pending) >= size {
		frame, err := o.encode(o.pending[:size])
		if err != nil {
			return out, err
		}
		out = append(out, frame)
		o.pending = o.pending[size:]
	}
	if len(o.pending) == 0 {
		o.pending = nil
	}
	return out, nil
}

// Flush pads any buffered remainder with silence and returns its frame.
func (o *Outbound) Flush() ([]byte, error) {
	if len(o.pending) == 0 {
		return nil, nil
	}
	pcm := make([]byte, o.params.PacketBytes())
	copy(pcm, o.pending)
	o.pending = nil
	return o.encode(pcm)
}

// Close releases the encoder.
func (o *Outbound) Close() error {
	if o.enc == nil {
		return nil
	}
	err := o.enc.Close()
	o.enc = nil
	return err
}

func (o *Outbound) encode(pcm []byte) ([]byte, error) {
	if o.enc == nil {
		return nil, fmt.Errorf("pipeline: outbound stream %d closed", o.streamID)
	}
	payload, err := o.enc.Encode(pcm)
	if err != nil {
		return nil, fmt.Errorf("pipeline: encode stream %d packet %d: %w", o.streamID, o.nextID, err)
	}
	p := wire.AudioPacket{StreamID: o.streamID, PacketID: o.nextID, Payload: payload}
	o.nextID++
	b, err := p.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if o.nextID == 1 {
		slog.Debug("pipeline: first outbound packet", "stream_id", o.streamID, "bytes", len(b))
	}
	return b, nil
}
