// Package pipeline bridges wire audio packets and PCM frames.
//
// [Inbound] is the receive side: an arena of tracked streams keyed by stream
// id, each with its own lazily created decoder, packet sequencing and
// consecutive-failure count. Decoded frames go to a drop-oldest
// [audio.Queue], so the network reader never blocks on a slow sink.
//
// [Outbound] is the send side for the single outgoing stream: it accumulates
// captured PCM into codec packets, encodes them and frames them for the wire.
//
// Neither type is safe for concurrent use; each is owned by one task.
package pipeline

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

const (
	defaultFailureThreshold = 3
	defaultReorderTolerance = 4
)

// DecodeError is a frame-level decode failure.
type DecodeError struct {
	StreamID uint32
	PacketID uint32
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("pipeline: decode stream %d packet %d: %v", e.StreamID, e.PacketID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StreamInfo describes an inbound stream announced by the server.
type StreamInfo struct {
	ID      uint32
	Codec   string
	Params  codec.Params
	Channel string
	From    string
}

// InboundConfig configures [NewInbound].
type InboundConfig struct {
	// Output receives decoded frames. Required.
	Output *audio.Queue

	// Codecs resolves StreamInfo.Codec. Defaults to [codec.Default].
	Codecs *codec.Registry

	// FailureThreshold is the number of consecutive decode failures that tear
	// a stream down. Defaults to 3.
	FailureThreshold int

	// ReorderTolerance is how far behind the expected packet id a packet may
	// arrive and still be treated as late rather than a sequence reset.
	// Defaults to 4.
	ReorderTolerance uint32
}

// Result reports what Handle did with one packet.
type Result struct {
	// Delivered is set when decoded PCM was pushed to the output queue.
	Delivered bool

	// Evicted is set when delivering pushed out the oldest queued frame.
	Evicted bool

	// Unknown is set when the packet's stream id is not tracked.
	Unknown bool

	// Gap is the number of packet ids skipped before this one, if any.
	Gap uint32

	// Late is set for a packet behind the expected id within tolerance.
	Late bool

	// Reset is set when a packet far behind the expected id restarted
	// sequence tracking.
	Reset bool

	// DecodeErr is set when the payload failed to decode.
	DecodeErr *DecodeError

	// TornDown is set when the stream was removed because of decode failures.
	TornDown bool
}

// Discontinuity reports whether the packet followed a gap.
func (r Result) Discontinuity() bool { return r.Gap > 0 }

type inboundStream struct {
	info     StreamInfo
	factory  codec.Factory
	dec      codec.Decoder
	started  bool
	expected uint32
	failures int
	offset   time.Duration
}

// Inbound is the arena of tracked inbound streams.
type Inbound struct {
	out       *audio.Queue
	codecs    *codec.Registry
	threshold int
	tolerance uint32
	streams   map[uint32]*inboundStream
}

// NewInbound returns an empty arena delivering into cfg.Output.
func NewInbound(cfg InboundConfig) *Inbound {
	if cfg.Codecs == nil {
		cfg.Codecs = codec.Default()
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.ReorderTolerance == 0 {
		cfg.ReorderTolerance = defaultReorderTolerance
	}
	return &Inbound{
		out:       cfg.Output,
		codecs:    cfg.Codecs,
		threshold: cfg.FailureThreshold,
		tolerance: cfg.ReorderTolerance,
		streams:   make(map[uint32]*inboundStream),
	}
}

// Start begins tracking info.ID. The decoder is created on the first packet.
// Restarting an id that is already tracked disposes the old entry first.
func (in *Inbound) Start(info StreamInfo) error {
	f, err := in.codecs.Lookup(info.Codec)
	if err != nil {
		return fmt.Errorf("pipeline: start stream %d: %w", info.ID, err)
	}
	if err := info.Params.Validate(); err != nil {
		return fmt.Errorf("pipeline: start stream %d: %w", info.ID, err)
	}
	if old, ok := in.streams[info.ID]; ok {
		slog.Debug("pipeline: restarting tracked stream", "stream_id", info.ID)
		in.dispose(old)
	}
	in.streams[info.ID] = &inboundStream{info: info, factory: f}
	return nil
}

// Stop disposes the stream and reports whether it was tracked.
func (in *Inbound) Stop(id uint32) bool {
	s, ok := in.streams[id]
	if !ok {
		return false
	}
	in.dispose(s)
	delete(in.streams, id)
	return true
}

// Info returns the announced details of a tracked stream.
func (in *Inbound) Info(id uint32) (StreamInfo, bool) {
	s, ok := in.streams[id]
	if !ok {
		return StreamInfo{}, false
	}
	return s.info, true
}

// Active returns the number of tracked streams.
func (in *Inbound) Active() int { return len(in.streams) }

// Streams returns the tracked stream ids in ascending order.
func (in *Inbound) Streams() []uint32 { return slices.Sorted(maps.Keys(in.streams)) }

// Close disposes every stream and returns how many there were.
func (in *Inbound) Close() int {
	n := len(in.streams)
	for id, s := range in.streams {
		in.dispose(s)
		delete(in.streams, id)
	}
	return n
}

func (in *Inbound) dispose(s *inboundStream) {
	if s.dec == nil {
		return
	}
	if err := s.dec.Close(); err != nil {
		slog.Warn("pipeline: closing decoder", "stream_id", s.info.ID, "err", err)
	}
	s.dec = nil
}

// Handle sequences, decodes and delivers one packet. It never blocks and
// never returns an error; what happened is described by the Result.
func (in *Inbound) Handle(p wire.AudioPacket) Result {
	var res Result
	s, ok := in.streams[p.StreamID]
	if !ok {
		slog.Debug("pipeline: dropping packet for untracked stream", "stream_id", p.StreamID, "packet_id", p.PacketID)
		res.Unknown = true
		return res
	}

	in.sequence(s, p.PacketID, &res)

	pcm, err := s.decode(p.Payload)
	if err != nil {
		s.failures++
		res.DecodeErr = &DecodeError{StreamID: p.StreamID, PacketID: p.PacketID, Err: err}
		slog.Debug("pipeline: decode failed", "stream_id", p.StreamID, "packet_id", p.PacketID, "failures", s.failures, "err", err)
		if s.failures >= in.threshold {
			slog.Warn("pipeline: tearing down stream after consecutive decode failures",
				"stream_id", p.StreamID, "failures", s.failures)
			in.dispose(s)
			delete(in.streams, p.StreamID)
			res.TornDown = true
		}
		return res
	}
	s.failures = 0

	frame := audio.AudioFrame{
		Data:       pcm,
		SampleRate: s.info.Params.SampleRate,
		Channels:   s.info.Params.Channels,
		StreamID:   p.StreamID,
		Timestamp:  s.offset,
	}
	s.offset += frame.Duration()

	evicted, err := in.out.Push(frame)
	if err != nil {
		slog.Debug("pipeline: output closed, dropping frame", "stream_id", p.StreamID)
		return res
	}
	res.Delivered = true
	res.Evicted = evicted
	return res
}

// decode creates the stream decoder on first use. A decoder that cannot be
// created fails the packet like a bad payload and is retried on the next one.
func (s *inboundStream) decode(payload []byte) ([]byte, error) {
	if s.dec == nil {
		dec, err := s.factory.NewDecoder(s.info.Params)
		if err != nil {
			return nil, fmt.Errorf("create decoder: %w", err)
		}
		s.dec = dec
	}
	return s.dec.Decode(payload)
}

// sequence updates packet tracking for s. Packets are processed in arrival
// order; there is no reorder buffer.
func (in *Inbound) sequence(s *inboundStream, id uint32, res *Result) {
	switch {
	case !s.started:
		s.started = true
		s.expected = id + 1
	case id == s.expected:
		s.expected++
	case id > s.expected:
		res.Gap = id - s.expected
		slog.Debug("pipeline: packet discontinuity",
			"stream_id", s.info.ID, "expected", s.expected, "got", id, "missing", res.Gap)
		s.expected = id + 1
	case s.expected-id <= in.tolerance:
		res.Late = true
	default:
		res.Reset = true
		slog.Debug("pipeline: packet id went backwards, resetting sequence",
			"stream_id", s.info.ID, "expected", s.expected, "got", id)
		s.expected = id + 1
	}
}
