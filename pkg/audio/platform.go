// Package audio defines the PCM types and audio device contracts used by the
// push-to-talk client.
//
// The two device abstractions are:
//
//   - [Sink] consumes a bounded channel of decoded frames and plays them.
//   - [Source] captures microphone audio and produces frames on a channel.
//
// The protocol core never touches hardware. It hands a receive-only channel
// (fed by a [Queue]) to a Sink and reads frames from the channel returned by a
// Source. Concrete bindings live in sub-packages (audio/rawpcm).
package audio

import "context"

// Sink plays decoded audio.
//
// Play consumes frames from in until in is closed or ctx is cancelled, and
// only then returns. Implementations own the consumption loop; they must keep
// up with real time or drop data themselves, the producer never waits on them.
type Sink interface {
	Play(ctx context.Context, in <-chan AudioFrame) error
}

// Source captures audio.
//
// Capture starts capturing and returns a channel of frames in the source's
// native [Format]. The channel is closed when capture ends (end of input or
// ctx cancelled). Capture may be called at most once per Source.
type Source interface {
	Capture(ctx context.Context) (<-chan AudioFrame, error)
}

// SinkFunc adapts a plain function to the [Sink] interface.
type SinkFunc func(ctx context.Context, in <-chan AudioFrame) error

// Play calls f(ctx, in).
func (f SinkFunc) Play(ctx context.Context, in <-chan AudioFrame) error { return f(ctx, in) }
