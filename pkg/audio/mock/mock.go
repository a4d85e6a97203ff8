// Package mock provides in-memory implementations of [audio.Sink] and
// [audio.Source] for unit tests.
//
// Both mocks are safe for concurrent use and record what passed through them.
//
//	sink := &mock.Sink{}
//	go sink.Play(ctx, sess.Output())
//	...
//	frames := sink.Frames()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/pushtalk/pkg/audio"
)

// Sink records every frame it receives.
type Sink struct {
	mu     sync.Mutex
	frames []audio.AudioFrame

	// PlayError is returned by Play after the input is exhausted.
	PlayError error

	// Received, when non-nil, gets a non-blocking notification per frame.
	Received chan audio.AudioFrame
}

// Play consumes in until it is closed or ctx is done.
func (s *Sink) Play(ctx context.Context, in <-chan audio.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return s.PlayError
			}
			s.mu.Lock()
			s.frames = append(s.frames, f)
			s.mu.Unlock()
			if s.Received != nil {
				select {
				case s.Received <- f:
				default:
				}
			}
		}
	}
}

// Frames returns a copy of all frames received so far.
func (s *Sink) Frames() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Source replays a fixed list of frames.
type Source struct {
	// Frames are emitted in order, then the channel is closed unless Hold is set.
	Frames []audio.AudioFrame

	// Hold keeps the channel open after Frames are sent until ctx is done.
	Hold bool

	// CaptureError is returned by Capture instead of starting.
	CaptureError error

	mu    sync.Mutex
	calls int
}

// Capture starts replaying Frames on a new channel.
func (s *Source) Capture(ctx context.Context) (<-chan audio.AudioFrame, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.CaptureError != nil {
		return nil, s.CaptureError
	}
	ch := make(chan audio.AudioFrame, len(s.Frames))
	go func() {
		defer close(ch)
		for _, f := range s.Frames {
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
		}
		if s.Hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// CallCount returns how many times Capture was called.
func (s *Source) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var (
	_ audio.Sink   = (*Sink)(nil)
	_ audio.Source = (*Source)(nil)
)
