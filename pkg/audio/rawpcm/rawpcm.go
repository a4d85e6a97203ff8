// Package rawpcm binds the [audio.Sink] and [audio.Source] contracts to plain
// byte streams carrying headerless signed 16-bit little-endian PCM.
//
// It stands in for a hardware device binding: pipe the sink into `aplay -f
// S16_LE -r 16000 -c 1` or feed the source from `arecord` or a .raw file.
package rawpcm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MrWong99/pushtalk/pkg/audio"
)

// Sink writes frames to an io.Writer after converting them to Format.
type Sink struct {
	w      io.Writer
	format audio.Format
}

// NewSink returns a Sink writing PCM in format to w. A zero format writes
// frames in whatever format they arrive.
func NewSink(w io.Writer, format audio.Format) *Sink {
	return &Sink{w: w, format: format}
}

// Play writes every frame received on in until in is closed or ctx is done.
// A write error ends playback and is returned.
func (s *Sink) Play(ctx context.Context, in <-chan audio.AudioFrame) error {
	var conv *audio.FormatConverter
	if s.format.SampleRate > 0 && s.format.Channels > 0 {
		conv = &audio.FormatConverter{Target: s.format}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-in:
			if !ok {
				return nil
			}
			if conv != nil {
				f = conv.Convert(f)
			}
			if len(f.Data) == 0 {
				continue
			}
			if _, err := s.w.Write(f.Data); err != nil {
				return fmt.Errorf("rawpcm: write: %w", err)
			}
		}
	}
}

// Source reads fixed-size frames from an io.Reader.
type Source struct {
	r        io.Reader
	format   audio.Format
	frameDur time.Duration
	paced    bool
	buffer   int
}

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithPacing makes the source emit one frame per frame duration instead of as
// fast as the reader delivers. Use it for files; live capture pipes are
// already paced by the device.
func WithPacing() SourceOption {
	return func(s *Source) { s.paced = true }
}

// WithBuffer sets the capacity of the capture channel. Default 8.
func WithBuffer(n int) SourceOption {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// NewSource returns a Source that reads PCM in format from r and slices it
// into frames of frameDur.
func NewSource(r io.Reader, format audio.Format, frameDur time.Duration, opts ...SourceOption) *Source {
	s := &Source{r: r, format: format, frameDur: frameDur, buffer: 8}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Capture starts the read loop. The returned channel is closed at end of
// input, on a read error, or when ctx is cancelled. A short final frame is
// zero-padded.
func (s *Source) Capture(ctx context.Context) (<-chan audio.AudioFrame, error) {
	size := s.format.FrameBytes(s.frameDur)
	if size <= 0 {
		return nil, fmt.Errorf("rawpcm: invalid capture format %s / %v", s.format, s.frameDur)
	}
	out := make(chan audio.AudioFrame, s.buffer)
	go func() {
		defer close(out)
		var tick <-chan time.Time
		if s.paced {
			t := time.NewTicker(s.frameDur)
			defer t.Stop()
			tick = t.C
		}
		var ts time.Duration
		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(s.r, buf)
			if n == 0 {
				if err != nil && !errors.Is(err, io.EOF) {
					slog.Warn("rawpcm: capture read failed", "err", err)
				}
				return
			}
			if tick != nil {
				select {
				case <-tick:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- audio.AudioFrame{
				Data:       buf,
				SampleRate: s.format.SampleRate,
				Channels:   s.format.Channels,
				Timestamp:  ts,
			}:
			case <-ctx.Done():
				return
			}
			ts += s.frameDur
			if err != nil {
				// ErrUnexpectedEOF: the padded tail was the last frame.
				return
			}
		}
	}()
	return out, nil
}

var (
	_ audio.Sink   = (*Sink)(nil)
	_ audio.Source = (*Source)(nil)
)
