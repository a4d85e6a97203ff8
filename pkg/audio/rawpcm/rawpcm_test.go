package rawpcm_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/audio/rawpcm"
)

func TestSink_WritesConvertedPCM(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := rawpcm.NewSink(&buf, audio.Format{SampleRate: 16000, Channels: 2})

	in := make(chan audio.AudioFrame, 2)
	in <- audio.AudioFrame{Data: []byte{1, 0, 2, 0}, SampleRate: 16000, Channels: 1}
	in <- audio.AudioFrame{Data: nil, SampleRate: 16000, Channels: 1}
	close(in)

	if err := sink.Play(context.Background(), in); err != nil {
		t.Fatalf("Play: %v", err)
	}
	want := []byte{1, 0, 1, 0, 2, 0, 2, 0}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wrote %v, want %v", buf.Bytes(), want)
	}
}

func TestSink_StopsOnContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- rawpcm.NewSink(&bytes.Buffer{}, audio.Format{}).Play(ctx, make(chan audio.AudioFrame))
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Play: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Play did not return after cancel")
	}
}

func TestSource_SlicesAndPadsFrames(t *testing.T) {
	t.Parallel()
	format := audio.Format{SampleRate: 1000, Channels: 1}
	// 10ms at 1kHz mono = 10 samples = 20 bytes per frame; 50 bytes = 2.5 frames.
	src := rawpcm.NewSource(bytes.NewReader(make([]byte, 50)), format, 10*time.Millisecond)

	ch, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	var frames []audio.AudioFrame
	for f := range ch {
		frames = append(frames, f)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if len(f.Data) != 20 {
			t.Errorf("frame %d: %d bytes, want 20", i, len(f.Data))
		}
	}
	if frames[2].Timestamp != 20*time.Millisecond {
		t.Errorf("frame 2 timestamp = %v, want 20ms", frames[2].Timestamp)
	}
}

func TestSource_InvalidFormat(t *testing.T) {
	t.Parallel()
	src := rawpcm.NewSource(bytes.NewReader(nil), audio.Format{}, 20*time.Millisecond)
	if _, err := src.Capture(context.Background()); err == nil {
		t.Fatal("expected error for zero format")
	}
}
