package codec_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

func TestParams(t *testing.T) {
	t.Parallel()
	p := codec.ParamsFromHeader(wire.DefaultCodecHeader())
	want := codec.Params{SampleRate: 16000, Channels: 1, FrameSizeMs: 60, FramesPerPacket: 1}
	if p != want {
		t.Fatalf("ParamsFromHeader = %+v, want %+v", p, want)
	}
	if got := p.FrameSamples(); got != 960 {
		t.Errorf("FrameSamples = %d, want 960", got)
	}
	if got := p.PacketBytes(); got != 1920 {
		t.Errorf("PacketBytes = %d, want 1920", got)
	}
	if got := p.PacketDuration(); got != 60*time.Millisecond {
		t.Errorf("PacketDuration = %v", got)
	}
	if p.Header() != wire.DefaultCodecHeader() {
		t.Errorf("Header = %v", p.Header())
	}
}

func TestParams_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		p       codec.Params
		wantErr bool
	}{
		{"default", codec.Params{SampleRate: 16000, Channels: 1, FrameSizeMs: 60, FramesPerPacket: 1}, false},
		{"48k stereo 20ms", codec.Params{SampleRate: 48000, Channels: 2, FrameSizeMs: 20, FramesPerPacket: 2}, false},
		{"bad rate", codec.Params{SampleRate: 44100, Channels: 1, FrameSizeMs: 20, FramesPerPacket: 1}, true},
		{"bad channels", codec.Params{SampleRate: 16000, Channels: 3, FrameSizeMs: 20, FramesPerPacket: 1}, true},
		{"bad frame", codec.Params{SampleRate: 16000, Channels: 1, FrameSizeMs: 30, FramesPerPacket: 1}, true},
		{"zero frames", codec.Params{SampleRate: 16000, Channels: 1, FrameSizeMs: 20}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := tt.p.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func sine(samples int) []byte {
	b := make([]byte, samples*2)
	for i := range samples {
		s := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func TestOpus_EncodeDecode(t *testing.T) {
	t.Parallel()
	p := codec.Params{SampleRate: 16000, Channels: 1, FrameSizeMs: 20, FramesPerPacket: 1}
	f := codec.Opus()

	enc, err := f.NewEncoder(p)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	defer enc.Close()
	dec, err := f.NewDecoder(p)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	defer dec.Close()

	for i := range 5 {
		payload, err := enc.Encode(sine(p.PacketSamples()))
		if err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
		if len(payload) == 0 {
			t.Fatalf("Encode %d: empty payload", i)
		}
		pcm, err := dec.Decode(payload)
		if err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if len(pcm) != p.PacketBytes() {
			t.Errorf("Decode %d: %d bytes, want %d", i, len(pcm), p.PacketBytes())
		}
	}

	if _, err := enc.Encode(make([]byte, 10)); err == nil {
		t.Error("Encode with short pcm: expected error")
	}
}

func TestOpus_RejectsInvalidParams(t *testing.T) {
	t.Parallel()
	bad := codec.Params{SampleRate: 44100, Channels: 1, FrameSizeMs: 20, FramesPerPacket: 1}
	if _, err := codec.Opus().NewDecoder(bad); err == nil {
		t.Error("NewDecoder: expected error")
	}
	multi := codec.Params{SampleRate: 16000, Channels: 1, FrameSizeMs: 20, FramesPerPacket: 3}
	if _, err := codec.Opus().NewEncoder(multi); err == nil {
		t.Error("NewEncoder with 3 frames per packet: expected error")
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	f, err := codec.Lookup("opus")
	if err != nil {
		t.Fatalf("Lookup(opus): %v", err)
	}
	if f.Name() != "opus" {
		t.Errorf("Name = %q", f.Name())
	}
	if _, err := codec.Lookup("speex"); !errors.Is(err, codec.ErrNotRegistered) {
		t.Errorf("Lookup(speex) err = %v, want ErrNotRegistered", err)
	}

	r := codec.NewRegistry()
	if len(r.Names()) != 0 {
		t.Errorf("empty registry Names = %v", r.Names())
	}
	r.Register(codec.Opus())
	if names := r.Names(); len(names) != 1 || names[0] != "opus" {
		t.Errorf("Names = %v", names)
	}
}
