// Package mock provides a scriptable [codec.Factory] for tests. Decoded PCM
// is the payload itself unless a DecodeFunc is set, so tests can inspect
// exactly which packets reached the output.
package mock

import (
	"errors"
	"sync"

	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
)

// ErrDecode is a convenience error for DecodeFunc implementations.
var ErrDecode = errors.New("mock: decode failed")

// Factory records every codec instance it creates.
type Factory struct {
	// CodecName defaults to "opus".
	CodecName string

	// DecodeFunc, when set, replaces the identity decode.
	DecodeFunc func(payload []byte) ([]byte, error)

	// EncodeFunc, when set, replaces the identity encode.
	EncodeFunc func(pcm []byte) ([]byte, error)

	// NewDecoderErr is returned by NewDecoder when non-nil.
	NewDecoderErr error

	// NewEncoderErr is returned by NewEncoder when non-nil.
	NewEncoderErr error

	mu       sync.Mutex
	decoders []*Decoder
	encoders []*Encoder
}

var _ codec.Factory = (*Factory)(nil)

func (f *Factory) Name() string {
	if f.CodecName == "" {
		return "opus"
	}
	return f.CodecName
}

func (f *Factory) NewDecoder(p codec.Params) (codec.Decoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewDecoderErr != nil {
		return nil, f.NewDecoderErr
	}
	d := &Decoder{Params: p, fn: f.DecodeFunc}
	f.decoders = append(f.decoders, d)
	return d, nil
}

func (f *Factory) NewEncoder(p codec.Params) (codec.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewEncoderErr != nil {
		return nil, f.NewEncoderErr
	}
	e := &Encoder{Params: p, fn: f.EncodeFunc}
	f.encoders = append(f.encoders, e)
	return e, nil
}

// Decoders returns every decoder created so far.
func (f *Factory) Decoders() []*Decoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Decoder, len(f.decoders))
	copy(out, f.decoders)
	return out
}

// Encoders returns every encoder created so far.
func (f *Factory) Encoders() []*Encoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Encoder, len(f.encoders))
	copy(out, f.encoders)
	return out
}

// OpenDecoders counts decoders not yet closed.
func (f *Factory) OpenDecoders() int {
	n := 0
	for _, d := range f.Decoders() {
		if !d.Closed() {
			n++
		}
	}
	return n
}

// Decoder is a recording decoder.
type Decoder struct {
	Params codec.Params

	fn     func([]byte) ([]byte, error)
	mu     sync.Mutex
	calls  int
	closed bool
}

func (d *Decoder) Decode(payload []byte) ([]byte, error) {
	d.mu.Lock()
	d.calls++
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("mock: decoder closed")
	}
	if d.fn != nil {
		return d.fn(payload)
	}
	return append([]byte(nil), payload...), nil
}

func (d *Decoder) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Calls returns the number of Decode calls.
func (d *Decoder) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Closed reports whether Close was called.
func (d *Decoder) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Encoder is a recording encoder.
type Encoder struct {
	Params codec.Params

	fn     func([]byte) ([]byte, error)
	mu     sync.Mutex
	inputs [][]byte
	closed bool
}

func (e *Encoder) Encode(pcm []byte) ([]byte, error) {
	e.mu.Lock()
	e.inputs = append(e.inputs, append([]byte(nil), pcm...))
	e.mu.Unlock()
	if e.fn != nil {
		return e.fn(pcm)
	}
	return append([]byte(nil), pcm...), nil
}

func (e *Encoder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Inputs returns copies of every PCM packet passed to Encode.
func (e *Encoder) Inputs() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.inputs...)
}

// Closed reports whether Close was called.
func (e *Encoder) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
