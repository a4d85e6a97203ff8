// Package transport provides the persistent, ordered, message-oriented
// connection a push-to-talk session runs over. Frames are either text (JSON
// control) or binary (audio). The WebSocket implementation is backed by
// github.com/coder/websocket.
//
// Every failure (I/O, protocol close, TLS, dial) is reported as a single
// [*Error] kind; the session decides whether it is fatal.
package transport

import (
	"context"
	"errors"
	"iter"
)

// FrameType tags a frame as text or binary.
type FrameType int

const (
	// Text frames carry UTF-8 JSON control messages.
	Text FrameType = iota + 1

	// Binary frames carry audio packets.
	Binary
)

// String returns "text", "binary" or "unknown".
func (t FrameType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return "unknown"
	}
}

// Frame is one transport message.
type Frame struct {
	Type FrameType
	Data []byte
}

// TextFrame is shorthand for a text frame holding s.
func TextFrame(s string) Frame { return Frame{Type: Text, Data: []byte(s)} }

// ErrClosed is wrapped by [Error] when the connection was closed locally.
var ErrClosed = errors.New("connection closed")

// Error is the single transport failure kind.
type Error struct {
	// Op is the failed operation: "dial", "read", "write" or "close".
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Conn is an open connection. Send may be called concurrently with Read and
// with other Sends. Read must only be called by one goroutine at a time.
// Frames are delivered in the order the peer sent them.
type Conn interface {
	Send(ctx context.Context, f Frame) error
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer opens a Conn to url.
type Dialer func(ctx context.Context, url string) (Conn, error)

// Frames returns a lazy sequence over frames read from c. Iteration ends
// after the first error, which is yielded once with a zero Frame. Breaking
// out of the loop leaves c open, so a new Frames call resumes where the last
// one stopped.
func Frames(ctx context.Context, c Conn) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := c.Read(ctx)
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}
