// Package mock provides an in-memory [transport.Conn] for tests. The test
// plays the server: it injects frames that the client will Read and inspects
// frames the client Sent.
//
//	conn := mock.New()
//	sess := session.New(session.Config{Dial: conn.Dialer(), ...})
//	go func() {
//	    f := <-conn.Sent()          // logon command
//	    conn.InjectText(`{"seq":1,"success":true}`)
//	}()
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
)

// Conn is an in-memory transport connection. It is safe for concurrent use.
type Conn struct {
	in     chan transport.Frame
	out    chan transport.Frame
	lost   chan struct{}
	closed chan struct{}

	mu        sync.Mutex
	sendErr   error
	lostErr   error
	lostOnce  sync.Once
	closeOnce sync.Once
	closes    int
	dialErr   error
	dialURL   string
}

var _ transport.Conn = (*Conn)(nil)

// New returns an open Conn with generous buffers.
func New() *Conn {
	return &Conn{
		in:     make(chan transport.Frame, 256),
		out:    make(chan transport.Frame, 256),
		lost:   make(chan struct{}),
		closed: make(chan struct{}),
	}
}

// Dialer returns a [transport.Dialer] that hands out c.
func (c *Conn) Dialer() transport.Dialer {
	return func(_ context.Context, url string) (transport.Conn, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.dialURL = url
		if c.dialErr != nil {
			return nil, &transport.Error{Op: "dial", Err: c.dialErr}
		}
		return c, nil
	}
}

// FailDial makes the next Dialer call fail with err.
func (c *Conn) FailDial(err error) {
	c.mu.Lock()
	c.dialErr = err
	c.mu.Unlock()
}

// DialURL returns the URL passed to the Dialer.
func (c *Conn) DialURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialURL
}

// Send records f, or fails if FailSends was called.
func (c *Conn) Send(ctx context.Context, f transport.Frame) error {
	c.mu.Lock()
	err := c.sendErr
	c.mu.Unlock()
	if err != nil {
		return &transport.Error{Op: "write", Err: err}
	}
	select {
	case <-c.closed:
		return &transport.Error{Op: "write", Err: transport.ErrClosed}
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-ctx.Done():
		return &transport.Error{Op: "write", Err: ctx.Err()}
	case <-c.closed:
		return &transport.Error{Op: "write", Err: transport.ErrClosed}
	}
}

// Read returns the next injected frame.
func (c *Conn) Read(ctx context.Context) (transport.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.lost:
		c.mu.Lock()
		err := c.lostErr
		c.mu.Unlock()
		return transport.Frame{}, &transport.Error{Op: "read", Err: err}
	case <-c.closed:
		return transport.Frame{}, &transport.Error{Op: "read", Err: transport.ErrClosed}
	case <-ctx.Done():
		return transport.Frame{}, &transport.Error{Op: "read", Err: ctx.Err()}
	}
}

// Close marks the connection closed. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// ── server side ──────────────────────────────────────────────────────────────

// Inject queues f for the client's Read.
func (c *Conn) Inject(f transport.Frame) { c.in <- f }

// InjectText queues a text frame.
func (c *Conn) InjectText(s string) { c.Inject(transport.TextFrame(s)) }

// InjectBinary queues a binary frame.
func (c *Conn) InjectBinary(b []byte) { c.Inject(transport.Frame{Type: transport.Binary, Data: b}) }

// Sent delivers every frame the client sent, in order.
func (c *Conn) Sent() <-chan transport.Frame { return c.out }

// FailSends makes every subsequent Send fail with err. Pass nil to heal.
func (c *Conn) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Drop simulates losing the connection: pending and future Reads fail with err.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = errors.New("connection reset by peer")
	}
	c.lostOnce.Do(func() {
		c.mu.Lock()
		c.lostErr = err
		c.mu.Unlock()
		close(c.lost)
	})
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
