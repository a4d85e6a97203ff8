package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const defaultReadLimit = 1 << 20

// Option configures [Dial].
type Option func(*dialConfig)

type dialConfig struct {
	header    http.Header
	client    *http.Client
	readLimit int64
	keepAlive time.Duration
}

// WithHeader adds HTTP headers to the opening handshake.
func WithHeader(h http.Header) Option {
	return func(c *dialConfig) { c.header = h }
}

// WithHTTPClient overrides the HTTP client used for the handshake.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *dialConfig) { c.client = hc }
}

// WithReadLimit caps the size of a single inbound message. Default 1 MiB.
func WithReadLimit(n int64) Option {
	return func(c *dialConfig) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithKeepAlive pings the server every interval while the connection is open.
// Pongs are only processed while some goroutine is inside Read.
func WithKeepAlive(interval time.Duration) Option {
	return func(c *dialConfig) { c.keepAlive = interval }
}

// WSConn is a [Conn] over a WebSocket.
type WSConn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ Conn = (*WSConn)(nil)

// Dial opens a WebSocket connection to url.
func Dial(ctx context.Context, url string, opts ...Option) (*WSConn, error) {
	cfg := dialConfig{readLimit: defaultReadLimit}
	for _, o := range opts {
		o(&cfg)
	}

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: cfg.header,
		HTTPClient: cfg.client,
	})
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	ws.SetReadLimit(cfg.readLimit)

	c := &WSConn{ws: ws, done: make(chan struct{})}
	if cfg.keepAlive > 0 {
		go c.keepAlive(cfg.keepAlive)
	}
	return c, nil
}

// WebSocketDialer returns a [Dialer] that calls [Dial] with opts.
func WebSocketDialer(opts ...Option) Dialer {
	return func(ctx context.Context, url string) (Conn, error) {
		return Dial(ctx, url, opts...)
	}
}

// Send writes f as a single WebSocket message.
func (c *WSConn) Send(ctx context.Context, f Frame) error {
	var typ websocket.MessageType
	switch f.Type {
	case Text:
		typ = websocket.MessageText
	case Binary:
		typ = websocket.MessageBinary
	default:
		return &Error{Op: "write", Err: fmt.Errorf("invalid frame type %d", f.Type)}
	}
	if err := c.ws.Write(ctx, typ, f.Data); err != nil {
		return &Error{Op: "write", Err: c.mapErr(err)}
	}
	return nil
}

// Read blocks for the next message. Cancelling ctx closes the connection.
func (c *WSConn) Read(ctx context.Context) (Frame, error) {
	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return Frame{}, &Error{Op: "read", Err: c.mapErr(err)}
	}
	switch typ {
	case websocket.MessageText:
		return Frame{Type: Text, Data: data}, nil
	case websocket.MessageBinary:
		return Frame{Type: Binary, Data: data}, nil
	default:
		return Frame{Type: FrameType(0), Data: data}, nil
	}
}

// Close performs the WebSocket close handshake. It is safe to call more than
// once; later calls return the first result.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		err := c.ws.Close(websocket.StatusNormalClosure, "session closed")
		if err != nil && !isCloseErr(err) {
			c.closeErr = &Error{Op: "close", Err: err}
		}
	})
	return c.closeErr
}

func (c *WSConn) keepAlive(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := c.ws.Ping(ctx)
			cancel()
			if err != nil {
				slog.Debug("transport: keepalive ping failed", "err", err)
				return
			}
		}
	}
}

// mapErr replaces errors produced after a local Close with ErrClosed so
// callers can tell a shutdown from a network failure.
func (c *WSConn) mapErr(err error) error {
	select {
	case <-c.done:
		return fmt.Errorf("%w: %w", ErrClosed, err)
	default:
		return err
	}
}

func isCloseErr(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	s := websocket.CloseStatus(err)
	return s == websocket.StatusNormalClosure || s == websocket.StatusGoingAway
}
