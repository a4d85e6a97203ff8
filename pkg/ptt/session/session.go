// Package session implements a push-to-talk client session: connection
// lifecycle, logon, command correlation, inbound frame routing and the two
// audio directions, all multiplexed over one transport connection.
//
// A Session runs a small set of goroutines:
//
//   - the state loop, the only goroutine that changes session state or
//     touches the command correlator; every other goroutine submits
//     requests to it
//   - the reader, the only consumer of the transport, which classifies
//     frames, owns the inbound stream arena and forwards everything else to
//     the loop in arrival order
//   - one talk goroutine per outgoing stream, the only producer of outgoing
//     audio frames
//
// Decoded inbound audio is published on [Session.Output], a bounded channel
// that drops the oldest frame instead of blocking the reader. Notifications
// are published on [Session.Events].
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/correlator"
	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// DefaultURL is the public Zello channel API endpoint.
const DefaultURL = "wss://zello.io/ws"

const tracerName = "github.com/MrWong99/pushtalk/pkg/ptt/session"

// Credentials identify the user and the channel to join.
type Credentials struct {
	Username string
	Password string
	Token    string
	Channel  string
}

// Validate reports every empty field.
func (c Credentials) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("session: username is required"))
	}
	if c.Password == "" {
		errs = append(errs, errors.New("session: password is required"))
	}
	if c.Token == "" {
		errs = append(errs, errors.New("session: token is required"))
	}
	if c.Channel == "" {
		errs = append(errs, errors.New("session: channel is required"))
	}
	return errors.Join(errs...)
}

// Config configures a [Session]. Zero values select the defaults noted on
// each field.
type Config struct {
	Credentials Credentials

	// URL of the server. Default [DefaultURL].
	URL string

	// Dial opens the transport. Default [transport.WebSocketDialer].
	Dial transport.Dialer

	// CommandTimeout bounds each command after logon. Default 5s.
	CommandTimeout time.Duration

	// LogonTimeout bounds the logon command. Default 10s.
	LogonTimeout time.Duration

	// CloseTimeout bounds the transport close handshake and task shutdown.
	// Default 2s.
	CloseTimeout time.Duration

	// EventBuffer is the capacity of the Events channel. Default 64.
	EventBuffer int

	// OutputCapacity is the capacity of the decoded PCM channel. Default 20.
	OutputCapacity int

	// Codecs resolves codec names. Default [codec.Default].
	Codecs *codec.Registry

	// Outbound is the format of outgoing streams. Default 16 kHz mono,
	// one 60 ms frame per packet.
	Outbound codec.Params

	// FailureThreshold is the number of consecutive decode failures that
	// tear an inbound stream down. Default 3.
	FailureThreshold int

	// ReorderTolerance is how far behind the expected packet id a packet is
	// still treated as late. Default 4.
	ReorderTolerance uint32

	// Observer receives instrumentation callbacks. Default no-op.
	Observer Observer

	// Tracer starts a span per command. Default the global OTel tracer.
	Tracer trace.Tracer

	// Logger returns the logger for records about the command traced in
	// ctx. Default returns [slog.Default].
	Logger func(ctx context.Context) *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Dial == nil {
		c.Dial = transport.WebSocketDialer()
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = 10 * time.Second
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = 2 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.OutputCapacity <= 0 {
		c.OutputCapacity = 20
	}
	if c.Codecs == nil {
		c.Codecs = codec.Default()
	}
	if c.Outbound == (codec.Params{}) {
		c.Outbound = codec.ParamsFromHeader(wire.DefaultCodecHeader())
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}
	if c.Logger == nil {
		c.Logger = func(context.Context) *slog.Logger { return slog.Default() }
	}
}

// Session is one logged-on connection to a channel. Create it with [New],
// then call [Session.Connect]. All methods are safe for concurrent use.
type Session struct {
	cfg      Config
	log      *slog.Logger
	outCodec codec.Factory

	corr   *correlator.Correlator
	output *audio.Queue
	events chan Event

	requests chan func()
	inbox    chan notice

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	startOnce sync.Once
	state     atomic.Int32
	done      chan struct{}

	// Owned by the state loop.
	cur        State
	conn       transport.Conn
	talk       *talk
	readerDone chan struct{}

	mu    sync.Mutex
	token string
	err   error
}

// New validates cfg and returns a Disconnected session.
func New(cfg Config) (*Session, error) {
	cfg.applyDefaults()
	errs := []error{cfg.Credentials.Validate()}
	if err := cfg.Outbound.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: outbound codec: %w", err))
	}
	f, err := cfg.Codecs.Lookup(wire.CodecOpus)
	if err != nil {
		errs = append(errs, fmt.Errorf("session: outbound codec: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:      cfg,
		log:      slog.With("channel", cfg.Credentials.Channel),
		outCodec: f,
		corr:     correlator.New(cfg.CommandTimeout),
		output:   audio.NewQueue(cfg.OutputCapacity),
		events:   make(chan Event, cfg.EventBuffer),
		requests: make(chan func()),
		inbox:    make(chan notice),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Events delivers notifications. It is closed once the session is Closed.
// Events are dropped, with a warning, when the channel is full.
func (s *Session) Events() <-chan Event { return s.events }

// Output delivers decoded inbound audio, tagged with its stream id. It is
// closed once the session is Closed.
func (s *Session) Output() <-chan audio.AudioFrame { return s.output.C() }

// Evicted returns how many decoded frames were dropped because Output was full.
func (s *Session) Evicted() uint64 { return s.output.Evicted() }

// Done is closed once the session is Closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal error that closed the session, or nil after a clean
// Close or while the session is open.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RefreshToken returns the token from the logon reply.
func (s *Session) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Channel returns the joined channel name.
func (s *Session) Channel() string { return s.cfg.Credentials.Channel }

// SendOption adjusts a text message or outgoing stream.
type SendOption func(*sendOptions)

type sendOptions struct {
	recipient string
}

// For addresses a single user in the channel instead of everyone.
func For(callsign string) SendOption {
	return func(o *sendOptions) { o.recipient = callsign }
}

func collect(opts []SendOption) sendOptions {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Connect dials the server and logs on. It returns once the session is
// LoggedOn. Any failure, including a rejected or timed out logon, leaves
// the session Closed and is also reported by [Session.Err].
func (s *Session) Connect(ctx context.Context) (err error) {
	ctx, span := s.cfg.Tracer.Start(ctx, "session.connect",
		trace.WithAttributes(attribute.String("ptt.channel", s.cfg.Credentials.Channel)))
	defer func() { endSpan(span, err) }()

	if err := s.do(ctx, func() error {
		if s.cur != Disconnected {
			return s.stateErr("connect")
		}
		return s.transition(Connecting)
	}); err != nil {
		return err
	}

	// From here on every failure is fatal.
	defer func() {
		if err != nil {
			s.fail(err)
		}
	}()

	s.logger(ctx).Info("session: connecting", "url", s.cfg.URL)
	conn, err := s.cfg.Dial(ctx, s.cfg.URL)
	if err != nil {
		var terr *transport.Error
		if !errors.As(err, &terr) {
			err = &transport.Error{Op: "dial", Err: err}
		}
		return fmt.Errorf("session: connect: %w", err)
	}

	var (
		adopted bool
		seq     uint32
		pending *correlator.Pending
		data    []byte
	)
	cmd := wire.NewLogon(wire.LogonParams{
		Username:  s.cfg.Credentials.Username,
		Password:  s.cfg.Credentials.Password,
		AuthToken: s.cfg.Credentials.Token,
		Channel:   s.cfg.Credentials.Channel,
	})
	err = s.do(ctx, func() error {
		if s.cur != Connecting {
			return ErrSessionClosed
		}
		s.conn = conn
		adopted = true
		if err := s.transition(Authenticating); err != nil {
			return err
		}
		s.startReader(conn)
		var err error
		seq, pending, data, err = s.issue(cmd, s.cfg.LogonTimeout)
		return err
	})
	if err != nil {
		if !adopted {
			conn.Close()
		}
		return err
	}

	reply, err := s.exchange(ctx, cmd.Name, seq, pending, data)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return fmt.Errorf("session: logon seq %d: %w: %w", seq, ErrTimeout, ErrSessionClosed)
		}
		return err
	}
	if !reply.Success {
		return &AuthError{Message: reply.Error}
	}

	if err := s.do(ctx, func() error {
		s.setToken(reply.RefreshToken)
		return s.transition(LoggedOn)
	}); err != nil {
		return err
	}
	s.logger(ctx).Info("session: logged on")
	return nil
}

// SendText sends a text message to the channel, or to one user with [For].
// A rejected message yields a [*CommandError]; a missing reply wraps
// [ErrTimeout]. Neither closes the session.
func (s *Session) SendText(ctx context.Context, text string, opts ...SendOption) error {
	o := collect(opts)
	cmd := wire.NewSendText(s.cfg.Credentials.Channel, text, o.recipient)
	_, _, err := s.command(ctx, func() (wire.Command, <-chan struct{}, error) {
		if err := s.requireLoggedIn("send text"); err != nil {
			return wire.Command{}, nil, err
		}
		return cmd, nil, nil
	})
	return err
}

// StartTalking opens the outgoing stream and starts sending audio read from
// frames until StopTalking, frames being closed, a remote stop, or a send
// failure. It returns the stream id. Only one outgoing stream may exist;
// a second call fails with [ErrStreamBusy].
//
// A send failure ends the stream, returns the session to LoggedOn and is
// reported as an [EventTalkFailed] event.
func (s *Session) StartTalking(ctx context.Context, frames <-chan audio.AudioFrame, opts ...SendOption) (uint32, error) {
	if frames == nil {
		return 0, errors.New("session: start talking: nil frame channel")
	}
	o := collect(opts)
	params := s.cfg.Outbound
	enc, err := s.outCodec.NewEncoder(params)
	if err != nil {
		return 0, fmt.Errorf("session: start talking: %w", err)
	}

	t := &talk{}
	cmd := wire.NewStartStream(s.cfg.Credentials.Channel, o.recipient, params.Header())
	reply, seq, err := s.command(ctx, func() (wire.Command, <-chan struct{}, error) {
		if err := s.requireLoggedIn("start talking"); err != nil {
			return wire.Command{}, nil, err
		}
		if s.talk != nil {
			return wire.Command{}, nil, ErrStreamBusy
		}
		s.talk = t
		return cmd, nil, nil
	})
	if err != nil {
		enc.Close()
		s.release(t)
		return 0, err
	}

	id := seq
	if reply.StreamID != nil {
		id = *reply.StreamID
	}
	err = s.do(context.Background(), func() error {
		if s.talk != t {
			return ErrSessionClosed
		}
		if err := s.transition(Active); err != nil {
			s.talk = nil
			return err
		}
		s.startTalk(t, id, params, enc, frames)
		return nil
	})
	if err != nil {
		enc.Close()
		return 0, err
	}
	return id, nil
}

// StopTalking ends the outgoing stream and returns the session to LoggedOn.
// Audio still buffered in the packetizer is discarded.
func (s *Session) StopTalking(ctx context.Context) error {
	_, _, err := s.command(ctx, func() (wire.Command, <-chan struct{}, error) {
		if s.cur.Ending() {
			return wire.Command{}, nil, ErrSessionClosed
		}
		t := s.talk
		if t == nil || t.done == nil {
			return wire.Command{}, nil, ErrNotTalking
		}
		s.endTalk(t, nil)
		// The talk goroutine must stop writing audio before stop_stream goes out.
		return wire.NewStopStream(t.id), t.done, nil
	})
	return err
}

// Close shuts the session down: waiting commands fail with
// [ErrSessionClosed], the transport is closed, all goroutines stop, every
// decoder is released and the Output and Events channels are closed.
// Close is idempotent.
func (s *Session) Close(ctx context.Context) error {
	err := s.do(ctx, func() error {
		s.shutdown(nil)
		return nil
	})
	if err != nil && !errors.Is(err, ErrSessionClosed) {
		return err
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.group.Wait()
}

func (s *Session) setToken(tok string) {
	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
