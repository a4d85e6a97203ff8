package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pushtalk/pkg/ptt/correlator"
	"github.com/MrWong99/pushtalk/pkg/ptt/pipeline"
	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

type noticeKind int

const (
	noticeMessage noticeKind = iota
	noticeTornDown
	noticeLost
)

// notice is what the reader forwards to the loop, in frame arrival order.
type notice struct {
	kind noticeKind
	msg  wire.Message

	// info and err describe the inbound stream for KindAudioStart.
	info pipeline.StreamInfo
	err  error

	// tracked reports whether a stopped stream was known to the arena; info
	// then holds what it announced.
	tracked bool

	streamID uint32
}

func (s *Session) start() {
	s.group.Go(func() error {
		s.loop()
		return nil
	})
}

// loop owns cur, conn, talk and the correlator until the session is Closed.
func (s *Session) loop() {
	expiry := time.NewTimer(time.Hour)
	expiry.Stop()
	defer expiry.Stop()
	for s.cur != Closed {
		s.armExpiry(expiry)
		select {
		case fn := <-s.requests:
			fn()
		case n := <-s.inbox:
			s.route(n)
		case now := <-expiry.C:
			for _, seq := range s.corr.Expire(now) {
				s.log.Debug("session: command expired", "seq", seq)
			}
		}
	}
}

// armExpiry points t at the earliest outstanding deadline, or stops it when
// nothing is outstanding.
func (s *Session) armExpiry(t *time.Timer) {
	next, ok := s.corr.NextDeadline()
	if !ok {
		t.Stop()
		return
	}
	t.Reset(time.Until(next))
}

// do runs fn on the loop and returns its result. The loop is started on
// first use.
func (s *Session) do(ctx context.Context, fn func() error) error {
	s.startOnce.Do(s.start)
	errc := make(chan error, 1)
	select {
	case s.requests <- func() { errc <- fn() }:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// post queues fn for the loop without waiting for it to run.
func (s *Session) post(ctx context.Context, fn func()) bool {
	select {
	case s.requests <- fn:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// fail closes the session with cause and waits until it is Closed. It must
// not be called from the loop.
func (s *Session) fail(cause error) {
	s.post(context.Background(), func() { s.shutdown(cause) })
	<-s.done
}

func (s *Session) transition(to State) error {
	from := s.cur
	if !from.CanTransition(to) {
		return &StateError{Op: "transition to " + to.String(), State: from}
	}
	s.cur = to
	s.state.Store(int32(to))
	s.log.Debug("session: state changed", "from", from, "to", to)
	s.cfg.Observer.StateChanged(from, to)
	s.emit(Event{Kind: EventStateChanged, State: to})
	return nil
}

func (s *Session) stateErr(op string) error {
	if s.cur.Ending() {
		return ErrSessionClosed
	}
	return &StateError{Op: op, State: s.cur}
}

func (s *Session) requireLoggedIn(op string) error {
	if s.cur.LoggedIn() {
		return nil
	}
	return s.stateErr(op)
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("session: event channel full, dropping event", "kind", ev.Kind)
		s.cfg.Observer.EventDropped(ev.Kind)
	}
}

// issue registers cmd with the correlator and encodes it. Loop only.
func (s *Session) issue(cmd wire.Command, timeout time.Duration) (uint32, *correlator.Pending, []byte, error) {
	if timeout <= 0 {
		timeout = s.cfg.CommandTimeout
	}
	seq, p := s.corr.IssueWithTimeout(cmd.Name, timeout)
	data, err := cmd.Encode(seq)
	if err != nil {
		s.corr.Cancel(seq, err)
		return 0, nil, nil, err
	}
	return seq, p, data, nil
}

// command builds a command on the loop with prepare, then sends it and waits
// for the reply. If prepare returns a gate channel, the command is written
// only after the gate closes. A reply with success=false is a *CommandError.
func (s *Session) command(ctx context.Context, prepare func() (wire.Command, <-chan struct{}, error)) (wire.Reply, uint32, error) {
	var (
		name    string
		seq     uint32
		pending *correlator.Pending
		data    []byte
		gate    <-chan struct{}
	)
	err := s.do(ctx, func() error {
		cmd, g, err := prepare()
		if err != nil {
			return err
		}
		name, gate = cmd.Name, g
		seq, pending, data, err = s.issue(cmd, 0)
		return err
	})
	if err != nil {
		return wire.Reply{}, 0, err
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			s.abandon(seq, ctx.Err())
			return wire.Reply{}, seq, ctx.Err()
		}
	}

	reply, err := s.exchange(ctx, name, seq, pending, data)
	if err != nil {
		return reply, seq, err
	}
	if !reply.Success {
		return reply, seq, &CommandError{Command: name, Seq: seq, Message: reply.Error}
	}
	return reply, seq, nil
}

// exchange writes an issued command and waits for its reply. A failed write
// is a transport failure and closes the session.
func (s *Session) exchange(ctx context.Context, name string, seq uint32, p *correlator.Pending, data []byte) (reply wire.Reply, err error) {
	ctx, span := s.cfg.Tracer.Start(ctx, "session."+name, trace.WithAttributes(
		attribute.String("ptt.command", name),
		attribute.Int64("ptt.seq", int64(seq)),
	))
	start := time.Now()
	status := "error"
	defer func() {
		s.cfg.Observer.CommandCompleted(name, status, time.Since(start))
		endSpan(span, err)
	}()

	if err := s.send(ctx, transport.Frame{Type: transport.Text, Data: data}); err != nil {
		s.abandon(seq, err)
		if ctx.Err() == nil {
			s.logger(ctx).Error("session: command write failed", "command", name, "seq", seq, "err", err)
			// Not fail: the talk goroutine sends commands too, and shutdown
			// waits for it.
			s.post(s.ctx, func() { s.shutdown(err) })
		}
		return wire.Reply{}, fmt.Errorf("session: send %s: %w", name, err)
	}

	reply, err = p.Await(ctx)
	switch {
	case err == nil && reply.Success:
		status = "ok"
	case err == nil:
		status = "rejected"
		s.logger(ctx).Warn("session: command rejected", "command", name, "seq", seq, "error", reply.Error)
	case errors.Is(err, ErrTimeout):
		status = "timeout"
		s.logger(ctx).Warn("session: no reply before deadline", "command", name, "seq", seq)
		return reply, fmt.Errorf("session: %s seq %d: %w", name, seq, err)
	case ctx.Err() != nil:
		s.abandon(seq, err)
	}
	return reply, err
}

// abandon drops an outstanding command whose caller gave up. Once shutdown
// started the correlator is already drained.
func (s *Session) abandon(seq uint32, err error) {
	s.post(s.ctx, func() { s.corr.Cancel(seq, err) })
}

// send writes f and waits for the write until ctx is done. The write itself
// always runs on the session context: a WebSocket write whose context ends
// mid-message closes the connection, so a caller giving up must only stop
// waiting. An abandoned write still completes or fails with the connection.
func (s *Session) send(ctx context.Context, f transport.Frame) error {
	errc := make(chan error, 1)
	go func() {
		err := s.conn.Send(s.ctx, f)
		if err == nil {
			s.cfg.Observer.FrameSent(f.Type.String())
		}
		errc <- err
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// logger returns the session logger for records tied to ctx.
func (s *Session) logger(ctx context.Context) *slog.Logger {
	return s.cfg.Logger(ctx).With("channel", s.cfg.Credentials.Channel)
}

// route applies one reader notice. Loop only.
func (s *Session) route(n notice) {
	switch n.kind {
	case noticeLost:
		s.shutdown(n.err)
	case noticeTornDown:
		s.cfg.Observer.StreamClosed("inbound")
		s.emit(Event{Kind: EventStreamStopped, StreamID: n.streamID, Err: n.err})
	case noticeMessage:
		s.routeMessage(n)
	}
}

func (s *Session) routeMessage(n notice) {
	m := n.msg
	switch m.Kind {
	case wire.KindReply:
		if !s.corr.Resolve(m.Reply) {
			s.log.Debug("session: discarded reply with no outstanding command", "seq", m.Reply.Seq)
		}

	case wire.KindEvent:
		ev, err := eventFromWire(m.Event)
		if err != nil {
			s.log.Warn("session: malformed event", "command", m.Event.Name, "err", err)
		}
		s.emit(ev)

	case wire.KindAudioStart:
		if n.err != nil {
			s.log.Warn("session: cannot receive stream", "stream_id", m.Start.StreamID, "from", m.Start.From, "err", n.err)
			return
		}
		s.log.Info("session: stream started", "stream_id", n.info.ID, "from", n.info.From)
		s.cfg.Observer.StreamOpened("inbound")
		h, _ := m.Start.Header()
		s.emit(Event{
			Kind:     EventStreamStarted,
			StreamID: n.info.ID,
			Channel:  m.Start.Channel,
			From:     m.Start.From,
			For:      m.Start.For,
			Codec:    h,
			Name:     m.Event.Name,
			Raw:      m.Event.Raw,
		})

	case wire.KindAudioStop:
		id := m.Stop.StreamID
		if t := s.talk; t != nil && t.done != nil && t.id == id {
			s.log.Info("session: server stopped outgoing stream", "stream_id", id)
			s.endTalk(t, nil)
		}
		if n.tracked {
			s.log.Info("session: stream stopped", "stream_id", id, "from", n.info.From)
			s.cfg.Observer.StreamClosed("inbound")
			s.emit(Event{
				Kind:     EventStreamStopped,
				StreamID: id,
				Channel:  n.info.Channel,
				From:     n.info.From,
				Name:     m.Event.Name,
				Raw:      m.Event.Raw,
			})
		}
	}
}

// shutdown moves through Closing to Closed. Loop only.
func (s *Session) shutdown(cause error) {
	if s.cur.Ending() {
		return
	}
	if cause != nil {
		s.log.Error("session: closing after fatal error", "err", cause)
	} else {
		s.log.Info("session: closing")
	}
	_ = s.transition(Closing)

	closedErr := ErrSessionClosed
	if cause != nil {
		closedErr = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	if n := s.corr.CloseAll(closedErr); n > 0 {
		s.log.Debug("session: released waiting commands", "count", n)
	}

	var talkDone chan struct{}
	if t := s.talk; t != nil {
		s.talk = nil
		if t.cancel != nil {
			t.cancel()
			talkDone = t.done
			s.cfg.Observer.StreamClosed("outbound")
		}
	}
	s.cancel()

	if s.conn != nil {
		s.closeConn()
	}

	timer := time.NewTimer(s.cfg.CloseTimeout)
	defer timer.Stop()
	for _, ch := range []chan struct{}{s.readerDone, talkDone} {
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-timer.C:
			s.log.Warn("session: task did not stop before close timeout")
		}
	}

	s.output.Close()
	s.setErr(cause)
	_ = s.transition(Closed)
	close(s.events)
	close(s.done)
}

func (s *Session) closeConn() {
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		if err := s.conn.Close(); err != nil {
			s.log.Debug("session: transport close", "err", err)
		}
	}()
	select {
	case <-closed:
	case <-time.After(s.cfg.CloseTimeout):
		s.log.Warn("session: transport close timed out")
	}
}
