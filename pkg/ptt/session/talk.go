package session

import (
	"context"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/correlator"
	"github.com/MrWong99/pushtalk/pkg/ptt/pipeline"
	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// talk is the outgoing stream. Between StartTalking's reservation and the
// start_stream reply only the pointer exists; done is nil until it opens.
type talk struct {
	id     uint32
	out    *pipeline.Outbound
	cancel context.CancelFunc
	done   chan struct{}
}

// startTalk opens t and launches its goroutine. Loop only.
func (s *Session) startTalk(t *talk, id uint32, params codec.Params, enc codec.Encoder, frames <-chan audio.AudioFrame) {
	ctx, cancel := context.WithCancel(s.ctx)
	t.id = id
	t.out = pipeline.NewOutbound(id, params, enc)
	t.cancel = cancel
	t.done = make(chan struct{})
	s.group.Go(func() error {
		defer close(t.done)
		defer t.out.Close()
		s.runTalk(ctx, t, frames)
		return nil
	})
	s.cfg.Observer.StreamOpened("outbound")
	s.log.Info("session: talking", "stream_id", id)
	s.emit(Event{Kind: EventTalkStarted, StreamID: id})
}

// runTalk is the only producer of outgoing audio frames.
func (s *Session) runTalk(ctx context.Context, t *talk, frames <-chan audio.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				s.finishTalk(ctx, t)
				return
			}
			pkts, encErr := t.out.Write(f)
			for _, pkt := range pkts {
				if err := s.send(ctx, transport.Frame{Type: transport.Binary, Data: pkt}); err != nil {
					s.talkFailed(ctx, t, err)
					return
				}
			}
			if encErr != nil {
				s.talkFailed(ctx, t, encErr)
				return
			}
		}
	}
}

// finishTalk flushes the last partial packet once capture ended, sends
// stop_stream after it and then detaches the stream. The session stays
// Active until the server acknowledged the stop.
func (s *Session) finishTalk(ctx context.Context, t *talk) {
	pkt, err := t.out.Flush()
	if err == nil && pkt != nil {
		err = s.send(ctx, transport.Frame{Type: transport.Binary, Data: pkt})
	}
	if err == nil {
		err = s.stopStream(ctx, t)
	}
	if ctx.Err() != nil {
		return
	}
	s.post(ctx, func() { s.endTalk(t, err) })
}

// stopStream issues stop_stream for t and waits for the reply. Talk
// goroutine only.
func (s *Session) stopStream(ctx context.Context, t *talk) error {
	var (
		seq  uint32
		p    *correlator.Pending
		data []byte
	)
	if err := s.do(ctx, func() error {
		if s.talk != t {
			return ErrNotTalking
		}
		var err error
		seq, p, data, err = s.issue(wire.NewStopStream(t.id), 0)
		return err
	}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CommandTimeout)
	defer cancel()
	reply, err := s.exchange(ctx, wire.CmdStopStream, seq, p, data)
	if err == nil && !reply.Success {
		err = &CommandError{Command: wire.CmdStopStream, Seq: seq, Message: reply.Error}
	}
	return err
}

func (s *Session) talkFailed(ctx context.Context, t *talk, err error) {
	if ctx.Err() != nil {
		return
	}
	s.post(ctx, func() { s.endTalk(t, err) })
}

// endTalk detaches an open outgoing stream and returns to LoggedOn. Loop only.
func (s *Session) endTalk(t *talk, cause error) {
	if s.talk != t {
		return
	}
	s.talk = nil
	t.cancel()
	if s.cur == Active {
		_ = s.transition(LoggedOn)
	}
	s.cfg.Observer.StreamClosed("outbound")
	if cause != nil {
		s.log.Warn("session: outgoing stream failed", "stream_id", t.id, "err", cause)
		s.emit(Event{Kind: EventTalkFailed, StreamID: t.id, Err: cause})
		return
	}
	s.log.Info("session: stopped talking", "stream_id", t.id)
	s.emit(Event{Kind: EventTalkStopped, StreamID: t.id})
}

// release drops a reservation made by StartTalking that never opened.
func (s *Session) release(t *talk) {
	_ = s.do(context.Background(), func() error {
		if s.talk == t {
			s.talk = nil
		}
		return nil
	})
}
