package session

import (
	"context"

	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/pipeline"
	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
	"github.com/MrWong99/pushtalk/pkg/ptt/wire"
)

// startReader launches the reader for conn. Loop only.
func (s *Session) startReader(conn transport.Conn) {
	in := pipeline.NewInbound(pipeline.InboundConfig{
		Output:           s.output,
		Codecs:           s.cfg.Codecs,
		FailureThreshold: s.cfg.FailureThreshold,
		ReorderTolerance: s.cfg.ReorderTolerance,
	})
	done := make(chan struct{})
	s.readerDone = done
	s.group.Go(func() error {
		defer close(done)
		defer s.disposeInbound(in)
		s.read(s.ctx, conn, in)
		return nil
	})
}

// read is the only consumer of conn. Each frame is classified and handled
// before the next is read. Audio data never leaves this goroutine; every
// other frame is forwarded to the loop.
func (s *Session) read(ctx context.Context, conn transport.Conn, in *pipeline.Inbound) {
	for f, err := range transport.Frames(ctx, conn) {
		if err != nil {
			if ctx.Err() == nil {
				s.notify(ctx, notice{kind: noticeLost, err: err})
			}
			return
		}

		m := wire.Classify(f)
		s.cfg.Observer.FrameReceived(m.Kind.String())

		n := notice{kind: noticeMessage, msg: m}
		switch m.Kind {
		case wire.KindUnknown:
			s.log.Debug("session: dropping unrecognised frame", "type", f.Type, "bytes", len(f.Data), "err", m.Err)
			continue

		case wire.KindAudioData:
			res := in.Handle(m.Audio)
			s.cfg.Observer.InboundPacket(res)
			if !res.TornDown {
				continue
			}
			n = notice{kind: noticeTornDown, streamID: m.Audio.StreamID, err: res.DecodeErr}

		case wire.KindAudioStart:
			n.info, n.err = startInbound(in, m.Start)

		case wire.KindAudioStop:
			n.info, n.tracked = in.Info(m.Stop.StreamID)
			in.Stop(m.Stop.StreamID)
		}

		if !s.notify(ctx, n) {
			return
		}
	}
}

func (s *Session) disposeInbound(in *pipeline.Inbound) {
	if ids := in.Streams(); len(ids) > 0 {
		s.log.Debug("session: disposing inbound streams", "stream_ids", ids)
	}
	in.Close()
}

func (s *Session) notify(ctx context.Context, n notice) bool {
	select {
	case s.inbox <- n:
		return true
	case <-ctx.Done():
		return false
	}
}

func startInbound(in *pipeline.Inbound, st wire.StreamStart) (pipeline.StreamInfo, error) {
	h, err := st.Header()
	if err != nil {
		return pipeline.StreamInfo{}, err
	}
	info := pipeline.StreamInfo{
		ID:      st.StreamID,
		Codec:   st.Codec,
		Params:  codec.ParamsFromHeader(h),
		Channel: st.Channel,
		From:    st.From,
	}
	if info.Codec == "" {
		info.Codec = wire.CodecOpus
	}
	return info, in.Start(info)
}
