// Package app wires a push-to-talk session to the local audio devices and the
// telemetry server.
//
// The App struct owns the full lifecycle: New builds the session and its
// supporting subsystems from config, Run connects and executes one [Task],
// and Shutdown releases everything New acquired.
//
// For testing, inject doubles via functional options (WithDialer, WithCodecs,
// WithSink, etc.). When an option is not provided, New uses the real
// implementation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pushtalk/internal/config"
	"github.com/MrWong99/pushtalk/internal/health"
	"github.com/MrWong99/pushtalk/internal/observe"
	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/MrWong99/pushtalk/pkg/ptt/codec"
	"github.com/MrWong99/pushtalk/pkg/ptt/session"
	"github.com/MrWong99/pushtalk/pkg/ptt/transport"
)

// Task is the work Run performs once the session is logged on. Run returns
// when the task returns; ctx is cancelled when the session dies or Run's own
// context is done.
type Task func(ctx context.Context, a *App) error

// App owns one session, the sink that plays its decoded audio and the
// optional telemetry server.
type App struct {
	cfg   *config.Config
	creds session.Credentials
	sess  *session.Session

	dial     transport.Dialer
	codecs   *codec.Registry
	sink     audio.Sink
	metrics  *observe.Metrics
	tracer   trace.Tracer
	gatherer prometheus.Gatherer
	onEvent  func(session.Event)

	watchPath string
	watchOpts []config.WatcherOption
	level     *slog.LevelVar

	handler http.Handler
	server  *http.Server

	// talkEnded receives EventTalkStopped and EventTalkFailed for Talk.
	talkEnded chan session.Event

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithDialer replaces the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(a *App) { a.dial = d }
}

// WithCodecs replaces the default codec registry.
func WithCodecs(r *codec.Registry) Option {
	return func(a *App) { a.codecs = r }
}

// WithSink plays decoded inbound audio on s. Without a sink the audio is
// discarded.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTracer replaces the global tracer used for command spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *App) { a.tracer = t }
}

// WithGatherer serves g on /metrics instead of the default Prometheus
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// WithEventHandler calls fn for every session event. The default logs them.
func WithEventHandler(fn func(session.Event)) Option {
	return func(a *App) { a.onEvent = fn }
}

// WithConfigWatch polls path and applies log level changes to level.
func WithConfigWatch(path string, level *slog.LevelVar, opts ...config.WatcherOption) Option {
	return func(a *App) {
		a.watchPath = path
		a.level = level
		a.watchOpts = opts
	}
}

// WithCloser registers fn to run during Shutdown, after the session closed.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App for creds from cfg. It does not connect.
func New(cfg *config.Config, creds session.Credentials, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		creds:     creds,
		talkEnded: make(chan session.Event, 4),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.tracer == nil {
		a.tracer = observe.Tracer()
	}
	if a.gatherer == nil {
		a.gatherer = prometheus.DefaultGatherer
	}
	if a.sink == nil {
		a.sink = audio.SinkFunc(discard)
	}
	if a.onEvent == nil {
		a.onEvent = logEvent
	}

	sc := cfg.SessionConfig(creds)
	sc.Dial = a.dial
	sc.Codecs = a.codecs
	sc.Observer = observe.NewSessionObserver(a.metrics)
	sc.Tracer = a.tracer
	sc.Logger = observe.Logger
	sess, err := session.New(sc)
	if err != nil {
		return nil, fmt.Errorf("app: new session: %w", err)
	}
	a.sess = sess
	a.handler = a.buildHandler()

	if addr := cfg.Telemetry.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if a.watchPath != "" {
		if err := a.initWatcher(); err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
	}
	return a, nil
}

func (a *App) buildHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	health.New(health.SessionChecker(a.sess)).Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// initWatcher applies live log level changes and warns about the rest.
func (a *App) initWatcher() error {
	w, err := config.NewWatcher(a.watchPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged && a.level != nil {
			a.level.Set(d.NewLogLevel.Slog())
			slog.Info("app: log level changed", "level", d.NewLogLevel)
		}
		if d.RequiresRestart() {
			slog.Warn("app: config changed, restart to apply", "path", a.watchPath)
		}
	}, a.watchOpts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		w.Stop()
		return nil
	})
	return nil
}

// Session returns the underlying session.
func (a *App) Session() *session.Session { return a.sess }

// Handler returns the telemetry handler serving /metrics, /healthz and
// /readyz.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects the session and executes task. Decoded audio is played on the
// sink and events go to the event handler while the task runs. When the task
// returns, the session dies or ctx is done, Run closes the session and
// returns the first error.
func (a *App) Run(ctx context.Context, task Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: telemetry listen: %w", err)
		}
		slog.Info("app: telemetry listening", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, stop := context.WithTimeout(context.Background(), a.cfg.Session.CloseTimeout)
			defer stop()
			if err := a.server.Shutdown(sctx); err != nil {
				slog.Warn("app: telemetry shutdown", "err", err)
			}
			return nil
		})
	}

	if err := a.sess.Connect(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return fmt.Errorf("app: connect: %w", err)
	}

	out := audio.ConvertStream(a.sess.Output(), a.cfg.Audio.OutputFormat())
	g.Go(func() error {
		err := a.sink.Play(gctx, out)
		// The converter must not block once the sink is gone.
		go audio.Drain(out)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("app: play: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for ev := range a.sess.Events() {
			a.dispatch(ev)
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-a.sess.Done():
			if err := a.sess.Err(); err != nil {
				return fmt.Errorf("app: session ended: %w", err)
			}
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	taskDone := make(chan struct{})
	g.Go(func() error {
		defer close(taskDone)
		defer cancel()
		if err := task(gctx, a); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// The task gets to finish its own shutdown handshake before the session
	// goes away.
	g.Go(func() error {
		<-gctx.Done()
		<-taskDone
		cctx, stop := context.WithTimeout(context.Background(), 2*a.cfg.Session.CloseTimeout)
		defer stop()
		if err := a.sess.Close(cctx); err != nil {
			return fmt.Errorf("app: close session: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (a *App) dispatch(ev session.Event) {
	switch ev.Kind {
	case session.EventTalkStopped, session.EventTalkFailed:
		select {
		case a.talkEnded <- ev:
		default:
		}
	}
	a.onEvent(ev)
}

// ─── Tasks ───────────────────────────────────────────────────────────────────

// Listen keeps the session open, playing inbound audio, until ctx is done.
func Listen() Task {
	return func(ctx context.Context, _ *App) error {
		<-ctx.Done()
		return nil
	}
}

// SendText sends one text message to the channel and returns.
func SendText(text string, opts ...session.SendOption) Task {
	return func(ctx context.Context, a *App) error {
		if err := a.sess.SendText(ctx, text, opts...); err != nil {
			return fmt.Errorf("app: send text: %w", err)
		}
		slog.Info("app: text message sent", "channel", a.sess.Channel())
		return nil
	}
}

// Talk streams audio captured from src until src ends, the server stops the
// stream or ctx is done. On ctx the stream is stopped explicitly.
func Talk(src audio.Source, opts ...session.SendOption) Task {
	return func(ctx context.Context, a *App) error {
		// Capture outlives ctx so a cancelled talk ends through StopTalking
		// rather than through the end of the frame channel.
		capCtx, stopCapture := context.WithCancel(context.WithoutCancel(ctx))
		defer stopCapture()
		frames, err := src.Capture(capCtx)
		if err != nil {
			return fmt.Errorf("app: capture: %w", err)
		}
		id, err := a.sess.StartTalking(ctx, frames, opts...)
		if err != nil {
			return fmt.Errorf("app: start talking: %w", err)
		}
		for {
			select {
			case ev := <-a.talkEnded:
				if ev.StreamID != id {
					continue
				}
				if ev.Kind == session.EventTalkFailed {
					return fmt.Errorf("app: talk: %w", ev.Err)
				}
				return nil
			case <-ctx.Done():
				return a.stopTalking()
			}
		}
	}
}

func (a *App) stopTalking() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Session.CommandTimeout)
	defer cancel()
	err := a.sess.StopTalking(ctx)
	if err != nil && !errors.Is(err, session.ErrNotTalking) && !errors.Is(err, session.ErrSessionClosed) {
		return fmt.Errorf("app: stop talking: %w", err)
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes the session, then runs the registered closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if err := a.sess.Close(ctx); err != nil {
			slog.Warn("app: session close error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func discard(_ context.Context, in <-chan audio.AudioFrame) error {
	audio.Drain(in)
	return nil
}

func logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventTextMessage:
		slog.Info("app: text message", "from", ev.From, "for", ev.For, "text", ev.Text)
	case session.EventStreamStarted:
		slog.Info("app: incoming stream", "stream_id", ev.StreamID, "from", ev.From)
	case session.EventStreamStopped:
		if ev.Err != nil {
			slog.Warn("app: incoming stream torn down", "stream_id", ev.StreamID, "err", ev.Err)
			return
		}
		slog.Info("app: incoming stream ended", "stream_id", ev.StreamID, "from", ev.From)
	case session.EventChannelStatus:
		slog.Info("app: channel status", "channel", ev.Channel, "status", ev.Text, "users_online", ev.UsersOnline)
	case session.EventOnlineStatus:
		slog.Info("app: online status", "user", ev.From, "online", ev.Online)
	case session.EventServerError:
		slog.Warn("app: server error", "err", ev.Err)
	case session.EventStateChanged, session.EventTalkStarted, session.EventTalkStopped, session.EventTalkFailed:
		slog.Debug("app: session event", "kind", ev.Kind, "state", ev.State, "stream_id", ev.StreamID)
	default:
		slog.Debug("app: unhandled server event", "name", ev.Name)
	}
}
