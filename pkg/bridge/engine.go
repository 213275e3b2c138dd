package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/frames"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/logging"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/metrics"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/redact"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/speech"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/transports"
)

// System frame names emitted by transports.
const (
	sysCallStart = "call_start"
	sysCallEnd   = "call_end"
)

// StreamFactory builds one speech stream per call. The meta map is the
// call_start frame's metadata (call SID, trace ID, pass-through params).
type StreamFactory func(streamID string, meta map[string]string) speech.Stream

// Engine routes frames from one transport to per-call sessions. Sessions
// are created on call_start and removed on call_end; everything in between
// is dispatched by stream ID.
type Engine struct {
	transport transports.Transport
	factory   StreamFactory
	observer  metrics.Observer
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewEngine(transport transports.Transport, factory StreamFactory, observer metrics.Observer, logger *slog.Logger) *Engine {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		transport: transport,
		factory:   factory,
		observer:  observer,
		logger:    logging.NewComponentLogger(logger, "bridge_engine"),
		sessions:  make(map[string]*Session),
	}
}

// Run starts the transport and dispatches its frames until the context is
// cancelled or the transport's receive channel closes.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.transport.Start(ctx); err != nil {
		return err
	}
	e.logger.Info("engine_started", slog.String("transport", e.transport.Name()))

	recv := e.transport.Recv()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return ctx.Err()
		case f, ok := <-recv:
			if !ok {
				e.shutdown()
				return nil
			}
			e.dispatch(ctx, f)
		}
	}
}

// SessionCount reports live sessions. Informational only.
func (e *Engine) SessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) dispatch(ctx context.Context, f frames.Frame) {
	streamID := f.Meta()[frames.MetaStreamID]
	if streamID == "" {
		frames.ReleaseAudioFrame(f)
		return
	}

	if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == sysCallStart {
		e.startSession(ctx, streamID, sf.Meta())
		return
	}

	e.mu.Lock()
	sess := e.sessions[streamID]
	e.mu.Unlock()
	if sess == nil {
		frames.ReleaseAudioFrame(f)
		e.logger.Debug("frame_for_unknown_stream",
			slog.String("stream_id", streamID),
			slog.String("kind", string(f.Kind())))
		return
	}

	sess.offer(f)

	if sf, ok := f.(frames.SystemFrame); ok && sf.Name() == sysCallEnd {
		e.endSession(streamID, sf.Meta()[frames.MetaCallEndReason])
	}
}

func (e *Engine) startSession(ctx context.Context, streamID string, meta map[string]string) {
	e.mu.Lock()
	if _, exists := e.sessions[streamID]; exists {
		e.mu.Unlock()
		e.logger.Warn("duplicate_call_start", slog.String("stream_id", streamID))
		return
	}
	sess := newSession(streamID, meta, e.transport, e.factory(streamID, meta), e.observer, e.logger)
	e.sessions[streamID] = sess
	e.mu.Unlock()

	sess.start(ctx)
	e.logger.Info("session_started",
		slog.String("stream_id", streamID),
		slog.String("call_sid", meta[frames.MetaCallSID]),
		slog.String("from", redact.Text(meta[frames.MetaFromNumber])),
		slog.Int("live_sessions", e.SessionCount()))
	e.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallStart,
		Time: time.Now(),
		Tags: map[string]string{frames.MetaStreamID: streamID},
	})
}

func (e *Engine) endSession(streamID, reason string) {
	e.mu.Lock()
	sess := e.sessions[streamID]
	delete(e.sessions, streamID)
	e.mu.Unlock()
	if sess == nil {
		return
	}
	// The call_end frame was offered on the inbound queue, but that
	// delivery is best-effort; the stop signal guarantees the session
	// exits and tears down even if the queue was full.
	sess.end()
	e.logger.Info("session_ended",
		slog.String("stream_id", streamID),
		slog.String("reason", reason),
		slog.Int("live_sessions", e.SessionCount()))
	e.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallEnd,
		Time: time.Now(),
		Tags: map[string]string{
			frames.MetaStreamID:      streamID,
			frames.MetaCallEndReason: reason,
		},
	})
}

func (e *Engine) shutdown() {
	if err := e.transport.Stop(); err != nil {
		e.logger.Warn("transport_stop", slog.String("error", err.Error()))
	}
	e.mu.Lock()
	live := make([]*Session, 0, len(e.sessions))
	for id, sess := range e.sessions {
		live = append(live, sess)
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	for _, sess := range live {
		sess.offer(frames.NewSystemFrame(sess.streamID, time.Now().UnixNano(), sysCallEnd, map[string]string{
			frames.MetaCallEndReason: "server_shutdown",
		}))
		sess.end()
	}
	for _, sess := range live {
		select {
		case <-sess.done:
		case <-time.After(2 * time.Second):
			e.logger.Warn("session_shutdown_timeout", slog.String("stream_id", sess.streamID))
		}
	}
	e.logger.Info("engine_stopped")
}
