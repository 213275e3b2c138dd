package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/audio"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/errorsx"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/frames"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/metrics"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/pacer"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/speech"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/transports"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/vad"
)

// Session bridges one call. It owns the transcoder, commit tracker, pacer
// and speech stream for that call, and runs a single goroutine that
// multiplexes inbound telephony frames with speech endpoint events, so none
// of those components need locking.
type Session struct {
	streamID string
	callSID  string
	traceID  string

	transport transports.Transport
	stream    speech.Stream
	coder     *audio.Transcoder
	tracker   *vad.Tracker
	pace      *pacer.Pacer
	observer  metrics.Observer
	logger    *slog.Logger

	inbound chan frames.Frame
	stop    chan struct{}
	endOnce sync.Once
	done    chan struct{}

	outSeq     int64
	dropLogged bool
}

func newSession(streamID string, meta map[string]string, transport transports.Transport, stream speech.Stream, observer metrics.Observer, logger *slog.Logger) *Session {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	s := &Session{
		streamID:  streamID,
		callSID:   meta[frames.MetaCallSID],
		traceID:   meta[frames.MetaTraceID],
		transport: transport,
		stream:    stream,
		coder:     audio.NewTranscoder(),
		tracker:   vad.NewTracker(),
		pace:      pacer.New(),
		observer:  observer,
		inbound:   make(chan frames.Frame, 128),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.logger = logger.With(
		slog.String("stream_id", streamID),
		slog.String("call_sid", s.callSID),
		slog.String("trace_id", s.traceID),
	)
	return s
}

func (s *Session) start(ctx context.Context) {
	go s.run(ctx)
}

// end signals the session to exit. It bypasses the inbound queue so a
// full buffer can never swallow the call's terminal event; teardown still
// runs even when the session is wedged behind a slow speech send.
func (s *Session) end() {
	s.endOnce.Do(func() { close(s.stop) })
}

// offer hands an inbound telephony frame to the session goroutine. Frames
// are dropped rather than blocking the transport's receive loop.
func (s *Session) offer(f frames.Frame) {
	select {
	case s.inbound <- f:
	case <-s.done:
		frames.ReleaseAudioFrame(f)
	default:
		frames.ReleaseAudioFrame(f)
		s.record(metrics.EventFrameDrop, 1, map[string]string{"stage": "session_inbound"})
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.teardown()

	// The dial happens here rather than in the engine's dispatch loop so a
	// slow endpoint stalls only this call. Frames arriving meanwhile queue
	// in the inbound buffer; the media handler drops audio until the
	// connection reports open.
	if err := s.stream.Start(ctx); err != nil {
		s.logger.Error("speech_start_failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	}

	events := s.stream.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case f := <-s.inbound:
			if s.handleFrame(f) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Connection reader exited; stop selecting on the closed
				// channel but keep relaying telephony frames until the
				// call itself ends.
				events = nil
				continue
			}
			s.handleSpeechEvent(ev)
		}
	}
}

// handleFrame processes one telephony frame. Returns true when the call is
// over and the session goroutine should exit.
func (s *Session) handleFrame(f frames.Frame) bool {
	switch fr := f.(type) {
	case frames.AudioFrame:
		s.handleMedia(fr)
	case *frames.AudioFrame:
		s.handleMedia(*fr)
	case frames.SystemFrame:
		if fr.Name() == sysCallEnd {
			s.logger.Info("call_ended", slog.String("reason", fr.Meta()[frames.MetaCallEndReason]))
			return true
		}
	}
	return false
}

func (s *Session) handleMedia(af frames.AudioFrame) {
	pcm := s.coder.ToSpeech(af.RawPayload())
	frames.ReleaseAudioFrame(af)
	s.record(metrics.EventAudioIn, float64(len(pcm)), nil)

	if s.stream.Opened() {
		s.dropLogged = false
		if err := s.stream.SendAudio(pcm); err != nil {
			s.logger.Warn("speech_send_failed",
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
		} else if s.tracker.AudioAppended(len(pcm)) {
			s.commit()
		}
	} else {
		if !s.dropLogged {
			s.dropLogged = true
			s.logger.Warn("audio_dropped_downstream_not_open",
				slog.String("reason_code", string(errorsx.ReasonDownstreamUnavailable)))
		}
		s.record(metrics.EventFrameDrop, 1, map[string]string{"stage": "speech_send"})
	}

	// One inbound frame funds one outbound frame, so playback cannot
	// outpace the caller's own cadence.
	if err := s.pace.Drain(1, pacer.DefaultFrameSize, s.deliver); err != nil {
		s.logger.Warn("playback_delivery_failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	}
}

func (s *Session) commit() {
	if err := s.stream.Commit(); err != nil {
		s.logger.Warn("commit_failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
		return
	}
	s.record(metrics.EventCommit, 1, nil)
}

func (s *Session) handleSpeechEvent(ev speech.Event) {
	switch ev.Type {
	case speech.EventSpeechStarted:
		s.tracker.SpeechStarted()
		s.bargeIn()
	case speech.EventSpeechStopped:
		s.tracker.SpeechStopped()
	case speech.EventCommitted:
		s.tracker.Committed()
	case speech.EventAudioDelta:
		tel, err := s.coder.ToTelephony(ev.Audio)
		if err != nil {
			if errors.Is(err, audio.ErrMalformedAudio) {
				s.logger.Warn("synth_audio_dropped",
					slog.String("reason_code", string(errorsx.ReasonAudioMalformed)),
					slog.String("error", err.Error()))
				s.record(metrics.EventFrameDrop, 1, map[string]string{"stage": "synth_decode"})
				return
			}
			s.logger.Error("synth_transcode_failed", slog.String("error", err.Error()))
			return
		}
		s.pace.Enqueue(tel)
	case speech.EventError:
		s.logger.Warn("speech_endpoint_error", slog.String("error", ev.Err.Error()))
	case speech.EventClosed:
		if ev.Err != nil {
			s.logger.Warn("speech_connection_closed", slog.String("error", ev.Err.Error()))
		}
	}
}

// bargeIn discards queued playback and asks the telephony side to flush,
// so the caller does not keep hearing a reply they are already talking
// over.
func (s *Session) bargeIn() {
	discarded := s.pace.QueuedBytes()
	s.pace.Discard()
	cf := frames.NewControlFrame(s.streamID, time.Now().UnixNano(), frames.ControlClear, nil)
	if err := s.transport.Send(cf); err != nil {
		s.logger.Warn("clear_send_failed",
			slog.String("reason_code", string(errorsx.Reason(err))),
			slog.String("error", err.Error()))
	}
	if discarded > 0 {
		s.logger.Debug("playback_discarded", slog.Int("bytes", discarded))
	}
}

func (s *Session) deliver(frame []byte) error {
	s.outSeq++
	af := frames.NewAudioFrame(s.streamID, s.outSeq, frame, audio.TelephonyRate, 1, map[string]string{
		frames.MetaSource:   "speech",
		frames.MetaEncoding: "mulaw",
	})
	if err := s.transport.Send(af); err != nil {
		return err
	}
	s.record(metrics.EventAudioOut, float64(len(frame)), nil)
	return nil
}

func (s *Session) teardown() {
	s.pace.Discard()
	if err := s.stream.Close(); err != nil {
		s.logger.Debug("speech_close", slog.String("error", err.Error()))
	}
	// Frames still queued at exit go back to the pool.
	for {
		select {
		case f := <-s.inbound:
			frames.ReleaseAudioFrame(f)
		default:
			return
		}
	}
}

func (s *Session) record(name string, value float64, tags map[string]string) {
	merged := map[string]string{frames.MetaStreamID: s.streamID}
	for k, v := range tags {
		merged[k] = v
	}
	s.observer.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: value,
		Tags:  merged,
	})
}
