package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/metrics"
)

// LatencyObserver measures response latency per call: the gap between an
// utterance commit and the first synthesized frame played back to the
// caller. Wire it ahead of any sampling observer; it needs every commit
// and audio_out event to pair them up.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]*turnTimer
	log   *slog.Logger
}

type turnTimer struct {
	committedAt time.Time
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]*turnTimer),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	streamID := ""
	if ev.Tags != nil {
		streamID = ev.Tags["stream_id"]
	}
	if streamID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventCommit:
		t := o.turns[streamID]
		if t == nil {
			t = &turnTimer{}
			o.turns[streamID] = t
		}
		// A commit while the previous turn never played back restarts
		// the clock.
		t.committedAt = ev.Time
	case metrics.EventAudioOut:
		t := o.turns[streamID]
		if t == nil || t.committedAt.IsZero() {
			return
		}
		o.log.Info("turn_latency",
			"stream_id", streamID,
			"response_ms", ev.Time.Sub(t.committedAt).Milliseconds(),
		)
		t.committedAt = time.Time{}
	case metrics.EventCallEnd:
		delete(o.turns, streamID)
	}
}

var _ metrics.Observer = (*LatencyObserver)(nil)
