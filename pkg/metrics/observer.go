package metrics

import "time"

// Event names recorded by the bridge engine.
const (
	EventAudioIn   = "audio_in"
	EventAudioOut  = "audio_out"
	EventCommit    = "commit"
	EventFrameDrop = "frame_drop"
	EventCallStart = "call_start"
	EventCallEnd   = "call_end"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
