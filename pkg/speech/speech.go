package speech

import "context"

// EventType classifies messages from the speech endpoint that the bridge
// reacts to. Everything else the endpoint sends is ignored.
type EventType string

const (
	// EventSpeechStarted: the endpoint detected the start of caller speech.
	EventSpeechStarted EventType = "speech_started"
	// EventSpeechStopped: the endpoint detected the end of caller speech.
	EventSpeechStopped EventType = "speech_stopped"
	// EventCommitted: the endpoint acknowledged an input buffer commit.
	EventCommitted EventType = "committed"
	// EventAudioDelta carries synthesized audio (PCM16LE at 24 kHz,
	// already base64-decoded).
	EventAudioDelta EventType = "audio_delta"
	// EventError is a non-fatal error report from the endpoint.
	EventError EventType = "error"
	// EventClosed means the connection is gone; no further events follow.
	EventClosed EventType = "closed"
)

type Event struct {
	Type  EventType
	Audio []byte
	Err   error
}

// Stream is one call's connection to the speech endpoint. Start performs
// the handshake asynchronously with respect to the call: audio sent before
// the socket opens is dropped by the caller, not queued. There is no
// handshake timeout and no reconnect; a failed or lost connection surfaces
// through Events and stays down for the life of the call.
type Stream interface {
	Start(ctx context.Context) error
	Opened() bool
	SendAudio(pcm []byte) error
	Commit() error
	Events() <-chan Event
	Close() error
}
