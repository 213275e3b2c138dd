package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/errorsx"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/logging"
)

// ErrNotOpen is returned when audio arrives before the handshake finished
// or after the connection dropped. Callers drop the unit; nothing queues.
var ErrNotOpen = errors.New("speech connection not open")

type Config struct {
	URL                string
	APIKey             string
	Model              string
	Voice              string
	Instructions       string
	TranscriptionModel string
	StreamID           string
	CallSID            string
	TraceID            string
}

// Client speaks the realtime input_audio_buffer protocol over a websocket.
// One per call session; SendAudio and Commit are driven from the session's
// single event goroutine.
type Client struct {
	cfg    Config
	conn   *websocket.Conn
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	opened atomic.Bool
	logger *slog.Logger

	writeMu sync.Mutex
	once    sync.Once
}

func NewClient(cfg Config) *Client {
	logger := logging.NewComponentLogger(slog.Default(), "speech_client")
	return &Client{
		cfg:    cfg,
		events: make(chan Event, 256),
		logger: logger,
	}
}

// Start dials the endpoint and sends the session configuration. There is no
// timeout beyond the dialer's own and no retry on failure.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	endpoint, err := c.endpointURL()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSpeechConnect)
	}
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, endpoint, header)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSpeechConnect)
	}
	c.conn = conn

	if err := c.sendSessionConfig(); err != nil {
		_ = conn.Close()
		return errorsx.Wrap(err, errorsx.ReasonSpeechConnect)
	}
	c.opened.Store(true)

	c.logger.Info("speech_connected",
		slog.String("stream_id", c.cfg.StreamID),
		slog.String("call_sid", c.cfg.CallSID),
		slog.String("model", c.cfg.Model))

	go c.readLoop()
	return nil
}

func (c *Client) Opened() bool { return c.opened.Load() }

func (c *Client) Events() <-chan Event { return c.events }

// SendAudio appends one transcoded unit (PCM16LE at 24 kHz) to the
// endpoint's input buffer.
func (c *Client) SendAudio(pcm []byte) error {
	if !c.opened.Load() {
		return errorsx.Wrap(ErrNotOpen, errorsx.ReasonDownstreamUnavailable)
	}
	msg := audioAppend{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm),
	}
	return errorsx.Wrap(c.writeJSON(msg), errorsx.ReasonSpeechSend)
}

// Commit tells the endpoint the buffered audio is a complete utterance.
func (c *Client) Commit() error {
	if !c.opened.Load() {
		return errorsx.Wrap(ErrNotOpen, errorsx.ReasonDownstreamUnavailable)
	}
	return errorsx.Wrap(c.writeJSON(audioCommit{Type: "input_audio_buffer.commit"}), errorsx.ReasonSpeechSend)
}

func (c *Client) Close() error {
	var err error
	c.once.Do(func() {
		c.opened.Store(false)
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Client) endpointURL() (string, error) {
	raw := c.cfg.URL
	if raw == "" {
		raw = "wss://api.openai.com/v1/realtime"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if c.cfg.Model != "" {
		q := u.Query()
		q.Set("model", c.cfg.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) sendSessionConfig() error {
	cfg := sessionConfig{
		Modalities:        []string{"text", "audio"},
		Voice:             c.cfg.Voice,
		Instructions:      c.cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		TurnDetection:     &turnDetection{Type: "server_vad"},
	}
	if c.cfg.TranscriptionModel != "" {
		cfg.Transcription = &transcriptionConf{Model: c.cfg.TranscriptionModel}
	}
	return c.writeJSON(sessionUpdate{Type: "session.update", Session: cfg})
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.events)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.opened.Store(false)
			if c.ctx.Err() == nil {
				c.logger.Warn("speech_connection_lost",
					slog.String("stream_id", c.cfg.StreamID),
					slog.String("error", err.Error()))
			}
			c.emit(Event{Type: EventClosed, Err: err})
			return
		}
		ev, ok := c.parse(msg)
		if !ok {
			continue
		}
		c.emit(ev)
	}
}

func (c *Client) parse(msg []byte) (Event, bool) {
	var se serverEvent
	if err := json.Unmarshal(msg, &se); err != nil {
		c.logger.Debug("speech_event_malformed", slog.String("error", err.Error()))
		return Event{}, false
	}
	switch se.Type {
	case "input_audio_buffer.speech_started":
		return Event{Type: EventSpeechStarted}, true
	case "input_audio_buffer.speech_stopped":
		return Event{Type: EventSpeechStopped}, true
	case "input_audio_buffer.committed":
		return Event{Type: EventCommitted}, true
	case "response.audio.delta", "response.output_audio.delta":
		audio, err := base64.StdEncoding.DecodeString(se.Delta)
		if err != nil {
			c.logger.Debug("speech_delta_malformed",
				slog.String("stream_id", c.cfg.StreamID),
				slog.String("reason_code", string(errorsx.ReasonAudioMalformed)))
			return Event{}, false
		}
		return Event{Type: EventAudioDelta, Audio: audio}, true
	case "error":
		errMsg := "endpoint error"
		if se.Error != nil && se.Error.Message != "" {
			errMsg = se.Error.Message
		}
		return Event{Type: EventError, Err: errors.New(errMsg)}, true
	default:
		return Event{}, false
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}
