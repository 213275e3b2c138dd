package twilio

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/errorsx"
)

var errSessionClosed = errors.New("twilio session closed")
var errSendBufferFull = errors.New("twilio send buffer full")

// session is one live media-stream websocket with an async writer. A write
// failure poisons the session; subsequent enqueues report a delivery error
// so callers keep their bytes for the next tick.
type session struct {
	conn        *websocket.Conn
	sendCh      chan []byte
	closed      atomic.Bool
	writeFailed atomic.Bool
}

func (s *session) enqueue(msg map[string]any) error {
	if s.closed.Load() || s.writeFailed.Load() {
		return errorsx.Wrap(errSessionClosed, errorsx.ReasonDeliveryFailed)
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonDeliveryFailed)
	}
	select {
	case s.sendCh <- b:
		return nil
	default:
		return errorsx.Wrap(errSendBufferFull, errorsx.ReasonDeliveryFailed)
	}
}

func (s *session) loop() {
	for msg := range s.sendCh {
		if s.writeFailed.Load() {
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.writeFailed.Store(true)
			_ = s.conn.Close()
		}
	}
}

func (s *session) close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.sendCh)
	}
	return s.conn.Close()
}
