package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/frames"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/metrics"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/speech"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/transports/mock"
)

// fakeStream is a scripted speech endpoint. Tests feed events through Emit
// and inspect what the session sent.
type fakeStream struct {
	mu       sync.Mutex
	opened   bool
	startErr error
	sendGate chan struct{}
	sent     [][]byte
	commits  int
	closed   bool
	events   chan speech.Event
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan speech.Event, 64)}
}

func (f *fakeStream) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.opened = true
	return nil
}

func (f *fakeStream) Opened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeStream) SendAudio(pcm []byte) error {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), pcm...))
	return nil
}

func (f *fakeStream) Commit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeStream) Events() <-chan speech.Event { return f.events }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.opened = false
		close(f.events)
	}
	return nil
}

func (f *fakeStream) Emit(ev speech.Event) { f.events <- ev }

// drained reports whether the session consumed every emitted event. Tests
// use it as an ordering barrier before pushing media frames, since events
// and frames travel on independent channels.
func (f *fakeStream) drained() bool { return len(f.events) == 0 }

func (f *fakeStream) commitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeStream) wasClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type harness struct {
	transport *mock.Transport
	engine    *Engine
	streams   map[string]*fakeStream
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		transport: mock.New(),
		streams:   make(map[string]*fakeStream),
		done:      make(chan struct{}),
	}
	factory := func(streamID string, meta map[string]string) speech.Stream {
		h.mu.Lock()
		defer h.mu.Unlock()
		fs, ok := h.streams[streamID]
		if !ok {
			fs = newFakeStream()
			h.streams[streamID] = fs
		}
		return fs
	}
	h.engine = NewEngine(h.transport, factory, metrics.NoopObserver{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
	return h
}

func (h *harness) stream(t *testing.T, id string) *fakeStream {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		fs := h.streams[id]
		h.mu.Unlock()
		if fs != nil {
			return fs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream %s never created", id)
	return nil
}

func (h *harness) startCall(streamID, callSID string) {
	h.transport.Push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), "call_start", map[string]string{
		frames.MetaCallSID: callSID,
	}))
}

func (h *harness) endCall(streamID string) {
	h.transport.Push(frames.NewSystemFrame(streamID, time.Now().UnixNano(), "call_end", map[string]string{
		frames.MetaCallEndReason: "completed",
	}))
}

func (h *harness) pushMedia(streamID string, mulaw []byte) {
	h.transport.Push(frames.NewAudioFrame(streamID, time.Now().UnixNano(), mulaw, 8000, 1, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// mulawSilence is one 20 ms telephony frame of silence.
func mulawSilence() []byte {
	return bytes.Repeat([]byte{0xFF}, 160)
}

func TestSessionCommitsAfterSpeechStops(t *testing.T) {
	h := newHarness(t)
	h.startCall("stream-1", "CA1")
	fs := h.stream(t, "stream-1")
	waitFor(t, "stream open", fs.Opened)

	fs.Emit(speech.Event{Type: speech.EventSpeechStarted})
	waitFor(t, "speech_started handled", fs.drained)

	// Each 160-byte frame becomes 960 bytes of 24 kHz PCM. Seven frames
	// is 6720 bytes, still below the commit threshold.
	for i := 0; i < 7; i++ {
		h.pushMedia("stream-1", mulawSilence())
	}
	waitFor(t, "audio forwarded", func() bool { return fs.sentCount() == 7 })

	fs.Emit(speech.Event{Type: speech.EventSpeechStopped})
	waitFor(t, "speech_stopped handled", fs.drained)
	if fs.commitCount() != 0 {
		t.Fatalf("commit before threshold: %d", fs.commitCount())
	}

	// One more frame crosses the threshold and triggers exactly one commit.
	h.pushMedia("stream-1", mulawSilence())
	waitFor(t, "commit", func() bool { return fs.commitCount() == 1 })

	h.pushMedia("stream-1", mulawSilence())
	waitFor(t, "post-commit audio forwarded", func() bool { return fs.sentCount() == 9 })
	if fs.commitCount() != 1 {
		t.Fatalf("extra commit after reset: %d", fs.commitCount())
	}
}

func TestSessionPacesSynthesizedAudio(t *testing.T) {
	h := newHarness(t)
	h.startCall("stream-1", "CA1")
	fs := h.stream(t, "stream-1")
	waitFor(t, "stream open", fs.Opened)

	// 2880 bytes of PCM decimate to 480 μ-law bytes: three 20 ms frames.
	delta := make([]byte, 2880)
	for i := 0; i < len(delta); i += 2 {
		binary.LittleEndian.PutUint16(delta[i:], 0x1000)
	}
	fs.Emit(speech.Event{Type: speech.EventAudioDelta, Audio: delta})
	waitFor(t, "delta handled", fs.drained)

	var out []frames.Frame
	for i := 0; i < 3; i++ {
		h.pushMedia("stream-1", mulawSilence())
		select {
		case f := <-h.transport.Sent():
			out = append(out, f)
		case <-time.After(2 * time.Second):
			t.Fatalf("no outbound frame after inbound frame %d", i+1)
		}
	}
	for i, f := range out {
		af, ok := f.(frames.AudioFrame)
		if !ok {
			t.Fatalf("outbound frame %d is %T, want audio", i, f)
		}
		if len(af.Data()) != 160 {
			t.Fatalf("outbound frame %d has %d bytes, want 160", i, len(af.Data()))
		}
	}

	// Queue is empty; another inbound frame produces no outbound audio.
	h.pushMedia("stream-1", mulawSilence())
	select {
	case f := <-h.transport.Sent():
		t.Fatalf("unexpected outbound frame %v with empty queue", f.Kind())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionBargeInClearsPlayback(t *testing.T) {
	h := newHarness(t)
	h.startCall("stream-1", "CA1")
	fs := h.stream(t, "stream-1")
	waitFor(t, "stream open", fs.Opened)

	delta := make([]byte, 2880)
	fs.Emit(speech.Event{Type: speech.EventAudioDelta, Audio: delta})
	fs.Emit(speech.Event{Type: speech.EventSpeechStarted})

	select {
	case f := <-h.transport.Sent():
		cf, ok := f.(frames.ControlFrame)
		if !ok {
			t.Fatalf("expected clear control frame, got %T", f)
		}
		if cf.Code() != frames.ControlClear {
			t.Fatalf("control code = %v, want clear", cf.Code())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no clear control frame after barge-in")
	}

	// The queued reply was discarded, so inbound audio drains nothing.
	h.pushMedia("stream-1", mulawSilence())
	select {
	case f := <-h.transport.Sent():
		t.Fatalf("unexpected outbound %v after barge-in discard", f.Kind())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSessionDropsAudioWhenStreamNotOpen(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	fs := newFakeStream()
	fs.startErr = context.DeadlineExceeded
	h.streams["stream-1"] = fs
	h.mu.Unlock()

	h.startCall("stream-1", "CA1")
	h.stream(t, "stream-1")

	for i := 0; i < 3; i++ {
		h.pushMedia("stream-1", mulawSilence())
	}
	time.Sleep(100 * time.Millisecond)
	if fs.sentCount() != 0 {
		t.Fatalf("audio forwarded to unopened stream: %d units", fs.sentCount())
	}
}

func TestSessionTearsDownWithFullInboundBuffer(t *testing.T) {
	h := newHarness(t)
	gate := make(chan struct{})
	h.mu.Lock()
	fs := newFakeStream()
	fs.sendGate = gate
	h.streams["stream-1"] = fs
	h.mu.Unlock()

	h.startCall("stream-1", "CA1")
	h.stream(t, "stream-1")
	waitFor(t, "stream open", fs.Opened)

	// The first frame wedges the session inside SendAudio; the rest
	// overfill its inbound buffer, so the call_end frame below is dropped
	// by offer. The stop signal must still reach the session.
	for i := 0; i < 140; i++ {
		h.pushMedia("stream-1", mulawSilence())
	}
	h.endCall("stream-1")

	time.Sleep(50 * time.Millisecond)
	if fs.wasClosed() {
		t.Fatal("stream closed while send still blocked")
	}

	close(gate)
	waitFor(t, "stream closed after unblock", fs.wasClosed)
}

func TestSessionIsolation(t *testing.T) {
	h := newHarness(t)
	h.startCall("stream-a", "CA-a")
	h.startCall("stream-b", "CA-b")
	fa := h.stream(t, "stream-a")
	fb := h.stream(t, "stream-b")
	waitFor(t, "both open", func() bool { return fa.Opened() && fb.Opened() })

	fa.Emit(speech.Event{Type: speech.EventSpeechStarted})
	fb.Emit(speech.Event{Type: speech.EventSpeechStarted})
	waitFor(t, "speech_started handled", func() bool { return fa.drained() && fb.drained() })

	// Interleave: 8 frames to a, 2 to b. Only a crosses the threshold.
	for i := 0; i < 8; i++ {
		h.pushMedia("stream-a", mulawSilence())
		if i < 2 {
			h.pushMedia("stream-b", mulawSilence())
		}
	}
	waitFor(t, "a forwarded", func() bool { return fa.sentCount() == 8 })
	waitFor(t, "b forwarded", func() bool { return fb.sentCount() == 2 })

	fa.Emit(speech.Event{Type: speech.EventSpeechStopped})
	fb.Emit(speech.Event{Type: speech.EventSpeechStopped})
	waitFor(t, "speech_stopped handled", func() bool { return fa.drained() && fb.drained() })
	h.pushMedia("stream-a", mulawSilence())
	h.pushMedia("stream-b", mulawSilence())

	waitFor(t, "a committed", func() bool { return fa.commitCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if fb.commitCount() != 0 {
		t.Fatalf("session b committed below threshold: %d", fb.commitCount())
	}

	h.endCall("stream-a")
	waitFor(t, "a closed", fa.wasClosed)
	if fb.wasClosed() {
		t.Fatal("session b closed when a ended")
	}
}
