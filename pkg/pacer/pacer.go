package pacer

// Outbound frame pacing for the telephony leg. Synthesized audio arrives in
// arbitrarily sized chunks; the telephony side wants fixed 20 ms frames at
// the same cadence the caller's own frames arrive. The session calls
// Drain(1, DefaultFrameSize) once per inbound media frame, which caps
// delivery burstiness without a wall-clock timer.

// DefaultFrameSize is 20 ms of 8 kHz μ-law.
const DefaultFrameSize = 160

// DeliverFunc hands one frame to the telephony side.
type DeliverFunc func(frame []byte) error

// Pacer is a FIFO of raw byte chunks with a running total. Frames are carved
// from the head chunk only, so a dequeue mutates exactly one chunk or
// removes it; a chunk tail shorter than the frame size goes out as a short
// frame rather than being held back. Owned by a single session goroutine;
// not safe for concurrent use.
type Pacer struct {
	queue  [][]byte
	queued int
}

func New() *Pacer {
	return &Pacer{}
}

// Enqueue appends a chunk already in destination codec and rate.
func (p *Pacer) Enqueue(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.queue = append(p.queue, chunk)
	p.queued += len(chunk)
}

// QueuedBytes reports the total bytes awaiting delivery.
func (p *Pacer) QueuedBytes() int { return p.queued }

// Drain removes up to maxFrames frames of frameSize bytes from the front of
// the queue and hands each to deliver in order. A delivery error aborts the
// drain; the failed frame and everything behind it stay queued for the next
// tick.
func (p *Pacer) Drain(maxFrames, frameSize int, deliver DeliverFunc) error {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	for sent := 0; sent < maxFrames && p.queued > 0; sent++ {
		frame := p.take(frameSize)
		if err := deliver(frame); err != nil {
			p.putBack(frame)
			return err
		}
	}
	return nil
}

// Discard drops all queued audio. Used on session teardown; there is no
// drain guarantee.
func (p *Pacer) Discard() {
	p.queue = nil
	p.queued = 0
}

func (p *Pacer) take(frameSize int) []byte {
	head := p.queue[0]
	if len(head) <= frameSize {
		p.queue = p.queue[1:]
		p.queued -= len(head)
		return head
	}
	frame := head[:frameSize]
	p.queue[0] = head[frameSize:]
	p.queued -= frameSize
	return frame
}

func (p *Pacer) putBack(frame []byte) {
	p.queue = append([][]byte{frame}, p.queue...)
	p.queued += len(frame)
}
