package vad

// Commit tracking for the speech endpoint's input buffer. Speech boundaries
// are reported by the endpoint itself; nothing here inspects audio energy.

// State identifies where the tracker is between speech boundaries.
type State int

const (
	// StateIdle means no speech has been detected since the last commit.
	StateIdle State = iota
	// StateAccumulating means speech is active and inbound bytes count
	// toward the next commit.
	StateAccumulating
	// StateAwaitingCommit means speech ended and the tracker is waiting for
	// enough buffered audio before asking the endpoint to commit.
	StateAwaitingCommit
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateAwaitingCommit:
		return "awaiting_commit"
	default:
		return "unknown"
	}
}

// CommitThresholdBytes is 150 ms of 24 kHz 16-bit mono audio. Committing
// with less buffered risks truncating the utterance.
const CommitThresholdBytes = 7200

// Tracker decides when to tell the speech endpoint that the buffered audio
// since the last commit is a complete utterance. One per call session; it is
// driven from the session's single event goroutine and is not safe for
// concurrent use.
type Tracker struct {
	speechActive  bool
	pendingCommit bool
	appendedBytes uint64
	threshold     uint64
}

func NewTracker() *Tracker {
	return &Tracker{threshold: CommitThresholdBytes}
}

// SpeechStarted handles the endpoint's speech_started signal. The byte
// counter restarts so leading silence never counts toward a commit.
func (t *Tracker) SpeechStarted() {
	t.appendedBytes = 0
	t.speechActive = true
	t.pendingCommit = false
}

// SpeechStopped handles the endpoint's speech_stopped signal. The tracker
// now waits for the threshold before issuing a commit.
func (t *Tracker) SpeechStopped() {
	t.speechActive = false
	t.pendingCommit = true
}

// Committed handles the endpoint's commit acknowledgement. Idempotent:
// re-zeroes local state even if the commit was issued remotely, guarding
// against local/remote desync.
func (t *Tracker) Committed() {
	t.appendedBytes = 0
	t.pendingCommit = false
}

// AudioAppended records one transcoded inbound unit of n bytes and reports
// whether a commit should be issued now. Bytes arriving during confirmed
// idle silence are not counted.
func (t *Tracker) AudioAppended(n int) bool {
	if t.speechActive || t.pendingCommit {
		t.appendedBytes += uint64(n)
	}
	if t.pendingCommit && t.appendedBytes >= t.threshold {
		t.appendedBytes = 0
		t.pendingCommit = false
		return true
	}
	return false
}

// State derives the tracker's position from its flags.
func (t *Tracker) State() State {
	switch {
	case t.speechActive:
		return StateAccumulating
	case t.pendingCommit:
		return StateAwaitingCommit
	default:
		return StateIdle
	}
}

// AppendedBytes reports bytes counted since the last boundary or commit.
func (t *Tracker) AppendedBytes() uint64 { return t.appendedBytes }

// PendingCommit reports whether speech has ended with no commit issued yet.
func (t *Tracker) PendingCommit() bool { return t.pendingCommit }
