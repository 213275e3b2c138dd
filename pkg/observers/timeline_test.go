package observers

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/metrics"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/redact"
)

func TestTimelineObserverWritesPerStreamFiles(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	defer obs.Close()

	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallStart,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "MZ123", "trace_id": "tr-1"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventAudioIn,
		Time:  time.Now(),
		Value: 960,
		Tags:  map[string]string{"stream_id": "MZ123"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallStart,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "MZ456"},
	})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "MZ123.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Fatalf("MZ123 trace has %d lines, want 2", lines)
	}
	var first timelineEvent
	if err := json.Unmarshal(data[:bytes.IndexByte(data, '\n')], &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first.Event != metrics.EventCallStart || first.TraceID != "tr-1" {
		t.Fatalf("first entry = %+v", first)
	}

	if _, err := os.Stat(filepath.Join(dir, "MZ456.jsonl")); err != nil {
		t.Fatalf("second stream trace missing: %v", err)
	}
}

func TestTimelineObserverRedactsCallerNumber(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventCallStart,
		Time: time.Now(),
		Tags: map[string]string{"stream_id": "MZ1", "from_number": "+14155550100"},
	})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "MZ1.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	var entry timelineEvent
	if err := json.Unmarshal(data[:bytes.IndexByte(data, '\n')], &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Tags["from_number"] != "[REDACTED_PHONE]" {
		t.Fatalf("from_number = %q, want redacted", entry.Tags["from_number"])
	}
}

func TestTimelineObserverIgnoresEventsWithoutStream(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)
	obs.RecordEvent(metrics.MetricsEvent{Name: metrics.EventAudioIn, Time: time.Now()})
	if err := obs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("trace files created without stream_id: %d", len(entries))
	}
}

func TestPurgeArtifacts(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "old.jsonl")
	fresh := filepath.Join(dir, "fresh.jsonl")
	if err := os.WriteFile(old, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(fresh, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := PurgeArtifacts(dir, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatal("old trace survived purge")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh trace deleted: %v", err)
	}
}
