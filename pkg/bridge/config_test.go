package bridge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Transport.Kind != "twilio" {
		t.Fatalf("transport.kind = %q, want twilio", cfg.Transport.Kind)
	}
	if cfg.Speech.Model == "" || cfg.Speech.URL == "" {
		t.Fatalf("speech defaults missing: %+v", cfg.Speech)
	}
	if cfg.Metrics.SampleRate <= 0 || cfg.Metrics.SampleRate > 1 {
		t.Fatalf("metrics.sample_rate default = %v", cfg.Metrics.SampleRate)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: text
transport:
  kind: twilio
  settings:
    public_url: https://bridge.example.com
    auth_token: tok
speech:
  url: wss://speech.example.com/v1/realtime
  voice: verse
  instructions: keep answers short
metrics:
  sample_rate: 0.5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Transport.Settings["public_url"] != "https://bridge.example.com" {
		t.Fatalf("transport settings = %+v", cfg.Transport.Settings)
	}
	if cfg.Speech.Voice != "verse" {
		t.Fatalf("speech.voice = %q, want verse", cfg.Speech.Voice)
	}
	if cfg.Metrics.SampleRate != 0.5 {
		t.Fatalf("metrics.sample_rate = %v, want 0.5", cfg.Metrics.SampleRate)
	}
}

func TestLoadConfigRejectsBadSampleRate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("metrics:\n  sample_rate: 3\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("sample_rate 3 accepted, want error")
	}
}
