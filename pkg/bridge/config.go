package bridge

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/configutil"
)

type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transport TransportConfig `mapstructure:"transport"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// RedactPII masks caller phone numbers and emails in logs and traces.
	RedactPII bool `mapstructure:"redact_pii"`
}

// TransportConfig selects the telephony transport. Settings are decoded by
// the transport itself via configutil.DecodeSettings.
type TransportConfig struct {
	Kind     string         `mapstructure:"kind"`
	Settings map[string]any `mapstructure:"settings"`
}

type SpeechConfig struct {
	URL                string `mapstructure:"url"`
	APIKey             string `mapstructure:"api_key"`
	Model              string `mapstructure:"model"`
	Voice              string `mapstructure:"voice"`
	Instructions       string `mapstructure:"instructions"`
	TranscriptionModel string `mapstructure:"transcription_model"`
}

type MetricsConfig struct {
	SampleRate  float64 `mapstructure:"sample_rate"`
	AsyncBuffer int     `mapstructure:"async_buffer"`
	// JSONLPath appends every recorded event to a file when set.
	JSONLPath string `mapstructure:"jsonl_path"`
	// TimelineDir enables per-call JSONL traces when set.
	TimelineDir string `mapstructure:"timeline_dir"`
	// TimelineRetentionHours bounds how long traces are kept. Zero keeps
	// them forever.
	TimelineRetentionHours int `mapstructure:"timeline_retention_hours"`
}

// LoadConfig reads configuration from an optional YAML file plus MSB_*
// environment variables. Env keys replace dots with underscores, so
// MSB_SPEECH_API_KEY overrides speech.api_key.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MSB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("transport.kind", "twilio")
	v.SetDefault("speech.url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("speech.model", "gpt-4o-realtime-preview")
	v.SetDefault("speech.voice", "alloy")
	v.SetDefault("metrics.sample_rate", 0.05)
	v.SetDefault("metrics.async_buffer", 1024)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if err := configutil.RequireString(c.Transport.Kind, "transport.kind"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Speech.URL, "speech.url"); err != nil {
		return err
	}
	if c.Metrics.SampleRate < 0 || c.Metrics.SampleRate > 1 {
		return fmt.Errorf("metrics.sample_rate must be within [0,1], got %v", c.Metrics.SampleRate)
	}
	return nil
}
