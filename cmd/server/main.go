package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kduflopro-arch/ws-media-stream-server/pkg/bridge"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/configutil"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/frames"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/logging"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/metrics"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/observers"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/redact"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/runner"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/speech"
	"github.com/kduflopro-arch/ws-media-stream-server/pkg/transports"
	mocktransport "github.com/kduflopro-arch/ws-media-stream-server/pkg/transports/mock"
	twiliotransport "github.com/kduflopro-arch/ws-media-stream-server/pkg/transports/twilio"
)

type drainerFunc func() error

func (f drainerFunc) Drain() error { return f() }

func buildTransport(cfg bridge.Config) (transports.Transport, error) {
	switch cfg.Transport.Kind {
	case "twilio":
		if err := configutil.ValidateSettings(cfg.Transport.Settings, configutil.Schema{
			Required: []string{"account_sid", "auth_token"},
			Optional: []string{
				"public_url", "server_addr", "voice_path", "ws_path",
				"status_callback_path", "voice_greeting",
				"allow_any_origin", "allowed_origins",
			},
		}); err != nil {
			return nil, fmt.Errorf("transport.settings: %w", err)
		}
		var settings twiliotransport.Config
		if err := configutil.DecodeSettings(cfg.Transport.Settings, &settings); err != nil {
			return nil, fmt.Errorf("decode transport.settings: %w", err)
		}
		return twiliotransport.New(settings), nil
	case "mock":
		return mocktransport.New(), nil
	default:
		return nil, fmt.Errorf("unknown transport.kind %q", cfg.Transport.Kind)
	}
}

func buildObserver(cfg bridge.Config, logger *slog.Logger) (metrics.Observer, func()) {
	logObs := observers.NewLoggerObserver(logging.NewComponentLogger(logger, "metrics"))
	sampled := metrics.NewSamplingObserver(logObs, cfg.Metrics.SampleRate)

	// Latency pairing needs every commit and audio_out event, so it sits
	// outside the sampler.
	sinks := []metrics.Observer{sampled, observers.NewLatencyObserver(logger)}
	var closers []func() error

	if cfg.Metrics.JSONLPath != "" {
		f, err := os.OpenFile(cfg.Metrics.JSONLPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("metrics_jsonl_open_failed", slog.String("error", err.Error()))
		} else {
			sinks = append(sinks, metrics.NewJSONLObserver(f))
			closers = append(closers, f.Close)
		}
	}
	if cfg.Metrics.TimelineDir != "" {
		if cfg.Metrics.TimelineRetentionHours > 0 {
			maxAge := time.Duration(cfg.Metrics.TimelineRetentionHours) * time.Hour
			if removed, err := observers.PurgeArtifacts(cfg.Metrics.TimelineDir, maxAge); err != nil {
				logger.Warn("timeline_purge_failed", slog.String("error", err.Error()))
			} else if removed > 0 {
				logger.Info("timeline_purged", slog.Int("removed", removed))
			}
		}
		timeline := observers.NewTimelineObserver(cfg.Metrics.TimelineDir)
		sinks = append(sinks, timeline)
		closers = append(closers, timeline.Close)
	}

	async := metrics.NewAsyncObserver(observers.NewMultiObserver(sinks...), cfg.Metrics.AsyncBuffer)
	return async, func() {
		async.Close()
		for _, c := range closers {
			_ = c()
		}
	}
}

func main() {
	configPath := flag.String("config", "", "path to YAML config; env vars apply either way")
	dialTo := flag.String("dial_to", "", "destination number for outbound call")
	dialFrom := flag.String("dial_from", "", "caller ID for outbound call")
	dialURL := flag.String("dial_url", "", "override voice URL for outbound call")
	flag.Parse()

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	redact.SetEnabled(cfg.Logging.RedactPII)

	transport, err := buildTransport(cfg)
	if err != nil {
		logger.Error("transport_build_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	observer, closeObserver := buildObserver(cfg, logger)
	defer closeObserver()

	factory := func(streamID string, meta map[string]string) speech.Stream {
		return speech.NewClient(speech.Config{
			URL:                cfg.Speech.URL,
			APIKey:             cfg.Speech.APIKey,
			Model:              cfg.Speech.Model,
			Voice:              cfg.Speech.Voice,
			Instructions:       cfg.Speech.Instructions,
			TranscriptionModel: cfg.Speech.TranscriptionModel,
			StreamID:           streamID,
			CallSID:            meta[frames.MetaCallSID],
			TraceID:            meta[frames.MetaTraceID],
		})
	}
	engine := bridge.NewEngine(transport, factory, observer, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})

	hooks := runner.Hooks{
		OnStart: func() {
			go func() {
				defer close(engineDone)
				if err := engine.Run(engineCtx); err != nil && engineCtx.Err() == nil {
					logger.Error("engine_exited", slog.String("error", err.Error()))
				}
			}()
			if rr, ok := transport.(transports.ReadyReporter); ok {
				attrs := []any{}
				for k, v := range rr.ReadyFields() {
					attrs = append(attrs, slog.Any(k, v))
				}
				logger.Info("transport_ready", attrs...)
			}
			if *dialTo != "" && *dialFrom != "" {
				if dialer, ok := transport.(transports.OutboundDialer); ok {
					callSID, err := dialer.Dial(ctx, *dialTo, *dialFrom, *dialURL)
					if err != nil {
						logger.Error("outbound_dial_failed", slog.String("error", err.Error()))
					} else {
						logger.Info("outbound_dial_started", slog.String("call_sid", callSID))
					}
				} else {
					logger.Warn("transport_no_outbound_dialer")
				}
			}
		},
		OnStop: func() {
			logger.Info("server_stopped")
		},
	}
	drain := drainerFunc(func() error {
		stopEngine()
		<-engineDone
		return nil
	})

	run := runner.NewLifecycleRunner(drain, hooks, 15*time.Second)
	if err := run.Run(ctx); err != nil {
		logger.Error("shutdown_incomplete", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
