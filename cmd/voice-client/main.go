package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wandersure/voice-client/internal/api"
	"github.com/wandersure/voice-client/internal/audio"
	"github.com/wandersure/voice-client/internal/capture"
	"github.com/wandersure/voice-client/internal/chat"
	"github.com/wandersure/voice-client/internal/config"
	"github.com/wandersure/voice-client/internal/observability"
	"github.com/wandersure/voice-client/internal/payment"
	"github.com/wandersure/voice-client/internal/playback"
	"github.com/wandersure/voice-client/internal/resilience"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("api_base_url", cfg.APIBaseURL).
		Str("diag_port", cfg.DiagPort).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice client starting")

	// Backend API client with retry and transcript-save breaker
	client := api.NewClient(api.Options{
		BaseURL:        cfg.APIBaseURL,
		Token:          cfg.APIToken,
		RequestTimeout: time.Duration(cfg.RequestTimeout) * time.Second,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		SaveBreaker: resilience.NewCircuitBreaker("transcript-save",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second),
	})

	// Diagnostics server: health, readiness, metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"backend": client.Ping,
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	diag := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.DiagPort),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("port", cfg.DiagPort).Msg("Diagnostics server listening")
		if err := diag.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Diagnostics server failed to start")
		}
	}()

	// Playback: clip store + device capability + controller
	clips := playback.NewClipStore()
	device := playback.NewDeviceCapability(clips, observability.Component("device"))
	controller := playback.NewController(device, observability.Component("playback"))
	controller.SetObserver(func(snap playback.Snapshot) {
		logger.Debug().
			Str("state", string(snap.State)).
			Float64("position", snap.Position).
			Float64("duration", snap.Duration).
			Msg("playback state")
	})

	// Payment watcher on the real ticker cadence
	watcher := payment.NewWatcher(client, payment.TickerScheduler{}, payment.Options{
		Interval:    time.Duration(cfg.PollInterval) * time.Second,
		MaxAttempts: cfg.PollMaxAttempts,
	}, observability.Component("payment"))

	// Microphone recorder
	recorder := capture.NewRecorder(capture.Config{
		SampleRate:  cfg.CaptureSampleRate,
		MaxDuration: time.Duration(cfg.CaptureMaxSeconds) * time.Second,
		BufferSize:  cfg.AudioBufferSize,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			FrameSize:       320,
		},
	}, observability.Component("capture"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := chat.NewSession(ctx, client, controller, clips, watcher, recorder, chat.Config{
		Voice:    cfg.SynthesisVoice,
		Language: cfg.TranscribeLanguage,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open chat session")
	}
	logger.Info().Str("session_id", session.ID()).Msg("Session ready")

	// REPL on stdin; SIGINT/SIGTERM trigger graceful teardown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		repl(ctx, session)
	}()

	select {
	case <-quit:
		logger.Info().Msg("Shutting down...")
	case <-replDone:
	}
	cancel()

	session.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := diag.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Diagnostics server forced to shutdown")
	}

	logger.Info().Msg("Voice client exited gracefully")
}

// repl reads commands from stdin until EOF or /quit. Any line that is
// not a command is sent to the assistant as a question.
func repl(ctx context.Context, session *chat.Session) {
	fmt.Println("Type a question, or /voice, /pay, /pause, /resume, /stop, /seek <s>, /status, /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit":
			return

		case "/voice":
			fmt.Println("Listening... (speak, then pause)")
			question, reply, err := session.AskVoice(ctx)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("you: %s\nassistant: %s\n", question, reply)

		case "/pay":
			session.WatchPayment(func() {
				fmt.Println("\nPayment confirmed.")
			})
			fmt.Println("Watching for payment confirmation.")

		case "/pause":
			session.Pause()

		case "/resume":
			session.Resume()

		case "/stop":
			session.StopPlayback()

		case "/seek":
			if len(fields) < 2 {
				fmt.Println("usage: /seek <seconds>")
				continue
			}
			seconds, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Println("usage: /seek <seconds>")
				continue
			}
			session.Seek(seconds)

		case "/status":
			snap := session.PlaybackSnapshot()
			fmt.Printf("playback: %s %.1f/%.1fs\n", snap.State, snap.Position, snap.Duration)

		default:
			reply, err := session.Ask(ctx, line)
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("assistant: %s\n", reply)
		}
	}
}
