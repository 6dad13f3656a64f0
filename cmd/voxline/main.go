// Command voxline runs a live voice session against a speech-to-speech
// provider: microphone audio streams up, synthesised speech streams back and
// plays gaplessly, and barge-in interrupts playback immediately.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/health"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/session"
	"github.com/MrWong99/voxline/pkg/audio/device"
	"github.com/MrWong99/voxline/pkg/audio/device/local"
	"github.com/MrWong99/voxline/pkg/provider/live"
	geminilive "github.com/MrWong99/voxline/pkg/provider/live/gemini"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// Load credentials from a local .env file if present.
	_ = godotenv.Load()

	// ── Configuration (watched for changes) ───────────────────────────────────
	logLevel := new(slog.LevelVar)
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(toSlogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.SessionChanged || d.AudioChanged {
			slog.Warn("session or audio configuration changed; takes effect on the next session")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()
	cfg := watcher.Current()

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(toSlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxline",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	provider, err := reg.CreateLive(cfg.Session)
	if err != nil {
		slog.Error("failed to create provider", "name", cfg.Session.Provider, "err", err)
		return 1
	}
	platform, err := reg.CreatePlatform(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio platform", "name", cfg.Audio.Platform, "err", err)
		return 1
	}
	if closer, ok := platform.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ── Session controller ────────────────────────────────────────────────────
	ctrl := session.New(session.Config{
		Provider:     provider,
		ProviderName: cfg.Session.Provider,
		Platform:     platform,
		Credential:   cfg.Session.ResolveAPIKey(),
		Session: live.SessionConfig{
			Voice:        live.VoiceProfile{ID: cfg.Session.Voice},
			Instructions: cfg.Session.Instructions,
		},
		Policy:       connectPolicy(cfg.Session),
		FrameSamples: cfg.Audio.FrameSamples,
		Metrics:      metrics,
		Logger:       logger,
	})

	sessionEnded := make(chan struct{})
	ctrl.OnStatusChange(func(st session.Status) {
		if st.Err != nil {
			slog.Error("session status", "state", st.State, "err", st.Err)
		} else {
			slog.Info("session status", "state", st.State)
		}
		if st.State == session.StateDisconnected || st.State == session.StateError {
			close(sessionEnded)
		}
	})
	ctrl.OnTranscript(func(t live.Transcript) {
		fmt.Printf("[%s] %s\n", t.Role, t.Text)
	})

	// ── Admin HTTP server ─────────────────────────────────────────────────────
	srv := newAdminServer(cfg.Server, metrics, ctrl)
	go func() {
		err := listenAndServe(srv, cfg.Server.TLS)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin server error", "err", err)
		}
	}()

	printStartupSummary(cfg)

	// ── Run the session ───────────────────────────────────────────────────────
	if err := ctrl.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		shutdownAdmin(srv)
		return 1
	}

	slog.Info("session ready: m mutes, v shows volume, q quits, Ctrl+C shuts down")
	go commandLoop(ctrl, stop)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case <-sessionEnded:
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	if err := ctrl.Close(); err != nil {
		slog.Warn("session close error", "err", err)
	}
	shutdownAdmin(srv)

	if st := ctrl.Status(); st.State == session.StateError {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltins wires the provider and platform factories that ship with
// Voxline into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterLive("gemini-live", func(cfg config.SessionConfig) (live.Provider, error) {
		var opts []geminilive.Option
		if cfg.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Model))
		}
		return geminilive.New(cfg.ResolveAPIKey(), opts...), nil
	})

	reg.RegisterPlatform("local", func(_ config.AudioConfig) (device.Platform, error) {
		return local.New()
	})
}

// connectPolicy maps the config to a session connect policy.
func connectPolicy(cfg config.SessionConfig) session.ConnectPolicy {
	if cfg.MaxRetries > 0 {
		return session.Backoff{MaxRetries: cfg.MaxRetries}
	}
	return session.SingleAttempt{}
}

// ── Admin HTTP server ─────────────────────────────────────────────────────────

// newAdminServer builds the metrics and health endpoint server. Readiness
// follows the session state.
func newAdminServer(cfg config.ServerConfig, metrics *observe.Metrics, ctrl *session.Controller) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New(health.Checker{
		Name: "session",
		Check: func(context.Context) error {
			st := ctrl.Status()
			if st.State != session.StateConnected {
				return fmt.Errorf("session is %s", st.State)
			}
			return nil
		},
	})
	h.Register(mux)

	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServe(srv *http.Server, tls *config.TLSConfig) error {
	if tls != nil {
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return srv.ListenAndServe()
}

func shutdownAdmin(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("admin server shutdown error", "err", err)
	}
}

// ── Interactive commands ──────────────────────────────────────────────────────

// commandLoop reads single-letter commands from stdin until EOF or quit.
func commandLoop(ctrl *session.Controller, quit func()) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "m":
			if ctrl.ToggleMute() {
				fmt.Println("microphone muted")
			} else {
				fmt.Println("microphone live")
			}
		case "v":
			fmt.Printf("input volume: %.0f\n", ctrl.Volume())
		case "q":
			quit()
			return
		case "":
		default:
			fmt.Println("commands: m (toggle mute), v (volume), q (quit)")
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxline startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Provider", cfg.Session.Provider)
	printField("Model", valueOr(cfg.Session.Model, "(provider default)"))
	printField("Voice", cfg.Session.Voice)
	printField("Platform", cfg.Audio.Platform)
	printField("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", name, value)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// ── Logger ────────────────────────────────────────────────────────────────────

func toSlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
