// Command voxgate is the voice-aware streaming proxy between a voice
// platform and the agent gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxgate/voxgate/internal/app"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/observe"
)

// version is stamped by the release build; local builds report "dev".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the optional YAML configuration file")
	flag.Parse()

	// ── Load configuration ──────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		return 1
	}

	// ── Logger ──────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can adjust it live.
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.Slog())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ──────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ───────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "voxgate",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Config hot reload ───────────────────────────────────────────────────────
	// Only the log level applies live; anything else logs a restart warning.
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			applyConfigChange(logLevel, old, new)
		})
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	// ── Startup summary ─────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ───────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyConfigChange applies what can change at runtime and warns about
// everything that cannot.
func applyConfigChange(level *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	for _, name := range d.RestartRequired {
		slog.Warn("config change requires a restart to take effect", "setting", name)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

const summaryValueWidth = 33

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║             voxgate — startup summary             ║")
	fmt.Println("╠═══════════════════════════════════════════════════╣")
	printRow("Listen addr", cfg.Server.Addr())
	printRow("Upstream", cfg.Upstream.URL)
	printRow("Agent", cfg.Upstream.Agent)
	printRow("Auth", tokenSummary(cfg.Upstream.Token))
	printRow("Debounce", cfg.Timing.Debounce().String())
	printRow("Keep-alive", fmt.Sprintf("every %v, idle ≥ %v",
		cfg.Timing.KeepAliveInterval(), cfg.Timing.KeepAliveIdle()))
	printRow("Buffer hold", cfg.Timing.MinBufferSpeech().String())
	printRow("Dedup window", cfg.Timing.DedupWindow().String())
	printRow("Conversations", fmt.Sprintf("%d max", cfg.Conversations.Max))
	fmt.Println("╚═══════════════════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > summaryValueWidth {
		value = value[:summaryValueWidth-1] + "…"
	}
	fmt.Printf("║  %-12s : %-*s ║\n", label, summaryValueWidth, value)
}

// tokenSummary renders the auth setting without leaking the token itself.
func tokenSummary(token string) string {
	if token == "" {
		return "(no token)"
	}
	return "bearer token set"
}
