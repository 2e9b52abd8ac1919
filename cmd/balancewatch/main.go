package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/balancewatch/accounts"
	"github.com/use-agent/balancewatch/api"
	"github.com/use-agent/balancewatch/config"
	"github.com/use-agent/balancewatch/models"
	"github.com/use-agent/balancewatch/monitor"
	"github.com/use-agent/balancewatch/perf"
	"github.com/use-agent/balancewatch/pool"
	"github.com/use-agent/balancewatch/probe"
	"github.com/use-agent/balancewatch/scheduler"
	"github.com/use-agent/balancewatch/statestore"
	"github.com/use-agent/balancewatch/webcheck"
	"github.com/use-agent/balancewatch/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("balancewatch starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"poolSize", cfg.Pool.Size,
	)

	// ── 3. Open durable state ───────────────────────────────────────
	store, err := statestore.Open(cfg.State.Dir, cfg.Performance.RolloverHour)
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// ── 4. Performance monitor (optional durable recorder) ──────────
	var recorder *perf.Recorder
	if cfg.Recorder.Enabled {
		recorder, err = perf.NewRecorder(cfg.Recorder.Path)
		if err != nil {
			slog.Error("failed to open metric recorder", "error", err)
			os.Exit(1)
		}
		defer recorder.Close()
	}
	perfMon := perf.NewMonitor(cfg.Performance.HistorySize, recorder)

	// ── 5. Acquisition strategies ───────────────────────────────────
	fastFactory := func() (monitor.FastClient, error) {
		if cfg.API.BaseURL == "" {
			return nil, fmt.Errorf("api.base_url is not configured")
		}
		return probe.NewClient(cfg.API.BaseURL, cfg.API.Timeout), nil
	}

	// The hook replaces the browser flow entirely, so Chromium workers are
	// only spawned when no command is configured.
	var browserPool *pool.BrowserPool
	var slow monitor.SlowChecker
	if cfg.WebCheck.Command != "" {
		slow = webcheck.NewHook(webcheck.HookConfig{
			Command: cfg.WebCheck.Command,
			Args:    cfg.WebCheck.Args,
			Timeout: cfg.WebCheck.Timeout,
		})
		slog.Info("using external hook for web checks", "command", cfg.WebCheck.Command)
	} else {
		browserPool = pool.New(pool.Config{
			Size:    cfg.Pool.Size,
			MaxSize: cfg.Pool.MaxSize,
		}, pool.ChromiumSpawner(pool.SpawnOptions{
			Headless:  cfg.Browser.Headless,
			Bin:       cfg.Browser.Bin,
			NoSandbox: cfg.Browser.NoSandbox,
		}))
		defer browserPool.Shutdown()

		slow = webcheck.New(browserPool, webcheck.Config{
			ConsoleURL:      cfg.WebCheck.ConsoleURL,
			Timeout:         cfg.WebCheck.Timeout,
			AcquireTimeout:  cfg.Pool.AcquireTimeout,
			ExtractWait:     cfg.WebCheck.ExtractWait,
			SyncAPIKeyQuota: cfg.WebCheck.SyncAPIKeyQuota,
		})
	}

	// ── 6. Orchestrator ─────────────────────────────────────────────
	mon := monitor.New(fastFactory, slow, store, perfMon, nil, monitor.Config{
		MaxWorkers:    cfg.Performance.MaxWorkers,
		RetryTimes:    cfg.Performance.RetryTimes,
		RetryDelay:    cfg.Performance.RetryDelay,
		FallbackToWeb: cfg.API.FallbackToWeb,
	})

	creds := accounts.NewFile(cfg.State.CredentialsFile)
	gate := &monitor.Gate{}

	// ── 7. Scheduler ────────────────────────────────────────────────
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Performance.QueryInterval > 0 {
		run := func(ctx context.Context) []models.CheckResult {
			accts, err := creds.Load()
			if err != nil {
				slog.Error("scheduled check could not load credentials", "error", err)
				return nil
			}
			if len(accts) == 0 {
				slog.Warn("scheduled check skipped, no accounts configured")
				return nil
			}
			return mon.CheckAccounts(ctx, accts, "")
		}
		completed := func(results []models.CheckResult) {
			if cfg.Webhook.URL != "" && len(results) > 0 {
				webhook.DeliverAsync(cfg.Webhook.URL, cfg.Webhook.Secret,
					webhook.NewBatchCompleted("normal", results))
			}
		}
		sched := scheduler.New(rootCtx, gate, run, completed)
		if err := sched.Register(cfg.Performance.QueryInterval); err != nil {
			slog.Error("failed to register schedule", "error", err)
			os.Exit(1)
		}
		sched.Start()
		defer sched.Stop()
	}

	// ── 8. HTTP server ──────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(mon, gate, browserPool, store, perfMon, creds, cfg, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())
	rootCancel()

	// Give in-flight requests 5 seconds to complete.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// store.Close and the pool shutdown (browser mode only) run via defer.
	slog.Info("balancewatch stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
