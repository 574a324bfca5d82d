package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"whisplayim/internal/config"
	"whisplayim/internal/domain"
	"whisplayim/internal/journal"
	"whisplayim/internal/metrics"
	"whisplayim/internal/pipeline"
	"whisplayim/internal/relay"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version    = "0.2.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	// .env is optional; already-set environment variables win.
	godotenv.Load()

	root := &cobra.Command{
		Use:   "whisplayim",
		Short: "Whisplay IM bridge: relay chat between a gateway and a Whisplay device",
		Long:  "whisplayim long-polls a Whisplay device over HTTP, feeds inbound messages\nthrough a reply pipeline, and pushes replies and pairing alerts back.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.whisplayim/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(pollCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(journalCmd())
	root.AddCommand(configCmd())
	root.AddCommand(wizardCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logDir := config.ExpandPath(cfg.Pairing.LogDir)
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "logDir", logDir)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// newLogger rebuilds the process logger from config: level from
// general.logLevel, output to general.logFile when set.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	out := io.Writer(os.Stderr)
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		} else {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bridge (all enabled accounts)",
		Long:  "Starts a polling session per enabled account plus the pairing watch. Press Ctrl+C to stop.",
		RunE:  runBridge,
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger = newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *journal.Store
	if cfg.Journal.Enabled {
		store, err = journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("journal store: %w", err)
		}
		defer store.Close()
		if n, err := store.Prune(ctx, cfg.Journal.RetentionDays); err != nil {
			logger.Warn("journal prune failed", "err", err)
		} else if n > 0 {
			logger.Info("journal pruned", "events", n)
		}
		go pruneLoop(ctx, store, cfg.Journal.RetentionDays)
	}

	svc := relay.NewService(relay.Config{
		Config:   cfg,
		Pipeline: buildPipeline(cfg),
		Journal:  store,
		Logger:   logger,
	})

	started := 0
	for _, id := range cfg.ListAccounts() {
		acct := cfg.Resolve(id)
		if !acct.Enabled {
			logger.Info("account disabled, skipping", "account", id)
			continue
		}
		if err := svc.StartSession(ctx, id); err != nil {
			logger.Error("session start failed", "account", id, "err", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no startable accounts (checked %d)", len(cfg.ListAccounts()))
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg)
	}

	logger.Info("bridge started. Press Ctrl+C to stop.", "accounts", started)

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down bridge...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}
	return shutdownErr
}

// buildPipeline picks the reply pipeline from config. Anything but webhook
// falls back to echo so a stale mode value cannot take the bridge down.
func buildPipeline(cfg *config.Config) domain.ReplyPipeline {
	switch cfg.Pipeline.Mode {
	case "webhook":
		return pipeline.NewWebhook(pipeline.WebhookConfig{
			URL:     cfg.Pipeline.WebhookURL,
			Token:   cfg.Pipeline.WebhookToken,
			Timeout: time.Duration(cfg.Pipeline.TimeoutSec) * time.Second,
			Logger:  logger,
		})
	default:
		return pipeline.Echo{}
	}
}

// startMetricsServer serves /metrics and /healthz in the background.
func startMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", metrics.Collector.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status":"ok","version":"`+version+`"}`)
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Metrics.Host, cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("metrics server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

// pruneLoop re-applies journal retention once a day while the bridge runs.
func pruneLoop(ctx context.Context, store *journal.Store, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := store.Prune(ctx, retentionDays); err != nil {
				logger.Warn("journal prune failed", "err", err)
			} else if n > 0 {
				logger.Info("journal pruned", "events", n)
			}
		}
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. pairing.logDir)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. waitSec 60)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
