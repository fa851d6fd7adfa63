package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"clipfit/internal/config"
	"clipfit/internal/daemon"
	"clipfit/internal/delivery"
	"clipfit/internal/deps"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/notifications"
	"clipfit/internal/preflight"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the clipfit daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr", filepath.Join(cfg.Paths.LogDir, "clipfit.log")},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(signalCtx, logger, cfg)
	pidPath := filepath.Join(cfg.Paths.StateDir, "clipfit.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}

	notifier := notifications.NewService(cfg)
	hub := delivery.NewHub(cfg.Paths.OutboxDir, logger)
	pipeline := NewPipeline(cfg, logger, PipelineOptions{
		Delivery: NewRouter(cfg, hub, logger),
		Store:    store,
		Notifier: notifier,
	})

	d, err := daemon.New(cfg, logger, daemon.Components{
		Store:     store,
		Workflow:  pipeline.Workflow,
		Hub:       hub,
		Workspace: pipeline.Workspace,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running daemon and the api_bind address"),
			logging.String(logging.FieldImpact, "no jobs are accepted"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("clipfit daemon shutting down",
		logging.Duration("grace", cfg.ShutdownGrace()),
		logging.String(logging.FieldEventType, "daemon_shutdown"),
	)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	statuses := preflight.CheckSystemDeps(ctx, cfg)
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("telegram_enabled", cfg.Telegram.Enabled),
		logging.Bool("api_token_present", cfg.API.Token != ""),
	}
	for _, status := range statuses {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
	if missing := deps.MissingRequired(statuses); len(missing) > 0 {
		logging.WarnWithContext(logger, "required binaries missing", "dependency_missing",
			logging.Any("missing", missing),
			logging.String(logging.FieldErrorHint, "install ffmpeg and yt-dlp or set their paths in config"),
			logging.String(logging.FieldImpact, "jobs fail at download or transcode"),
		)
	}
}
