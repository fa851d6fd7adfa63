package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"

	"clipfit/internal/api"
	"clipfit/internal/config"
	"clipfit/internal/delivery"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/preflight"
	"clipfit/internal/workflow"
	"clipfit/internal/workspace"
)

// Components are the long-lived collaborators the daemon coordinates.
type Components struct {
	Store     *jobstore.Store
	Workflow  *workflow.Manager
	Hub       *delivery.Hub
	Workspace *workspace.Manager
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *jobstore.Store
	workflow  *workflow.Manager
	hub       *delivery.Hub
	workspace *workspace.Manager

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	scheduler *cron.Cron
	api       *apiServer

	running atomic.Bool
	stopped atomic.Bool
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || logger == nil || comps.Store == nil || comps.Workflow == nil || comps.Hub == nil || comps.Workspace == nil {
		return nil, errors.New("daemon requires config, logger, store, workflow manager, hub, and workspace manager")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     comps.Store,
		workflow:  comps.Workflow,
		hub:       comps.Hub,
		workspace: comps.Workspace,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, recovers interrupted jobs, schedules
// sweeps and starts the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.stopped.Load() {
		return errors.New("daemon already stopped")
	}
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another clipfit daemon instance is already running")
	}

	if n, err := d.store.MarkInterrupted(ctx); err != nil {
		logging.WarnWithContext(d.logger, "failed to mark interrupted jobs", "recover_jobs_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale jobs keep showing as running"),
		)
	} else if n > 0 {
		d.logger.Info("marked interrupted jobs as failed",
			logging.Int64("count", n),
			logging.String(logging.FieldEventType, "jobs_interrupted"),
		)
	}

	d.Sweep(ctx)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(d.cfg.Workflow.SweepSchedule, func() { d.Sweep(context.Background()) }); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("schedule sweep %q: %w", d.cfg.Workflow.SweepSchedule, err)
	}

	srv, err := newAPIServer(d.cfg, d, d.logger)
	if err != nil {
		_ = d.lock.Unlock()
		return err
	}
	if err := srv.start(); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	scheduler.Start()

	d.mu.Lock()
	d.scheduler = scheduler
	d.api = srv
	d.mu.Unlock()

	d.running.Store(true)
	d.logger.Info("clipfit daemon started",
		logging.String("lock", d.lockPath),
		logging.String("sweep_schedule", d.cfg.Workflow.SweepSchedule),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop stops accepting work, waits for in-flight jobs up to ctx's deadline
// and releases the daemon lock.
func (d *Daemon) Stop(ctx context.Context) error {
	if !d.running.Load() {
		return nil
	}
	d.running.Store(false)
	d.stopped.Store(true)

	d.mu.Lock()
	srv, scheduler := d.api, d.scheduler
	d.mu.Unlock()

	srv.stop()
	shutdownErr := d.workflow.Shutdown(ctx)
	if shutdownErr != nil {
		logging.WarnWithContext(d.logger, "jobs still running at shutdown", "shutdown_incomplete",
			logging.Error(shutdownErr),
			logging.String(logging.FieldImpact, "remaining jobs finish their cleanup in the background"),
		)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("clipfit daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
	return shutdownErr
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGrace())
	defer cancel()
	_ = d.Stop(ctx)
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start has succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Addr returns the API listen address, or "" when the API is disabled.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.api.addr()
}

// Sweep removes stale workspaces and expired outbox files.
func (d *Daemon) Sweep(ctx context.Context) {
	result := d.workspace.SweepStale(ctx, d.cfg.WorkspaceMaxAge())
	for _, failure := range result.Errors {
		logging.WarnWithContext(d.logger, "failed to remove stale workspace", "workspace_sweep_failed",
			logging.String("path", failure.Path),
			logging.Error(failure.Error),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	}
	removed := d.hub.Sweep(d.cfg.FileRetention())
	d.logger.Debug("sweep finished",
		logging.Int("workspaces_removed", len(result.Removed)),
		logging.Int("outbox_removed", removed),
	)
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Budget:       api.FromBudget(d.workflow.Budget(), d.cfg.Budget.MaxAttempts),
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(ctx, d.cfg)),
		Checks:       api.FromChecks(preflight.RunAll(ctx, d.cfg)),
	}
	for _, snap := range d.workflow.Active() {
		status.ActiveJobs = append(status.ActiveJobs, api.FromSnapshot(snap))
	}
	if counts, err := d.store.Counts(ctx); err == nil {
		status.JobCounts = api.FromCounts(counts)
	} else {
		d.logger.Warn("failed to read job counts", logging.Error(err))
	}
	return status
}
