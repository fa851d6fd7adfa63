package config

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBudget(); err != nil {
		return err
	}
	if err := c.validateTranscoder(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateTelegram(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.WorkspaceDir == "" {
		return errors.New("paths.workspace_dir must be set")
	}
	if c.Paths.OutboxDir == "" {
		return errors.New("paths.outbox_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	if c.Paths.WorkspaceDir == c.Paths.OutboxDir {
		return errors.New("paths.workspace_dir and paths.outbox_dir must differ")
	}
	return nil
}

func (c *Config) validateBudget() error {
	if c.Budget.CeilingMiB <= 0 {
		return errors.New("budget.ceiling_mib must be positive")
	}
	if c.Budget.MarginMiB < 0 {
		return errors.New("budget.margin_mib must be non-negative")
	}
	if c.Budget.MarginMiB >= c.Budget.CeilingMiB {
		return fmt.Errorf("budget.margin_mib (%d) must be smaller than budget.ceiling_mib (%d)", c.Budget.MarginMiB, c.Budget.CeilingMiB)
	}
	if c.Budget.MaxAttempts < 1 || c.Budget.MaxAttempts > 10 {
		return errors.New("budget.max_attempts must be between 1 and 10")
	}
	return nil
}

func (c *Config) validateTranscoder() error {
	switch c.Transcoder.Preset {
	case "ultrafast", "superfast", "veryfast", "faster", "fast", "medium", "slow", "slower", "veryslow":
	default:
		return fmt.Errorf("transcoder.preset: unsupported value %q", c.Transcoder.Preset)
	}
	if c.Transcoder.TimeoutSeconds < 0 {
		return errors.New("transcoder.timeout_seconds must be non-negative")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.MaxConcurrentJobs <= 0 {
		return errors.New("workflow.max_concurrent_jobs must be positive")
	}
	if c.Workflow.ShutdownGraceSeconds < 0 {
		return errors.New("workflow.shutdown_grace_seconds must be non-negative")
	}
	if c.Workflow.WorkspaceMaxAgeMinutes <= 0 {
		return errors.New("workflow.workspace_max_age_minutes must be positive")
	}
	if c.Workflow.MinFreeMiB < 0 {
		return errors.New("workflow.min_free_mib must be non-negative")
	}
	if _, err := cron.ParseStandard(c.Workflow.SweepSchedule); err != nil {
		return fmt.Errorf("workflow.sweep_schedule: %w", err)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.SubmitRate <= 0 {
		return errors.New("api.submit_rate must be positive")
	}
	if c.API.SubmitBurst <= 0 {
		return errors.New("api.submit_burst must be positive")
	}
	if c.API.FileRetentionSeconds <= 0 {
		return errors.New("api.file_retention_seconds must be positive")
	}
	return nil
}

func (c *Config) validateTelegram() error {
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/clipfit/config.toml"
		}
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled. Set CLIPFIT_TELEGRAM_TOKEN or edit %s", defaultPath)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
