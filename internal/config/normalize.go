package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTranscoder()
	if err := c.normalizeExtractor(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeAPI()
	c.normalizeTelegram()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.WorkspaceDir, err = expandPath(c.Paths.WorkspaceDir); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if c.Paths.OutboxDir, err = expandPath(c.Paths.OutboxDir); err != nil {
		return fmt.Errorf("paths.outbox_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeTranscoder() {
	c.Transcoder.FFmpegBinary = strings.TrimSpace(c.Transcoder.FFmpegBinary)
	if c.Transcoder.FFmpegBinary == "" {
		c.Transcoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcoder.FFprobeBinary = strings.TrimSpace(c.Transcoder.FFprobeBinary)
	if c.Transcoder.FFprobeBinary == "" {
		c.Transcoder.FFprobeBinary = defaultFFprobeBinary
	}
	c.Transcoder.VideoCodec = strings.TrimSpace(c.Transcoder.VideoCodec)
	if c.Transcoder.VideoCodec == "" {
		c.Transcoder.VideoCodec = defaultVideoCodec
	}
	c.Transcoder.AudioCodec = strings.TrimSpace(c.Transcoder.AudioCodec)
	if c.Transcoder.AudioCodec == "" {
		c.Transcoder.AudioCodec = defaultAudioCodec
	}
	c.Transcoder.Preset = strings.ToLower(strings.TrimSpace(c.Transcoder.Preset))
	if c.Transcoder.Preset == "" {
		c.Transcoder.Preset = defaultPreset
	}
}

func (c *Config) normalizeExtractor() error {
	c.Extractor.Binary = strings.TrimSpace(c.Extractor.Binary)
	if c.Extractor.Binary == "" {
		c.Extractor.Binary = defaultExtractorBinary
	}
	c.Extractor.UserAgent = strings.TrimSpace(c.Extractor.UserAgent)
	if strings.TrimSpace(c.Extractor.CookiesFile) != "" {
		expanded, err := expandPath(c.Extractor.CookiesFile)
		if err != nil {
			return fmt.Errorf("extractor.cookies_file: %w", err)
		}
		c.Extractor.CookiesFile = expanded
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.SweepSchedule = strings.TrimSpace(c.Workflow.SweepSchedule)
	if c.Workflow.SweepSchedule == "" {
		c.Workflow.SweepSchedule = defaultSweepSchedule
	}
}

func (c *Config) normalizeAPI() {
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("CLIPFIT_API_TOKEN"); ok {
			c.API.Token = strings.TrimSpace(value)
		}
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeTelegram() {
	if c.Telegram.BotToken == "" {
		if value, ok := os.LookupEnv("CLIPFIT_TELEGRAM_TOKEN"); ok {
			c.Telegram.BotToken = strings.TrimSpace(value)
		}
	}
	c.Telegram.BotToken = strings.TrimSpace(c.Telegram.BotToken)
	c.Telegram.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.Telegram.APIBaseURL), "/")
	if c.Telegram.APIBaseURL == "" {
		c.Telegram.APIBaseURL = defaultTelegramAPIBaseURL
	}
	if c.Telegram.RequestTimeout <= 0 {
		c.Telegram.RequestTimeout = defaultTelegramTimeout
	}
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = value
		}
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
