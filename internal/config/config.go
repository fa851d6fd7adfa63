package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkspaceDir string `toml:"workspace_dir"`
	OutboxDir    string `toml:"outbox_dir"`
	StateDir     string `toml:"state_dir"`
	LogDir       string `toml:"log_dir"`
	APIBind      string `toml:"api_bind"`
}

// Budget describes the delivery size ceiling and the retry budget used to
// reach it.
type Budget struct {
	CeilingMiB  int `toml:"ceiling_mib"`
	MarginMiB   int `toml:"margin_mib"`
	MaxAttempts int `toml:"max_attempts"`
}

// Transcoder contains ffmpeg settings.
type Transcoder struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	VideoCodec     string `toml:"video_codec"`
	AudioCodec     string `toml:"audio_codec"`
	Preset         string `toml:"preset"`
	VerifyOutput   bool   `toml:"verify_output"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Extractor contains yt-dlp settings.
type Extractor struct {
	Binary                 string `toml:"binary"`
	UserAgent              string `toml:"user_agent"`
	CookiesFile            string `toml:"cookies_file"`
	ManifestTimeoutSeconds int    `toml:"manifest_timeout_seconds"`
	DownloadTimeoutSeconds int    `toml:"download_timeout_seconds"`
}

// Workflow contains job scheduling and housekeeping settings.
type Workflow struct {
	MaxConcurrentJobs      int    `toml:"max_concurrent_jobs"`
	ShutdownGraceSeconds   int    `toml:"shutdown_grace_seconds"`
	SweepSchedule          string `toml:"sweep_schedule"`
	WorkspaceMaxAgeMinutes int    `toml:"workspace_max_age_minutes"`
	MinFreeMiB             int    `toml:"min_free_mib"`
}

// API contains HTTP front end settings.
type API struct {
	Token                string  `toml:"token"`
	SubmitRate           float64 `toml:"submit_rate"`
	SubmitBurst          int     `toml:"submit_burst"`
	FileRetentionSeconds int     `toml:"file_retention_seconds"`
}

// Telegram contains Bot API delivery settings.
type Telegram struct {
	Enabled        bool   `toml:"enabled"`
	BotToken       string `toml:"bot_token"`
	APIBaseURL     string `toml:"api_base_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobCompleted   bool   `toml:"job_completed"`
	JobFailed      bool   `toml:"job_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipfit.
//
// Configuration sections by subsystem:
//   - Paths: workspace, outbox, state and log directories plus API bind address
//   - Budget: delivery size ceiling, safety margin and retry budget
//   - Transcoder: ffmpeg/ffprobe binaries and encoder settings
//   - Extractor: yt-dlp binary and timeouts
//   - Workflow: concurrency cap and housekeeping sweeps
//   - API: HTTP front end throttling and artifact retention
//   - Telegram: Bot API delivery channel
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Budget        Budget        `toml:"budget"`
	Transcoder    Transcoder    `toml:"transcoder"`
	Extractor     Extractor     `toml:"extractor"`
	Workflow      Workflow      `toml:"workflow"`
	API           API           `toml:"api"`
	Telegram      Telegram      `toml:"telegram"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipfit/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipfit.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkspaceDir, c.Paths.OutboxDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CeilingBytes returns the delivery size ceiling in bytes.
func (c *Config) CeilingBytes() int64 {
	return int64(c.Budget.CeilingMiB) * mebibyte
}

// MarginBytes returns the safety margin in bytes.
func (c *Config) MarginBytes() int64 {
	return int64(c.Budget.MarginMiB) * mebibyte
}

// MinFreeBytes returns the free-space floor required before a job allocates a workspace.
func (c *Config) MinFreeBytes() uint64 {
	if c.Workflow.MinFreeMiB <= 0 {
		return 0
	}
	return uint64(c.Workflow.MinFreeMiB) * mebibyte
}

// DatabasePath returns the job history database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "jobs.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "clipfit.lock")
}

// FFmpegBinary returns the ffmpeg executable used for transcoding.
func (c *Config) FFmpegBinary() string {
	return c.Transcoder.FFmpegBinary
}

// FFprobeBinary returns the ffprobe executable used for output verification.
func (c *Config) FFprobeBinary() string {
	return c.Transcoder.FFprobeBinary
}

// ExtractorBinary returns the yt-dlp executable.
func (c *Config) ExtractorBinary() string {
	return c.Extractor.Binary
}

// TranscodeTimeout bounds one ffmpeg invocation. Zero means no limit.
func (c *Config) TranscodeTimeout() time.Duration {
	return seconds(c.Transcoder.TimeoutSeconds)
}

// ManifestTimeout bounds one manifest fetch.
func (c *Config) ManifestTimeout() time.Duration {
	return seconds(c.Extractor.ManifestTimeoutSeconds)
}

// DownloadTimeout bounds one materialize call.
func (c *Config) DownloadTimeout() time.Duration {
	return seconds(c.Extractor.DownloadTimeoutSeconds)
}

// WorkspaceMaxAge is the age after which an orphaned workspace is swept.
func (c *Config) WorkspaceMaxAge() time.Duration {
	return time.Duration(c.Workflow.WorkspaceMaxAgeMinutes) * time.Minute
}

// FileRetention is how long a delivered artifact waits in the outbox.
func (c *Config) FileRetention() time.Duration {
	return seconds(c.API.FileRetentionSeconds)
}

// ShutdownGrace bounds how long the daemon waits for in-flight jobs.
func (c *Config) ShutdownGrace() time.Duration {
	return seconds(c.Workflow.ShutdownGraceSeconds)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
