package config

const mebibyte = 1024 * 1024

const (
	defaultWorkspaceDir           = "~/.local/share/clipfit/work"
	defaultOutboxDir              = "~/.local/share/clipfit/outbox"
	defaultStateDir               = "~/.local/share/clipfit"
	defaultLogDir                 = "~/.local/share/clipfit/logs"
	defaultAPIBind                = "127.0.0.1:8000"
	defaultCeilingMiB             = 50
	defaultMarginMiB              = 5
	defaultMaxAttempts            = 3
	defaultFFmpegBinary           = "ffmpeg"
	defaultFFprobeBinary          = "ffprobe"
	defaultVideoCodec             = "libx264"
	defaultAudioCodec             = "aac"
	defaultPreset                 = "medium"
	defaultTranscodeTimeout       = 1800
	defaultExtractorBinary        = "yt-dlp"
	defaultUserAgent              = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultManifestTimeout        = 60
	defaultDownloadTimeout        = 900
	defaultMaxConcurrentJobs      = 4
	defaultShutdownGraceSeconds   = 30
	defaultSweepSchedule          = "@every 15m"
	defaultWorkspaceMaxAgeMinutes = 360
	defaultMinFreeMiB             = 512
	defaultSubmitRate             = 2
	defaultSubmitBurst            = 5
	defaultFileRetentionSeconds   = 300
	defaultTelegramAPIBaseURL     = "https://api.telegram.org"
	defaultTelegramTimeout        = 120
	defaultNotifyRequestTimeout   = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkspaceDir: defaultWorkspaceDir,
			OutboxDir:    defaultOutboxDir,
			StateDir:     defaultStateDir,
			LogDir:       defaultLogDir,
			APIBind:      defaultAPIBind,
		},
		Budget: Budget{
			CeilingMiB:  defaultCeilingMiB,
			MarginMiB:   defaultMarginMiB,
			MaxAttempts: defaultMaxAttempts,
		},
		Transcoder: Transcoder{
			FFmpegBinary:   defaultFFmpegBinary,
			FFprobeBinary:  defaultFFprobeBinary,
			VideoCodec:     defaultVideoCodec,
			AudioCodec:     defaultAudioCodec,
			Preset:         defaultPreset,
			VerifyOutput:   true,
			TimeoutSeconds: defaultTranscodeTimeout,
		},
		Extractor: Extractor{
			Binary:                 defaultExtractorBinary,
			UserAgent:              defaultUserAgent,
			ManifestTimeoutSeconds: defaultManifestTimeout,
			DownloadTimeoutSeconds: defaultDownloadTimeout,
		},
		Workflow: Workflow{
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			ShutdownGraceSeconds:   defaultShutdownGraceSeconds,
			SweepSchedule:          defaultSweepSchedule,
			WorkspaceMaxAgeMinutes: defaultWorkspaceMaxAgeMinutes,
			MinFreeMiB:             defaultMinFreeMiB,
		},
		API: API{
			SubmitRate:           defaultSubmitRate,
			SubmitBurst:          defaultSubmitBurst,
			FileRetentionSeconds: defaultFileRetentionSeconds,
		},
		Telegram: Telegram{
			APIBaseURL:     defaultTelegramAPIBaseURL,
			RequestTimeout: defaultTelegramTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
