package daemonrun

import (
	"log/slog"
	"net/http"
	"time"

	"clipfit/internal/budget"
	"clipfit/internal/config"
	"clipfit/internal/delivery"
	"clipfit/internal/encoding"
	"clipfit/internal/extractor"
	"clipfit/internal/media/ffmpeg"
	"clipfit/internal/media/ffprobe"
	"clipfit/internal/notifications"
	"clipfit/internal/registry"
	"clipfit/internal/workflow"
	"clipfit/internal/workspace"
)

// Pipeline holds the collaborators built from configuration.
type Pipeline struct {
	Workflow  *workflow.Manager
	Workspace *workspace.Manager
}

// PipelineOptions selects the delivery side of a pipeline. Store and
// Notifier may be nil.
type PipelineOptions struct {
	Delivery      delivery.Channel
	Store         workflow.Store
	Notifier      notifications.Service
	MaxConcurrent int
}

// NewPipeline wires extractor, transcoder, workspace and registry into a
// workflow manager. The daemon and the one-shot fetch command share it.
func NewPipeline(cfg *config.Config, logger *slog.Logger, opts PipelineOptions) *Pipeline {
	ex := extractor.New(extractor.Options{
		Binary:          cfg.ExtractorBinary(),
		UserAgent:       cfg.Extractor.UserAgent,
		CookiesFile:     cfg.Extractor.CookiesFile,
		ManifestTimeout: cfg.ManifestTimeout(),
		DownloadTimeout: cfg.DownloadTimeout(),
	}, logger)

	transcoder := ffmpeg.NewTranscoder(ffmpeg.Options{
		Binary:     cfg.FFmpegBinary(),
		VideoCodec: cfg.Transcoder.VideoCodec,
		AudioCodec: cfg.Transcoder.AudioCodec,
		Preset:     cfg.Transcoder.Preset,
	}, cfg.TranscodeTimeout(), logger)

	var verifier encoding.Verifier
	if cfg.Transcoder.VerifyOutput {
		verifier = ffprobe.Verifier{Binary: cfg.FFprobeBinary()}
	}

	ws := workspace.NewManager(cfg.Paths.WorkspaceDir, cfg.MinFreeBytes(), logger)

	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = cfg.Workflow.MaxConcurrentJobs
	}
	manager := workflow.NewManager(workflow.Dependencies{
		Extractor: ex,
		Attempts:  encoding.NewAttempt(transcoder, verifier, logger),
		Delivery:  opts.Delivery,
		Workspace: ws,
		Registry:  registry.New(),
		Store:     opts.Store,
		Notifier:  opts.Notifier,
	}, workflow.Options{
		Budget: budget.SizeBudget{
			CeilingBytes: cfg.CeilingBytes(),
			MarginBytes:  cfg.MarginBytes(),
		},
		MaxAttempts:   cfg.Budget.MaxAttempts,
		MaxConcurrent: maxConcurrent,
	}, logger)

	return &Pipeline{Workflow: manager, Workspace: ws}
}

// NewRouter routes http requesters and unscoped ones to the hub, and
// telegram requesters to the Bot API when it is enabled.
func NewRouter(cfg *config.Config, hub *delivery.Hub, logger *slog.Logger) *delivery.Router {
	router := delivery.NewRouter(hub)
	router.Handle("http", hub)
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		client := &http.Client{Timeout: time.Duration(cfg.Telegram.RequestTimeout) * time.Second}
		router.Handle("telegram", delivery.NewTelegram(cfg.Telegram.APIBaseURL, cfg.Telegram.BotToken, client, logger))
	}
	return router
}
