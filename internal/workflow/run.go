package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"

	"clipfit/internal/budget"
	"clipfit/internal/delivery"
	"clipfit/internal/encoding"
	"clipfit/internal/extractor"
	"clipfit/internal/fileutil"
	"clipfit/internal/jobstore"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/services"
	"clipfit/internal/textutil"
)

const downloadDirName = "download"

// run is the job goroutine. Stages run strictly in sequence on a context
// that ignores manager shutdown, so a started job always reaches cleanup.
func (m *Manager) run(j *job) {
	defer m.wg.Done()

	snap := j.snapshot()
	ctx := services.WithJobID(context.Background(), snap.ID)
	ctx = services.WithRequester(ctx, snap.RequesterID)
	ctx = services.WithRequestID(ctx, snap.CorrelationID)

	var out outcome
	defer m.finish(ctx, j, &out)

	if err := m.slots.Acquire(m.base, 1); err != nil {
		out.err = services.Wrap(services.ErrTransient, "workflow", "schedule", "", ErrShuttingDown)
		return
	}
	defer m.slots.Release(1)

	out = m.execute(ctx, j)
}

func (m *Manager) execute(ctx context.Context, j *job) outcome {
	snap := j.snapshot()
	target := delivery.Target{JobID: snap.ID, RequesterID: snap.RequesterID}

	workspace, err := m.deps.Workspace.Allocate(snap.RequesterID)
	if err != nil {
		return outcome{err: err}
	}
	j.update(func(s *Snapshot) { s.Workspace = workspace })

	m.transition(ctx, j, StateFetchingManifest, "🔍 Fetching media info…")
	manifest, err := m.deps.Extractor.FetchManifest(stageContext(ctx, StateFetchingManifest), snap.URL)
	if err != nil {
		return outcome{err: err}
	}
	title := manifest.Title
	if title == "" {
		title = snap.URL
	}
	j.update(func(s *Snapshot) { s.Title = title })
	if m.deps.Store != nil {
		if err := m.deps.Store.SetTitle(ctx, snap.ID, title); err != nil {
			m.logStoreFailure(ctx, err)
		}
	}

	selection, err := extractor.Select(manifest, snap.Kind, snap.Platform)
	if err != nil {
		return outcome{err: services.Wrap(services.ErrAcquisition, "manifest", "select", "", err)}
	}

	m.transition(ctx, j, StateDownloading, fmt.Sprintf("⬇️ Downloading %s…", title))
	source, err := m.download(ctx, j, target, selection, workspace)
	if err != nil {
		return outcome{err: err}
	}

	baseName := textutil.SanitizeFileName(title)
	var result outcome
	if snap.Kind == media.KindAudio {
		m.transition(ctx, j, StateAudioPath, "🎵 Preparing audio…")
		result = m.audioPath(stageContext(ctx, StateAudioPath), source, workspace, baseName)
	} else {
		m.transition(ctx, j, StateVideoPath, "🎞 Encoding video…")
		result = m.videoPath(stageContext(ctx, StateVideoPath), j, source, workspace, baseName, manifest.DurationSeconds, selection)
	}
	if result.err != nil {
		return result
	}

	m.transition(ctx, j, StateDelivering, fmt.Sprintf("📤 Sending %s…", humanize.IBytes(uint64(result.size))))
	caption := title
	if result.degraded {
		caption = fmt.Sprintf("%s\n⚠️ Larger than %s, delivery may fail.", title, humanize.IBytes(uint64(m.opts.Budget.CeilingBytes)))
	}
	if err := m.deps.Delivery.DeliverFile(stageContext(ctx, StateDelivering), target, result.path, caption); err != nil {
		if !errors.Is(err, services.ErrDelivery) {
			err = services.Wrap(services.ErrDelivery, "delivery", "deliver file", "", err)
		}
		result.err = err
	}
	return result
}

func (m *Manager) download(ctx context.Context, j *job, target delivery.Target, selection extractor.Selection, workspace string) (string, error) {
	snap := j.snapshot()
	dlCtx := stageContext(ctx, StateDownloading)
	logger := logging.WithContext(dlCtx, m.logger)
	sampler := logging.NewProgressSampler(10)

	req := extractor.MaterializeRequest{
		URL:      snap.URL,
		Selector: selection.Selector,
		DestDir:  filepath.Join(workspace, downloadDirName),
		BaseName: "source",
		Kind:     snap.Kind,
		Platform: snap.Platform,
		Progress: func(p extractor.Progress) {
			if !sampler.ShouldEmit(p.Percent, p.Phase) {
				return
			}
			text := downloadProgressText(p)
			logger.Debug("download progress", logging.String("phase", p.Phase), logging.Float64("percent", p.Percent))
			m.progress(dlCtx, j, target, text)
		},
	}
	if err := os.MkdirAll(req.DestDir, 0o755); err != nil {
		return "", services.Wrap(services.ErrAcquisition, "download", "prepare", "create download dir", err)
	}
	return m.deps.Extractor.Materialize(dlCtx, req)
}

// videoPath drives the size-gated retry loop. An exhausted loop is a hard
// failure: the oversized candidate is never delivered.
func (m *Manager) videoPath(ctx context.Context, j *job, source, workspace, baseName string, duration float64, selection extractor.Selection) outcome {
	snap := j.snapshot()
	target := delivery.Target{JobID: snap.ID, RequesterID: snap.RequesterID}

	controller := encoding.NewRetryController(m.deps.Attempts, m.opts.Budget, m.opts.MaxAttempts, m.logger)
	controller.OnStep(func(ev encoding.StepEvent) {
		if ev.Attempt == 0 {
			m.progress(ctx, j, target, fmt.Sprintf("🎞 Encoding %s at %s…", ev.Spec.Resolution(), humanize.SI(float64(ev.Spec.VideoBitrate), "bps")))
			return
		}
		m.progress(ctx, j, target, fmt.Sprintf("🗜 File is %s, compressing (attempt %d/%d)…",
			humanize.IBytes(uint64(ev.CandidateSize)), ev.Attempt, ev.MaxAttempts))
	})

	spec := budget.InitialSpec(duration, selection.Width, selection.Height, m.opts.Budget)
	result := controller.Run(ctx, encoding.RetryRequest{
		Input:        source,
		OutputDir:    workspace,
		BaseName:     baseName,
		Initial:      spec,
		DiscardInput: true,
	})
	if result.State != encoding.StateSatisfied {
		return outcome{err: result.Err, attempts: result.Attempts, size: result.Size}
	}
	return outcome{path: result.Path, size: result.Size, attempts: result.Attempts}
}

// audioPath delivers the extracted MP3. An oversized file gets one re-encode
// at a lower bitrate and is delivered even if it still does not fit.
func (m *Manager) audioPath(ctx context.Context, source, workspace, baseName string) outcome {
	logger := logging.WithContext(ctx, m.logger)
	final := filepath.Join(workspace, baseName+media.KindAudio.Extension())
	if err := fileutil.MoveFile(source, final); err != nil {
		return outcome{err: services.Wrap(services.ErrEncode, "audio", "rename", "", err)}
	}
	info, err := os.Stat(final)
	if err != nil {
		return outcome{err: services.Wrap(services.ErrEncode, "audio", "stat", "", err)}
	}
	size := info.Size()
	ceiling := m.opts.Budget.CeilingBytes
	if size <= ceiling {
		return outcome{path: final, size: size}
	}

	reencoded := filepath.Join(workspace, baseName+"_reencoded"+media.KindAudio.Extension())
	result := m.deps.Attempts.Run(ctx, final, reencoded, budget.AudioFallbackSpec())
	attempts := 1
	if result.Success {
		if err := os.Remove(final); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Debug("failed to remove original audio", logging.Error(err))
		}
		final, size = result.Path, result.Size
	} else {
		logging.WarnWithContext(logger, "audio re-encode failed", "audio_reencode_failed",
			logging.Error(result.Err),
			logging.String(logging.FieldImpact, "original audio delivered"),
		)
	}
	if size <= ceiling {
		return outcome{path: final, size: size, attempts: attempts}
	}
	logging.WarnWithContext(logger, "audio still exceeds size ceiling", "audio_oversize",
		logging.SizeBytes(size),
		logging.Int64("ceiling_bytes", ceiling),
		logging.String(logging.FieldImpact, "oversized audio delivered anyway"),
	)
	return outcome{path: final, size: size, attempts: attempts, degraded: true}
}

// finish is the single terminal path of a job. It is deferred by run and so
// also sees panics from any stage.
func (m *Manager) finish(ctx context.Context, j *job, out *outcome) {
	if r := recover(); r != nil {
		out.err = services.Wrap(services.ErrTransient, "workflow", "run", fmt.Sprintf("panic: %v", r), nil)
		m.logger.Error("job panicked",
			logging.String(logging.FieldJobID, j.snapshot().ID),
			logging.Any("panic", r),
			logging.String("stack", string(debug.Stack())),
		)
	}
	j.cleanup.Do(func() { m.cleanup(ctx, j, *out) })
}

func (m *Manager) cleanup(ctx context.Context, j *job, out outcome) {
	snap := j.snapshot()
	target := delivery.Target{JobID: snap.ID, RequesterID: snap.RequesterID}
	logger := logging.WithContext(ctx, m.logger)

	final := StateCleanedSuccess
	if out.err != nil {
		final = StateCleanedFailed
		details := services.Details(out.err)
		logging.ErrorWithContext(logger, "job failed", "job_failed",
			logging.String(logging.FieldErrorKind, string(details.Kind)),
			logging.String(logging.FieldStage, string(snap.State)),
			logging.Error(out.err),
		)
		if err := m.deps.Delivery.ReportError(ctx, target, UserMessage(out.err)); err != nil {
			logging.WarnWithContext(logger, "failed to report error to requester", "report_error_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "requester not told about the failure"),
			)
		}
	}

	if snap.Workspace != "" {
		m.deps.Workspace.Release(snap.Workspace)
	}
	m.deps.Registry.Complete(snap.RequesterID, snap.ID)
	j.update(func(s *Snapshot) { s.State = final })

	m.record(ctx, snap, out)
	m.notify(ctx, snap, out)
	m.forget(snap.ID)

	logger.Info("job finished",
		logging.String("state", string(final)),
		logging.Int("retries", out.attempts),
		logging.SizeBytes(out.size),
		logging.Duration("elapsed", time.Since(snap.CreatedAt)),
		logging.String(logging.FieldEventType, "job_finished"),
	)
}

func (m *Manager) record(ctx context.Context, snap Snapshot, out outcome) {
	if m.deps.Store == nil {
		return
	}
	result := jobstore.Outcome{
		Status:   jobstore.StatusCompleted,
		Title:    snap.Title,
		Attempts: out.attempts,
	}
	if out.err != nil {
		details := services.Details(out.err)
		result.Status = jobstore.StatusFailed
		result.ErrorKind = string(details.Kind)
		result.ErrorMessage = details.Message
	} else {
		result.FinalSize = out.size
		result.FileName = filepath.Base(out.path)
	}
	if err := m.deps.Store.Finish(ctx, snap.ID, result); err != nil {
		m.logStoreFailure(ctx, err)
	}
}

func (m *Manager) notify(ctx context.Context, snap Snapshot, out outcome) {
	if m.deps.Notifier == nil {
		return
	}
	var err error
	if out.err != nil {
		err = m.deps.Notifier.NotifyJobFailed(ctx, snap.URL, out.err)
	} else {
		err = m.deps.Notifier.NotifyJobCompleted(ctx, snap.Title, out.size, string(snap.Kind))
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator not notified"),
		)
	}
}

// transition moves the job to state and reports text.
func (m *Manager) transition(ctx context.Context, j *job, state JobState, text string) {
	j.update(func(s *Snapshot) { s.State = state })
	snap := j.snapshot()
	m.logger.Debug("job state changed",
		logging.String(logging.FieldJobID, snap.ID),
		logging.String("state", string(state)),
	)
	m.progress(stageContext(ctx, state), j, delivery.Target{JobID: snap.ID, RequesterID: snap.RequesterID}, text)
}

// progress is best-effort: failures are logged and swallowed.
func (m *Manager) progress(ctx context.Context, j *job, target delivery.Target, text string) {
	j.update(func(s *Snapshot) { s.Progress = text })
	if err := m.deps.Delivery.ReportProgress(ctx, target, text); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "progress update failed", "progress_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "requester misses a status update"),
		)
	}
	if m.deps.Store != nil {
		stage, _ := services.StageFromContext(ctx)
		if err := m.deps.Store.UpdateProgress(ctx, target.JobID, stage, text); err != nil {
			m.logStoreFailure(ctx, err)
		}
	}
}

func (m *Manager) logStoreFailure(ctx context.Context, err error) {
	logging.WarnWithContext(logging.WithContext(ctx, m.logger), "job store update failed", "job_store_failed",
		logging.Error(err),
		logging.String(logging.FieldImpact, "job history may be stale"),
	)
}

func stageContext(ctx context.Context, state JobState) context.Context {
	return services.WithStage(ctx, string(state))
}

func downloadProgressText(p extractor.Progress) string {
	switch {
	case p.Phase == "merging":
		return "🔧 Merging streams…"
	case p.Phase == "converting":
		return "🎵 Converting audio…"
	case p.Percent >= 0 && p.Total != "":
		return fmt.Sprintf("⬇️ Downloading %.0f%% of %s", p.Percent, p.Total)
	case p.Percent >= 0:
		return fmt.Sprintf("⬇️ Downloading %.0f%%", p.Percent)
	default:
		return "⬇️ Downloading…"
	}
}
