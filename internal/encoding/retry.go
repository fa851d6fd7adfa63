package encoding

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"clipfit/internal/budget"
	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/services"
)

// RetryState is a RetryController state.
type RetryState int

const (
	StateInitial RetryState = iota
	StateEvaluating
	StateRetrying
	StateSatisfied
	StateExhausted
)

func (s RetryState) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateEvaluating:
		return "evaluating"
	case StateRetrying:
		return "retrying"
	case StateSatisfied:
		return "satisfied"
	case StateExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// RetryRequest describes one size-gated encode.
type RetryRequest struct {
	// Input is the downloaded source.
	Input string
	// OutputDir and BaseName name the outputs: BaseName.mp4 for the initial
	// encode, BaseName_attemptN.mp4 for retry N.
	OutputDir string
	BaseName  string
	Initial   media.TranscodeSpec
	// DiscardInput removes Input once the initial encode has succeeded.
	DiscardInput bool
}

// RetryOutcome is the terminal result of the loop. Path and Size describe the
// last candidate; Path is empty when no attempt ever succeeded.
type RetryOutcome struct {
	State    RetryState
	Path     string
	Size     int64
	Spec     media.TranscodeSpec
	Attempts int
	Err      error
}

// StepEvent is emitted before every transcoder invocation.
type StepEvent struct {
	Attempt       int
	MaxAttempts   int
	Spec          media.TranscodeSpec
	CandidateSize int64
}

// RetryController drives Initial -> Evaluating -> Retrying(n) -> ... until
// the candidate fits (Satisfied) or the retry budget is spent (Exhausted).
type RetryController struct {
	runner      AttemptRunner
	budget      budget.SizeBudget
	maxAttempts int
	logger      *slog.Logger
	onStep      func(StepEvent)
}

// NewRetryController builds a controller. maxAttempts below one falls back
// to budget.DefaultMaxAttempts.
func NewRetryController(runner AttemptRunner, b budget.SizeBudget, maxAttempts int, logger *slog.Logger) *RetryController {
	if maxAttempts < 1 {
		maxAttempts = budget.DefaultMaxAttempts
	}
	return &RetryController{
		runner:      runner,
		budget:      b,
		maxAttempts: maxAttempts,
		logger:      logging.NewComponentLogger(logger, "retry"),
	}
}

// OnStep registers a callback for progress reporting.
func (c *RetryController) OnStep(fn func(StepEvent)) {
	c.onStep = fn
}

// MaxAttempts returns the retry budget.
func (c *RetryController) MaxAttempts() int {
	return c.maxAttempts
}

// Run executes the loop. It returns only in StateSatisfied or StateExhausted.
func (c *RetryController) Run(ctx context.Context, req RetryRequest) RetryOutcome {
	logger := logging.WithContext(ctx, c.logger)
	target := c.budget.TargetBytes()

	state := StateInitial
	spec := req.Initial
	retries := 0
	var candidate AttemptResult
	var candidateSpec media.TranscodeSpec

	for {
		switch state {
		case StateInitial:
			c.emit(StepEvent{Attempt: 0, MaxAttempts: c.maxAttempts, Spec: spec})
			result := c.runner.Run(ctx, req.Input, c.outputPath(req, 0), spec)
			if !result.Success {
				logger.Error("initial transcode failed",
					logging.String(logging.FieldEventType, "initial_transcode_failed"),
					logging.String("resolution", spec.Resolution()),
					logging.Error(result.Err),
				)
				return RetryOutcome{
					State: StateExhausted,
					Spec:  spec,
					Err:   services.Wrap(services.ErrEncode, "encoding", "initial transcode", "could not produce any output", result.Err),
				}
			}
			if req.DiscardInput && req.Input != result.Path {
				removeQuietly(logger, req.Input)
			}
			candidate, candidateSpec = result, spec
			state = StateEvaluating

		case StateEvaluating:
			if c.budget.Fits(candidate.Size) {
				logger.Info("artifact fits size budget",
					logging.String(logging.FieldEventType, "size_budget_satisfied"),
					logging.SizeBytes(candidate.Size),
					logging.Int64("target_bytes", target),
					logging.Int("retries", retries),
				)
				return RetryOutcome{State: StateSatisfied, Path: candidate.Path, Size: candidate.Size, Spec: candidateSpec, Attempts: retries}
			}
			if retries >= c.maxAttempts {
				logging.WarnWithContext(logger, "artifact exceeds size ceiling after all retries", "size_budget_exhausted",
					logging.SizeBytes(candidate.Size),
					logging.Int64("target_bytes", target),
					logging.Int("retries", retries),
					logging.String(logging.FieldImpact, "artifact will not be delivered"),
					logging.String(logging.FieldErrorHint, "source too long for the configured ceiling"),
				)
				return RetryOutcome{
					State:    StateExhausted,
					Path:     candidate.Path,
					Size:     candidate.Size,
					Spec:     candidateSpec,
					Attempts: retries,
					Err: services.Wrap(services.ErrSizeConstraint, "encoding", "size budget",
						fmt.Sprintf("artifact is %s after %d retries, target %s", humanize.IBytes(uint64(candidate.Size)), retries, humanize.IBytes(uint64(target))), nil),
				}
			}
			if err := ctx.Err(); err != nil {
				return RetryOutcome{
					State:    StateExhausted,
					Path:     candidate.Path,
					Size:     candidate.Size,
					Spec:     candidateSpec,
					Attempts: retries,
					Err:      services.Wrap(services.ErrTimeout, "encoding", "size budget", "stopped before retry", err),
				}
			}
			retries++
			state = StateRetrying

		case StateRetrying:
			spec = budget.NextStepDown(spec.VideoBitrate, spec.Width, spec.Height, retries)
			c.emit(StepEvent{Attempt: retries, MaxAttempts: c.maxAttempts, Spec: spec, CandidateSize: candidate.Size})
			logger.Info("re-encoding to fit size budget",
				logging.String(logging.FieldEventType, "size_step_down"),
				logging.Int("attempt", retries),
				logging.Int("max_attempts", c.maxAttempts),
				logging.Int64("candidate_bytes", candidate.Size),
				logging.String("resolution", spec.Resolution()),
				logging.Int64("video_bitrate", spec.VideoBitrate),
			)
			result := c.runner.Run(ctx, candidate.Path, c.outputPath(req, retries), spec)
			if result.Success {
				removeQuietly(logger, candidate.Path)
				candidate, candidateSpec = result, spec
			} else {
				logging.WarnWithContext(logger, "step-down attempt failed; keeping previous candidate", "size_step_down_failed",
					logging.Int("attempt", retries),
					logging.Error(result.Err),
					logging.String(logging.FieldImpact, "next attempt narrows further from the previous candidate"),
				)
			}
			state = StateEvaluating

		default:
			return RetryOutcome{State: StateExhausted, Err: fmt.Errorf("retry controller: unexpected state %s", state)}
		}
	}
}

func (c *RetryController) emit(event StepEvent) {
	if c.onStep != nil {
		c.onStep(event)
	}
}

func (c *RetryController) outputPath(req RetryRequest, attempt int) string {
	base := req.BaseName
	if base == "" {
		base = "output"
	}
	if attempt > 0 {
		base = fmt.Sprintf("%s_attempt%d", base, attempt)
	}
	return filepath.Join(req.OutputDir, base+".mp4")
}
