package encoding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"clipfit/internal/logging"
	"clipfit/internal/media"
)

// ErrEmptyOutput marks a transcoder run that exited cleanly without
// producing a usable file.
var ErrEmptyOutput = errors.New("transcoder produced no output")

// Transcoder is the external transcoder contract.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string, spec media.TranscodeSpec) error
}

// Verifier inspects a finished output. A nil Verifier skips inspection.
type Verifier interface {
	Verify(ctx context.Context, path string, spec media.TranscodeSpec) error
}

// AttemptResult is the outcome of one transcoder invocation. Err carries the
// cause of a failed attempt for logging only.
type AttemptResult struct {
	Path    string
	Size    int64
	Success bool
	Err     error
}

// AttemptRunner runs a single transcode attempt.
type AttemptRunner interface {
	Run(ctx context.Context, input, output string, spec media.TranscodeSpec) AttemptResult
}

// Attempt is the default AttemptRunner.
type Attempt struct {
	transcoder Transcoder
	verifier   Verifier
	logger     *slog.Logger
}

// NewAttempt wires a transcoder and an optional verifier.
func NewAttempt(transcoder Transcoder, verifier Verifier, logger *slog.Logger) *Attempt {
	return &Attempt{
		transcoder: transcoder,
		verifier:   verifier,
		logger:     logging.NewComponentLogger(logger, "encoding"),
	}
}

// Run transcodes input into output. It never leaves a partial output behind:
// any failure removes output before returning.
func (a *Attempt) Run(ctx context.Context, input, output string, spec media.TranscodeSpec) AttemptResult {
	logger := logging.WithContext(ctx, a.logger)
	removeQuietly(logger, output)

	if err := a.transcoder.Transcode(ctx, input, output, spec); err != nil {
		removeQuietly(logger, output)
		return AttemptResult{Path: output, Err: err}
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		removeQuietly(logger, output)
		if err == nil {
			err = ErrEmptyOutput
		} else {
			err = fmt.Errorf("%w: %w", ErrEmptyOutput, err)
		}
		return AttemptResult{Path: output, Err: err}
	}

	if a.verifier != nil {
		if err := a.verifier.Verify(ctx, output, spec); err != nil {
			removeQuietly(logger, output)
			return AttemptResult{Path: output, Err: fmt.Errorf("verify output: %w", err)}
		}
	}

	return AttemptResult{Path: output, Size: info.Size(), Success: true}
}

func removeQuietly(logger *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.WarnWithContext(logger, "failed to remove transcode output", "artifact_cleanup_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale file stays until the workspace is released"),
		)
	}
}
