package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/services"
)

// Transcoder runs one ffmpeg process per call.
type Transcoder struct {
	opts    Options
	timeout time.Duration
	logger  *slog.Logger
}

// NewTranscoder constructs a transcoder. A zero timeout means the caller's
// context is the only bound.
func NewTranscoder(opts Options, timeout time.Duration, logger *slog.Logger) *Transcoder {
	return &Transcoder{
		opts:    opts.withDefaults(),
		timeout: timeout,
		logger:  logging.NewComponentLogger(logger, "ffmpeg"),
	}
}

// Transcode encodes input into output according to spec.
func (t *Transcoder) Transcode(ctx context.Context, input, output string, spec media.TranscodeSpec) error {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	args := BuildArgs(t.opts, input, output, spec)
	logger := logging.WithContext(ctx, t.logger)
	logger.Debug("ffmpeg command", logging.String("command", fmt.Sprint(args)))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		tail := lastLines(stderr.String(), 5)
		logging.ErrorWithContext(logger, "ffmpeg failed", "transcode_failed",
			logging.String("resolution", spec.Resolution()),
			logging.String(logging.FieldErrorHint, Hint(stderr.String())),
			logging.String("stderr", tail),
			logging.Error(err),
		)
		marker := services.ErrEncode
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return services.Wrap(marker, "transcode", "ffmpeg", tail, fmt.Errorf("%w: %w", ErrEncodeFailed, err))
	}

	logger.Debug("ffmpeg finished",
		logging.String("resolution", spec.Resolution()),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}
