package ffprobe

import (
	"context"
	"errors"
	"fmt"
	"math"

	"clipfit/internal/media"
)

// ErrUnplayable marks an artifact that ffprobe parsed but that fails the
// playability checks.
var ErrUnplayable = errors.New("artifact not playable")

// Verifier checks transcoder output with ffprobe.
type Verifier struct {
	Binary string
}

// Verify inspects path and checks it against spec.
func (v Verifier) Verify(ctx context.Context, path string, spec media.TranscodeSpec) error {
	result, err := Inspect(ctx, v.Binary, path)
	if err != nil {
		return err
	}
	return Check(result, spec)
}

// Check applies the playability rules to an inspection result.
func Check(result Result, spec media.TranscodeSpec) error {
	duration := result.DurationSeconds()
	if math.IsNaN(duration) || duration <= 0 {
		return fmt.Errorf("%w: no duration", ErrUnplayable)
	}
	if result.AudioStreamCount() == 0 {
		return fmt.Errorf("%w: no audio stream", ErrUnplayable)
	}
	if spec.AudioOnly() {
		return nil
	}
	width, height, ok := result.VideoDimensions()
	if !ok {
		return fmt.Errorf("%w: no video stream", ErrUnplayable)
	}
	if width != spec.Width || height != spec.Height {
		return fmt.Errorf("%w: resolution %dx%d, want %s", ErrUnplayable, width, height, spec.Resolution())
	}
	return nil
}
