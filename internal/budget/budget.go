package budget

import (
	"math"

	"clipfit/internal/media"
)

const (
	// MiB is the unit the size ceiling and margin are expressed in.
	MiB = 1024 * 1024

	DefaultCeilingBytes int64 = 50 * MiB
	DefaultMarginBytes  int64 = 5 * MiB

	// AssumedAudioBytesPerSecond is the audio overhead reserved before the
	// video budget is computed (192 kbit/s).
	AssumedAudioBytesPerSecond = 192 * 1024 / 8

	MinVideoBitrate int64 = 800 * 1024
	MaxVideoBitrate int64 = 4000 * 1024

	// FallbackDurationSeconds replaces an unknown or zero duration.
	FallbackDurationSeconds = 300

	DefaultMaxAttempts = 3

	BitrateDecay    = 0.7
	DimensionShrink = 0.85

	DefaultWidth  = 1280
	DefaultHeight = 720

	InitialAudioBitrate int64 = 128 * 1024
	RetryAudioBitrate   int64 = 96 * 1024
	InitialQuality            = 23
	FirstRetryQuality         = 25
	LaterRetryQuality         = 28

	// AudioExtractBitrate is what the extractor converts audio-kind jobs to;
	// AudioFallbackBitrate is the single re-encode used when that is too big.
	AudioExtractBitrate  int64 = 192 * 1024
	AudioFallbackBitrate int64 = 128 * 1024

	minDimension = 2
	minBitrate   = 64 * 1024
)

// SizeBudget is the byte budget one job's artifact must fit in.
type SizeBudget struct {
	CeilingBytes int64
	MarginBytes  int64
}

// DefaultBudget is the 50 MiB ceiling with a 5 MiB margin.
func DefaultBudget() SizeBudget {
	return SizeBudget{CeilingBytes: DefaultCeilingBytes, MarginBytes: DefaultMarginBytes}
}

// TargetBytes is ceiling minus margin, never below one byte.
func (b SizeBudget) TargetBytes() int64 {
	target := b.CeilingBytes - b.MarginBytes
	if target < 1 {
		return 1
	}
	return target
}

// Fits reports whether size satisfies the video target.
func (b SizeBudget) Fits(size int64) bool {
	return size > 0 && size <= b.TargetBytes()
}

// EffectiveDuration substitutes the fallback for unknown durations.
func EffectiveDuration(durationSeconds float64) float64 {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return FallbackDurationSeconds
	}
	return durationSeconds
}

// PlanInitialBitrate returns the video bitrate in bits per second that fills
// the budget after reserving the assumed audio track. The result is always in
// [MinVideoBitrate, MaxVideoBitrate], including when the source is so long
// that the reserved audio alone exceeds the budget.
func PlanInitialBitrate(durationSeconds float64, ceilingBytes, marginBytes int64) int64 {
	duration := EffectiveDuration(durationSeconds)
	available := float64(ceilingBytes-marginBytes) - duration*AssumedAudioBytesPerSecond
	bps := available * 8 / duration
	return clampBitrate(bps)
}

func clampBitrate(bps float64) int64 {
	if math.IsNaN(bps) || bps < float64(MinVideoBitrate) {
		return MinVideoBitrate
	}
	if bps > float64(MaxVideoBitrate) {
		return MaxVideoBitrate
	}
	return int64(bps)
}

// InitialSpec is the first video encode: source dimensions (or 1280x720 when
// unknown), the planned bitrate, 128k audio and the base quality.
func InitialSpec(durationSeconds float64, width, height int, b SizeBudget) media.TranscodeSpec {
	if width <= 0 || height <= 0 {
		width, height = DefaultWidth, DefaultHeight
	}
	return media.TranscodeSpec{
		Width:        evenFloor(width),
		Height:       evenFloor(height),
		VideoBitrate: PlanInitialBitrate(durationSeconds, b.CeilingBytes, b.MarginBytes),
		AudioBitrate: InitialAudioBitrate,
		Quality:      InitialQuality,
	}
}

// NextStepDown derives the spec for retry attemptNumber (1-based) from the
// previous attempt's bitrate and dimensions.
func NextStepDown(previousBitrate int64, previousWidth, previousHeight, attemptNumber int) media.TranscodeSpec {
	bitrate := int64(float64(previousBitrate) * BitrateDecay)
	if bitrate < minBitrate {
		bitrate = minBitrate
	}
	spec := media.TranscodeSpec{
		Width:        shrink(previousWidth),
		Height:       shrink(previousHeight),
		VideoBitrate: bitrate,
		AudioBitrate: InitialAudioBitrate,
		Quality:      FirstRetryQuality,
	}
	if attemptNumber > 1 {
		spec.AudioBitrate = RetryAudioBitrate
		spec.Quality = LaterRetryQuality
	}
	return spec
}

// AudioFallbackSpec is the single re-encode tried for oversized audio.
func AudioFallbackSpec() media.TranscodeSpec {
	return media.TranscodeSpec{AudioBitrate: AudioFallbackBitrate}
}

func shrink(dimension int) int {
	return evenFloor(int(float64(dimension) * DimensionShrink))
}

func evenFloor(value int) int {
	value -= value % 2
	if value < minDimension {
		return minDimension
	}
	return value
}
