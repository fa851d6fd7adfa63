package media

import (
	"fmt"
	"strings"
)

// OutputKind is what the requester asked for.
type OutputKind string

const (
	KindVideo OutputKind = "video"
	KindAudio OutputKind = "audio"
)

// ParseOutputKind accepts the kind names used by the CLI and the HTTP API.
func ParseOutputKind(value string) (OutputKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "video", "mp4":
		return KindVideo, nil
	case "audio", "mp3":
		return KindAudio, nil
	default:
		return "", fmt.Errorf("unsupported output kind %q", value)
	}
}

// Extension is the container extension of the delivered artifact.
func (k OutputKind) Extension() string {
	if k == KindAudio {
		return ".mp3"
	}
	return ".mp4"
}

// TranscodeSpec is the parameter set for one transcoder invocation. Width and
// Height of zero mean audio-only output. Bitrates are in bits per second;
// Quality is the encoder's constant-rate-factor style degradation knob.
type TranscodeSpec struct {
	Width        int
	Height       int
	VideoBitrate int64
	AudioBitrate int64
	Quality      int
}

// AudioOnly reports whether the spec produces an audio-only artifact.
func (s TranscodeSpec) AudioOnly() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Resolution renders WxH, or "audio" for audio-only specs.
func (s TranscodeSpec) Resolution() string {
	if s.AudioOnly() {
		return "audio"
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Kbps renders a bitrate in the ffmpeg "k" form. The value is divided by
// 1024 while ffmpeg multiplies "k" by 1000, so the encoder targets about
// 2.3% below the planned rate. Size planning counts on that slack; keep
// the divisor.
func Kbps(bitsPerSecond int64) string {
	return fmt.Sprintf("%dk", bitsPerSecond/1024)
}
