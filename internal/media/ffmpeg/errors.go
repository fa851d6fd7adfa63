package ffmpeg

import (
	"errors"
	"regexp"
	"strings"
)

// ErrEncodeFailed marks a failed ffmpeg invocation.
var ErrEncodeFailed = errors.New("ffmpeg encode failed")

var (
	reNoSpace      = regexp.MustCompile(`(?i)No space left on device`)
	reInvalidInput = regexp.MustCompile(`(?i)Invalid data found when processing input|moov atom not found`)
	reMissingCodec = regexp.MustCompile(`(?i)Unknown encoder|Encoder .* not found`)
	reBadDimension = regexp.MustCompile(`(?i)width not divisible by 2|height not divisible by 2|Invalid argument.*scale`)
)

// Hint turns captured stderr into an operator hint for the logs.
func Hint(stderr string) string {
	switch {
	case reNoSpace.MatchString(stderr):
		return "workspace volume is full; free disk space"
	case reInvalidInput.MatchString(stderr):
		return "input file is truncated or not a media file; check the download"
	case reMissingCodec.MatchString(stderr):
		return "ffmpeg build lacks the configured codec; check transcoder.video_codec"
	case reBadDimension.MatchString(stderr):
		return "scale dimensions rejected by the encoder"
	default:
		return "see ffmpeg stderr in the job log"
	}
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
