package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"clipfit/internal/media"
)

// Options are the encoder settings that stay fixed across attempts.
type Options struct {
	Binary     string
	VideoCodec string
	AudioCodec string
	Preset     string
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Binary) == "" {
		o.Binary = "ffmpeg"
	}
	if strings.TrimSpace(o.VideoCodec) == "" {
		o.VideoCodec = "libx264"
	}
	if strings.TrimSpace(o.AudioCodec) == "" {
		o.AudioCodec = "aac"
	}
	if strings.TrimSpace(o.Preset) == "" {
		o.Preset = "medium"
	}
	return o
}

// BuildArgs constructs the complete ffmpeg command line, binary first.
func BuildArgs(opts Options, input, output string, spec media.TranscodeSpec) []string {
	opts = opts.withDefaults()
	args := make([]string, 0, 32)

	args = append(args, opts.Binary, "-hide_banner", "-nostdin", "-y", "-loglevel", "error")
	args = append(args, "-i", input)

	if spec.AudioOnly() {
		args = append(args, "-vn", "-c:a", "libmp3lame")
		if spec.AudioBitrate > 0 {
			args = append(args, "-b:a", media.Kbps(spec.AudioBitrate))
		}
		return append(args, output)
	}

	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", spec.Width, spec.Height),
		"-c:v", opts.VideoCodec,
		"-b:v", media.Kbps(spec.VideoBitrate),
		"-crf", strconv.Itoa(spec.Quality),
		"-preset", opts.Preset,
		"-pix_fmt", "yuv420p",
		"-c:a", opts.AudioCodec,
		"-b:a", media.Kbps(spec.AudioBitrate),
		"-movflags", "+faststart",
	)
	return append(args, output)
}
