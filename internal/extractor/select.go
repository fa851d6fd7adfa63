package extractor

import (
	"fmt"

	"clipfit/internal/media"
)

// Selection is the encoding chosen for download plus the source dimensions
// that seed the initial transcode. Width and Height are zero when unknown.
type Selection struct {
	Selector string
	Width    int
	Height   int
	Fallback bool
}

// Select picks what to download. Video jobs take the first encoding carrying
// both tracks at a known resolution; when there is none they fall back to
// the platform's merge selector. Audio jobs use the platform's best-audio
// selector. A manifest with nothing usable for the kind is ErrNoEncoding.
func Select(manifest Manifest, kind media.OutputKind, platform media.Platform) (Selection, error) {
	if len(manifest.Encodings) == 0 {
		return Selection{}, fmt.Errorf("%w: manifest lists no encodings", ErrNoEncoding)
	}

	if kind == media.KindAudio {
		for _, enc := range manifest.Encodings {
			if enc.HasAudio {
				return Selection{Selector: audioSelector(platform), Fallback: true}, nil
			}
		}
		return Selection{}, fmt.Errorf("%w: no encoding carries audio", ErrNoEncoding)
	}

	for _, enc := range manifest.Encodings {
		if enc.HasVideo && enc.HasAudio && enc.Width > 0 && enc.Height > 0 {
			return Selection{Selector: enc.ID, Width: enc.Width, Height: enc.Height}, nil
		}
	}

	var width, height int
	found := false
	for _, enc := range manifest.Encodings {
		if !enc.HasVideo {
			continue
		}
		found = true
		if enc.Height > height {
			width, height = enc.Width, enc.Height
		}
	}
	if !found {
		return Selection{}, fmt.Errorf("%w: no encoding carries video", ErrNoEncoding)
	}
	return Selection{Selector: videoSelector(platform), Width: width, Height: height, Fallback: true}, nil
}

func videoSelector(platform media.Platform) string {
	switch platform {
	case media.PlatformYouTube:
		return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"
	case media.PlatformInstagram:
		return "best[ext=mp4]/best"
	case media.PlatformTikTok:
		return "(mp4)[width>=0]/best"
	default:
		return "bestvideo+bestaudio/best"
	}
}

func audioSelector(platform media.Platform) string {
	switch platform {
	case media.PlatformInstagram, media.PlatformTikTok:
		return "best"
	default:
		return "bestaudio/best"
	}
}
