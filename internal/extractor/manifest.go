package extractor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encoding is one rendition offered by the source.
type Encoding struct {
	ID        string
	Ext       string
	Width     int
	Height    int
	HasVideo  bool
	HasAudio  bool
	SizeBytes int64
}

// Manifest is the immutable description of a source fetched once per job.
type Manifest struct {
	ID              string
	Title           string
	DurationSeconds float64
	Extractor       string
	WebpageURL      string
	Encodings       []Encoding
}

type rawManifest struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Duration     *float64    `json:"duration"`
	ExtractorKey string      `json:"extractor_key"`
	WebpageURL   string      `json:"webpage_url"`
	Type         string      `json:"_type"`
	Formats      []rawFormat `json:"formats"`
	// Single-format sources carry the format fields at the top level.
	rawFormat
}

type rawFormat struct {
	FormatID       string `json:"format_id"`
	Ext            string `json:"ext"`
	Width          *int   `json:"width"`
	Height         *int   `json:"height"`
	VCodec         string `json:"vcodec"`
	ACodec         string `json:"acodec"`
	Filesize       *int64 `json:"filesize"`
	FilesizeApprox *int64 `json:"filesize_approx"`
	URL            string `json:"url"`
}

func (f rawFormat) encoding() Encoding {
	enc := Encoding{
		ID:       strings.TrimSpace(f.FormatID),
		Ext:      f.Ext,
		HasVideo: codecPresent(f.VCodec),
		HasAudio: codecPresent(f.ACodec),
	}
	if f.Width != nil {
		enc.Width = *f.Width
	}
	if f.Height != nil {
		enc.Height = *f.Height
	}
	switch {
	case f.Filesize != nil:
		enc.SizeBytes = *f.Filesize
	case f.FilesizeApprox != nil:
		enc.SizeBytes = *f.FilesizeApprox
	}
	// yt-dlp leaves codecs unset for some direct-file extractors; dimensions
	// still prove a video track.
	if f.VCodec == "" && f.ACodec == "" && enc.Width > 0 {
		enc.HasVideo, enc.HasAudio = true, true
	}
	return enc
}

// codecPresent treats missing and "none" codecs as absent.
func codecPresent(codec string) bool {
	codec = strings.TrimSpace(codec)
	return codec != "" && !strings.EqualFold(codec, "none")
}

func parseManifest(data []byte) (Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if raw.Type == "playlist" {
		return Manifest{}, fmt.Errorf("%w: url points to a playlist", ErrUnsupportedSite)
	}

	manifest := Manifest{
		ID:         raw.ID,
		Title:      strings.TrimSpace(raw.Title),
		Extractor:  raw.ExtractorKey,
		WebpageURL: raw.WebpageURL,
	}
	if raw.Duration != nil && *raw.Duration > 0 {
		manifest.DurationSeconds = *raw.Duration
	}
	for _, f := range raw.Formats {
		enc := f.encoding()
		if enc.ID == "" {
			continue
		}
		manifest.Encodings = append(manifest.Encodings, enc)
	}
	if len(manifest.Encodings) == 0 && raw.URL != "" {
		enc := raw.rawFormat.encoding()
		if enc.ID == "" {
			enc.ID = "best"
		}
		manifest.Encodings = append(manifest.Encodings, enc)
	}
	return manifest, nil
}
