package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/services"
)

const sampleManifest = `{
  "id": "abc123",
  "title": " Sample Clip ",
  "duration": 42.5,
  "extractor_key": "Youtube",
  "webpage_url": "https://www.youtube.com/watch?v=abc123",
  "formats": [
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2"},
    {"format_id": "137", "ext": "mp4", "width": 1920, "height": 1080, "vcodec": "avc1", "acodec": "none"},
    {"format_id": "18", "ext": "mp4", "width": 640, "height": 360, "vcodec": "avc1", "acodec": "mp4a.40.2", "filesize": 1024}
  ]
}`

func TestParseManifest(t *testing.T) {
	manifest, err := parseManifest([]byte(sampleManifest))
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if manifest.Title != "Sample Clip" || manifest.DurationSeconds != 42.5 {
		t.Fatalf("unexpected manifest header: %+v", manifest)
	}
	if len(manifest.Encodings) != 3 {
		t.Fatalf("expected 3 encodings, got %d", len(manifest.Encodings))
	}
	if manifest.Encodings[0].HasVideo || !manifest.Encodings[0].HasAudio {
		t.Fatalf("audio-only encoding misclassified: %+v", manifest.Encodings[0])
	}
	if manifest.Encodings[2].SizeBytes != 1024 {
		t.Fatalf("expected filesize 1024, got %d", manifest.Encodings[2].SizeBytes)
	}
}

func TestParseManifestSingleFormat(t *testing.T) {
	manifest, err := parseManifest([]byte(`{"id":"x","title":"t","url":"https://cdn/x.mp4","ext":"mp4","width":720,"height":1280}`))
	if err != nil {
		t.Fatalf("parseManifest: %v", err)
	}
	if len(manifest.Encodings) != 1 || manifest.Encodings[0].ID != "best" {
		t.Fatalf("expected synthesized best encoding, got %+v", manifest.Encodings)
	}
	if !manifest.Encodings[0].HasVideo || !manifest.Encodings[0].HasAudio {
		t.Fatalf("expected dimensions to imply tracks: %+v", manifest.Encodings[0])
	}
}

func TestParseManifestRejectsPlaylist(t *testing.T) {
	_, err := parseManifest([]byte(`{"_type":"playlist","entries":[]}`))
	if !errors.Is(err, ErrUnsupportedSite) {
		t.Fatalf("expected ErrUnsupportedSite, got %v", err)
	}
}

func TestSelectVideoPrefersCombined(t *testing.T) {
	manifest, _ := parseManifest([]byte(sampleManifest))
	sel, err := Select(manifest, media.KindVideo, media.PlatformYouTube)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Selector != "18" || sel.Width != 640 || sel.Height != 360 || sel.Fallback {
		t.Fatalf("unexpected selection: %+v", sel)
	}
}

func TestSelectVideoFallsBackToPlatformSelector(t *testing.T) {
	manifest := Manifest{Encodings: []Encoding{
		{ID: "137", HasVideo: true, Width: 1920, Height: 1080},
		{ID: "140", HasAudio: true},
	}}
	sel, err := Select(manifest, media.KindVideo, media.PlatformYouTube)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if !sel.Fallback || !strings.HasPrefix(sel.Selector, "bestvideo[ext=mp4]") {
		t.Fatalf("expected youtube fallback selector, got %+v", sel)
	}
	if sel.Width != 1920 || sel.Height != 1080 {
		t.Fatalf("expected tallest video dims, got %dx%d", sel.Width, sel.Height)
	}
}

func TestSelectNoEncodings(t *testing.T) {
	if _, err := Select(Manifest{}, media.KindVideo, media.PlatformGeneric); !errors.Is(err, ErrNoEncoding) {
		t.Fatalf("expected ErrNoEncoding, got %v", err)
	}
	videoOnly := Manifest{Encodings: []Encoding{{ID: "1", HasVideo: true}}}
	if _, err := Select(videoOnly, media.KindAudio, media.PlatformGeneric); !errors.Is(err, ErrNoEncoding) {
		t.Fatalf("expected ErrNoEncoding for audio job, got %v", err)
	}
}

func TestSelectAudio(t *testing.T) {
	manifest, _ := parseManifest([]byte(sampleManifest))
	sel, err := Select(manifest, media.KindAudio, media.PlatformYouTube)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Selector != "bestaudio/best" {
		t.Fatalf("unexpected audio selector %q", sel.Selector)
	}
	sel, _ = Select(manifest, media.KindAudio, media.PlatformTikTok)
	if sel.Selector != "best" {
		t.Fatalf("unexpected tiktok audio selector %q", sel.Selector)
	}
}

func TestParseProgress(t *testing.T) {
	p, ok := ParseProgress("[download]  45.3% of ~ 12.34MiB at  1.20MiB/s ETA 00:07")
	if !ok {
		t.Fatal("expected progress line to parse")
	}
	if p.Percent != 45.3 || p.Total != "12.34MiB" || p.Speed != "1.20MiB/s" || p.ETA != "00:07" {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p, ok := ParseProgress("[Merger] Merging formats into \"x.mp4\""); !ok || p.Phase != "merging" || p.Percent != -1 {
		t.Fatalf("unexpected merger progress: %+v ok=%v", p, ok)
	}
	if _, ok := ParseProgress("[youtube] abc: Downloading webpage"); ok {
		t.Fatal("expected non-progress line to be ignored")
	}
}

func TestClassifyManifestError(t *testing.T) {
	cases := map[string]error{
		"ERROR: Unsupported URL: https://example.com":           ErrUnsupportedSite,
		"ERROR: [youtube] abc: Video unavailable":               ErrNotFound,
		"ERROR: Unable to download webpage: timed out":          ErrNetwork,
		"ERROR: [tiktok] 1: Requested format is not available": ErrNoEncoding,
	}
	for stderr, want := range cases {
		if got := classifyManifestError(stderr); !errors.Is(got, want) {
			t.Fatalf("%q: expected %v, got %v", stderr, want, got)
		}
	}
}

func TestFetchManifestFailureIsAcquisitionError(t *testing.T) {
	client := New(Options{}, logging.NewNop())
	client.capture = func(context.Context, string, []string) ([]byte, string, error) {
		return nil, "ERROR: [youtube] abc: Private video", errors.New("exit status 1")
	}
	_, err := client.FetchManifest(context.Background(), "https://youtu.be/abc")
	if !errors.Is(err, services.ErrAcquisition) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected acquisition/not-found error, got %v", err)
	}
}

func TestFetchManifestArgs(t *testing.T) {
	client := New(Options{UserAgent: "ua", CookiesFile: "/tmp/c.txt"}, logging.NewNop())
	var got []string
	client.capture = func(_ context.Context, binary string, args []string) ([]byte, string, error) {
		got = append([]string{binary}, args...)
		return []byte(sampleManifest), "", nil
	}
	if _, err := client.FetchManifest(context.Background(), "https://www.tiktok.com/@u/video/1"); err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	for _, want := range []string{"yt-dlp", "-J", "--no-playlist", "--user-agent", "--cookies", "--no-check-certificates"} {
		if !slices.Contains(got, want) {
			t.Fatalf("expected %q in %v", want, got)
		}
	}
}

func TestMaterializeLocatesOutputAndReportsProgress(t *testing.T) {
	dir := t.TempDir()
	client := New(Options{}, logging.NewNop())
	var gotArgs []string
	client.stream = func(_ context.Context, _ string, args []string, onLine func(string)) (string, error) {
		gotArgs = args
		onLine("[download]  50.0% of 1.00MiB at 1.00MiB/s ETA 00:01")
		onLine("[download] 100% of 1.00MiB")
		if err := os.WriteFile(filepath.Join(dir, "source.mp4"), []byte("payload"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, "source.f137.mp4.part"), []byte("partial-bytes"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return "", nil
	}

	var percents []float64
	path, err := client.Materialize(context.Background(), MaterializeRequest{
		URL:      "https://youtu.be/abc",
		Selector: "18",
		DestDir:  dir,
		BaseName: "source",
		Kind:     media.KindVideo,
		Platform: media.PlatformYouTube,
		Progress: func(p Progress) { percents = append(percents, p.Percent) },
	})
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if path != filepath.Join(dir, "source.mp4") {
		t.Fatalf("unexpected path %q", path)
	}
	if len(percents) != 2 || percents[1] != 100 {
		t.Fatalf("unexpected progress %v", percents)
	}
	if !slices.Contains(gotArgs, "--merge-output-format") || slices.Contains(gotArgs, "-x") {
		t.Fatalf("unexpected video args %v", gotArgs)
	}
}

func TestMaterializeAudioArgs(t *testing.T) {
	dir := t.TempDir()
	client := New(Options{}, logging.NewNop())
	var gotArgs []string
	client.stream = func(_ context.Context, _ string, args []string, _ func(string)) (string, error) {
		gotArgs = args
		return "", os.WriteFile(filepath.Join(dir, "source.mp3"), []byte("id3"), 0o644)
	}
	if _, err := client.Materialize(context.Background(), MaterializeRequest{
		URL: "https://example.com/a", Selector: "bestaudio/best", DestDir: dir, BaseName: "source", Kind: media.KindAudio,
	}); err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	for _, want := range []string{"-x", "--audio-format", "mp3", "192K"} {
		if !slices.Contains(gotArgs, want) {
			t.Fatalf("expected %q in %v", want, gotArgs)
		}
	}
}

func TestMaterializeEmptyFile(t *testing.T) {
	dir := t.TempDir()
	client := New(Options{}, logging.NewNop())
	client.stream = func(context.Context, string, []string, func(string)) (string, error) {
		return "", os.WriteFile(filepath.Join(dir, "source.mp4"), nil, 0o644)
	}
	_, err := client.Materialize(context.Background(), MaterializeRequest{URL: "https://x/y", DestDir: dir, BaseName: "source"})
	if !errors.Is(err, ErrEmptyFile) || !errors.Is(err, services.ErrAcquisition) {
		t.Fatalf("expected empty-file acquisition error, got %v", err)
	}
}

func TestMaterializeNetworkFailure(t *testing.T) {
	client := New(Options{}, logging.NewNop())
	client.stream = func(context.Context, string, []string, func(string)) (string, error) {
		return "ERROR: Unable to download webpage: Connection reset by peer", errors.New("exit status 1")
	}
	_, err := client.Materialize(context.Background(), MaterializeRequest{URL: "https://x/y", DestDir: t.TempDir(), BaseName: "source"})
	if !errors.Is(err, ErrDownloadFailed) || !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected download/network error, got %v", err)
	}
}

func TestSplitByNewlineOrCR(t *testing.T) {
	adv, tok, _ := splitByNewlineOrCR([]byte("abc\rdef"), false)
	if adv != 4 || string(tok) != "abc" {
		t.Fatalf("unexpected split %d %q", adv, tok)
	}
}

func TestStreamCommandSerializesLineCallbacks(t *testing.T) {
	script := filepath.Join(t.TempDir(), "yt-dlp")
	body := "#!/bin/sh\n" +
		"i=0\n" +
		"while [ $i -lt 50 ]; do\n" +
		"  echo \"[download] $i% of 10MiB\"\n" +
		"  echo \"[download] $i% of 10MiB\" >&2\n" +
		"  i=$((i+1))\n" +
		"done\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	count := 0
	stderr, err := streamCommand(context.Background(), script, nil, func(string) { count++ })
	if err != nil {
		t.Fatalf("streamCommand: %v", err)
	}
	if count != 100 {
		t.Fatalf("expected 100 lines, got %d", count)
	}
	if !strings.Contains(stderr, "[download] 49% of 10MiB") {
		t.Fatalf("expected stderr to be captured, got %q", stderr)
	}
}
