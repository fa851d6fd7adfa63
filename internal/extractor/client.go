package extractor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"clipfit/internal/logging"
	"clipfit/internal/media"
	"clipfit/internal/services"
)

const (
	defaultBinary          = "yt-dlp"
	defaultManifestTimeout = 60 * time.Second
	defaultDownloadTimeout = 15 * time.Minute
	audioExtractQuality    = "192K"
)

// Options configures the yt-dlp client.
type Options struct {
	Binary          string
	UserAgent       string
	CookiesFile     string
	ManifestTimeout time.Duration
	DownloadTimeout time.Duration
}

// MaterializeRequest describes one download into the job workspace.
type MaterializeRequest struct {
	URL      string
	Selector string
	DestDir  string
	BaseName string
	Kind     media.OutputKind
	Platform media.Platform
	Progress func(Progress)
}

// captureFunc runs a command to completion and returns its stdout.
type captureFunc func(ctx context.Context, binary string, args []string) ([]byte, string, error)

// streamFunc runs a command and feeds every output line to onLine.
type streamFunc func(ctx context.Context, binary string, args []string, onLine func(string)) (string, error)

// Client shells out to yt-dlp for manifests and downloads.
type Client struct {
	opts    Options
	logger  *slog.Logger
	capture captureFunc
	stream  streamFunc
}

// New constructs a client with defaults applied.
func New(opts Options, logger *slog.Logger) *Client {
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = defaultBinary
	}
	if opts.ManifestTimeout <= 0 {
		opts.ManifestTimeout = defaultManifestTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = defaultDownloadTimeout
	}
	return &Client{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "extractor"),
		capture: captureCommand,
		stream:  streamCommand,
	}
}

// FetchManifest retrieves the encoding manifest for url without downloading.
func (c *Client) FetchManifest(ctx context.Context, url string) (Manifest, error) {
	platform := media.DetectPlatform(url)
	url = media.NormalizeURL(url, platform)

	ctx, cancel := context.WithTimeout(ctx, c.opts.ManifestTimeout)
	defer cancel()

	args := append([]string{"-J", "--no-playlist", "--no-warnings"}, c.commonArgs(platform)...)
	args = append(args, url)

	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("fetching manifest", logging.String("url", url), logging.String("platform", string(platform)))

	stdout, stderr, err := c.capture(ctx, c.opts.Binary, args)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Manifest{}, services.Wrap(services.ErrAcquisition, "manifest", "yt-dlp", "manifest fetch timed out",
				fmt.Errorf("%w: %w", ErrNetwork, ctxErr))
		}
		cause := classifyManifestError(stderr)
		logging.WarnWithContext(logger, "manifest fetch failed", "manifest_failed",
			logging.String("stderr", lastLine(stderr)),
			logging.String(logging.FieldErrorKind, cause.Error()),
			logging.String(logging.FieldImpact, "job aborts"),
		)
		return Manifest{}, services.Wrap(services.ErrAcquisition, "manifest", "yt-dlp", lastLine(stderr), fmt.Errorf("%w: %w", cause, err))
	}

	manifest, err := parseManifest(stdout)
	if err != nil {
		return Manifest{}, services.Wrap(services.ErrAcquisition, "manifest", "parse", "", err)
	}
	logger.Info("manifest fetched",
		logging.String("title", manifest.Title),
		logging.Float64("duration_seconds", manifest.DurationSeconds),
		logging.Int("encodings", len(manifest.Encodings)),
	)
	return manifest, nil
}

// Materialize downloads the selected encoding into req.DestDir and returns
// the path of the resulting file.
func (c *Client) Materialize(ctx context.Context, req MaterializeRequest) (string, error) {
	if req.DestDir == "" || req.BaseName == "" {
		return "", services.Wrap(services.ErrValidation, "download", "materialize", "destination required", nil)
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)
	defer cancel()

	url := media.NormalizeURL(req.URL, req.Platform)
	args := c.downloadArgs(req, url)
	logger := logging.WithContext(ctx, c.logger)
	logger.Debug("downloading", logging.String("selector", req.Selector), logging.String("dest", req.DestDir))

	onLine := func(line string) {
		if req.Progress == nil {
			return
		}
		if p, ok := ParseProgress(line); ok {
			req.Progress(p)
		}
	}
	start := time.Now()
	stderr, err := c.stream(ctx, c.opts.Binary, args, onLine)
	if err != nil {
		var cause error
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = errors.Join(ErrDownloadFailed, ErrNetwork, ctxErr)
		} else {
			cause = classifyDownloadError(stderr)
		}
		logging.WarnWithContext(logger, "download failed", "download_failed",
			logging.String("stderr", lastLine(stderr)),
			logging.String(logging.FieldImpact, "job aborts"),
		)
		return "", services.Wrap(services.ErrAcquisition, "download", "yt-dlp", lastLine(stderr), fmt.Errorf("%w: %w", cause, err))
	}

	path, err := locateDownload(req.DestDir, req.BaseName)
	if err != nil {
		return "", services.Wrap(services.ErrAcquisition, "download", "locate", "", err)
	}
	logger.Info("download complete",
		logging.String("path", path),
		logging.Duration("elapsed", time.Since(start)),
	)
	return path, nil
}

func (c *Client) commonArgs(platform media.Platform) []string {
	var args []string
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		args = append(args, "--user-agent", ua)
	}
	if cookies := strings.TrimSpace(c.opts.CookiesFile); cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	if platform == media.PlatformTikTok {
		args = append(args, "--no-check-certificates")
	}
	return args
}

func (c *Client) downloadArgs(req MaterializeRequest, url string) []string {
	selector := strings.TrimSpace(req.Selector)
	if selector == "" {
		selector = "best"
	}
	args := []string{"--newline", "--no-playlist", "--no-warnings", "--no-part", "-f", selector}
	if req.Kind == media.KindAudio {
		args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", audioExtractQuality)
	} else {
		args = append(args, "--merge-output-format", "mp4")
	}
	args = append(args, c.commonArgs(req.Platform)...)
	args = append(args, "-o", filepath.Join(req.DestDir, req.BaseName+".%(ext)s"), url)
	return args
}

// locateDownload finds the file yt-dlp produced for baseName, ignoring
// partial and intermediate files.
func locateDownload(dir, baseName string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	var best string
	var bestSize int64 = -1
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, baseName+".") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.Contains(name, ".temp.") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best, bestSize = filepath.Join(dir, name), info.Size()
		}
	}
	if best == "" {
		return "", fmt.Errorf("%w: no output for %s", ErrDownloadFailed, baseName)
	}
	if bestSize == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyFile, filepath.Base(best))
	}
	return best, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[idx+1:])
	}
	return s
}

func captureCommand(ctx context.Context, binary string, args []string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.String(), err
}

// streamCommand runs binary and hands every stdout and stderr line to onLine.
// Calls to onLine never overlap.
func streamCommand(ctx context.Context, binary string, args []string, onLine func(string)) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", binary, err)
	}

	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(r io.Reader, keep bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			if keep {
				appendLimited(&errBuf, line)
			}
			if onLine != nil {
				onLine(line)
			}
			mu.Unlock()
		}
	}

	wg.Add(2)
	go read(stdoutPipe, false)
	go read(stderrPipe, true)
	wg.Wait()

	err = cmd.Wait()
	mu.Lock()
	defer mu.Unlock()
	return errBuf.String(), err
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	const maxKeep = 8192
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	if remain := maxKeep - b.Len(); len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
