package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"clipfit/internal/fileutil"
	"clipfit/internal/services"
)

// Console reports to a terminal and copies finished files into OutputDir.
// On a TTY progress rewrites a single line; otherwise each report is its own
// line.
type Console struct {
	out       io.Writer
	outputDir string
	tty       bool

	mu        sync.Mutex
	lineOpen  bool
	delivered map[string]string
}

// NewConsole builds a console channel writing to out. TTY handling is
// enabled when out is a terminal.
func NewConsole(out io.Writer, outputDir string) *Console {
	tty := false
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		tty = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	return &Console{out: out, outputDir: outputDir, tty: tty, delivered: make(map[string]string)}
}

func (c *Console) ReportProgress(_ context.Context, _ Target, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	text = strings.ReplaceAll(text, "\n", " ")
	if c.tty {
		_, err := fmt.Fprintf(c.out, "\r\033[K%s", text)
		c.lineOpen = true
		return err
	}
	_, err := fmt.Fprintln(c.out, text)
	return err
}

func (c *Console) DeliverFile(_ context.Context, target Target, path, caption string) error {
	if err := os.MkdirAll(c.outputDir, 0o755); err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "console", "create output dir", err)
	}
	dest := fileutil.UniquePath(c.outputDir, filepath.Base(path))
	if err := fileutil.CopyFile(path, dest); err != nil {
		_ = os.Remove(dest)
		return services.Wrap(services.ErrDelivery, "delivery", "console", "copy file", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return services.Wrap(services.ErrDelivery, "delivery", "console", "stat copy", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered[target.JobID] = dest
	c.endLine()
	_, err = fmt.Fprintf(c.out, "✅ %s\n   %s (%s)\n", caption, dest, humanize.IBytes(uint64(info.Size())))
	return err
}

func (c *Console) ReportError(_ context.Context, _ Target, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLine()
	_, err := fmt.Fprintf(c.out, "❌ %s\n", message)
	return err
}

// Delivered returns where the job's file was copied.
func (c *Console) Delivered(jobID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	path, ok := c.delivered[jobID]
	return path, ok
}

func (c *Console) endLine() {
	if c.lineOpen {
		_, _ = io.WriteString(c.out, "\n")
		c.lineOpen = false
	}
}
