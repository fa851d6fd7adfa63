// Package workspace allocates per-job scratch directories and guarantees
// their teardown.
//
// Layout is <root>/<requester token>/job-<random>. Every allocation creates a
// new directory with a random suffix, so a released path is never handed out
// again even for the same requester. Release never fails the caller: removal
// problems are logged and swallowed because it runs on the terminal path of a
// job. SweepStale reclaims directories that outlived a crashed process.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"

	"clipfit/internal/logging"
	"clipfit/internal/services"
	"clipfit/internal/textutil"
)

// ErrLowDiskSpace is returned by Allocate when the workspace filesystem has
// less free space than the configured minimum.
var ErrLowDiskSpace = errors.New("insufficient free disk space")

// Manager owns the workspace root.
type Manager struct {
	root    string
	minFree uint64
	logger  *slog.Logger

	mu    sync.Mutex
	inUse map[string]struct{}

	freeBytes func(path string) (uint64, error)
}

// NewManager creates a manager rooted at root. A zero minFree disables the
// free-space check.
func NewManager(root string, minFree uint64, logger *slog.Logger) *Manager {
	return &Manager{
		root:      filepath.Clean(root),
		minFree:   minFree,
		logger:    logging.NewComponentLogger(logger, "workspace"),
		inUse:     make(map[string]struct{}),
		freeBytes: statfsFree,
	}
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Allocate creates a fresh directory scoped to requesterID.
func (m *Manager) Allocate(requesterID string) (string, error) {
	if m.minFree > 0 && m.freeBytes != nil {
		free, err := m.freeBytes(m.root)
		if err == nil && free < m.minFree {
			msg := fmt.Sprintf("%s free, need %s", humanize.IBytes(free), humanize.IBytes(m.minFree))
			return "", services.Wrap(services.ErrTransient, "workspace", "allocate", msg, ErrLowDiskSpace)
		}
	}

	parent := filepath.Join(m.root, textutil.SanitizeToken(requesterID))
	// Requester directories are created and removed under m.mu so a sweep
	// cannot drop the parent between MkdirAll and MkdirTemp.
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "workspace", "allocate", "create requester dir", err)
	}
	dir, err := os.MkdirTemp(parent, "job-*")
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "workspace", "allocate", "create job dir", err)
	}
	m.inUse[dir] = struct{}{}
	m.logger.Debug("workspace allocated", logging.String("path", dir), logging.String(logging.FieldRequester, requesterID))
	return dir, nil
}

// Release recursively deletes path. Missing directories are fine; other
// failures are logged and not returned.
func (m *Manager) Release(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	path = filepath.Clean(path)
	m.mu.Lock()
	delete(m.inUse, path)
	m.mu.Unlock()

	if !m.contains(path) {
		logging.WarnWithContext(m.logger, "refusing to release path outside workspace root", "workspace_release_skipped",
			logging.String("path", path),
			logging.String("root", m.root),
			logging.String(logging.FieldErrorHint, "workspace paths must come from Allocate"),
			logging.String(logging.FieldImpact, "directory left on disk"),
		)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logging.WarnWithContext(m.logger, "failed to release workspace", "workspace_release_failed",
			logging.String("path", path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check workspace_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed until next sweep"),
		)
		return
	}
	// The requester directory goes once its last job is gone; Remove fails
	// harmlessly while siblings remain.
	if parent := filepath.Dir(path); parent != m.root {
		m.removeEmpty(parent)
	}
	m.logger.Debug("workspace released", logging.String("path", path))
}

// SweepResult contains the outcome of a stale directory sweep.
type SweepResult struct {
	Removed []string
	Errors  []SweepError
}

// SweepError pairs a directory path with its cleanup error.
type SweepError struct {
	Path  string
	Error error
}

// SweepStale removes job directories older than maxAge that no running job
// holds, then drops empty requester directories.
func (m *Manager) SweepStale(ctx context.Context, maxAge time.Duration) SweepResult {
	result := SweepResult{}
	requesters, err := os.ReadDir(m.root)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, SweepError{Path: m.root, Error: err})
		}
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, requester := range requesters {
		if ctx.Err() != nil {
			return result
		}
		if !requester.IsDir() {
			continue
		}
		parent := filepath.Join(m.root, requester.Name())
		jobs, err := os.ReadDir(parent)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Path: parent, Error: err})
			continue
		}
		for _, job := range jobs {
			if !job.IsDir() {
				continue
			}
			dirPath := filepath.Join(parent, job.Name())
			if m.held(dirPath) {
				continue
			}
			info, err := job.Info()
			if err != nil {
				result.Errors = append(result.Errors, SweepError{Path: dirPath, Error: err})
				continue
			}
			if !info.ModTime().Before(cutoff) {
				continue
			}
			if err := os.RemoveAll(dirPath); err != nil {
				result.Errors = append(result.Errors, SweepError{Path: dirPath, Error: err})
				logging.WarnWithContext(m.logger, "failed to remove stale workspace", "workspace_sweep_failed",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "check workspace_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
				continue
			}
			result.Removed = append(result.Removed, dirPath)
			m.logger.Info("removed stale workspace",
				logging.String("path", dirPath),
				logging.Duration("age", time.Since(info.ModTime())),
				logging.String(logging.FieldEventType, "workspace_sweep"),
			)
		}
		m.removeEmpty(parent)
	}
	return result
}

// removeEmpty drops a requester directory once no jobs remain in it.
func (m *Manager) removeEmpty(parent string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = os.Remove(parent)
}

func (m *Manager) held(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inUse[path]
	return ok
}

func (m *Manager) contains(path string) bool {
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	return statfsFree(path)
}

func statfsFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
