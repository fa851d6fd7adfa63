package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"clipfit/internal/api"
	"clipfit/internal/jobstore"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

// renderStatus formats a daemon status report as sectioned lines.
func renderStatus(status api.DaemonStatus, colorize bool) []string {
	var lines []string

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if status.Running {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusInfo, "not running", colorize))
	}
	lines = append(lines, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Budget", colorize)...)
	lines = append(lines,
		renderStatusLine("Ceiling", statusInfo, humanize.IBytes(uint64(max(status.Budget.CeilingBytes, 0))), colorize),
		renderStatusLine("Retry target", statusInfo, humanize.IBytes(uint64(max(status.Budget.TargetBytes, 0))), colorize),
		renderStatusLine("Max attempts", statusInfo, fmt.Sprintf("%d", status.Budget.MaxAttempts), colorize),
	)

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range status.Dependencies {
		kind, message := dependencyState(dep)
		lines = append(lines, renderStatusLine(dep.Name, kind, message, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Checks", colorize)...)
	for _, check := range status.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Jobs", colorize)...)
	for _, row := range []struct {
		label  string
		status jobstore.Status
	}{
		{"Running", jobstore.StatusRunning},
		{"Completed", jobstore.StatusCompleted},
		{"Failed", jobstore.StatusFailed},
	} {
		count := status.JobCounts[string(row.status)]
		lines = append(lines, renderStatusLine(row.label, statusInfo, fmt.Sprintf("%d", count), colorize))
	}
	for _, job := range status.ActiveJobs {
		label := job.ID
		message := job.Progress.Message
		if job.Title != "" {
			message = job.Title + " - " + message
		}
		lines = append(lines, renderStatusLine(label, statusInfo, message, colorize))
	}
	return lines
}

func dependencyState(dep api.DependencyStatus) (statusKind, string) {
	if dep.Available {
		message := dep.Command
		if dep.Version != "" {
			message = dep.Version
		}
		return statusOK, message
	}
	detail := dep.Detail
	if detail == "" {
		detail = "not found"
	}
	if dep.Optional {
		return statusWarn, detail + " (optional)"
	}
	return statusError, detail
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
