// Package logging assembles structured slog loggers and formatting helpers used
// across clipfit.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code can tag log
// lines with job IDs, requester identities, job states, and correlation IDs.
// The package also provides a no-op logger for tests and wiring code that
// cannot fail, and a sampler that keeps byte-level download progress from
// flooding the logs.
package logging
