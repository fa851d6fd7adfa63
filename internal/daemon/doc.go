// Package daemon coordinates the long-running clipfit process.
//
// It wires configuration, job history, the workflow manager, the HTTP
// delivery hub and the workspace manager into a single lifecycle with
// flock-based locking to prevent multiple instances. On start it marks jobs
// left running by a previous process as failed, sweeps stale workspaces and
// expired outbox files, schedules the same sweep with cron, and serves the
// HTTP API when a bind address is configured.
//
// Keep orchestration logic here: pipeline stages live in workflow while the
// daemon focuses on startup, shutdown and the HTTP surface.
package daemon
