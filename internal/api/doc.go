// Package api defines wire-format types and converters for the HTTP API.
// It translates workflow snapshots, job history records and hub events into
// transport-friendly DTOs so the daemon and the CLI render the same shapes
// without coupling to internal types.
//
// # Key Types
//
// Job: one job, live or historical, with its progress and final outcome.
//
// SubmitRequest/SubmitResponse: the POST /api/jobs payloads.
//
// DaemonStatus: aggregated runtime information including dependencies,
// preflight results and active jobs.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds in
// UTC. Live snapshots and history records share the Job shape; a live job
// has Active set and no terminal fields.
package api
