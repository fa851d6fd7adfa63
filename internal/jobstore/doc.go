// Package jobstore persists job history in SQLite.
//
// The pipeline itself keeps no durable state; the store records what each
// job did so operators can list recent work, inspect failures and see jobs
// interrupted by a crash. Writes retry on SQLITE_BUSY with exponential
// backoff and the database runs in WAL mode so the CLI can read while the
// daemon writes.
package jobstore
