// Package workflow runs the per-job state machine.
//
// Manager.Submit registers the job with the registry and returns at once; the
// job then runs on its own goroutine through
//
//	created -> fetching_manifest -> downloading -> audio | video -> delivering -> cleaned
//
// Any stage failure jumps straight to cleanup. Cleanup runs exactly once per
// job, even after a panic: it reports the outcome, releases the workspace,
// removes the registry entry and records the result in the job store.
// Progress reports are best-effort and never fail a job.
package workflow
