// Package preflight provides readiness checks for the external binaries,
// filesystem paths and services clipfit depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll and CheckSystemDeps at startup and refuses to
//     serve when a required binary or directory is unusable.
//   - The CLI "clipfit status" command and GET /api/status display the
//     same results.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
