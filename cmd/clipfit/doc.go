// Command clipfit runs the adaptive media delivery pipeline.
//
// `clipfit serve` starts the daemon with its HTTP front end and optional
// Telegram delivery. `clipfit fetch` runs a single job in-process and copies
// the result into a local directory. The remaining commands inspect job
// history, dependency status and configuration.
package main
