// Package encoding turns a downloaded source into an artifact that fits the
// delivery size budget.
//
// Attempt wraps one transcoder invocation: it runs the transcoder, checks
// that a non-empty (and optionally ffprobe-verified) file came out, and on
// any failure removes the partial output and reports AttemptResult with
// Success=false instead of an error.
//
// RetryController drives the bounded step-down loop. Each retry re-encodes
// the previous successful output, not the original source, with parameters
// from budget.NextStepDown. The most recent successful output is always the
// candidate, even when it is larger than the one before it; superseded
// outputs are deleted as soon as a newer one exists.
package encoding
