// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect executes ffprobe and returns the parsed streams and container
// metadata. Verifier builds on it to check that a freshly transcoded
// artifact is playable: it has a positive duration, an audio stream, and for
// video specs a video stream at the requested resolution.
package ffprobe
