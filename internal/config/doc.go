// Package config loads, normalizes, and validates clipfit configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// CLIPFIT_TELEGRAM_TOKEN. The Config type centralizes every knob the daemon
// and CLI need: where job workspaces live, the delivery size ceiling, which
// ffmpeg and yt-dlp binaries to run, and how the HTTP and Telegram front ends
// behave.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
