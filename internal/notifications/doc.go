// Package notifications pushes job outcomes to an operator via ntfy.
//
// The topic URL comes from config.toml (or NTFY_TOPIC). Without a topic the
// service is a no-op, and each event type can be switched off on its own.
// Workflow code depends only on the Service interface.
package notifications
