// Package delivery carries job progress, finished files and failures back to
// whoever asked for the job.
//
// Channel is the contract the pipeline depends on. Router picks a concrete
// channel from the requester identity prefix ("http:", "telegram:", "cli:"):
// Hub serves HTTP clients through an outbox directory and server-sent
// events, Telegram talks to the Bot API, and Console prints to a terminal.
package delivery
