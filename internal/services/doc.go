// Package services defines shared utilities consumed by the pipeline stages
// and the external tool wrappers.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, requester identities, stage names,
//     and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into the pipeline's error taxonomy (acquisition, encode, size
//     constraint, delivery, concurrency).
//   - Mapping from that taxonomy to the short message a requester sees.
//
// Use these helpers when wiring new stage logic so failure handling and
// observability stay uniform across jobs.
package services
