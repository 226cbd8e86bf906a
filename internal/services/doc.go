// Package services defines shared utilities consumed by the dispatcher and the
// external integrations it drives.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs and correlation identifiers for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper so worker failures can be
//     classified (timeout, transient, validation) without string matching.
package services
