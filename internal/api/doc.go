// Package api defines wire-format types and converters shared by the IPC
// server, the HTTP status endpoints, and the CLI. It translates queue and
// dispatcher state into transport-friendly copies so callers never hold
// references into the manager.
//
// # Key Types
//
// Job: one queued, generating, or finished request with RFC3339 timestamps.
//
// QueueSnapshot: pending jobs in dispatch order, the active job, and the
// newest-first history.
//
// WorkflowStatus: dispatcher and idle timer state, including the countdown to
// the next automatic reclaim.
//
// DaemonStatus: WorkflowStatus plus host memory, output volume free space,
// store health, and process details.
//
// # Converters
//
// FromJob, FromSnapshot, FromStatusSummary, FromReclaimRecord, FromHealth.
//
// JobRequest.Params turns a CLI or IPC submission into queue.Params with the
// configured defaults applied.
package api
