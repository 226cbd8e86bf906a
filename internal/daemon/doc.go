// Package daemon coordinates the long-running imaginer process.
//
// It wires configuration, the queue store, and the dispatcher into a single
// lifecycle with flock-based locking to prevent multiple instances. The daemon
// applies enqueue defaults, translates queue errors into IPC outcomes,
// aggregates status (dispatcher, host memory, output volume, store health),
// and serves /metrics, /healthz, and read-only JSON status on the metrics
// listener.
//
// Keep orchestration logic here: queue semantics live in workflow and the
// ComfyUI protocol lives in comfyui.
package daemon
