// Package preflight provides readiness checks for the ComfyUI backend, the
// workflow templates, and the directories imaginer writes to.
//
// The CLI "imaginer status" and "imaginer config validate" commands render
// these results. None of them block the daemon from starting; a job whose
// backend is unavailable fails on its own.
package preflight
