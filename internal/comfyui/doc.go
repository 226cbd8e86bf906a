// Package comfyui drives a ComfyUI server over its HTTP API.
//
// Client implements workflow.Worker: Submit patches the configured workflow
// template with the job parameters, queues it through /prompt, polls
// /history until the graph finishes, and downloads the first output image
// through /view into the reserved output path. Reclaim and Interrupt map onto
// /free and /interrupt.
package comfyui
