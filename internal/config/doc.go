// Package config loads, normalizes, and validates imaginer configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// IMAGINER_COMFYUI_ADDRESS. The Config type centralizes every knob the daemon
// and CLI need so the output tree, state directory, ComfyUI connection, and
// queue timings are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
