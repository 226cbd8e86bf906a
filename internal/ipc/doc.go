// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// The server owns socket lifecycle and forwards each RPC to the daemon. Request
// and response types wrap the api DTOs so the CLI and the HTTP status surface
// render the same shapes.
package ipc
