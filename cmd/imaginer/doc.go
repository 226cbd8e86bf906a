// Package main hosts the imaginer CLI entrypoint and command graph.
//
// Commands translate terminal invocations into IPC calls against the daemon:
// queue management, manual reclaim and interrupt, log tailing, and status.
// Configuration scaffolding and the foreground `imaginer daemon` entrypoint
// live here too.
package main
