// Package daemonctl launches, stops, and inspects the imaginer daemon process
// on behalf of the CLI.
package daemonctl
