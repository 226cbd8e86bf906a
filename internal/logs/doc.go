// Package logs reads the daemon log file for `imaginer logs`.
//
// Tail keeps memory bounded when reading the last N lines, resumes from byte
// offsets for follow mode, and filters JSON or console lines by job id and
// level. Callers pass a context deadline so follow polling stops when the CLI
// exits.
package logs
