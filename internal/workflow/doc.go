// Package workflow runs the single-flight generation dispatcher.
//
// The Manager owns the pending FIFO, the one active job slot, the bounded
// completed history, and the idle-reclaim timer, all guarded by one mutex.
// A background loop pops the oldest pending job, hands it to the Worker,
// records the outcome, and persists a snapshot after every membership change.
// When the queue stays empty for the configured delay the worker is asked to
// release GPU resources exactly once; a new arrival re-arms the timer.
//
// Callers (IPC handlers, tests) only ever receive copies of job records.
package workflow
