package queue

import "context"

// Snapshot is an immutable copy of queue membership. Pending is in dispatch
// order and Completed is newest-first.
type Snapshot struct {
	Pending   []*Job `json:"queue"`
	Active    *Job   `json:"active"`
	Completed []*Job `json:"completed"`
}

// Clone deep-copies every job in the snapshot.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Pending:   cloneJobs(s.Pending),
		Active:    s.Active.Clone(),
		Completed: cloneJobs(s.Completed),
	}
}

// Store persists queue snapshots. Save must be durable when it returns.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snapshot Snapshot) error
	Close() error
}

// Health describes the backing store for status output.
type Health struct {
	Backend  string `json:"backend"`
	Path     string `json:"path"`
	Exists   bool   `json:"exists"`
	Readable bool   `json:"readable"`
	Jobs     int    `json:"jobs"`
	Error    string `json:"error,omitempty"`
}

// HealthChecker is implemented by stores that can describe themselves.
type HealthChecker interface {
	CheckHealth(ctx context.Context) (Health, error)
}
