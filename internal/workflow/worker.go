package workflow

import (
	"context"

	"imaginer/internal/queue"
)

// Request is one fully resolved generation call.
type Request struct {
	JobID        string
	Params       queue.Params
	OutputPath   string
	RelativePath string
}

// Result describes the artifact a worker produced.
type Result struct {
	RelativePath string
	Bytes        int64
}

// Worker is the generation backend. Submit blocks until the artifact exists or
// the call fails. Reclaim must be safe to call when nothing is loaded.
type Worker interface {
	Submit(ctx context.Context, req Request) (Result, error)
	Reclaim(ctx context.Context) error
	Interrupt(ctx context.Context) error
}
