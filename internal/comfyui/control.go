package comfyui

import (
	"context"
	"time"
)

const cancelInterruptTimeout = 5 * time.Second

type freeRequest struct {
	UnloadModels bool `json:"unload_models"`
	FreeMemory   bool `json:"free_memory"`
}

// Reclaim unloads every model and frees memory, then clears the cache. Both
// calls are idempotent.
func (c *Client) Reclaim(ctx context.Context) error {
	if err := c.postJSON(ctx, "unload models", "/free", freeRequest{UnloadModels: true, FreeMemory: true}, nil); err != nil {
		return err
	}
	return c.postJSON(ctx, "clear cache", "/free", freeRequest{UnloadModels: false, FreeMemory: true}, nil)
}

// Interrupt aborts whatever the server is executing.
func (c *Client) Interrupt(ctx context.Context) error {
	return c.postJSON(ctx, "interrupt", "/interrupt", nil, nil)
}

// SystemStats reports the server's device and version information.
func (c *Client) SystemStats(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := c.getJSON(ctx, "system stats", "/system_stats", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// interruptAfterCancel aborts the server-side prompt after the caller's
// context is done.
func (c *Client) interruptAfterCancel() {
	ctx, cancel := context.WithTimeout(context.Background(), cancelInterruptTimeout)
	defer cancel()
	_ = c.Interrupt(ctx)
}
