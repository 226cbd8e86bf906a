package preflight

import (
	"context"
	"strings"

	"imaginer/internal/comfyui"
	"imaginer/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every readiness check for the given config. The reference
// workflow is only checked when one is configured.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckWorkflowTemplate("Workflow", cfg.ComfyUI.WorkflowPath, cfg.ComfyUI.Nodes, false),
	}
	if strings.TrimSpace(cfg.ComfyUI.ReferenceWorkflowPath) != "" {
		results = append(results, CheckWorkflowTemplate("Reference workflow", cfg.ComfyUI.ReferenceWorkflowPath, cfg.ComfyUI.Nodes, true))
	}
	results = append(results, CheckComfyUI(ctx, comfyui.NewClient(comfyui.ConfigFrom(cfg))))
	return results
}
