package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"imaginer/internal/comfyui"
	"imaginer/internal/config"
	"imaginer/internal/services"
)

// CheckComfyUI verifies that the ComfyUI server answers /system_stats.
func CheckComfyUI(ctx context.Context, client *comfyui.Client) Result {
	const name = "ComfyUI"
	if client == nil {
		return Result{Name: name, Detail: "not configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := client.SystemStats(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s unreachable (%s)", client.BaseURL(), summarizeError(err))}
	}
	detail := client.BaseURL() + " reachable"
	if version := systemVersion(stats); version != "" {
		detail = fmt.Sprintf("%s (v%s)", detail, version)
	}
	if devices := deviceNames(stats); len(devices) > 0 {
		detail = fmt.Sprintf("%s on %s", detail, strings.Join(devices, ", "))
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckWorkflowTemplate loads an API-format workflow and confirms the
// configured node ids exist in it.
func CheckWorkflowTemplate(name, path string, nodes config.Nodes, reference bool) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "path not configured"}
	}
	graph, err := comfyui.LoadGraph(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s)", path, summarizeError(err))}
	}
	if missing := graph.MissingNodes(nodes, reference); len(missing) > 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing nodes: %s)", path, strings.Join(missing, ", "))}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d nodes)", path, len(graph))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func systemVersion(stats map[string]any) string {
	system, ok := stats["system"].(map[string]any)
	if !ok {
		return ""
	}
	version, _ := system["comfyui_version"].(string)
	return strings.TrimSpace(version)
}

func deviceNames(stats map[string]any) []string {
	devices, ok := stats["devices"].([]any)
	if !ok {
		return nil
	}
	var names []string
	for _, raw := range devices {
		device, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if name, ok := device["name"].(string); ok && strings.TrimSpace(name) != "" {
			names = append(names, strings.TrimSpace(name))
		}
	}
	return names
}

// summarizeError shortens transport failures for single-line status output.
func summarizeError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, services.ErrTimeout):
		return "timed out"
	case errors.Is(err, services.ErrTransient):
		return "connection failed"
	case errors.Is(err, services.ErrNotFound):
		return "not found"
	default:
		return err.Error()
	}
}
