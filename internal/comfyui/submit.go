package comfyui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imaginer/internal/fileutil"
	"imaginer/internal/services"
	"imaginer/internal/workflow"
)

var _ workflow.Worker = (*Client)(nil)

type promptRequest struct {
	Prompt   Graph  `json:"prompt"`
	ClientID string `json:"client_id"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

type historyEntry struct {
	Status struct {
		StatusStr string  `json:"status_str"`
		Completed bool    `json:"completed"`
		Messages  [][]any `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []ImageRef `json:"images"`
	} `json:"outputs"`
}

// ImageRef locates a file inside ComfyUI's input, output, or temp tree.
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type uploadResponse struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// Submit runs one generation to completion and writes the first output image
// to req.OutputPath.
func (c *Client) Submit(ctx context.Context, req workflow.Request) (workflow.Result, error) {
	graph, err := LoadGraph(c.templatePath(req.Params))
	if err != nil {
		return workflow.Result{}, err
	}

	var referenceName string
	if req.Params.UseReferenceImage {
		referenceName, err = c.UploadImage(ctx, req.Params.ReferenceImage)
		if err != nil {
			return workflow.Result{}, err
		}
	}

	var seed uint32
	if req.Params.Seed != nil {
		seed = *req.Params.Seed
	}
	if err := c.apply(graph, req.Params, seed, referenceName); err != nil {
		return workflow.Result{}, err
	}

	promptID, err := c.QueuePrompt(ctx, graph)
	if err != nil {
		return workflow.Result{}, err
	}
	entry, err := c.waitForHistory(ctx, promptID)
	if err != nil {
		if ctx.Err() != nil {
			c.interruptAfterCancel()
		}
		return workflow.Result{}, err
	}

	image, ok := firstImage(entry)
	if !ok {
		return workflow.Result{}, services.Wrap(services.ErrExternalTool, component, "collect output",
			fmt.Sprintf("prompt %s finished without an image output", promptID), nil)
	}
	data, err := c.DownloadImage(ctx, image)
	if err != nil {
		return workflow.Result{}, err
	}
	if err := fileutil.WriteFileAtomic(req.OutputPath, data, 0o644); err != nil {
		return workflow.Result{}, services.Wrap(services.ErrConfiguration, component, "save output", req.OutputPath, err)
	}
	return workflow.Result{RelativePath: req.RelativePath, Bytes: int64(len(data))}, nil
}

// QueuePrompt posts a graph to /prompt and returns its prompt id.
func (c *Client) QueuePrompt(ctx context.Context, graph Graph) (string, error) {
	var resp promptResponse
	if err := c.postJSON(ctx, "queue prompt", "/prompt", promptRequest{Prompt: graph, ClientID: c.cfg.ClientID}, &resp); err != nil {
		return "", err
	}
	if len(resp.NodeErrors) > 0 {
		return "", services.Wrap(services.ErrValidation, component, "queue prompt", fmt.Sprintf("node errors: %v", resp.NodeErrors), nil)
	}
	if strings.TrimSpace(resp.PromptID) == "" {
		return "", services.Wrap(services.ErrExternalTool, component, "queue prompt", "response missing prompt_id", nil)
	}
	return resp.PromptID, nil
}

// waitForHistory polls /history/{id} until the prompt appears or the
// generation timeout elapses.
func (c *Client) waitForHistory(ctx context.Context, promptID string) (historyEntry, error) {
	deadline := time.Now().Add(c.cfg.GenerationTimeout)
	path := "/history/" + url.PathEscape(promptID)
	for {
		var history map[string]historyEntry
		if err := c.getJSON(ctx, "poll history", path, &history); err != nil {
			if ctx.Err() != nil {
				return historyEntry{}, err
			}
			// A dropped poll is retried until the deadline.
			if !errors.Is(err, services.ErrTransient) {
				return historyEntry{}, err
			}
		}
		if entry, ok := history[promptID]; ok {
			if strings.EqualFold(entry.Status.StatusStr, "error") {
				return historyEntry{}, services.Wrap(services.ErrExternalTool, component, "generate", executionError(entry), nil)
			}
			if entry.Status.Completed || entry.Status.StatusStr == "" || strings.EqualFold(entry.Status.StatusStr, "success") {
				return entry, nil
			}
		}
		if !time.Now().Before(deadline) {
			return historyEntry{}, services.Wrap(services.ErrTimeout, component, "generate",
				fmt.Sprintf("prompt %s did not finish within %s", promptID, c.cfg.GenerationTimeout), nil)
		}
		if err := c.sleeper(ctx, c.cfg.HistoryPoll); err != nil {
			return historyEntry{}, fmt.Errorf("generate: %w", err)
		}
	}
}

// executionError pulls the exception message out of the status messages.
func executionError(entry historyEntry) string {
	for _, message := range entry.Status.Messages {
		if len(message) < 2 {
			continue
		}
		if kind, _ := message[0].(string); kind != "execution_error" {
			continue
		}
		if detail, ok := message[1].(map[string]any); ok {
			text, _ := detail["exception_message"].(string)
			node, _ := detail["node_type"].(string)
			if text = strings.TrimSpace(text); text != "" {
				if node != "" {
					return fmt.Sprintf("%s: %s", node, text)
				}
				return text
			}
		}
	}
	return "workflow execution failed"
}

// firstImage returns the first image in node-id order so repeated runs pick
// the same output node.
func firstImage(entry historyEntry) (ImageRef, bool) {
	var best ImageRef
	bestNode := ""
	found := false
	for nodeID, output := range entry.Outputs {
		if len(output.Images) == 0 {
			continue
		}
		if !found || nodeID < bestNode {
			best = output.Images[0]
			bestNode = nodeID
			found = true
		}
	}
	return best, found
}

// DownloadImage fetches a file through /view.
func (c *Client) DownloadImage(ctx context.Context, image ImageRef) ([]byte, error) {
	folderType := image.Type
	if folderType == "" {
		folderType = "output"
	}
	query := url.Values{}
	query.Set("filename", image.Filename)
	query.Set("subfolder", image.Subfolder)
	query.Set("type", folderType)
	data, err := c.do(ctx, "download image", http.MethodGet, "/view", query, "", nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrExternalTool, component, "download image", image.Filename+" is empty", nil)
	}
	return data, nil
}

// UploadImage sends a local file to /upload/image and returns the name the
// LoadImage node should reference.
func (c *Client) UploadImage(ctx context.Context, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", services.Wrap(services.ErrValidation, component, "upload reference", "reference image path is empty", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "upload reference", path, err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "upload reference", "build form", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", services.Wrap(services.ErrValidation, component, "upload reference", "build form", err)
	}
	_ = writer.WriteField("type", "input")
	_ = writer.WriteField("overwrite", "true")
	if err := writer.Close(); err != nil {
		return "", services.Wrap(services.ErrValidation, component, "upload reference", "build form", err)
	}

	raw, err := c.do(ctx, "upload reference", http.MethodPost, "/upload/image", nil, writer.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	var resp uploadResponse
	if err := decodeResponse("upload reference", raw, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", services.Wrap(services.ErrExternalTool, component, "upload reference", "response missing name", nil)
	}
	if resp.Subfolder != "" {
		return resp.Subfolder + "/" + resp.Name, nil
	}
	return resp.Name, nil
}
