package comfyui

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"imaginer/internal/config"
	"imaginer/internal/queue"
	"imaginer/internal/services"
)

// Graph is a ComfyUI workflow in API format, keyed by node id.
type Graph map[string]*Node

// Node is one entry of an API-format workflow.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      *NodeMeta      `json:"_meta,omitempty"`
}

// NodeMeta carries the display title ComfyUI stores alongside a node.
type NodeMeta struct {
	Title string `json:"title,omitempty"`
}

// LoadGraph reads an API-format workflow file.
func LoadGraph(path string) (Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "load workflow", path, err)
	}
	var graph Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, "load workflow", "parse "+path, err)
	}
	if len(graph) == 0 {
		return nil, services.Wrap(services.ErrConfiguration, component, "load workflow", path+" contains no nodes", nil)
	}
	return graph, nil
}

func (c *Client) templatePath(params queue.Params) string {
	if params.UseReferenceImage && c.cfg.ReferenceWorkflowPath != "" {
		return c.cfg.ReferenceWorkflowPath
	}
	return c.cfg.WorkflowPath
}

// apply writes the job parameters into the graph nodes named by the node map.
// referenceName is the uploaded image name and is only used when the job
// requests a reference image.
func (c *Client) apply(graph Graph, params queue.Params, seed uint32, referenceName string) error {
	nodes := c.cfg.Nodes
	if err := setInput(graph, nodes.Prompt, "text", params.Prompt); err != nil {
		return err
	}
	if err := setInput(graph, nodes.Latent, "width", params.Width); err != nil {
		return err
	}
	if err := setInput(graph, nodes.Latent, "height", params.Height); err != nil {
		return err
	}
	for key, value := range map[string]any{"steps": params.Steps, "cfg": params.CFG, "seed": seed} {
		if err := setInput(graph, nodes.Sampler, key, value); err != nil {
			return err
		}
	}
	if params.UseReferenceImage {
		if strings.TrimSpace(nodes.ReferenceImage) == "" {
			return services.Wrap(services.ErrConfiguration, component, "apply parameters",
				"job requests a reference image but comfyui.nodes.reference_image is empty", nil)
		}
		if err := setInput(graph, nodes.ReferenceImage, "image", referenceName); err != nil {
			return err
		}
	}
	return applyToggles(graph, params.Toggles)
}

func setInput(graph Graph, nodeID, key string, value any) error {
	node, ok := graph[nodeID]
	if !ok || node == nil {
		return services.Wrap(services.ErrValidation, component, "apply parameters",
			fmt.Sprintf("workflow has no node %q for %s", nodeID, key), nil)
	}
	if node.Inputs == nil {
		node.Inputs = make(map[string]any)
	}
	node.Inputs[key] = value
	return nil
}

// applyToggles matches each toggle against node titles. A disabled toggle
// zeroes the node's model and clip strengths, which is how LoRA loaders are
// switched off without rewiring the graph.
func applyToggles(graph Graph, toggles map[string]bool) error {
	for name, enabled := range toggles {
		node := findByTitle(graph, name)
		if node == nil {
			return services.Wrap(services.ErrValidation, component, "apply toggles",
				fmt.Sprintf("workflow has no node titled %q", name), nil)
		}
		if enabled {
			continue
		}
		for _, key := range []string{"strength_model", "strength_clip"} {
			if _, ok := node.Inputs[key]; ok {
				node.Inputs[key] = 0.0
			}
		}
	}
	return nil
}

func findByTitle(graph Graph, title string) *Node {
	if node, ok := graph[title]; ok && node != nil {
		return node
	}
	for _, node := range graph {
		if node != nil && node.Meta != nil && strings.EqualFold(strings.TrimSpace(node.Meta.Title), strings.TrimSpace(title)) {
			return node
		}
	}
	return nil
}

// MissingNodes lists the configured node ids the graph lacks. The reference
// image node is only required when reference is set.
func (g Graph) MissingNodes(nodes config.Nodes, reference bool) []string {
	required := []string{nodes.Prompt, nodes.Latent, nodes.Sampler}
	if reference {
		required = append(required, nodes.ReferenceImage)
	}
	var missing []string
	for _, id := range required {
		if node, ok := g[id]; !ok || node == nil {
			missing = append(missing, id)
		}
	}
	return missing
}
