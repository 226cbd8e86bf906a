package api

import (
	"strings"

	"imaginer/internal/queue"
)

// JobRequest is a submission from the CLI or IPC. Zero numeric fields and an
// empty prefix take the configured defaults.
type JobRequest struct {
	Prompt            string          `json:"prompt"`
	Width             int             `json:"width,omitempty"`
	Height            int             `json:"height,omitempty"`
	Steps             int             `json:"steps,omitempty"`
	CFG               float64         `json:"cfg,omitempty"`
	Seed              *uint32         `json:"seed,omitempty"`
	FilePrefix        string          `json:"filePrefix,omitempty"`
	Subfolder         string          `json:"subfolder,omitempty"`
	UseReferenceImage bool            `json:"useReferenceImage,omitempty"`
	ReferenceImage    string          `json:"referenceImage,omitempty"`
	Toggles           map[string]bool `json:"toggles,omitempty"`
}

// Params converts the request into queue parameters with defaults applied.
// Validation is left to the manager.
func (r JobRequest) Params(defaults queue.Defaults) queue.Params {
	params := queue.Params{
		Prompt:            strings.TrimSpace(r.Prompt),
		Width:             r.Width,
		Height:            r.Height,
		Steps:             r.Steps,
		CFG:               r.CFG,
		Seed:              r.Seed,
		FilePrefix:        strings.TrimSpace(r.FilePrefix),
		Subfolder:         strings.TrimSpace(r.Subfolder),
		UseReferenceImage: r.UseReferenceImage,
		ReferenceImage:    strings.TrimSpace(r.ReferenceImage),
		Toggles:           r.Toggles,
	}
	return params.WithDefaults(defaults)
}
