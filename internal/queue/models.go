package queue

import (
	"fmt"
	"maps"
	"path/filepath"
	"strings"
	"time"
)

// Status represents the lifecycle of a job record.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DaemonStopReason is the error message set when the active job is abandoned at shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{StatusQueued, StatusGenerating, StatusCompleted, StatusFailed}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Params is the generation request. The dispatcher only reads Seed and
// UseReferenceImage; everything else is handed to the worker untouched.
type Params struct {
	Prompt            string          `json:"prompt"`
	Width             int             `json:"width"`
	Height            int             `json:"height"`
	Steps             int             `json:"steps"`
	CFG               float64         `json:"cfg"`
	Seed              *uint32         `json:"seed,omitempty"`
	FilePrefix        string          `json:"file_prefix,omitempty"`
	Subfolder         string          `json:"subfolder,omitempty"`
	UseReferenceImage bool            `json:"use_reference_image,omitempty"`
	ReferenceImage    string          `json:"reference_image,omitempty"`
	Toggles           map[string]bool `json:"toggles,omitempty"`
}

// Defaults fills zero-valued generation parameters before validation.
type Defaults struct {
	Width      int
	Height     int
	Steps      int
	CFG        float64
	FilePrefix string
}

// WithDefaults returns a copy with zero fields replaced by the supplied defaults.
func (p Params) WithDefaults(d Defaults) Params {
	out := p.Clone()
	if out.Width == 0 {
		out.Width = d.Width
	}
	if out.Height == 0 {
		out.Height = d.Height
	}
	if out.Steps == 0 {
		out.Steps = d.Steps
	}
	if out.CFG == 0 {
		out.CFG = d.CFG
	}
	if strings.TrimSpace(out.FilePrefix) == "" {
		out.FilePrefix = d.FilePrefix
	}
	return out
}

// Validate rejects malformed requests with ErrInvalidInput.
func (p Params) Validate() error {
	switch {
	case strings.TrimSpace(p.Prompt) == "":
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("%w: dimensions must be positive (got %dx%d)", ErrInvalidInput, p.Width, p.Height)
	case p.Steps <= 0:
		return fmt.Errorf("%w: steps must be positive (got %d)", ErrInvalidInput, p.Steps)
	case p.CFG < 0:
		return fmt.Errorf("%w: cfg must not be negative", ErrInvalidInput)
	case strings.TrimSpace(p.FilePrefix) == "":
		return fmt.Errorf("%w: file prefix is required", ErrInvalidInput)
	case strings.ContainsAny(p.FilePrefix, `/\`):
		return fmt.Errorf("%w: file prefix must not contain path separators", ErrInvalidInput)
	case p.UseReferenceImage && strings.TrimSpace(p.ReferenceImage) == "":
		return fmt.Errorf("%w: reference image path is required when use_reference_image is set", ErrInvalidInput)
	}
	if p.Subfolder != "" {
		if filepath.IsAbs(p.Subfolder) {
			return fmt.Errorf("%w: subfolder must be relative", ErrInvalidInput)
		}
		for _, part := range strings.Split(filepath.ToSlash(p.Subfolder), "/") {
			if part == ".." {
				return fmt.Errorf("%w: subfolder must not leave the output directory", ErrInvalidInput)
			}
		}
	}
	return nil
}

// Clone deep-copies the seed pointer and toggle map.
func (p Params) Clone() Params {
	out := p
	if p.Seed != nil {
		seed := *p.Seed
		out.Seed = &seed
	}
	if p.Toggles != nil {
		out.Toggles = maps.Clone(p.Toggles)
	}
	return out
}

// Job is one queued, executing, or finished generation request.
type Job struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Params      Params     `json:"params"`
	AddedAt     time.Time  `json:"added_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	ResultRef   string     `json:"result_ref,omitempty"`
}

// Clone returns a copy that shares no mutable state with the receiver.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Params = j.Params.Clone()
	out.StartedAt = cloneTime(j.StartedAt)
	out.CompletedAt = cloneTime(j.CompletedAt)
	out.FailedAt = cloneTime(j.FailedAt)
	return &out
}

// MarkGenerating stamps the start time and moves the job to generating.
func (j *Job) MarkGenerating(now time.Time) {
	j.Status = StatusGenerating
	j.StartedAt = &now
}

// SetCompleted records a successful result.
func (j *Job) SetCompleted(now time.Time, resultRef string) {
	j.Status = StatusCompleted
	j.ResultRef = resultRef
	j.Error = ""
	j.CompletedAt = &now
}

// SetFailed marks the job as failed with the given error message.
func (j *Job) SetFailed(now time.Time, message string) {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	j.Status = StatusFailed
	j.Error = message
	j.FailedAt = &now
}

// FinishedAt returns the completion or failure time, whichever is set.
func (j *Job) FinishedAt() time.Time {
	switch {
	case j.CompletedAt != nil:
		return *j.CompletedAt
	case j.FailedAt != nil:
		return *j.FailedAt
	default:
		return time.Time{}
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
