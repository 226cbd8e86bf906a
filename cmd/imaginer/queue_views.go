package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"imaginer/internal/api"
	"imaginer/internal/logging"
)

var jobColumns = []tableColumn{
	{header: "ID"},
	{header: "Status"},
	{header: "Prompt", maxWidth: promptColumnWidth},
	{header: "Size", align: alignRight},
	{header: "Steps", align: alignRight},
	{header: "Updated"},
	{header: "Result", maxWidth: promptColumnWidth},
}

func buildJobRows(jobs []api.Job, now time.Time) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		rows = append(rows, []string{
			logging.ShortJobID(job.ID),
			titleLabel(job.Status),
			promptLabel(job.Params),
			fmt.Sprintf("%dx%d", job.Params.Width, job.Params.Height),
			fmt.Sprintf("%d", job.Params.Steps),
			relativeTime(lastTimestamp(job), now),
			resultLabel(job),
		})
	}
	return rows
}

func promptLabel(params api.JobParams) string {
	prompt := strings.Join(strings.Fields(params.Prompt), " ")
	var tags []string
	if params.UseReferenceImage {
		tags = append(tags, "ref")
	}
	for name, enabled := range params.Toggles {
		if !enabled {
			tags = append(tags, "-"+name)
		}
	}
	if len(tags) == 0 {
		return prompt
	}
	return fmt.Sprintf("%s [%s]", prompt, strings.Join(tags, " "))
}

func lastTimestamp(job api.Job) string {
	for _, ts := range []string{job.FailedAt, job.CompletedAt, job.StartedAt, job.AddedAt} {
		if strings.TrimSpace(ts) != "" {
			return ts
		}
	}
	return ""
}

func relativeTime(value string, now time.Time) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return value
	}
	return humanize.RelTime(parsed, now, "ago", "from now")
}

func resultLabel(job api.Job) string {
	switch {
	case job.Error != "":
		return job.Error
	case job.ResultRef != "":
		return job.ResultRef
	default:
		return ""
	}
}

func formatBytes(value uint64) string {
	if value == 0 {
		return "unknown"
	}
	return humanize.IBytes(value)
}

// findJob returns the job whose id equals or starts with id.
func findJob(snapshot api.QueueSnapshot, id string) (api.Job, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return api.Job{}, false
	}
	candidates := make([]api.Job, 0, len(snapshot.Pending)+len(snapshot.Completed)+1)
	if snapshot.Active != nil {
		candidates = append(candidates, *snapshot.Active)
	}
	candidates = append(candidates, snapshot.Pending...)
	candidates = append(candidates, snapshot.Completed...)

	var match api.Job
	matches := 0
	for _, job := range candidates {
		if job.ID == id {
			return job, true
		}
		if strings.HasPrefix(job.ID, id) {
			match = job
			matches++
		}
	}
	return match, matches == 1
}

func describeJob(job api.Job) []string {
	lines := []string{
		fmt.Sprintf("ID:         %s", job.ID),
		fmt.Sprintf("Status:     %s", titleLabel(job.Status)),
		fmt.Sprintf("Prompt:     %s", job.Params.Prompt),
		fmt.Sprintf("Size:       %dx%d", job.Params.Width, job.Params.Height),
		fmt.Sprintf("Steps/CFG:  %d / %g", job.Params.Steps, job.Params.CFG),
	}
	if job.Params.Seed != nil {
		lines = append(lines, fmt.Sprintf("Seed:       %d", *job.Params.Seed))
	} else {
		lines = append(lines, "Seed:       random")
	}
	lines = append(lines, fmt.Sprintf("Prefix:     %s", job.Params.FilePrefix))
	if job.Params.Subfolder != "" {
		lines = append(lines, fmt.Sprintf("Subfolder:  %s", job.Params.Subfolder))
	}
	if job.Params.UseReferenceImage {
		lines = append(lines, fmt.Sprintf("Reference:  %s", job.Params.ReferenceImage))
	}
	for _, field := range []struct {
		label string
		value string
	}{
		{"Added:", job.AddedAt},
		{"Started:", job.StartedAt},
		{"Completed:", job.CompletedAt},
		{"Failed:", job.FailedAt},
	} {
		if field.value != "" {
			lines = append(lines, fmt.Sprintf("%-11s %s", field.label, field.value))
		}
	}
	if job.ResultRef != "" {
		lines = append(lines, fmt.Sprintf("Result:     %s", job.ResultRef))
	}
	if job.Error != "" {
		lines = append(lines, fmt.Sprintf("Error:      %s", job.Error))
	}
	return lines
}
