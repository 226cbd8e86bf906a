package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"imaginer/internal/api"
	"imaginer/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the generation queue",
	}

	queueCmd.AddCommand(newQueueAddCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueForgetCommand(ctx))

	return queueCmd
}

type addOptions struct {
	width     int
	height    int
	steps     int
	cfg       float64
	seed      int64
	prefix    string
	subfolder string
	reference string
	toggles   []string
	stdin     bool
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	opts := addOptions{seed: -1}
	cmd := &cobra.Command{
		Use:   "add [prompt...]",
		Short: "Queue an image generation",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := buildJobRequest(cmd.InOrStdin(), args, opts)
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueAdd(req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", resp.ID)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.width, "width", 0, "Image width in pixels (default from config)")
	flags.IntVar(&opts.height, "height", 0, "Image height in pixels (default from config)")
	flags.IntVar(&opts.steps, "steps", 0, "Sampler steps (default from config)")
	flags.Float64Var(&opts.cfg, "cfg", 0, "Classifier-free guidance scale (default from config)")
	flags.Int64Var(&opts.seed, "seed", -1, "Sampler seed; negative picks a random seed")
	flags.StringVar(&opts.prefix, "prefix", "", "Output filename prefix")
	flags.StringVar(&opts.subfolder, "subfolder", "", "Output subfolder under the ComfyUI output directory")
	flags.StringVar(&opts.reference, "reference", "", "Reference image name; switches to the reference workflow")
	flags.StringArrayVar(&opts.toggles, "toggle", nil, "Workflow toggle as name=on|off (repeatable)")
	flags.BoolVar(&opts.stdin, "stdin", false, "Read the prompt from standard input")
	return cmd
}

func buildJobRequest(stdin io.Reader, args []string, opts addOptions) (api.JobRequest, error) {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if opts.stdin {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return api.JobRequest{}, fmt.Errorf("read prompt: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return api.JobRequest{}, errors.New("a prompt is required")
	}

	req := api.JobRequest{
		Prompt:     prompt,
		Width:      opts.width,
		Height:     opts.height,
		Steps:      opts.steps,
		CFG:        opts.cfg,
		FilePrefix: strings.TrimSpace(opts.prefix),
		Subfolder:  strings.TrimSpace(opts.subfolder),
	}
	if opts.seed >= 0 {
		if opts.seed > math.MaxUint32 {
			return api.JobRequest{}, fmt.Errorf("seed %d exceeds %d", opts.seed, uint32(math.MaxUint32))
		}
		seed := uint32(opts.seed)
		req.Seed = &seed
	}
	if ref := strings.TrimSpace(opts.reference); ref != "" {
		req.UseReferenceImage = true
		req.ReferenceImage = ref
	}
	if len(opts.toggles) > 0 {
		req.Toggles = make(map[string]bool, len(opts.toggles))
		for _, raw := range opts.toggles {
			name, value, err := parseToggle(raw)
			if err != nil {
				return api.JobRequest{}, err
			}
			req.Toggles[name] = value
		}
	}
	return req, nil
}

func parseToggle(raw string) (string, bool, error) {
	name, value, found := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, fmt.Errorf("invalid toggle %q: missing name", raw)
	}
	if !found {
		return name, true, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "yes":
		return name, true, nil
	case "off", "no":
		return name, false, nil
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return "", false, fmt.Errorf("invalid toggle %q: expected on or off", raw)
	}
	return name, enabled, nil
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active, pending and finished jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Snapshot)
				}
				renderQueue(cmd.OutOrStdout(), resp.Snapshot, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the queue snapshot as JSON")
	return cmd
}

func renderQueue(out io.Writer, snapshot api.QueueSnapshot, now time.Time) {
	if snapshot.Active == nil && len(snapshot.Pending) == 0 && len(snapshot.Completed) == 0 {
		fmt.Fprintln(out, "Queue is empty")
		return
	}
	colorize := shouldColorize(out)
	sections := []struct {
		title string
		jobs  []api.Job
	}{
		{"Pending", snapshot.Pending},
		{"Finished", snapshot.Completed},
	}
	if snapshot.Active != nil {
		sections = append([]struct {
			title string
			jobs  []api.Job
		}{{"Active", []api.Job{*snapshot.Active}}}, sections...)
	}
	first := true
	for _, section := range sections {
		if len(section.jobs) == 0 {
			continue
		}
		if !first {
			fmt.Fprintln(out)
		}
		first = false
		for _, line := range renderSectionHeader(fmt.Sprintf("%s (%d)", section.title, len(section.jobs)), colorize) {
			fmt.Fprintln(out, line)
		}
		fmt.Fprint(out, renderTable(jobColumns, buildJobRows(section.jobs, now)))
	}
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show details for one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := resolveJob(client, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, job)
				}
				for _, line := range describeJob(job) {
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the job as JSON")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Remove a pending job (use `imaginer interrupt` for the active one)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				id := resolveJobID(client, args[0])
				resp, err := client.QueueCancel(id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				switch resp.Outcome {
				case api.CancelRemoved:
					fmt.Fprintf(out, "Cancelled %s\n", id)
				case api.CancelRejectedActive:
					return fmt.Errorf("job %s is generating; use `imaginer interrupt` to stop it", id)
				default:
					return fmt.Errorf("job %s not found in the pending queue", args[0])
				}
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every pending job",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d pending jobs\n", resp.Removed)
				return nil
			})
		},
	}
}

func newQueueForgetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <id>",
		Short: "Drop a finished job from history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				id := resolveJobID(client, args[0])
				resp, err := client.QueueForget(id)
				if err != nil {
					return err
				}
				if !resp.Removed {
					return fmt.Errorf("finished job %s not found", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", id)
				return nil
			})
		},
	}
}

func resolveJob(client *ipc.Client, id string) (api.Job, error) {
	resp, err := client.QueueList()
	if err != nil {
		return api.Job{}, err
	}
	job, ok := findJob(resp.Snapshot, id)
	if !ok {
		return api.Job{}, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

// resolveJobID expands a unique id prefix, falling back to the raw value.
func resolveJobID(client *ipc.Client, id string) string {
	if job, err := resolveJob(client, id); err == nil {
		return job.ID
	}
	return strings.TrimSpace(id)
}
