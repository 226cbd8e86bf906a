package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imaginer/internal/ipc"
)

func newReclaimCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Unload ComfyUI models and free cached memory now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Reclaim()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				info := resp.Reclaim
				if info == nil {
					fmt.Fprintln(out, "Reclaim requested")
					return nil
				}
				if info.Error != "" {
					return fmt.Errorf("reclaim failed: %s", info.Error)
				}
				fmt.Fprintf(out, "Models unloaded (%s)\n", titleLabel(info.Reason))
				if info.Before.AvailableBytes > 0 || info.After.AvailableBytes > 0 {
					fmt.Fprintf(out, "Available memory: %s -> %s\n",
						formatBytes(info.Before.AvailableBytes), formatBytes(info.After.AvailableBytes))
				}
				return nil
			})
		},
	}
}

func newInterruptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "Interrupt the job ComfyUI is currently generating",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Interrupt()
				if err != nil {
					return err
				}
				if resp.JobID == "" {
					fmt.Fprintln(cmd.OutOrStdout(), "No job is generating")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Interrupted %s\n", resp.JobID)
				return nil
			})
		},
	}
}
