package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete frames and directories no project references",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, ctx.cliLogger())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d directories and %d files", res.RemovedDirs, res.RemovedFiles)
			if res.Failures > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " (%d failures, see log)", res.Failures)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
