package main

import (
	"github.com/spf13/cobra"
)

func newRecoverCommand(ctx *commandContext) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reconcile interrupted tasks with the engine without reading the sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openStack(cmd.Context(), debug)
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.daemon.Recover(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if result.Recovery.Inspected == 0 {
				printLines(out, "No interrupted tasks")
				return nil
			}
			renderRecovery(out, result.Recovery, colorize)
			if len(result.Report.Results) > 0 {
				renderReport(out, result.Report, colorize)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Use the in-memory mock engine instead of RunningHub")
	return cmd
}
