package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mediaflow/internal/daemon"
	"mediaflow/internal/preflight"
	"mediaflow/internal/recovery"
	"mediaflow/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		debug bool
		retry bool
		watch bool
		image bool
		video bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Recover interrupted tasks, then process eligible sheet rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("image-workflow") {
				cfg.Workflow.ImageEnabled = image
			}
			if cmd.Flags().Changed("video-workflow") {
				cfg.Workflow.VideoEnabled = video
			}

			s, err := ctx.openStack(cmd.Context(), debug)
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if failed := preflight.Failed(preflight.RunAll(cmd.Context(), cfg, s.targets)); len(failed) > 0 {
				printLines(out, renderSectionHeader("Preflight", colorize)...)
				for _, r := range failed {
					fmt.Fprintln(out, renderStatusLine(r.Name, statusError, r.Detail, colorize))
				}
				return fmt.Errorf("preflight failed: %d check(s)", len(failed))
			}

			result, runErr := s.daemon.Run(cmd.Context(), daemon.RunOptions{Retry: retry, Watch: watch})
			if errors.Is(runErr, daemon.ErrAlreadyRunning) {
				return runErr
			}
			renderRecovery(out, result.Recovery, colorize)
			renderReport(out, result.Report, colorize)
			return runErr
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Use the in-memory mock engine instead of RunningHub")
	cmd.Flags().BoolVar(&retry, "retry", false, "Retry rows whose previous attempt failed")
	cmd.Flags().BoolVar(&watch, "watch", false, "Keep polling the sheet until interrupted")
	cmd.Flags().Bool("once", true, "Run a single pass (default)")
	cmd.Flags().BoolVar(&image, "image-workflow", true, "Enable the image composition workflow")
	cmd.Flags().BoolVar(&video, "video-workflow", true, "Enable the image-to-video workflow")
	cmd.MarkFlagsMutuallyExclusive("once", "watch")
	return cmd
}

func renderRecovery(out io.Writer, summary recovery.Summary, colorize bool) {
	if summary.Inspected == 0 {
		return
	}
	printLines(out, renderSectionHeader("Recovery", colorize)...)
	fmt.Fprintln(out, renderStatusLine("Inspected", statusInfo, strconv.Itoa(summary.Inspected), colorize))
	fmt.Fprintln(out, renderStatusLine("Resumed", statusInfo, strconv.Itoa(summary.Resumed), colorize))
	fmt.Fprintln(out, renderStatusLine("Completed", statusOK, strconv.Itoa(summary.Completed), colorize))
	kind := statusOK
	if summary.Failed > 0 {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Failed", kind, strconv.Itoa(summary.Failed), colorize))
}

func renderReport(out io.Writer, report workflow.Report, colorize bool) {
	printLines(out, renderSectionHeader("Run report", colorize)...)
	results := report.Sorted()
	if len(results) == 0 {
		fmt.Fprintln(out, "No rows processed")
		return
	}

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		detail := res.Reason
		if detail == "" {
			detail = res.Artifact
		}
		rows = append(rows, []string{
			strconv.Itoa(res.Row),
			res.Label,
			string(res.Workflow),
			string(res.Outcome),
			formatDuration(res.Duration),
			truncate(detail, 60),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Row", "Item", "Workflow", "Outcome", "Took", "Detail"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))

	kind := statusOK
	if report.Count(workflow.OutcomeFailed) > 0 {
		kind = statusWarn
	}
	summary := fmt.Sprintf("%d completed, %d failed, %d skipped (%.1f%% success)",
		report.Count(workflow.OutcomeCompleted),
		report.Count(workflow.OutcomeFailed),
		report.Count(workflow.OutcomeSkipped)+report.Count(workflow.OutcomeDuplicate),
		report.SuccessRate(),
	)
	fmt.Fprintln(out, renderStatusLine("Summary", kind, summary, colorize))
}

func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}
