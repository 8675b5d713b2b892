package main

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"mediaflow/internal/daemon"
	"mediaflow/internal/lifecycle"
	"mediaflow/internal/task"
)

func newTasksCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and maintain the task store",
	}
	cmd.AddCommand(newTasksStatusCommand(ctx))
	cmd.AddCommand(newTasksListCommand(ctx))
	cmd.AddCommand(newTasksShowCommand(ctx))
	cmd.AddCommand(newTasksCleanupCommand(ctx))
	return cmd
}

func newTasksStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts by workflow and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := ctx.openTasks(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer tasks.Close()
			renderOverview(cmd.OutOrStdout(), tasks.StorePath(), tasks.Overview())
			return nil
		},
	}
}

func renderOverview(out io.Writer, storePath string, ov lifecycle.Overview) {
	colorize := shouldColorize(out)
	printLines(out, renderSectionHeader("Task store", colorize)...)
	fmt.Fprintln(out, renderStatusLine("Path", statusInfo, storePath, colorize))
	fmt.Fprintln(out, renderStatusLine("Total", statusInfo, strconv.Itoa(ov.Total), colorize))
	kind := statusOK
	if ov.Active > 0 {
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Active", kind, strconv.Itoa(ov.Active), colorize))
	if ov.Oldest != nil {
		fmt.Fprintln(out, renderStatusLine("Oldest", statusInfo, formatTimestamp(ov.Oldest.CreatedAt), colorize))
		fmt.Fprintln(out, renderStatusLine("Newest", statusInfo, formatTimestamp(ov.Newest.CreatedAt), colorize))
	}
	if ov.Total == 0 {
		return
	}

	workflows := make([]task.WorkflowType, 0, len(ov.ByWorkflow))
	for wf := range ov.ByWorkflow {
		workflows = append(workflows, wf)
	}
	slices.Sort(workflows)

	statuses := task.AllStatuses()
	headers := append([]string{"Workflow"}, statusStrings(statuses)...)
	aligns := []columnAlignment{alignLeft}
	rows := make([][]string, 0, len(workflows))
	for _, wf := range workflows {
		row := []string{string(wf)}
		for _, s := range statuses {
			row = append(row, strconv.Itoa(ov.ByWorkflow[wf][s]))
		}
		rows = append(rows, row)
	}
	for range statuses {
		aligns = append(aligns, alignRight)
	}
	fmt.Fprintln(out, renderTable(headers, rows, aligns))
}

func newTasksListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		wf       string
		row      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := buildFilter(statuses, wf, row)
			if err != nil {
				return err
			}
			tasks, err := ctx.openTasks(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer tasks.Close()

			items := tasks.List(filter)
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No tasks found")
				return nil
			}
			rows := make([][]string, 0, len(items))
			for _, t := range items {
				rows = append(rows, []string{
					t.ID,
					strconv.Itoa(t.RowIndex),
					string(t.Workflow),
					string(t.Status),
					formatTimestamp(t.UpdatedAt),
					truncate(t.ErrorMessage, 48),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Row", "Workflow", "Status", "Updated", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().StringVarP(&wf, "workflow", "w", "", "Filter by workflow (image or video)")
	cmd.Flags().IntVar(&row, "row", 0, "Filter by sheet row")
	return cmd
}

func buildFilter(statuses []string, wf string, row int) (task.Filter, error) {
	var filter task.Filter
	for _, value := range statuses {
		s, ok := task.ParseStatus(value)
		if !ok {
			return filter, fmt.Errorf("unknown status %q (valid: %s)", value, strings.Join(statusStrings(task.AllStatuses()), ", "))
		}
		filter.Statuses = append(filter.Statuses, s)
	}
	if strings.TrimSpace(wf) != "" {
		parsed, ok := task.ParseWorkflow(wf)
		if !ok {
			return filter, fmt.Errorf("unknown workflow %q", wf)
		}
		filter.Workflow = parsed
	}
	if row < 0 {
		return filter, fmt.Errorf("row must be positive, got %d", row)
	}
	filter.RowIndex = row
	return filter, nil
}

func newTasksShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := ctx.openTasks(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer tasks.Close()

			t, ok := tasks.Get(strings.TrimSpace(args[0]))
			if !ok {
				return fmt.Errorf("task %s not found", args[0])
			}
			out := cmd.OutOrStdout()
			fields := [][2]string{
				{"ID", t.ID},
				{"Row", strconv.Itoa(t.RowIndex)},
				{"Product", t.ProductName},
				{"Model", t.ModelName},
				{"Workflow", string(t.Workflow)},
				{"Status", string(t.Status)},
				{"Phase", strconv.Itoa(t.Phase())},
				{"Job", t.ExternalJobID},
				{"Image", t.ImagePath},
				{"Video", t.VideoPath},
				{"Error", t.ErrorMessage},
				{"Created", formatTimestamp(t.CreatedAt)},
				{"Updated", formatTimestamp(t.UpdatedAt)},
			}
			keys := make([]string, 0, len(t.Metadata))
			for k := range t.Metadata {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fields = append(fields, [2]string{"meta." + k, t.Metadata[k]})
			}
			for _, f := range fields {
				if f[1] == "" {
					continue
				}
				fmt.Fprintf(out, "%-10s %s\n", f[0]+":", f[1])
			}
			return nil
		},
	}
}

func newTasksCleanupCommand(ctx *commandContext) *cobra.Command {
	var (
		olderThan time.Duration
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove completed tasks older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			window := cfg.Retention()
			switch {
			case all:
				window = 0
			case cmd.Flags().Changed("older-than"):
				if olderThan <= 0 {
					return fmt.Errorf("--older-than must be positive (use --all to remove every completed task)")
				}
				window = olderThan
			}

			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire run lock: %w", err)
			}
			if !locked {
				return daemon.ErrAlreadyRunning
			}
			defer func() { _ = lock.Unlock() }()

			tasks, err := ctx.openTasks(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer tasks.Close()

			removed, err := tasks.Cleanup(cmd.Context(), window)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed task(s)\n", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Age threshold (defaults to store.retention_days)")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every completed task regardless of age")
	cmd.MarkFlagsMutuallyExclusive("older-than", "all")
	return cmd
}

func statusStrings(statuses []task.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}
