package lifecycle

import (
	"context"
	"time"

	"mediaflow/internal/logging"
	"mediaflow/internal/task"
)

// Cleanup removes COMPLETED tasks last updated before now-olderThan. A
// non-positive olderThan removes every completed task.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := m.now().UTC()
	if olderThan > 0 {
		cutoff = cutoff.Add(-olderThan)
	}
	var ids []string
	for _, t := range m.store.ListByStatus(task.StatusCompleted) {
		if olderThan <= 0 || t.UpdatedAt.Before(cutoff) {
			ids = append(ids, t.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}
	removed, err := m.store.Remove(ctx, ids...)
	if err != nil {
		return 0, err
	}
	m.logger.Info("completed tasks removed",
		logging.Int("removed", removed),
		logging.Time("cutoff", cutoff),
		logging.String(logging.FieldEventType, "task_cleanup"),
	)
	return removed, nil
}

// Overview summarizes the store for status output and recovery reporting.
type Overview struct {
	Total      int
	Active     int
	ByStatus   map[task.Status]int
	ByWorkflow map[task.WorkflowType]map[task.Status]int
	Oldest     *task.Task
	Newest     *task.Task
}

// Overview returns totals by workflow and status plus the oldest and newest task.
func (m *Manager) Overview() Overview {
	counters := m.store.Counters()
	ov := Overview{
		Total:      counters.Total,
		Active:     counters.Active(),
		ByStatus:   counters.ByStatus,
		ByWorkflow: make(map[task.WorkflowType]map[task.Status]int),
	}
	all := m.store.List(task.Filter{})
	for _, t := range all {
		bucket := ov.ByWorkflow[t.Workflow]
		if bucket == nil {
			bucket = make(map[task.Status]int)
			ov.ByWorkflow[t.Workflow] = bucket
		}
		bucket[t.Status]++
	}
	if len(all) > 0 {
		oldest, newest := all[0], all[len(all)-1]
		ov.Oldest, ov.Newest = &oldest, &newest
	}
	return ov
}
