// Package janitor runs periodic maintenance: expired dedup entries are
// purged and buffer batches whose scheduled check died with a process are
// re-dispatched.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Task is one named maintenance step.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Janitor executes its tasks on a cron schedule.
type Janitor struct {
	schedule string
	gron     *gronx.Gronx
	tasks    []Task
}

// New creates a Janitor. Schedule defaults to every minute.
func New(schedule string, tasks ...Task) (*Janitor, error) {
	if schedule == "" {
		schedule = "* * * * *"
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("invalid janitor schedule %q", schedule)
	}
	return &Janitor{schedule: schedule, gron: gron, tasks: tasks}, nil
}

// Run blocks until ctx is cancelled, firing due tasks once per minute.
func (j *Janitor) Run(ctx context.Context) error {
	slog.Info("janitor started", "schedule", j.schedule, "tasks", len(j.tasks))

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("janitor stopped")
			return nil
		case <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			j.runTasks(ctx)
		}
	}
}

func (j *Janitor) runTasks(ctx context.Context) {
	for _, t := range j.tasks {
		start := time.Now()
		if err := t.Run(ctx); err != nil {
			slog.Error("janitor task failed", "task", t.Name, "error", err)
			continue
		}
		slog.Debug("janitor task done", "task", t.Name, "elapsed", time.Since(start))
	}
}
