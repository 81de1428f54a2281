package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/newsroom-ai/newsroom/internal/budget"
	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Sweeper force-fails in_progress tasks whose runtime has gone silent. A
// task is stale once it has been running for a multiple of its own time
// ceiling; the generous margin keeps the sweep from racing a slow but
// live runtime.
type Sweeper struct {
	source   config.Source
	tasks    *store.TaskStore
	governor *budget.Governor
	now      func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(source config.Source, tasks *store.TaskStore, governor *budget.Governor) *Sweeper {
	return &Sweeper{
		source:   source,
		tasks:    tasks,
		governor: governor,
		now:      time.Now,
	}
}

// SetNow overrides the clock for testing.
func (s *Sweeper) SetNow(now func() time.Time) {
	s.now = now
}

// Run sweeps on the configured interval until the context is done.
func (s *Sweeper) Run(ctx context.Context) {
	for {
		interval := time.Duration(s.source.Config().Dispatch.SweepIntervalSec) * time.Second
		if interval <= 0 {
			interval = time.Minute
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if n, err := s.SweepStale(); err != nil {
				log.Printf("Stale sweep failed: %v", err)
			} else if n > 0 {
				log.Printf("Stale sweep failed %d tasks", n)
			}
		}
	}
}

// SweepStale fails every in_progress task past its stale deadline. Each
// task's deadline derives from its own budget ceiling, so a long research
// task and a quick notification are judged by different clocks.
func (s *Sweeper) SweepStale() (int, error) {
	inProgress, err := s.tasks.ListInProgress()
	if err != nil {
		return 0, err
	}

	multiplier := s.source.Config().Dispatch.StaleMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}

	now := s.now().UTC()
	swept := 0
	for _, task := range inProgress {
		if task.StartedAt == nil {
			continue
		}

		limits := s.governor.ConfigFor(task.AssignedTo, task.Type)
		deadline := task.StartedAt.Add(time.Duration(limits.MaxSeconds*multiplier) * time.Second)
		if !now.After(deadline) {
			continue
		}

		applied, err := s.tasks.ForceFail(task.ID, types.FailBudgetTimeout)
		if err != nil {
			return swept, err
		}
		if applied {
			log.Printf("Swept stale task %s (%s on %s, started %s)",
				task.ID, task.Type, task.AssignedTo, task.StartedAt.Format(time.RFC3339))
			swept++
		}
	}
	return swept, nil
}
