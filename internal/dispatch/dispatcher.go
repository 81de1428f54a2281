// Package dispatch moves tasks from the queue into agent runtimes. Each
// agent gets its own polling dispatcher; a shared sweeper force-fails
// tasks whose runtime went silent.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/runtime"
	"github.com/newsroom-ai/newsroom/internal/store"
)

// Dispatcher polls one agent's queue and runs claimed tasks in order.
type Dispatcher struct {
	agentName string
	source    config.Source
	tasks     *store.TaskStore
	runtime   *runtime.Runtime
}

// NewDispatcher creates a Dispatcher for one agent.
func NewDispatcher(agentName string, source config.Source, tasks *store.TaskStore, rt *runtime.Runtime) *Dispatcher {
	return &Dispatcher{
		agentName: agentName,
		source:    source,
		tasks:     tasks,
		runtime:   rt,
	}
}

// Run polls until the context is done. The poll interval is re-read each
// cycle so configuration reloads take effect between ticks.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Printf("Dispatcher for %s started", d.agentName)
	for {
		interval := time.Duration(d.source.Config().Dispatch.PollIntervalSec) * time.Second
		if interval <= 0 {
			interval = 5 * time.Second
		}

		select {
		case <-ctx.Done():
			log.Printf("Dispatcher for %s stopped", d.agentName)
			return
		case <-time.After(interval):
			if err := d.Tick(ctx); err != nil {
				log.Printf("Dispatcher for %s tick failed: %v", d.agentName, err)
			}
		}
	}
}

// Tick claims one batch and processes the claimed tasks sequentially.
func (d *Dispatcher) Tick(ctx context.Context) error {
	batch := d.source.Config().Dispatch.BatchSize
	claimed, err := d.tasks.ClaimNext(d.agentName, batch)
	if err != nil {
		return err
	}

	for _, task := range claimed {
		log.Printf("Dispatcher for %s running task %s (%s)", d.agentName, task.ID, task.Type)
		if err := d.runtime.ProcessTask(ctx, task); err != nil {
			log.Printf("Task %s processing error: %v", task.ID, err)
		}
	}
	return nil
}
