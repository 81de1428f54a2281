// Package pipeline drives the end-to-end cycle: collect, analyze, select,
// research, assemble, publish. Stages run in order; a failed or timed-out
// stage degrades the issue but never aborts the cycle, and publish always
// runs with whatever material exists.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Collector pulls fresh content into the store before a cycle.
type Collector interface {
	Collect(ctx context.Context) (int, error)
}

// StageResult records one stage's outcome in the cycle report.
type StageResult struct {
	Stage    string `json:"stage"`
	OK       bool   `json:"ok"`
	Detail   string `json:"detail,omitempty"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

// CycleReport summarizes one pipeline run.
type CycleReport struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageResult `json:"stages"`
	IssuePath  string        `json:"issue_path,omitempty"`
}

// Degraded reports whether any stage fell short.
func (r *CycleReport) Degraded() bool {
	for _, s := range r.Stages {
		if !s.OK {
			return true
		}
	}
	return false
}

// Orchestrator runs pipeline cycles over the shared store.
type Orchestrator struct {
	source       config.Source
	tasks        *store.TaskStore
	collector    Collector
	publisher    Publisher
	now          func() time.Time
	pollInterval time.Duration
}

// NewOrchestrator creates an Orchestrator. The collector may be nil when
// content arrives through the API instead.
func NewOrchestrator(source config.Source, tasks *store.TaskStore, collector Collector, publisher Publisher) *Orchestrator {
	return &Orchestrator{
		source:       source,
		tasks:        tasks,
		collector:    collector,
		publisher:    publisher,
		now:          time.Now,
		pollInterval: 2 * time.Second,
	}
}

// SetNow overrides the clock for testing.
func (o *Orchestrator) SetNow(now func() time.Time) {
	o.now = now
}

// RunCycle executes one full cycle and returns its report.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{StartedAt: o.now().UTC()}
	cfg := o.source.Config()

	o.runStage(report, "collect", func() (string, error) {
		if o.collector == nil {
			return "no collector configured", nil
		}
		n, err := o.collector.Collect(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d items collected", n), nil
	})

	var analysisOut json.RawMessage
	o.runStage(report, "analyze", func() (string, error) {
		task, err := o.enqueueAndWait(ctx, types.TaskFullAnalysis, nil,
			time.Duration(cfg.Pipeline.AnalysisWaitSec)*time.Second)
		if err != nil {
			return "", err
		}
		analysisOut = task.Output
		return "analysis " + task.ID, nil
	})

	var topics []json.RawMessage
	o.runStage(report, "select", func() (string, error) {
		task, err := o.enqueueAndWait(ctx, types.TaskTopicSelection, analysisOut,
			time.Duration(cfg.Pipeline.AnalysisWaitSec)*time.Second)
		if err != nil {
			return "", err
		}
		topics = parseTopics(task.Output)
		return fmt.Sprintf("%d topics selected", len(topics)), nil
	})

	var briefIDs []string
	o.runStage(report, "research", func() (string, error) {
		if len(topics) == 0 {
			return "", fmt.Errorf("no topics to research")
		}
		wait := time.Duration(cfg.Pipeline.ResearchWaitSec) * time.Second
		done := 0
		for _, topic := range topics {
			task, err := o.enqueueAndWait(ctx, types.TaskDeepResearch, topic, wait)
			if err != nil {
				log.Printf("Research stage: topic dropped: %v", err)
				continue
			}
			briefIDs = append(briefIDs, task.ID)
			done++
		}
		if done == 0 {
			return "", fmt.Errorf("all %d research tasks failed", len(topics))
		}
		return fmt.Sprintf("%d of %d briefs completed", done, len(topics)), nil
	})

	var assemblyOut json.RawMessage
	o.runStage(report, "assemble", func() (string, error) {
		input, err := json.Marshal(map[string]interface{}{"brief_task_ids": briefIDs})
		if err != nil {
			return "", err
		}
		task, err := o.enqueueAndWait(ctx, types.TaskNewsletterAssembly, input,
			time.Duration(cfg.Pipeline.AssemblyWaitSec)*time.Second)
		if err != nil {
			return "", err
		}
		assemblyOut = task.Output
		return "assembly " + task.ID, nil
	})

	o.runStage(report, "publish", func() (string, error) {
		issue := &Issue{
			Date:        o.now().UTC().Format("2006-01-02"),
			GeneratedAt: o.now().UTC(),
			Assembly:    assemblyOut,
			Degraded:    report.Degraded() || len(assemblyOut) == 0,
		}
		for _, s := range report.Stages {
			if !s.OK {
				issue.Notes = append(issue.Notes, fmt.Sprintf("%s stage degraded: %s", s.Stage, s.Error))
			}
		}
		path, err := o.publisher.Publish(issue)
		if err != nil {
			return "", err
		}
		report.IssuePath = path
		return "published " + path, nil
	})

	report.FinishedAt = o.now().UTC()
	return report, nil
}

// runStage executes one stage, recording its outcome. Errors are logged
// and recorded, never propagated: the cycle always reaches publish.
func (o *Orchestrator) runStage(report *CycleReport, name string, fn func() (string, error)) {
	start := o.now()
	detail, err := fn()
	result := StageResult{
		Stage:    name,
		OK:       err == nil,
		Detail:   detail,
		Duration: o.now().Sub(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		result.Error = err.Error()
		log.Printf("Pipeline stage %s degraded: %v", name, err)
	} else {
		log.Printf("Pipeline stage %s done: %s", name, detail)
	}
	report.Stages = append(report.Stages, result)
}

// enqueueAndWait creates a task for the agent handling the type and polls
// until it reaches a terminal state or the wait expires.
func (o *Orchestrator) enqueueAndWait(ctx context.Context, taskType types.TaskType, input json.RawMessage, wait time.Duration) (*types.Task, error) {
	assignee := o.agentFor(taskType)
	if assignee == "" {
		return nil, fmt.Errorf("no agent handles %s", taskType)
	}

	id, err := o.tasks.Create(&types.Task{
		Type:       taskType,
		AssignedTo: assignee,
		CreatedBy:  "orchestrator",
		Input:      input,
	})
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		task, err := o.tasks.Get(id)
		if err != nil {
			return nil, err
		}
		if task != nil && task.Status.Terminal() {
			if task.Status == types.TaskFailed {
				return nil, fmt.Errorf("task %s failed: %s", id, task.ErrorMessage)
			}
			return task, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("task %s not finished within %s", id, wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) agentFor(taskType types.TaskType) string {
	for _, agent := range o.source.Config().Agents {
		if agent.Handles(taskType) {
			return agent.Name
		}
	}
	return ""
}

func parseTopics(output json.RawMessage) []json.RawMessage {
	if len(output) == 0 {
		return nil
	}

	// Task output wraps the reasoner's result document.
	var wrapped struct {
		Result struct {
			Topics []json.RawMessage `json:"topics"`
		} `json:"result"`
	}
	if err := json.Unmarshal(output, &wrapped); err != nil {
		return nil
	}
	return wrapped.Result.Topics
}
