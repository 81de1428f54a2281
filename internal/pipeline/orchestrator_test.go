package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// workerFunc fakes an agent runtime for one task.
type workerFunc func(task *types.Task) (output json.RawMessage, failure string)

// runWorkers claims and finishes tasks in the background until the test
// ends, standing in for the real dispatchers.
func runWorkers(t *testing.T, tasks *store.TaskStore, workers map[types.TaskType]workerFunc) {
	t.Helper()

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	go func() {
		for {
			select {
			case <-done:
				return
			case <-time.After(20 * time.Millisecond):
			}

			for _, agent := range []string{"analyst", "researcher", "newsletter"} {
				claimed, err := tasks.ClaimNext(agent, 5)
				if err != nil {
					continue
				}
				for _, task := range claimed {
					worker, ok := workers[task.Type]
					if !ok {
						continue // Leave it in_progress; the stage will time out.
					}
					output, failure := worker(task)
					if failure != "" {
						tasks.Fail(task.ID, failure)
						continue
					}
					tasks.Complete(task.ID, output)
				}
			}
		}
	}()
}

func newPipelineFixture(t *testing.T) (*Orchestrator, *store.TaskStore, string) {
	t.Helper()

	s := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })

	cfg := types.DefaultConfig()
	cfg.Pipeline.AnalysisWaitSec = 3
	cfg.Pipeline.ResearchWaitSec = 3
	cfg.Pipeline.AssemblyWaitSec = 1
	issueDir := t.TempDir()
	cfg.Pipeline.OutputDir = issueDir

	tasks := store.NewTaskStore(s)
	publisher, err := NewDirPublisher(issueDir)
	require.NoError(t, err)

	o := NewOrchestrator(config.Static(cfg), tasks, nil, publisher)
	o.pollInterval = 20 * time.Millisecond
	return o, tasks, issueDir
}

func completeWith(output string) workerFunc {
	return func(task *types.Task) (json.RawMessage, string) {
		return json.RawMessage(output), ""
	}
}

func TestRunCycleHappyPath(t *testing.T) {
	o, tasks, _ := newPipelineFixture(t)

	runWorkers(t, tasks, map[types.TaskType]workerFunc{
		types.TaskFullAnalysis:       completeWith(`{"result":{},"summary":"analyzed"}`),
		types.TaskTopicSelection:     completeWith(`{"result":{"topics":[{"topic":"outage wave"},{"topic":"new runtime"}]}}`),
		types.TaskDeepResearch:       completeWith(`{"result":{"brief":"..."},"summary":"sourced"}`),
		types.TaskNewsletterAssembly: completeWith(`{"result":{"sections":3},"summary":"assembled"}`),
	})

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Stages, 6)
	for _, stage := range report.Stages {
		assert.True(t, stage.OK, "stage %s: %s", stage.Stage, stage.Error)
	}
	assert.False(t, report.Degraded())
	require.NotEmpty(t, report.IssuePath)

	data, err := os.ReadFile(report.IssuePath)
	require.NoError(t, err)
	var issue Issue
	require.NoError(t, json.Unmarshal(data, &issue))
	assert.False(t, issue.Degraded)
	assert.NotEmpty(t, issue.Assembly)
}

func TestResearchFailureStillPublishes(t *testing.T) {
	o, tasks, _ := newPipelineFixture(t)

	runWorkers(t, tasks, map[types.TaskType]workerFunc{
		types.TaskFullAnalysis:   completeWith(`{"result":{},"summary":"analyzed"}`),
		types.TaskTopicSelection: completeWith(`{"result":{"topics":[{"topic":"a"}]}}`),
		types.TaskDeepResearch: func(task *types.Task) (json.RawMessage, string) {
			return nil, "budget_timeout"
		},
		types.TaskNewsletterAssembly: completeWith(`{"result":{"sections":1},"summary":"thin issue"}`),
	})

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Degraded())
	require.NotEmpty(t, report.IssuePath, "publish must run regardless of earlier stages")

	data, err := os.ReadFile(report.IssuePath)
	require.NoError(t, err)
	var issue Issue
	require.NoError(t, json.Unmarshal(data, &issue))
	assert.True(t, issue.Degraded)
	assert.NotEmpty(t, issue.Notes)
}

func TestStageTimeoutDegrades(t *testing.T) {
	o, tasks, _ := newPipelineFixture(t)

	// Nobody ever picks up newsletter_assembly.
	runWorkers(t, tasks, map[types.TaskType]workerFunc{
		types.TaskFullAnalysis:   completeWith(`{"result":{},"summary":"analyzed"}`),
		types.TaskTopicSelection: completeWith(`{"result":{"topics":[{"topic":"a"}]}}`),
		types.TaskDeepResearch:   completeWith(`{"result":{"brief":"..."}}`),
	})

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Degraded())

	var assembleStage *StageResult
	for i := range report.Stages {
		if report.Stages[i].Stage == "assemble" {
			assembleStage = &report.Stages[i]
		}
	}
	require.NotNil(t, assembleStage)
	assert.False(t, assembleStage.OK)
	assert.NotEmpty(t, report.IssuePath)
}

func TestNoTopicsDegradesResearch(t *testing.T) {
	o, tasks, _ := newPipelineFixture(t)

	runWorkers(t, tasks, map[types.TaskType]workerFunc{
		types.TaskFullAnalysis:       completeWith(`{"result":{},"summary":"analyzed"}`),
		types.TaskTopicSelection:     completeWith(`{"result":{"topics":[]}}`),
		types.TaskNewsletterAssembly: completeWith(`{"result":{"sections":0},"summary":"empty issue"}`),
	})

	report, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	var researchStage *StageResult
	for i := range report.Stages {
		if report.Stages[i].Stage == "research" {
			researchStage = &report.Stages[i]
		}
	}
	require.NotNil(t, researchStage)
	assert.False(t, researchStage.OK)
	assert.NotEmpty(t, report.IssuePath)
}
