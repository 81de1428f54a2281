package dispatch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroom-ai/newsroom/internal/budget"
	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

func newSweeperFixture(t *testing.T) (*Sweeper, *store.TaskStore) {
	t.Helper()

	s := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })

	source := config.Static(types.DefaultConfig())
	tasks := store.NewTaskStore(s)
	governor := budget.NewGovernor(source, store.NewUsageStore(s))
	return NewSweeper(source, tasks, governor), tasks
}

// claimAt claims the task and backdates its started_at.
func claimAt(t *testing.T, tasks *store.TaskStore, agent string, startedAt time.Time) string {
	t.Helper()

	claimed, err := tasks.ClaimNext(agent, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.NoError(t, tasks.Update(claimed[0].ID, &types.TaskUpdate{StartedAt: &startedAt}))
	return claimed[0].ID
}

func TestSweepStaleUsesPerTaskDeadline(t *testing.T) {
	sw, tasks := newSweeperFixture(t)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	sw.SetNow(func() time.Time { return now })

	// analyst full_analysis: 300s ceiling, stale multiplier 2 -> 600s.
	_, err := tasks.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)
	running := claimAt(t, tasks, "analyst", now.Add(-570*time.Second)) // 1.9x

	_, err = tasks.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)
	stale := claimAt(t, tasks, "analyst", now.Add(-630*time.Second)) // 2.1x

	swept, err := sw.SweepStale()
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	stillRunning, err := tasks.Get(running)
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, stillRunning.Status)

	failed, err := tasks.Get(stale)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, failed.Status)
	assert.Equal(t, types.FailBudgetTimeout, failed.ErrorMessage)
	assert.NotNil(t, failed.CompletedAt)
}

func TestSweepIgnoresPendingAndTerminal(t *testing.T) {
	sw, tasks := newSweeperFixture(t)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	sw.SetNow(func() time.Time { return now })

	// Pending task, ancient but never claimed.
	pending, err := tasks.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
		CreatedAt: now.Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	swept, err := sw.SweepStale()
	require.NoError(t, err)
	assert.Zero(t, swept)

	task, err := tasks.Get(pending)
	require.NoError(t, err)
	assert.Equal(t, types.TaskPending, task.Status)
}

func TestSweepUsesAgentSpecificCeilings(t *testing.T) {
	sw, tasks := newSweeperFixture(t)

	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	sw.SetNow(func() time.Time { return now })

	// researcher deep_research: 600s ceiling -> stale at 1200s. 700s old
	// would already be stale under the analyst's 300s ceiling.
	_, err := tasks.Create(&types.Task{
		Type: types.TaskDeepResearch, AssignedTo: "researcher", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)
	id := claimAt(t, tasks, "researcher", now.Add(-700*time.Second))

	swept, err := sw.SweepStale()
	require.NoError(t, err)
	assert.Zero(t, swept)

	task, err := tasks.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskInProgress, task.Status)
}
