package store

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTaskCreateAndGet(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	id, err := ts.Create(&types.Task{
		Type:       types.TaskFullAnalysis,
		AssignedTo: "analyst",
		CreatedBy:  "orchestrator",
		Input:      json.RawMessage(`{"segments":["ai"]}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := ts.Get(id)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, 5, task.Priority)
	assert.Equal(t, "analyst", task.AssignedTo)
	assert.JSONEq(t, `{"segments":["ai"]}`, string(task.Input))
	assert.Nil(t, task.StartedAt)
}

func TestTaskGetMissing(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	task, err := ts.Get("no-such-task")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestClaimNextOrdering(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	urgent, err := ts.Create(&types.Task{
		Type: types.TaskDataRequest, AssignedTo: "analyst", CreatedBy: "broker",
		Priority: 2, CreatedAt: base.Add(time.Minute),
	})
	require.NoError(t, err)
	older, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
		Priority: 5, CreatedAt: base,
	})
	require.NoError(t, err)
	_, err = ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "researcher", CreatedBy: "orchestrator",
		Priority: 1, CreatedAt: base,
	})
	require.NoError(t, err)

	claimed, err := ts.ClaimNext("analyst", 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// Priority wins over age; only the analyst's queue is touched.
	assert.Equal(t, urgent, claimed[0].ID)
	assert.Equal(t, older, claimed[1].ID)
	for _, task := range claimed {
		assert.Equal(t, types.TaskInProgress, task.Status)
		assert.NotNil(t, task.StartedAt)
	}
}

func TestClaimNextOrdersWithinOneSecond(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	// Three tasks created inside the same wall-clock second, inserted out
	// of creation order. Sub-second precision must keep the queue FIFO.
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	third, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
		CreatedAt: base.Add(800 * time.Millisecond),
	})
	require.NoError(t, err)
	first, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
		CreatedAt: base.Add(50 * time.Millisecond),
	})
	require.NoError(t, err)
	second, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
		CreatedAt: base.Add(400 * time.Millisecond),
	})
	require.NoError(t, err)

	claimed, err := ts.ClaimNext("analyst", 3)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, []string{first, second, third},
		[]string{claimed[0].ID, claimed[1].ID, claimed[2].ID})
	assert.True(t, claimed[0].CreatedAt.Equal(base.Add(50*time.Millisecond)))
}

func TestClaimNextExclusive(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	id, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)

	var mu sync.Mutex
	claims := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := ts.ClaimNext("analyst", 1)
			require.NoError(t, err)
			mu.Lock()
			for _, task := range claimed {
				claims[task.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, claims[id], "exactly one claimant must win")
}

func TestCompleteIdempotent(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	id, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)
	_, err = ts.ClaimNext("analyst", 1)
	require.NoError(t, err)

	applied, err := ts.Complete(id, json.RawMessage(`{"summary":"done"}`))
	require.NoError(t, err)
	assert.True(t, applied)

	// A late duplicate result is a no-op, not an error.
	applied, err = ts.Complete(id, json.RawMessage(`{"summary":"late"}`))
	require.NoError(t, err)
	assert.False(t, applied)

	task, err := ts.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskCompleted, task.Status)
	assert.JSONEq(t, `{"summary":"done"}`, string(task.Output))
}

func TestFailAfterSweepDiscarded(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	id, err := ts.Create(&types.Task{
		Type: types.TaskDeepResearch, AssignedTo: "researcher", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)
	_, err = ts.ClaimNext("researcher", 1)
	require.NoError(t, err)

	applied, err := ts.ForceFail(id, types.FailBudgetTimeout)
	require.NoError(t, err)
	assert.True(t, applied)

	// The zombie runtime finishing later must not resurrect the task.
	applied, err = ts.Complete(id, json.RawMessage(`{"summary":"zombie"}`))
	require.NoError(t, err)
	assert.False(t, applied)

	task, err := ts.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskFailed, task.Status)
	assert.Equal(t, types.FailBudgetTimeout, task.ErrorMessage)
}

func TestCompletePendingIsNoOp(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	id, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)

	// Completing an unclaimed task does nothing; only in_progress finishes.
	applied, err := ts.Complete(id, nil)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestCompleteUnknownTask(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	_, err := ts.Complete("no-such-task", nil)
	assert.Error(t, err)
}

func TestListFilters(t *testing.T) {
	ts := NewTaskStore(newTestStore(t))

	parent, err := ts.Create(&types.Task{
		Type: types.TaskFullAnalysis, AssignedTo: "analyst", CreatedBy: "orchestrator",
	})
	require.NoError(t, err)
	_, err = ts.Create(&types.Task{
		Type: types.TaskDataRequest, AssignedTo: "researcher", CreatedBy: "analyst",
		ParentID: &parent,
	})
	require.NoError(t, err)

	byAgent, err := ts.List(&types.TaskFilter{AssignedTo: "researcher"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, types.TaskDataRequest, byAgent[0].Type)

	byParent, err := ts.List(&types.TaskFilter{ParentID: &parent})
	require.NoError(t, err)
	require.Len(t, byParent, 1)

	count, err := ts.Count(&types.TaskFilter{Status: []types.TaskStatus{types.TaskPending}})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
