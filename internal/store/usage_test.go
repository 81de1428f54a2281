package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

func TestUsageAddIncrements(t *testing.T) {
	us := NewUsageStore(newTestStore(t))

	require.NoError(t, us.Add(&types.DailyUsage{
		AgentName: "analyst", Date: "2026-08-31", LLMCalls: 3, TasksCompleted: 1,
	}))
	require.NoError(t, us.Add(&types.DailyUsage{
		AgentName: "analyst", Date: "2026-08-31", LLMCalls: 2, Retries: 1,
	}))

	usage, err := us.Get("analyst", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, 5, usage.LLMCalls)
	assert.Equal(t, 1, usage.Retries)
	assert.Equal(t, 1, usage.TasksCompleted)
}

func TestUsageGetAbsentIsZero(t *testing.T) {
	us := NewUsageStore(newTestStore(t))

	usage, err := us.Get("analyst", "2026-08-31")
	require.NoError(t, err)
	assert.Zero(t, usage.LLMCalls)
	assert.Equal(t, "analyst", usage.AgentName)
}

func TestUsageDatesIsolated(t *testing.T) {
	us := NewUsageStore(newTestStore(t))

	require.NoError(t, us.Add(&types.DailyUsage{AgentName: "analyst", Date: "2026-08-30", LLMCalls: 7}))
	require.NoError(t, us.Add(&types.DailyUsage{AgentName: "analyst", Date: "2026-08-31", LLMCalls: 2}))

	yesterday, err := us.Get("analyst", "2026-08-30")
	require.NoError(t, err)
	today, err := us.Get("analyst", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, 7, yesterday.LLMCalls)
	assert.Equal(t, 2, today.LLMCalls)
}

func TestUsageConcurrentAdds(t *testing.T) {
	us := NewUsageStore(newTestStore(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, us.Add(&types.DailyUsage{
				AgentName: "analyst", Date: "2026-08-31", LLMCalls: 1,
			}))
		}()
	}
	wg.Wait()

	usage, err := us.Get("analyst", "2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, 20, usage.LLMCalls, "concurrent completions must not lose updates")
}

func TestTotalAlerts(t *testing.T) {
	us := NewUsageStore(newTestStore(t))

	require.NoError(t, us.Add(&types.DailyUsage{AgentName: "monitor", Date: "2026-08-31", AlertsSent: 2}))
	require.NoError(t, us.Add(&types.DailyUsage{AgentName: "analyst", Date: "2026-08-31", AlertsSent: 1}))
	require.NoError(t, us.Add(&types.DailyUsage{AgentName: "monitor", Date: "2026-08-30", AlertsSent: 5}))

	total, err := us.TotalAlerts("2026-08-31")
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}
