package store

import (
	"database/sql"
	"fmt"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// UsageStore handles the per-agent-per-day usage aggregates.
type UsageStore struct {
	store *Store
}

// NewUsageStore creates a new UsageStore.
func NewUsageStore(store *Store) *UsageStore {
	return &UsageStore{store: store}
}

// Add increments the aggregate for (agent, date) by the given deltas.
// The upsert is a single atomic statement so concurrent task completions
// for the same agent/day never lose updates.
func (us *UsageStore) Add(delta *types.DailyUsage) error {
	us.store.mu.Lock()
	defer us.store.mu.Unlock()

	_, err := us.store.db.Exec(`
		INSERT INTO daily_usage (
			agent_name, date, llm_calls, subtasks, retries, tasks_completed, alerts_sent
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_name, date) DO UPDATE SET
			llm_calls = llm_calls + excluded.llm_calls,
			subtasks = subtasks + excluded.subtasks,
			retries = retries + excluded.retries,
			tasks_completed = tasks_completed + excluded.tasks_completed,
			alerts_sent = alerts_sent + excluded.alerts_sent
	`,
		delta.AgentName,
		delta.Date,
		delta.LLMCalls,
		delta.Subtasks,
		delta.Retries,
		delta.TasksCompleted,
		delta.AlertsSent,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily usage: %w", err)
	}

	return nil
}

// Get returns the aggregate for (agent, date), zero-valued if absent.
func (us *UsageStore) Get(agentName, date string) (*types.DailyUsage, error) {
	us.store.mu.RLock()
	defer us.store.mu.RUnlock()

	usage := &types.DailyUsage{AgentName: agentName, Date: date}
	err := us.store.db.QueryRow(`
		SELECT llm_calls, subtasks, retries, tasks_completed, alerts_sent
		FROM daily_usage WHERE agent_name = ? AND date = ?
	`, agentName, date).Scan(
		&usage.LLMCalls,
		&usage.Subtasks,
		&usage.Retries,
		&usage.TasksCompleted,
		&usage.AlertsSent,
	)
	if err == sql.ErrNoRows {
		return usage, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily usage: %w", err)
	}

	return usage, nil
}

// TotalAlerts returns the alerts sent across all agents for a date.
func (us *UsageStore) TotalAlerts(date string) (int, error) {
	us.store.mu.RLock()
	defer us.store.mu.RUnlock()

	var total int
	err := us.store.db.QueryRow(`
		SELECT COALESCE(SUM(alerts_sent), 0) FROM daily_usage WHERE date = ?
	`, date).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum alerts: %w", err)
	}
	return total, nil
}
