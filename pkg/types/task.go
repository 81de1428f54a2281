// Package types provides shared type definitions for the Newsroom system.
package types

import (
	"encoding/json"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"     // Waiting in an agent's queue
	TaskInProgress TaskStatus = "in_progress" // Claimed by exactly one runtime
	TaskCompleted  TaskStatus = "completed"   // Closed successfully
	TaskFailed     TaskStatus = "failed"      // Closed with an error
)

// Terminal reports whether the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskType identifies which handler processes a task.
type TaskType string

const (
	TaskFullAnalysis       TaskType = "full_analysis"
	TaskTopicSelection     TaskType = "topic_selection"
	TaskDeepResearch       TaskType = "deep_research"
	TaskNewsletterAssembly TaskType = "newsletter_assembly"
	TaskProactiveAnalysis  TaskType = "proactive_analysis"
	TaskDataRequest        TaskType = "data_request"
	TaskNotification       TaskType = "notification"
)

// Well-known failure reasons recorded in a task's error_message.
const (
	FailBudgetTimeout        = "budget_timeout"
	FailDailyBudgetExhausted = "daily_budget_exhausted"
	FailUnknownTaskType      = "unknown_task_type"
)

// Task represents a unit of work assigned to one agent.
// Tasks are never deleted; they form the audit trail of the system.
type Task struct {
	ID           string          `json:"id"`
	Type         TaskType        `json:"type"`
	AssignedTo   string          `json:"assigned_to"` // Agent name
	CreatedBy    string          `json:"created_by"`  // Agent name, "orchestrator", "monitor", "broker" or an operator
	Priority     int             `json:"priority"`    // Lower is more urgent
	Status       TaskStatus      `json:"status"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ParentID     *string         `json:"parent_id,omitempty"` // Set on subtasks
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// TaskFilter defines criteria for filtering tasks.
type TaskFilter struct {
	Status     []TaskStatus `json:"status,omitempty"`
	AssignedTo string       `json:"assigned_to,omitempty"`
	Type       TaskType     `json:"type,omitempty"`
	ParentID   *string      `json:"parent_id,omitempty"`
	Limit      int          `json:"limit,omitempty"`
	Offset     int          `json:"offset,omitempty"`
}

// TaskUpdate contains fields that can be updated on a task.
type TaskUpdate struct {
	Status       *TaskStatus     `json:"status,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// DailyUsage is the cumulative per-agent-per-day resource aggregate.
// It survives across tasks and gates the daily LLM-call ceiling.
type DailyUsage struct {
	AgentName      string `json:"agent_name"`
	Date           string `json:"date"` // YYYY-MM-DD
	LLMCalls       int    `json:"llm_calls"`
	Subtasks       int    `json:"subtasks"`
	Retries        int    `json:"retries"`
	TasksCompleted int    `json:"tasks_completed"`
	AlertsSent     int    `json:"alerts_sent"`
}
