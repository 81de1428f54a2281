// Package budget computes and enforces per-task and per-day resource
// ceilings. Budgets are ephemeral per-task-execution counters; the usage
// summary is flushed into the daily aggregate at task completion.
package budget

import (
	"fmt"
	"time"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Reason names the first ceiling a budget hit.
type Reason string

const (
	ReasonNone         Reason = "none"
	ReasonTimeLimit    Reason = "time_limit"
	ReasonLLMCallLimit Reason = "llm_call_limit"
	ReasonSubtaskLimit Reason = "subtask_limit"
	ReasonRetryLimit   Reason = "retry_limit"
)

// conservativeDefault is the fallback when configuration is malformed or
// absent. The governor never fails open to an unlimited budget.
var conservativeDefault = types.BudgetLimits{
	MaxLLMCalls: 5,
	MaxSeconds:  120,
	MaxSubtasks: 1,
	MaxRetries:  1,
}

// Budget tracks one task execution's consumption against its ceiling.
// Counters never exceed their limits: the Use* methods refuse to increment
// past a ceiling and report whether the unit was granted.
type Budget struct {
	AgentName string
	TaskType  types.TaskType
	Limits    types.BudgetLimits

	LLMCallsUsed    int
	SubtasksCreated int
	RetriesUsed     int
	StartTime       time.Time

	now func() time.Time
}

// Elapsed returns wall time since the budget was created.
func (b *Budget) Elapsed() time.Duration {
	return b.clock()().Sub(b.StartTime)
}

func (b *Budget) clock() func() time.Time {
	if b.now != nil {
		return b.now
	}
	return time.Now
}

func (b *Budget) withinTime() bool {
	return b.Elapsed() < time.Duration(b.Limits.MaxSeconds)*time.Second
}

// CanCallLLM reports whether another reasoning call is allowed. Time is a
// second ceiling orthogonal to the call count: either can exhaust first.
func (b *Budget) CanCallLLM() bool {
	return b.LLMCallsUsed < b.Limits.MaxLLMCalls && b.withinTime()
}

// CanCreateSubtask reports whether another subtask may be created.
func (b *Budget) CanCreateSubtask() bool {
	return b.SubtasksCreated < b.Limits.MaxSubtasks
}

// CanRetry reports whether another self-correction retry is allowed.
func (b *Budget) CanRetry() bool {
	return b.RetriesUsed < b.Limits.MaxRetries
}

// UseLLMCall consumes one reasoning call. Returns false without
// incrementing when the ceiling is already reached.
func (b *Budget) UseLLMCall() bool {
	if !b.CanCallLLM() {
		return false
	}
	b.LLMCallsUsed++
	return true
}

// UseSubtask consumes one subtask slot.
func (b *Budget) UseSubtask() bool {
	if !b.CanCreateSubtask() {
		return false
	}
	b.SubtasksCreated++
	return true
}

// UseRetry consumes one retry slot.
func (b *Budget) UseRetry() bool {
	if !b.CanRetry() {
		return false
	}
	b.RetriesUsed++
	return true
}

// ExhaustedReason returns the first ceiling hit, for diagnostics.
func (b *Budget) ExhaustedReason() Reason {
	switch {
	case !b.withinTime():
		return ReasonTimeLimit
	case b.LLMCallsUsed >= b.Limits.MaxLLMCalls:
		return ReasonLLMCallLimit
	case b.SubtasksCreated >= b.Limits.MaxSubtasks:
		return ReasonSubtaskLimit
	case b.RetriesUsed >= b.Limits.MaxRetries:
		return ReasonRetryLimit
	}
	return ReasonNone
}

// Usage is the snapshot persisted with task output and flushed into the
// daily aggregate.
type Usage struct {
	LLMCalls       int `json:"llm_calls"`
	Subtasks       int `json:"subtasks"`
	Retries        int `json:"retries"`
	ElapsedSeconds int `json:"elapsed_seconds"`
}

// Snapshot returns the budget's current usage.
func (b *Budget) Snapshot() Usage {
	return Usage{
		LLMCalls:       b.LLMCallsUsed,
		Subtasks:       b.SubtasksCreated,
		Retries:        b.RetriesUsed,
		ElapsedSeconds: int(b.Elapsed().Seconds()),
	}
}

// Governor resolves budget configuration and enforces the daily ceilings.
type Governor struct {
	source config.Source
	usage  *store.UsageStore
	now    func() time.Time
}

// NewGovernor creates a Governor over the config source and usage store.
func NewGovernor(source config.Source, usage *store.UsageStore) *Governor {
	return &Governor{
		source: source,
		usage:  usage,
		now:    time.Now,
	}
}

// SetNow overrides the clock for testing.
func (g *Governor) SetNow(now func() time.Time) {
	g.now = now
}

// ConfigFor looks up the budget ceiling for (agent, task type), falling
// back to the agent's "default" entry and then to the conservative
// hardcoded default. Non-positive entries are treated as absent.
func (g *Governor) ConfigFor(agentName string, taskType types.TaskType) types.BudgetLimits {
	cfg := g.source.Config()

	agentCfg, ok := cfg.Budgets.Agents[agentName]
	if !ok {
		return conservativeDefault
	}

	if limits, ok := agentCfg[string(taskType)]; ok {
		return sanitize(limits)
	}
	if limits, ok := agentCfg["default"]; ok {
		return sanitize(limits)
	}
	return conservativeDefault
}

func sanitize(limits types.BudgetLimits) types.BudgetLimits {
	if limits.MaxLLMCalls <= 0 {
		limits.MaxLLMCalls = conservativeDefault.MaxLLMCalls
	}
	if limits.MaxSeconds <= 0 {
		limits.MaxSeconds = conservativeDefault.MaxSeconds
	}
	if limits.MaxSubtasks < 0 {
		limits.MaxSubtasks = conservativeDefault.MaxSubtasks
	}
	if limits.MaxRetries < 0 {
		limits.MaxRetries = conservativeDefault.MaxRetries
	}
	return limits
}

// NewBudget instantiates counters at zero against the resolved config.
func (g *Governor) NewBudget(agentName string, taskType types.TaskType) *Budget {
	return &Budget{
		AgentName: agentName,
		TaskType:  taskType,
		Limits:    g.ConfigFor(agentName, taskType),
		StartTime: g.now(),
		now:       g.now,
	}
}

// DailyCeilingOK reports whether the agent is still under the global
// per-day LLM-call cap.
func (g *Governor) DailyCeilingOK(agentName string) (bool, error) {
	limit := g.source.Config().Budgets.Global.DailyMaxLLMCalls
	if limit <= 0 {
		return true, nil
	}

	usage, err := g.usage.Get(agentName, g.Today())
	if err != nil {
		return false, fmt.Errorf("failed to read daily usage: %w", err)
	}

	return usage.LLMCalls < limit, nil
}

// AlertQuotaOK reports whether another proactive alert may be sent today.
func (g *Governor) AlertQuotaOK() (bool, error) {
	limit := g.source.Config().Budgets.Global.DailyMaxAlerts
	if limit <= 0 {
		return true, nil
	}

	total, err := g.usage.TotalAlerts(g.Today())
	if err != nil {
		return false, fmt.Errorf("failed to read alert count: %w", err)
	}

	return total < limit, nil
}

// FlushUsage upserts the budget's usage into the daily aggregate. Called
// once at task completion; increments, never overwrites.
func (g *Governor) FlushUsage(b *Budget, completed bool) error {
	delta := &types.DailyUsage{
		AgentName: b.AgentName,
		Date:      g.Today(),
		LLMCalls:  b.LLMCallsUsed,
		Subtasks:  b.SubtasksCreated,
		Retries:   b.RetriesUsed,
	}
	if completed {
		delta.TasksCompleted = 1
	}
	return g.usage.Add(delta)
}

// RecordAlert increments the monitor's daily alert counter.
func (g *Governor) RecordAlert() error {
	return g.usage.Add(&types.DailyUsage{
		AgentName:  "monitor",
		Date:       g.Today(),
		AlertsSent: 1,
	})
}

// Today returns the governor's current date key (UTC).
func (g *Governor) Today() string {
	return g.now().UTC().Format("2006-01-02")
}
