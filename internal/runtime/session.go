package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/newsroom-ai/newsroom/internal/budget"
	"github.com/newsroom-ai/newsroom/internal/reason"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// ErrBudgetExhausted is returned by Session.Call when no further reasoning
// call is allowed. Handlers treat it as a stop signal, not a failure: they
// return whatever partial output exists.
var ErrBudgetExhausted = errors.New("runtime: task budget exhausted")

// Flags recorded in task output.
const (
	FlagBudgetLimited = "budget_limited"
	FlagLowConfidence = "low_confidence"
)

// RetryNote documents one self-correction retry: a retry without a recorded
// reason and adjustment is not permitted.
type RetryNote struct {
	Attempt    int    `json:"attempt"`
	Reason     string `json:"reason"`
	Adjustment string `json:"adjustment"`
}

// Output is the document persisted as a completed task's output.
type Output struct {
	Result      json.RawMessage `json:"result,omitempty"`
	Summary     string          `json:"summary,omitempty"`
	Flags       []string        `json:"flags,omitempty"`
	Alert       bool            `json:"alert,omitempty"`
	Retries     []RetryNote     `json:"retries,omitempty"`
	BudgetUsage budget.Usage    `json:"budget_usage"`
}

// Session is the per-task execution context handed to a handler. Every
// reasoning call goes through it, so the budget is enforced in one place.
type Session struct {
	Task  *types.Task
	Agent types.AgentDefinition

	budget   *budget.Budget
	reasoner reason.Reasoner
	model    string

	flags        map[string]bool
	retries      []RetryNote
	dataRequests []reason.DataRequest
	negotiations []reason.NegotiationAsk
	alert        bool

	verdict        *bool
	verdictSummary string
}

func newSession(task *types.Task, agent types.AgentDefinition, b *budget.Budget, r reason.Reasoner, model string) *Session {
	return &Session{
		Task:     task,
		Agent:    agent,
		budget:   b,
		reasoner: r,
		model:    model,
		flags:    make(map[string]bool),
	}
}

// Budget exposes the remaining ceiling so handlers can plan their calls.
func (s *Session) Budget() *budget.Budget {
	return s.budget
}

// Flag records an output flag. Duplicate flags collapse.
func (s *Session) Flag(name string) {
	s.flags[name] = true
}

// RecordVerdict notes the responder's verdict on a negotiation request.
func (s *Session) RecordVerdict(met bool, summary string) {
	s.verdict = &met
	s.verdictSummary = summary
}

// Call spends one reasoning call. Collaborator failures and low or mid
// self-assessed quality both go through the retry protocol: each retry
// consumes a retry slot with the reason and adjustment recorded. When the
// budget refuses the call, it returns ErrBudgetExhausted after flagging
// the output as budget-limited; when the collaborator still fails on the
// last permitted attempt, the error comes back with the output flagged
// low-confidence so callers keep their partial work instead of discarding
// it.
func (s *Session) Call(ctx context.Context, input json.RawMessage) (*reason.Result, error) {
	attempt := len(s.retries) + 1
	result, err := s.call(ctx, input, attempt, "", "")

	for err != nil {
		if errors.Is(err, ErrBudgetExhausted) {
			return nil, err
		}
		if !s.budget.CanRetry() || !s.budget.CanCallLLM() {
			s.Flag(FlagLowConfidence)
			return nil, err
		}
		s.budget.UseRetry()

		note := RetryNote{
			Attempt:    attempt,
			Reason:     fmt.Sprintf("collaborator error: %v", err),
			Adjustment: "reissue the request unchanged",
		}
		s.retries = append(s.retries, note)
		log.Printf("Task %s retrying (attempt %d): %s", s.Task.ID, attempt+1, note.Reason)

		attempt++
		result, err = s.call(ctx, input, attempt, note.Reason, note.Adjustment)
	}

	for result.Quality == reason.QualityLow || result.Quality == reason.QualityMid {
		if !s.budget.CanRetry() || !s.budget.CanCallLLM() {
			if result.Quality == reason.QualityLow {
				s.Flag(FlagLowConfidence)
			}
			break
		}
		s.budget.UseRetry()

		note := RetryNote{
			Attempt:    attempt,
			Reason:     fmt.Sprintf("self-assessed quality %s", result.Quality),
			Adjustment: "narrow the scope and re-verify the weakest claims",
		}
		s.retries = append(s.retries, note)
		log.Printf("Task %s retrying (attempt %d): %s", s.Task.ID, attempt+1, note.Reason)

		attempt++
		retried, err := s.call(ctx, input, attempt, note.Reason, note.Adjustment)
		if err != nil {
			// Keep the original result rather than losing the work.
			if result.Quality == reason.QualityLow {
				s.Flag(FlagLowConfidence)
			}
			break
		}
		result = retried
	}

	s.absorb(result)
	return result, nil
}

func (s *Session) call(ctx context.Context, input json.RawMessage, attempt int, retryReason, retryAdjustment string) (*reason.Result, error) {
	if !s.budget.UseLLMCall() {
		s.Flag(FlagBudgetLimited)
		return nil, ErrBudgetExhausted
	}

	limits := s.budget.Limits
	req := &reason.Request{
		TaskID:           s.Task.ID,
		TaskType:         s.Task.Type,
		AgentName:        s.Agent.Name,
		Identity:         s.Agent.Identity,
		Model:            s.model,
		Input:            input,
		Attempt:          attempt,
		RetryReason:      retryReason,
		RetryAdjustment:  retryAdjustment,
		CallsRemaining:   limits.MaxLLMCalls - s.budget.LLMCallsUsed,
		SecondsRemaining: limits.MaxSeconds - int(s.budget.Elapsed().Seconds()),
	}
	return s.reasoner.Reason(ctx, req)
}

// absorb collects the side requests of a reasoning result onto the session;
// the runtime acts on them after the handler returns.
func (s *Session) absorb(result *reason.Result) {
	s.dataRequests = append(s.dataRequests, result.DataRequests...)
	s.negotiations = append(s.negotiations, result.Negotiations...)
	if result.Alert {
		s.alert = true
	}
	if result.CriteriaMet != nil {
		s.RecordVerdict(*result.CriteriaMet, result.Summary)
	}
}

func (s *Session) flagList() []string {
	if len(s.flags) == 0 {
		return nil
	}
	flags := make([]string, 0, len(s.flags))
	for f := range s.flags {
		flags = append(flags, f)
	}
	sort.Strings(flags)
	return flags
}

// output assembles the final task output document.
func (s *Session) output(result json.RawMessage, summary string) *Output {
	return &Output{
		Result:      result,
		Summary:     summary,
		Flags:       s.flagList(),
		Alert:       s.alert,
		Retries:     s.retries,
		BudgetUsage: s.budget.Snapshot(),
	}
}
