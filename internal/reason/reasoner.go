// Package reason defines the contract between an agent runtime and the
// reasoning model that does its thinking. The runtime never talks to a
// provider directly; it builds a Request, hands it to a Reasoner and
// interprets the structured Result.
package reason

import (
	"context"
	"encoding/json"

	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Quality is the reasoner's self-assessment of its own output. A low or
// mid rating invites a self-correction retry when budget allows.
type Quality string

const (
	QualityLow  Quality = "low"
	QualityMid  Quality = "mid"
	QualityHigh Quality = "high"
)

// Request is one reasoning call. Attempt starts at 1; on retries the
// runtime records what went wrong and what to adjust so the reasoner does
// not repeat itself.
type Request struct {
	TaskID    string          `json:"task_id"`
	TaskType  types.TaskType  `json:"task_type"`
	AgentName string          `json:"agent_name"`
	Identity  string          `json:"identity"`
	Model     string          `json:"model"`
	Input     json.RawMessage `json:"input,omitempty"`

	Attempt         int    `json:"attempt"`
	RetryReason     string `json:"retry_reason,omitempty"`
	RetryAdjustment string `json:"retry_adjustment,omitempty"`

	// Remaining budget, surfaced so the reasoner can scale its ambition.
	CallsRemaining   int `json:"calls_remaining"`
	SecondsRemaining int `json:"seconds_remaining"`
}

// DataRequest asks for a subtask to be created on another agent's queue.
type DataRequest struct {
	AssignedTo string          `json:"assigned_to"`
	Type       types.TaskType  `json:"type"`
	Summary    string          `json:"summary"`
	Input      json.RawMessage `json:"input,omitempty"`
	Priority   int             `json:"priority,omitempty"`
}

// NegotiationAsk requests a brokered exchange with another agent.
type NegotiationAsk struct {
	RespondingAgent string          `json:"responding_agent"`
	Summary         string          `json:"summary"`
	QualityCriteria string          `json:"quality_criteria"`
	Input           json.RawMessage `json:"input,omitempty"`
}

// Result is the structured outcome of one reasoning call.
type Result struct {
	Output  json.RawMessage `json:"output,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Quality Quality         `json:"quality,omitempty"`

	// Alert marks a proactive finding worth notifying about.
	Alert bool `json:"alert,omitempty"`

	DataRequests []DataRequest    `json:"data_requests,omitempty"`
	Negotiations []NegotiationAsk `json:"negotiations,omitempty"`

	// CriteriaMet carries the responder's verdict in a negotiation
	// data_request. Nil outside negotiations.
	CriteriaMet *bool `json:"criteria_met,omitempty"`
}

// Reasoner executes one reasoning call.
type Reasoner interface {
	Reason(ctx context.Context, req *Request) (*Result, error)
}
