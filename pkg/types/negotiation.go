package types

import "time"

// NegotiationStatus represents the current state of a negotiation.
type NegotiationStatus string

const (
	NegotiationOpen     NegotiationStatus = "open"      // Waiting for the responder
	NegotiationFollowUp NegotiationStatus = "follow_up" // Criteria unmet, another round requested
	NegotiationClosed   NegotiationStatus = "closed"    // Resolved (criteria met or round cap hit)
	NegotiationTimedOut NegotiationStatus = "timed_out" // No response within the window
)

// Active reports whether the negotiation still expects a response.
func (s NegotiationStatus) Active() bool {
	return s == NegotiationOpen || s == NegotiationFollowUp
}

// Negotiation is a bounded request-response exchange between two agents.
// The requesting agent never blocks on it: it proceeds with best-available
// data and only optionally incorporates the response.
type Negotiation struct {
	ID              string            `json:"id"`
	RequestingAgent string            `json:"requesting_agent"`
	RespondingAgent string            `json:"responding_agent"`
	Status          NegotiationStatus `json:"status"`
	Round           int               `json:"round"` // Starts at 1
	RequestTaskID   string            `json:"request_task_id"`
	RequestSummary  string            `json:"request_summary"`
	QualityCriteria string            `json:"quality_criteria"`
	ResponseTaskID  *string           `json:"response_task_id,omitempty"`
	CriteriaMet     *bool             `json:"criteria_met,omitempty"`
	ResponseSummary string            `json:"response_summary,omitempty"`
	NeededBy        *time.Time        `json:"needed_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
}

// NegotiationUpdate contains fields that can be updated on a negotiation.
type NegotiationUpdate struct {
	Status          *NegotiationStatus `json:"status,omitempty"`
	Round           *int               `json:"round,omitempty"`
	ResponseTaskID  *string            `json:"response_task_id,omitempty"`
	CriteriaMet     *bool              `json:"criteria_met,omitempty"`
	ResponseSummary *string            `json:"response_summary,omitempty"`
	ClosedAt        *time.Time         `json:"closed_at,omitempty"`
}
