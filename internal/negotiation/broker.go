// Package negotiation brokers bounded request-response exchanges between
// agents. The broker owns the protocol rules: who may ask whom, how many
// exchanges an agent can have in flight, how many rounds an exchange may
// run and when it times out. Agents never talk to each other directly.
package negotiation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

var (
	// ErrPairNotAllowed means the requester may not negotiate with the
	// responder. No negotiation record is created.
	ErrPairNotAllowed = errors.New("negotiation: agent pair not allowed")

	// ErrCeilingExceeded means the requester already has the maximum
	// number of active negotiations.
	ErrCeilingExceeded = errors.New("negotiation: concurrent ceiling reached")
)

// Ask is a request to open a negotiation.
type Ask struct {
	RequestingAgent string
	RespondingAgent string
	RequestTaskID   string
	Summary         string
	QualityCriteria string
	Input           json.RawMessage
}

// requestPayload is the input document of the data_request task the broker
// places on the responder's queue.
type requestPayload struct {
	NegotiationID   string          `json:"negotiation_id"`
	RequestingAgent string          `json:"requesting_agent"`
	Round           int             `json:"round"`
	Summary         string          `json:"summary"`
	QualityCriteria string          `json:"quality_criteria"`
	Input           json.RawMessage `json:"input,omitempty"`
}

// Broker mediates negotiations through the shared store.
type Broker struct {
	source       config.Source
	negotiations *store.NegotiationStore
	tasks        *store.TaskStore
	now          func() time.Time
}

// NewBroker creates a Broker.
func NewBroker(source config.Source, negotiations *store.NegotiationStore, tasks *store.TaskStore) *Broker {
	return &Broker{
		source:       source,
		negotiations: negotiations,
		tasks:        tasks,
		now:          time.Now,
	}
}

// SetNow overrides the clock for testing.
func (b *Broker) SetNow(now func() time.Time) {
	b.now = now
}

// Open validates an ask against the allow-list and the concurrent ceiling,
// records the negotiation and enqueues a data_request task for the
// responder. The requester does not block on the outcome.
func (b *Broker) Open(ask *Ask) (*types.Negotiation, error) {
	cfg := b.source.Config().Negotiation

	if !pairAllowed(cfg.AllowedPairs, ask.RequestingAgent, ask.RespondingAgent) {
		return nil, ErrPairNotAllowed
	}

	active, err := b.negotiations.CountActiveByRequester(ask.RequestingAgent)
	if err != nil {
		return nil, fmt.Errorf("failed to check negotiation ceiling: %w", err)
	}
	if cfg.MaxConcurrentPerAgent > 0 && active >= cfg.MaxConcurrentPerAgent {
		return nil, ErrCeilingExceeded
	}

	now := b.now().UTC()
	neededBy := now.Add(time.Duration(cfg.TimeoutMinutes) * time.Minute)
	n := &types.Negotiation{
		RequestingAgent: ask.RequestingAgent,
		RespondingAgent: ask.RespondingAgent,
		RequestTaskID:   ask.RequestTaskID,
		RequestSummary:  ask.Summary,
		QualityCriteria: ask.QualityCriteria,
		NeededBy:        &neededBy,
		CreatedAt:       now,
	}
	if err := b.negotiations.Create(n); err != nil {
		return nil, err
	}

	if err := b.enqueueRequest(n, ask.Input); err != nil {
		return nil, err
	}

	return n, nil
}

// Respond records the responder's answer. Criteria met closes the
// negotiation; unmet criteria under the round cap opens a follow-up round
// with a fresh data_request task; unmet at the cap closes anyway. A
// response to an inactive negotiation is discarded, reported via
// applied=false.
func (b *Broker) Respond(negotiationID, responseTaskID, summary string, criteriaMet bool) (bool, error) {
	n, err := b.negotiations.Get(negotiationID)
	if err != nil {
		return false, err
	}
	if n == nil {
		return false, fmt.Errorf("negotiation not found: %s", negotiationID)
	}
	if !n.Status.Active() {
		log.Printf("Discarding late response to %s negotiation %s", n.Status, n.ID)
		return false, nil
	}

	cfg := b.source.Config().Negotiation
	update := &types.NegotiationUpdate{
		ResponseTaskID:  &responseTaskID,
		CriteriaMet:     &criteriaMet,
		ResponseSummary: &summary,
	}

	if !criteriaMet && n.Round < cfg.MaxRounds {
		status := types.NegotiationFollowUp
		round := n.Round + 1
		update.Status = &status
		update.Round = &round
		if err := b.negotiations.Update(n.ID, update); err != nil {
			return false, err
		}

		n.Round = round
		n.RequestSummary = fmt.Sprintf("%s (follow-up after: %s)", n.RequestSummary, summary)
		return true, b.enqueueRequest(n, nil)
	}

	status := types.NegotiationClosed
	closedAt := b.now().UTC()
	update.Status = &status
	update.ClosedAt = &closedAt
	if err := b.negotiations.Update(n.ID, update); err != nil {
		return false, err
	}
	return true, nil
}

// SweepTimeouts times out negotiations that have been waiting longer than
// the configured window. Returns how many were swept.
func (b *Broker) SweepTimeouts() (int, error) {
	cfg := b.source.Config().Negotiation
	now := b.now().UTC()
	cutoff := now.Add(-time.Duration(cfg.TimeoutMinutes) * time.Minute)
	return b.negotiations.SweepTimeouts(cutoff, now)
}

func (b *Broker) enqueueRequest(n *types.Negotiation, input json.RawMessage) error {
	payload, err := json.Marshal(&requestPayload{
		NegotiationID:   n.ID,
		RequestingAgent: n.RequestingAgent,
		Round:           n.Round,
		Summary:         n.RequestSummary,
		QualityCriteria: n.QualityCriteria,
		Input:           input,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request payload: %w", err)
	}

	_, err = b.tasks.Create(&types.Task{
		Type:       types.TaskDataRequest,
		AssignedTo: n.RespondingAgent,
		CreatedBy:  "broker",
		Priority:   3,
		Input:      payload,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue data request: %w", err)
	}
	return nil
}

func pairAllowed(pairs map[string][]string, requester, responder string) bool {
	for _, allowed := range pairs[requester] {
		if allowed == responder {
			return true
		}
	}
	return false
}
