package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Handlers builds the task handler set over the shared store.
type Handlers struct {
	content     *store.ContentStore
	findings    *store.FindingStore
	predictions *store.PredictionStore
	tasks       *store.TaskStore
}

// NewHandlers creates the handler set.
func NewHandlers(content *store.ContentStore, findings *store.FindingStore,
	predictions *store.PredictionStore, tasks *store.TaskStore) *Handlers {
	return &Handlers{
		content:     content,
		findings:    findings,
		predictions: predictions,
		tasks:       tasks,
	}
}

// Registry returns a registry with every task type bound.
func (h *Handlers) Registry() *Registry {
	r := NewRegistry()
	r.Register(types.TaskFullAnalysis, HandlerFunc(h.FullAnalysis))
	r.Register(types.TaskTopicSelection, HandlerFunc(h.TopicSelection))
	r.Register(types.TaskDeepResearch, HandlerFunc(h.DeepResearch))
	r.Register(types.TaskNewsletterAssembly, HandlerFunc(h.NewsletterAssembly))
	r.Register(types.TaskProactiveAnalysis, HandlerFunc(h.ProactiveAnalysis))
	r.Register(types.TaskDataRequest, HandlerFunc(h.DataRequest))
	r.Register(types.TaskNotification, HandlerFunc(h.Notification))
	return r
}

// analysisResult is the shape a reasoning call returns for analysis work.
type analysisResult struct {
	Findings []struct {
		Category string `json:"category"`
		Summary  string `json:"summary"`
	} `json:"findings"`
	Predictions []struct {
		Claim   string     `json:"claim"`
		Horizon *time.Time `json:"horizon,omitempty"`
	} `json:"predictions"`
}

// FullAnalysis walks the content window segment by segment, spending one
// reasoning call per segment. When the budget runs out mid-walk, or a
// segment's reasoning keeps failing past its retries, the segments
// analyzed so far are the output.
func (h *Handlers) FullAnalysis(ctx context.Context, s *Session) (*Output, error) {
	var input struct {
		Segments []string `json:"segments"`
	}
	if len(s.Task.Input) > 0 {
		if err := json.Unmarshal(s.Task.Input, &input); err != nil {
			return nil, fmt.Errorf("malformed analysis input: %w", err)
		}
	}
	if len(input.Segments) == 0 {
		input.Segments = []string{"all"}
	}

	items, err := h.content.ListRecent(100)
	if err != nil {
		return nil, err
	}

	segmentResults := make(map[string]json.RawMessage)
	analyzed := 0
	for _, segment := range input.Segments {
		payload, err := json.Marshal(map[string]interface{}{
			"segment": segment,
			"items":   itemsForSegment(items, segment),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal segment payload: %w", err)
		}

		result, err := s.Call(ctx, payload)
		if err != nil {
			// The session already flagged the output; the segments done
			// so far are the result.
			if errors.Is(err, ErrBudgetExhausted) {
				log.Printf("Task %s stopping after %d/%d segments: budget exhausted",
					s.Task.ID, analyzed, len(input.Segments))
			} else {
				log.Printf("Task %s stopping after %d/%d segments: reasoning failed: %v",
					s.Task.ID, analyzed, len(input.Segments), err)
			}
			break
		}

		segmentResults[segment] = result.Output
		h.persistAnalysis(s, result.Output)
		analyzed++
	}

	resultJSON, err := json.Marshal(map[string]interface{}{
		"segments":          segmentResults,
		"segments_analyzed": analyzed,
		"segments_total":    len(input.Segments),
	})
	if err != nil {
		return nil, err
	}
	return s.output(resultJSON, fmt.Sprintf("analyzed %d of %d segments", analyzed, len(input.Segments))), nil
}

// TopicSelection reviews recent findings and picks topics worth deeper
// coverage.
func (h *Handlers) TopicSelection(ctx context.Context, s *Session) (*Output, error) {
	findings, err := h.findings.ListRecent(30)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"findings": findings,
		"input":    s.Task.Input,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.Call(ctx, payload)
	if errors.Is(err, ErrBudgetExhausted) {
		return s.output(nil, "no selection made: budget exhausted"), nil
	}
	if err != nil {
		return nil, err
	}
	return s.output(result.Output, result.Summary), nil
}

// DeepResearch deep-dives one topic with the recent content as context.
func (h *Handlers) DeepResearch(ctx context.Context, s *Session) (*Output, error) {
	items, err := h.content.ListRecent(50)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"topic": s.Task.Input,
		"items": items,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.Call(ctx, payload)
	if errors.Is(err, ErrBudgetExhausted) {
		return s.output(nil, "research not started: budget exhausted"), nil
	}
	if err != nil {
		return nil, err
	}

	h.persistAnalysis(s, result.Output)
	return s.output(result.Output, result.Summary), nil
}

// NewsletterAssembly builds the issue from whatever upstream material
// exists. Missing sections degrade the issue, never block it.
func (h *Handlers) NewsletterAssembly(ctx context.Context, s *Session) (*Output, error) {
	findings, err := h.findings.ListRecent(50)
	if err != nil {
		return nil, err
	}

	research, err := h.tasks.List(&types.TaskFilter{
		Status: []types.TaskStatus{types.TaskCompleted},
		Type:   types.TaskDeepResearch,
		Limit:  10,
	})
	if err != nil {
		return nil, err
	}

	briefs := make([]json.RawMessage, 0, len(research))
	for _, t := range research {
		if len(t.Output) > 0 {
			briefs = append(briefs, t.Output)
		}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"findings": findings,
		"briefs":   briefs,
		"input":    s.Task.Input,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.Call(ctx, payload)
	if errors.Is(err, ErrBudgetExhausted) {
		return s.output(nil, "issue not assembled: budget exhausted"), nil
	}
	if err != nil {
		return nil, err
	}
	return s.output(result.Output, result.Summary), nil
}

// ProactiveAnalysis investigates the anomalies the monitor detected and
// decides whether they warrant an alert.
func (h *Handlers) ProactiveAnalysis(ctx context.Context, s *Session) (*Output, error) {
	result, err := s.Call(ctx, s.Task.Input)
	if errors.Is(err, ErrBudgetExhausted) {
		return s.output(nil, "anomalies not investigated: budget exhausted"), nil
	}
	if err != nil {
		return nil, err
	}

	h.persistAnalysis(s, result.Output)
	return s.output(result.Output, result.Summary), nil
}

// DataRequest serves another agent's request for data, carrying the
// quality-criteria verdict when the request belongs to a negotiation.
func (h *Handlers) DataRequest(ctx context.Context, s *Session) (*Output, error) {
	result, err := s.Call(ctx, s.Task.Input)
	if errors.Is(err, ErrBudgetExhausted) {
		return s.output(nil, "request not served: budget exhausted"), nil
	}
	if err != nil {
		return nil, err
	}

	if result.CriteriaMet == nil {
		// No explicit verdict means the responder considers itself done.
		s.RecordVerdict(true, result.Summary)
	}
	return s.output(result.Output, result.Summary), nil
}

// Notification formats an alert for delivery. No reasoning call is spent.
func (h *Handlers) Notification(ctx context.Context, s *Session) (*Output, error) {
	var input struct {
		SourceTaskID string `json:"source_task_id"`
	}
	if len(s.Task.Input) > 0 {
		_ = json.Unmarshal(s.Task.Input, &input)
	}

	summary := "alert notification"
	if input.SourceTaskID != "" {
		if source, err := h.tasks.Get(input.SourceTaskID); err == nil && source != nil {
			var out Output
			if json.Unmarshal(source.Output, &out) == nil && out.Summary != "" {
				summary = out.Summary
			}
		}
	}

	resultJSON, err := json.Marshal(map[string]interface{}{
		"notified":       true,
		"source_task_id": input.SourceTaskID,
		"message":        summary,
	})
	if err != nil {
		return nil, err
	}

	log.Printf("ALERT [%s]: %s", s.Agent.Name, summary)
	return s.output(resultJSON, summary), nil
}

// persistAnalysis extracts findings and predictions from a reasoning
// result and records them. Malformed output is skipped, not fatal.
func (h *Handlers) persistAnalysis(s *Session, output json.RawMessage) {
	if len(output) == 0 {
		return
	}

	var parsed analysisResult
	if err := json.Unmarshal(output, &parsed); err != nil {
		return
	}

	for _, f := range parsed.Findings {
		err := h.findings.Create(&types.Finding{
			TaskID:    s.Task.ID,
			AgentName: s.Agent.Name,
			Category:  f.Category,
			Summary:   f.Summary,
		})
		if err != nil {
			log.Printf("Task %s failed to record finding: %v", s.Task.ID, err)
		}
	}

	for _, p := range parsed.Predictions {
		err := h.predictions.Create(&types.Prediction{
			TaskID:    s.Task.ID,
			AgentName: s.Agent.Name,
			Claim:     p.Claim,
			Horizon:   p.Horizon,
		})
		if err != nil {
			log.Printf("Task %s failed to record prediction: %v", s.Task.ID, err)
		}
	}
}

func itemsForSegment(items []*types.ContentItem, segment string) []*types.ContentItem {
	if segment == "all" {
		return items
	}
	var filtered []*types.ContentItem
	for _, item := range items {
		if item.Category == segment {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
