// Package runtime executes claimed tasks. A Runtime represents one agent:
// it resolves the task's budget, runs the registered handler, acts on the
// side requests the handler accumulated (subtasks, negotiations, alerts)
// and closes the task exactly once.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/newsroom-ai/newsroom/internal/budget"
	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/negotiation"
	"github.com/newsroom-ai/newsroom/internal/reason"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Handler processes one task type inside a session.
type Handler interface {
	Handle(ctx context.Context, s *Session) (*Output, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, s *Session) (*Output, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, s *Session) (*Output, error) {
	return f(ctx, s)
}

// Registry maps task types to handlers.
type Registry struct {
	handlers map[types.TaskType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.TaskType]Handler)}
}

// Register binds a handler to a task type.
func (r *Registry) Register(taskType types.TaskType, h Handler) {
	r.handlers[taskType] = h
}

// For returns the handler for a task type, or nil.
func (r *Registry) For(taskType types.TaskType) Handler {
	return r.handlers[taskType]
}

// ModelResolver picks the model name for a task type.
type ModelResolver interface {
	ModelFor(taskType types.TaskType) string
}

// EventFunc receives task lifecycle events for broadcast.
type EventFunc func(event string, task *types.Task)

// Runtime runs tasks on behalf of one agent.
type Runtime struct {
	agent    types.AgentDefinition
	source   config.Source
	tasks    *store.TaskStore
	governor *budget.Governor
	reasoner reason.Reasoner
	broker   *negotiation.Broker
	registry *Registry
	models   ModelResolver
	events   EventFunc
}

// NewRuntime creates a Runtime for one agent.
func NewRuntime(agent types.AgentDefinition, source config.Source, tasks *store.TaskStore,
	governor *budget.Governor, reasoner reason.Reasoner, broker *negotiation.Broker,
	registry *Registry, models ModelResolver) *Runtime {
	return &Runtime{
		agent:    agent,
		source:   source,
		tasks:    tasks,
		governor: governor,
		reasoner: reasoner,
		broker:   broker,
		registry: registry,
		models:   models,
	}
}

// SetEvents installs a lifecycle event callback.
func (rt *Runtime) SetEvents(events EventFunc) {
	rt.events = events
}

// ProcessTask runs one claimed task to a terminal state. The task is
// already in_progress; whatever happens here, it ends completed or failed,
// and its budget usage is flushed into the daily aggregate.
func (rt *Runtime) ProcessTask(ctx context.Context, task *types.Task) error {
	ok, err := rt.governor.DailyCeilingOK(rt.agent.Name)
	if err != nil {
		return err
	}
	if !ok {
		log.Printf("Task %s failed fast: daily budget exhausted for %s", task.ID, rt.agent.Name)
		rt.fail(task, types.FailDailyBudgetExhausted)
		return nil
	}

	handler := rt.registry.For(task.Type)
	if handler == nil {
		log.Printf("Task %s failed: no handler for type %s", task.ID, task.Type)
		rt.fail(task, types.FailUnknownTaskType)
		return nil
	}

	b := rt.governor.NewBudget(rt.agent.Name, task.Type)
	model := rt.agent.Model
	if model == "" {
		model = rt.models.ModelFor(task.Type)
	}
	session := newSession(task, rt.agent, b, rt.reasoner, model)

	out, handleErr := handler.Handle(ctx, session)

	rt.fanOutSubtasks(session)
	rt.openNegotiations(session)
	rt.respondNegotiation(session)

	completed := false
	if handleErr != nil {
		rt.fail(task, handleErr.Error())
	} else {
		if out == nil {
			out = session.output(nil, "")
		}
		// The fan-out above may have flagged the session after the
		// handler built its output.
		out.Flags = session.flagList()
		out.BudgetUsage = b.Snapshot()
		rt.complete(task, out)
		completed = true
		rt.maybeAlert(ctx, session)
	}

	if err := rt.governor.FlushUsage(b, completed); err != nil {
		log.Printf("Failed to flush usage for task %s: %v", task.ID, err)
	}
	return nil
}

// fanOutSubtasks turns accumulated data requests into subtasks, each one
// charged against the creating task's subtask budget.
func (rt *Runtime) fanOutSubtasks(s *Session) {
	for _, dr := range s.dataRequests {
		if !s.budget.UseSubtask() {
			s.Flag(FlagBudgetLimited)
			log.Printf("Task %s dropping subtask for %s: %s", s.Task.ID, dr.AssignedTo, budget.ReasonSubtaskLimit)
			return
		}

		taskType := dr.Type
		if taskType == "" {
			taskType = types.TaskDataRequest
		}
		parentID := s.Task.ID
		id, err := rt.tasks.Create(&types.Task{
			Type:       taskType,
			AssignedTo: dr.AssignedTo,
			CreatedBy:  rt.agent.Name,
			Priority:   dr.Priority,
			Input:      dr.Input,
			ParentID:   &parentID,
		})
		if err != nil {
			log.Printf("Task %s failed to create subtask: %v", s.Task.ID, err)
			continue
		}
		log.Printf("Task %s created subtask %s for %s", s.Task.ID, id, dr.AssignedTo)
	}
}

// openNegotiations asks the broker to open each accumulated negotiation.
// Rejections are logged and dropped; the requester never blocks on them.
func (rt *Runtime) openNegotiations(s *Session) {
	for _, ask := range s.negotiations {
		n, err := rt.broker.Open(&negotiation.Ask{
			RequestingAgent: rt.agent.Name,
			RespondingAgent: ask.RespondingAgent,
			RequestTaskID:   s.Task.ID,
			Summary:         ask.Summary,
			QualityCriteria: ask.QualityCriteria,
			Input:           ask.Input,
		})
		switch {
		case errors.Is(err, negotiation.ErrPairNotAllowed), errors.Is(err, negotiation.ErrCeilingExceeded):
			log.Printf("Task %s negotiation with %s refused: %v", s.Task.ID, ask.RespondingAgent, err)
		case err != nil:
			log.Printf("Task %s failed to open negotiation: %v", s.Task.ID, err)
		default:
			log.Printf("Task %s opened negotiation %s with %s", s.Task.ID, n.ID, ask.RespondingAgent)
		}
	}
}

// respondNegotiation relays a data_request verdict back through the broker.
func (rt *Runtime) respondNegotiation(s *Session) {
	if s.Task.Type != types.TaskDataRequest || s.verdict == nil {
		return
	}

	var payload struct {
		NegotiationID string `json:"negotiation_id"`
	}
	if err := json.Unmarshal(s.Task.Input, &payload); err != nil || payload.NegotiationID == "" {
		return // Plain data request outside any negotiation.
	}

	applied, err := rt.broker.Respond(payload.NegotiationID, s.Task.ID, s.verdictSummary, *s.verdict)
	if err != nil {
		log.Printf("Task %s failed to respond to negotiation %s: %v", s.Task.ID, payload.NegotiationID, err)
		return
	}
	if !applied {
		log.Printf("Task %s response to negotiation %s discarded", s.Task.ID, payload.NegotiationID)
	}
}

// maybeAlert sends a notification task when a proactive analysis raised an
// alert and the daily alert quota allows it.
func (rt *Runtime) maybeAlert(ctx context.Context, s *Session) {
	if s.Task.Type != types.TaskProactiveAnalysis || !s.alert {
		return
	}

	ok, err := rt.governor.AlertQuotaOK()
	if err != nil {
		log.Printf("Task %s alert quota check failed: %v", s.Task.ID, err)
		return
	}
	if !ok {
		log.Printf("Task %s alert suppressed: daily alert quota reached", s.Task.ID)
		return
	}

	input, err := json.Marshal(map[string]string{"source_task_id": s.Task.ID})
	if err != nil {
		return
	}
	parentID := s.Task.ID
	id, err := rt.tasks.Create(&types.Task{
		Type:       types.TaskNotification,
		AssignedTo: rt.agent.Name,
		CreatedBy:  rt.agent.Name,
		Priority:   1,
		Input:      input,
		ParentID:   &parentID,
	})
	if err != nil {
		log.Printf("Task %s failed to enqueue notification: %v", s.Task.ID, err)
		return
	}
	if err := rt.governor.RecordAlert(); err != nil {
		log.Printf("Task %s failed to record alert: %v", s.Task.ID, err)
	}
	log.Printf("Task %s raised alert, notification %s enqueued", s.Task.ID, id)
}

func (rt *Runtime) complete(task *types.Task, out *Output) {
	data, err := json.Marshal(out)
	if err != nil {
		rt.fail(task, fmt.Sprintf("failed to marshal output: %v", err))
		return
	}

	applied, err := rt.tasks.Complete(task.ID, data)
	if err != nil {
		log.Printf("Failed to complete task %s: %v", task.ID, err)
		return
	}
	if !applied {
		// The sweep got here first; the late result is discarded.
		log.Printf("Task %s already terminal, discarding result", task.ID)
		return
	}
	rt.emit("task_completed", task)
}

func (rt *Runtime) fail(task *types.Task, reason string) {
	applied, err := rt.tasks.Fail(task.ID, reason)
	if err != nil {
		log.Printf("Failed to fail task %s: %v", task.ID, err)
		return
	}
	if !applied {
		log.Printf("Task %s already terminal, discarding failure %q", task.ID, reason)
		return
	}
	rt.emit("task_failed", task)
}

func (rt *Runtime) emit(event string, task *types.Task) {
	if rt.events != nil {
		rt.events(event, task)
	}
}
