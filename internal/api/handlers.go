package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/negotiation"
	"github.com/newsroom-ai/newsroom/internal/pipeline"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

// Server holds the REST API's dependencies.
type Server struct {
	source       config.Source
	tasks        *store.TaskStore
	content      *store.ContentStore
	findings     *store.FindingStore
	predictions  *store.PredictionStore
	negotiations *store.NegotiationStore
	usage        *store.UsageStore
	broker       *negotiation.Broker
	orchestrator *pipeline.Orchestrator
	hub          *Hub
	version      string
}

// NewServer creates a Server.
func NewServer(source config.Source, st *store.Store, broker *negotiation.Broker,
	orchestrator *pipeline.Orchestrator, hub *Hub, version string) *Server {
	return &Server{
		source:       source,
		tasks:        store.NewTaskStore(st),
		content:      store.NewContentStore(st),
		findings:     store.NewFindingStore(st),
		predictions:  store.NewPredictionStore(st),
		negotiations: store.NewNegotiationStore(st),
		usage:        store.NewUsageStore(st),
		broker:       broker,
		orchestrator: orchestrator,
		hub:          hub,
		version:      version,
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// --- Tasks ---

type createTaskRequest struct {
	Type       types.TaskType  `json:"type" binding:"required"`
	AssignedTo string          `json:"assigned_to" binding:"required"`
	Priority   int             `json:"priority"`
	Input      json.RawMessage `json:"input"`
}

func (s *Server) createTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task := &types.Task{
		Type:       req.Type,
		AssignedTo: req.AssignedTo,
		CreatedBy:  "operator",
		Priority:   req.Priority,
		Input:      req.Input,
	}
	id, err := s.tasks.Create(task)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.hub.Broadcast("task_created", task)
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) listTasks(c *gin.Context) {
	filter := &types.TaskFilter{
		AssignedTo: c.Query("assigned_to"),
		Type:       types.TaskType(c.Query("type")),
		Limit:      100,
	}
	if status := c.Query("status"); status != "" {
		filter.Status = []types.TaskStatus{types.TaskStatus(status)}
	}

	tasks, err := s.tasks.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.tasks.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if task == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) taskStats(c *gin.Context) {
	stats := make(map[string]int)
	for _, status := range []types.TaskStatus{
		types.TaskPending, types.TaskInProgress, types.TaskCompleted, types.TaskFailed,
	} {
		count, err := s.tasks.Count(&types.TaskFilter{Status: []types.TaskStatus{status}})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		stats[string(status)] = count
	}
	c.JSON(http.StatusOK, stats)
}

// --- Content ---

func (s *Server) ingestContent(c *gin.Context) {
	var items []*types.ContentItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, item := range items {
		if err := s.content.Insert(item); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"ingested": len(items)})
}

func (s *Server) recentContent(c *gin.Context) {
	items, err := s.content.ListRecent(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// --- Negotiations ---

func (s *Server) listNegotiations(c *gin.Context) {
	var statuses []types.NegotiationStatus
	if status := c.Query("status"); status != "" {
		statuses = append(statuses, types.NegotiationStatus(status))
	}

	negotiations, err := s.negotiations.ListByStatus(statuses...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"negotiations": negotiations, "count": len(negotiations)})
}

type openNegotiationRequest struct {
	RequestingAgent string          `json:"requesting_agent" binding:"required"`
	RespondingAgent string          `json:"responding_agent" binding:"required"`
	RequestTaskID   string          `json:"request_task_id"`
	Summary         string          `json:"summary" binding:"required"`
	QualityCriteria string          `json:"quality_criteria"`
	Input           json.RawMessage `json:"input"`
}

func (s *Server) openNegotiation(c *gin.Context) {
	var req openNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := s.broker.Open(&negotiation.Ask{
		RequestingAgent: req.RequestingAgent,
		RespondingAgent: req.RespondingAgent,
		RequestTaskID:   req.RequestTaskID,
		Summary:         req.Summary,
		QualityCriteria: req.QualityCriteria,
		Input:           req.Input,
	})
	switch {
	case err == negotiation.ErrPairNotAllowed, err == negotiation.ErrCeilingExceeded:
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, n)
}

type respondNegotiationRequest struct {
	ResponseTaskID string `json:"response_task_id"`
	Summary        string `json:"summary"`
	CriteriaMet    bool   `json:"criteria_met"`
}

func (s *Server) respondNegotiation(c *gin.Context) {
	var req respondNegotiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	applied, err := s.broker.Respond(c.Param("id"), req.ResponseTaskID, req.Summary, req.CriteriaMet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// --- Usage ---

func (s *Server) agentUsage(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}

	usage, err := s.usage.Get(c.Param("agent"), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// --- Predictions ---

func (s *Server) listPredictions(c *gin.Context) {
	predictions, err := s.predictions.ListOpen()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"predictions": predictions, "count": len(predictions)})
}

func (s *Server) flagPrediction(c *gin.Context) {
	applied, err := s.predictions.Flag(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

type resolvePredictionRequest struct {
	Verdict types.PredictionStatus `json:"verdict" binding:"required"`
	Note    string                 `json:"note"`
}

func (s *Server) resolvePrediction(c *gin.Context) {
	var req resolvePredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.predictions.Resolve(c.Param("id"), req.Verdict, req.Note); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

// --- Findings ---

func (s *Server) listFindings(c *gin.Context) {
	findings, err := s.findings.ListRecent(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings, "count": len(findings)})
}

// --- Pipeline ---

func (s *Server) runPipeline(c *gin.Context) {
	go func() {
		report, err := s.orchestrator.RunCycle(context.Background())
		if err != nil {
			log.Printf("Pipeline cycle failed: %v", err)
			return
		}
		s.hub.Broadcast("cycle_finished", report)
	}()
	c.JSON(http.StatusAccepted, gin.H{"started": true})
}
