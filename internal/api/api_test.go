package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsroom-ai/newsroom/internal/config"
	"github.com/newsroom-ai/newsroom/internal/negotiation"
	"github.com/newsroom-ai/newsroom/internal/pipeline"
	"github.com/newsroom-ai/newsroom/internal/store"
	"github.com/newsroom-ai/newsroom/pkg/types"
)

func newTestServer(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()

	s := store.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })

	cfg := types.DefaultConfig()
	source := config.Static(cfg)
	tasks := store.NewTaskStore(s)
	broker := negotiation.NewBroker(source, store.NewNegotiationStore(s), tasks)

	publisher, err := pipeline.NewDirPublisher(t.TempDir())
	require.NoError(t, err)
	orchestrator := pipeline.NewOrchestrator(source, tasks, nil, publisher)

	server := NewServer(source, s, broker, orchestrator, NewHub(), "test")
	return server.Router(), s
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCreateAndGetTask(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"type":"full_analysis","assigned_to":"analyst","input":{"segments":["ai"]}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = doJSON(t, router, http.MethodGet, "/api/tasks/"+created.ID, "")
	require.Equal(t, http.StatusOK, w.Code)

	var task types.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &task))
	assert.Equal(t, types.TaskPending, task.Status)
	assert.Equal(t, "operator", task.CreatedBy)
}

func TestCreateTaskValidation(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/tasks", `{"type":"full_analysis"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMissingTask(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodGet, "/api/tasks/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskStats(t *testing.T) {
	router, _ := newTestServer(t)

	doJSON(t, router, http.MethodPost, "/api/tasks",
		`{"type":"full_analysis","assigned_to":"analyst"}`)

	w := doJSON(t, router, http.MethodGet, "/api/tasks/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats["pending"])
	assert.Zero(t, stats["completed"])
}

func TestContentIngestAndList(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/content",
		`[{"source":"rss","category":"ai","title":"big model news","sentiment":0.4,"published_at":"2026-08-31T10:00:00Z"}]`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/content/recent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "big model news")
}

func TestOpenNegotiationDisallowedPair(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/negotiations",
		`{"requesting_agent":"researcher","responding_agent":"newsletter","summary":"need layout"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNegotiationLifecycleOverAPI(t *testing.T) {
	router, _ := newTestServer(t)

	w := doJSON(t, router, http.MethodPost, "/api/negotiations",
		`{"requesting_agent":"analyst","responding_agent":"researcher","summary":"need data","quality_criteria":"sourced"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var n types.Negotiation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &n))

	w = doJSON(t, router, http.MethodPost, "/api/negotiations/"+n.ID+"/respond",
		`{"response_task_id":"t-9","summary":"here you go","criteria_met":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"applied":true`)

	w = doJSON(t, router, http.MethodGet, "/api/negotiations?status=closed", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), n.ID)
}

func TestPredictionResolveOverAPI(t *testing.T) {
	router, s := newTestServer(t)

	ps := store.NewPredictionStore(s)
	p := &types.Prediction{TaskID: "t1", AgentName: "analyst", Claim: "X by Q4"}
	require.NoError(t, ps.Create(p))

	w := doJSON(t, router, http.MethodPost, "/api/predictions/"+p.ID+"/resolve",
		`{"verdict":"confirmed","note":"shipped"}`)
	require.Equal(t, http.StatusOK, w.Code)

	got, err := ps.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, types.PredictionConfirmed, got.Status)
}

func TestUsageEndpoint(t *testing.T) {
	router, s := newTestServer(t)

	us := store.NewUsageStore(s)
	require.NoError(t, us.Add(&types.DailyUsage{AgentName: "analyst", Date: "2026-08-31", LLMCalls: 7}))

	w := doJSON(t, router, http.MethodGet, "/api/usage/analyst?date=2026-08-31", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"llm_calls":7`)
}
