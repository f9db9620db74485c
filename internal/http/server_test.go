package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	orchhttp "github.com/khanfawwaz/IBMxORCHESTRATE/internal/http"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/agent"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/service"
)

type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

func newTestService(t *testing.T) *service.OrchestratorService {
	registry := agent.NewRegistry()
	echo := agent.New("echo", "Echo", []string{"echo"}, func(ctx context.Context, tc agent.TaskContext) (agent.TaskResult, error) {
		return agent.TaskResult{Payload: tc.Run["message"], Confidence: 0.9}, nil
	})
	assert.NoError(t, registry.Register(echo))

	svc := service.NewOrchestratorService(registry, service.Config{}, testLogger{})
	assert.NoError(t, svc.RegisterWorkflow(models.Workflow{
		ID:    "echo_flow",
		Name:  "Echo Flow",
		Steps: []models.Step{{ID: "say", AgentID: "echo"}},
	}))
	return svc
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(nethttp.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	orchhttp.HealthHandler(rec, req)

	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "running")
}

func TestAgentsHandler(t *testing.T) {
	svc := newTestService(t)
	handler := orchhttp.AgentsHandler(svc)

	t.Run("ListsAgents", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodGet, "/agents", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)

		assert.Equal(t, nethttp.StatusOK, rec.Code)
		var snaps []agent.Snapshot
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
		assert.Len(t, snaps, 1)
		assert.Equal(t, "echo", snaps[0].AgentID)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodPost, "/agents", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, nethttp.StatusMethodNotAllowed, rec.Code)
	})
}

func TestWorkflowsHandler(t *testing.T) {
	svc := newTestService(t)
	req := httptest.NewRequest(nethttp.MethodGet, "/workflows", nil)
	rec := httptest.NewRecorder()
	orchhttp.WorkflowsHandler(svc)(rec, req)

	assert.Equal(t, nethttp.StatusOK, rec.Code)
	var wfs []models.Workflow
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &wfs))
	assert.Len(t, wfs, 1)
	assert.Equal(t, "echo_flow", wfs[0].ID)
}

func TestRunsHandler(t *testing.T) {
	svc := newTestService(t)
	handler := orchhttp.RunsHandler(svc)

	t.Run("ExecuteRun", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{
			"workflowId": "echo_flow",
			"context":    map[string]any{"message": "hello"},
		})
		req := httptest.NewRequest(nethttp.MethodPost, "/runs", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)

		assert.Equal(t, nethttp.StatusOK, rec.Code)
		var run models.RunResult
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
		assert.Equal(t, "echo_flow", run.WorkflowID)
		assert.Equal(t, models.SuccessRunStatus, run.Status)
		assert.Equal(t, "hello", run.Steps["say"].Payload)
		assert.InDelta(t, 0.9, run.OverallConfidence, 1e-9)
	})

	t.Run("UnknownWorkflow", func(t *testing.T) {
		body, _ := json.Marshal(map[string]any{"workflowId": "missing"})
		req := httptest.NewRequest(nethttp.MethodPost, "/runs", bytes.NewReader(body))
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, nethttp.StatusNotFound, rec.Code)
	})

	t.Run("MissingWorkflowID", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodPost, "/runs", bytes.NewReader([]byte(`{}`)))
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidBody", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodPost, "/runs", bytes.NewReader([]byte("not json")))
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	})

	t.Run("History", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodGet, "/runs?limit=5", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)

		assert.Equal(t, nethttp.StatusOK, rec.Code)
		var runs []models.RunResult
		assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
		// The successful execution above is recorded.
		assert.NotEmpty(t, runs)
		assert.Equal(t, "echo_flow", runs[0].WorkflowID)
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		req := httptest.NewRequest(nethttp.MethodGet, "/runs?limit=zero", nil)
		rec := httptest.NewRecorder()
		handler(rec, req)
		assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	})
}
