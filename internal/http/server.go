package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/khanfawwaz/IBMxORCHESTRATE/internal/log"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/models"
	"github.com/khanfawwaz/IBMxORCHESTRATE/pkg/service"
)

// StartServer exposes the orchestrator over HTTP: run submission, run
// history, and the registered agent/workflow sets.
func StartServer(port string, svc *service.OrchestratorService) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/agents", AgentsHandler(svc))
	mux.HandleFunc("/workflows", WorkflowsHandler(svc))
	mux.HandleFunc("/runs", RunsHandler(svc))

	log.GetLogger().Infof("Starting orchestrator server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Orchestrator server is running")
}

// AgentsHandler lists the registered agents with their invocation counters.
func AgentsHandler(svc *service.OrchestratorService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, svc.AgentSnapshots())
	}
}

// WorkflowsHandler lists the registered workflow definitions.
func WorkflowsHandler(svc *service.OrchestratorService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, svc.Workflows())
	}
}

type runRequest struct {
	WorkflowID string            `json:"workflowId"`
	Context    models.RunContext `json:"context"`
}

// RunsHandler submits a run (POST) or returns recent run history (GET).
func RunsHandler(svc *service.OrchestratorService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			executeRunHTTP(w, r, svc)
		case http.MethodGet:
			listRunsHTTP(w, r, svc)
		default:
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

func executeRunHTTP(w http.ResponseWriter, r *http.Request, svc *service.OrchestratorService) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.WorkflowID == "" {
		writeError(w, http.StatusBadRequest, "Missing 'workflowId' parameter")
		return
	}

	run, err := svc.Execute(r.Context(), req.WorkflowID, req.Context)
	if err != nil {
		log.GetLogger().Errorf("Failed to execute workflow '%s': %v", req.WorkflowID, err)
		status := http.StatusBadRequest
		if errors.Is(err, service.ErrWorkflowNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, fmt.Sprintf("Failed to execute workflow: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func listRunsHTTP(w http.ResponseWriter, r *http.Request, svc *service.OrchestratorService) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = n
	}
	runs := svc.History(limit)
	if runs == nil {
		runs = []models.RunResult{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
