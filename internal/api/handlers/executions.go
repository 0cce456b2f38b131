package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/contentmill/contentmill/internal/api/middleware"
	"github.com/contentmill/contentmill/internal/store"
	"github.com/contentmill/contentmill/internal/workflow"
	"github.com/contentmill/contentmill/pkg/models"
	"github.com/go-chi/chi/v5"
)

// ── Execution Handlers ───────────────────────────────────────

// startExecutionRequest starts a run of a stored recipe, or of an ad-hoc
// step list when recipe_id is empty.
type startExecutionRequest struct {
	RecipeID string                       `json:"recipe_id,omitempty"`
	Steps    []models.RecipeStep          `json:"steps,omitempty"`
	Values   map[string]models.InputValue `json:"values,omitempty"`
}

func (h *Handlers) StartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	start := workflow.StartRequest{
		Steps:  req.Steps,
		UserID: middleware.GetUserID(r.Context()),
		Values: req.Values,
	}
	if req.RecipeID != "" {
		recipe, err := h.Store.GetRecipe(r.Context(), req.RecipeID)
		if err != nil {
			respondEngineError(w, err)
			return
		}
		start.Recipe = recipe
	}

	exec, err := h.Engine.Start(r.Context(), start)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, exec)
}

func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	execs, err := h.Store.ListExecutions(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if execs == nil {
		execs = []models.Execution{}
	}
	respondJSON(w, http.StatusOK, execs)
}

// executionDetail is an execution with its step rows inlined.
type executionDetail struct {
	models.Execution
	StepExecutions []models.StepExecution `json:"step_executions"`
}

func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.ownedExecution(w, r)
	if err != nil {
		return
	}
	slots, err := h.Store.ListStepExecutions(r.Context(), exec.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if slots == nil {
		slots = []models.StepExecution{}
	}
	respondJSON(w, http.StatusOK, executionDetail{Execution: *exec, StepExecutions: slots})
}

// executionStatus is the lightweight polling shape: no inputs, no outputs.
type executionStatus struct {
	ID          string                 `json:"id"`
	Status      models.ExecutionStatus `json:"status"`
	CurrentStep int                    `json:"current_step"`
	Error       string                 `json:"error,omitempty"`
}

// GetExecutionStatus serves frequent client polls without the full payload.
func (h *Handlers) GetExecutionStatus(w http.ResponseWriter, r *http.Request) {
	exec, err := h.ownedExecution(w, r)
	if err != nil {
		return
	}
	respondJSON(w, http.StatusOK, executionStatus{
		ID:          exec.ID,
		Status:      exec.Status,
		CurrentStep: exec.CurrentStep,
		Error:       exec.Error,
	})
}

func (h *Handlers) ListExecutionSteps(w http.ResponseWriter, r *http.Request) {
	exec, err := h.ownedExecution(w, r)
	if err != nil {
		return
	}
	slots, err := h.Store.ListStepExecutions(r.Context(), exec.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if slots == nil {
		slots = []models.StepExecution{}
	}
	respondJSON(w, http.StatusOK, slots)
}

// ── Review operations ───────────────────────────────────────

func (h *Handlers) ApproveStep(w http.ResponseWriter, r *http.Request) {
	execID := chi.URLParam(r, "executionId")
	order, ok := h.stepOrder(w, r, execID)
	if !ok {
		return
	}
	slot, err := h.Engine.Approve(r.Context(), execID, order, middleware.GetUserID(r.Context()))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, slot)
}

func (h *Handlers) RejectStep(w http.ResponseWriter, r *http.Request) {
	execID := chi.URLParam(r, "executionId")
	order, ok := h.stepOrder(w, r, execID)
	if !ok {
		return
	}
	slot, err := h.Engine.Reject(r.Context(), execID, order, middleware.GetUserID(r.Context()))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, slot)
}

// retryStepRequest optionally edits the prompt or individual input values
// before the re-run.
type retryStepRequest struct {
	ModifiedPrompt string            `json:"modified_prompt,omitempty"`
	ModifiedInput  map[string]string `json:"modified_input,omitempty"`
}

func (h *Handlers) RetryStep(w http.ResponseWriter, r *http.Request) {
	execID := chi.URLParam(r, "executionId")
	order, ok := h.stepOrder(w, r, execID)
	if !ok {
		return
	}

	var req retryStepRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	var ov *workflow.Overrides
	if req.ModifiedPrompt != "" || len(req.ModifiedInput) > 0 {
		ov = &workflow.Overrides{Prompt: req.ModifiedPrompt, Input: req.ModifiedInput}
	}

	exec, err := h.Engine.Retry(r.Context(), execID, order, middleware.GetUserID(r.Context()), ov)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, exec)
}

func (h *Handlers) CancelExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.Engine.Cancel(r.Context(), chi.URLParam(r, "executionId"), middleware.GetUserID(r.Context()))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, exec)
}

func (h *Handlers) DeleteExecution(w http.ResponseWriter, r *http.Request) {
	err := h.Engine.Delete(r.Context(), chi.URLParam(r, "executionId"), middleware.GetUserID(r.Context()))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ─────────────────────────────────────────────────

// ownedExecution loads the execution and enforces ownership.
func (h *Handlers) ownedExecution(w http.ResponseWriter, r *http.Request) (*models.Execution, error) {
	exec, err := h.Store.GetExecution(r.Context(), chi.URLParam(r, "executionId"))
	if err != nil {
		respondEngineError(w, err)
		return nil, err
	}
	user := middleware.GetUserID(r.Context())
	if exec.UserID != "" && exec.UserID != user {
		err := &workflow.AuthorizationError{Msg: "execution belongs to another user"}
		respondEngineError(w, err)
		return nil, err
	}
	return exec, nil
}

// stepOrder resolves the {stepId} path segment, which is either a 1-based
// step order or a StepExecution UUID.
func (h *Handlers) stepOrder(w http.ResponseWriter, r *http.Request, execID string) (int, bool) {
	ref := chi.URLParam(r, "stepId")
	if n, err := strconv.Atoi(ref); err == nil {
		return n, true
	}

	slots, err := h.Store.ListStepExecutions(r.Context(), execID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return 0, false
	}
	for i := range slots {
		if slots[i].ID == ref {
			return slots[i].StepOrder, true
		}
	}
	respondEngineError(w, &store.ErrNotFound{Entity: "step", Key: ref})
	return 0, false
}
