package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbot/internal/config"
	"github.com/alanyoungcy/arbot/internal/domain"
)

// ExecutionRunner is the slice of the coordinator the handlers drive.
type ExecutionRunner interface {
	Execute(ctx context.Context, opportunityID string) (domain.ExecutionResult, error)
	CancelExecution(ctx context.Context, opportunityID string) error
}

// OpportunityHandler serves opportunity listing and execution endpoints.
type OpportunityHandler struct {
	store   domain.OpportunityStore
	runner  ExecutionRunner
	runtime *config.Runtime
	logger  *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. runner may be nil in
// server-only mode; execution endpoints then answer 503.
func NewOpportunityHandler(store domain.OpportunityStore, runner ExecutionRunner, runtime *config.Runtime, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{store: store, runner: runner, runtime: runtime, logger: logger}
}

// ListRecent returns recent opportunities, newest first.
// GET /api/opportunities?limit=N
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opps, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "DATASTORE_ERROR", "failed to list opportunities")
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

// ListActive returns opportunities in detected or executing status that
// have not expired.
// GET /api/opportunities/active
func (h *OpportunityHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	opps, err := h.store.ListActive(r.Context())
	if err != nil {
		h.logger.Error("list active opportunities failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "DATASTORE_ERROR", "failed to list opportunities")
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

// Execute runs the two-leg coordinator for one opportunity. Manual
// execution is refused while auto-execute is off — the engine treats the
// flag as a global trading enable, not just an automation toggle.
// POST /api/execute/{id}
func (h *OpportunityHandler) Execute(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_EXECUTOR", "execution not available in this mode")
		return
	}
	if !h.runtime.AutoExecute() {
		writeError(w, http.StatusForbidden, "AUTO_EXECUTE_DISABLED", "auto-execute is disabled")
		return
	}

	id := r.PathValue("opportunity_id")
	result, err := h.runner.Execute(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrOpportunityNotActive):
			writeError(w, http.StatusNotFound, "NOT_ACTIVE", "opportunity not active")
		case errors.Is(err, domain.ErrDuplicateExecution):
			writeError(w, http.StatusConflict, "DUPLICATE_EXECUTION", "execution already in flight")
		case errors.Is(err, domain.ErrSizeLimitExceeded):
			writeError(w, http.StatusBadRequest, "SIZE_LIMIT_EXCEEDED", "recommended size exceeds position cap")
		case errors.Is(err, domain.ErrExecutionFailed):
			// The compensation branch ran; surface the structured result.
			writeJSON(w, http.StatusOK, result)
		default:
			h.logger.Error("execute failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "EXECUTION_ERROR", "execution failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Cancel cancels every pending leg and expires the opportunity.
// POST /api/execute/{id}/cancel
func (h *OpportunityHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_EXECUTOR", "execution not available in this mode")
		return
	}

	id := r.PathValue("opportunity_id")
	if err := h.runner.CancelExecution(r.Context(), id); err != nil {
		h.logger.Error("cancel failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "CANCEL_ERROR", "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "execution cancelled"})
}
