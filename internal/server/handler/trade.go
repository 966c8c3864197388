package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// TradeHandler serves trade listing endpoints.
type TradeHandler struct {
	store  domain.TradeStore
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(store domain.TradeStore, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{store: store, logger: logger}
}

// ListRecent returns recent trades, newest first.
// GET /api/trades?limit=N
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	trades, err := h.store.ListRecent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.Error("list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "DATASTORE_ERROR", "failed to list trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}
