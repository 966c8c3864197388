package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbot/internal/config"
)

// ConfigHandler serves the read-only arbitrage parameter view and the
// auto-execute toggle.
type ConfigHandler struct {
	cfg     *config.Config
	runtime *config.Runtime
	logger  *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(cfg *config.Config, runtime *config.Runtime, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{cfg: cfg, runtime: runtime, logger: logger}
}

// Get returns the arbitrage parameters and the live auto-execute value.
// GET /api/config
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"arb_threshold":        h.cfg.Arbitrage.Threshold,
		"min_liquidity":        h.cfg.Arbitrage.MinLiquidity,
		"max_position_size":    h.cfg.Arbitrage.MaxPositionSize,
		"similarity_threshold": h.cfg.Arbitrage.SimilarityThreshold,
		"venue_a_fee_rate":     h.cfg.Polymarket.FeeRate,
		"venue_b_fee_rate":     h.cfg.Kalshi.FeeRate,
		"auto_execute":         h.runtime.AutoExecute(),
	})
}

// Update accepts exactly {"auto_execute": bool}; any other field is
// rejected — everything else is immutable after start.
// POST /api/config
func (h *ConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}

	autoExec, ok := raw["auto_execute"]
	if !ok || len(raw) != 1 {
		writeError(w, http.StatusBadRequest, "IMMUTABLE_FIELD", "only auto_execute is mutable")
		return
	}

	var v bool
	if err := json.Unmarshal(autoExec, &v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "auto_execute must be a boolean")
		return
	}

	h.runtime.SetAutoExecute(v)
	h.logger.Info("auto_execute updated", slog.Bool("auto_execute", v))
	writeJSON(w, http.StatusOK, map[string]any{"auto_execute": v})
}
