package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// MarketSyncer is the slice of the resolver the handlers drive.
type MarketSyncer interface {
	Sync(ctx context.Context) (int, error)
}

// MappingsProvider serves the current canonical mapping view.
type MappingsProvider interface {
	Mappings() []domain.CanonicalMarket
}

// canonicalMappingView is the JSON shape of one mapping.
type canonicalMappingView struct {
	CanonicalID     string  `json:"canonical_id"`
	Title           string  `json:"title"`
	PolymarketID    string  `json:"polymarket_id,omitempty"`
	KalshiTicker    string  `json:"kalshi_ticker,omitempty"`
	SimilarityScore float64 `json:"similarity_score"`
	Confidence      string  `json:"confidence"`
}

// MarketHandler serves canonical mapping endpoints.
type MarketHandler struct {
	mappings MappingsProvider
	syncer   MarketSyncer
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler. syncer may be nil in
// server-only mode.
func NewMarketHandler(mappings MappingsProvider, syncer MarketSyncer, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{mappings: mappings, syncer: syncer, logger: logger}
}

// List returns every canonical mapping.
// GET /api/markets
func (h *MarketHandler) List(w http.ResponseWriter, r *http.Request) {
	mappings := h.mappings.Mappings()
	out := make([]canonicalMappingView, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, canonicalMappingView{
			CanonicalID:     m.CanonicalID,
			Title:           m.Title,
			PolymarketID:    m.PolymarketID,
			KalshiTicker:    m.KalshiTicker,
			SimilarityScore: m.SimilarityScore,
			Confidence:      string(m.Confidence),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// TriggerSync runs the resolver once.
// POST /api/markets/sync
func (h *MarketHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_SYNCER", "market sync not available in this mode")
		return
	}

	paired, err := h.syncer.Sync(r.Context())
	if err != nil {
		h.logger.Error("market sync failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "MATCHING_ERROR", "market sync failed; prior mappings remain in effect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "market sync complete",
		"paired":  paired,
	})
}
