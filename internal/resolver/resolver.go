package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// canonicalSlugMax truncates the canonical id slug.
const canonicalSlugMax = 50

// MarketLister fetches the raw market listing from one venue.
type MarketLister interface {
	ListMarkets(ctx context.Context) ([]domain.VenueMarket, error)
}

// Index is the read-optimized view of all canonical mappings. It is
// rebuilt on every sync and swapped in atomically; readers never see a
// half-updated index.
type Index struct {
	byPolymarket map[string]domain.CanonicalMarket
	byKalshi     map[string]domain.CanonicalMarket
	all          []domain.CanonicalMarket
}

func buildIndex(mappings []domain.CanonicalMarket) *Index {
	idx := &Index{
		byPolymarket: make(map[string]domain.CanonicalMarket, len(mappings)),
		byKalshi:     make(map[string]domain.CanonicalMarket, len(mappings)),
		all:          mappings,
	}
	for _, m := range mappings {
		if m.PolymarketID != "" {
			idx.byPolymarket[m.PolymarketID] = m
		}
		if m.KalshiTicker != "" {
			idx.byKalshi[m.KalshiTicker] = m
		}
	}
	return idx
}

// Resolver pairs venue markets across exchanges and maintains the
// canonical mapping index.
type Resolver struct {
	polymarket MarketLister
	kalshi     MarketLister
	store      domain.MappingStore
	threshold  float64
	logger     *slog.Logger

	index atomic.Pointer[Index]

	// now is the wall clock, injectable for deterministic tests.
	now func() time.Time
}

// New creates a Resolver. threshold is the minimum composite similarity
// for a pairing.
func New(polymarket, kalshi MarketLister, store domain.MappingStore, threshold float64, logger *slog.Logger) *Resolver {
	r := &Resolver{
		polymarket: polymarket,
		kalshi:     kalshi,
		store:      store,
		threshold:  threshold,
		logger:     logger.With(slog.String("component", "resolver")),
		now:        time.Now,
	}
	r.index.Store(buildIndex(nil))
	return r
}

// LoadIndex populates the in-memory index from persisted mappings. Called
// once at startup so detection works before the first sync completes.
func (r *Resolver) LoadIndex(ctx context.Context) error {
	mappings, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("resolver: load mappings: %w", err)
	}
	r.index.Store(buildIndex(mappings))
	r.logger.Info("mapping index loaded", slog.Int("mappings", len(mappings)))
	return nil
}

// ByVenueMarket resolves a venue market id to its canonical mapping.
func (r *Resolver) ByVenueMarket(v domain.Venue, marketID string) (domain.CanonicalMarket, bool) {
	idx := r.index.Load()
	if v == domain.VenuePolymarket {
		m, ok := idx.byPolymarket[marketID]
		return m, ok
	}
	m, ok := idx.byKalshi[marketID]
	return m, ok
}

// Mappings returns all known canonical mappings.
func (r *Resolver) Mappings() []domain.CanonicalMarket {
	return r.index.Load().all
}

// Sync fetches both market listings, pairs matching markets greedily
// one-to-one, persists the resulting mappings, and swaps in a fresh index.
// It returns the number of paired markets. When either listing cannot be
// fetched the sync fails and the prior index stays in effect.
func (r *Resolver) Sync(ctx context.Context) (int, error) {
	polyMarkets, err := r.polymarket.ListMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolver: polymarket listing: %w", err)
	}
	kalshiMarkets, err := r.kalshi.ListMarkets(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolver: kalshi listing: %w", err)
	}

	pairs := r.match(polyMarkets, kalshiMarkets)

	for _, m := range pairs {
		if err := r.store.Upsert(ctx, m); err != nil {
			r.logger.Warn("mapping upsert failed",
				slog.String("canonical_id", m.CanonicalID),
				slog.String("error", err.Error()),
			)
		}
	}

	// Rebuild the full index from the store so mappings from earlier syncs
	// survive (mappings are never deleted in-engine).
	mappings, err := r.store.List(ctx)
	if err != nil {
		return len(pairs), fmt.Errorf("resolver: reload mappings: %w", err)
	}
	r.index.Store(buildIndex(mappings))

	r.logger.Info("market sync complete",
		slog.Int("polymarket_markets", len(polyMarkets)),
		slog.Int("kalshi_markets", len(kalshiMarkets)),
		slog.Int("paired", len(pairs)),
	)
	return len(pairs), nil
}

// match runs the greedy one-to-one pairing: for each Polymarket market,
// the single highest-scoring unmatched Kalshi market at or above the
// threshold wins (first maximum on ties), and is removed from the pool.
func (r *Resolver) match(polyMarkets, kalshiMarkets []domain.VenueMarket) []domain.CanonicalMarket {
	kalshiNorm := make([]Normalized, len(kalshiMarkets))
	for i, m := range kalshiMarkets {
		kalshiNorm[i] = Normalize(m.Title, m.Description)
	}
	taken := make([]bool, len(kalshiMarkets))

	prior := r.index.Load()
	var out []domain.CanonicalMarket

	for _, pm := range polyMarkets {
		pn := Normalize(pm.Title, pm.Description)

		bestIdx := -1
		bestScore := 0.0
		for i := range kalshiMarkets {
			if taken[i] {
				continue
			}
			score := Similarity(pn, kalshiNorm[i])
			if score >= r.threshold && score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx < 0 {
			continue
		}
		taken[bestIdx] = true
		km := kalshiMarkets[bestIdx]

		mapping := domain.CanonicalMarket{
			CanonicalID:     r.canonicalID(prior, pm, km, pn, kalshiNorm[bestIdx]),
			Title:           shorterTitle(pm.Title, km.Title),
			PolymarketID:    pm.MarketID,
			KalshiTicker:    km.MarketID,
			SimilarityScore: bestScore,
			Confidence:      domain.ConfidenceFor(bestScore),
		}
		out = append(out, mapping)
	}
	return out
}

// canonicalID reuses the prior canonical id when either venue market was
// already mapped, so re-running a sync updates the existing record instead
// of minting a duplicate identity. New pairs get a slug of the shorter
// side's normalized title plus a wall-clock collision breaker.
func (r *Resolver) canonicalID(prior *Index, pm, km domain.VenueMarket, pn, kn Normalized) string {
	if m, ok := prior.byPolymarket[pm.MarketID]; ok {
		return m.CanonicalID
	}
	if m, ok := prior.byKalshi[km.MarketID]; ok {
		return m.CanonicalID
	}

	title := pn.Title
	if len(kn.Title) < len(pn.Title) {
		title = kn.Title
	}
	slug := strings.ReplaceAll(title, " ", "-")
	if len(slug) > canonicalSlugMax {
		slug = slug[:canonicalSlugMax]
	}
	return slug + "-" + strconv.FormatInt(r.now().UnixMilli(), 10)
}

func shorterTitle(a, b string) string {
	if len(b) < len(a) {
		return b
	}
	return a
}
