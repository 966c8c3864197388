// Package detector implements the real-time arbitrage detector. It fuses
// order books from both venues by canonical market id and evaluates the
// two complementary leg bundles on every update.
package detector

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/events"
)

const (
	// emitCostDelta is the minimum combined-cost change that re-emits an
	// opportunity for the same canonical market inside the emit window.
	emitCostDelta = 0.0005

	// emitInterval re-admits an emission after this much time regardless
	// of cost movement.
	emitInterval = 1 * time.Second

	// opportunityTTL is how long a detected opportunity stays executable.
	opportunityTTL = 30 * time.Second

	// outBuffer sizes the persist/publish queue. Opportunities are rare
	// relative to book updates; overflow drops with a warning.
	outBuffer = 256
)

// MappingIndex resolves venue market ids to canonical mappings.
type MappingIndex interface {
	ByVenueMarket(v domain.Venue, marketID string) (domain.CanonicalMarket, bool)
	Mappings() []domain.CanonicalMarket
}

// BookSubscriber is the slice of the venue client the detector drives
// during subscription bootstrap.
type BookSubscriber interface {
	Subscribe(marketID string) error
}

// Config carries the detection parameters.
type Config struct {
	Threshold       float64 // combined cost must be strictly below this
	MinLiquidity    float64
	MaxPositionSize float64
	PolyFeeRate     float64
	KalshiFeeRate   float64
}

// fusedState is the latest book per venue for one canonical market. Only
// the newest book per side is retained, so a slow evaluate coalesces
// intermediate updates instead of queueing them.
type fusedState struct {
	poly   *domain.OrderBook
	kalshi *domain.OrderBook
}

// emission records the last emitted opportunity per canonical market for
// duplicate suppression.
type emission struct {
	cost float64
	at   time.Time
}

// Detector consumes book updates, maintains fused per-canonical state,
// and emits persisted + published opportunities.
type Detector struct {
	cfg      Config
	mappings MappingIndex
	store    domain.OpportunityStore
	bus      *events.Bus
	signals  domain.SignalBus
	logger   *slog.Logger

	mu       sync.Mutex
	fused    map[string]*fusedState
	lastEmit map[string]emission

	out chan domain.Opportunity

	// clock and id generation, injectable for tests.
	now   func() time.Time
	newID func() string
}

// New creates a Detector. signals may be nil (no external fan-out).
func New(
	cfg Config,
	mappings MappingIndex,
	store domain.OpportunityStore,
	bus *events.Bus,
	signals domain.SignalBus,
	logger *slog.Logger,
) *Detector {
	return &Detector{
		cfg:      cfg,
		mappings: mappings,
		store:    store,
		bus:      bus,
		signals:  signals,
		logger:   logger.With(slog.String("component", "detector")),
		fused:    make(map[string]*fusedState),
		lastEmit: make(map[string]emission),
		out:      make(chan domain.Opportunity, outBuffer),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Bootstrap subscribes both venue clients to every complete canonical
// mapping. Called at start and after each market sync.
func (d *Detector) Bootstrap(poly, kalshi BookSubscriber) {
	count := 0
	for _, m := range d.mappings.Mappings() {
		if !m.Complete() {
			continue
		}
		if err := poly.Subscribe(m.PolymarketID); err != nil {
			d.logger.Warn("polymarket subscribe failed",
				slog.String("market_id", m.PolymarketID),
				slog.String("error", err.Error()),
			)
		}
		if err := kalshi.Subscribe(m.KalshiTicker); err != nil {
			d.logger.Warn("kalshi subscribe failed",
				slog.String("market_id", m.KalshiTicker),
				slog.String("error", err.Error()),
			)
		}
		count++
	}
	d.logger.Info("subscription bootstrap complete", slog.Int("pairs", count))
}

// OnBook ingests one normalized book update. It runs on the venue client's
// read goroutine, so per-market arrival order is preserved. Updates for
// markets with no canonical mapping are ignored.
func (d *Detector) OnBook(book domain.OrderBook) {
	mapping, ok := d.mappings.ByVenueMarket(book.Venue, book.MarketID)
	if !ok || !mapping.Complete() {
		return
	}

	d.mu.Lock()
	st, ok := d.fused[mapping.CanonicalID]
	if !ok {
		st = &fusedState{}
		d.fused[mapping.CanonicalID] = st
	}
	if book.Venue == domain.VenuePolymarket {
		st.poly = &book
	} else {
		st.kalshi = &book
	}

	if st.poly == nil || st.kalshi == nil {
		d.mu.Unlock()
		return
	}

	opp, found := d.evaluate(mapping.CanonicalID, *st.poly, *st.kalshi)
	if !found {
		d.mu.Unlock()
		return
	}

	// Duplicate suppression: emit only when the cost moved by more than
	// emitCostDelta or the emit window has elapsed.
	last, seen := d.lastEmit[mapping.CanonicalID]
	if seen {
		delta := opp.CombinedCost - last.cost
		if delta < 0 {
			delta = -delta
		}
		if delta <= emitCostDelta && opp.DetectedAt.Sub(last.at) <= emitInterval {
			d.mu.Unlock()
			return
		}
	}
	d.lastEmit[mapping.CanonicalID] = emission{cost: opp.CombinedCost, at: opp.DetectedAt}
	d.mu.Unlock()

	select {
	case d.out <- opp:
	default:
		d.logger.Warn("opportunity queue full, dropping",
			slog.String("canonical_id", opp.CanonicalID),
		)
	}
}

// evaluate derives prices, depth, and size for one canonical market and
// returns an opportunity when every guard passes. Caller holds d.mu.
func (d *Detector) evaluate(canonicalID string, poly, kalshi domain.OrderBook) (domain.Opportunity, bool) {
	if poly.Empty() || kalshi.Empty() {
		return domain.Opportunity{}, false
	}

	polyYes := poly.MidPrice()
	kalshiYes := kalshi.MidPrice()
	if polyYes <= 0 || kalshiYes <= 0 {
		return domain.Opportunity{}, false
	}
	// NO prices follow from binary-market complementarity.
	polyNo := 1 - polyYes
	kalshiNo := 1 - kalshiYes

	direction := domain.DirectionPolyYesKalshiNo
	combined := polyYes + kalshiNo
	if alt := polyNo + kalshiYes; alt < combined {
		direction = domain.DirectionPolyNoKalshiYes
		combined = alt
	}

	if combined >= d.cfg.Threshold {
		return domain.Opportunity{}, false
	}

	polyDepth := poly.Depth()
	kalshiDepth := kalshi.Depth()

	size := polyDepth
	if kalshiDepth < size {
		size = kalshiDepth
	}
	if d.cfg.MaxPositionSize < size {
		size = d.cfg.MaxPositionSize
	}
	if size < d.cfg.MinLiquidity {
		return domain.Opportunity{}, false
	}

	fees := size * (d.cfg.PolyFeeRate + d.cfg.KalshiFeeRate)
	gross := size * (1 - combined)
	net := gross - fees
	if net <= 0 {
		return domain.Opportunity{}, false
	}

	now := d.now().UTC()
	expires := now.Add(opportunityTTL)
	return domain.Opportunity{
		ID:              d.newID(),
		CanonicalID:     canonicalID,
		Direction:       direction,
		CombinedCost:    combined,
		ProfitPotential: 1 - combined,
		PolyYesPrice:    polyYes,
		PolyNoPrice:     polyNo,
		KalshiYesPrice:  kalshiYes,
		KalshiNoPrice:   kalshiNo,
		PolyLiquidity:   polyDepth,
		KalshiLiquidity: kalshiDepth,
		RecommendedSize: size,
		EstimatedFees:   fees,
		NetProfit:       net,
		Status:          domain.OpportunityDetected,
		DetectedAt:      now,
		ExpiresAt:       &expires,
	}, true
}

// Run persists and publishes queued opportunities until the context is
// cancelled. A store failure loses that opportunity but never stops the
// detector.
func (d *Detector) Run(ctx context.Context) error {
	d.logger.Info("detector started")
	defer d.logger.Info("detector stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case opp := <-d.out:
			d.emit(ctx, opp)
		}
	}
}

func (d *Detector) emit(ctx context.Context, opp domain.Opportunity) {
	if err := d.store.Insert(ctx, opp); err != nil {
		d.logger.Error("opportunity persist failed",
			slog.String("opportunity_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	d.logger.Info("arbitrage opportunity detected",
		slog.String("opportunity_id", opp.ID),
		slog.String("canonical_id", opp.CanonicalID),
		slog.String("direction", string(opp.Direction)),
		slog.Float64("combined_cost", opp.CombinedCost),
		slog.Float64("recommended_size", opp.RecommendedSize),
		slog.Float64("net_profit", opp.NetProfit),
	)

	d.bus.Publish(events.Event{Type: events.TypeOpportunity, Payload: opp})

	if d.signals != nil {
		payload, err := json.Marshal(map[string]any{
			"type": "arbitrage_opportunity",
			"data": opp,
		})
		if err == nil {
			if err := d.signals.Publish(ctx, "ch:opportunity", payload); err != nil {
				d.logger.Warn("opportunity fan-out failed", slog.String("error", err.Error()))
			}
		}
	}
}
