package detector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/events"
)

// fakeIndex serves a single canonical mapping.
type fakeIndex struct {
	mapping domain.CanonicalMarket
}

func (f *fakeIndex) ByVenueMarket(v domain.Venue, id string) (domain.CanonicalMarket, bool) {
	if (v == domain.VenuePolymarket && id == f.mapping.PolymarketID) ||
		(v == domain.VenueKalshi && id == f.mapping.KalshiTicker) {
		return f.mapping, true
	}
	return domain.CanonicalMarket{}, false
}

func (f *fakeIndex) Mappings() []domain.CanonicalMarket {
	return []domain.CanonicalMarket{f.mapping}
}

// memOppStore records inserted opportunities.
type memOppStore struct {
	mu   sync.Mutex
	opps []domain.Opportunity
}

func (s *memOppStore) Insert(_ context.Context, o domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps = append(s.opps, o)
	return nil
}

func (s *memOppStore) GetByID(context.Context, string) (domain.Opportunity, error) {
	return domain.Opportunity{}, domain.ErrNotFound
}
func (s *memOppStore) TransitionStatus(context.Context, string, domain.OpportunityStatus, domain.OpportunityStatus) error {
	return nil
}
func (s *memOppStore) SetStatus(context.Context, string, domain.OpportunityStatus) error {
	return nil
}
func (s *memOppStore) ListRecent(context.Context, domain.ListOpts) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *memOppStore) ListActive(context.Context) ([]domain.Opportunity, error) { return nil, nil }
func (s *memOppStore) ListAged(context.Context, int64) ([]domain.Opportunity, error) {
	return nil, nil
}

func testConfig() Config {
	return Config{
		Threshold:       0.98,
		MinLiquidity:    1000,
		MaxPositionSize: 5000,
		PolyFeeRate:     0.02,
		KalshiFeeRate:   0.02,
	}
}

func testMapping() domain.CanonicalMarket {
	return domain.CanonicalMarket{
		CanonicalID:  "btc-100k-test",
		PolymarketID: "A1",
		KalshiTicker: "B1",
	}
}

func newTestDetector(cfg Config) (*Detector, *memOppStore) {
	store := &memOppStore{}
	d := New(cfg, &fakeIndex{mapping: testMapping()}, store, events.NewBus(), nil, slog.New(slog.DiscardHandler))
	seq := 0
	d.newID = func() string { seq++; return fmt.Sprintf("opp-%d", seq) }
	return d, store
}

// book builds a one-level-per-side book with the given best bid/ask and
// total depth split evenly across the two levels.
func book(venue domain.Venue, marketID string, bid, ask, depth float64) domain.OrderBook {
	return domain.OrderBook{
		Venue:     venue,
		MarketID:  marketID,
		Bids:      []domain.PriceLevel{{Price: bid, Size: depth / 2}},
		Asks:      []domain.PriceLevel{{Price: ask, Size: depth / 2}},
		Timestamp: time.Now().UTC(),
	}
}

func drainOne(t *testing.T, d *Detector) domain.Opportunity {
	t.Helper()
	select {
	case opp := <-d.out:
		return opp
	default:
		t.Fatal("no opportunity emitted")
		return domain.Opportunity{}
	}
}

func assertNone(t *testing.T, d *Detector) {
	t.Helper()
	select {
	case opp := <-d.out:
		t.Fatalf("unexpected opportunity: %+v", opp)
	default:
	}
}

// S1: A mid 0.45 depth 2000, B mid 0.50 depth 3000 => cost 0.95, size
// 2000, fees 80, net profit 20.
func TestSimpleArbitrage(t *testing.T) {
	d, _ := newTestDetector(testConfig())

	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 2000))
	assertNone(t, d) // only one side present

	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	opp := drainOne(t, d)

	if opp.CombinedCost < 0.9499 || opp.CombinedCost > 0.9501 {
		t.Errorf("combined cost = %v, want 0.95", opp.CombinedCost)
	}
	if opp.Direction != domain.DirectionPolyYesKalshiNo {
		t.Errorf("direction = %v, want poly YES + kalshi NO", opp.Direction)
	}
	if opp.ProfitPotential < 0.0499 || opp.ProfitPotential > 0.0501 {
		t.Errorf("profit potential = %v, want 0.05", opp.ProfitPotential)
	}
	if opp.RecommendedSize != 2000 {
		t.Errorf("recommended size = %v, want 2000", opp.RecommendedSize)
	}
	if opp.EstimatedFees < 79.99 || opp.EstimatedFees > 80.01 {
		t.Errorf("estimated fees = %v, want 80", opp.EstimatedFees)
	}
	if opp.NetProfit < 19.99 || opp.NetProfit > 20.01 {
		t.Errorf("net profit = %v, want 20", opp.NetProfit)
	}
	if opp.Status != domain.OpportunityDetected {
		t.Errorf("status = %v", opp.Status)
	}
}

// S2: both mids at 0.50 => combined cost 1.00 >= threshold, no emission.
func TestNoArbitrageAtPar(t *testing.T) {
	d, _ := newTestDetector(testConfig())
	d.OnBook(book(domain.VenuePolymarket, "A1", 0.49, 0.51, 2000))
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	assertNone(t, d)
}

// S3: depth 500 each side => recommended size 500 < min liquidity 1000.
func TestInsufficientLiquidity(t *testing.T) {
	d, _ := newTestDetector(testConfig())
	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 500))
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 500))
	assertNone(t, d)
}

func TestCombinedCostExactlyThresholdRejected(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 0.95
	d, _ := newTestDetector(cfg)
	// cost computes to exactly 0.95; strict inequality requires rejection.
	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 2000))
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	assertNone(t, d)
}

func TestSizeExactlyMinLiquidityAdmitted(t *testing.T) {
	cfg := testConfig()
	cfg.MinLiquidity = 2000
	d, _ := newTestDetector(cfg)
	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 2000))
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	opp := drainOne(t, d)
	if opp.RecommendedSize != 2000 {
		t.Errorf("recommended size = %v, want 2000", opp.RecommendedSize)
	}
}

func TestEmptyBookNoOpportunity(t *testing.T) {
	d, _ := newTestDetector(testConfig())
	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 2000))
	d.OnBook(domain.OrderBook{Venue: domain.VenueKalshi, MarketID: "B1", Timestamp: time.Now()})
	assertNone(t, d)
}

func TestUnmappedMarketIgnored(t *testing.T) {
	d, _ := newTestDetector(testConfig())
	d.OnBook(book(domain.VenuePolymarket, "unknown", 0.44, 0.46, 2000))
	assertNone(t, d)
}

func TestMaxPositionCapsSize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPositionSize = 1500
	d, _ := newTestDetector(cfg)
	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 2000))
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	opp := drainOne(t, d)
	if opp.RecommendedSize != 1500 {
		t.Errorf("recommended size = %v, want 1500", opp.RecommendedSize)
	}
}

func TestDuplicateSuppression(t *testing.T) {
	d, _ := newTestDetector(testConfig())

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	d.now = func() time.Time { return now }

	d.OnBook(book(domain.VenuePolymarket, "A1", 0.44, 0.46, 2000))
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	drainOne(t, d)

	// Same prices a moment later: suppressed.
	now = base.Add(100 * time.Millisecond)
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	assertNone(t, d)

	// Cost moved by more than 0.0005: emitted.
	now = base.Add(200 * time.Millisecond)
	d.OnBook(book(domain.VenueKalshi, "B1", 0.50, 0.52, 3000))
	opp := drainOne(t, d)
	if opp.CombinedCost >= 0.95 {
		t.Errorf("expected cheaper cost, got %v", opp.CombinedCost)
	}

	// Unchanged cost but more than a second later: emitted.
	now = now.Add(1100 * time.Millisecond)
	d.OnBook(book(domain.VenueKalshi, "B1", 0.50, 0.52, 3000))
	drainOne(t, d)
}

func TestOpportunityInvariants(t *testing.T) {
	d, store := newTestDetector(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = d.Run(ctx); close(done) }()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	d.now = func() time.Time { return now }

	prices := []struct{ bid, ask float64 }{
		{0.44, 0.46}, {0.43, 0.45}, {0.42, 0.44}, {0.41, 0.43},
	}
	d.OnBook(book(domain.VenueKalshi, "B1", 0.49, 0.51, 3000))
	for i, p := range prices {
		now = base.Add(time.Duration(i+1) * 2 * time.Second)
		d.OnBook(book(domain.VenuePolymarket, "A1", p.bid, p.ask, 2000))
	}

	// Give the Run loop a moment to drain.
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.opps) == 0 {
		t.Fatal("no opportunities persisted")
	}
	var prev time.Time
	for _, o := range store.opps {
		if o.CombinedCost < 0 || o.CombinedCost >= 0.98 {
			t.Errorf("combined cost %v violates [0, threshold)", o.CombinedCost)
		}
		if o.RecommendedSize <= 0 || o.RecommendedSize > 5000 {
			t.Errorf("recommended size %v out of (0, max]", o.RecommendedSize)
		}
		if diff := o.ProfitPotential - (1 - o.CombinedCost); diff > 1e-12 || diff < -1e-12 {
			t.Errorf("profit potential %v != 1 - %v", o.ProfitPotential, o.CombinedCost)
		}
		if o.NetProfit <= 0 {
			t.Errorf("net profit %v not positive", o.NetProfit)
		}
		if o.DetectedAt.Before(prev) {
			t.Errorf("detected_at went backwards: %v < %v", o.DetectedAt, prev)
		}
		prev = o.DetectedAt
	}
}
