package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/events"
)

// --------------------------------------------------------------------------
// Fakes
// --------------------------------------------------------------------------

type memOppStore struct {
	mu   sync.Mutex
	opps map[string]domain.Opportunity
}

func newMemOppStore() *memOppStore {
	return &memOppStore{opps: make(map[string]domain.Opportunity)}
}

func (s *memOppStore) Insert(_ context.Context, o domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opps[o.ID] = o
	return nil
}

func (s *memOppStore) GetByID(_ context.Context, id string) (domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[id]
	if !ok {
		return domain.Opportunity{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOppStore) TransitionStatus(_ context.Context, id string, from, to domain.OpportunityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != from {
		return domain.ErrStatusTransitionDenied
	}
	o.Status = to
	s.opps[id] = o
	return nil
}

func (s *memOppStore) SetStatus(_ context.Context, id string, to domain.OpportunityStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.opps[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = to
	s.opps[id] = o
	return nil
}

func (s *memOppStore) ListRecent(context.Context, domain.ListOpts) ([]domain.Opportunity, error) {
	return nil, nil
}
func (s *memOppStore) ListActive(context.Context) ([]domain.Opportunity, error) { return nil, nil }
func (s *memOppStore) ListAged(context.Context, int64) ([]domain.Opportunity, error) {
	return nil, nil
}

func (s *memOppStore) status(id string) domain.OpportunityStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opps[id].Status
}

type memTradeStore struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
}

func newMemTradeStore() *memTradeStore {
	return &memTradeStore{trades: make(map[string]domain.Trade)}
}

func (s *memTradeStore) Insert(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[t.ID] = t
	return nil
}

func (s *memTradeStore) UpdateStatus(_ context.Context, id string, status domain.TradeStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}
	s.trades[id] = t
	return nil
}

func (s *memTradeStore) ListRecent(context.Context, domain.ListOpts) ([]domain.Trade, error) {
	return nil, nil
}

func (s *memTradeStore) ListByOpportunity(_ context.Context, oppID string) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if t.OpportunityID == oppID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memTradeStore) byOpp(oppID string) []domain.Trade {
	out, _ := s.ListByOpportunity(context.Background(), oppID)
	return out
}

type memMappings struct {
	mapping domain.CanonicalMarket
}

func (m *memMappings) GetByCanonicalID(context.Context, string) (domain.CanonicalMarket, error) {
	return m.mapping, nil
}

// fakeTrader scripts one venue's order behavior.
type fakeTrader struct {
	venue     domain.Venue
	placeErr  error
	orderID   string
	cancelErr error

	mu        sync.Mutex
	placed    []domain.OrderRequest
	cancelled []string
	statuses  map[string]domain.OrderStatus
}

func (f *fakeTrader) Venue() domain.Venue { return f.venue }

func (f *fakeTrader) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	return domain.OrderResult{OrderID: f.orderID, Status: domain.OrderStatusOpen}, nil
}

func (f *fakeTrader) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}

func (f *fakeTrader) OrderStatus(_ context.Context, orderID string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.statuses[orderID]; ok {
		return s, nil
	}
	return domain.OrderStatusOpen, nil
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func testOpportunity() domain.Opportunity {
	return domain.Opportunity{
		ID:              "opp-1",
		CanonicalID:     "btc-100k",
		Direction:       domain.DirectionPolyYesKalshiNo,
		CombinedCost:    0.95,
		ProfitPotential: 0.05,
		PolyYesPrice:    0.45,
		PolyNoPrice:     0.55,
		KalshiYesPrice:  0.50,
		KalshiNoPrice:   0.50,
		RecommendedSize: 2000,
		EstimatedFees:   80,
		NetProfit:       20,
		Status:          domain.OpportunityDetected,
		DetectedAt:      time.Now().UTC(),
	}
}

type harness struct {
	coord  *Coordinator
	opps   *memOppStore
	trades *memTradeStore
	poly   *fakeTrader
	kalshi *fakeTrader
	bus    *events.Bus

	failedEvents  []domain.ExecutionResult
	successEvents []domain.ExecutionResult
	eventMu       sync.Mutex
}

func newHarness(t *testing.T, poly, kalshi *fakeTrader) *harness {
	t.Helper()
	h := &harness{
		opps:   newMemOppStore(),
		trades: newMemTradeStore(),
		poly:   poly,
		kalshi: kalshi,
		bus:    events.NewBus(),
	}
	h.bus.Subscribe(events.TypeExecutionSuccess, func(e events.Event) error {
		h.eventMu.Lock()
		defer h.eventMu.Unlock()
		h.successEvents = append(h.successEvents, e.Payload.(domain.ExecutionResult))
		return nil
	})
	h.bus.Subscribe(events.TypeExecutionFailed, func(e events.Event) error {
		h.eventMu.Lock()
		defer h.eventMu.Unlock()
		h.failedEvents = append(h.failedEvents, e.Payload.(domain.ExecutionResult))
		return nil
	})

	mappings := &memMappings{mapping: domain.CanonicalMarket{
		CanonicalID:  "btc-100k",
		PolymarketID: "A1",
		KalshiTicker: "B1",
	}}

	h.coord = New(h.opps, h.trades, mappings, poly, kalshi, h.bus, nil, 5000, slog.New(slog.DiscardHandler))
	seq := 0
	h.coord.newID = func() string { seq++; return fmt.Sprintf("trade-%d", seq) }

	_ = h.opps.Insert(context.Background(), testOpportunity())
	return h
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

// S1 tail: both legs succeed, two pending trades with venue order ids,
// opportunity moves to executed.
func TestExecuteBothLegsSucceed(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1"},
		&fakeTrader{venue: domain.VenueKalshi, orderID: "OB1"},
	)

	result, err := h.coord.Execute(context.Background(), "opp-1")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatal("result not successful")
	}

	trades := h.trades.byOpp("opp-1")
	if len(trades) != 2 {
		t.Fatalf("%d trades persisted, want 2", len(trades))
	}
	venuesSeen := map[domain.Venue]bool{}
	for _, tr := range trades {
		if tr.Status != domain.TradePending {
			t.Errorf("trade %s status %v, want pending", tr.ID, tr.Status)
		}
		if tr.OrderID == "" {
			t.Errorf("trade %s missing order id", tr.ID)
		}
		if tr.Amount != 2000 {
			t.Errorf("trade %s amount %v", tr.ID, tr.Amount)
		}
		venuesSeen[tr.Venue] = true
	}
	if !venuesSeen[domain.VenuePolymarket] || !venuesSeen[domain.VenueKalshi] {
		t.Error("trades do not cover both venues")
	}

	if got := h.opps.status("opp-1"); got != domain.OpportunityExecuted {
		t.Errorf("opportunity status %v, want executed", got)
	}
	if len(h.successEvents) != 1 {
		t.Errorf("%d success events, want 1", len(h.successEvents))
	}

	// The chosen sides are complementary across venues.
	if h.poly.placed[0].Side != domain.OutcomeYes || h.kalshi.placed[0].Side != domain.OutcomeNo {
		t.Errorf("sides poly=%v kalshi=%v, want YES/NO", h.poly.placed[0].Side, h.kalshi.placed[0].Side)
	}
	// Detection-time prices are carried into the orders.
	if h.poly.placed[0].Price != 0.45 || h.kalshi.placed[0].Price != 0.50 {
		t.Errorf("prices poly=%v kalshi=%v", h.poly.placed[0].Price, h.kalshi.placed[0].Price)
	}
}

// S4: venue A succeeds with OA1, venue B fails. The coordinator cancels
// OA1, records the outcome, expires the opportunity, and reports failure.
func TestExecutePartialFailureCompensates(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1"},
		&fakeTrader{venue: domain.VenueKalshi, placeErr: errors.New("insufficient balance")},
	)

	result, err := h.coord.Execute(context.Background(), "opp-1")
	if !errors.Is(err, domain.ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if result.Success {
		t.Fatal("result reported success")
	}

	if len(h.poly.cancelled) != 1 || h.poly.cancelled[0] != "OA1" {
		t.Errorf("cancel calls = %v, want [OA1]", h.poly.cancelled)
	}

	if got := h.opps.status("opp-1"); got != domain.OpportunityExpired {
		t.Errorf("opportunity status %v, want expired", got)
	}
	if len(h.failedEvents) != 1 {
		t.Errorf("%d failed events, want 1", len(h.failedEvents))
	}

	// Invariant: no trade stays pending on a venue where a leg was placed.
	for _, tr := range h.trades.byOpp("opp-1") {
		if tr.Status == domain.TradePending {
			t.Errorf("trade %s left pending", tr.ID)
		}
		if tr.Venue == domain.VenuePolymarket && tr.Status != domain.TradeCancelled {
			t.Errorf("poly trade status %v, want cancelled", tr.Status)
		}
		if tr.Venue == domain.VenueKalshi && tr.Status != domain.TradeFailed {
			t.Errorf("kalshi trade status %v, want failed", tr.Status)
		}
	}
}

func TestExecuteCompensationCancelFailureRecorded(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1", cancelErr: errors.New("too late")},
		&fakeTrader{venue: domain.VenueKalshi, placeErr: errors.New("rejected")},
	)

	_, err := h.coord.Execute(context.Background(), "opp-1")
	if !errors.Is(err, domain.ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}

	// Still terminal despite the failed cancel, with the error recorded.
	if got := h.opps.status("opp-1"); got != domain.OpportunityExpired {
		t.Errorf("opportunity status %v, want expired", got)
	}
	for _, tr := range h.trades.byOpp("opp-1") {
		if tr.Venue != domain.VenuePolymarket {
			continue
		}
		if tr.Status != domain.TradeFailed || tr.ErrorMessage == "" {
			t.Errorf("poly trade = %v %q, want failed with recorded error", tr.Status, tr.ErrorMessage)
		}
	}
}

func TestExecuteBothLegsFail(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, placeErr: errors.New("down")},
		&fakeTrader{venue: domain.VenueKalshi, placeErr: errors.New("down")},
	)

	_, err := h.coord.Execute(context.Background(), "opp-1")
	if !errors.Is(err, domain.ErrExecutionFailed) {
		t.Fatalf("err = %v, want ErrExecutionFailed", err)
	}
	if got := h.opps.status("opp-1"); got != domain.OpportunityExpired {
		t.Errorf("opportunity status %v, want expired", got)
	}
	if len(h.poly.cancelled)+len(h.kalshi.cancelled) != 0 {
		t.Error("nothing to compensate when both legs fail")
	}
}

func TestExecuteRejectsNonDetected(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1"},
		&fakeTrader{venue: domain.VenueKalshi, orderID: "OB1"},
	)
	_ = h.opps.SetStatus(context.Background(), "opp-1", domain.OpportunityExecuted)

	_, err := h.coord.Execute(context.Background(), "opp-1")
	if !errors.Is(err, domain.ErrOpportunityNotActive) {
		t.Fatalf("err = %v, want ErrOpportunityNotActive", err)
	}
}

func TestExecuteRejectsOversize(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1"},
		&fakeTrader{venue: domain.VenueKalshi, orderID: "OB1"},
	)
	opp := testOpportunity()
	opp.RecommendedSize = 10000 // above the 5000 cap
	_ = h.opps.Insert(context.Background(), opp)

	_, err := h.coord.Execute(context.Background(), "opp-1")
	if !errors.Is(err, domain.ErrSizeLimitExceeded) {
		t.Fatalf("err = %v, want ErrSizeLimitExceeded", err)
	}
}

// A second concurrent Execute for the same opportunity fails with
// DUPLICATE_EXECUTION while the first is still placing legs.
func TestExecuteDuplicateRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	slow := &slowTrader{
		fakeTrader: fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1"},
		started:    started,
		release:    release,
	}
	h := newHarness(t, nil, &fakeTrader{venue: domain.VenueKalshi, orderID: "OB1"})
	h.coord.poly = slow

	errCh := make(chan error, 1)
	go func() {
		_, err := h.coord.Execute(context.Background(), "opp-1")
		errCh <- err
	}()

	<-started
	_, err := h.coord.Execute(context.Background(), "opp-1")
	if !errors.Is(err, domain.ErrDuplicateExecution) && !errors.Is(err, domain.ErrOpportunityNotActive) {
		t.Fatalf("second execute err = %v, want duplicate/not-active", err)
	}
	close(release)

	if err := <-errCh; err != nil {
		t.Fatalf("first execute err = %v", err)
	}
}

type slowTrader struct {
	fakeTrader
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowTrader) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeTrader.PlaceOrder(ctx, req)
}

func TestCheckOrderStatusesReconciles(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1", statuses: map[string]domain.OrderStatus{"OA1": domain.OrderStatusFilled}},
		&fakeTrader{venue: domain.VenueKalshi, orderID: "OB1", statuses: map[string]domain.OrderStatus{"OB1": domain.OrderStatusOpen}},
	)

	if _, err := h.coord.Execute(context.Background(), "opp-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := h.coord.CheckOrderStatuses(context.Background(), "opp-1"); err != nil {
		t.Fatalf("CheckOrderStatuses: %v", err)
	}
	// Idempotent: run again.
	if err := h.coord.CheckOrderStatuses(context.Background(), "opp-1"); err != nil {
		t.Fatalf("CheckOrderStatuses (second): %v", err)
	}

	for _, tr := range h.trades.byOpp("opp-1") {
		switch tr.Venue {
		case domain.VenuePolymarket:
			if tr.Status != domain.TradeFilled {
				t.Errorf("poly trade %v, want filled", tr.Status)
			}
		case domain.VenueKalshi:
			if tr.Status != domain.TradePending {
				t.Errorf("kalshi trade %v, want still pending", tr.Status)
			}
		}
	}
}

func TestCancelExecutionIdempotent(t *testing.T) {
	h := newHarness(t,
		&fakeTrader{venue: domain.VenuePolymarket, orderID: "OA1"},
		&fakeTrader{venue: domain.VenueKalshi, orderID: "OB1"},
	)

	if _, err := h.coord.Execute(context.Background(), "opp-1"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if err := h.coord.CancelExecution(context.Background(), "opp-1"); err != nil {
		t.Fatalf("CancelExecution: %v", err)
	}
	firstTrades := h.trades.byOpp("opp-1")
	firstStatus := h.opps.status("opp-1")

	if err := h.coord.CancelExecution(context.Background(), "opp-1"); err != nil {
		t.Fatalf("CancelExecution (second): %v", err)
	}

	if firstStatus != domain.OpportunityExpired || h.opps.status("opp-1") != domain.OpportunityExpired {
		t.Error("opportunity not expired")
	}
	secondTrades := h.trades.byOpp("opp-1")
	if len(firstTrades) != len(secondTrades) {
		t.Fatal("trade count changed on second cancel")
	}
	for _, tr := range secondTrades {
		if tr.Status == domain.TradePending {
			t.Errorf("trade %s still pending after cancel", tr.ID)
		}
	}
	// Exactly one cancel per venue despite two calls.
	if len(h.poly.cancelled) != 1 || len(h.kalshi.cancelled) != 1 {
		t.Errorf("cancel counts poly=%d kalshi=%d, want 1 each", len(h.poly.cancelled), len(h.kalshi.cancelled))
	}
}
