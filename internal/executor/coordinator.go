// Package executor implements the two-leg execution coordinator: it places
// both legs of an arbitrage concurrently and compensates with a best-effort
// cancel when exactly one leg succeeds. Venues share no transaction, so
// all-or-nothing here is a protocol, not a guarantee.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/events"
)

// legTimeout bounds each venue RPC issued by the coordinator.
const legTimeout = 10 * time.Second

// MappingGetter resolves a canonical id to its venue market ids.
type MappingGetter interface {
	GetByCanonicalID(ctx context.Context, canonicalID string) (domain.CanonicalMarket, error)
}

// Coordinator owns execution state. The in-flight set is the guard against
// concurrent executions of the same opportunity; the detected→executing
// status transition in the store is the guard against a second process.
type Coordinator struct {
	opps     domain.OpportunityStore
	trades   domain.TradeStore
	mappings MappingGetter
	poly     domain.VenueTrader
	kalshi   domain.VenueTrader
	bus      *events.Bus
	signals  domain.SignalBus
	logger   *slog.Logger

	maxPositionSize float64

	mu       sync.Mutex
	inflight map[string]struct{}

	now   func() time.Time
	newID func() string
}

// New creates a Coordinator. signals may be nil.
func New(
	opps domain.OpportunityStore,
	trades domain.TradeStore,
	mappings MappingGetter,
	poly, kalshi domain.VenueTrader,
	bus *events.Bus,
	signals domain.SignalBus,
	maxPositionSize float64,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		opps:            opps,
		trades:          trades,
		mappings:        mappings,
		poly:            poly,
		kalshi:          kalshi,
		bus:             bus,
		signals:         signals,
		maxPositionSize: maxPositionSize,
		logger:          logger.With(slog.String("component", "coordinator")),
		inflight:        make(map[string]struct{}),
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
}

// legResult is one venue's placement outcome.
type legResult struct {
	venue    domain.Venue
	marketID string
	side     domain.Outcome
	price    float64
	result   domain.OrderResult
	err      error
}

// Execute runs the two-leg protocol for a detected opportunity.
func (c *Coordinator) Execute(ctx context.Context, opportunityID string) (domain.ExecutionResult, error) {
	opp, err := c.opps.GetByID(ctx, opportunityID)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: load opportunity: %w", err)
	}
	if opp.Status != domain.OpportunityDetected {
		return domain.ExecutionResult{}, fmt.Errorf("executor: opportunity %s is %s: %w",
			opportunityID, opp.Status, domain.ErrOpportunityNotActive)
	}
	if opp.RecommendedSize > c.maxPositionSize {
		return domain.ExecutionResult{}, fmt.Errorf("executor: size %v: %w",
			opp.RecommendedSize, domain.ErrSizeLimitExceeded)
	}

	// In-flight guard.
	c.mu.Lock()
	if _, busy := c.inflight[opportunityID]; busy {
		c.mu.Unlock()
		return domain.ExecutionResult{}, fmt.Errorf("executor: opportunity %s: %w",
			opportunityID, domain.ErrDuplicateExecution)
	}
	c.inflight[opportunityID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, opportunityID)
		c.mu.Unlock()
	}()

	// Store-side guard: only one writer wins detected→executing.
	if err := c.opps.TransitionStatus(ctx, opportunityID, domain.OpportunityDetected, domain.OpportunityExecuting); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("executor: claim opportunity: %w", err)
	}

	mapping, err := c.mappings.GetByCanonicalID(ctx, opp.CanonicalID)
	if err != nil || !mapping.Complete() {
		c.expire(ctx, opportunityID)
		return domain.ExecutionResult{}, fmt.Errorf("executor: resolve mapping %s: %w",
			opp.CanonicalID, domain.ErrNotFound)
	}

	legs := []legResult{
		{
			venue:    domain.VenuePolymarket,
			marketID: mapping.PolymarketID,
			side:     opp.Direction.PolySide(),
			price:    opp.LegPrice(domain.VenuePolymarket),
		},
		{
			venue:    domain.VenueKalshi,
			marketID: mapping.KalshiTicker,
			side:     opp.Direction.KalshiSide(),
			price:    opp.LegPrice(domain.VenueKalshi),
		},
	}

	for _, leg := range legs {
		if leg.price < 0 || leg.price > 1 {
			c.expire(ctx, opportunityID)
			return domain.ExecutionResult{}, fmt.Errorf("executor: leg price %v: %w",
				leg.price, domain.ErrInvalidOrder)
		}
	}

	// Both placements run concurrently; each carries its own timeout. A
	// failed leg must not cancel the other's context — the compensation
	// branch needs the real outcome of both.
	var wg sync.WaitGroup
	for i := range legs {
		wg.Add(1)
		go func(leg *legResult) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, legTimeout)
			defer cancel()
			leg.result, leg.err = c.trader(leg.venue).PlaceOrder(callCtx, domain.OrderRequest{
				MarketID: leg.marketID,
				Side:     leg.side,
				Size:     opp.RecommendedSize,
				Price:    leg.price,
			})
		}(&legs[i])
	}
	wg.Wait()

	return c.settle(ctx, opp, legs)
}

// settle translates the four outcome cases into trades, status moves, and
// events.
func (c *Coordinator) settle(ctx context.Context, opp domain.Opportunity, legs []legResult) (domain.ExecutionResult, error) {
	okCount := 0
	for _, leg := range legs {
		if leg.err == nil {
			okCount++
		}
	}

	switch okCount {
	case 2:
		trades := make([]domain.Trade, 0, 2)
		for _, leg := range legs {
			trades = append(trades, c.recordTrade(ctx, opp, leg, domain.TradePending, ""))
		}
		if err := c.opps.SetStatus(ctx, opp.ID, domain.OpportunityExecuted); err != nil {
			c.logger.Error("status update failed", slog.String("error", err.Error()))
		}
		result := domain.ExecutionResult{OpportunityID: opp.ID, Success: true, Trades: trades}
		c.publish(ctx, events.TypeExecutionSuccess, result)
		c.logger.Info("execution succeeded",
			slog.String("opportunity_id", opp.ID),
			slog.Float64("size", opp.RecommendedSize),
		)
		return result, nil

	case 1:
		// Compensation: cancel the successful leg best-effort, record the
		// outcome either way, then land in the terminal state.
		trades := make([]domain.Trade, 0, 2)
		for _, leg := range legs {
			if leg.err != nil {
				trades = append(trades, c.recordTrade(ctx, opp, leg, domain.TradeFailed, leg.err.Error()))
				continue
			}

			cancelCtx, cancel := context.WithTimeout(ctx, legTimeout)
			cancelErr := c.trader(leg.venue).CancelOrder(cancelCtx, leg.result.OrderID)
			cancel()

			if cancelErr != nil {
				c.logger.Error("compensation cancel failed",
					slog.String("venue", string(leg.venue)),
					slog.String("order_id", leg.result.OrderID),
					slog.String("error", cancelErr.Error()),
				)
				trades = append(trades, c.recordTrade(ctx, opp, leg, domain.TradeFailed,
					"compensation cancel failed: "+cancelErr.Error()))
			} else {
				trades = append(trades, c.recordTrade(ctx, opp, leg, domain.TradeCancelled, ""))
			}
		}
		c.expire(ctx, opp.ID)
		result := domain.ExecutionResult{
			OpportunityID: opp.ID,
			Trades:        trades,
			Error:         "one leg failed, compensated",
		}
		c.publish(ctx, events.TypeExecutionFailed, result)
		return result, fmt.Errorf("executor: %w: one leg failed", domain.ErrExecutionFailed)

	default:
		trades := make([]domain.Trade, 0, 2)
		for _, leg := range legs {
			trades = append(trades, c.recordTrade(ctx, opp, leg, domain.TradeFailed, leg.err.Error()))
		}
		c.expire(ctx, opp.ID)
		result := domain.ExecutionResult{
			OpportunityID: opp.ID,
			Trades:        trades,
			Error:         "both legs failed",
		}
		c.publish(ctx, events.TypeExecutionFailed, result)
		return result, fmt.Errorf("executor: %w: both legs failed", domain.ErrExecutionFailed)
	}
}

// recordTrade persists one leg with the given terminal-or-pending status
// and returns the row. Store failures are logged, not propagated: the
// execution outcome was already decided by the venue.
func (c *Coordinator) recordTrade(ctx context.Context, opp domain.Opportunity, leg legResult, status domain.TradeStatus, errMsg string) domain.Trade {
	now := c.now().UTC()
	trade := domain.Trade{
		ID:            c.newID(),
		OpportunityID: opp.ID,
		Venue:         leg.venue,
		MarketID:      leg.marketID,
		Side:          leg.side,
		Amount:        opp.RecommendedSize,
		Price:         leg.price,
		OrderID:       leg.result.OrderID,
		Status:        status,
		ErrorMessage:  errMsg,
		CreatedAt:     now,
	}
	if status == domain.TradeFilled {
		trade.ExecutedAt = &now
	}
	if err := c.trades.Insert(ctx, trade); err != nil {
		c.logger.Error("trade persist failed",
			slog.String("trade_id", trade.ID),
			slog.String("error", err.Error()),
		)
	}
	return trade
}

// CheckOrderStatuses reconciles every pending leg of the opportunity with
// its venue order status. Idempotent.
func (c *Coordinator) CheckOrderStatuses(ctx context.Context, opportunityID string) error {
	trades, err := c.trades.ListByOpportunity(ctx, opportunityID)
	if err != nil {
		return fmt.Errorf("executor: list trades: %w", err)
	}

	for _, t := range trades {
		if t.Status != domain.TradePending || t.OrderID == "" {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, legTimeout)
		status, err := c.trader(t.Venue).OrderStatus(callCtx, t.OrderID)
		cancel()
		if err != nil {
			c.logger.Warn("order status query failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch status {
		case domain.OrderStatusFilled:
			err = c.trades.UpdateStatus(ctx, t.ID, domain.TradeFilled, "")
		case domain.OrderStatusCancelled:
			err = c.trades.UpdateStatus(ctx, t.ID, domain.TradeCancelled, "")
		case domain.OrderStatusRejected:
			err = c.trades.UpdateStatus(ctx, t.ID, domain.TradeFailed, "rejected by venue")
		default:
			// Still open; leave pending.
		}
		if err != nil {
			c.logger.Warn("trade status update failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// CancelExecution cancels every pending leg and expires the opportunity.
// Calling it twice leaves the store in the same state as one call.
func (c *Coordinator) CancelExecution(ctx context.Context, opportunityID string) error {
	trades, err := c.trades.ListByOpportunity(ctx, opportunityID)
	if err != nil {
		return fmt.Errorf("executor: list trades: %w", err)
	}

	for _, t := range trades {
		if t.Status != domain.TradePending || t.OrderID == "" {
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, legTimeout)
		cancelErr := c.trader(t.Venue).CancelOrder(callCtx, t.OrderID)
		cancel()

		if cancelErr != nil {
			c.logger.Warn("cancel failed",
				slog.String("trade_id", t.ID),
				slog.String("error", cancelErr.Error()),
			)
			if err := c.trades.UpdateStatus(ctx, t.ID, domain.TradeFailed, "cancel failed: "+cancelErr.Error()); err != nil {
				c.logger.Warn("trade status update failed", slog.String("error", err.Error()))
			}
			continue
		}
		if err := c.trades.UpdateStatus(ctx, t.ID, domain.TradeCancelled, ""); err != nil {
			c.logger.Warn("trade status update failed", slog.String("error", err.Error()))
		}
	}

	c.expire(ctx, opportunityID)
	return nil
}

// InFlight reports whether the opportunity is currently executing.
func (c *Coordinator) InFlight(opportunityID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, busy := c.inflight[opportunityID]
	return busy
}

func (c *Coordinator) trader(v domain.Venue) domain.VenueTrader {
	if v == domain.VenuePolymarket {
		return c.poly
	}
	return c.kalshi
}

func (c *Coordinator) expire(ctx context.Context, opportunityID string) {
	if err := c.opps.SetStatus(ctx, opportunityID, domain.OpportunityExpired); err != nil {
		c.logger.Error("expire failed",
			slog.String("opportunity_id", opportunityID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, t events.Type, result domain.ExecutionResult) {
	c.bus.Publish(events.Event{Type: t, Payload: result})

	if c.signals == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type": string(t),
		"data": result,
	})
	if err != nil {
		return
	}
	if err := c.signals.Publish(ctx, "ch:execution", payload); err != nil {
		c.logger.Warn("execution fan-out failed", slog.String("error", err.Error()))
	}
}
