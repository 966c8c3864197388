package domain

import "time"

// TradeStatus tracks the lifecycle of one execution leg.
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeFilled    TradeStatus = "filled"
	TradeCancelled TradeStatus = "cancelled"
	TradeFailed    TradeStatus = "failed"
)

// Trade is one leg of a two-leg execution.
type Trade struct {
	ID            string
	OpportunityID string
	Venue         Venue
	MarketID      string
	Side          Outcome
	Amount        float64
	Price         float64
	OrderID       string // venue order id, empty until placement succeeds
	Status        TradeStatus
	ExecutedAt    *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
}

// Terminal reports whether the trade has reached a final state.
func (t Trade) Terminal() bool {
	return t.Status == TradeFilled || t.Status == TradeCancelled || t.Status == TradeFailed
}
