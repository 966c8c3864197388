package domain

import "time"

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is the current full-book snapshot for one venue market. Bids are
// ordered descending by price, asks ascending. Each update replaces the
// previous snapshot atomically; delta resolution happens inside the venue
// client before the book reaches the rest of the engine.
type OrderBook struct {
	Venue     Venue
	MarketID  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid price, or 0 when the bid side is empty.
func (b OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 when the ask side is empty.
func (b OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}

// MidPrice returns the arithmetic mean of best bid and best ask. It returns
// 0 when either side is empty, which callers treat as "no quote".
func (b OrderBook) MidPrice() float64 {
	bid, ask := b.BestBid(), b.BestAsk()
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Depth returns total size across both sides of the book.
func (b OrderBook) Depth() float64 {
	var total float64
	for _, lvl := range b.Bids {
		total += lvl.Size
	}
	for _, lvl := range b.Asks {
		total += lvl.Size
	}
	return total
}

// Empty reports whether the book carries no levels at all.
func (b OrderBook) Empty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// BookKey identifies a book in the order book store.
type BookKey struct {
	Venue    Venue
	MarketID string
}
