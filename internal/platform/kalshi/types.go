package kalshi

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// KalshiMarket represents a market as returned by the REST API. Prices are
// in cents (1-99).
type KalshiMarket struct {
	Ticker         string  `json:"ticker"`
	EventTicker    string  `json:"event_ticker"`
	Title          string  `json:"title"`
	Subtitle       string  `json:"subtitle"`
	Status         string  `json:"status"` // "open", "closed", "settled"
	YesBid         float64 `json:"yes_bid"`
	YesAsk         float64 `json:"yes_ask"`
	NoBid          float64 `json:"no_bid"`
	NoAsk          float64 `json:"no_ask"`
	Volume         int64   `json:"volume"`
	ExpirationTime string  `json:"expiration_time"`
	CloseTime      string  `json:"close_time"`
}

// KalshiOrder represents an order to be placed on the exchange.
type KalshiOrder struct {
	Ticker        string `json:"ticker"`
	ClientOrderID string `json:"client_order_id"`
	Action        string `json:"action"` // "buy" or "sell"
	Side          string `json:"side"`   // "yes" or "no"
	Type          string `json:"type"`   // "market" or "limit"
	Count         int64  `json:"count"`  // number of contracts
	YesPrice      *int64 `json:"yes_price,omitempty"` // limit price in cents
	NoPrice       *int64 `json:"no_price,omitempty"`  // limit price in cents
}

// KalshiOrderResponse represents the API response after placing an order.
type KalshiOrderResponse struct {
	Order struct {
		OrderID        string `json:"order_id"`
		Ticker         string `json:"ticker"`
		Status         string `json:"status"` // "resting", "canceled", "executed", "pending"
		Action         string `json:"action"`
		Side           string `json:"side"`
		RemainingCount int64  `json:"remaining_count"`
	} `json:"order"`
}

// KalshiErrorResponse represents an API error response.
type KalshiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// KalshiWSMessage is the envelope for websocket messages.
type KalshiWSMessage struct {
	Type string          `json:"type"` // "orderbook_snapshot", "orderbook_delta", "auth_success", ...
	Msg  json.RawMessage `json:"msg"`
	SID  int64           `json:"sid"`
}

// KalshiWSCommand is a command sent on the websocket.
type KalshiWSCommand struct {
	ID     int64                 `json:"id"`
	Cmd    string                `json:"cmd"` // "auth", "subscribe", "unsubscribe"
	Params KalshiWSCommandParams `json:"params"`
}

// KalshiWSCommandParams carries the parameters of a websocket command.
type KalshiWSCommandParams struct {
	ApiKey   string   `json:"api_key,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Tickers  []string `json:"market_tickers,omitempty"`
}

// KalshiPriceLevel is [price_cents, quantity] in snapshot arrays.
type KalshiPriceLevel struct {
	Price    int64
	Quantity int64
}

// UnmarshalJSON decodes the two-element array form the venue uses.
func (l *KalshiPriceLevel) UnmarshalJSON(data []byte) error {
	var pair [2]int64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	l.Price, l.Quantity = pair[0], pair[1]
	return nil
}

// KalshiWSSnapshot is a full orderbook snapshot message.
type KalshiWSSnapshot struct {
	Ticker string             `json:"market_ticker"`
	Yes    []KalshiPriceLevel `json:"yes"`
	No     []KalshiPriceLevel `json:"no"`
}

// KalshiWSDelta is an incremental level change.
type KalshiWSDelta struct {
	Ticker string `json:"market_ticker"`
	Price  int64  `json:"price"`
	Delta  int64  `json:"delta"`
	Side   string `json:"side"` // "yes" or "no"
}

// --------------------------------------------------------------------------
// Delta-resolved book state
// --------------------------------------------------------------------------

// bookState accumulates snapshot+delta messages for one ticker so the rest
// of the engine only ever sees full books. Quantities are keyed by price in
// cents per side.
type bookState struct {
	yes map[int64]int64
	no  map[int64]int64
}

func newBookState() *bookState {
	return &bookState{yes: make(map[int64]int64), no: make(map[int64]int64)}
}

func (b *bookState) applySnapshot(s KalshiWSSnapshot) {
	b.yes = make(map[int64]int64, len(s.Yes))
	for _, lvl := range s.Yes {
		if lvl.Quantity > 0 {
			b.yes[lvl.Price] = lvl.Quantity
		}
	}
	b.no = make(map[int64]int64, len(s.No))
	for _, lvl := range s.No {
		if lvl.Quantity > 0 {
			b.no[lvl.Price] = lvl.Quantity
		}
	}
}

func (b *bookState) applyDelta(d KalshiWSDelta) {
	side := b.yes
	if d.Side == "no" {
		side = b.no
	}
	q := side[d.Price] + d.Delta
	if q <= 0 {
		delete(side, d.Price)
	} else {
		side[d.Price] = q
	}
}

// toOrderBook renders the accumulated state as a normalized YES-side book:
// resting YES buys become bids; resting NO buys at price p are equivalent
// to YES offers at 100-p and become asks.
func (b *bookState) toOrderBook(ticker string, ts time.Time) domain.OrderBook {
	bids := make([]domain.PriceLevel, 0, len(b.yes))
	for price, qty := range b.yes {
		bids = append(bids, domain.PriceLevel{Price: float64(price) / 100, Size: float64(qty)})
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })

	asks := make([]domain.PriceLevel, 0, len(b.no))
	for price, qty := range b.no {
		asks = append(asks, domain.PriceLevel{Price: float64(100-price) / 100, Size: float64(qty)})
	}
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	return domain.OrderBook{
		Venue:     domain.VenueKalshi,
		MarketID:  ticker,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
}
