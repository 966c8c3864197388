package polymarket

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the subscribe/unsubscribe message sent on the market channel.
type WSCommand struct {
	Type     string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// wsEnvelope is the minimal shape used to route incoming messages.
type wsEnvelope struct {
	EventType string `json:"event_type"`
}

// wsBookMessage is a full order book snapshot on the "book" channel. Prices
// and sizes arrive as decimal strings.
type wsBookMessage struct {
	EventType string        `json:"event_type"`
	AssetID   string        `json:"asset_id"`
	Market    string        `json:"market"`
	Bids      []wsBookLevel `json:"bids"`
	Asks      []wsBookLevel `json:"asks"`
	Timestamp string        `json:"timestamp"` // unix millis as string
}

type wsBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// toOrderBook normalizes a book message to the engine's representation.
// It fails on any level that does not parse, or on prices outside [0,1];
// the caller drops the whole message.
func (m wsBookMessage) toOrderBook() (domain.OrderBook, error) {
	book := domain.OrderBook{
		Venue:    domain.VenuePolymarket,
		MarketID: m.AssetID,
	}
	if book.MarketID == "" {
		book.MarketID = m.Market
	}
	if book.MarketID == "" {
		return domain.OrderBook{}, fmt.Errorf("book message without asset id")
	}

	var err error
	if book.Bids, err = parseLevels(m.Bids); err != nil {
		return domain.OrderBook{}, fmt.Errorf("bids: %w", err)
	}
	if book.Asks, err = parseLevels(m.Asks); err != nil {
		return domain.OrderBook{}, fmt.Errorf("asks: %w", err)
	}

	if ms, perr := strconv.ParseInt(m.Timestamp, 10, 64); perr == nil && ms > 0 {
		book.Timestamp = time.UnixMilli(ms)
	} else {
		book.Timestamp = time.Now().UTC()
	}
	return book, nil
}

func parseLevels(raw []wsBookLevel) ([]domain.PriceLevel, error) {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := strconv.ParseFloat(lvl.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", lvl.Price, err)
		}
		size, err := strconv.ParseFloat(lvl.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("size %q: %w", lvl.Size, err)
		}
		if price < 0 || price > 1 || size < 0 {
			return nil, fmt.Errorf("level out of range: price=%v size=%v", price, size)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels, nil
}

// --------------------------------------------------------------------------
// REST DTOs
// --------------------------------------------------------------------------

// APIMarket is a market as returned by the CLOB markets endpoint. Only the
// fields the engine consumes are decoded.
type APIMarket struct {
	ConditionID string `json:"condition_id"`
	Question    string `json:"question"`
	Description string `json:"description"`
	Active      bool   `json:"active"`
	Closed      bool   `json:"closed"`
	Tokens      []struct {
		TokenID string `json:"token_id"`
		Outcome string `json:"outcome"`
	} `json:"tokens"`
}

// marketsResponse is the paginated markets listing envelope.
type marketsResponse struct {
	Data       []APIMarket `json:"data"`
	NextCursor string      `json:"next_cursor"`
}

// postOrderResponse is the CLOB response after order submission.
type postOrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg,omitempty"`
	OrderID  string `json:"orderID,omitempty"`
	Status   string `json:"status,omitempty"`
}

// openOrderResponse is the CLOB response for a single order lookup.
type openOrderResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	OriginalSize string `json:"original_size"`
	SizeMatched  string `json:"size_matched"`
}

// yesTokenID extracts the YES token for a market, falling back to the first
// token when outcomes are not labelled.
func (m APIMarket) yesTokenID() string {
	for _, t := range m.Tokens {
		if t.Outcome == "Yes" || t.Outcome == "YES" {
			return t.TokenID
		}
	}
	if len(m.Tokens) > 0 {
		return m.Tokens[0].TokenID
	}
	return ""
}

// tokenFor returns the token id carrying the requested outcome.
func (m APIMarket) tokenFor(side domain.Outcome) string {
	want := "Yes"
	if side == domain.OutcomeNo {
		want = "No"
	}
	for _, t := range m.Tokens {
		if t.Outcome == want || t.Outcome == string(side) {
			return t.TokenID
		}
	}
	return ""
}

// decodeRaw is a helper for decoding a raw message into dst with a wrapped
// error, keeping call sites terse.
func decodeRaw(raw []byte, dst any, what string) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("polymarket: decode %s: %w", what, err)
	}
	return nil
}
