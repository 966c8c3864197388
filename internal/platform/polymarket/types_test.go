package polymarket

import (
	"testing"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func TestToOrderBookParsesStrings(t *testing.T) {
	msg := wsBookMessage{
		EventType: "book",
		AssetID:   "token-1",
		Bids:      []wsBookLevel{{Price: "0.44", Size: "1000"}},
		Asks:      []wsBookLevel{{Price: "0.46", Size: "1000"}},
		Timestamp: "1717243200000",
	}

	book, err := msg.toOrderBook()
	if err != nil {
		t.Fatalf("toOrderBook: %v", err)
	}
	if book.Venue != domain.VenuePolymarket || book.MarketID != "token-1" {
		t.Errorf("identity = %v %v", book.Venue, book.MarketID)
	}
	if book.BestBid() != 0.44 || book.BestAsk() != 0.46 {
		t.Errorf("bbo = %v / %v", book.BestBid(), book.BestAsk())
	}
	if book.MidPrice() != 0.45 {
		t.Errorf("mid = %v, want 0.45", book.MidPrice())
	}
	if book.Depth() != 2000 {
		t.Errorf("depth = %v, want 2000", book.Depth())
	}
	if book.Timestamp.UnixMilli() != 1717243200000 {
		t.Errorf("timestamp = %v", book.Timestamp)
	}
}

func TestToOrderBookRejectsBadLevels(t *testing.T) {
	cases := []wsBookMessage{
		{AssetID: "t", Bids: []wsBookLevel{{Price: "abc", Size: "1"}}},
		{AssetID: "t", Bids: []wsBookLevel{{Price: "1.5", Size: "1"}}},
		{AssetID: "t", Asks: []wsBookLevel{{Price: "0.5", Size: "-3"}}},
		{}, // no asset id at all
	}
	for i, msg := range cases {
		if _, err := msg.toOrderBook(); err == nil {
			t.Errorf("case %d: malformed message accepted", i)
		}
	}
}

func TestHandleMessageBatchAndDrop(t *testing.T) {
	w := newTestWS()

	var books []domain.OrderBook
	w.OnBook(func(b domain.OrderBook) { books = append(books, b) })

	// Malformed frame: dropped silently.
	w.handleMessage([]byte(`{broken`))

	// Batched frame with one book event and one irrelevant event.
	w.handleMessage([]byte(`[
		{"event_type":"book","asset_id":"t1",
		 "bids":[{"price":"0.44","size":"500"}],
		 "asks":[{"price":"0.46","size":"500"}],
		 "timestamp":"1717243200000"},
		{"event_type":"price_change","asset_id":"t1"}
	]`))

	if len(books) != 1 {
		t.Fatalf("emitted %d books, want 1", len(books))
	}
	if books[0].MarketID != "t1" || books[0].MidPrice() != 0.45 {
		t.Errorf("book = %+v", books[0])
	}
}

func TestMarketTokenResolution(t *testing.T) {
	m := APIMarket{
		ConditionID: "c1",
		Question:    "Will it rain?",
		Tokens: []struct {
			TokenID string `json:"token_id"`
			Outcome string `json:"outcome"`
		}{
			{TokenID: "yes-token", Outcome: "Yes"},
			{TokenID: "no-token", Outcome: "No"},
		},
	}
	if m.yesTokenID() != "yes-token" {
		t.Errorf("yes token = %q", m.yesTokenID())
	}
	if m.tokenFor(domain.OutcomeNo) != "no-token" {
		t.Errorf("no token = %q", m.tokenFor(domain.OutcomeNo))
	}
}
