package kalshi

import (
	"log/slog"
	"testing"

	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/platform/backoff"
)

func newTestWS() *WSClient {
	return NewWSClient("wss://example.invalid/ws", "key", backoff.Default(), slog.New(slog.DiscardHandler))
}

func TestSubscribeIdempotentWhileDisconnected(t *testing.T) {
	w := newTestWS()

	if err := w.Subscribe("T1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := w.Subscribe("T1"); err != nil {
		t.Fatalf("second Subscribe: %v", err)
	}

	if subs := w.Subscriptions(); len(subs) != 1 || subs[0] != "T1" {
		t.Errorf("subscriptions = %v, want [T1]", subs)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	w := newTestWS()
	_ = w.Subscribe("T1")

	if err := w.Unsubscribe("T1"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := w.Unsubscribe("T1"); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
	if subs := w.Subscriptions(); len(subs) != 0 {
		t.Errorf("subscriptions = %v, want empty", subs)
	}
}

func TestDisconnectClearsDesiredSet(t *testing.T) {
	w := newTestWS()
	_ = w.Subscribe("T1")
	_ = w.Subscribe("T2")

	w.Disconnect()

	if subs := w.Subscriptions(); len(subs) != 0 {
		t.Errorf("subscriptions after disconnect = %v, want empty", subs)
	}
	if w.CurrentState() != StateIdle {
		t.Errorf("state = %v, want idle", w.CurrentState())
	}
}

func TestHandleMessageRoutesAndDrops(t *testing.T) {
	w := newTestWS()

	var books []domain.OrderBook
	w.OnBook(func(b domain.OrderBook) { books = append(books, b) })

	// Malformed frames are dropped without disturbing anything.
	w.handleMessage([]byte(`not json`))
	w.handleMessage([]byte(`{"type":"orderbook_snapshot","msg":"nope"}`))
	if len(books) != 0 {
		t.Fatalf("malformed frames emitted %d books", len(books))
	}

	w.handleMessage([]byte(`{
		"type": "orderbook_snapshot",
		"msg": {"market_ticker": "T1", "yes": [[44, 500]], "no": [[54, 700]]}
	}`))
	if len(books) != 1 {
		t.Fatalf("snapshot emitted %d books, want 1", len(books))
	}
	if books[0].BestBid() != 0.44 || books[0].BestAsk() != 0.46 {
		t.Errorf("book = bid %v ask %v", books[0].BestBid(), books[0].BestAsk())
	}

	// A delta against the accumulated state emits the resolved book.
	w.handleMessage([]byte(`{
		"type": "orderbook_delta",
		"msg": {"market_ticker": "T1", "price": 44, "delta": -500, "side": "yes"}
	}`))
	if len(books) != 2 {
		t.Fatalf("delta emitted %d books, want 2", len(books))
	}
	if len(books[1].Bids) != 0 {
		t.Errorf("bids after drain = %v, want empty", books[1].Bids)
	}
}
