package kalshi

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func TestPriceLevelDecodesPairForm(t *testing.T) {
	var lvl KalshiPriceLevel
	if err := json.Unmarshal([]byte(`[45, 1200]`), &lvl); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if lvl.Price != 45 || lvl.Quantity != 1200 {
		t.Errorf("level = %+v", lvl)
	}
}

func TestBookStateSnapshotNormalizes(t *testing.T) {
	st := newBookState()
	st.applySnapshot(KalshiWSSnapshot{
		Ticker: "T1",
		Yes:    []KalshiPriceLevel{{Price: 44, Quantity: 500}, {Price: 43, Quantity: 300}},
		No:     []KalshiPriceLevel{{Price: 54, Quantity: 700}},
	})

	ts := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	book := st.toOrderBook("T1", ts)

	if book.Venue != domain.VenueKalshi || book.MarketID != "T1" {
		t.Fatalf("book identity = %v %v", book.Venue, book.MarketID)
	}
	// YES resting buys become bids, best (highest) first.
	if book.BestBid() != 0.44 {
		t.Errorf("best bid = %v, want 0.44", book.BestBid())
	}
	// A NO resting buy at 54c is a YES offer at 46c.
	if book.BestAsk() != 0.46 {
		t.Errorf("best ask = %v, want 0.46", book.BestAsk())
	}
	if book.Depth() != 1500 {
		t.Errorf("depth = %v, want 1500", book.Depth())
	}
}

func TestBookStateDeltaAddsAndRemoves(t *testing.T) {
	st := newBookState()
	st.applySnapshot(KalshiWSSnapshot{
		Ticker: "T1",
		Yes:    []KalshiPriceLevel{{Price: 44, Quantity: 500}},
	})

	// Add quantity at a new level.
	st.applyDelta(KalshiWSDelta{Ticker: "T1", Price: 45, Delta: 200, Side: "yes"})
	// Drain the original level to zero.
	st.applyDelta(KalshiWSDelta{Ticker: "T1", Price: 44, Delta: -500, Side: "yes"})

	book := st.toOrderBook("T1", time.Now())
	if len(book.Bids) != 1 {
		t.Fatalf("bids = %v, want single level", book.Bids)
	}
	if book.BestBid() != 0.45 || book.Bids[0].Size != 200 {
		t.Errorf("bid = %+v", book.Bids[0])
	}
}

func TestBookStateSnapshotReplacesState(t *testing.T) {
	st := newBookState()
	st.applySnapshot(KalshiWSSnapshot{Ticker: "T1", Yes: []KalshiPriceLevel{{Price: 44, Quantity: 500}}})
	st.applySnapshot(KalshiWSSnapshot{Ticker: "T1", Yes: []KalshiPriceLevel{{Price: 40, Quantity: 100}}})

	book := st.toOrderBook("T1", time.Now())
	if len(book.Bids) != 1 || book.BestBid() != 0.40 {
		t.Errorf("snapshot did not replace prior state: %+v", book.Bids)
	}
}
