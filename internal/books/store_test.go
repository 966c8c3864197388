package books

import (
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

func sample(venue domain.Venue, marketID string, bid float64) domain.OrderBook {
	return domain.OrderBook{
		Venue:     venue,
		MarketID:  marketID,
		Bids:      []domain.PriceLevel{{Price: bid, Size: 100}},
		Asks:      []domain.PriceLevel{{Price: bid + 0.02, Size: 100}},
		Timestamp: time.Now().UTC(),
	}
}

func TestPutReplacesSnapshot(t *testing.T) {
	s := NewStore()

	s.Put(sample(domain.VenuePolymarket, "m1", 0.40))
	s.Put(sample(domain.VenuePolymarket, "m1", 0.45))

	book, ok := s.Get(domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "m1"})
	if !ok {
		t.Fatal("book missing")
	}
	if book.BestBid() != 0.45 {
		t.Errorf("best bid = %v, want latest write 0.45", book.BestBid())
	}
	if s.Len() != 1 {
		t.Errorf("len = %d, want 1", s.Len())
	}
}

func TestUnknownKeyIsAbsentNotError(t *testing.T) {
	s := NewStore()
	if _, ok := s.Get(domain.BookKey{Venue: domain.VenueKalshi, MarketID: "nope"}); ok {
		t.Error("unknown key reported present")
	}
}

func TestVenuesAreSeparateKeys(t *testing.T) {
	s := NewStore()
	s.Put(sample(domain.VenuePolymarket, "m1", 0.40))
	s.Put(sample(domain.VenueKalshi, "m1", 0.60))

	poly, _ := s.Get(domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "m1"})
	kalshi, _ := s.Get(domain.BookKey{Venue: domain.VenueKalshi, MarketID: "m1"})
	if poly.BestBid() == kalshi.BestBid() {
		t.Error("venue keys collided")
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := NewStore()
	key := domain.BookKey{Venue: domain.VenuePolymarket, MarketID: "m1"}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s.Put(sample(domain.VenuePolymarket, "m1", 0.40))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if book, ok := s.Get(key); ok && book.Empty() {
				t.Error("reader observed half-written book")
				return
			}
		}
	}()
	wg.Wait()
}
