// Package books holds the in-memory order book store: the current snapshot
// per (venue, market id). Each key has a single writer — the venue client
// that owns the stream — and any number of readers.
package books

import (
	"sync"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// Store maps (venue, market id) to the latest order book snapshot.
type Store struct {
	mu    sync.RWMutex
	books map[domain.BookKey]domain.OrderBook
}

func NewStore() *Store {
	return &Store{books: make(map[domain.BookKey]domain.OrderBook)}
}

// Put replaces the snapshot for the book's key.
func (s *Store) Put(book domain.OrderBook) {
	key := domain.BookKey{Venue: book.Venue, MarketID: book.MarketID}
	s.mu.Lock()
	s.books[key] = book
	s.mu.Unlock()
}

// Get returns the snapshot for the key. Unknown keys return ok=false, not
// an error.
func (s *Store) Get(key domain.BookKey) (domain.OrderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[key]
	return book, ok
}

// Len returns the number of tracked books.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}
