package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// bookTTL expires mirrored snapshots that stop receiving updates, so
// dashboards never render books from a dead stream.
const bookTTL = 5 * time.Minute

// BookCache mirrors accepted order book snapshots into Redis for
// out-of-process readers. The in-memory store stays authoritative; this
// mirror is advisory.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(key domain.BookKey) string {
	return "book:" + string(key.Venue) + ":" + key.MarketID
}

// snapshotJSON is the wire form of a mirrored book.
type snapshotJSON struct {
	Venue     string              `json:"venue"`
	MarketID  string              `json:"market_id"`
	Bids      []domain.PriceLevel `json:"bids"`
	Asks      []domain.PriceLevel `json:"asks"`
	Timestamp time.Time           `json:"timestamp"`
}

// SetSnapshot replaces the mirrored snapshot for the book's key.
func (bc *BookCache) SetSnapshot(ctx context.Context, book domain.OrderBook) error {
	data, err := json.Marshal(snapshotJSON{
		Venue:     string(book.Venue),
		MarketID:  book.MarketID,
		Bids:      book.Bids,
		Asks:      book.Asks,
		Timestamp: book.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("redis: marshal book: %w", err)
	}

	key := bookKey(domain.BookKey{Venue: book.Venue, MarketID: book.MarketID})
	if err := bc.rdb.Set(ctx, key, data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", key, err)
	}
	return nil
}

// GetSnapshot reads the mirrored snapshot for a key. It returns
// domain.ErrNotFound when no snapshot exists.
func (bc *BookCache) GetSnapshot(ctx context.Context, key domain.BookKey) (domain.OrderBook, error) {
	data, err := bc.rdb.Get(ctx, bookKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBook{}, domain.ErrNotFound
		}
		return domain.OrderBook{}, fmt.Errorf("redis: get book: %w", err)
	}

	var snap snapshotJSON
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: decode book: %w", err)
	}
	return domain.OrderBook{
		Venue:     domain.Venue(snap.Venue),
		MarketID:  snap.MarketID,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		Timestamp: snap.Timestamp,
	}, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
