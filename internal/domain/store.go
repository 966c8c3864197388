package domain

import "context"

// ListOpts carries standard pagination parameters for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MappingStore persists canonical market mappings.
type MappingStore interface {
	// Upsert inserts the mapping, or, when the canonical id already exists,
	// updates the venue ids and similarity. The stored title is only
	// replaced when it is empty.
	Upsert(ctx context.Context, m CanonicalMarket) error
	GetByCanonicalID(ctx context.Context, canonicalID string) (CanonicalMarket, error)
	List(ctx context.Context) ([]CanonicalMarket, error)
}

// OpportunityStore persists arbitrage opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, o Opportunity) error
	GetByID(ctx context.Context, id string) (Opportunity, error)
	// TransitionStatus atomically moves the opportunity from one status to
	// another. It returns ErrStatusTransitionDenied when the stored status
	// is not `from`, which is the guard that keeps the detector and the
	// coordinator from colliding.
	TransitionStatus(ctx context.Context, id string, from, to OpportunityStatus) error
	SetStatus(ctx context.Context, id string, to OpportunityStatus) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Opportunity, error)
	ListActive(ctx context.Context) ([]Opportunity, error)
	// ListAged returns terminal opportunities detected before the cutoff,
	// used by the archiver.
	ListAged(ctx context.Context, before int64) ([]Opportunity, error)
}

// TradeStore persists execution legs.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	UpdateStatus(ctx context.Context, id string, status TradeStatus, errMsg string) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Trade, error)
	ListByOpportunity(ctx context.Context, opportunityID string) ([]Trade, error)
}

// SignalBus is the pub/sub fan-out used to reach external subscribers
// (websocket hub, dashboards). In-process wiring between the detector and
// the coordinator uses the typed events bus instead.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BookCache mirrors accepted order book snapshots for out-of-process
// readers. A write failure is logged and ignored; the cache is advisory.
type BookCache interface {
	SetSnapshot(ctx context.Context, book OrderBook) error
	GetSnapshot(ctx context.Context, key BookKey) (OrderBook, error)
}

// BlobWriter writes archive objects (S3 or compatible).
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
