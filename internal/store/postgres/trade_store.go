package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, opportunity_id, venue, market_id, side, amount,
	price, order_id, status, executed_at, error_message, created_at`

// Insert stores a new trade leg.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO trades (
			id, opportunity_id, venue, market_id, side, amount,
			price, order_id, status, executed_at, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.pool.Exec(ctx, query,
		t.ID, nullable(t.OpportunityID), string(t.Venue), t.MarketID, string(t.Side), t.Amount,
		t.Price, nullable(t.OrderID), string(t.Status), t.ExecutedAt, nullable(t.ErrorMessage), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// UpdateStatus moves a trade to a new status, stamping executed_at when the
// trade fills and recording the error message when one is given.
func (s *TradeStore) UpdateStatus(ctx context.Context, id string, status domain.TradeStatus, errMsg string) error {
	const query = `
		UPDATE trades SET
			status = $1,
			executed_at = CASE WHEN $1 = 'filled' THEN NOW() ELSE executed_at END,
			error_message = COALESCE(NULLIF($2, ''), error_message)
		WHERE id = $3`

	tag, err := s.pool.Exec(ctx, query, string(status), errMsg, id)
	if err != nil {
		return fmt.Errorf("postgres: update trade %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns trades newest first.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// ListByOpportunity returns every leg recorded for one opportunity.
func (s *TradeStore) ListByOpportunity(ctx context.Context, opportunityID string) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + `
		FROM trades WHERE opportunity_id = $1 ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", opportunityID, err)
	}
	defer rows.Close()
	return collectTrades(rows)
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

func collectTrades(rows pgx.Rows) ([]domain.Trade, error) {
	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var (
		t       domain.Trade
		oppID   *string
		orderID *string
		errMsg  *string
		venue   string
		side    string
		status  string
	)
	err := row.Scan(&t.ID, &oppID, &venue, &t.MarketID, &side, &t.Amount,
		&t.Price, &orderID, &status, &t.ExecutedAt, &errMsg, &t.CreatedAt)
	if err != nil {
		return domain.Trade{}, err
	}
	if oppID != nil {
		t.OpportunityID = *oppID
	}
	if orderID != nil {
		t.OrderID = *orderID
	}
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	t.Venue = domain.Venue(venue)
	t.Side = domain.Outcome(side)
	t.Status = domain.TradeStatus(status)
	return t, nil
}
