package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const oppSelectCols = `id, canonical_id, direction, combined_cost, profit_potential,
	poly_yes_price, poly_no_price, kalshi_yes_price, kalshi_no_price,
	poly_liquidity, kalshi_liquidity, recommended_size, estimated_fees,
	net_profit, status, detected_at, expires_at`

// Insert stores a new opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, o domain.Opportunity) error {
	const query = `
		INSERT INTO arb_opportunities (
			id, canonical_id, direction, combined_cost, profit_potential,
			poly_yes_price, poly_no_price, kalshi_yes_price, kalshi_no_price,
			poly_liquidity, kalshi_liquidity, recommended_size, estimated_fees,
			net_profit, status, detected_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15, $16, $17
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.CanonicalID, string(o.Direction), o.CombinedCost, o.ProfitPotential,
		o.PolyYesPrice, o.PolyNoPrice, o.KalshiYesPrice, o.KalshiNoPrice,
		o.PolyLiquidity, o.KalshiLiquidity, o.RecommendedSize, o.EstimatedFees,
		o.NetProfit, string(o.Status), o.DetectedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", o.ID, err)
	}
	return nil
}

// GetByID returns one opportunity by id.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + ` FROM arb_opportunities WHERE id = $1`

	o, err := scanOpportunity(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Opportunity{}, domain.ErrNotFound
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return o, nil
}

// TransitionStatus atomically moves the opportunity from one status to
// another; it fails with ErrStatusTransitionDenied when the stored status
// differs from `from`.
func (s *OpportunityStore) TransitionStatus(ctx context.Context, id string, from, to domain.OpportunityStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE arb_opportunities SET status = $1 WHERE id = $2 AND status = $3`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("postgres: transition opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: opportunity %s not in %s: %w", id, from, domain.ErrStatusTransitionDenied)
	}
	return nil
}

// SetStatus unconditionally updates the status.
func (s *OpportunityStore) SetStatus(ctx context.Context, id string, to domain.OpportunityStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE arb_opportunities SET status = $1 WHERE id = $2`,
		string(to), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: set opportunity %s status: %w", id, err)
	}
	return nil
}

// ListRecent returns opportunities newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + `
		FROM arb_opportunities ORDER BY detected_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// ListActive returns opportunities in detected or executing status that
// have not passed their expiry.
func (s *OpportunityStore) ListActive(ctx context.Context) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + `
		FROM arb_opportunities
		WHERE status IN ('detected', 'executing')
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY detected_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active opportunities: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// ListAged returns terminal opportunities detected before the cutoff, for
// the archiver.
func (s *OpportunityStore) ListAged(ctx context.Context, before int64) ([]domain.Opportunity, error) {
	query := `SELECT ` + oppSelectCols + `
		FROM arb_opportunities
		WHERE status IN ('executed', 'expired') AND detected_at < $1
		ORDER BY detected_at ASC`

	rows, err := s.pool.Query(ctx, query, time.Unix(before, 0).UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: list aged opportunities: %w", err)
	}
	defer rows.Close()
	return collectOpportunities(rows)
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)

func collectOpportunities(rows pgx.Rows) ([]domain.Opportunity, error) {
	var out []domain.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOpportunity(row pgx.Row) (domain.Opportunity, error) {
	var (
		o         domain.Opportunity
		direction string
		status    string
	)
	err := row.Scan(&o.ID, &o.CanonicalID, &direction, &o.CombinedCost, &o.ProfitPotential,
		&o.PolyYesPrice, &o.PolyNoPrice, &o.KalshiYesPrice, &o.KalshiNoPrice,
		&o.PolyLiquidity, &o.KalshiLiquidity, &o.RecommendedSize, &o.EstimatedFees,
		&o.NetProfit, &status, &o.DetectedAt, &o.ExpiresAt)
	if err != nil {
		return domain.Opportunity{}, err
	}
	o.Direction = domain.ArbDirection(direction)
	o.Status = domain.OpportunityStatus(status)
	return o, nil
}
