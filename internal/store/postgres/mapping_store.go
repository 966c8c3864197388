package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// MappingStore implements domain.MappingStore using PostgreSQL.
type MappingStore struct {
	pool *pgxpool.Pool
}

// NewMappingStore creates a MappingStore backed by the given pool.
func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

const mappingSelectCols = `canonical_id, title, polymarket_id, kalshi_ticker,
	similarity_score, confidence, created_at, updated_at`

// Upsert inserts the mapping or, when the canonical id exists, updates the
// venue ids and similarity. The stored title is only replaced when empty.
func (s *MappingStore) Upsert(ctx context.Context, m domain.CanonicalMarket) error {
	const query = `
		INSERT INTO market_mappings (
			canonical_id, title, polymarket_id, kalshi_ticker,
			similarity_score, confidence, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (canonical_id) DO UPDATE SET
			polymarket_id    = EXCLUDED.polymarket_id,
			kalshi_ticker    = EXCLUDED.kalshi_ticker,
			similarity_score = EXCLUDED.similarity_score,
			confidence       = EXCLUDED.confidence,
			title = CASE WHEN market_mappings.title = '' THEN EXCLUDED.title
			             ELSE market_mappings.title END,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.CanonicalID, m.Title, nullable(m.PolymarketID), nullable(m.KalshiTicker),
		m.SimilarityScore, string(m.Confidence),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert mapping %s: %w", m.CanonicalID, err)
	}
	return nil
}

// GetByCanonicalID returns one mapping by its canonical id.
func (s *MappingStore) GetByCanonicalID(ctx context.Context, canonicalID string) (domain.CanonicalMarket, error) {
	query := `SELECT ` + mappingSelectCols + ` FROM market_mappings WHERE canonical_id = $1`

	row := s.pool.QueryRow(ctx, query, canonicalID)
	m, err := scanMapping(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CanonicalMarket{}, domain.ErrNotFound
		}
		return domain.CanonicalMarket{}, fmt.Errorf("postgres: get mapping %s: %w", canonicalID, err)
	}
	return m, nil
}

// List returns every stored mapping.
func (s *MappingStore) List(ctx context.Context) ([]domain.CanonicalMarket, error) {
	query := `SELECT ` + mappingSelectCols + ` FROM market_mappings ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list mappings: %w", err)
	}
	defer rows.Close()

	var out []domain.CanonicalMarket
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMapping(row pgx.Row) (domain.CanonicalMarket, error) {
	var (
		m          domain.CanonicalMarket
		polyID     *string
		kalshiID   *string
		confidence string
	)
	err := row.Scan(&m.CanonicalID, &m.Title, &polyID, &kalshiID,
		&m.SimilarityScore, &confidence, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return domain.CanonicalMarket{}, err
	}
	if polyID != nil {
		m.PolymarketID = *polyID
	}
	if kalshiID != nil {
		m.KalshiTicker = *kalshiID
	}
	m.Confidence = domain.Confidence(confidence)
	return m, nil
}

// Compile-time interface check.
var _ domain.MappingStore = (*MappingStore)(nil)

// nullable maps empty strings to SQL NULL so the partial unique indexes
// ignore unmatched sides.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
