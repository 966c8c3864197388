// Package pipeline holds the background maintenance jobs. The archiver
// copies aged terminal opportunities and their trades to object storage as
// month-keyed JSON documents.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbot/internal/domain"
)

// archiveInterval is how often the archiver wakes up.
const archiveInterval = 24 * time.Hour

// Archiver snapshots aged rows into blob storage. Rows stay in the
// database; the archive is a durable export, not a purge.
type Archiver struct {
	opps          domain.OpportunityStore
	trades        domain.TradeStore
	blob          domain.BlobWriter
	retentionDays int
	logger        *slog.Logger

	now func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(opps domain.OpportunityStore, trades domain.TradeStore, blob domain.BlobWriter, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		opps:          opps,
		trades:        trades,
		blob:          blob,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
		now:           time.Now,
	}
}

// Run archives once at start and then on every interval tick until the
// context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Int("retention_days", a.retentionDays))
	defer a.logger.Info("archiver stopped")

	if err := a.ArchiveOnce(ctx); err != nil {
		a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Warn("archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// archiveDoc is the JSON document written per pass.
type archiveDoc struct {
	GeneratedAt   time.Time            `json:"generated_at"`
	Cutoff        time.Time            `json:"cutoff"`
	Opportunities []domain.Opportunity `json:"opportunities"`
	Trades        []domain.Trade       `json:"trades"`
}

// ArchiveOnce exports every terminal opportunity older than the retention
// window, together with its trades.
func (a *Archiver) ArchiveOnce(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)

	opps, err := a.opps.ListAged(ctx, cutoff.Unix())
	if err != nil {
		return fmt.Errorf("pipeline: list aged opportunities: %w", err)
	}
	if len(opps) == 0 {
		return nil
	}

	doc := archiveDoc{
		GeneratedAt:   a.now().UTC(),
		Cutoff:        cutoff,
		Opportunities: opps,
	}
	for _, o := range opps {
		trades, err := a.trades.ListByOpportunity(ctx, o.ID)
		if err != nil {
			a.logger.Warn("archive trade lookup failed",
				slog.String("opportunity_id", o.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		doc.Trades = append(doc.Trades, trades...)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("pipeline: marshal archive: %w", err)
	}

	path := fmt.Sprintf("opportunities/%s/archive-%d.json",
		doc.GeneratedAt.Format("2006-01"), doc.GeneratedAt.Unix())
	if err := a.blob.Put(ctx, path, data, "application/json"); err != nil {
		return fmt.Errorf("pipeline: upload archive: %w", err)
	}

	a.logger.Info("archive written",
		slog.String("path", path),
		slog.Int("opportunities", len(opps)),
		slog.Int("trades", len(doc.Trades)),
	)
	return nil
}
