package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilbet/veilbet/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. Rows
// live here until the archiver moves them to cold storage.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Insert stores the settlement record for a resolved market. Re-inserting
// the same market overwrites the row, which makes resolution replays safe.
func (s *SettlementStore) Insert(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (
			market_id, question, outcome, yes_total, no_total, fee_bps, proof, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (market_id) DO UPDATE SET
			outcome     = EXCLUDED.outcome,
			yes_total   = EXCLUDED.yes_total,
			no_total    = EXCLUDED.no_total,
			fee_bps     = EXCLUDED.fee_bps,
			proof       = EXCLUDED.proof,
			resolved_at = EXCLUDED.resolved_at`

	_, err := s.pool.Exec(ctx, query,
		rec.MarketID, rec.Question, string(rec.Outcome),
		rec.YesTotal, rec.NoTotal, rec.FeeBps,
		rec.ProofJSON, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %d: %w", rec.MarketID, err)
	}
	return nil
}

// Get retrieves the settlement record for one market.
func (s *SettlementStore) Get(ctx context.Context, marketID uint64) (domain.SettlementRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT market_id, question, outcome, yes_total, no_total, fee_bps, proof, resolved_at
		FROM settlements WHERE market_id = $1`, marketID)

	var rec domain.SettlementRecord
	var outcome string
	err := row.Scan(
		&rec.MarketID, &rec.Question, &outcome,
		&rec.YesTotal, &rec.NoTotal, &rec.FeeBps,
		&rec.ProofJSON, &rec.ResolvedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.SettlementRecord{}, domain.ErrNotFound
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: get settlement %d: %w", marketID, err)
	}
	rec.Outcome = domain.Outcome(outcome)
	return rec, nil
}

// ListBefore returns settlements resolved before the cutoff, oldest first.
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	query := `
		SELECT market_id, question, outcome, yes_total, no_total, fee_bps, proof, resolved_at
		FROM settlements WHERE resolved_at < $1 ORDER BY resolved_at ASC`
	args := []any{before}
	if opts.Limit > 0 {
		query += " LIMIT $2"
		args = append(args, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var recs []domain.SettlementRecord
	for rows.Next() {
		var rec domain.SettlementRecord
		var outcome string
		if err := rows.Scan(
			&rec.MarketID, &rec.Question, &outcome,
			&rec.YesTotal, &rec.NoTotal, &rec.FeeBps,
			&rec.ProofJSON, &rec.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		rec.Outcome = domain.Outcome(outcome)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list settlements rows: %w", err)
	}
	return recs, nil
}

// DeleteBefore removes settlements resolved before the cutoff and reports
// how many rows went away.
func (s *SettlementStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM settlements WHERE resolved_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settlements: %w", err)
	}
	return tag.RowsAffected(), nil
}
