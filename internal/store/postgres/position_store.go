package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `market_id, bettor, yes_amount, no_amount, has_position, claimed, claimed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var bettor, yesAmount, noAmount, hasPosition string
	err := row.Scan(
		&p.MarketID, &bettor, &yesAmount, &noAmount, &hasPosition,
		&p.Claimed, &p.ClaimedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Bettor = common.HexToAddress(bettor)
	p.YesAmount = conf.HandleFromHex(yesAmount)
	p.NoAmount = conf.HandleFromHex(noAmount)
	p.HasPosition = conf.HandleFromHex(hasPosition)
	return p, nil
}

// Upsert inserts or updates a position snapshot.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			market_id, bettor, yes_amount, no_amount, has_position, claimed, claimed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			yes_amount   = EXCLUDED.yes_amount,
			no_amount    = EXCLUDED.no_amount,
			has_position = EXCLUDED.has_position,
			claimed      = EXCLUDED.claimed,
			claimed_at   = EXCLUDED.claimed_at`

	_, err := s.pool.Exec(ctx, query,
		p.MarketID, p.Bettor.Hex(),
		p.YesAmount.Hex(), p.NoAmount.Hex(), p.HasPosition.Hex(),
		p.Claimed, p.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %d/%s: %w", p.MarketID, p.Bettor.Hex(), err)
	}
	return nil
}

// Get retrieves one bettor's position in one market.
func (s *PositionStore) Get(ctx context.Context, marketID uint64, bettor common.Address) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market_id = $1 AND bettor = $2`,
		marketID, bettor.Hex())
	p, err := scanPosition(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %d/%s: %w", marketID, bettor.Hex(), err)
	}
	return p, nil
}

// ListByMarket returns every position recorded against a market.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE market_id = $1 ORDER BY bettor`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}

// MarkClaimed flips the claimed flag. The engine is authoritative for claim
// ordering; this is the durable mirror of that decision.
func (s *PositionStore) MarkClaimed(ctx context.Context, marketID uint64, bettor common.Address, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET claimed = TRUE, claimed_at = $3 WHERE market_id = $1 AND bettor = $2`,
		marketID, bettor.Hex(), at)
	if err != nil {
		return fmt.Errorf("postgres: mark claimed %d/%s: %w", marketID, bettor.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
