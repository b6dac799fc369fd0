package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Sealed pool
// handles are stored in hex form; the plaintext behind them never reaches
// the database.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, image_url, category, creator, resolver,
	state, outcome, yes_pool, no_pool, totals_revealed,
	yes_total, no_total, created_at, betting_deadline, resolution_time, updated_at`

// Upsert inserts or updates a single market snapshot.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, image_url, category, creator, resolver,
			state, outcome, yes_pool, no_pool, totals_revealed,
			yes_total, no_total, created_at, betting_deadline, resolution_time, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			state           = EXCLUDED.state,
			outcome         = EXCLUDED.outcome,
			yes_pool        = EXCLUDED.yes_pool,
			no_pool         = EXCLUDED.no_pool,
			totals_revealed = EXCLUDED.totals_revealed,
			yes_total       = EXCLUDED.yes_total,
			no_total        = EXCLUDED.no_total,
			updated_at      = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.ImageURL, m.Category,
		m.Creator.Hex(), m.Resolver.Hex(),
		string(m.State), string(m.Outcome),
		m.YesPool.Hex(), m.NoPool.Hex(), m.TotalsRevealed,
		m.YesTotal, m.NoTotal,
		m.CreatedAt, m.BettingDeadline, m.ResolutionTime,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var creator, resolver, state, outcome, yesPool, noPool string
	err := row.Scan(
		&m.ID, &m.Question, &m.ImageURL, &m.Category,
		&creator, &resolver,
		&state, &outcome, &yesPool, &noPool, &m.TotalsRevealed,
		&m.YesTotal, &m.NoTotal,
		&m.CreatedAt, &m.BettingDeadline, &m.ResolutionTime, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Creator = common.HexToAddress(creator)
	m.Resolver = common.HexToAddress(resolver)
	m.State = domain.MarketState(state)
	m.Outcome = domain.Outcome(outcome)
	m.YesPool = conf.HandleFromHex(yesPool)
	m.NoPool = conf.HandleFromHex(noPool)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListByState returns markets in the given lifecycle state.
func (s *MarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, `WHERE state = $1`, []any{string(state)}, opts)
}

// List returns markets across all states.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.list(ctx, `WHERE 1=1`, nil, opts)
}

func (s *MarketStore) list(ctx context.Context, where string, args []any, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets ` + where
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}
