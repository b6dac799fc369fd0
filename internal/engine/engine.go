// Package engine implements the confidential market engine: the per-market
// lifecycle state machine, sealed position and pool accounting, the two-phase
// resolution protocol, and the parimutuel payout calculator. All state-
// mutating operations run to completion atomically under a single engine
// mutex, mirroring the serialized-transaction model of the underlying ledger.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/threshold"
	"github.com/veilbet/veilbet/internal/token"
	"github.com/veilbet/veilbet/internal/validate"
)

// EventSink receives engine events synchronously. The service layer wires a
// sink that publishes to the signal bus and audit store.
type EventSink func(ctx context.Context, ev domain.Event)

// Config carries the engine's deployment parameters.
type Config struct {
	// Self is the engine's own principal on the confidential ACL; sealed
	// pool totals and intermediate values are granted to it.
	Self common.Address
	// Owner is the deployer; it may act as fallback resolver.
	Owner common.Address
	// Collector receives protocol fees.
	Collector common.Address
	// FeeBps is the protocol fee in basis points, at most domain.MaxFeeBps.
	FeeBps uint64
	// Bounds are the sealed-stake bounds checked per bet.
	Bounds validate.StakeBounds
}

type positionKey struct {
	marketID uint64
	bettor   common.Address
}

// Engine is the arena of market instances plus the collaborators every
// operation needs. One Engine corresponds to one deployed market factory.
type Engine struct {
	mu sync.Mutex

	cengine *conf.Engine
	ev      *conf.Evaluator
	tok     token.Token
	quorum  *threshold.Quorum
	errs    *validate.ErrorRegistry

	cfg Config
	fee domain.FeeConfig

	markets   map[uint64]*domain.Market
	positions map[positionKey]*domain.Position
	// busy marks markets with an external token call in flight; entering
	// bet or claim on a busy market is a reentrant call.
	busy   map[uint64]bool
	nextID uint64

	now  func() time.Time
	sink EventSink
}

// New creates an Engine. The fee rate is validated here; the cumulative fee
// counter starts sealed at zero.
func New(cengine *conf.Engine, tok token.Token, quorum *threshold.Quorum, cfg Config) (*Engine, error) {
	if err := validate.ValidateFeeBps(cfg.FeeBps); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	ev := cengine.Evaluator(cfg.Self)
	collected, err := ev.Constant(0)
	if err != nil {
		return nil, fmt.Errorf("engine: seal fee counter: %w", err)
	}
	if err := ev.Allow(collected, cfg.Collector); err != nil {
		return nil, fmt.Errorf("engine: grant fee counter: %w", err)
	}
	return &Engine{
		cengine: cengine,
		ev:      ev,
		tok:     tok,
		quorum:  quorum,
		errs:    validate.NewErrorRegistry(cengine),
		cfg:     cfg,
		fee: domain.FeeConfig{
			FeeBps:    cfg.FeeBps,
			Collector: cfg.Collector,
			Collected: collected,
		},
		markets:   make(map[uint64]*domain.Market),
		positions: make(map[positionKey]*domain.Position),
		busy:      make(map[uint64]bool),
		nextID:    1,
		now:       time.Now,
	}, nil
}

// SetClock overrides the engine clock. Deadline gates compare against this.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

// SetEventSink installs the event sink. Events are emitted synchronously
// after the mutation they describe has committed.
func (e *Engine) SetEventSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sink = sink
}

// Errors exposes the secrecy-preserving failure channel.
func (e *Engine) Errors() *validate.ErrorRegistry {
	return e.errs
}

// FeeConfig returns the engine's fee configuration. The Collected handle is
// readable only by the collector.
func (e *Engine) FeeConfig() domain.FeeConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fee
}

// emit dispatches an event if a sink is installed. Callers must hold e.mu;
// sinks must be fast and must not call back into the engine.
func (e *Engine) emit(ctx context.Context, typ domain.EventType, marketID uint64, actor common.Address, handles []conf.Handle, detail map[string]string) {
	if e.sink == nil {
		return
	}
	hs := make([]string, len(handles))
	for i, h := range handles {
		hs[i] = h.Hex()
	}
	e.sink(ctx, domain.Event{
		ID:       uuid.New().String(),
		Type:     typ,
		MarketID: marketID,
		Actor:    actor.Hex(),
		Handles:  hs,
		Detail:   detail,
		At:       e.now(),
	})
}

// CreateMarket validates the plaintext parameters, seals zero pools, and
// registers a new Open market. Markets are never deleted.
func (e *Engine) CreateMarket(ctx context.Context, creator common.Address, p validate.MarketParams) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := validate.ValidateMarketParams(p, now); err != nil {
		return domain.Market{}, err
	}

	yesPool, err := e.ev.Constant(0)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: seal yes pool: %w", err)
	}
	noPool, err := e.ev.Constant(0)
	if err != nil {
		return domain.Market{}, fmt.Errorf("engine: seal no pool: %w", err)
	}

	m := &domain.Market{
		ID:              e.nextID,
		Question:        p.Question,
		ImageURL:        p.ImageURL,
		Category:        p.Category,
		Creator:         creator,
		Resolver:        p.Resolver,
		CreatedAt:       now,
		BettingDeadline: p.BettingDeadline,
		ResolutionTime:  p.ResolutionTime,
		State:           domain.MarketStateOpen,
		Outcome:         domain.OutcomeNotSet,
		YesPool:         yesPool,
		NoPool:          noPool,
		UpdatedAt:       now,
	}
	e.nextID++
	e.markets[m.ID] = m

	e.emit(ctx, domain.EventMarketCreated, m.ID, creator, nil, map[string]string{
		"question": m.Question,
		"resolver": m.Resolver.Hex(),
	})
	return *m, nil
}

// Market returns a snapshot of the market.
func (e *Engine) Market(id uint64) (domain.Market, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return *m, nil
}

// Markets returns snapshots of every market, ordered by id.
func (e *Engine) Markets() []domain.Market {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Market, 0, len(e.markets))
	for id := uint64(1); id < e.nextID; id++ {
		if m, ok := e.markets[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// Position returns a snapshot of the bettor's position in the market.
func (e *Engine) Position(marketID uint64, bettor common.Address) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[positionKey{marketID, bettor}]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *pos, nil
}

// market fetches a live market. Callers must hold e.mu.
func (e *Engine) market(id uint64) (*domain.Market, error) {
	m, ok := e.markets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return m, nil
}
