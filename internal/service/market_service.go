// Package service glues the in-memory market engine to the durable stores,
// the cache, and the signal bus. The engine is authoritative for all market
// state; services mirror its snapshots out to infrastructure and never write
// back into it.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/engine"
	"github.com/veilbet/veilbet/internal/validate"
)

// MarketService handles market creation, betting, claims, and read paths.
type MarketService struct {
	eng       *engine.Engine
	markets   domain.MarketStore
	positions domain.PositionStore
	cache     domain.MarketCache
	logger    *slog.Logger
}

// NewMarketService creates a MarketService with all required dependencies.
func NewMarketService(
	eng *engine.Engine,
	markets domain.MarketStore,
	positions domain.PositionStore,
	cache domain.MarketCache,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		eng:       eng,
		markets:   markets,
		positions: positions,
		cache:     cache,
		logger:    logger,
	}
}

// CreateMarket runs the engine operation and mirrors the new market to the
// store. Persistence failures are logged, not surfaced: the engine is the
// source of truth and the mirror heals on the next snapshot.
func (s *MarketService) CreateMarket(ctx context.Context, creator common.Address, p validate.MarketParams) (domain.Market, error) {
	m, err := s.eng.CreateMarket(ctx, creator, p)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}
	s.mirrorMarket(ctx, m)
	return m, nil
}

// PlaceBet runs the engine operation and mirrors the updated market and
// position snapshots.
func (s *MarketService) PlaceBet(ctx context.Context, req engine.BetRequest) error {
	if err := s.eng.PlaceBet(ctx, req); err != nil {
		return fmt.Errorf("market_service: place bet: %w", err)
	}
	s.mirrorAfterBet(ctx, req.MarketID, req.Bettor)
	return nil
}

// Claim runs the engine operation and mirrors the claimed position.
func (s *MarketService) Claim(ctx context.Context, bettor common.Address, marketID uint64) error {
	if err := s.eng.Claim(ctx, bettor, marketID); err != nil {
		return fmt.Errorf("market_service: claim: %w", err)
	}
	s.mirrorAfterBet(ctx, marketID, bettor)
	return nil
}

// GetMarket retrieves a market by ID: engine first, then cache, then store.
// The engine misses only for markets created by an earlier process life.
func (s *MarketService) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if m, err := s.eng.Market(id); err == nil {
		return m, nil
	}

	m, err := s.cache.Get(ctx, id)
	if err == nil {
		return m, nil
	}

	m, err = s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get by id %d: %w", id, err)
	}

	if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_id", id),
			slog.String("error", cacheErr.Error()),
		)
	}
	return m, nil
}

// GetPosition returns one bettor's position snapshot.
func (s *MarketService) GetPosition(ctx context.Context, marketID uint64, bettor common.Address) (domain.Position, error) {
	if p, err := s.eng.Position(marketID, bettor); err == nil {
		return p, nil
	}
	p, err := s.positions.Get(ctx, marketID, bettor)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: get position %d/%s: %w", marketID, bettor.Hex(), err)
	}
	return p, nil
}

// ListMarkets returns markets from the live engine arena.
func (s *MarketService) ListMarkets(ctx context.Context) []domain.Market {
	return s.eng.Markets()
}

// ListByState returns persisted markets in the given lifecycle state.
func (s *MarketService) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByState(ctx, state, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list by state %s: %w", state, err)
	}
	return markets, nil
}

// Count returns the total number of persisted markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// mirrorMarket writes a market snapshot to the store and refreshes the cache.
func (s *MarketService) mirrorMarket(ctx context.Context, m domain.Market) {
	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.ErrorContext(ctx, "market_service: market mirror failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Set(ctx, m); err != nil {
		s.logger.WarnContext(ctx, "market_service: cache set failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// mirrorAfterBet refreshes both the market and position snapshots after an
// operation that touched them.
func (s *MarketService) mirrorAfterBet(ctx context.Context, marketID uint64, bettor common.Address) {
	if m, err := s.eng.Market(marketID); err == nil {
		s.mirrorMarket(ctx, m)
	}
	pos, err := s.eng.Position(marketID, bettor)
	if err != nil {
		return
	}
	if err := s.positions.Upsert(ctx, pos); err != nil {
		s.logger.ErrorContext(ctx, "market_service: position mirror failed",
			slog.Uint64("market_id", marketID),
			slog.String("bettor", bettor.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// eventDetail flattens an engine event for the audit log.
func eventDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"event_id":  ev.ID,
		"market_id": ev.MarketID,
		"actor":     ev.Actor,
	}
	if len(ev.Handles) > 0 {
		detail["handles"] = ev.Handles
	}
	for k, v := range ev.Detail {
		detail[k] = v
	}
	return detail
}

// EventRecorder is the engine sink that fans events out to the audit log and
// the signal bus. Install it with engine.SetEventSink.
type EventRecorder struct {
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEventRecorder creates an EventRecorder.
func NewEventRecorder(audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *EventRecorder {
	return &EventRecorder{audit: audit, bus: bus, logger: logger}
}

// Record implements engine.EventSink. Failures are logged and swallowed; the
// engine's state transition has already committed and must not unwind.
func (r *EventRecorder) Record(ctx context.Context, ev domain.Event) {
	if err := r.audit.Log(ctx, string(ev.Type), eventDetail(ev)); err != nil {
		r.logger.ErrorContext(ctx, "event_recorder: audit log failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "event_recorder: marshal failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.bus.Publish(ctx, ev.Channel(), payload); err != nil {
		r.logger.WarnContext(ctx, "event_recorder: publish failed",
			slog.String("channel", ev.Channel()),
			slog.String("error", err.Error()),
		)
	}
	if err := r.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
		r.logger.WarnContext(ctx, "event_recorder: stream append failed",
			slog.String("stream", domain.EventStream),
			slog.String("error", err.Error()),
		)
	}
}
