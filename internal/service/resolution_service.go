package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/engine"
	"github.com/veilbet/veilbet/internal/notify"
	"github.com/veilbet/veilbet/internal/threshold"
)

// ResolutionService drives a market through its settlement phase: locking,
// requesting threshold decryption, accepting the verified totals, and
// recording the final outcome.
type ResolutionService struct {
	eng         *engine.Engine
	markets     domain.MarketStore
	settlements domain.SettlementStore
	cache       domain.MarketCache
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewResolutionService creates a ResolutionService. The notifier may be nil
// when operator alerts are not configured.
func NewResolutionService(
	eng *engine.Engine,
	markets domain.MarketStore,
	settlements domain.SettlementStore,
	cache domain.MarketCache,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *ResolutionService {
	return &ResolutionService{
		eng:         eng,
		markets:     markets,
		settlements: settlements,
		cache:       cache,
		notifier:    notifier,
		logger:      logger,
	}
}

// Lock moves a market past its betting deadline.
func (s *ResolutionService) Lock(ctx context.Context, caller common.Address, marketID uint64) error {
	if err := s.eng.Lock(ctx, caller, marketID); err != nil {
		return fmt.Errorf("resolution_service: lock: %w", err)
	}
	s.mirror(ctx, marketID)
	return nil
}

// RequestResolution surrenders the pool ciphertexts for public decryption.
func (s *ResolutionService) RequestResolution(ctx context.Context, caller common.Address, marketID uint64) error {
	if err := s.eng.RequestResolution(ctx, caller, marketID); err != nil {
		return fmt.Errorf("resolution_service: request: %w", err)
	}
	s.mirror(ctx, marketID)
	return nil
}

// SubmitDecryptedTotals verifies a decryption proof and, on success, records
// the settlement with the proof that justified trusting the totals.
func (s *ResolutionService) SubmitDecryptedTotals(ctx context.Context, caller common.Address, marketID uint64, proof threshold.DecryptionProof) error {
	if err := s.eng.SubmitDecryptedTotals(ctx, caller, marketID, proof); err != nil {
		return fmt.Errorf("resolution_service: submit totals: %w", err)
	}
	s.mirror(ctx, marketID)
	s.recordSettlement(ctx, marketID, &proof)
	return nil
}

// SetResolution records the final outcome and updates the settlement row.
func (s *ResolutionService) SetResolution(ctx context.Context, caller common.Address, marketID uint64, outcome domain.Outcome) error {
	if err := s.eng.SetResolution(ctx, caller, marketID, outcome); err != nil {
		return fmt.Errorf("resolution_service: set outcome: %w", err)
	}
	s.mirror(ctx, marketID)
	s.recordSettlement(ctx, marketID, nil)

	if s.notifier != nil {
		m, err := s.eng.Market(marketID)
		if err == nil {
			title := fmt.Sprintf("Market %d resolved: %s", m.ID, m.Outcome)
			body := fmt.Sprintf("%s\nYes pool: %d, No pool: %d", m.Question, m.YesTotal, m.NoTotal)
			if err := s.notifier.Notify(ctx, string(domain.EventOutcomeSet), title, body); err != nil {
				s.logger.WarnContext(ctx, "resolution_service: notify failed",
					slog.Uint64("market_id", marketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return nil
}

func (s *ResolutionService) mirror(ctx context.Context, marketID uint64) {
	m, err := s.eng.Market(marketID)
	if err != nil {
		return
	}
	if err := s.markets.Upsert(ctx, m); err != nil {
		s.logger.ErrorContext(ctx, "resolution_service: market mirror failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "resolution_service: cache invalidate failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// recordSettlement upserts the settlement row for a market. On the totals
// submission the proof is included; the outcome update reuses the stored
// proof by re-reading the row.
func (s *ResolutionService) recordSettlement(ctx context.Context, marketID uint64, proof *threshold.DecryptionProof) {
	m, err := s.eng.Market(marketID)
	if err != nil {
		return
	}

	rec := domain.SettlementRecord{
		MarketID:   m.ID,
		Question:   m.Question,
		Outcome:    m.Outcome,
		YesTotal:   m.YesTotal,
		NoTotal:    m.NoTotal,
		FeeBps:     s.eng.FeeConfig().FeeBps,
		ResolvedAt: m.UpdatedAt,
	}
	if proof != nil {
		data, err := json.Marshal(proof)
		if err != nil {
			s.logger.ErrorContext(ctx, "resolution_service: marshal proof failed",
				slog.Uint64("market_id", marketID),
				slog.String("error", err.Error()),
			)
			return
		}
		rec.ProofJSON = data
	} else if prev, err := s.settlements.Get(ctx, m.ID); err == nil {
		rec.ProofJSON = prev.ProofJSON
	}

	if err := s.settlements.Insert(ctx, rec); err != nil {
		s.logger.ErrorContext(ctx, "resolution_service: settlement insert failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}
