package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/threshold"
)

// Lock moves an Open market to Locked once the betting deadline has passed.
// Anyone may call it; the deadline, not the caller, is the gate.
func (e *Engine) Lock(ctx context.Context, caller common.Address, marketID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if e.busy[m.ID] {
		return fmt.Errorf("engine: lock market %d: %w", m.ID, domain.ErrReentrantCall)
	}
	if !m.State.CanAdvanceTo(domain.MarketStateLocked) {
		return fmt.Errorf("engine: lock market %d in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	if e.now().Before(m.BettingDeadline) {
		return fmt.Errorf("engine: lock market %d: %w", m.ID, domain.ErrDeadlineNotReached)
	}

	m.State = domain.MarketStateLocked
	m.UpdatedAt = e.now()
	e.emit(ctx, domain.EventMarketLocked, m.ID, caller, nil, nil)
	return nil
}

// RequestResolution moves a Locked market to Resolving once the resolution
// time has passed. Only the designated resolver, or the owner as fallback,
// may trigger it. Both pool handles are surrendered for public decryption
// and emitted so the threshold service knows exactly what to open.
func (e *Engine) RequestResolution(ctx context.Context, caller common.Address, marketID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if e.busy[m.ID] {
		return fmt.Errorf("engine: request resolution for market %d: %w", m.ID, domain.ErrReentrantCall)
	}
	if !m.State.CanAdvanceTo(domain.MarketStateResolving) {
		return fmt.Errorf("engine: request resolution for market %d in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	if caller != m.Resolver && caller != e.cfg.Owner {
		return fmt.Errorf("engine: request resolution for market %d by %s: %w", m.ID, caller.Hex(), domain.ErrUnauthorized)
	}
	if e.now().Before(m.ResolutionTime) {
		return fmt.Errorf("engine: request resolution for market %d: %w", m.ID, domain.ErrDeadlineNotReached)
	}

	if err := e.cengine.MarkPubliclyDecryptable(m.YesPool); err != nil {
		return fmt.Errorf("engine: surrender yes pool: %w", err)
	}
	if err := e.cengine.MarkPubliclyDecryptable(m.NoPool); err != nil {
		return fmt.Errorf("engine: surrender no pool: %w", err)
	}

	m.State = domain.MarketStateResolving
	m.UpdatedAt = e.now()
	e.emit(ctx, domain.EventResolutionRequested, m.ID, caller,
		[]conf.Handle{m.YesPool, m.NoPool}, nil)
	return nil
}

// SubmitDecryptedTotals verifies a threshold decryption proof over exactly
// the market's two pool handles and, on success, commits the plaintext
// totals and moves the market to Resolved with the outcome still unset. A
// failed verification rejects the submission and changes nothing; it may be
// retried with a valid proof.
func (e *Engine) SubmitDecryptedTotals(ctx context.Context, caller common.Address, marketID uint64, proof threshold.DecryptionProof) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if !m.State.CanAdvanceTo(domain.MarketStateResolved) {
		return fmt.Errorf("engine: submit totals for market %d in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	if len(proof.Handles) != 2 || proof.Handles[0] != m.YesPool || proof.Handles[1] != m.NoPool {
		return fmt.Errorf("engine: submit totals for market %d: %w", m.ID, domain.ErrProofMismatch)
	}
	if err := e.quorum.Verify(proof); err != nil {
		return fmt.Errorf("engine: submit totals for market %d: %w: %w", m.ID, domain.ErrBadProof, err)
	}

	m.YesTotal = proof.Cleartexts[0]
	m.NoTotal = proof.Cleartexts[1]
	m.TotalsRevealed = true
	m.State = domain.MarketStateResolved
	m.UpdatedAt = e.now()

	e.emit(ctx, domain.EventTotalsRevealed, m.ID, caller,
		[]conf.Handle{m.YesPool, m.NoPool}, map[string]string{
			"yes_total": fmt.Sprintf("%d", m.YesTotal),
			"no_total":  fmt.Sprintf("%d", m.NoTotal),
		})
	return nil
}

// SetResolution assigns the final outcome on a Resolved market whose outcome
// is still unset. Only the resolver (or the owner as fallback) may set it,
// and only to Yes, No, or Invalid. For a fee-bearing outcome the protocol
// fee on the combined pool accrues to the sealed collector counter here.
func (e *Engine) SetResolution(ctx context.Context, caller common.Address, marketID uint64, outcome domain.Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.market(marketID)
	if err != nil {
		return err
	}
	if m.State != domain.MarketStateResolved {
		return fmt.Errorf("engine: set outcome for market %d in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	if m.Outcome != domain.OutcomeNotSet {
		return fmt.Errorf("engine: set outcome for market %d: %w", m.ID, domain.ErrInvalidState)
	}
	if caller != m.Resolver && caller != e.cfg.Owner {
		return fmt.Errorf("engine: set outcome for market %d by %s: %w", m.ID, caller.Hex(), domain.ErrUnauthorized)
	}
	if !outcome.Settleable() {
		return fmt.Errorf("engine: set outcome %q for market %d: %w", outcome, m.ID, domain.ErrInvalidOutcome)
	}

	m.Outcome = outcome
	m.UpdatedAt = e.now()

	if outcome != domain.OutcomeInvalid && m.YesTotal > 0 && m.NoTotal > 0 {
		fee := (m.YesTotal + m.NoTotal) * e.fee.FeeBps / 10_000
		collected, err := e.ev.ScalarAdd(e.fee.Collected, fee)
		if err != nil {
			return fmt.Errorf("engine: accrue fee for market %d: %w", m.ID, err)
		}
		if err := e.ev.Allow(collected, e.fee.Collector); err != nil {
			return fmt.Errorf("engine: accrue fee for market %d: %w", m.ID, err)
		}
		e.fee.Collected = collected
	}

	e.emit(ctx, domain.EventOutcomeSet, m.ID, caller, nil, map[string]string{
		"outcome": string(outcome),
	})
	return nil
}
