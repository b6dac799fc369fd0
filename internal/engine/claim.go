package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
)

// payout computes the sealed amount owed to a position under the market's
// final outcome. Invalid refunds both sides in full. A settled side pays
// principal plus a pro-rata share of the losing pool; when either pool is
// empty there is no counterparty money to distribute, so winners get their
// principal back and losers get a zero-valued transfer.
func (e *Engine) payout(m *domain.Market, pos *domain.Position) (conf.Handle, error) {
	if m.Outcome == domain.OutcomeInvalid {
		return e.ev.Add(pos.YesAmount, pos.NoAmount)
	}

	stake := pos.YesAmount
	winning, losing := m.YesTotal, m.NoTotal
	if m.Outcome == domain.OutcomeNo {
		stake = pos.NoAmount
		winning, losing = m.NoTotal, m.YesTotal
	}
	if winning == 0 || losing == 0 {
		return stake, nil
	}

	profit, err := e.ev.MulDiv(stake, losing, winning)
	if err != nil {
		return conf.ZeroHandle, err
	}
	return e.ev.Add(stake, profit)
}

// Claim pays a bettor their winnings (or refund) on a resolved market. The
// position is marked claimed before the ledger is touched, so a reentrant or
// repeated claim finds nothing to collect. The paid amount stays sealed; only
// the fact of the claim is public.
func (e *Engine) Claim(ctx context.Context, bettor common.Address, marketID uint64) error {
	e.mu.Lock()

	m, err := e.market(marketID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if e.busy[m.ID] {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: %w", m.ID, domain.ErrReentrantCall)
	}
	if m.State != domain.MarketStateResolved {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	if m.Outcome == domain.OutcomeNotSet {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: %w", m.ID, domain.ErrOutcomeNotSet)
	}
	if !m.TotalsRevealed {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: %w", m.ID, domain.ErrTotalsNotRevealed)
	}

	pos, ok := e.positions[positionKey{m.ID, bettor}]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: position for %s: %w", m.ID, bettor.Hex(), domain.ErrNotFound)
	}
	if pos.Claimed {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d by %s: %w", m.ID, bettor.Hex(), domain.ErrAlreadyClaimed)
	}

	amount, err := e.payout(m, pos)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: compute payout: %w", m.ID, err)
	}
	if err := e.ev.Allow(amount, bettor); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: grant payout: %w", m.ID, err)
	}
	if err := e.cengine.AllowTransient(amount, e.cfg.Self, e.tok.Address()); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: claim on market %d: grant payout: %w", m.ID, err)
	}

	// Effects before interaction: the claim is burned even if the ledger
	// call below fails, which is the safe direction for double-pay.
	now := e.now()
	pos.Claimed = true
	pos.ClaimedAt = &now
	e.busy[m.ID] = true
	e.mu.Unlock()

	transferErr := e.tok.TransferEncrypted(e.cfg.Self, bettor, amount)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer delete(e.busy, m.ID)
	defer e.cengine.ClearTransient(amount)

	if transferErr != nil {
		return fmt.Errorf("engine: claim on market %d: pay %s: %w", m.ID, bettor.Hex(), transferErr)
	}

	m.UpdatedAt = e.now()
	e.emit(ctx, domain.EventWinningsClaimed, m.ID, bettor, []conf.Handle{amount}, nil)
	return nil
}
