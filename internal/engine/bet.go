package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/validate"
)

// BetRequest is one sealed bet: an amount, a side selector (true = Yes), and
// the bettor's attestations binding both handles to this engine.
type BetRequest struct {
	MarketID uint64
	Bettor   common.Address

	Amount          conf.Handle
	AmountAttestation []byte

	Side            conf.Handle
	SideAttestation []byte
}

// PlaceBet records a sealed stake. The amount credited to the position and
// pools is the engine's observed balance delta across the token pull, never
// the requested amount: a bettor cannot inflate their recorded stake beyond
// what actually moved. Side selection and bound enforcement are branchless;
// an out-of-bounds stake degrades to a zero transfer and a sealed error code
// in the bettor's last-error slot, not a visible failure.
func (e *Engine) PlaceBet(ctx context.Context, req BetRequest) error {
	e.mu.Lock()

	m, err := e.market(req.MarketID)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if m.State != domain.MarketStateOpen {
		e.mu.Unlock()
		return fmt.Errorf("engine: place bet on market %d in state %s: %w", m.ID, m.State, domain.ErrInvalidState)
	}
	if !e.now().Before(m.BettingDeadline) {
		e.mu.Unlock()
		return fmt.Errorf("engine: place bet on market %d: %w", m.ID, domain.ErrBettingClosed)
	}
	if e.busy[m.ID] {
		e.mu.Unlock()
		return fmt.Errorf("engine: place bet on market %d: %w", m.ID, domain.ErrReentrantCall)
	}

	if err := e.cengine.IngestInput(req.Amount, req.Bettor, e.cfg.Self, req.AmountAttestation); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet amount: %w", err)
	}
	if err := e.cengine.IngestInput(req.Side, req.Bettor, e.cfg.Self, req.SideAttestation); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet side: %w", err)
	}

	// Sealed bound check: the verdict selects between the requested amount
	// and zero, so an out-of-bounds stake proceeds as a zero-value bet.
	verdict, err := validate.CheckStakeBounds(e.ev, req.Amount, e.cfg.Bounds)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet bounds: %w", err)
	}
	zero, err := e.ev.Constant(0)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet: %w", err)
	}
	effective, err := e.ev.Select(verdict, req.Amount, zero)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet: %w", err)
	}
	balBefore, err := e.tok.BalanceOf(e.cfg.Self)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet: %w", err)
	}
	if err := e.cengine.AllowTransient(effective, e.cfg.Self, e.tok.Address()); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine: bet: %w", err)
	}

	// External interaction: release nothing but mark the market busy so a
	// nested call back into this market is rejected, then pull the stake.
	e.busy[m.ID] = true
	e.mu.Unlock()

	transferErr := e.tok.TransferFromEncrypted(e.cfg.Self, req.Bettor, e.cfg.Self, effective)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer delete(e.busy, m.ID)
	defer e.cengine.ClearTransient(effective)

	if transferErr != nil {
		return fmt.Errorf("engine: bet transfer: %w", transferErr)
	}

	balAfter, err := e.tok.BalanceOf(e.cfg.Self)
	if err != nil {
		return fmt.Errorf("engine: bet: %w", err)
	}
	// The conservation invariant: credit what arrived, not what was asked.
	delta, err := e.ev.Sub(balAfter, balBefore)
	if err != nil {
		return fmt.Errorf("engine: bet delta: %w", err)
	}

	// Sealed failure reporting: out-of-bounds first, then a short transfer.
	// An out-of-bounds stake degrades to a zero transfer, so its delta always
	// matches and the bounds code wins.
	funded, err := e.ev.Eq(delta, effective)
	if err != nil {
		return fmt.Errorf("engine: bet: %w", err)
	}
	if err := e.errs.RecordChecks(e.ev, req.Bettor,
		validate.Check{Verdict: verdict, FailCode: validate.CodeStakeOutOfBounds},
		validate.Check{Verdict: funded, FailCode: validate.CodeInsufficientFunds},
	); err != nil {
		return fmt.Errorf("engine: bet: %w", err)
	}

	if err := e.recordBet(m, req.Bettor, delta, req.Side); err != nil {
		return err
	}
	m.UpdatedAt = e.now()

	pos := e.positions[positionKey{m.ID, req.Bettor}]
	e.emit(ctx, domain.EventBetPlaced, m.ID, req.Bettor,
		[]conf.Handle{pos.YesAmount, pos.NoAmount}, nil)
	return nil
}

// recordBet adds the sealed amount to the side selected by the sealed flag,
// for both the bettor's position and the market pools. Both outcomes are
// computed and one is picked; there is no plaintext branch on the side.
// Callers must hold e.mu.
func (e *Engine) recordBet(m *domain.Market, bettor common.Address, amount, side conf.Handle) error {
	key := positionKey{m.ID, bettor}
	pos, ok := e.positions[key]
	if !ok {
		yes, err := e.ev.Constant(0)
		if err != nil {
			return fmt.Errorf("engine: record bet: %w", err)
		}
		no, err := e.ev.Constant(0)
		if err != nil {
			return fmt.Errorf("engine: record bet: %w", err)
		}
		pos = &domain.Position{MarketID: m.ID, Bettor: bettor, YesAmount: yes, NoAmount: no}
		e.positions[key] = pos
	}

	newYes, newNo, err := e.selectiveAdd(pos.YesAmount, pos.NoAmount, amount, side)
	if err != nil {
		return fmt.Errorf("engine: record bet: %w", err)
	}
	pos.YesAmount, pos.NoAmount = newYes, newNo

	// Any contact sets the flag, whatever the effective amount was.
	has, err := e.ev.ConstantBool(true)
	if err != nil {
		return fmt.Errorf("engine: record bet: %w", err)
	}
	pos.HasPosition = has

	for _, h := range []conf.Handle{pos.YesAmount, pos.NoAmount, pos.HasPosition} {
		if err := e.ev.Allow(h, bettor); err != nil {
			return fmt.Errorf("engine: record bet: %w", err)
		}
	}

	poolYes, poolNo, err := e.selectiveAdd(m.YesPool, m.NoPool, amount, side)
	if err != nil {
		return fmt.Errorf("engine: update pools: %w", err)
	}
	m.YesPool, m.NoPool = poolYes, poolNo
	return nil
}

// selectiveAdd returns (yes+amount, no) when side is true and
// (yes, no+amount) otherwise, via two tentative sums and a pick each.
func (e *Engine) selectiveAdd(yes, no, amount, side conf.Handle) (conf.Handle, conf.Handle, error) {
	tentYes, err := e.ev.Add(yes, amount)
	if err != nil {
		return conf.ZeroHandle, conf.ZeroHandle, err
	}
	tentNo, err := e.ev.Add(no, amount)
	if err != nil {
		return conf.ZeroHandle, conf.ZeroHandle, err
	}
	newYes, err := e.ev.Select(side, tentYes, yes)
	if err != nil {
		return conf.ZeroHandle, conf.ZeroHandle, err
	}
	newNo, err := e.ev.Select(side, no, tentNo)
	if err != nil {
		return conf.ZeroHandle, conf.ZeroHandle, err
	}
	return newYes, newNo, nil
}
