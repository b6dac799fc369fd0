package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
)

// allowanceKey identifies one (owner, spender) allowance.
type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger is the reference in-memory Token implementation. All balance and
// allowance state lives behind sealed handles; the transfer path is built
// from Min/Sub/Add so the effective amount is clamped without any observable
// branch.
type Ledger struct {
	mu         sync.Mutex
	engine     *conf.Engine
	ev         *conf.Evaluator
	self       common.Address
	balances   map[common.Address]conf.Handle
	allowances map[allowanceKey]conf.Handle
}

// NewLedger creates a Ledger acting as the principal self on the given
// confidential engine.
func NewLedger(engine *conf.Engine, self common.Address) *Ledger {
	return &Ledger{
		engine:     engine,
		ev:         engine.Evaluator(self),
		self:       self,
		balances:   make(map[common.Address]conf.Handle),
		allowances: make(map[allowanceKey]conf.Handle),
	}
}

// Address returns the ledger's principal address.
func (l *Ledger) Address() common.Address {
	return l.self
}

// balance returns the sealed balance of addr, lazily initialising to zero.
// Callers must hold l.mu.
func (l *Ledger) balance(addr common.Address) (conf.Handle, error) {
	if h, ok := l.balances[addr]; ok {
		return h, nil
	}
	h, err := l.ev.Constant(0)
	if err != nil {
		return conf.ZeroHandle, err
	}
	if err := l.ev.Allow(h, addr); err != nil {
		return conf.ZeroHandle, err
	}
	l.balances[addr] = h
	return h, nil
}

// setBalance stores a new balance handle and grants the owner read access.
// Callers must hold l.mu.
func (l *Ledger) setBalance(addr common.Address, h conf.Handle) error {
	if err := l.ev.Allow(h, addr); err != nil {
		return err
	}
	l.balances[addr] = h
	return nil
}

// Mint credits amount plaintext units to addr. Genesis/test helper; a
// production deployment would be funded through a bridge instead.
func (l *Ledger) Mint(addr common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, err := l.balance(addr)
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	c, err := l.ev.Constant(amount)
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	next, err := l.ev.Add(cur, c)
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if err := l.setBalance(addr, next); err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	return nil
}

// BalanceOf implements Token.
func (l *Ledger) BalanceOf(addr common.Address) (conf.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.balance(addr)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("token: balance of %s: %w", addr.Hex(), err)
	}
	return h, nil
}

// ApproveEncrypted implements Token. The amount handle must be accessible to
// the ledger (the caller grants it before approving).
func (l *Ledger) ApproveEncrypted(owner, spender common.Address, amount conf.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.engine.IsAllowed(amount, l.self) {
		return fmt.Errorf("token: approve: %w", conf.ErrAccessDenied)
	}
	l.allowances[allowanceKey{owner, spender}] = amount
	return nil
}

// TransferEncrypted implements Token: moves min(amount, balance(from)).
func (l *Ledger) TransferEncrypted(from, to common.Address, amount conf.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.move(from, to, amount, nil)
	if err != nil {
		return fmt.Errorf("token: transfer: %w", err)
	}
	return nil
}

// TransferFromEncrypted implements Token: moves
// min(amount, balance(from), allowance(from, operator)) and burns that much
// allowance.
func (l *Ledger) TransferFromEncrypted(operator, from, to common.Address, amount conf.Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := allowanceKey{from, operator}
	allowance, ok := l.allowances[key]
	if !ok {
		// no allowance set: clamp to zero
		var err error
		allowance, err = l.ev.Constant(0)
		if err != nil {
			return fmt.Errorf("token: transfer from: %w", err)
		}
	}

	moved, err := l.move(from, to, amount, &allowance)
	if err != nil {
		return fmt.Errorf("token: transfer from: %w", err)
	}

	remaining, err := l.ev.Sub(allowance, moved)
	if err != nil {
		return fmt.Errorf("token: transfer from: %w", err)
	}
	l.allowances[key] = remaining
	return nil
}

// move performs the clamped transfer and returns the handle of the amount
// actually moved. Callers must hold l.mu.
func (l *Ledger) move(from, to common.Address, amount conf.Handle, allowance *conf.Handle) (conf.Handle, error) {
	fromBal, err := l.balance(from)
	if err != nil {
		return conf.ZeroHandle, err
	}
	toBal, err := l.balance(to)
	if err != nil {
		return conf.ZeroHandle, err
	}

	effective, err := l.ev.Min(amount, fromBal)
	if err != nil {
		return conf.ZeroHandle, err
	}
	if allowance != nil {
		effective, err = l.ev.Min(effective, *allowance)
		if err != nil {
			return conf.ZeroHandle, err
		}
	}

	newFrom, err := l.ev.Sub(fromBal, effective)
	if err != nil {
		return conf.ZeroHandle, err
	}
	newTo, err := l.ev.Add(toBal, effective)
	if err != nil {
		return conf.ZeroHandle, err
	}

	if err := l.setBalance(from, newFrom); err != nil {
		return conf.ZeroHandle, err
	}
	if err := l.setBalance(to, newTo); err != nil {
		return conf.ZeroHandle, err
	}
	return effective, nil
}

var _ Token = (*Ledger)(nil)
