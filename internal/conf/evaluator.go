package conf

import (
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// Evaluator performs arithmetic over sealed values on behalf of a single
// principal (typically the market engine's own address). Every operand must
// be granted to the principal; every result is granted back to it. Results
// are new handles; operands are never mutated.
//
// All guarded operations saturate instead of failing: an overflowing add
// yields the maximum value, an underflowing sub yields zero. Surfacing
// overflow as an error would turn a property of secret operands into a
// plaintext signal.
type Evaluator struct {
	e         *Engine
	principal common.Address
}

// Evaluator returns an evaluator acting as principal.
func (e *Engine) Evaluator(principal common.Address) *Evaluator {
	return &Evaluator{e: e, principal: principal}
}

// Principal returns the acting address.
func (ev *Evaluator) Principal() common.Address {
	return ev.principal
}

// fetch unseals an operand after checking the principal's capability.
// Callers must hold ev.e.mu.
func (ev *Evaluator) fetch(h Handle, want Kind) (uint64, error) {
	if !ev.e.isAllowed(h, ev.principal) {
		return 0, ErrAccessDenied
	}
	k, v, err := ev.e.unseal(h)
	if err != nil {
		return 0, err
	}
	if k != want {
		return 0, ErrKindMismatch
	}
	return v, nil
}

// emit seals a result and grants it to the principal.
// Callers must hold ev.e.mu.
func (ev *Evaluator) emit(kind Kind, v uint64) (Handle, error) {
	h, err := ev.e.seal(kind, v)
	if err != nil {
		return ZeroHandle, err
	}
	ev.e.grant(h, ev.principal, false)
	return h, nil
}

// binOp runs f over two euint64 operands.
func (ev *Evaluator) binOp(a, b Handle, f func(x, y uint64) uint64) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(a, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	y, err := ev.fetch(b, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	return ev.emit(KindUint64, f(x, y))
}

// cmpOp runs f over two euint64 operands and emits an ebool.
func (ev *Evaluator) cmpOp(a, b Handle, f func(x, y uint64) bool) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(a, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	y, err := ev.fetch(b, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	var v uint64
	if f(x, y) {
		v = 1
	}
	return ev.emit(KindBool, v)
}

// Constant seals a plaintext literal for use as an operand.
func (ev *Evaluator) Constant(v uint64) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	return ev.emit(KindUint64, v)
}

// ConstantBool seals a plaintext boolean literal.
func (ev *Evaluator) ConstantBool(v bool) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	var raw uint64
	if v {
		raw = 1
	}
	return ev.emit(KindBool, raw)
}

// Add returns a+b, saturating at the maximum on overflow.
func (ev *Evaluator) Add(a, b Handle) (Handle, error) {
	return ev.binOp(a, b, func(x, y uint64) uint64 {
		sum, carry := bits.Add64(x, y, 0)
		// compute both outcomes, pick on the carry
		return pick(carry != 0, ^uint64(0), sum)
	})
}

// Sub returns a-b, saturating at zero on underflow.
func (ev *Evaluator) Sub(a, b Handle) (Handle, error) {
	return ev.binOp(a, b, func(x, y uint64) uint64 {
		diff, borrow := bits.Sub64(x, y, 0)
		return pick(borrow != 0, 0, diff)
	})
}

// Mul returns a*b, saturating at the maximum on overflow.
func (ev *Evaluator) Mul(a, b Handle) (Handle, error) {
	return ev.binOp(a, b, func(x, y uint64) uint64 {
		hi, lo := bits.Mul64(x, y)
		return pick(hi != 0, ^uint64(0), lo)
	})
}

// Min returns the smaller operand.
func (ev *Evaluator) Min(a, b Handle) (Handle, error) {
	return ev.binOp(a, b, func(x, y uint64) uint64 {
		return pick(x < y, x, y)
	})
}

// Max returns the larger operand.
func (ev *Evaluator) Max(a, b Handle) (Handle, error) {
	return ev.binOp(a, b, func(x, y uint64) uint64 {
		return pick(x > y, x, y)
	})
}

// Clamp returns v bounded into [lo, hi].
func (ev *Evaluator) Clamp(v, lo, hi Handle) (Handle, error) {
	m, err := ev.Max(v, lo)
	if err != nil {
		return ZeroHandle, err
	}
	return ev.Min(m, hi)
}

// Select returns a when flag is true, b otherwise. This is the branchless
// conditional used wherever an update depends on a secret boolean: both
// outcomes are computed, one is picked.
func (ev *Evaluator) Select(flag, a, b Handle) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	f, err := ev.fetch(flag, KindBool)
	if err != nil {
		return ZeroHandle, err
	}
	ka, x, err := ev.fetchAny(a)
	if err != nil {
		return ZeroHandle, err
	}
	kb, y, err := ev.fetchAny(b)
	if err != nil {
		return ZeroHandle, err
	}
	if ka != kb {
		return ZeroHandle, ErrKindMismatch
	}
	return ev.emit(ka, pick(f != 0, x, y))
}

// fetchAny unseals an operand of either kind. Callers must hold ev.e.mu.
func (ev *Evaluator) fetchAny(h Handle) (Kind, uint64, error) {
	if !ev.e.isAllowed(h, ev.principal) {
		return 0, 0, ErrAccessDenied
	}
	return ev.e.unseal(h)
}

// Percent returns v*bps/10000, the basis-point percentage of v.
func (ev *Evaluator) Percent(v Handle, bps uint64) (Handle, error) {
	return ev.MulDiv(v, bps, 10_000)
}

// MulDiv returns v*mul/div with full 128-bit intermediate precision. The
// divisor is plaintext: division by a sealed divisor is unsupported by the
// arithmetic model, which is why pool totals must be revealed before any
// payout is computed.
func (ev *Evaluator) MulDiv(v Handle, mul, div uint64) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(v, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	if div == 0 {
		return ZeroHandle, ErrDivisionByZero
	}
	hi, lo := bits.Mul64(x, mul)
	if hi >= div {
		// quotient exceeds 64 bits; saturate
		return ev.emit(KindUint64, ^uint64(0))
	}
	q, _ := bits.Div64(hi, lo, div)
	return ev.emit(KindUint64, q)
}

// ScalarAdd returns v+c for a plaintext constant, saturating on overflow.
func (ev *Evaluator) ScalarAdd(v Handle, c uint64) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(v, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	sum, carry := bits.Add64(x, c, 0)
	return ev.emit(KindUint64, pick(carry != 0, ^uint64(0), sum))
}

// ScalarMul returns v*c for a plaintext constant, saturating on overflow.
func (ev *Evaluator) ScalarMul(v Handle, c uint64) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(v, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	hi, lo := bits.Mul64(x, c)
	return ev.emit(KindUint64, pick(hi != 0, ^uint64(0), lo))
}

// Eq returns a == b as an ebool.
func (ev *Evaluator) Eq(a, b Handle) (Handle, error) {
	return ev.cmpOp(a, b, func(x, y uint64) bool { return x == y })
}

// Gt returns a > b as an ebool.
func (ev *Evaluator) Gt(a, b Handle) (Handle, error) {
	return ev.cmpOp(a, b, func(x, y uint64) bool { return x > y })
}

// Ge returns a >= b as an ebool.
func (ev *Evaluator) Ge(a, b Handle) (Handle, error) {
	return ev.cmpOp(a, b, func(x, y uint64) bool { return x >= y })
}

// Lt returns a < b as an ebool.
func (ev *Evaluator) Lt(a, b Handle) (Handle, error) {
	return ev.cmpOp(a, b, func(x, y uint64) bool { return x < y })
}

// Le returns a <= b as an ebool.
func (ev *Evaluator) Le(a, b Handle) (Handle, error) {
	return ev.cmpOp(a, b, func(x, y uint64) bool { return x <= y })
}

// IsZero returns v == 0 as an ebool.
func (ev *Evaluator) IsZero(v Handle) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(v, KindUint64)
	if err != nil {
		return ZeroHandle, err
	}
	var out uint64
	if x == 0 {
		out = 1
	}
	return ev.emit(KindBool, out)
}

// boolOp runs f over two ebool operands.
func (ev *Evaluator) boolOp(a, b Handle, f func(x, y bool) bool) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(a, KindBool)
	if err != nil {
		return ZeroHandle, err
	}
	y, err := ev.fetch(b, KindBool)
	if err != nil {
		return ZeroHandle, err
	}
	var out uint64
	if f(x != 0, y != 0) {
		out = 1
	}
	return ev.emit(KindBool, out)
}

// And returns a && b over ebools.
func (ev *Evaluator) And(a, b Handle) (Handle, error) {
	return ev.boolOp(a, b, func(x, y bool) bool { return x && y })
}

// Or returns a || b over ebools.
func (ev *Evaluator) Or(a, b Handle) (Handle, error) {
	return ev.boolOp(a, b, func(x, y bool) bool { return x || y })
}

// Not returns !a over an ebool.
func (ev *Evaluator) Not(a Handle) (Handle, error) {
	ev.e.mu.Lock()
	defer ev.e.mu.Unlock()
	x, err := ev.fetch(a, KindBool)
	if err != nil {
		return ZeroHandle, err
	}
	var out uint64
	if x == 0 {
		out = 1
	}
	return ev.emit(KindBool, out)
}

// Allow re-exports Engine.Allow with the evaluator's principal as granter.
func (ev *Evaluator) Allow(h Handle, grantee common.Address) error {
	return ev.e.Allow(h, ev.principal, grantee)
}

// pick is the sealed-side two-way select. Outside the sealed boundary the
// same shape exists as Evaluator.Select over handles.
func pick(cond bool, a, b uint64) uint64 {
	if cond {
		return a
	}
	return b
}
