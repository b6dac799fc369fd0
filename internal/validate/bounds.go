package validate

import (
	"fmt"

	"github.com/veilbet/veilbet/internal/conf"
)

// StakeBounds are the plaintext stake limits a deployment configures. The
// comparison against a sealed stake happens entirely inside the evaluator.
type StakeBounds struct {
	Min uint64
	Max uint64
}

// CheckStakeBounds returns a sealed verdict: amount != 0 && Min <= amount <=
// Max. The caller consumes the verdict with a Select (degrading the stake to
// zero) rather than branching on it; decrypting it here, or returning an
// error keyed on it, would leak the stake.
func CheckStakeBounds(ev *conf.Evaluator, amount conf.Handle, b StakeBounds) (conf.Handle, error) {
	lo, err := ev.Constant(b.Min)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}
	hi, err := ev.Constant(b.Max)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}

	zero, err := ev.IsZero(amount)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}
	nonZero, err := ev.Not(zero)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}
	ge, err := ev.Ge(amount, lo)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}
	le, err := ev.Le(amount, hi)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}

	inRange, err := ev.And(ge, le)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}
	verdict, err := ev.And(nonZero, inRange)
	if err != nil {
		return conf.ZeroHandle, fmt.Errorf("validate: stake bounds: %w", err)
	}
	return verdict, nil
}
