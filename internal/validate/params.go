// Package validate enforces the engine's two validation regimes. Plaintext
// parameter checks fail fast with structural errors before any sealed
// operation runs. Bound checks over sealed amounts never fail: they produce a
// sealed verdict, because failing on a condition derived from secret data
// would leak that data through the failure itself.
package validate

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/domain"
)

const (
	MinQuestionLen = 8
	MaxQuestionLen = 256

	MinBettingWindow = time.Hour
	MaxBettingWindow = 90 * 24 * time.Hour

	MinResolutionDelay = time.Hour
	MaxResolutionDelay = 30 * 24 * time.Hour
)

// MarketParams are the plaintext parameters of a market-creation request.
type MarketParams struct {
	Question        string
	ImageURL        string
	Category        string
	Resolver        common.Address
	BettingDeadline time.Time
	ResolutionTime  time.Time
}

// ValidateMarketParams checks a creation request against now. Nothing is mutated
// on failure; every check reports a specific structural error.
func ValidateMarketParams(p MarketParams, now time.Time) error {
	if n := len(p.Question); n < MinQuestionLen || n > MaxQuestionLen {
		return fmt.Errorf("validate: question length %d: %w", n, domain.ErrQuestionLength)
	}
	if p.Resolver == (common.Address{}) {
		return fmt.Errorf("validate: %w", domain.ErrZeroResolver)
	}
	window := p.BettingDeadline.Sub(now)
	if window < MinBettingWindow || window > MaxBettingWindow {
		return fmt.Errorf("validate: betting window %s: %w", window, domain.ErrDurationBounds)
	}
	delay := p.ResolutionTime.Sub(p.BettingDeadline)
	if delay < MinResolutionDelay || delay > MaxResolutionDelay {
		return fmt.Errorf("validate: resolution delay %s: %w", delay, domain.ErrDurationBounds)
	}
	return nil
}

// ValidateFeeBps checks the protocol fee against the hard maximum.
func ValidateFeeBps(bps uint64) error {
	if bps > domain.MaxFeeBps {
		return fmt.Errorf("validate: fee %d bps: %w", bps, domain.ErrFeeTooHigh)
	}
	return nil
}
