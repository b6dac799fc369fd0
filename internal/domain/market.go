package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
)

// MarketState is the lifecycle state of a market. States only ever advance:
// Open -> Locked -> Resolving -> Resolved, no cycles, no skips.
type MarketState string

const (
	MarketStateOpen      MarketState = "open"
	MarketStateLocked    MarketState = "locked"
	MarketStateResolving MarketState = "resolving"
	MarketStateResolved  MarketState = "resolved"
)

// order maps each state to its position in the lifecycle.
func (s MarketState) order() int {
	switch s {
	case MarketStateOpen:
		return 0
	case MarketStateLocked:
		return 1
	case MarketStateResolving:
		return 2
	case MarketStateResolved:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is a known lifecycle state.
func (s MarketState) Valid() bool {
	return s.order() >= 0
}

// CanAdvanceTo reports whether next is the single legal successor of s.
func (s MarketState) CanAdvanceTo(next MarketState) bool {
	return s.order() >= 0 && next.order() == s.order()+1
}

// Outcome is the resolved result of a market.
type Outcome string

const (
	OutcomeNotSet  Outcome = "not_set"
	OutcomeYes     Outcome = "yes"
	OutcomeNo      Outcome = "no"
	OutcomeInvalid Outcome = "invalid"
)

// Settleable reports whether o is a value a resolver may set.
func (o Outcome) Settleable() bool {
	return o == OutcomeYes || o == OutcomeNo || o == OutcomeInvalid
}

// Market is a single binary-outcome confidential market. The two pool totals
// stay sealed for the market's whole betting life; YesTotal/NoTotal hold
// meaning only once TotalsRevealed is set by a verified decryption proof.
type Market struct {
	ID       uint64
	Question string
	ImageURL string
	Category string

	Creator  common.Address
	Resolver common.Address

	CreatedAt       time.Time
	BettingDeadline time.Time
	ResolutionTime  time.Time

	State   MarketState
	Outcome Outcome

	YesPool conf.Handle
	NoPool  conf.Handle

	TotalsRevealed bool
	YesTotal       uint64
	NoTotal        uint64

	UpdatedAt time.Time
}
