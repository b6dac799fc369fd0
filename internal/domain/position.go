package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
)

// Position is one bettor's sealed stake in one market. Repeated bets
// accumulate into the existing amounts; the amounts never decrease before
// claim. Claimed is plaintext: the fact that a claim happened is public, the
// amount is not.
type Position struct {
	MarketID uint64
	Bettor   common.Address

	YesAmount   conf.Handle
	NoAmount    conf.Handle
	HasPosition conf.Handle

	Claimed   bool
	ClaimedAt *time.Time
}

// FeeConfig is the per-engine protocol fee: a basis-point rate bounded by
// MaxFeeBps, the collector address, and the sealed running total of fees
// taken so far.
type FeeConfig struct {
	FeeBps    uint64
	Collector common.Address
	Collected conf.Handle
}

// MaxFeeBps caps the protocol fee at 10%.
const MaxFeeBps uint64 = 1_000
