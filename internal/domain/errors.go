package domain

import "errors"

// Structural errors: bad parameters, wrong lifecycle state, missed deadlines,
// unauthorized callers, bad proofs. These fail the whole operation with no
// state change. Conditions derived from sealed data never surface here; they
// degrade silently inside the engine (see internal/validate).
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid market state for operation")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrDeadlineNotReached = errors.New("deadline not reached")
	ErrBettingClosed      = errors.New("betting deadline passed")
	ErrAlreadyClaimed     = errors.New("winnings already claimed")
	ErrTotalsNotRevealed  = errors.New("pool totals not revealed")
	ErrOutcomeNotSet      = errors.New("outcome not set")
	ErrInvalidOutcome     = errors.New("invalid outcome value")
	ErrBadProof           = errors.New("decryption proof rejected")
	ErrProofMismatch      = errors.New("proof does not cover the requested handles")
	ErrReentrantCall      = errors.New("reentrant call")
	ErrQuestionLength     = errors.New("question length out of bounds")
	ErrDurationBounds     = errors.New("duration out of bounds")
	ErrZeroResolver       = errors.New("resolver address is zero")
	ErrFeeTooHigh         = errors.New("fee exceeds maximum")
	ErrLockHeld           = errors.New("lock already held")
)
