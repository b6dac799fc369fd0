package validate

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
)

// Sealed error codes recorded per principal. A user decrypts their own code
// out-of-band to learn why an operation silently did less than requested.
const (
	CodeOK uint64 = iota
	CodeStakeOutOfBounds
	CodeInsufficientFunds
)

// LastError is the most recent sealed error code for one principal.
type LastError struct {
	Code conf.Handle
	At   time.Time
}

// ErrorRegistry is the process-wide secrecy-preserving failure channel: a map
// from principal to sealed (code, timestamp), overwritten on every relevant
// operation and readable only by its owner. Entries are never cleared.
type ErrorRegistry struct {
	mu      sync.RWMutex
	engine  *conf.Engine
	entries map[common.Address]LastError
	now     func() time.Time
}

// NewErrorRegistry creates a registry backed by the given engine.
func NewErrorRegistry(engine *conf.Engine) *ErrorRegistry {
	return &ErrorRegistry{
		engine:  engine,
		entries: make(map[common.Address]LastError),
		now:     time.Now,
	}
}

// Record seals code, grants it only to user, and overwrites their entry.
func (r *ErrorRegistry) Record(user common.Address, code uint64) error {
	h, err := r.engine.EncryptUint64(code, user)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[user] = LastError{Code: h, At: r.now()}
	r.mu.Unlock()
	return nil
}

// Check pairs a sealed verdict with the code recorded when the verdict is
// false.
type Check struct {
	Verdict  conf.Handle
	FailCode uint64
}

// RecordChecks seals the fail code of the first false check, or CodeOK when
// every check holds, and overwrites the user's entry. The selection happens
// inside the evaluator so the registry write pattern is identical on every
// path.
func (r *ErrorRegistry) RecordChecks(ev *conf.Evaluator, user common.Address, checks ...Check) error {
	code, err := ev.Constant(CodeOK)
	if err != nil {
		return err
	}
	for i := len(checks) - 1; i >= 0; i-- {
		failH, err := ev.Constant(checks[i].FailCode)
		if err != nil {
			return err
		}
		code, err = ev.Select(checks[i].Verdict, code, failH)
		if err != nil {
			return err
		}
	}
	if err := ev.Allow(code, user); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[user] = LastError{Code: code, At: r.now()}
	r.mu.Unlock()
	return nil
}

// Get returns the sealed entry for user, if any.
func (r *ErrorRegistry) Get(user common.Address) (LastError, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	le, ok := r.entries[user]
	return le, ok
}
