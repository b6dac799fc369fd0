package conf

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrBadKey          = errors.New("conf: engine key must be 32 bytes")
	ErrUnknownHandle   = errors.New("conf: unknown handle")
	ErrAccessDenied    = errors.New("conf: access denied for handle")
	ErrNotDecryptable  = errors.New("conf: handle not marked publicly decryptable")
	ErrKindMismatch    = errors.New("conf: operand kind mismatch")
	ErrSealCorrupted   = errors.New("conf: sealed value corrupted")
	ErrBadAttestation  = errors.New("conf: input attestation rejected")
	ErrDivisionByZero  = errors.New("conf: division by zero")
	ErrZeroHandle      = errors.New("conf: zero handle")
)

// sealedLen is nonce (12) + GCM overhead (16) + kind byte + 8 value bytes.
const plainLen = 1 + 8

// Engine owns the sealed value store, the capability list, and the
// public-decryption marks. All access to plaintext happens inside Engine
// methods; callers move handles around.
type Engine struct {
	mu     sync.RWMutex
	aead   cipher.AEAD
	values map[Handle][]byte

	// acl maps handle -> grantee set. transient grants are tracked
	// separately so they can be dropped at the end of a transaction.
	acl       map[Handle]map[common.Address]bool
	transient map[Handle]map[common.Address]bool

	// public marks handles whose plaintext the threshold service may open.
	public map[Handle]bool
}

// NewEngine creates an Engine sealed under the given 32-byte key.
func NewEngine(key []byte) (*Engine, error) {
	if len(key) != 32 {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("conf: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("conf: new gcm: %w", err)
	}
	return &Engine{
		aead:      aead,
		values:    make(map[Handle][]byte),
		acl:       make(map[Handle]map[common.Address]bool),
		transient: make(map[Handle]map[common.Address]bool),
		public:    make(map[Handle]bool),
	}, nil
}

// seal encrypts (kind, value) and stores it, returning the derived handle.
// Callers must hold e.mu.
func (e *Engine) seal(kind Kind, v uint64) (Handle, error) {
	plain := make([]byte, plainLen)
	plain[0] = byte(kind)
	binary.BigEndian.PutUint64(plain[1:], v)

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return ZeroHandle, fmt.Errorf("conf: nonce: %w", err)
	}
	sealed := append(nonce, e.aead.Seal(nil, nonce, plain, nil)...)

	h := deriveHandle(sealed)
	e.values[h] = sealed
	return h, nil
}

// unseal decrypts the value behind h. Callers must hold e.mu (read or write).
func (e *Engine) unseal(h Handle) (Kind, uint64, error) {
	if h.IsZero() {
		return 0, 0, ErrZeroHandle
	}
	sealed, ok := e.values[h]
	if !ok {
		return 0, 0, ErrUnknownHandle
	}
	ns := e.aead.NonceSize()
	if len(sealed) < ns {
		return 0, 0, ErrSealCorrupted
	}
	plain, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil || len(plain) != plainLen {
		return 0, 0, ErrSealCorrupted
	}
	return Kind(plain[0]), binary.BigEndian.Uint64(plain[1:]), nil
}

// EncryptUint64 seals a plaintext constant and grants it to owner. This is
// the trivial-encrypt path used for literals and zero initialisers.
func (e *Engine) EncryptUint64(v uint64, owner common.Address) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, err := e.seal(KindUint64, v)
	if err != nil {
		return ZeroHandle, err
	}
	e.grant(h, owner, false)
	return h, nil
}

// EncryptBool seals a plaintext boolean and grants it to owner.
func (e *Engine) EncryptBool(v bool, owner common.Address) (Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var raw uint64
	if v {
		raw = 1
	}
	h, err := e.seal(KindBool, raw)
	if err != nil {
		return ZeroHandle, err
	}
	e.grant(h, owner, false)
	return h, nil
}

// IngestInput verifies the bettor's attestation over an input handle and, on
// success, grants the consumer access to it. The attestation binds the exact
// ciphertext to (owner, consumer) so a handle cannot be replayed by or against
// another party.
func (e *Engine) IngestInput(h Handle, owner, consumer common.Address, attestation []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.values[h]; !ok {
		return ErrUnknownHandle
	}
	if err := VerifyInputAttestation(h, owner, consumer, attestation); err != nil {
		return err
	}
	e.grant(h, consumer, false)
	return nil
}

// Decrypt reveals the plaintext behind h to caller. The caller must hold a
// grant on the handle; this is the owner-side decryption path (a user reading
// their own position), never used by the market engine itself.
func (e *Engine) Decrypt(h Handle, caller common.Address) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.isAllowed(h, caller) {
		return 0, ErrAccessDenied
	}
	_, v, err := e.unseal(h)
	return v, err
}

// DecryptBool is Decrypt for boolean handles.
func (e *Engine) DecryptBool(h Handle, caller common.Address) (bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.isAllowed(h, caller) {
		return false, ErrAccessDenied
	}
	k, v, err := e.unseal(h)
	if err != nil {
		return false, err
	}
	if k != KindBool {
		return false, ErrKindMismatch
	}
	return v != 0, nil
}

// MarkPubliclyDecryptable flags h as eligible for the threshold service to
// open. Only the engine side of a resolution request calls this; the flag is
// never cleared.
func (e *Engine) MarkPubliclyDecryptable(h Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.values[h]; !ok {
		return ErrUnknownHandle
	}
	e.public[h] = true
	return nil
}

// IsPubliclyDecryptable reports whether h has been marked for public reveal.
func (e *Engine) IsPubliclyDecryptable(h Handle) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.public[h]
}

// OpenPublic reveals the plaintext behind a handle that was previously marked
// publicly decryptable. This is the threshold-oracle path; unmarked handles
// are refused regardless of caller.
func (e *Engine) OpenPublic(h Handle) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.public[h] {
		return 0, ErrNotDecryptable
	}
	_, v, err := e.unseal(h)
	return v, err
}

// KindOf returns the kind of the value behind h without revealing it.
func (e *Engine) KindOf(h Handle) (Kind, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	k, _, err := e.unseal(h)
	return k, err
}
