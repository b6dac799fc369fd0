// Package conf implements the confidential-value engine: sealed integers and
// booleans referenced by opaque handles, a capability list controlling who may
// operate on or decrypt each value, and an evaluator that performs arithmetic,
// comparison, and branchless selection without ever exposing plaintext to its
// callers. Plaintext exists only inside the sealed boundary.
package conf

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Kind discriminates the value type behind a handle.
type Kind byte

const (
	KindUint64 Kind = iota
	KindBool
)

// String returns the type name used in logs and events.
func (k Kind) String() string {
	switch k {
	case KindUint64:
		return "euint64"
	case KindBool:
		return "ebool"
	default:
		return "unknown"
	}
}

// Handle is an opaque 32-byte reference to a confidential value. Handles are
// safe to emit in events and store outside the engine; they reveal nothing
// about the underlying plaintext.
type Handle [32]byte

// ZeroHandle is the nil reference. No sealed value is ever stored under it.
var ZeroHandle Handle

// IsZero reports whether h is the nil reference.
func (h Handle) IsZero() bool {
	return h == ZeroHandle
}

// Hex returns the 0x-prefixed hex encoding of the handle.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return h.Hex()
}

// MarshalJSON encodes the handle in its 0x-prefixed hex form.
func (h Handle) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Hex())
}

// UnmarshalJSON decodes the 0x-prefixed hex form.
func (h *Handle) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = HandleFromHex(s)
	return nil
}

// Bytes returns a copy of the raw handle bytes.
func (h Handle) Bytes() []byte {
	out := make([]byte, 32)
	copy(out, h[:])
	return out
}

// HandleFromHex parses the 0x-prefixed form produced by Hex. Malformed input
// yields the zero handle.
func HandleFromHex(s string) Handle {
	s = strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHandle
	}
	return HandleFromBytes(b)
}

// HandleFromBytes reconstructs a Handle from its raw byte form. Inputs that
// are not exactly 32 bytes yield the zero handle.
func HandleFromBytes(b []byte) Handle {
	var h Handle
	if len(b) != 32 {
		return h
	}
	copy(h[:], b)
	return h
}

// deriveHandle computes the identifier for a sealed value: the keccak256 of
// the nonce and ciphertext, so the handle commits to exactly one sealing.
func deriveHandle(sealed []byte) Handle {
	var h Handle
	copy(h[:], ethcrypto.Keccak256(sealed))
	return h
}
