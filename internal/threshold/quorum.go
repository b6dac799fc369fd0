// Package threshold implements the decryption-proof side of the resolution
// protocol. A t-of-n quorum of key holders signs the opening of publicly
// decryptable handles; the engine trusts a cleartext only after verifying
// enough distinct member signatures over the exact (handles, cleartexts)
// pair.
package threshold

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilbet/veilbet/internal/conf"
)

var (
	ErrThresholdInvalid = errors.New("threshold: t must be >= 1 and <= n")
	ErrMalformedProof   = errors.New("threshold: malformed proof")
	ErrNotEnoughShares  = errors.New("threshold: insufficient valid shares")
	ErrUnknownSigner    = errors.New("threshold: share signed by unknown member")
	ErrDuplicateSigner  = errors.New("threshold: duplicate member share")
)

// proofTag domain-separates decryption-proof digests.
var proofTag = ethcrypto.Keccak256([]byte("veilbet/decryption-proof/v1"))

// DecryptionProof binds a set of ciphertext handles to their claimed
// plaintexts, witnessed by member signatures over the digest of both.
type DecryptionProof struct {
	Handles    []conf.Handle `json:"handles"`
	Cleartexts []uint64      `json:"cleartexts"`
	Shares     [][]byte      `json:"shares"`
}

// ProofDigest computes the digest every member signs:
// keccak256(tag || len || handles... || cleartexts...).
func ProofDigest(handles []conf.Handle, cleartexts []uint64) []byte {
	data := make([]byte, 0, 32+8+len(handles)*32+len(cleartexts)*8)
	data = append(data, proofTag...)
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(handles)))
	data = append(data, n[:]...)
	for _, h := range handles {
		data = append(data, h[:]...)
	}
	for _, v := range cleartexts {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], v)
		data = append(data, buf[:]...)
	}
	return ethcrypto.Keccak256(data)
}

// Quorum verifies decryption proofs against a fixed member set.
type Quorum struct {
	threshold int
	members   map[common.Address]bool
}

// NewQuorum creates a verifier requiring threshold distinct member
// signatures out of the given member addresses.
func NewQuorum(threshold int, members []common.Address) (*Quorum, error) {
	if threshold < 1 || threshold > len(members) {
		return nil, ErrThresholdInvalid
	}
	set := make(map[common.Address]bool, len(members))
	for _, m := range members {
		set[m] = true
	}
	return &Quorum{threshold: threshold, members: set}, nil
}

// Threshold returns the configured t.
func (q *Quorum) Threshold() int {
	return q.threshold
}

// Verify checks the proof: well-formed, every share recovers to a distinct
// registered member, and at least t shares are present. A proof that fails
// here must not change any state; the submitter may retry with a valid one.
func (q *Quorum) Verify(p DecryptionProof) error {
	if len(p.Handles) == 0 || len(p.Handles) != len(p.Cleartexts) {
		return ErrMalformedProof
	}
	digest := ProofDigest(p.Handles, p.Cleartexts)

	seen := make(map[common.Address]bool, len(p.Shares))
	valid := 0
	for _, share := range p.Shares {
		if len(share) != 65 {
			return ErrMalformedProof
		}
		pub, err := ethcrypto.SigToPub(digest, share)
		if err != nil {
			return ErrMalformedProof
		}
		addr := ethcrypto.PubkeyToAddress(*pub)
		if !q.members[addr] {
			return ErrUnknownSigner
		}
		if seen[addr] {
			return ErrDuplicateSigner
		}
		seen[addr] = true
		valid++
	}
	if valid < q.threshold {
		return ErrNotEnoughShares
	}
	return nil
}
