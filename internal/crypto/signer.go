package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilbet/veilbet/internal/conf"
)

// Signer wraps an ECDSA private key behind the operations the rest of the
// system needs: recoverable digest signatures and input attestations.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewSigner parses a hex-encoded private key, as returned by LoadKey.
func NewSigner(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	return &Signer{
		key:  key,
		addr: ethcrypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer's Ethereum-style address.
func (s *Signer) Address() common.Address {
	return s.addr
}

// Key exposes the raw key for collaborators that sign internally, such as a
// decryption committee member.
func (s *Signer) Key() *ecdsa.PrivateKey {
	return s.key
}

// SignDigest produces a 65-byte recoverable signature over a 32-byte digest.
func (s *Signer) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("crypto: digest must be 32 bytes, got %d", len(digest))
	}
	sig, err := ethcrypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign digest: %w", err)
	}
	return sig, nil
}

// AttestInput signs the binding of a sealed input handle to this signer as
// owner and the given consumer, in the form the engine verifies on ingest.
func (s *Signer) AttestInput(h conf.Handle, consumer common.Address) ([]byte, error) {
	sig, err := conf.SignInput(s.key, h, s.addr, consumer)
	if err != nil {
		return nil, fmt.Errorf("crypto: attest input: %w", err)
	}
	return sig, nil
}
