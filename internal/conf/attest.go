package conf

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// attestTag domain-separates input attestation digests from every other
// signature in the system.
var attestTag = ethcrypto.Keccak256([]byte("veilbet/input-attestation/v1"))

// InputDigest computes the digest a bettor signs to authorize an input
// ciphertext: keccak256(tag || handle || owner || consumer). Binding the
// consumer prevents a handle submitted to one market engine from being
// replayed against another.
func InputDigest(h Handle, owner, consumer common.Address) []byte {
	data := make([]byte, 0, 32+32+20+20)
	data = append(data, attestTag...)
	data = append(data, h[:]...)
	data = append(data, owner.Bytes()...)
	data = append(data, consumer.Bytes()...)
	return ethcrypto.Keccak256(data)
}

// SignInput produces the 65-byte attestation for an input handle.
func SignInput(priv *ecdsa.PrivateKey, h Handle, owner, consumer common.Address) ([]byte, error) {
	sig, err := ethcrypto.Sign(InputDigest(h, owner, consumer), priv)
	if err != nil {
		return nil, fmt.Errorf("conf: sign input: %w", err)
	}
	return sig, nil
}

// VerifyInputAttestation checks that sig is the owner's signature over the
// input digest for (h, owner, consumer).
func VerifyInputAttestation(h Handle, owner, consumer common.Address, sig []byte) error {
	if len(sig) != 65 {
		return ErrBadAttestation
	}
	pub, err := ethcrypto.SigToPub(InputDigest(h, owner, consumer), sig)
	if err != nil {
		return ErrBadAttestation
	}
	if ethcrypto.PubkeyToAddress(*pub) != owner {
		return ErrBadAttestation
	}
	return nil
}
