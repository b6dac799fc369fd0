package threshold

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilbet/veilbet/internal/conf"
)

// Oracle is the off-chain side of the protocol: it opens publicly
// decryptable handles and produces a proof signed by the member keys it
// holds. The resolver worker runs one; tests run one.
type Oracle struct {
	engine *conf.Engine
	keys   []*ecdsa.PrivateKey
}

// NewOracle creates an Oracle over the given engine holding the given member
// keys.
func NewOracle(engine *conf.Engine, keys []*ecdsa.PrivateKey) *Oracle {
	return &Oracle{engine: engine, keys: keys}
}

// Addresses returns the member addresses for the held keys, in key order.
func (o *Oracle) Addresses() []common.Address {
	out := make([]common.Address, len(o.keys))
	for i, k := range o.keys {
		out[i] = ethcrypto.PubkeyToAddress(k.PublicKey)
	}
	return out
}

// Decrypt opens each handle and signs the (handles, cleartexts) digest with
// every held key. Handles not marked publicly decryptable fail the whole
// request: the oracle never opens anything the engine did not surrender.
func (o *Oracle) Decrypt(handles []conf.Handle) (DecryptionProof, error) {
	cleartexts := make([]uint64, len(handles))
	for i, h := range handles {
		v, err := o.engine.OpenPublic(h)
		if err != nil {
			return DecryptionProof{}, fmt.Errorf("threshold: open %s: %w", h.Hex(), err)
		}
		cleartexts[i] = v
	}

	digest := ProofDigest(handles, cleartexts)
	shares := make([][]byte, len(o.keys))
	for i, k := range o.keys {
		sig, err := ethcrypto.Sign(digest, k)
		if err != nil {
			return DecryptionProof{}, fmt.Errorf("threshold: sign share %d: %w", i, err)
		}
		shares[i] = sig
	}

	return DecryptionProof{Handles: handles, Cleartexts: cleartexts, Shares: shares}, nil
}
