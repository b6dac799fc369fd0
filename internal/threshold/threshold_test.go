package threshold

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/veilbet/veilbet/internal/conf"
)

func genKeys(t *testing.T, n int) []*ecdsa.PrivateKey {
	t.Helper()
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range keys {
		k, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
	}
	return keys
}

func markedHandles(t *testing.T, engine *conf.Engine, values ...uint64) []conf.Handle {
	t.Helper()
	owner := common.HexToAddress("0x00000000000000000000000000000000000000e1")
	handles := make([]conf.Handle, len(values))
	for i, v := range values {
		h, err := engine.EncryptUint64(v, owner)
		require.NoError(t, err)
		require.NoError(t, engine.MarkPubliclyDecryptable(h))
		handles[i] = h
	}
	return handles
}

func TestNewQuorumBounds(t *testing.T) {
	keys := genKeys(t, 3)
	oracle := NewOracle(nil, keys)
	members := oracle.Addresses()

	_, err := NewQuorum(0, members)
	require.ErrorIs(t, err, ErrThresholdInvalid)
	_, err = NewQuorum(4, members)
	require.ErrorIs(t, err, ErrThresholdInvalid)
	q, err := NewQuorum(2, members)
	require.NoError(t, err)
	require.Equal(t, 2, q.Threshold())
}

func TestOracleProofVerifies(t *testing.T) {
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)

	keys := genKeys(t, 3)
	oracle := NewOracle(engine, keys)
	q, err := NewQuorum(2, oracle.Addresses())
	require.NoError(t, err)

	handles := markedHandles(t, engine, 1500, 2000)
	proof, err := oracle.Decrypt(handles)
	require.NoError(t, err)
	require.Equal(t, []uint64{1500, 2000}, proof.Cleartexts)
	require.NoError(t, q.Verify(proof))
}

func TestOracleRefusesUnmarkedHandle(t *testing.T) {
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000e1")

	h, err := engine.EncryptUint64(42, owner)
	require.NoError(t, err)

	oracle := NewOracle(engine, genKeys(t, 1))
	_, err = oracle.Decrypt([]conf.Handle{h})
	require.ErrorIs(t, err, conf.ErrNotDecryptable)
}

func TestVerifyRejections(t *testing.T) {
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)

	keys := genKeys(t, 3)
	oracle := NewOracle(engine, keys)
	q, err := NewQuorum(2, oracle.Addresses())
	require.NoError(t, err)

	handles := markedHandles(t, engine, 1500, 2000)
	proof, err := oracle.Decrypt(handles)
	require.NoError(t, err)

	t.Run("tampered cleartext", func(t *testing.T) {
		bad := proof
		bad.Cleartexts = []uint64{1500, 9999}
		require.ErrorIs(t, q.Verify(bad), ErrUnknownSigner)
	})

	t.Run("too few shares", func(t *testing.T) {
		bad := proof
		bad.Shares = proof.Shares[:1]
		require.ErrorIs(t, q.Verify(bad), ErrNotEnoughShares)
	})

	t.Run("duplicate member", func(t *testing.T) {
		bad := proof
		bad.Shares = [][]byte{proof.Shares[0], proof.Shares[0]}
		require.ErrorIs(t, q.Verify(bad), ErrDuplicateSigner)
	})

	t.Run("outsider signature", func(t *testing.T) {
		outsider := genKeys(t, 1)[0]
		digest := ProofDigest(proof.Handles, proof.Cleartexts)
		sig, err := ethcrypto.Sign(digest, outsider)
		require.NoError(t, err)
		bad := proof
		bad.Shares = [][]byte{proof.Shares[0], sig}
		require.ErrorIs(t, q.Verify(bad), ErrUnknownSigner)
	})

	t.Run("empty proof", func(t *testing.T) {
		require.ErrorIs(t, q.Verify(DecryptionProof{}), ErrMalformedProof)
	})

	t.Run("length mismatch", func(t *testing.T) {
		bad := proof
		bad.Cleartexts = bad.Cleartexts[:1]
		require.ErrorIs(t, q.Verify(bad), ErrMalformedProof)
	})
}
