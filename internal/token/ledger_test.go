package token

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/veilbet/veilbet/internal/conf"
)

var (
	tokenAddr = common.HexToAddress("0x0000000000000000000000000000000000000101")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	market    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func newLedger(t *testing.T) (*conf.Engine, *Ledger) {
	t.Helper()
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)
	return engine, NewLedger(engine, tokenAddr)
}

func balanceOf(t *testing.T, engine *conf.Engine, l *Ledger, addr common.Address) uint64 {
	t.Helper()
	h, err := l.BalanceOf(addr)
	require.NoError(t, err)
	v, err := engine.Decrypt(h, addr)
	require.NoError(t, err)
	return v
}

// amountFor seals a transfer amount the ledger is allowed to consume.
func amountFor(t *testing.T, engine *conf.Engine, owner common.Address, v uint64) conf.Handle {
	t.Helper()
	h, err := engine.EncryptUint64(v, owner)
	require.NoError(t, err)
	require.NoError(t, engine.Allow(h, owner, tokenAddr))
	return h
}

func TestMintAndBalance(t *testing.T) {
	engine, l := newLedger(t)
	require.NoError(t, l.Mint(alice, 5000))
	require.NoError(t, l.Mint(alice, 1000))
	require.Equal(t, uint64(6000), balanceOf(t, engine, l, alice))
	require.Equal(t, uint64(0), balanceOf(t, engine, l, bob))
}

func TestTransferClampsSilently(t *testing.T) {
	engine, l := newLedger(t)
	require.NoError(t, l.Mint(alice, 1000))

	// requesting more than the balance succeeds and moves the whole balance
	over := amountFor(t, engine, alice, 4000)
	require.NoError(t, l.TransferEncrypted(alice, bob, over))
	require.Equal(t, uint64(0), balanceOf(t, engine, l, alice))
	require.Equal(t, uint64(1000), balanceOf(t, engine, l, bob))

	// a transfer from an empty account moves zero, still no error
	again := amountFor(t, engine, alice, 10)
	require.NoError(t, l.TransferEncrypted(alice, bob, again))
	require.Equal(t, uint64(0), balanceOf(t, engine, l, alice))
	require.Equal(t, uint64(1000), balanceOf(t, engine, l, bob))
}

func TestTransferFromRespectsAllowance(t *testing.T) {
	engine, l := newLedger(t)
	require.NoError(t, l.Mint(alice, 10_000))

	allowance := amountFor(t, engine, alice, 1500)
	require.NoError(t, l.ApproveEncrypted(alice, market, allowance))

	// first pull is clamped to the allowance, not the requested amount
	want := amountFor(t, engine, alice, 2000)
	require.NoError(t, l.TransferFromEncrypted(market, alice, market, want))
	require.Equal(t, uint64(8500), balanceOf(t, engine, l, alice))
	require.Equal(t, uint64(1500), balanceOf(t, engine, l, market))

	// allowance is spent: a second pull moves nothing
	more := amountFor(t, engine, alice, 100)
	require.NoError(t, l.TransferFromEncrypted(market, alice, market, more))
	require.Equal(t, uint64(8500), balanceOf(t, engine, l, alice))
	require.Equal(t, uint64(1500), balanceOf(t, engine, l, market))
}

func TestTransferFromWithoutApproval(t *testing.T) {
	engine, l := newLedger(t)
	require.NoError(t, l.Mint(alice, 10_000))

	want := amountFor(t, engine, market, 2000)
	require.NoError(t, l.TransferFromEncrypted(market, alice, market, want))
	require.Equal(t, uint64(10_000), balanceOf(t, engine, l, alice))
	require.Equal(t, uint64(0), balanceOf(t, engine, l, market))
}
