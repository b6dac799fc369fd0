package conf

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testKey    = make([]byte, 32)
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newTestEngine(t *testing.T) (*Engine, *Evaluator) {
	t.Helper()
	e, err := NewEngine(testKey)
	require.NoError(t, err)
	return e, e.Evaluator(engineAddr)
}

func mustConst(t *testing.T, ev *Evaluator, v uint64) Handle {
	t.Helper()
	h, err := ev.Constant(v)
	require.NoError(t, err)
	return h
}

func decryptAs(t *testing.T, e *Engine, h Handle, caller common.Address) uint64 {
	t.Helper()
	v, err := e.Decrypt(h, caller)
	require.NoError(t, err)
	return v
}

func TestArithmeticSaturates(t *testing.T) {
	e, ev := newTestEngine(t)
	maxU64 := ^uint64(0)

	tests := []struct {
		name string
		op   func(a, b Handle) (Handle, error)
		a, b uint64
		want uint64
	}{
		{"add", ev.Add, 1000, 500, 1500},
		{"add overflow clamps", ev.Add, maxU64, 1, maxU64},
		{"sub", ev.Sub, 1500, 500, 1000},
		{"sub underflow clamps", ev.Sub, 500, 1500, 0},
		{"mul", ev.Mul, 1000, 2000, 2_000_000},
		{"mul overflow clamps", ev.Mul, maxU64, 2, maxU64},
		{"min", ev.Min, 7, 3, 3},
		{"max", ev.Max, 7, 3, 7},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := tc.op(mustConst(t, ev, tc.a), mustConst(t, ev, tc.b))
			require.NoError(t, err)
			require.Equal(t, tc.want, decryptAs(t, e, out, engineAddr))
		})
	}
}

func TestClamp(t *testing.T) {
	e, ev := newTestEngine(t)
	lo, hi := mustConst(t, ev, 10), mustConst(t, ev, 100)

	for _, tc := range []struct{ in, want uint64 }{
		{5, 10}, {50, 50}, {500, 100},
	} {
		out, err := ev.Clamp(mustConst(t, ev, tc.in), lo, hi)
		require.NoError(t, err)
		require.Equal(t, tc.want, decryptAs(t, e, out, engineAddr))
	}
}

func TestSelectIsBranchless(t *testing.T) {
	e, ev := newTestEngine(t)
	a, b := mustConst(t, ev, 111), mustConst(t, ev, 222)

	yes, err := ev.ConstantBool(true)
	require.NoError(t, err)
	no, err := ev.ConstantBool(false)
	require.NoError(t, err)

	out, err := ev.Select(yes, a, b)
	require.NoError(t, err)
	require.Equal(t, uint64(111), decryptAs(t, e, out, engineAddr))

	out, err = ev.Select(no, a, b)
	require.NoError(t, err)
	require.Equal(t, uint64(222), decryptAs(t, e, out, engineAddr))

	// a select always produces a fresh handle, even when it picks b
	require.NotEqual(t, b, out)
}

func TestPercentAndMulDiv(t *testing.T) {
	e, ev := newTestEngine(t)

	// 2% of 3500 = 70
	fee, err := ev.Percent(mustConst(t, ev, 3500), 200)
	require.NoError(t, err)
	require.Equal(t, uint64(70), decryptAs(t, e, fee, engineAddr))

	// parimutuel profit share: 1000 * 2000 / 1500 = 1333 (truncated)
	profit, err := ev.MulDiv(mustConst(t, ev, 1000), 2000, 1500)
	require.NoError(t, err)
	require.Equal(t, uint64(1333), decryptAs(t, e, profit, engineAddr))

	_, err = ev.MulDiv(mustConst(t, ev, 1), 1, 0)
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestComparisonsAndBoolOps(t *testing.T) {
	e, ev := newTestEngine(t)
	a, b := mustConst(t, ev, 5), mustConst(t, ev, 9)

	check := func(h Handle, want bool) {
		t.Helper()
		got, err := e.DecryptBool(h, engineAddr)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	lt, err := ev.Lt(a, b)
	require.NoError(t, err)
	check(lt, true)

	ge, err := ev.Ge(a, b)
	require.NoError(t, err)
	check(ge, false)

	eq, err := ev.Eq(a, a)
	require.NoError(t, err)
	check(eq, true)

	zero, err := ev.IsZero(mustConst(t, ev, 0))
	require.NoError(t, err)
	check(zero, true)

	and, err := ev.And(lt, eq)
	require.NoError(t, err)
	check(and, true)

	or, err := ev.Or(ge, eq)
	require.NoError(t, err)
	check(or, true)

	not, err := ev.Not(lt)
	require.NoError(t, err)
	check(not, false)
}

func TestACLGates(t *testing.T) {
	e, ev := newTestEngine(t)
	h := mustConst(t, ev, 42)

	// alice holds no grant: she can neither decrypt nor operate
	_, err := e.Decrypt(h, aliceAddr)
	require.ErrorIs(t, err, ErrAccessDenied)

	evAlice := e.Evaluator(aliceAddr)
	_, err = evAlice.Add(h, h)
	require.ErrorIs(t, err, ErrAccessDenied)

	// a grant must come from a holder
	require.ErrorIs(t, e.Allow(h, aliceAddr, aliceAddr), ErrAccessDenied)
	require.NoError(t, e.Allow(h, engineAddr, aliceAddr))
	require.Equal(t, uint64(42), decryptAs(t, e, h, aliceAddr))

	// transient grants vanish after ClearTransient
	h2 := mustConst(t, ev, 7)
	require.NoError(t, e.AllowTransient(h2, engineAddr, aliceAddr))
	require.True(t, e.IsAllowed(h2, aliceAddr))
	e.ClearTransient()
	require.False(t, e.IsAllowed(h2, aliceAddr))
}

func TestClearTransientScopedToHandles(t *testing.T) {
	e, ev := newTestEngine(t)
	h1 := mustConst(t, ev, 7)
	h2 := mustConst(t, ev, 9)
	require.NoError(t, e.AllowTransient(h1, engineAddr, aliceAddr))
	require.NoError(t, e.AllowTransient(h2, engineAddr, aliceAddr))

	// clearing one handle leaves the other's grant intact
	e.ClearTransient(h1)
	require.False(t, e.IsAllowed(h1, aliceAddr))
	require.True(t, e.IsAllowed(h2, aliceAddr))

	// no arguments still means everything
	e.ClearTransient()
	require.False(t, e.IsAllowed(h2, aliceAddr))
}

func TestPublicDecryptionGate(t *testing.T) {
	e, ev := newTestEngine(t)
	h := mustConst(t, ev, 1500)

	_, err := e.OpenPublic(h)
	require.ErrorIs(t, err, ErrNotDecryptable)

	require.NoError(t, e.MarkPubliclyDecryptable(h))
	v, err := e.OpenPublic(h)
	require.NoError(t, err)
	require.Equal(t, uint64(1500), v)
}

func TestInputAttestation(t *testing.T) {
	e, ev := newTestEngine(t)

	priv, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	owner := ethcrypto.PubkeyToAddress(priv.PublicKey)

	h := mustConst(t, ev, 1000)

	sig, err := SignInput(priv, h, owner, engineAddr)
	require.NoError(t, err)
	require.NoError(t, e.IngestInput(h, owner, engineAddr, sig))

	// wrong consumer: the attestation does not transfer
	other := common.HexToAddress("0x00000000000000000000000000000000000000e2")
	require.ErrorIs(t, e.IngestInput(h, owner, other, sig), ErrBadAttestation)

	// mangled signature
	sig[3] ^= 0xff
	require.ErrorIs(t, e.IngestInput(h, owner, engineAddr, sig), ErrBadAttestation)
}
