package validate

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
)

var (
	resolver  = common.HexToAddress("0x0000000000000000000000000000000000000011")
	principal = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	user      = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

func TestValidateMarketParams(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	good := MarketParams{
		Question:        "Will it rain in Paris tomorrow?",
		Resolver:        resolver,
		BettingDeadline: now.Add(48 * time.Hour),
		ResolutionTime:  now.Add(72 * time.Hour),
	}

	tests := []struct {
		name    string
		mutate  func(*MarketParams)
		wantErr error
	}{
		{"valid", func(p *MarketParams) {}, nil},
		{"question too short", func(p *MarketParams) { p.Question = "short" }, domain.ErrQuestionLength},
		{"question too long", func(p *MarketParams) {
			long := make([]byte, MaxQuestionLen+1)
			for i := range long {
				long[i] = 'q'
			}
			p.Question = string(long)
		}, domain.ErrQuestionLength},
		{"zero resolver", func(p *MarketParams) { p.Resolver = common.Address{} }, domain.ErrZeroResolver},
		{"window too short", func(p *MarketParams) { p.BettingDeadline = now.Add(10 * time.Minute) }, domain.ErrDurationBounds},
		{"window too long", func(p *MarketParams) {
			p.BettingDeadline = now.Add(MaxBettingWindow + time.Hour)
			p.ResolutionTime = p.BettingDeadline.Add(2 * time.Hour)
		}, domain.ErrDurationBounds},
		{"delay too short", func(p *MarketParams) { p.ResolutionTime = p.BettingDeadline.Add(time.Minute) }, domain.ErrDurationBounds},
		{"delay too long", func(p *MarketParams) { p.ResolutionTime = p.BettingDeadline.Add(MaxResolutionDelay + time.Hour) }, domain.ErrDurationBounds},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := good
			tc.mutate(&p)
			err := ValidateMarketParams(p, now)
			if tc.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestValidateFeeBps(t *testing.T) {
	require.NoError(t, ValidateFeeBps(0))
	require.NoError(t, ValidateFeeBps(domain.MaxFeeBps))
	require.ErrorIs(t, ValidateFeeBps(domain.MaxFeeBps+1), domain.ErrFeeTooHigh)
}

func TestCheckStakeBoundsVerdict(t *testing.T) {
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)
	ev := engine.Evaluator(principal)
	bounds := StakeBounds{Min: 100, Max: 10_000}

	tests := []struct {
		name   string
		amount uint64
		want   bool
	}{
		{"zero fails", 0, false},
		{"below min fails", 99, false},
		{"at min passes", 100, true},
		{"mid passes", 5000, true},
		{"at max passes", 10_000, true},
		{"above max fails", 10_001, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			amount, err := ev.Constant(tc.amount)
			require.NoError(t, err)
			verdict, err := CheckStakeBounds(ev, amount, bounds)
			require.NoError(t, err)
			got, err := engine.DecryptBool(verdict, principal)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestErrorRegistry(t *testing.T) {
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)
	ev := engine.Evaluator(principal)
	reg := NewErrorRegistry(engine)

	_, ok := reg.Get(user)
	require.False(t, ok)

	require.NoError(t, reg.Record(user, CodeInsufficientFunds))
	le, ok := reg.Get(user)
	require.True(t, ok)

	// only the owner can read the code
	code, err := engine.Decrypt(le.Code, user)
	require.NoError(t, err)
	require.Equal(t, CodeInsufficientFunds, code)
	_, err = engine.Decrypt(le.Code, resolver)
	require.ErrorIs(t, err, conf.ErrAccessDenied)

	// a check-selected record overwrites the previous entry
	amount, err := ev.Constant(50)
	require.NoError(t, err)
	verdict, err := CheckStakeBounds(ev, amount, StakeBounds{Min: 100, Max: 1000})
	require.NoError(t, err)
	require.NoError(t, reg.RecordChecks(ev, user, Check{Verdict: verdict, FailCode: CodeStakeOutOfBounds}))

	le, ok = reg.Get(user)
	require.True(t, ok)
	code, err = engine.Decrypt(le.Code, user)
	require.NoError(t, err)
	require.Equal(t, CodeStakeOutOfBounds, code)
}

func TestErrorRegistryFirstFailureWins(t *testing.T) {
	engine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)
	ev := engine.Evaluator(principal)
	reg := NewErrorRegistry(engine)

	boolH := func(v bool) conf.Handle {
		h, err := ev.ConstantBool(v)
		require.NoError(t, err)
		return h
	}
	read := func() uint64 {
		le, ok := reg.Get(user)
		require.True(t, ok)
		code, err := engine.Decrypt(le.Code, user)
		require.NoError(t, err)
		return code
	}

	require.NoError(t, reg.RecordChecks(ev, user,
		Check{Verdict: boolH(true), FailCode: CodeStakeOutOfBounds},
		Check{Verdict: boolH(true), FailCode: CodeInsufficientFunds},
	))
	require.Equal(t, CodeOK, read())

	require.NoError(t, reg.RecordChecks(ev, user,
		Check{Verdict: boolH(true), FailCode: CodeStakeOutOfBounds},
		Check{Verdict: boolH(false), FailCode: CodeInsufficientFunds},
	))
	require.Equal(t, CodeInsufficientFunds, read())

	// both checks fail: the earlier one owns the code
	require.NoError(t, reg.RecordChecks(ev, user,
		Check{Verdict: boolH(false), FailCode: CodeStakeOutOfBounds},
		Check{Verdict: boolH(false), FailCode: CodeInsufficientFunds},
	))
	require.Equal(t, CodeStakeOutOfBounds, read())
}
