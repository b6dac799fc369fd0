package engine

import (
	"context"
	"crypto/ecdsa"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/threshold"
	"github.com/veilbet/veilbet/internal/token"
	"github.com/veilbet/veilbet/internal/validate"
)

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type actor struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newActor(t *testing.T) actor {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return actor{key: key, addr: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

type fixture struct {
	t       *testing.T
	cengine *conf.Engine
	ledger  *token.Ledger
	oracle  *threshold.Oracle
	eng     *Engine

	now time.Time

	self      common.Address
	owner     common.Address
	collector common.Address
	resolver  actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cengine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		cengine:   cengine,
		now:       baseTime,
		self:      common.HexToAddress("0x0000000000000000000000000000000000001001"),
		owner:     common.HexToAddress("0x0000000000000000000000000000000000001002"),
		collector: common.HexToAddress("0x0000000000000000000000000000000000001003"),
		resolver:  newActor(t),
	}
	f.ledger = token.NewLedger(cengine, common.HexToAddress("0x0000000000000000000000000000000000002001"))

	keys := make([]*ecdsa.PrivateKey, 3)
	for i := range keys {
		k, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = k
	}
	f.oracle = threshold.NewOracle(cengine, keys)
	quorum, err := threshold.NewQuorum(2, f.oracle.Addresses())
	require.NoError(t, err)

	f.eng, err = New(cengine, f.ledger, quorum, Config{
		Self:      f.self,
		Owner:     f.owner,
		Collector: f.collector,
		FeeBps:    200,
		Bounds:    validate.StakeBounds{Min: 100, Max: 1_000_000},
	})
	require.NoError(t, err)
	f.eng.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) params() validate.MarketParams {
	return validate.MarketParams{
		Question:        "Will the launch window open before April?",
		Resolver:        f.resolver.addr,
		BettingDeadline: f.now.Add(24 * time.Hour),
		ResolutionTime:  f.now.Add(48 * time.Hour),
	}
}

func (f *fixture) createMarket() uint64 {
	f.t.Helper()
	m, err := f.eng.CreateMarket(context.Background(), f.owner, f.params())
	require.NoError(f.t, err)
	return m.ID
}

// fund mints tokens to a bettor and approves the engine to pull up to
// allowance of them, mirroring the mint-then-approve flow a real client runs.
func (f *fixture) fund(a actor, balance, allowance uint64) {
	f.t.Helper()
	require.NoError(f.t, f.ledger.Mint(a.addr, balance))
	h, err := f.cengine.EncryptUint64(allowance, a.addr)
	require.NoError(f.t, err)
	require.NoError(f.t, f.cengine.Evaluator(a.addr).Allow(h, f.ledger.Address()))
	require.NoError(f.t, f.ledger.ApproveEncrypted(a.addr, f.self, h))
}

func (f *fixture) bet(a actor, marketID, amount uint64, yes bool) error {
	f.t.Helper()
	return f.eng.PlaceBet(context.Background(), f.betRequest(a, marketID, amount, yes))
}

func (f *fixture) betRequest(a actor, marketID, amount uint64, yes bool) BetRequest {
	f.t.Helper()
	amt, err := f.cengine.EncryptUint64(amount, a.addr)
	require.NoError(f.t, err)
	amtAtt, err := conf.SignInput(a.key, amt, a.addr, f.self)
	require.NoError(f.t, err)
	side, err := f.cengine.EncryptBool(yes, a.addr)
	require.NoError(f.t, err)
	sideAtt, err := conf.SignInput(a.key, side, a.addr, f.self)
	require.NoError(f.t, err)

	return BetRequest{
		MarketID:          marketID,
		Bettor:            a.addr,
		Amount:            amt,
		AmountAttestation: amtAtt,
		Side:              side,
		SideAttestation:   sideAtt,
	}
}

func (f *fixture) balance(addr common.Address) uint64 {
	f.t.Helper()
	h, err := f.ledger.BalanceOf(addr)
	require.NoError(f.t, err)
	v, err := f.cengine.Decrypt(h, addr)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) positionAmounts(marketID uint64, a actor) (yes, no uint64) {
	f.t.Helper()
	pos, err := f.eng.Position(marketID, a.addr)
	require.NoError(f.t, err)
	yes, err = f.cengine.Decrypt(pos.YesAmount, a.addr)
	require.NoError(f.t, err)
	no, err = f.cengine.Decrypt(pos.NoAmount, a.addr)
	require.NoError(f.t, err)
	return yes, no
}

// resolve drives a market through lock, resolution request, and the
// threshold decryption round, leaving it Resolved with totals revealed.
func (f *fixture) resolve(marketID uint64) {
	f.t.Helper()
	ctx := context.Background()
	f.now = f.now.Add(49 * time.Hour)
	require.NoError(f.t, f.eng.Lock(ctx, f.owner, marketID))
	require.NoError(f.t, f.eng.RequestResolution(ctx, f.resolver.addr, marketID))

	m, err := f.eng.Market(marketID)
	require.NoError(f.t, err)
	proof, err := f.oracle.Decrypt([]conf.Handle{m.YesPool, m.NoPool})
	require.NoError(f.t, err)
	require.NoError(f.t, f.eng.SubmitDecryptedTotals(ctx, f.resolver.addr, marketID, proof))
}

func TestCreateMarketValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := f.params()
	bad.Question = "short"
	_, err := f.eng.CreateMarket(ctx, f.owner, bad)
	require.ErrorIs(t, err, domain.ErrQuestionLength)

	bad = f.params()
	bad.Resolver = common.Address{}
	_, err = f.eng.CreateMarket(ctx, f.owner, bad)
	require.ErrorIs(t, err, domain.ErrZeroResolver)

	bad = f.params()
	bad.BettingDeadline = f.now.Add(10 * time.Minute)
	_, err = f.eng.CreateMarket(ctx, f.owner, bad)
	require.ErrorIs(t, err, domain.ErrDurationBounds)

	m, err := f.eng.CreateMarket(ctx, f.owner, f.params())
	require.NoError(t, err)
	require.Equal(t, uint64(1), m.ID)
	require.Equal(t, domain.MarketStateOpen, m.State)
	require.Equal(t, domain.OutcomeNotSet, m.Outcome)

	yes, err := f.cengine.Decrypt(m.YesPool, f.self)
	require.NoError(t, err)
	require.Zero(t, yes)
}

func TestPlaceBetAccumulates(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)

	require.NoError(t, f.bet(alice, id, 1_000, true))
	require.NoError(t, f.bet(alice, id, 500, true))

	yes, no := f.positionAmounts(id, alice)
	require.Equal(t, uint64(1_500), yes)
	require.Zero(t, no)
	require.Equal(t, uint64(8_500), f.balance(alice.addr))
	require.Equal(t, uint64(1_500), f.balance(f.self))

	m, err := f.eng.Market(id)
	require.NoError(t, err)
	pool, err := f.cengine.Decrypt(m.YesPool, f.self)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500), pool)
}

func TestPlaceBetOutOfBoundsDegradesToZero(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)

	// Below the minimum stake: the call succeeds, nothing moves, and the
	// only trace is the sealed code in alice's last-error slot.
	require.NoError(t, f.bet(alice, id, 50, true))

	yes, no := f.positionAmounts(id, alice)
	require.Zero(t, yes)
	require.Zero(t, no)
	require.Equal(t, uint64(10_000), f.balance(alice.addr))

	le, ok := f.eng.Errors().Get(alice.addr)
	require.True(t, ok)
	code, err := f.cengine.Decrypt(le.Code, alice.addr)
	require.NoError(t, err)
	require.Equal(t, validate.CodeStakeOutOfBounds, code)

	// A valid bet overwrites the slot with the ok code.
	require.NoError(t, f.bet(alice, id, 200, true))
	le, ok = f.eng.Errors().Get(alice.addr)
	require.True(t, ok)
	code, err = f.cengine.Decrypt(le.Code, alice.addr)
	require.NoError(t, err)
	require.Equal(t, validate.CodeOK, code)
}

func TestPlaceBetCreditsObservedDelta(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	alice := newActor(t)
	// Allowance is short of the requested stake; the ledger silently moves
	// less and the position must record what moved, not what was asked.
	f.fund(alice, 10_000, 300)

	require.NoError(t, f.bet(alice, id, 1_000, true))

	yes, _ := f.positionAmounts(id, alice)
	require.Equal(t, uint64(300), yes)
	require.Equal(t, uint64(9_700), f.balance(alice.addr))
	require.Equal(t, uint64(300), f.balance(f.self))
}

func TestPlaceBetShortTransferRecordsCode(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	alice := newActor(t)
	f.fund(alice, 10_000, 300)

	// The ledger clamps the pull to the 300 allowance; the observed delta
	// falls short of the requested stake and the sealed code says so.
	require.NoError(t, f.bet(alice, id, 1_000, true))

	le, ok := f.eng.Errors().Get(alice.addr)
	require.True(t, ok)
	code, err := f.cengine.Decrypt(le.Code, alice.addr)
	require.NoError(t, err)
	require.Equal(t, validate.CodeInsufficientFunds, code)

	// An out-of-bounds stake still reports the bounds code: its effective
	// amount is zero, so the zero delta matches and funding is not blamed.
	require.NoError(t, f.bet(alice, id, 50, true))
	le, ok = f.eng.Errors().Get(alice.addr)
	require.True(t, ok)
	code, err = f.cengine.Decrypt(le.Code, alice.addr)
	require.NoError(t, err)
	require.Equal(t, validate.CodeStakeOutOfBounds, code)
}

func TestPlaceBetAfterDeadline(t *testing.T) {
	f := newFixture(t)
	id := f.createMarket()
	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)

	f.now = f.now.Add(25 * time.Hour)
	require.ErrorIs(t, f.bet(alice, id, 1_000, true), domain.ErrBettingClosed)
}

func TestLifecycleOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()
	stranger := newActor(t)

	require.ErrorIs(t, f.eng.Lock(ctx, f.owner, id), domain.ErrDeadlineNotReached)

	f.now = f.now.Add(25 * time.Hour)
	require.NoError(t, f.eng.Lock(ctx, stranger.addr, id)) // anyone may lock
	require.ErrorIs(t, f.eng.Lock(ctx, f.owner, id), domain.ErrInvalidState)

	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)
	require.ErrorIs(t, f.bet(alice, id, 1_000, true), domain.ErrInvalidState)

	require.ErrorIs(t, f.eng.RequestResolution(ctx, stranger.addr, id), domain.ErrUnauthorized)
	require.ErrorIs(t, f.eng.RequestResolution(ctx, f.resolver.addr, id), domain.ErrDeadlineNotReached)

	f.now = f.now.Add(24 * time.Hour)
	require.NoError(t, f.eng.RequestResolution(ctx, f.resolver.addr, id))

	m, err := f.eng.Market(id)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStateResolving, m.State)
	require.ErrorIs(t, f.eng.RequestResolution(ctx, f.resolver.addr, id), domain.ErrInvalidState)
}

func TestSubmitDecryptedTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()
	alice, bob := newActor(t), newActor(t)
	f.fund(alice, 10_000, 10_000)
	f.fund(bob, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_500, true))
	require.NoError(t, f.bet(bob, id, 2_000, false))

	f.now = f.now.Add(49 * time.Hour)
	require.NoError(t, f.eng.Lock(ctx, f.owner, id))
	require.NoError(t, f.eng.RequestResolution(ctx, f.resolver.addr, id))

	m, err := f.eng.Market(id)
	require.NoError(t, err)

	// Proof over the wrong handles is refused outright.
	wrong, err := f.oracle.Decrypt([]conf.Handle{m.YesPool})
	require.NoError(t, err)
	require.ErrorIs(t, f.eng.SubmitDecryptedTotals(ctx, f.resolver.addr, id, wrong), domain.ErrProofMismatch)

	// A tampered cleartext breaks share recovery.
	proof, err := f.oracle.Decrypt([]conf.Handle{m.YesPool, m.NoPool})
	require.NoError(t, err)
	tampered := proof
	tampered.Cleartexts = []uint64{9_999, proof.Cleartexts[1]}
	require.ErrorIs(t, f.eng.SubmitDecryptedTotals(ctx, f.resolver.addr, id, tampered), domain.ErrBadProof)

	// The market is untouched by rejected submissions and accepts a retry.
	m, err = f.eng.Market(id)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStateResolving, m.State)
	require.False(t, m.TotalsRevealed)

	require.NoError(t, f.eng.SubmitDecryptedTotals(ctx, f.resolver.addr, id, proof))
	m, err = f.eng.Market(id)
	require.NoError(t, err)
	require.Equal(t, domain.MarketStateResolved, m.State)
	require.True(t, m.TotalsRevealed)
	require.Equal(t, uint64(1_500), m.YesTotal)
	require.Equal(t, uint64(2_000), m.NoTotal)

	// Outcome is still unset; claims must wait for SetResolution.
	require.ErrorIs(t, f.eng.Claim(ctx, alice.addr, id), domain.ErrOutcomeNotSet)
}

func TestSetResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()
	alice, bob := newActor(t), newActor(t)
	f.fund(alice, 10_000, 10_000)
	f.fund(bob, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_500, true))
	require.NoError(t, f.bet(bob, id, 2_000, false))
	f.resolve(id)

	stranger := newActor(t)
	require.ErrorIs(t, f.eng.SetResolution(ctx, stranger.addr, id, domain.OutcomeYes), domain.ErrUnauthorized)
	require.ErrorIs(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeNotSet), domain.ErrInvalidOutcome)

	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeYes))
	m, err := f.eng.Market(id)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeYes, m.Outcome)

	// Outcome assignment is one-shot.
	require.ErrorIs(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeNo), domain.ErrInvalidState)

	// 2% of the 3500 combined pool accrued to the sealed collector counter.
	fee, err := f.cengine.Decrypt(f.eng.FeeConfig().Collected, f.collector)
	require.NoError(t, err)
	require.Equal(t, uint64(70), fee)
}

func TestClaimParimutuelPayout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()

	alice, bob, carol := newActor(t), newActor(t), newActor(t)
	f.fund(alice, 10_000, 10_000)
	f.fund(bob, 10_000, 10_000)
	f.fund(carol, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_000, true))
	require.NoError(t, f.bet(bob, id, 500, true))
	require.NoError(t, f.bet(carol, id, 2_000, false))

	f.resolve(id)
	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeYes))

	// alice: 1000 principal + 1000*2000/1500 = 2333.
	require.NoError(t, f.eng.Claim(ctx, alice.addr, id))
	require.Equal(t, uint64(11_333), f.balance(alice.addr))

	// bob: 500 principal + 500*2000/1500 = 1166.
	require.NoError(t, f.eng.Claim(ctx, bob.addr, id))
	require.Equal(t, uint64(10_666), f.balance(bob.addr))

	// carol lost: her claim succeeds but moves nothing.
	require.NoError(t, f.eng.Claim(ctx, carol.addr, id))
	require.Equal(t, uint64(8_000), f.balance(carol.addr))
}

func TestClaimInvalidOutcomeRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()

	alice, bob := newActor(t), newActor(t)
	f.fund(alice, 10_000, 10_000)
	f.fund(bob, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_000, true))
	require.NoError(t, f.bet(bob, id, 2_000, false))

	f.resolve(id)
	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeInvalid))

	require.NoError(t, f.eng.Claim(ctx, alice.addr, id))
	require.NoError(t, f.eng.Claim(ctx, bob.addr, id))
	require.Equal(t, uint64(10_000), f.balance(alice.addr))
	require.Equal(t, uint64(10_000), f.balance(bob.addr))
}

func TestClaimEmptyLosingPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()

	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_000, true))

	f.resolve(id)
	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeYes))

	// No counterparty money: principal back, nothing more.
	require.NoError(t, f.eng.Claim(ctx, alice.addr, id))
	require.Equal(t, uint64(10_000), f.balance(alice.addr))

	// No fee either, since one side of the pool was empty.
	fee, err := f.cengine.Decrypt(f.eng.FeeConfig().Collected, f.collector)
	require.NoError(t, err)
	require.Zero(t, fee)
}

func TestClaimOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()

	alice, bob := newActor(t), newActor(t)
	f.fund(alice, 10_000, 10_000)
	f.fund(bob, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_000, true))
	require.NoError(t, f.bet(bob, id, 2_000, false))

	f.resolve(id)
	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeYes))

	require.NoError(t, f.eng.Claim(ctx, alice.addr, id))
	got := f.balance(alice.addr)
	require.ErrorIs(t, f.eng.Claim(ctx, alice.addr, id), domain.ErrAlreadyClaimed)
	require.Equal(t, got, f.balance(alice.addr))

	stranger := newActor(t)
	require.ErrorIs(t, f.eng.Claim(ctx, stranger.addr, id), domain.ErrNotFound)
}

func TestClaimRequiresRevealedTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createMarket()

	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_000, true))

	f.resolve(id)
	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeYes))

	// Simulate a corrupted resolution record: outcome set but totals not
	// trusted. Payouts must refuse to run on unverified numbers.
	f.eng.mu.Lock()
	f.eng.markets[id].TotalsRevealed = false
	f.eng.mu.Unlock()
	require.ErrorIs(t, f.eng.Claim(ctx, alice.addr, id), domain.ErrTotalsNotRevealed)
}

// reentrantToken wraps the ledger and calls back into the engine in the
// middle of a payout transfer, imitating a malicious token contract.
type reentrantToken struct {
	*token.Ledger
	reenter func() error
	inner   error
}

func (r *reentrantToken) TransferEncrypted(from, to common.Address, amount conf.Handle) error {
	if r.reenter != nil {
		r.inner = r.reenter()
	}
	return r.Ledger.TransferEncrypted(from, to, amount)
}

func TestClaimReentrancyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rt := &reentrantToken{Ledger: f.ledger}
	eng, err := New(f.cengine, rt, quorumFor(t, f.oracle), Config{
		Self:      f.self,
		Owner:     f.owner,
		Collector: f.collector,
		FeeBps:    200,
		Bounds:    validate.StakeBounds{Min: 100, Max: 1_000_000},
	})
	require.NoError(t, err)
	eng.SetClock(func() time.Time { return f.now })

	m, err := eng.CreateMarket(ctx, f.owner, f.params())
	require.NoError(t, err)

	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)
	require.NoError(t, eng.PlaceBet(ctx, f.betRequest(alice, m.ID, 1_000, true)))

	f.now = f.now.Add(49 * time.Hour)
	require.NoError(t, eng.Lock(ctx, f.owner, m.ID))
	require.NoError(t, eng.RequestResolution(ctx, f.resolver.addr, m.ID))
	mm, err := eng.Market(m.ID)
	require.NoError(t, err)
	proof, err := f.oracle.Decrypt([]conf.Handle{mm.YesPool, mm.NoPool})
	require.NoError(t, err)
	require.NoError(t, eng.SubmitDecryptedTotals(ctx, f.resolver.addr, m.ID, proof))
	require.NoError(t, eng.SetResolution(ctx, f.resolver.addr, m.ID, domain.OutcomeYes))

	rt.reenter = func() error {
		return eng.Claim(ctx, alice.addr, m.ID)
	}
	require.NoError(t, eng.Claim(ctx, alice.addr, m.ID))
	require.ErrorIs(t, rt.inner, domain.ErrReentrantCall)
}

// stallingToken wraps the ledger and parks one bettor's stake pull until
// released, so other operations can run while that transfer is in flight.
type stallingToken struct {
	*token.Ledger
	stallFrom common.Address
	entered   chan struct{}
	release   chan struct{}
}

func (s *stallingToken) TransferFromEncrypted(operator, from, to common.Address, amount conf.Handle) error {
	if from == s.stallFrom {
		close(s.entered)
		<-s.release
	}
	return s.Ledger.TransferFromEncrypted(operator, from, to, amount)
}

func TestConcurrentBetsKeepTransientGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice, bob := newActor(t), newActor(t)
	f.fund(alice, 10_000, 10_000)
	f.fund(bob, 10_000, 10_000)

	st := &stallingToken{
		Ledger:    f.ledger,
		stallFrom: alice.addr,
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	eng, err := New(f.cengine, st, quorumFor(t, f.oracle), Config{
		Self:      f.self,
		Owner:     f.owner,
		Collector: f.collector,
		FeeBps:    200,
		Bounds:    validate.StakeBounds{Min: 100, Max: 1_000_000},
	})
	require.NoError(t, err)
	eng.SetClock(func() time.Time { return f.now })

	mA, err := eng.CreateMarket(ctx, f.owner, f.params())
	require.NoError(t, err)
	mB, err := eng.CreateMarket(ctx, f.owner, f.params())
	require.NoError(t, err)

	// alice's stake pull stalls mid-flight on one market while bob's bet on
	// the other market runs to completion. Bob's bet clears only its own
	// transient grants, so alice's in-flight transfer keeps hers.
	aliceReq := f.betRequest(alice, mA.ID, 1_000, true)
	done := make(chan error, 1)
	go func() {
		done <- eng.PlaceBet(ctx, aliceReq)
	}()
	<-st.entered

	require.NoError(t, eng.PlaceBet(ctx, f.betRequest(bob, mB.ID, 500, false)))

	close(st.release)
	require.NoError(t, <-done)

	pos, err := eng.Position(mA.ID, alice.addr)
	require.NoError(t, err)
	yes, err := f.cengine.Decrypt(pos.YesAmount, alice.addr)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), yes)
}

func quorumFor(t *testing.T, o *threshold.Oracle) *threshold.Quorum {
	t.Helper()
	q, err := threshold.NewQuorum(2, o.Addresses())
	require.NoError(t, err)
	return q
}

func TestEventStream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var types []domain.EventType
	f.eng.SetEventSink(func(_ context.Context, ev domain.Event) {
		types = append(types, ev.Type)
	})

	id := f.createMarket()
	alice := newActor(t)
	f.fund(alice, 10_000, 10_000)
	require.NoError(t, f.bet(alice, id, 1_000, true))
	f.resolve(id)
	require.NoError(t, f.eng.SetResolution(ctx, f.resolver.addr, id, domain.OutcomeYes))
	require.NoError(t, f.eng.Claim(ctx, alice.addr, id))

	require.Equal(t, []domain.EventType{
		domain.EventMarketCreated,
		domain.EventBetPlaced,
		domain.EventMarketLocked,
		domain.EventResolutionRequested,
		domain.EventTotalsRevealed,
		domain.EventOutcomeSet,
		domain.EventWinningsClaimed,
	}, types)
}
