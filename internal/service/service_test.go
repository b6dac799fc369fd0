package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/engine"
	"github.com/veilbet/veilbet/internal/threshold"
	"github.com/veilbet/veilbet/internal/token"
	"github.com/veilbet/veilbet/internal/validate"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type memMarketStore struct {
	markets map[uint64]domain.Market
	upserts int
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{markets: make(map[uint64]domain.Market)}
}

func (s *memMarketStore) Upsert(_ context.Context, m domain.Market) error {
	s.markets[m.ID] = m
	s.upserts++
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) ListByState(_ context.Context, state domain.MarketState, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.State == state {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) Count(_ context.Context) (int64, error) {
	return int64(len(s.markets)), nil
}

type memPositionStore struct {
	positions map[string]domain.Position
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{positions: make(map[string]domain.Position)}
}

func posKey(marketID uint64, bettor common.Address) string {
	return fmt.Sprintf("%d/%s", marketID, bettor.Hex())
}

func (s *memPositionStore) Upsert(_ context.Context, p domain.Position) error {
	s.positions[posKey(p.MarketID, p.Bettor)] = p
	return nil
}

func (s *memPositionStore) Get(_ context.Context, marketID uint64, bettor common.Address) (domain.Position, error) {
	p, ok := s.positions[posKey(marketID, bettor)]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPositionStore) ListByMarket(_ context.Context, _ uint64, _ domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s *memPositionStore) MarkClaimed(_ context.Context, marketID uint64, bettor common.Address, at time.Time) error {
	p := s.positions[posKey(marketID, bettor)]
	p.Claimed = true
	s.positions[posKey(marketID, bettor)] = p
	return nil
}

type memCache struct {
	markets map[uint64]domain.Market
	sets    int
}

func newMemCache() *memCache {
	return &memCache{markets: make(map[uint64]domain.Market)}
}

func (c *memCache) Set(_ context.Context, m domain.Market) error {
	c.markets[m.ID] = m
	c.sets++
	return nil
}

func (c *memCache) Get(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := c.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *memCache) Invalidate(_ context.Context, id uint64) error {
	delete(c.markets, id)
	return nil
}

type auditRow struct {
	event  string
	detail map[string]any
}

type memAudit struct {
	rows []auditRow
	err  error
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	if a.err != nil {
		return a.err
	}
	a.rows = append(a.rows, auditRow{event: event, detail: detail})
	return nil
}

func (a *memAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	published  []published
	streamed   [][]byte
	publishErr error
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, published{channel: channel, payload: payload})
	return nil
}

func (b *memBus) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.streamed = append(b.streamed, payload)
	return nil
}

func (b *memBus) StreamRead(_ context.Context, _ string, _ string, _ int) ([]domain.StreamMessage, error) {
	return nil, nil
}

// newEngine builds a bare engine with a fresh confidential backend and a
// single-member quorum, enough for service-layer plumbing tests.
func newEngine(t *testing.T) (*engine.Engine, common.Address) {
	t.Helper()

	cengine, err := conf.NewEngine(make([]byte, 32))
	require.NoError(t, err)

	self := common.HexToAddress("0x0000000000000000000000000000000000001001")
	owner := common.HexToAddress("0x0000000000000000000000000000000000001002")
	ledger := token.NewLedger(cengine, common.HexToAddress("0x0000000000000000000000000000000000002001"))

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	quorum, err := threshold.NewQuorum(1, []common.Address{ethcrypto.PubkeyToAddress(key.PublicKey)})
	require.NoError(t, err)

	eng, err := engine.New(cengine, ledger, quorum, engine.Config{
		Self:      self,
		Owner:     owner,
		Collector: common.HexToAddress("0x0000000000000000000000000000000000001003"),
		FeeBps:    200,
		Bounds:    validate.StakeBounds{Min: 1, Max: 1_000_000},
	})
	require.NoError(t, err)
	return eng, owner
}

func marketParams(now time.Time) validate.MarketParams {
	return validate.MarketParams{
		Question:        "Will the merge land before the freeze?",
		Resolver:        common.HexToAddress("0x0000000000000000000000000000000000003001"),
		BettingDeadline: now.Add(24 * time.Hour),
		ResolutionTime:  now.Add(48 * time.Hour),
	}
}

func TestMarketServiceCreateMirrors(t *testing.T) {
	eng, owner := newEngine(t)
	store := newMemMarketStore()
	cache := newMemCache()
	svc := NewMarketService(eng, store, newMemPositionStore(), cache, discard)

	m, err := svc.CreateMarket(context.Background(), owner, marketParams(time.Now()))
	require.NoError(t, err)

	stored, err := store.GetByID(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, m.Question, stored.Question)
	require.Equal(t, domain.MarketStateOpen, stored.State)

	cached, err := cache.Get(context.Background(), m.ID)
	require.NoError(t, err)
	require.Equal(t, m.ID, cached.ID)
}

func TestMarketServiceGetMarketFallsBackToStore(t *testing.T) {
	eng, _ := newEngine(t)
	store := newMemMarketStore()
	cache := newMemCache()
	svc := NewMarketService(eng, store, newMemPositionStore(), cache, discard)

	// A market from an earlier process life: present in the store, unknown
	// to the live engine and the cache.
	stale := domain.Market{ID: 42, Question: "old market", State: domain.MarketStateResolved}
	require.NoError(t, store.Upsert(context.Background(), stale))

	got, err := svc.GetMarket(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, "old market", got.Question)

	// The read path backfills the cache.
	require.Equal(t, 1, cache.sets)
	cached, err := cache.Get(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, stale.ID, cached.ID)
}

func TestMarketServiceGetMarketNotFound(t *testing.T) {
	eng, _ := newEngine(t)
	svc := NewMarketService(eng, newMemMarketStore(), newMemPositionStore(), newMemCache(), discard)

	_, err := svc.GetMarket(context.Background(), 999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventRecorderFanout(t *testing.T) {
	audit := &memAudit{}
	bus := &memBus{}
	rec := NewEventRecorder(audit, bus, discard)

	ev := domain.Event{
		ID:       "evt-1",
		Type:     domain.EventBetPlaced,
		MarketID: 7,
		Actor:    "0x0000000000000000000000000000000000004001",
		Handles:  []string{"0xabc"},
		At:       time.Now(),
	}
	rec.Record(context.Background(), ev)

	require.Len(t, audit.rows, 1)
	require.Equal(t, "bet_placed", audit.rows[0].event)
	require.Equal(t, uint64(7), audit.rows[0].detail["market_id"])

	require.Len(t, bus.published, 1)
	require.Equal(t, "ch:market:bet_placed", bus.published[0].channel)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(bus.published[0].payload, &decoded))
	require.Equal(t, ev.ID, decoded.ID)

	require.Len(t, bus.streamed, 1)
}

func TestEventRecorderSwallowsInfraErrors(t *testing.T) {
	audit := &memAudit{err: errors.New("db down")}
	bus := &memBus{publishErr: errors.New("redis down")}
	rec := NewEventRecorder(audit, bus, discard)

	// Must not panic or propagate: the engine transition already committed.
	rec.Record(context.Background(), domain.Event{ID: "evt-2", Type: domain.EventOutcomeSet})
	require.Empty(t, audit.rows)
	require.Empty(t, bus.published)
	require.Len(t, bus.streamed, 1)
}

func TestMarketServiceEngineSinkIntegration(t *testing.T) {
	eng, owner := newEngine(t)
	audit := &memAudit{}
	bus := &memBus{}
	eng.SetEventSink(NewEventRecorder(audit, bus, discard).Record)

	svc := NewMarketService(eng, newMemMarketStore(), newMemPositionStore(), newMemCache(), discard)
	_, err := svc.CreateMarket(context.Background(), owner, marketParams(time.Now()))
	require.NoError(t, err)

	require.Len(t, audit.rows, 1)
	require.Equal(t, "market_created", audit.rows[0].event)
	require.Len(t, bus.published, 1)
	require.Equal(t, "ch:market:market_created", bus.published[0].channel)
}
