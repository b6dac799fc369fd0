// Package resolver runs the decryption-fulfilment worker: it watches for
// markets whose pool ciphertexts have been surrendered for public decryption,
// collects threshold signatures from the committee, and submits the verified
// totals back to the engine. A distributed leader lock keeps concurrent
// instances from fulfilling the same market twice.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilbet/veilbet/internal/conf"
	"github.com/veilbet/veilbet/internal/domain"
	"github.com/veilbet/veilbet/internal/engine"
	"github.com/veilbet/veilbet/internal/service"
	"github.com/veilbet/veilbet/internal/threshold"
)

// Worker drives market lifecycle transitions that depend on wall-clock time
// and fulfils decryption requests. It acts as the engine owner's fallback
// identity for lock and resolution-request calls.
type Worker struct {
	svc      *service.ResolutionService
	eng      *engine.Engine
	oracle   *threshold.Oracle
	bus      domain.SignalBus
	locks    domain.LockManager
	dedup    *Dedup
	operator common.Address
	logger   *slog.Logger

	pollInterval    time.Duration
	cleanupInterval time.Duration
	lockTTL         time.Duration
}

// NewWorker creates a Worker. The operator address must be the engine owner
// or a designated resolver for the markets it is expected to advance.
func NewWorker(
	svc *service.ResolutionService,
	eng *engine.Engine,
	oracle *threshold.Oracle,
	bus domain.SignalBus,
	locks domain.LockManager,
	operator common.Address,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		svc:             svc,
		eng:             eng,
		oracle:          oracle,
		bus:             bus,
		locks:           locks,
		dedup:           NewDedup(2 * time.Minute),
		operator:        operator,
		logger:          logger.With(slog.String("component", "resolver")),
		pollInterval:    30 * time.Second,
		cleanupInterval: 30 * time.Second,
		lockTTL:         30 * time.Second,
	}
}

// SetPollInterval changes how often the worker scans for due markets. Must
// be called before Run.
func (w *Worker) SetPollInterval(d time.Duration) {
	w.pollInterval = d
}

// SetLockTTL changes the leader-lock expiry. Must be called before Run.
func (w *Worker) SetLockTTL(d time.Duration) {
	w.lockTTL = d
}

// SetDedupTTL changes how long fulfilled markets stay suppressed. Must be
// called before Run.
func (w *Worker) SetDedupTTL(d time.Duration) {
	w.dedup = NewDedup(d)
}

// Run starts the worker loop: a subscription on resolution-request events
// plus a periodic scan that catches missed events and due deadlines. It
// returns when the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	requests, err := w.bus.Subscribe(ctx, domain.Event{Type: domain.EventResolutionRequested}.Channel())
	if err != nil {
		return fmt.Errorf("resolver: subscribe: %w", err)
	}

	w.logger.Info("resolver started")
	defer w.logger.Info("resolver stopped")

	pollTicker := time.NewTicker(w.pollInterval)
	defer pollTicker.Stop()
	cleanupTicker := time.NewTicker(w.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case payload, ok := <-requests:
			if !ok {
				return nil
			}
			w.handleRequest(ctx, payload)

		case <-pollTicker.C:
			w.poll(ctx)

		case <-cleanupTicker.C:
			w.dedup.Cleanup()
		}
	}
}

// handleRequest fulfils a single resolution-request event from the bus.
func (w *Worker) handleRequest(ctx context.Context, payload []byte) {
	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		w.logger.Warn("malformed event payload", slog.String("error", err.Error()))
		return
	}
	if len(ev.Handles) != 2 {
		w.logger.Warn("resolution request without pool handles",
			slog.Uint64("market_id", ev.MarketID),
		)
		return
	}

	handles := make([]conf.Handle, len(ev.Handles))
	for i, hex := range ev.Handles {
		handles[i] = conf.HandleFromHex(hex)
	}
	w.fulfill(ctx, ev.MarketID, handles)
}

// poll scans the engine arena for markets the clock has made actionable:
// open markets past their betting deadline, locked markets past their
// resolution time, and resolving markets whose decryption request was missed.
func (w *Worker) poll(ctx context.Context) {
	now := time.Now().UTC()
	for _, m := range w.eng.Markets() {
		switch m.State {
		case domain.MarketStateOpen:
			if !now.Before(m.BettingDeadline) {
				if err := w.svc.Lock(ctx, w.operator, m.ID); err != nil {
					w.logger.Warn("auto-lock failed",
						slog.Uint64("market_id", m.ID),
						slog.String("error", err.Error()),
					)
				}
			}

		case domain.MarketStateLocked:
			if !now.Before(m.ResolutionTime) {
				if err := w.svc.RequestResolution(ctx, w.operator, m.ID); err != nil {
					w.logger.Warn("auto-request failed",
						slog.Uint64("market_id", m.ID),
						slog.String("error", err.Error()),
					)
				}
			}

		case domain.MarketStateResolving:
			if !m.TotalsRevealed {
				w.fulfill(ctx, m.ID, []conf.Handle{m.YesPool, m.NoPool})
			}
		}
	}
}

// fulfill collects committee signatures over the surrendered pool handles
// and submits the proof. The leader lock makes the submission single-flight
// across worker instances; the dedup window stops this instance from
// re-signing a market it just handled.
func (w *Worker) fulfill(ctx context.Context, marketID uint64, handles []conf.Handle) {
	key := fmt.Sprintf("resolver:market:%d", marketID)
	if w.dedup.IsDuplicate(key) {
		return
	}

	unlock, err := w.locks.Acquire(ctx, key, w.lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			w.logger.Debug("another instance holds the market lock",
				slog.Uint64("market_id", marketID),
			)
			return
		}
		w.logger.Error("leader lock failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	proof, err := w.oracle.Decrypt(handles)
	if err != nil {
		w.logger.Error("threshold decryption failed",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := w.svc.SubmitDecryptedTotals(ctx, w.operator, marketID, proof); err != nil {
		w.logger.Error("totals submission rejected",
			slog.Uint64("market_id", marketID),
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("totals revealed",
		slog.Uint64("market_id", marketID),
		slog.Int("handles", len(handles)),
	)
}
