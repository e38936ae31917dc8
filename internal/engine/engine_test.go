package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpd/internal/config"
	"scalpd/internal/gateway/exchange"
	"scalpd/internal/gateway/sim"
	"scalpd/internal/levels"
	"scalpd/internal/risk"
	"scalpd/internal/sizer"
	"scalpd/internal/trade"
)

type harness struct {
	eng    *Engine
	ledger *risk.Ledger
	gw     *sim.Gateway
	events <-chan TradeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ledger := risk.NewLedger(risk.Config{
		StartingEquity:       10000,
		RiskPerTrade:         0.01,
		MaxOpenRisk:          300,
		MaxDailyLossPct:      0.05,
		MaxConsecutiveLosses: 5,
		Cooldown:             time.Hour,
	})
	levelsCfg := levels.Config{StopATRMultiplier: 1.5, TP1Reward: 1.0, TP2Reward: 2.0}
	szr := sizer.New(
		config.SizerConfig{
			ConfidenceFloor: 0.5,
			MinNotionalUSD:  1,
			Buckets:         []config.ConfidenceBucket{{Floor: 0.5, Scale: 1.0}},
		},
		config.LeverageConfig{Min: 1, Max: 20, Tiers: []config.LeverageTier{{MaxATRPct: 0, Leverage: 10}}},
		levelsCfg,
		config.RiskConfig{RiskPerTrade: 0.01},
		ledger,
	)
	gw := sim.New()
	eng := New(
		config.EngineConfig{SignalBuffer: 8, EventBuffer: 128, FillPollIntervalMs: 5, FillTimeoutSeconds: 2},
		config.LevelsConfig{StopATRMultiplier: 1.5, TP1Reward: 1.0, TP2Reward: 2.0, TP1CloseRatio: 0.5},
		ledger, szr, gw,
	)

	h := &harness{
		eng:    eng,
		ledger: ledger,
		gw:     gw,
		events: eng.Events().Subscribe(),
		done:   make(chan struct{}),
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
	}
}

func (h *harness) waitEvent(t *testing.T, want EventType) TradeEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", want)
			}
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func longSignal() trade.Signal {
	return trade.Signal{
		Symbol:         "ETHUSDT",
		Direction:      trade.DirectionLong,
		Confidence:     0.8,
		Timeframe:      "5m",
		ReferencePrice: 100,
		ATR:            2,
		CreatedAt:      time.Now(),
	}
}

func TestFullLifecycleThroughBothTargets(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)

	require.True(t, h.eng.Offer(longSignal()))
	h.waitEvent(t, EventPlanned)
	h.waitEvent(t, EventSubmitted)
	opened := h.waitEvent(t, EventOpened)
	assert.Equal(t, 100.0, opened.Price)

	require.Equal(t, 1, h.ledger.OpenReservations())

	// First target: half the position comes off, stop moves to breakeven.
	h.gw.SetPrice("ETHUSDT", 103)
	partial := h.waitEvent(t, EventPartiallyClosed)
	assert.InDelta(t, 50.0, partial.RealizedPnL, 1e-6) // (103-100) * size/2
	adjusted := h.waitEvent(t, EventAdjusted)
	assert.InDelta(t, 100.0, adjusted.Price, 1e-6)

	// Second target closes the rest.
	h.gw.SetPrice("ETHUSDT", 106)
	h.waitEvent(t, EventClosing)
	closed := h.waitEvent(t, EventClosed)
	assert.InDelta(t, 150.0, closed.RealizedPnL, 1e-6)

	assert.Equal(t, 0, h.ledger.OpenReservations())
	assert.InDelta(t, 10150.0, h.ledger.Snapshot().Equity, 1e-6)
	assert.Equal(t, 0, h.ledger.Snapshot().LossStreak)

	// Position retired to the archive in Closed state.
	require.Eventually(t, func() bool {
		arch := h.eng.Archive()
		return len(arch) == 1 && arch[0].State == StateClosed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStopReplaceFailureAfterFirstTargetFlattens(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)

	require.True(t, h.eng.Offer(longSignal()))
	h.waitEvent(t, EventOpened)

	// The next submit is the breakeven stop replacement after tp1 fills; its
	// rejection leaves the position unprotected and forces a market flatten.
	h.gw.EnqueueError(exchange.Terminal("submit", errors.New("rejected")))
	h.gw.SetPrice("ETHUSDT", 103)

	h.waitEvent(t, EventPartiallyClosed)
	closing := h.waitEvent(t, EventClosing)
	assert.Equal(t, "stop replace failed", closing.Reason)
	closed := h.waitEvent(t, EventClosed)
	assert.InDelta(t, 100.0, closed.RealizedPnL, 1e-6) // both legs at tp1

	// The runner retires: position archived Closed, not lingering or orphaned.
	require.Eventually(t, func() bool {
		arch := h.eng.Archive()
		return len(arch) == 1 && arch[0].State == StateClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.eng.Positions())
	assert.False(t, h.eng.Archive()[0].Orphaned)
	assert.Equal(t, 0, h.ledger.OpenReservations())
}

func TestStopLossClosesAndCountsLoss(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)

	require.True(t, h.eng.Offer(longSignal()))
	h.waitEvent(t, EventOpened)

	h.gw.SetPrice("ETHUSDT", 96.5)
	closed := h.waitEvent(t, EventClosed)
	assert.InDelta(t, -100.0, closed.RealizedPnL, 1e-6) // risk budget lost at the stop

	assert.Equal(t, 0, h.ledger.OpenReservations())
	assert.Equal(t, 1, h.ledger.Snapshot().LossStreak)
	assert.InDelta(t, 9900.0, h.ledger.Snapshot().Equity, 1e-6)
}

func TestRejectedSignalEmitsDiagnostic(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)
	h.ledger.Pause()

	require.True(t, h.eng.Offer(longSignal()))
	ev := h.waitEvent(t, EventRejected)
	assert.Equal(t, "ETHUSDT", ev.Symbol)
	assert.Equal(t, 0, h.ledger.OpenReservations())
}

func TestEntryFailureReleasesReservation(t *testing.T) {
	h := newHarness(t)
	// No price set: the entry order fails terminally.

	require.True(t, h.eng.Offer(longSignal()))
	h.waitEvent(t, EventFailed)
	assert.Equal(t, 0, h.ledger.OpenReservations())

	require.Eventually(t, func() bool {
		arch := h.eng.Archive()
		return len(arch) == 1 && arch[0].State == StateFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManualCloseFlattensRemainder(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)

	require.True(t, h.eng.Offer(longSignal()))
	opened := h.waitEvent(t, EventOpened)

	h.gw.SetPrice("ETHUSDT", 101)
	require.NoError(t, h.eng.RequestClose(opened.PositionID, "operator close"))
	closed := h.waitEvent(t, EventClosed)
	assert.InDelta(t, 100.0/3.0, closed.RealizedPnL, 1e-4) // (101-100) * full size
	assert.Equal(t, 0, h.ledger.OpenReservations())
}

func TestAdjustRatchetsStopOnly(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)

	require.True(t, h.eng.Offer(longSignal()))
	opened := h.waitEvent(t, EventOpened)

	require.NoError(t, h.eng.RequestAdjust(opened.PositionID, 98.5, "tighten"))
	adjusted := h.waitEvent(t, EventAdjusted)
	assert.InDelta(t, 98.5, adjusted.Price, 1e-9)

	// A looser stop is ignored: the next accepted adjustment is tighter.
	require.NoError(t, h.eng.RequestAdjust(opened.PositionID, 95, "loosen"))
	require.NoError(t, h.eng.RequestAdjust(opened.PositionID, 99, "tighten again"))
	adjusted = h.waitEvent(t, EventAdjusted)
	assert.InDelta(t, 99.0, adjusted.Price, 1e-9)
}

func TestShutdownOrphansLivePosition(t *testing.T) {
	h := newHarness(t)
	h.gw.SetPrice("ETHUSDT", 100)

	require.True(t, h.eng.Offer(longSignal()))
	h.waitEvent(t, EventOpened)

	h.stop()

	arch := h.eng.Archive()
	require.Len(t, arch, 1)
	assert.True(t, arch[0].Orphaned)
	// The local reservation is freed; the exchange-side position is left for
	// manual reconciliation.
	assert.Equal(t, 0, h.ledger.OpenReservations())
}

func TestRequestsForUnknownPositionFail(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.eng.RequestClose("missing", "x"), ErrPositionNotFound)
	assert.ErrorIs(t, h.eng.RequestAdjust("missing", 1, "x"), ErrPositionNotFound)
}

func TestOfferDropsWhenQueueFull(t *testing.T) {
	ledger := risk.NewLedger(risk.Config{StartingEquity: 10000, MaxOpenRisk: 300})
	szr := sizer.New(config.SizerConfig{}, config.LeverageConfig{Min: 1, Max: 1},
		levels.Config{StopATRMultiplier: 1}, config.RiskConfig{RiskPerTrade: 0.01}, ledger)
	eng := New(
		config.EngineConfig{SignalBuffer: 1, EventBuffer: 8, FillPollIntervalMs: 5, FillTimeoutSeconds: 1},
		config.LevelsConfig{TP1CloseRatio: 0.5},
		ledger, szr, sim.New(),
	)
	// Not running: the second offer finds the buffer full.
	assert.True(t, eng.Offer(longSignal()))
	assert.False(t, eng.Offer(longSignal()))
}
