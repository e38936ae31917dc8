// Package engine drives approved signals through the trade lifecycle:
// plan, reserve, submit, protect, adjust, close, settle. One goroutine owns
// each position; the engine itself only routes signals in and adjustment
// requests through.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scalpd/internal/config"
	"scalpd/internal/gateway/exchange"
	"scalpd/internal/logger"
	"scalpd/internal/risk"
	"scalpd/internal/sizer"
	"scalpd/internal/trade"
)

var ErrPositionNotFound = errors.New("engine: position not found")

type Engine struct {
	cfg       config.EngineConfig
	levelsCfg config.LevelsConfig

	ledger *risk.Ledger
	sizer  *sizer.Sizer
	gw     exchange.Gateway
	bus    *Bus

	signals    chan trade.Signal
	shutdownCh chan struct{}
	shutdown   sync.Once

	mu       sync.RWMutex
	runners  map[string]*runner
	archive  []Position
	draining bool

	wg sync.WaitGroup
}

func New(cfg config.EngineConfig, levelsCfg config.LevelsConfig, ledger *risk.Ledger, szr *sizer.Sizer, gw exchange.Gateway) *Engine {
	return &Engine{
		cfg:        cfg,
		levelsCfg:  levelsCfg,
		ledger:     ledger,
		sizer:      szr,
		gw:         gw,
		bus:        NewBus(cfg.EventBuffer),
		signals:    make(chan trade.Signal, cfg.SignalBuffer),
		shutdownCh: make(chan struct{}),
		runners:    make(map[string]*runner),
	}
}

// Events exposes the TradeEvent bus for observers.
func (e *Engine) Events() *Bus { return e.bus }

// Offer hands a signal to the engine without blocking the producer. A full
// intake queue drops the signal, favoring freshness over completeness.
func (e *Engine) Offer(sig trade.Signal) bool {
	e.mu.RLock()
	draining := e.draining
	e.mu.RUnlock()
	if draining {
		return false
	}
	select {
	case e.signals <- sig:
		return true
	default:
		ev := newEvent(EventSignalDropped, sig.Symbol)
		ev.Reason = "intake queue full"
		e.bus.Publish(ev)
		logger.Warnf("Engine: dropped signal for %s, intake full", sig.Symbol)
		return false
	}
}

// Run consumes the intake queue until ctx is cancelled, then drains: every
// live position either reaches a terminal state or is flagged orphaned for
// manual reconciliation before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	logger.Infof("Engine: started")
	for {
		select {
		case sig := <-e.signals:
			e.handleSignal(sig)
		case <-ctx.Done():
			e.drain()
			return nil
		}
	}
}

func (e *Engine) drain() {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()
	e.shutdown.Do(func() { close(e.shutdownCh) })
	e.wg.Wait()
	e.bus.Close()
	logger.Infof("Engine: stopped, %d positions archived", len(e.Archive()))
}

func (e *Engine) handleSignal(sig trade.Signal) {
	plan, err := e.sizer.Plan(sig)
	if err != nil {
		ev := newEvent(EventRejected, sig.Symbol)
		ev.Reason = err.Error()
		e.bus.Publish(ev)
		logger.Debugf("Engine: %v", err)
		return
	}

	resID, err := e.ledger.Reserve(plan.MaxRisk)
	if err != nil {
		// Lost the race against a concurrent reservation.
		ev := newEvent(EventRejected, sig.Symbol)
		ev.Reason = err.Error()
		e.bus.Publish(ev)
		logger.Infof("Engine: reservation refused for %s: %v", sig.Symbol, err)
		return
	}

	pos := &Position{
		ID:            uuid.NewString(),
		Plan:          plan,
		State:         StatePlanning,
		EntryPrice:    plan.Entry,
		CurrentStop:   plan.StopLoss,
		ReservationID: resID,
	}

	r := newRunner(e, pos)
	e.mu.Lock()
	e.runners[pos.ID] = r
	e.mu.Unlock()

	ev := newEvent(EventPlanned, plan.Symbol)
	ev.PositionID = pos.ID
	ev.State = StatePlanning.String()
	ev.Price = plan.Entry
	ev.Quantity = plan.Size
	e.bus.Publish(ev)

	e.wg.Add(1)
	go r.run()
}

// RequestAdjust asks a position's runner to move its stop. The monitor is
// the only caller; it never touches position state directly.
func (e *Engine) RequestAdjust(positionID string, newStop float64, reason string) error {
	r, ok := e.runner(positionID)
	if !ok {
		return ErrPositionNotFound
	}
	return r.send(command{kind: cmdAdjust, newStop: newStop, reason: reason})
}

// RequestClose asks a position's runner to close the remainder at market.
func (e *Engine) RequestClose(positionID string, reason string) error {
	r, ok := e.runner(positionID)
	if !ok {
		return ErrPositionNotFound
	}
	return r.send(command{kind: cmdClose, reason: reason})
}

func (e *Engine) runner(id string) (*runner, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runners[id]
	return r, ok
}

// Positions returns snapshots of every non-terminal position.
func (e *Engine) Positions() []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Position, 0, len(e.runners))
	for _, r := range e.runners {
		out = append(out, r.snapshot())
	}
	return out
}

// Archive returns copies of terminal positions, oldest first.
func (e *Engine) Archive() []Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Position, len(e.archive))
	copy(out, e.archive)
	return out
}

// retire moves a finished runner's position to the archive.
func (e *Engine) retire(r *runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runners, r.pos.ID)
	e.archive = append(e.archive, r.snapshot())
}

func (e *Engine) callTimeout() time.Duration {
	return time.Duration(e.cfg.FillTimeoutSeconds) * time.Second
}

func (e *Engine) pollInterval() time.Duration {
	return time.Duration(e.cfg.FillPollIntervalMs) * time.Millisecond
}

func sideFor(dir trade.Direction, closing bool) exchange.OrderSide {
	long := dir == trade.DirectionLong
	if closing {
		long = !long
	}
	if long {
		return exchange.Buy
	}
	return exchange.Sell
}

func describePlan(p trade.Plan) string {
	return fmt.Sprintf("%s %s size=%.6f lev=%dx entry=%.4f sl=%.4f tp1=%.4f tp2=%.4f risk=%.2f",
		p.Symbol, p.Direction, p.Size, p.Leverage, p.Entry, p.StopLoss, p.TP1, p.TP2, p.MaxRisk)
}
