package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"scalpd/internal/gateway/exchange"
	"scalpd/internal/levels"
	"scalpd/internal/logger"
)

type cmdKind int

const (
	cmdAdjust cmdKind = iota
	cmdClose
)

type command struct {
	kind    cmdKind
	newStop float64
	reason  string
}

var (
	errFillTimeout = errors.New("engine: entry fill timed out")
	errShutdown    = errors.New("engine: shutdown during fill wait")
	errRunnerBusy  = errors.New("engine: position busy, request dropped")
)

// runner owns one Position for its whole life. All state mutation happens on
// the runner's goroutine; transitions are therefore strictly sequential per
// position. Readers get copies via snapshot().
type runner struct {
	eng  *Engine
	pos  *Position
	cmds chan command
	snap atomic.Value
}

func newRunner(e *Engine, pos *Position) *runner {
	r := &runner{
		eng:  e,
		pos:  pos,
		cmds: make(chan command, 4),
	}
	r.publish()
	return r
}

func (r *runner) snapshot() Position {
	return r.snap.Load().(Position)
}

func (r *runner) publish() {
	r.snap.Store(*r.pos)
}

// send delivers a command without blocking the caller. The per-position
// queue is small on purpose: a stale adjustment is worthless.
func (r *runner) send(cmd command) error {
	select {
	case r.cmds <- cmd:
		return nil
	default:
		return errRunnerBusy
	}
}

func (r *runner) run() {
	defer r.eng.wg.Done()
	defer r.eng.retire(r)

	logger.Infof("Position %s: %s", r.pos.ID, describePlan(r.pos.Plan))

	// Re-check before dispatch: the circuit breaker or the daily cap may
	// have tripped between planning and now.
	if r.eng.ledger.Halted() {
		r.cancel("risk approval revoked before dispatch")
		return
	}

	if !r.enter() {
		return
	}
	r.watch()
}

// enter drives Planning -> Submitting -> Open: leverage, entry order, fill
// wait, protective orders. Returns false when the position ended in a
// terminal state instead.
func (r *runner) enter() bool {
	r.transition(StateSubmitting)
	r.emit(EventSubmitted, "entry dispatched", r.pos.Plan.Entry, r.pos.Plan.Size, 0)

	ctx, cancel := r.callCtx()
	err := r.eng.gw.SetLeverage(ctx, r.pos.Plan.Symbol, r.pos.Plan.Leverage)
	cancel()
	if err != nil {
		// An unconfirmed leverage setting would let actual exposure drift
		// from the plan. Abort rather than open at an unknown multiplier.
		r.fail(fmt.Sprintf("set leverage: %v", err))
		return false
	}

	spec := exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           sideFor(r.pos.Plan.Direction, false),
		Type:           exchange.Market,
		Quantity:       r.pos.Plan.Size,
		IdempotencyKey: uuid.NewString(),
	}
	ctx, cancel = r.callCtx()
	handle, err := r.eng.gw.SubmitOrder(ctx, spec)
	cancel()
	if err != nil {
		r.fail(fmt.Sprintf("entry order: %v", err))
		return false
	}
	r.pos.EntryOrder = handle
	r.publish()

	status, err := r.awaitFill(handle)
	if err != nil {
		r.abortUnfilledEntry(handle, err)
		return false
	}

	r.pos.FilledSize = status.FilledQty
	if status.AvgFillPrice > 0 {
		r.pos.EntryPrice = status.AvgFillPrice
	}
	r.pos.OpenedAt = time.Now()

	if err := r.placeProtective(); err != nil {
		logger.Errorf("Position %s: protective orders failed (%v), closing out", r.pos.ID, err)
		r.emergencyClose(fmt.Sprintf("protective orders failed: %v", err))
		return false
	}

	r.transition(StateOpen)
	r.emit(EventOpened, "entry filled", r.pos.EntryPrice, r.pos.FilledSize, 0)
	return true
}

// abortUnfilledEntry cleans up an entry order that never confirmed. A
// shutdown abort is a Cancelled outcome; exhaustion of the fill window is a
// Failed one. Both release the reservation.
func (r *runner) abortUnfilledEntry(handle exchange.OrderHandle, cause error) {
	ctx, cancel := r.callCtx()
	if err := r.eng.gw.CancelOrder(ctx, handle); err != nil {
		logger.Warnf("Position %s: cancel of unfilled entry failed: %v", r.pos.ID, err)
	}
	cancel()
	if errors.Is(cause, errShutdown) {
		r.cancel("shutdown before fill")
		return
	}
	r.fail(cause.Error())
}

func (r *runner) awaitFill(handle exchange.OrderHandle) (exchange.OrderStatus, error) {
	deadline := time.Now().Add(r.eng.callTimeout())
	for {
		ctx, cancel := r.callCtx()
		status, err := r.eng.gw.QueryOrder(ctx, handle)
		cancel()
		if err == nil {
			switch status.State {
			case exchange.OrderFilled:
				return status, nil
			case exchange.OrderCanceled, exchange.OrderRejected, exchange.OrderExpired:
				return status, fmt.Errorf("entry order ended %s", status.State)
			}
		} else {
			logger.Warnf("Position %s: fill poll: %v", r.pos.ID, err)
		}
		if time.Now().After(deadline) {
			return exchange.OrderStatus{}, errFillTimeout
		}
		select {
		case <-time.After(r.eng.pollInterval()):
		case <-r.eng.shutdownCh:
			return exchange.OrderStatus{}, errShutdown
		}
	}
}

// placeProtective puts the stop and both take-profits on the book. TP1
// covers the configured partial ratio, TP2 the remainder.
func (r *runner) placeProtective() error {
	closeSide := sideFor(r.pos.Plan.Direction, true)
	tp1Qty := r.pos.FilledSize * r.eng.levelsCfg.TP1CloseRatio
	tp2Qty := r.pos.FilledSize - tp1Qty

	stop, err := r.submitProtective(exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           closeSide,
		Type:           exchange.StopMarket,
		Quantity:       r.pos.FilledSize,
		TriggerPrice:   r.pos.Plan.StopLoss,
		ReduceOnly:     true,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	r.pos.StopOrder = stop
	r.pos.CurrentStop = r.pos.Plan.StopLoss

	tp1, err := r.submitProtective(exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           closeSide,
		Type:           exchange.TakeProfitMarket,
		Quantity:       tp1Qty,
		TriggerPrice:   r.pos.Plan.TP1,
		ReduceOnly:     true,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("tp1: %w", err)
	}
	r.pos.TP1Order = tp1

	tp2, err := r.submitProtective(exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           closeSide,
		Type:           exchange.TakeProfitMarket,
		Quantity:       tp2Qty,
		TriggerPrice:   r.pos.Plan.TP2,
		ReduceOnly:     true,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("tp2: %w", err)
	}
	r.pos.TP2Order = tp2
	r.publish()
	return nil
}

func (r *runner) submitProtective(spec exchange.OrderSpec) (exchange.OrderHandle, error) {
	ctx, cancel := r.callCtx()
	defer cancel()
	return r.eng.gw.SubmitOrder(ctx, spec)
}

// watch is the Open/PartiallyClosed loop: it polls protective orders for
// fills and serves adjustment and close requests until the position reaches
// a terminal state or the engine shuts down.
func (r *runner) watch() {
	ticker := time.NewTicker(r.eng.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-r.eng.shutdownCh:
			r.orphan()
			return
		case cmd := <-r.cmds:
			switch cmd.kind {
			case cmdAdjust:
				r.adjust(cmd.newStop, cmd.reason)
			case cmdClose:
				r.closeAtMarket(cmd.reason)
			}
			if r.pos.State.Terminal() {
				return
			}
		case <-ticker.C:
			if r.checkFills() {
				return
			}
		}
	}
}

// checkFills polls the live protective orders. Order of checks matters when
// price gaps: the stop wins over targets, TP1 is processed before TP2 so a
// gap through both settles the partial leg first.
func (r *runner) checkFills() bool {
	if st, ok := r.queryFilled(r.pos.StopOrder); ok {
		r.settleFullClose(st, "stop loss hit")
		return true
	}
	if !r.pos.TP1Order.Zero() {
		if st, ok := r.queryFilled(r.pos.TP1Order); ok {
			r.settlePartialClose(st)
		}
	}
	if st, ok := r.queryFilled(r.pos.TP2Order); ok {
		r.settleFullClose(st, "tp2 hit")
		return true
	}
	// The partial path can end terminally too: a failed breakeven stop
	// replacement flattens the position inside settlePartialClose.
	return r.pos.State.Terminal()
}

func (r *runner) queryFilled(handle exchange.OrderHandle) (exchange.OrderStatus, bool) {
	if handle.Zero() {
		return exchange.OrderStatus{}, false
	}
	ctx, cancel := r.callCtx()
	defer cancel()
	status, err := r.eng.gw.QueryOrder(ctx, handle)
	if err != nil {
		logger.Warnf("Position %s: protective poll: %v", r.pos.ID, err)
		return exchange.OrderStatus{}, false
	}
	return status, status.State == exchange.OrderFilled
}

// settlePartialClose handles a TP1 fill: settle the leg, shrink the risk
// reservation by the closed fraction, then ratchet the stop to breakeven.
func (r *runner) settlePartialClose(status exchange.OrderStatus) {
	qty := status.FilledQty
	price := status.AvgFillPrice
	if price <= 0 {
		price = r.pos.Plan.TP1
	}
	leg := r.pos.pnl(price, qty)
	fraction := 0.0
	if r.pos.FilledSize > 0 {
		fraction = qty / r.pos.FilledSize
	}

	r.pos.ClosedSize += qty
	r.pos.RealizedPnL += leg
	r.pos.TP1Order = exchange.OrderHandle{}

	r.eng.ledger.Settle(leg)
	if fraction > 0 && fraction < 1 {
		if err := r.eng.ledger.Reduce(r.pos.ReservationID, fraction); err != nil {
			logger.Errorf("Position %s: reservation reduce: %v", r.pos.ID, err)
		}
	}

	r.transition(StatePartiallyClosed)
	r.emit(EventPartiallyClosed, "tp1 filled", price, qty, leg)

	if levels.BetterStop(r.pos.Plan.Direction, r.pos.EntryPrice, r.pos.CurrentStop) {
		r.adjust(r.pos.EntryPrice, "breakeven after tp1")
	}
}

// settleFullClose handles a stop or TP2 fill that flattened the position:
// cancel whatever protective orders are left, settle the final leg, release
// the reservation.
func (r *runner) settleFullClose(status exchange.OrderStatus, reason string) {
	qty := status.FilledQty
	price := status.AvgFillPrice
	if price <= 0 {
		price = r.pos.CurrentStop
	}

	r.transition(StateClosing)
	r.emit(EventClosing, reason, price, qty, 0)

	r.cancelRemainingProtective(status.Handle)

	leg := r.pos.pnl(price, qty)
	r.pos.ClosedSize += qty
	r.pos.RealizedPnL += leg
	r.pos.CloseReason = reason

	r.eng.ledger.SettleFinal(leg, r.pos.RealizedPnL)
	r.release()

	r.transition(StateClosed)
	r.emit(EventClosed, reason, price, qty, r.pos.RealizedPnL)
}

// closeAtMarket flattens the remainder on request (manual close, time exit).
func (r *runner) closeAtMarket(reason string) {
	if !r.pos.State.Live() {
		return
	}
	remaining := r.pos.RemainingSize()
	if remaining <= 0 {
		return
	}

	r.transition(StateClosing)
	r.emit(EventClosing, reason, 0, remaining, 0)

	r.cancelRemainingProtective(exchange.OrderHandle{})

	spec := exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           sideFor(r.pos.Plan.Direction, true),
		Type:           exchange.Market,
		Quantity:       remaining,
		ReduceOnly:     true,
		IdempotencyKey: uuid.NewString(),
	}
	ctx, cancel := r.callCtx()
	handle, err := r.eng.gw.SubmitOrder(ctx, spec)
	cancel()
	if err != nil {
		r.pos.Orphaned = true
		r.fail(fmt.Sprintf("close order: %v", err))
		return
	}

	status, err := r.awaitFill(handle)
	price := status.AvgFillPrice
	if err != nil || price <= 0 {
		// The close was accepted; assume it executed near the last stop and
		// reconcile from the journal if the fill report never arrived.
		logger.Warnf("Position %s: close fill unconfirmed (%v), settling at stop %.4f", r.pos.ID, err, r.pos.CurrentStop)
		price = r.pos.CurrentStop
	}

	leg := r.pos.pnl(price, remaining)
	r.pos.ClosedSize += remaining
	r.pos.RealizedPnL += leg
	r.pos.CloseReason = reason

	r.eng.ledger.SettleFinal(leg, r.pos.RealizedPnL)
	r.release()

	r.transition(StateClosed)
	r.emit(EventClosed, reason, price, remaining, r.pos.RealizedPnL)
}

// emergencyClose unwinds a filled entry whose protective orders could not be
// placed. The position must not sit on the exchange unprotected.
func (r *runner) emergencyClose(reason string) {
	spec := exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           sideFor(r.pos.Plan.Direction, true),
		Type:           exchange.Market,
		Quantity:       r.pos.FilledSize,
		ReduceOnly:     true,
		IdempotencyKey: uuid.NewString(),
	}
	ctx, cancel := r.callCtx()
	_, err := r.eng.gw.SubmitOrder(ctx, spec)
	cancel()
	if err != nil {
		logger.Errorf("Position %s: emergency close failed: %v", r.pos.ID, err)
		r.pos.Orphaned = true
	}
	r.fail(reason)
}

// adjust replaces the stop order with a tighter one. The position is exposed
// for the cancel+resubmit round trip only.
func (r *runner) adjust(newStop float64, reason string) {
	if r.pos.State != StateOpen && r.pos.State != StatePartiallyClosed {
		return
	}
	if !levels.BetterStop(r.pos.Plan.Direction, newStop, r.pos.CurrentStop) {
		return
	}

	prev := r.pos.State
	r.transition(StateAdjusting)

	if !r.pos.StopOrder.Zero() {
		ctx, cancel := r.callCtx()
		err := r.eng.gw.CancelOrder(ctx, r.pos.StopOrder)
		cancel()
		if err != nil {
			logger.Warnf("Position %s: stop cancel during adjust: %v", r.pos.ID, err)
			r.transition(prev)
			return
		}
	}

	handle, err := r.submitProtective(exchange.OrderSpec{
		Symbol:         r.pos.Plan.Symbol,
		Side:           sideFor(r.pos.Plan.Direction, true),
		Type:           exchange.StopMarket,
		Quantity:       r.pos.RemainingSize(),
		TriggerPrice:   newStop,
		ReduceOnly:     true,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		// Old stop is cancelled and the replacement failed: the position is
		// unprotected, so flatten it now.
		logger.Errorf("Position %s: stop replace failed (%v), closing", r.pos.ID, err)
		r.pos.StopOrder = exchange.OrderHandle{}
		r.transition(prev)
		r.closeAtMarket("stop replace failed")
		return
	}

	r.pos.StopOrder = handle
	r.pos.CurrentStop = newStop
	r.pos.LastAdjusted = time.Now()
	r.transition(prev)
	r.emit(EventAdjusted, reason, newStop, r.pos.RemainingSize(), 0)
}

// cancelRemainingProtective cancels live protective orders except the one
// that just filled.
func (r *runner) cancelRemainingProtective(filled exchange.OrderHandle) {
	for _, h := range []exchange.OrderHandle{r.pos.StopOrder, r.pos.TP1Order, r.pos.TP2Order} {
		if h.Zero() || h == filled {
			continue
		}
		ctx, cancel := r.callCtx()
		if err := r.eng.gw.CancelOrder(ctx, h); err != nil {
			logger.Warnf("Position %s: protective cancel: %v", r.pos.ID, err)
		}
		cancel()
	}
	r.pos.StopOrder = exchange.OrderHandle{}
	r.pos.TP1Order = exchange.OrderHandle{}
	r.pos.TP2Order = exchange.OrderHandle{}
}

// orphan hands a live position over to manual reconciliation on shutdown.
// Protective orders stay on the book; only the local reservation is freed so
// a restart does not inherit phantom exposure.
func (r *runner) orphan() {
	r.pos.Orphaned = true
	r.release()
	r.emit(EventOrphaned, "shutdown with live position, needs manual reconciliation", 0, r.pos.RemainingSize(), 0)
	r.publish()
	logger.Warnf("Position %s: orphaned at %s with %.6f remaining", r.pos.ID, r.pos.State, r.pos.RemainingSize())
}

func (r *runner) fail(reason string) {
	r.pos.CloseReason = reason
	r.transition(StateFailed)
	r.release()
	r.emit(EventFailed, reason, 0, 0, 0)
}

func (r *runner) cancel(reason string) {
	r.pos.CloseReason = reason
	r.transition(StateCancelled)
	r.release()
	r.emit(EventCancelled, reason, 0, 0, 0)
}

// release frees the position's reservation exactly once.
func (r *runner) release() {
	if r.pos.ReservationID == "" {
		return
	}
	if err := r.eng.ledger.Release(r.pos.ReservationID); err != nil {
		logger.Errorf("Position %s: release: %v", r.pos.ID, err)
	}
	r.pos.ReservationID = ""
}

func (r *runner) transition(to State) {
	if !CanTransition(r.pos.State, to) {
		logger.Errorf("Position %s: illegal transition %s -> %s", r.pos.ID, r.pos.State, to)
		return
	}
	logger.Debugf("Position %s: %s -> %s", r.pos.ID, r.pos.State, to)
	r.pos.State = to
	r.publish()
}

func (r *runner) emit(typ EventType, reason string, price, qty, pnl float64) {
	ev := newEvent(typ, r.pos.Plan.Symbol)
	ev.PositionID = r.pos.ID
	ev.State = r.pos.State.String()
	ev.Reason = reason
	ev.Price = price
	ev.Quantity = qty
	ev.RealizedPnL = pnl
	r.eng.bus.Publish(ev)
}

func (r *runner) callCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.eng.callTimeout())
}
