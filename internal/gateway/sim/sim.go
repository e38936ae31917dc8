// Package sim implements an in-process exchange for paper trading and tests.
// Market orders fill instantly at the current mark price; stop and
// take-profit orders rest until a SetPrice call crosses their trigger.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"scalpd/internal/gateway/exchange"
	"scalpd/internal/logger"
)

var errNoPrice = errors.New("sim: no price set for symbol")

type restingOrder struct {
	spec   exchange.OrderSpec
	status exchange.OrderStatus
}

// Gateway is a deterministic simulated exchange. It deduplicates submissions
// by idempotency key, so a retried call that already landed returns the
// original order instead of opening a second one.
type Gateway struct {
	mu       sync.Mutex
	prices   map[string]float64
	orders   map[string]*restingOrder // by order id
	byKey    map[string]string        // idempotency key -> order id
	leverage map[string]int
	nextID   int

	// fault injection, consumed in FIFO order on SubmitOrder
	faults []error

	// timeoutAccepts records orders whose submission reported a timeout
	// even though the order was accepted. Used to exercise retry paths.
	timeoutAccept int
}

func New() *Gateway {
	return &Gateway{
		prices:   make(map[string]float64),
		orders:   make(map[string]*restingOrder),
		byKey:    make(map[string]string),
		leverage: make(map[string]int),
	}
}

func (g *Gateway) Name() string { return "sim" }

// SetPrice updates the mark price and triggers any resting orders the move
// crosses.
func (g *Gateway) SetPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
	for _, o := range g.orders {
		if o.spec.Symbol != symbol || o.status.State != exchange.OrderNew {
			continue
		}
		if triggered(o.spec, price) {
			o.status.State = exchange.OrderFilled
			o.status.FilledQty = o.spec.Quantity
			o.status.AvgFillPrice = o.spec.TriggerPrice
			o.status.UpdatedAt = time.Now()
		}
	}
}

// EnqueueError makes the next SubmitOrder fail with err without recording
// the order.
func (g *Gateway) EnqueueError(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = append(g.faults, err)
}

// EnqueueTimeout makes the next SubmitOrder record the order but still
// return a retryable timeout, imitating a response lost on the wire. The
// retried call with the same idempotency key resolves to the recorded order.
func (g *Gateway) EnqueueTimeout(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.timeoutAccept += n
}

func (g *Gateway) SubmitOrder(_ context.Context, spec exchange.OrderSpec) (exchange.OrderHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.faults) > 0 {
		err := g.faults[0]
		g.faults = g.faults[1:]
		return exchange.OrderHandle{}, err
	}

	if id, ok := g.byKey[spec.IdempotencyKey]; ok && spec.IdempotencyKey != "" {
		logger.Debugf("sim: duplicate submit for key %s resolved to %s", spec.IdempotencyKey, id)
		return g.orders[id].status.Handle, nil
	}

	price, ok := g.prices[spec.Symbol]
	if !ok {
		return exchange.OrderHandle{}, exchange.Terminal("submit", errNoPrice)
	}

	g.nextID++
	handle := exchange.OrderHandle{
		Symbol:        spec.Symbol,
		OrderID:       fmt.Sprintf("sim-%d", g.nextID),
		ClientOrderID: spec.IdempotencyKey,
	}
	o := &restingOrder{
		spec: spec,
		status: exchange.OrderStatus{
			Handle:    handle,
			State:     exchange.OrderNew,
			UpdatedAt: time.Now(),
		},
	}
	if spec.Type == exchange.Market {
		o.status.State = exchange.OrderFilled
		o.status.FilledQty = spec.Quantity
		o.status.AvgFillPrice = price
	} else if triggered(spec, price) {
		o.status.State = exchange.OrderFilled
		o.status.FilledQty = spec.Quantity
		o.status.AvgFillPrice = spec.TriggerPrice
	}
	g.orders[handle.OrderID] = o
	if spec.IdempotencyKey != "" {
		g.byKey[spec.IdempotencyKey] = handle.OrderID
	}

	if g.timeoutAccept > 0 {
		g.timeoutAccept--
		return exchange.OrderHandle{}, exchange.Retryable("submit", errors.New("sim: response lost"))
	}
	return handle, nil
}

func (g *Gateway) CancelOrder(_ context.Context, handle exchange.OrderHandle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[handle.OrderID]
	if !ok {
		return exchange.Terminal("cancel", fmt.Errorf("sim: unknown order %s", handle.OrderID))
	}
	if o.status.State == exchange.OrderNew {
		o.status.State = exchange.OrderCanceled
		o.status.UpdatedAt = time.Now()
	}
	return nil
}

func (g *Gateway) QueryOrder(_ context.Context, handle exchange.OrderHandle) (exchange.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[handle.OrderID]
	if !ok {
		return exchange.OrderStatus{}, exchange.Terminal("query", fmt.Errorf("sim: unknown order %s", handle.OrderID))
	}
	return o.status, nil
}

func (g *Gateway) QueryPosition(_ context.Context, symbol string) (exchange.PositionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var net float64
	for _, o := range g.orders {
		if o.spec.Symbol != symbol || o.status.State != exchange.OrderFilled {
			continue
		}
		qty := o.status.FilledQty
		if o.spec.Side == exchange.Sell {
			qty = -qty
		}
		net += qty
	}
	return exchange.PositionSnapshot{Symbol: symbol, Quantity: net, MarkPrice: g.prices[symbol], UpdatedAt: time.Now()}, nil
}

func (g *Gateway) GetPrice(_ context.Context, symbol string) (exchange.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	price, ok := g.prices[symbol]
	if !ok {
		return exchange.Quote{}, exchange.Terminal("price", errNoPrice)
	}
	return exchange.Quote{Symbol: symbol, Price: price, UpdatedAt: time.Now()}, nil
}

func (g *Gateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

// OrderCount reports how many distinct orders the gateway has recorded for a
// symbol, used to verify idempotent submission.
func (g *Gateway) OrderCount(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, o := range g.orders {
		if o.spec.Symbol == symbol {
			n++
		}
	}
	return n
}

// triggered reports whether a resting stop or take-profit order should fire
// at price. Sell-side stops trigger below, sell-side take-profits above; the
// mirror holds for buy-side protective orders on short positions.
func triggered(spec exchange.OrderSpec, price float64) bool {
	switch spec.Type {
	case exchange.StopMarket:
		if spec.Side == exchange.Sell {
			return price <= spec.TriggerPrice
		}
		return price >= spec.TriggerPrice
	case exchange.TakeProfitMarket:
		if spec.Side == exchange.Sell {
			return price >= spec.TriggerPrice
		}
		return price <= spec.TriggerPrice
	default:
		return false
	}
}
