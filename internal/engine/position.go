package engine

import (
	"time"

	"scalpd/internal/gateway/exchange"
	"scalpd/internal/trade"
)

// Position is the live trade record. Exactly one runner goroutine owns and
// mutates it; everyone else sees copies published through the runner's
// snapshot.
type Position struct {
	ID   string
	Plan trade.Plan

	State       State
	EntryPrice  float64 // actual average fill, Plan.Entry until known
	FilledSize  float64
	ClosedSize  float64
	CurrentStop float64
	RealizedPnL float64

	ReservationID string

	EntryOrder exchange.OrderHandle
	StopOrder  exchange.OrderHandle
	TP1Order   exchange.OrderHandle
	TP2Order   exchange.OrderHandle

	OpenedAt     time.Time
	LastAdjusted time.Time
	CloseReason  string

	// Orphaned marks a position abandoned by shutdown before reaching a
	// terminal state; it needs manual reconciliation against the exchange.
	Orphaned bool
}

func (p *Position) RemainingSize() float64 {
	r := p.FilledSize - p.ClosedSize
	if r < 0 {
		return 0
	}
	return r
}

// Age reports how long the position has been open.
func (p *Position) Age(now time.Time) time.Duration {
	if p.OpenedAt.IsZero() {
		return 0
	}
	return now.Sub(p.OpenedAt)
}

// pnl computes realized P&L for closing qty units at exitPrice.
func (p *Position) pnl(exitPrice, qty float64) float64 {
	if p.Plan.Direction == trade.DirectionShort {
		return (p.EntryPrice - exitPrice) * qty
	}
	return (exitPrice - p.EntryPrice) * qty
}
