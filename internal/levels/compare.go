package levels

import (
	"math"

	"github.com/shopspring/decimal"

	"scalpd/internal/trade"
)

var epsilon = decimal.NewFromFloat(1e-8)

func dec(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// CrossedStop reports whether price has reached the stop for the direction.
func CrossedStop(dir trade.Direction, price, stop float64) bool {
	if price <= 0 || stop <= 0 {
		return false
	}
	if dir == trade.DirectionShort {
		return dec(price).Cmp(dec(stop)) >= 0
	}
	return dec(price).Cmp(dec(stop)) <= 0
}

// CrossedTarget reports whether price has reached the profit target.
func CrossedTarget(dir trade.Direction, price, target float64) bool {
	if price <= 0 || target <= 0 {
		return false
	}
	if dir == trade.DirectionShort {
		return dec(price).Cmp(dec(target)) <= 0
	}
	return dec(price).Cmp(dec(target)) >= 0
}

// TrailStopFor derives a stop trailing the anchor price by distPct.
func TrailStopFor(dir trade.Direction, anchor, distPct float64) float64 {
	if anchor <= 0 || distPct <= 0 {
		return 0
	}
	base := dec(anchor)
	pct := dec(distPct)
	var factor decimal.Decimal
	if dir == trade.DirectionShort {
		factor = decimal.NewFromInt(1).Add(pct)
	} else {
		factor = decimal.NewFromInt(1).Sub(pct)
	}
	f, _ := base.Mul(factor).Float64()
	return f
}

// BetterStop reports whether candidate tightens the stop in the profit
// direction. Stops only ever ratchet; a candidate on the wrong side of the
// current stop is never an improvement.
func BetterStop(dir trade.Direction, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := dec(candidate)
	curr := dec(current)
	if dir == trade.DirectionShort {
		return cand.Cmp(curr.Sub(epsilon)) < 0
	}
	return cand.Cmp(curr.Add(epsilon)) > 0
}

// ProfitFraction returns the signed move from entry to price relative to
// entry, positive when in profit for the direction.
func ProfitFraction(dir trade.Direction, entry, price float64) float64 {
	if entry <= 0 || price <= 0 {
		return 0
	}
	move := dec(price).Sub(dec(entry)).Div(dec(entry))
	if dir == trade.DirectionShort {
		move = move.Neg()
	}
	f, _ := move.Float64()
	return f
}
