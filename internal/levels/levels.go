// Package levels derives stop-loss and take-profit prices from entry price
// and volatility. Price arithmetic goes through shopspring/decimal so that
// repeated trailing adjustments do not accumulate float drift.
package levels

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"scalpd/internal/trade"
)

var ErrLevelsUndefined = errors.New("levels: volatility too small for a protective distance")

// minStopFraction guards against opening with an effectively zero stop:
// the stop distance must be at least this fraction of entry price.
const minStopFraction = 1e-5

type Config struct {
	StopATRMultiplier float64
	TP1Reward         float64 // reward:risk multiple
	TP2Reward         float64
}

type Levels struct {
	StopLoss float64
	TP1      float64
	TP2      float64
}

// Compute places the stop on the adverse side of entry at ATR times the
// configured multiplier, and the targets at the configured reward multiples
// of that distance on the profit side.
func Compute(cfg Config, entry float64, dir trade.Direction, atr float64) (Levels, error) {
	if entry <= 0 {
		return Levels{}, fmt.Errorf("levels: entry price must be positive, got %.8f", entry)
	}
	if !dir.Valid() {
		return Levels{}, fmt.Errorf("levels: invalid direction %q", dir)
	}
	dist := decimal.NewFromFloat(atr).Mul(decimal.NewFromFloat(cfg.StopATRMultiplier))
	entryDec := decimal.NewFromFloat(entry)
	if !dist.IsPositive() || dist.Div(entryDec).LessThan(decimal.NewFromFloat(minStopFraction)) {
		return Levels{}, ErrLevelsUndefined
	}

	var sign decimal.Decimal
	switch dir {
	case trade.DirectionLong:
		sign = decimal.NewFromInt(1)
	default:
		sign = decimal.NewFromInt(-1)
	}

	stop := entryDec.Sub(sign.Mul(dist))
	tp1 := entryDec.Add(sign.Mul(dist).Mul(decimal.NewFromFloat(cfg.TP1Reward)))
	tp2 := entryDec.Add(sign.Mul(dist).Mul(decimal.NewFromFloat(cfg.TP2Reward)))

	if !stop.IsPositive() {
		return Levels{}, fmt.Errorf("levels: stop %.8f not positive for entry %.8f dist %s", toFloat(stop), entry, dist)
	}

	return Levels{
		StopLoss: toFloat(stop),
		TP1:      toFloat(tp1),
		TP2:      toFloat(tp2),
	}, nil
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
