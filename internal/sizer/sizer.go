// Package sizer turns an approved signal into a risk-bounded trade plan:
// confidence scales the risk budget, volatility picks the leverage, and the
// stop distance fixes the size.
package sizer

import (
	"errors"
	"fmt"

	"scalpd/internal/config"
	"scalpd/internal/levels"
	"scalpd/internal/risk"
	"scalpd/internal/trade"
)

var ErrSignalRejected = errors.New("sizer: signal rejected")

type Sizer struct {
	cfg    config.SizerConfig
	lev    config.LeverageConfig
	levels levels.Config
	risk   config.RiskConfig
	ledger *risk.Ledger
}

func New(cfg config.SizerConfig, lev config.LeverageConfig, lv levels.Config, rc config.RiskConfig, ledger *risk.Ledger) *Sizer {
	return &Sizer{cfg: cfg, lev: lev, levels: lv, risk: rc, ledger: ledger}
}

// Plan prices a signal against the current ledger snapshot. Rejections wrap
// ErrSignalRejected with the reason; the caller discards the candidate and
// emits a diagnostic event.
func (s *Sizer) Plan(sig trade.Signal) (trade.Plan, error) {
	if sig.Symbol == "" || !sig.Direction.Valid() {
		return trade.Plan{}, fmt.Errorf("%w: malformed signal", ErrSignalRejected)
	}
	if sig.ReferencePrice <= 0 {
		return trade.Plan{}, fmt.Errorf("%w: missing reference price", ErrSignalRejected)
	}
	if sig.Confidence < s.cfg.ConfidenceFloor {
		return trade.Plan{}, fmt.Errorf("%w: confidence %.2f below floor %.2f",
			ErrSignalRejected, sig.Confidence, s.cfg.ConfidenceFloor)
	}

	scale := s.confidenceScale(sig.Confidence)
	if scale <= 0 {
		return trade.Plan{}, fmt.Errorf("%w: confidence %.2f maps to no bucket", ErrSignalRejected, sig.Confidence)
	}

	lv, err := levels.Compute(s.levels, sig.ReferencePrice, sig.Direction, sig.ATR)
	if err != nil {
		// Degenerate volatility: never open without a protective distance.
		return trade.Plan{}, fmt.Errorf("%w: %v", ErrSignalRejected, err)
	}

	snap := s.ledger.Snapshot()
	riskAmount := snap.Equity * s.risk.RiskPerTrade * scale
	stopDistance := sig.ReferencePrice - lv.StopLoss
	if stopDistance < 0 {
		stopDistance = -stopDistance
	}

	size := riskAmount / stopDistance
	notional := size * sig.ReferencePrice
	if notional < s.cfg.MinNotionalUSD {
		return trade.Plan{}, fmt.Errorf("%w: notional %.2f below exchange minimum %.2f",
			ErrSignalRejected, notional, s.cfg.MinNotionalUSD)
	}

	if !s.ledger.CanOpen(riskAmount) {
		return trade.Plan{}, fmt.Errorf("%w: ledger refused %.2f of new risk", ErrSignalRejected, riskAmount)
	}

	return trade.Plan{
		Symbol:    sig.Symbol,
		Direction: sig.Direction,
		Entry:     sig.ReferencePrice,
		Size:      size,
		Leverage:  s.leverageFor(sig.ATR, sig.ReferencePrice),
		StopLoss:  lv.StopLoss,
		TP1:       lv.TP1,
		TP2:       lv.TP2,
		MaxRisk:   riskAmount,
	}, nil
}

// confidenceScale walks the buckets from the highest floor down and returns
// the first match.
func (s *Sizer) confidenceScale(confidence float64) float64 {
	for _, b := range s.cfg.Buckets {
		if confidence >= b.Floor {
			return b.Scale
		}
	}
	return 0
}

// leverageFor picks the tier for the signal's ATR as a percentage of price,
// then clamps to the configured band. Higher volatility lands in later tiers
// with lower leverage.
func (s *Sizer) leverageFor(atr, price float64) int {
	lev := s.lev.Min
	if price > 0 && atr > 0 {
		atrPct := atr / price * 100
		for _, tier := range s.lev.Tiers {
			lev = tier.Leverage
			if tier.MaxATRPct <= 0 || atrPct <= tier.MaxATRPct {
				break
			}
		}
	}
	if lev < s.lev.Min {
		lev = s.lev.Min
	}
	if lev > s.lev.Max {
		lev = s.lev.Max
	}
	return lev
}
