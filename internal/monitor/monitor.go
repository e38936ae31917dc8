// Package monitor watches live positions and market conditions. It never
// touches orders directly: every stop adjustment or forced exit goes through
// the engine so the single-writer ownership of each position holds.
package monitor

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scalpd/internal/config"
	"scalpd/internal/engine"
	"scalpd/internal/gateway/exchange"
	"scalpd/internal/levels"
	"scalpd/internal/logger"
	"scalpd/internal/pkg/circuit"
	"scalpd/internal/risk"
)

type Monitor struct {
	cfg     config.MonitorConfig
	eng     *engine.Engine
	gw      exchange.Gateway
	ledger  *risk.Ledger
	breaker *circuit.Breaker

	mu      sync.Mutex
	windows map[string][]float64 // recent prices per symbol
	lastDay int
}

func New(cfg config.MonitorConfig, eng *engine.Engine, gw exchange.Gateway, ledger *risk.Ledger) *Monitor {
	m := &Monitor{
		cfg:     cfg,
		eng:     eng,
		gw:      gw,
		ledger:  ledger,
		windows: make(map[string][]float64),
		lastDay: time.Now().YearDay(),
	}
	m.breaker = circuit.NewBreaker("volatility", cfg.VolSpikeTrips, time.Duration(cfg.VolResumeMinutes)*time.Minute)
	m.breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		switch to {
		case circuit.StateOpen:
			logger.Warnf("Breaker %s opened, pausing new entries", name)
			ledger.Pause()
		case circuit.StateClosed:
			logger.Infof("Breaker %s closed, resuming entries", name)
			ledger.Resume()
		}
	})
	return m
}

func (m *Monitor) Breaker() *circuit.Breaker { return m.breaker }

func (m *Monitor) Run(ctx context.Context) error {
	interval := time.Duration(m.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	m.rollDay()

	positions := m.eng.Positions()
	live := make([]engine.Position, 0, len(positions))
	liveSyms := make(map[string]struct{})
	for _, p := range positions {
		if !p.State.Live() {
			continue
		}
		live = append(live, p)
		liveSyms[p.Plan.Symbol] = struct{}{}
	}

	// A tripped breaker must be able to recover with a flat book: positions
	// stopping out is the usual aftermath of the spike that tripped it. Keep
	// observing every symbol with a populated window until the breaker closes,
	// then let stale windows go.
	symbolSet := make(map[string]struct{}, len(liveSyms))
	for sym := range liveSyms {
		symbolSet[sym] = struct{}{}
	}
	m.mu.Lock()
	for sym := range m.windows {
		if m.breaker.State() == circuit.StateClosed {
			if _, ok := liveSyms[sym]; !ok {
				delete(m.windows, sym)
				continue
			}
		}
		symbolSet[sym] = struct{}{}
	}
	m.mu.Unlock()

	// Allow() promotes an expired open breaker to half-open so this tick's
	// calm observation can close it and resume the ledger.
	m.breaker.Allow()

	if len(symbolSet) == 0 {
		return
	}
	prices := m.fetchPrices(ctx, symbolSet)
	for sym, price := range prices {
		m.observeVolatility(sym, price)
	}

	if len(live) == 0 {
		return
	}
	now := time.Now()
	for _, p := range live {
		price, ok := prices[p.Plan.Symbol]
		if !ok {
			continue
		}
		m.inspect(p, price, now)
	}
}

// fetchPrices queries all needed symbols concurrently. A failed quote just
// skips that symbol for this tick.
func (m *Monitor) fetchPrices(ctx context.Context, symbols map[string]struct{}) map[string]float64 {
	var mu sync.Mutex
	prices := make(map[string]float64, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	for sym := range symbols {
		sym := sym
		g.Go(func() error {
			quote, err := m.gw.GetPrice(gctx, sym)
			if err != nil {
				logger.Warnf("Monitor: price for %s: %v", sym, err)
				return nil
			}
			mu.Lock()
			prices[sym] = quote.Price
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return prices
}

func (m *Monitor) inspect(p engine.Position, price float64, now time.Time) {
	if m.cfg.MaxHoldMinutes > 0 && p.Age(now) > time.Duration(m.cfg.MaxHoldMinutes)*time.Minute {
		logger.Infof("Monitor: %s held past %dm, closing", p.ID, m.cfg.MaxHoldMinutes)
		if err := m.eng.RequestClose(p.ID, "max hold time exceeded"); err != nil {
			logger.Warnf("Monitor: close request for %s: %v", p.ID, err)
		}
		return
	}

	switch p.State {
	case engine.StatePartiallyClosed:
		// Trailing mode after the first target: ratchet the stop behind the
		// current price.
		trailed := levels.TrailStopFor(p.Plan.Direction, price, m.cfg.TrailingDistancePct)
		if levels.BetterStop(p.Plan.Direction, trailed, p.CurrentStop) {
			if err := m.eng.RequestAdjust(p.ID, trailed, "trailing stop"); err != nil {
				logger.Warnf("Monitor: adjust request for %s: %v", p.ID, err)
			}
		}
	case engine.StateOpen:
		if m.cfg.BreakevenTriggerPct <= 0 {
			return
		}
		if levels.ProfitFraction(p.Plan.Direction, p.EntryPrice, price) >= m.cfg.BreakevenTriggerPct &&
			levels.BetterStop(p.Plan.Direction, p.EntryPrice, p.CurrentStop) {
			if err := m.eng.RequestAdjust(p.ID, p.EntryPrice, "breakeven"); err != nil {
				logger.Warnf("Monitor: adjust request for %s: %v", p.ID, err)
			}
		}
	}
}

// observeVolatility keeps a rolling price window per symbol and feeds the
// circuit breaker with spike or calm observations.
func (m *Monitor) observeVolatility(symbol string, price float64) {
	if m.cfg.VolLookback <= 1 || m.cfg.VolPauseThreshold <= 0 {
		return
	}
	m.mu.Lock()
	window := append(m.windows[symbol], price)
	if len(window) > m.cfg.VolLookback {
		window = window[len(window)-m.cfg.VolLookback:]
	}
	m.windows[symbol] = window
	m.mu.Unlock()

	if len(window) < m.cfg.VolLookback {
		return
	}
	if realizedVol(window) > m.cfg.VolPauseThreshold {
		m.breaker.RecordSpike()
	} else {
		m.breaker.RecordCalm()
	}
}

// rollDay resets the ledger's daily counters at the first tick of a new day.
func (m *Monitor) rollDay() {
	day := time.Now().YearDay()
	if day == m.lastDay {
		return
	}
	m.lastDay = day
	logger.Infof("Monitor: new trading day, resetting daily risk counters")
	m.ledger.ResetDay()
}

// realizedVol is the standard deviation of simple per-tick returns.
func realizedVol(prices []float64) float64 {
	if len(prices) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		returns = append(returns, prices[i]/prices[i-1]-1)
	}
	if len(returns) == 0 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}
