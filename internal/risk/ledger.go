// Package risk keeps the process-wide trading account: equity, reserved
// exposure, daily P&L, loss streak and pause state. All mutation happens
// under one mutex so two concurrent reservations can never both squeeze past
// the exposure cap.
package risk

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"scalpd/internal/logger"
)

var (
	ErrRiskExceeded       = errors.New("risk: reservation would breach limits")
	ErrUnknownReservation = errors.New("risk: unknown reservation")
)

type Config struct {
	StartingEquity       float64
	RiskPerTrade         float64 // fraction of equity
	MaxOpenRisk          float64 // currency cap on summed reserved risk
	MaxDailyLossPct      float64 // fraction of day-open equity
	MaxConsecutiveLosses int
	Cooldown             time.Duration
}

// State is a point-in-time copy handed to the sizer and to reporting.
type State struct {
	Equity        float64
	DayOpenEquity float64
	DailyPnL      float64
	OpenRisk      float64
	LossStreak    int
	CooldownUntil time.Time
	Paused        bool
}

type Ledger struct {
	mu  sync.Mutex
	cfg Config

	equity        float64
	dayOpenEquity float64
	dailyPnL      float64
	openRisk      float64
	lossStreak    int
	cooldownUntil time.Time
	paused        bool

	reservations map[string]float64

	now func() time.Time
}

func NewLedger(cfg Config) *Ledger {
	return &Ledger{
		cfg:           cfg,
		equity:        cfg.StartingEquity,
		dayOpenEquity: cfg.StartingEquity,
		reservations:  make(map[string]float64),
		now:           time.Now,
	}
}

// CanOpen fails closed: paused, cooling down, daily loss cap hit, or the
// added risk would push reserved exposure over the cap.
func (l *Ledger) CanOpen(riskAmount float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.canOpenLocked(riskAmount)
}

func (l *Ledger) canOpenLocked(riskAmount float64) bool {
	if l.paused {
		return false
	}
	if l.now().Before(l.cooldownUntil) {
		return false
	}
	if l.dailyLossCapBreachedLocked() {
		return false
	}
	if riskAmount <= 0 {
		return false
	}
	return l.openRisk+riskAmount <= l.cfg.MaxOpenRisk
}

// Reserve performs the check-and-increment atomically and returns a token
// that must be released exactly once.
func (l *Ledger) Reserve(riskAmount float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.canOpenLocked(riskAmount) {
		return "", fmt.Errorf("%w: open=%.2f add=%.2f cap=%.2f paused=%v",
			ErrRiskExceeded, l.openRisk, riskAmount, l.cfg.MaxOpenRisk, l.paused)
	}
	id := uuid.NewString()
	l.reservations[id] = riskAmount
	l.openRisk += riskAmount
	return id, nil
}

// Release returns a reservation's remaining risk to the pool. Releasing an
// unknown or already-released token is an error so leaks and double releases
// both surface in tests.
func (l *Ledger) Release(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, ok := l.reservations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	delete(l.reservations, id)
	l.openRisk -= amount
	if l.openRisk < 0 {
		l.openRisk = 0
	}
	return nil
}

// Reduce shrinks a reservation after a partial close. fraction is the share
// of the reservation to give back, in (0,1).
func (l *Ledger) Reduce(id string, fraction float64) error {
	if fraction <= 0 || fraction >= 1 {
		return fmt.Errorf("risk: reduce fraction %.4f outside (0,1)", fraction)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	amount, ok := l.reservations[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownReservation, id)
	}
	freed := amount * fraction
	l.reservations[id] = amount - freed
	l.openRisk -= freed
	if l.openRisk < 0 {
		l.openRisk = 0
	}
	return nil
}

// Settle applies the realized P&L of a partial close. Settlement never
// rejects; it only moves money.
func (l *Ledger) Settle(realizedPnL float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.applyPnLLocked(realizedPnL)
}

// SettleFinal applies the last leg of a trade and classifies the whole trade
// by tradeTotal: a net loss extends the streak and may start a cooldown, a
// net win resets it. Earlier partial legs were already settled, so only
// legPnL moves money here.
func (l *Ledger) SettleFinal(legPnL, tradeTotal float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applyPnLLocked(legPnL)

	if tradeTotal < 0 {
		l.lossStreak++
		if l.lossStreak >= l.cfg.MaxConsecutiveLosses {
			l.cooldownUntil = l.now().Add(l.cfg.Cooldown)
			logger.Warnf("Ledger: %d consecutive losses, cooling down until %s",
				l.lossStreak, l.cooldownUntil.Format(time.RFC3339))
		}
	} else {
		l.lossStreak = 0
	}
}

func (l *Ledger) applyPnLLocked(realizedPnL float64) {
	l.equity += realizedPnL
	l.dailyPnL += realizedPnL
	if l.dailyLossCapBreachedLocked() && !l.paused {
		l.paused = true
		logger.Errorf("Ledger: daily loss %.2f breached cap (%.1f%% of %.2f), trading paused",
			-l.dailyPnL, l.cfg.MaxDailyLossPct*100, l.dayOpenEquity)
	}
}

func (l *Ledger) dailyLossCapBreachedLocked() bool {
	if l.dayOpenEquity <= 0 || l.cfg.MaxDailyLossPct <= 0 {
		return false
	}
	return -l.dailyPnL >= l.dayOpenEquity*l.cfg.MaxDailyLossPct
}

// Halted reports whether entry approval has been revoked since planning:
// paused, cooling down, or past the daily loss cap. Reservations already
// held are unaffected.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		return true
	}
	if l.now().Before(l.cooldownUntil) {
		return true
	}
	return l.dailyLossCapBreachedLocked()
}

// Pause stops new entries; open positions keep running to their exits.
func (l *Ledger) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.paused {
		l.paused = true
		logger.Warnf("Ledger: paused")
	}
}

func (l *Ledger) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.paused {
		l.paused = false
		logger.Infof("Ledger: resumed")
	}
}

// ResetDay re-anchors the session: daily P&L and the pause flag clear, the
// current equity becomes the new day-open reference.
func (l *Ledger) ResetDay() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dayOpenEquity = l.equity
	l.dailyPnL = 0
	l.paused = false
	l.lossStreak = 0
	l.cooldownUntil = time.Time{}
	logger.Infof("Ledger: session reset, day-open equity %.2f", l.dayOpenEquity)
}

func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		Equity:        l.equity,
		DayOpenEquity: l.dayOpenEquity,
		DailyPnL:      l.dailyPnL,
		OpenRisk:      l.openRisk,
		LossStreak:    l.lossStreak,
		CooldownUntil: l.cooldownUntil,
		Paused:        l.paused,
	}
}

// OpenReservations reports how many reservations are live. Tests use it to
// prove the exactly-one-release property.
func (l *Ledger) OpenReservations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.reservations)
}
