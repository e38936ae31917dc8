package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		StartingEquity:       10000,
		RiskPerTrade:         0.01,
		MaxOpenRisk:          300,
		MaxDailyLossPct:      0.03,
		MaxConsecutiveLosses: 3,
		Cooldown:             time.Hour,
	}
}

func TestReserveAndRelease(t *testing.T) {
	l := NewLedger(testConfig())

	id, err := l.Reserve(100)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 100.0, l.Snapshot().OpenRisk)
	assert.Equal(t, 1, l.OpenReservations())

	require.NoError(t, l.Release(id))
	assert.Equal(t, 0.0, l.Snapshot().OpenRisk)
	assert.Equal(t, 0, l.OpenReservations())
}

func TestReleaseTwiceFails(t *testing.T) {
	l := NewLedger(testConfig())
	id, err := l.Reserve(50)
	require.NoError(t, err)

	require.NoError(t, l.Release(id))
	err = l.Release(id)
	assert.ErrorIs(t, err, ErrUnknownReservation)
	assert.Equal(t, 0.0, l.Snapshot().OpenRisk)
}

func TestReserveRespectsCap(t *testing.T) {
	l := NewLedger(testConfig())

	_, err := l.Reserve(200)
	require.NoError(t, err)
	_, err = l.Reserve(100)
	require.NoError(t, err)

	// Cap is 300, fully reserved now.
	_, err = l.Reserve(1)
	assert.ErrorIs(t, err, ErrRiskExceeded)
}

func TestReserveRejectsNonPositive(t *testing.T) {
	l := NewLedger(testConfig())
	_, err := l.Reserve(0)
	assert.ErrorIs(t, err, ErrRiskExceeded)
	_, err = l.Reserve(-5)
	assert.ErrorIs(t, err, ErrRiskExceeded)
}

// The exposure cap must hold under concurrent reservations: whatever
// interleaving happens, summed reserved risk never exceeds the cap.
func TestConcurrentReservationsNeverBreachCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxOpenRisk = 250
	l := NewLedger(cfg)

	const workers = 50
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if id, err := l.Reserve(100); err == nil {
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	granted := 0
	for range ids {
		granted++
	}
	assert.Equal(t, 2, granted, "only two 100-unit reservations fit under a 250 cap")
	assert.LessOrEqual(t, l.Snapshot().OpenRisk, 250.0)
}

func TestReduceAfterPartialClose(t *testing.T) {
	l := NewLedger(testConfig())
	id, err := l.Reserve(100)
	require.NoError(t, err)

	require.NoError(t, l.Reduce(id, 0.5))
	assert.Equal(t, 50.0, l.Snapshot().OpenRisk)

	// Remainder releases in full.
	require.NoError(t, l.Release(id))
	assert.Equal(t, 0.0, l.Snapshot().OpenRisk)
}

func TestReduceValidatesFraction(t *testing.T) {
	l := NewLedger(testConfig())
	id, err := l.Reserve(100)
	require.NoError(t, err)

	assert.Error(t, l.Reduce(id, 0))
	assert.Error(t, l.Reduce(id, 1))
	assert.Error(t, l.Reduce(id, 1.5))
	assert.Error(t, l.Reduce("missing", 0.5))
}

func TestDailyLossCapPausesTrading(t *testing.T) {
	l := NewLedger(testConfig())

	// 3% of 10000 is 300. Lose 150 twice.
	l.SettleFinal(-150, -150)
	assert.False(t, l.Halted())

	l.SettleFinal(-150, -150)
	assert.True(t, l.Halted())
	assert.True(t, l.Snapshot().Paused)

	_, err := l.Reserve(10)
	assert.ErrorIs(t, err, ErrRiskExceeded)
}

func TestConsecutiveLossesStartCooldown(t *testing.T) {
	base := time.Now()
	l := NewLedger(testConfig())
	l.now = func() time.Time { return base }

	l.SettleFinal(-10, -10)
	l.SettleFinal(-10, -10)
	assert.False(t, l.Halted())
	assert.Equal(t, 2, l.Snapshot().LossStreak)

	l.SettleFinal(-10, -10)
	assert.True(t, l.Halted())

	_, err := l.Reserve(10)
	assert.ErrorIs(t, err, ErrRiskExceeded)

	// Cooldown expires.
	l.now = func() time.Time { return base.Add(2 * time.Hour) }
	assert.False(t, l.Halted())
	_, err = l.Reserve(10)
	assert.NoError(t, err)
}

func TestWinResetsLossStreak(t *testing.T) {
	l := NewLedger(testConfig())
	l.SettleFinal(-10, -10)
	l.SettleFinal(-10, -10)
	l.SettleFinal(30, 30)
	assert.Equal(t, 0, l.Snapshot().LossStreak)
}

// A trade that banked a partial profit but lost overall counts as one loss,
// not a win and a loss.
func TestSettleFinalClassifiesByTradeTotal(t *testing.T) {
	l := NewLedger(testConfig())

	l.Settle(20) // tp1 leg
	l.SettleFinal(-50, -30)

	st := l.Snapshot()
	assert.Equal(t, 1, st.LossStreak)
	assert.InDelta(t, 10000-30, st.Equity, 1e-9)
	assert.InDelta(t, -30, st.DailyPnL, 1e-9)
}

func TestPauseAndResume(t *testing.T) {
	l := NewLedger(testConfig())
	l.Pause()
	assert.True(t, l.Halted())
	_, err := l.Reserve(10)
	assert.ErrorIs(t, err, ErrRiskExceeded)

	l.Resume()
	assert.False(t, l.Halted())
	_, err = l.Reserve(10)
	assert.NoError(t, err)
}

func TestResetDayClearsSession(t *testing.T) {
	l := NewLedger(testConfig())
	l.SettleFinal(-301, -301) // past the daily cap, auto-pauses
	require.True(t, l.Halted())

	l.ResetDay()
	st := l.Snapshot()
	assert.False(t, st.Paused)
	assert.Equal(t, 0.0, st.DailyPnL)
	assert.Equal(t, 0, st.LossStreak)
	assert.InDelta(t, 10000-301, st.DayOpenEquity, 1e-9)
	assert.False(t, l.Halted())
}

func TestDailyCapDisabledWhenZero(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDailyLossPct = 0
	l := NewLedger(cfg)

	l.SettleFinal(-5000, -5000)
	assert.False(t, l.Snapshot().Paused)
	_, err := l.Reserve(10)
	assert.NoError(t, err)
}
