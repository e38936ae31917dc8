package levels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpd/internal/trade"
)

var cfg = Config{StopATRMultiplier: 1.5, TP1Reward: 1.0, TP2Reward: 2.0}

func TestComputeLong(t *testing.T) {
	lv, err := Compute(cfg, 100, trade.DirectionLong, 2)
	require.NoError(t, err)

	// Protective distance is 3: stop below, targets above.
	assert.InDelta(t, 97.0, lv.StopLoss, 1e-9)
	assert.InDelta(t, 103.0, lv.TP1, 1e-9)
	assert.InDelta(t, 106.0, lv.TP2, 1e-9)
}

func TestComputeShort(t *testing.T) {
	lv, err := Compute(cfg, 100, trade.DirectionShort, 2)
	require.NoError(t, err)

	assert.InDelta(t, 103.0, lv.StopLoss, 1e-9)
	assert.InDelta(t, 97.0, lv.TP1, 1e-9)
	assert.InDelta(t, 94.0, lv.TP2, 1e-9)
}

func TestComputeRejectsDegenerateVolatility(t *testing.T) {
	_, err := Compute(cfg, 100, trade.DirectionLong, 0)
	assert.ErrorIs(t, err, ErrLevelsUndefined)

	_, err = Compute(cfg, 100, trade.DirectionLong, -1)
	assert.ErrorIs(t, err, ErrLevelsUndefined)

	// Distance below the minimum fraction of entry.
	_, err = Compute(cfg, 100, trade.DirectionLong, 1e-7)
	assert.ErrorIs(t, err, ErrLevelsUndefined)
}

func TestComputeRejectsBadInputs(t *testing.T) {
	_, err := Compute(cfg, 0, trade.DirectionLong, 2)
	assert.Error(t, err)

	_, err = Compute(cfg, 100, "flat", 2)
	assert.Error(t, err)

	// Stop would cross zero.
	_, err = Compute(cfg, 1, trade.DirectionLong, 10)
	assert.Error(t, err)
}

func TestCrossedStop(t *testing.T) {
	assert.True(t, CrossedStop(trade.DirectionLong, 96.9, 97))
	assert.True(t, CrossedStop(trade.DirectionLong, 97, 97))
	assert.False(t, CrossedStop(trade.DirectionLong, 97.1, 97))

	assert.True(t, CrossedStop(trade.DirectionShort, 103.1, 103))
	assert.False(t, CrossedStop(trade.DirectionShort, 102.9, 103))
}

func TestCrossedTarget(t *testing.T) {
	assert.True(t, CrossedTarget(trade.DirectionLong, 103, 103))
	assert.False(t, CrossedTarget(trade.DirectionLong, 102.9, 103))

	assert.True(t, CrossedTarget(trade.DirectionShort, 96.9, 97))
	assert.False(t, CrossedTarget(trade.DirectionShort, 97.1, 97))
}

func TestTrailStopFor(t *testing.T) {
	assert.InDelta(t, 99.6, TrailStopFor(trade.DirectionLong, 100, 0.004), 1e-9)
	assert.InDelta(t, 100.4, TrailStopFor(trade.DirectionShort, 100, 0.004), 1e-9)
	assert.Equal(t, 0.0, TrailStopFor(trade.DirectionLong, 0, 0.004))
	assert.Equal(t, 0.0, TrailStopFor(trade.DirectionLong, 100, 0))
}

// Stops ratchet toward profit only. Repeated trailing with a falling anchor
// must never loosen the stop.
func TestBetterStopRatchetsOnly(t *testing.T) {
	assert.True(t, BetterStop(trade.DirectionLong, 98, 97))
	assert.False(t, BetterStop(trade.DirectionLong, 96, 97))
	assert.False(t, BetterStop(trade.DirectionLong, 97, 97))

	assert.True(t, BetterStop(trade.DirectionShort, 102, 103))
	assert.False(t, BetterStop(trade.DirectionShort, 104, 103))

	// No current stop yet: any positive candidate is an improvement.
	assert.True(t, BetterStop(trade.DirectionLong, 97, 0))
	assert.False(t, BetterStop(trade.DirectionLong, 0, 97))
}

func TestProfitFraction(t *testing.T) {
	assert.InDelta(t, 0.01, ProfitFraction(trade.DirectionLong, 100, 101), 1e-9)
	assert.InDelta(t, -0.01, ProfitFraction(trade.DirectionLong, 100, 99), 1e-9)
	assert.InDelta(t, 0.01, ProfitFraction(trade.DirectionShort, 100, 99), 1e-9)
	assert.InDelta(t, -0.01, ProfitFraction(trade.DirectionShort, 100, 101), 1e-9)
}
