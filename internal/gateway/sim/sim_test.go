package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpd/internal/gateway/exchange"
)

func TestMarketOrderFillsAtMark(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)

	handle, err := g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       0.5,
		IdempotencyKey: "k1",
	})
	require.NoError(t, err)

	status, err := g.QueryOrder(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, exchange.OrderFilled, status.State)
	assert.Equal(t, 0.5, status.FilledQty)
	assert.Equal(t, 50000.0, status.AvgFillPrice)
}

func TestSubmitWithoutPriceFails(t *testing.T) {
	g := New()
	_, err := g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT",
		Side:   exchange.Buy,
		Type:   exchange.Market,
	})
	assert.Error(t, err)
	assert.False(t, exchange.IsRetryable(err))
}

func TestRestingStopTriggersOnPriceMove(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)

	handle, err := g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Sell,
		Type:           exchange.StopMarket,
		Quantity:       1,
		TriggerPrice:   49700,
		ReduceOnly:     true,
		IdempotencyKey: "k-stop",
	})
	require.NoError(t, err)

	status, _ := g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderNew, status.State)

	g.SetPrice("BTCUSDT", 49650)
	status, _ = g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderFilled, status.State)
	assert.Equal(t, 49700.0, status.AvgFillPrice)
}

func TestRestingTakeProfitTriggersAbove(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)

	handle, err := g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Sell,
		Type:           exchange.TakeProfitMarket,
		Quantity:       1,
		TriggerPrice:   50300,
		ReduceOnly:     true,
		IdempotencyKey: "k-tp",
	})
	require.NoError(t, err)

	g.SetPrice("BTCUSDT", 50200)
	status, _ := g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderNew, status.State)

	g.SetPrice("BTCUSDT", 50350)
	status, _ = g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderFilled, status.State)
}

func TestDuplicateKeyResolvesToSameOrder(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)

	spec := exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       1,
		IdempotencyKey: "same-key",
	}
	first, err := g.SubmitOrder(context.Background(), spec)
	require.NoError(t, err)
	second, err := g.SubmitOrder(context.Background(), spec)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, g.OrderCount("BTCUSDT"))
}

// A lost response records the order anyway; the resubmission with the same
// key must resolve to it instead of opening a second position.
func TestTimeoutAcceptsOrder(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)
	g.EnqueueTimeout(1)

	spec := exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       1,
		IdempotencyKey: "lost-response",
	}
	_, err := g.SubmitOrder(context.Background(), spec)
	require.Error(t, err)
	assert.True(t, exchange.IsRetryable(err))

	handle, err := g.SubmitOrder(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, 1, g.OrderCount("BTCUSDT"))

	status, _ := g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderFilled, status.State)
}

func TestEnqueueErrorFailsOnce(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)
	boom := errors.New("boom")
	g.EnqueueError(exchange.Terminal("submit", boom))

	spec := exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       1,
		IdempotencyKey: "after-error",
	}
	_, err := g.SubmitOrder(context.Background(), spec)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, g.OrderCount("BTCUSDT"))

	_, err = g.SubmitOrder(context.Background(), spec)
	assert.NoError(t, err)
}

func TestCancelRestingOrder(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)

	handle, err := g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Sell,
		Type:           exchange.StopMarket,
		Quantity:       1,
		TriggerPrice:   49000,
		IdempotencyKey: "k-cancel",
	})
	require.NoError(t, err)

	require.NoError(t, g.CancelOrder(context.Background(), handle))
	status, _ := g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderCanceled, status.State)

	// Price crossing a cancelled trigger does nothing.
	g.SetPrice("BTCUSDT", 48000)
	status, _ = g.QueryOrder(context.Background(), handle)
	assert.Equal(t, exchange.OrderCanceled, status.State)
}

func TestQueryPositionNetsFills(t *testing.T) {
	g := New()
	g.SetPrice("BTCUSDT", 50000)

	_, err := g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Side: exchange.Buy, Type: exchange.Market, Quantity: 2, IdempotencyKey: "p1",
	})
	require.NoError(t, err)
	_, err = g.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol: "BTCUSDT", Side: exchange.Sell, Type: exchange.Market, Quantity: 0.5, IdempotencyKey: "p2",
	})
	require.NoError(t, err)

	snap, err := g.QueryPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.5, snap.Quantity, 1e-9)
}
