package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scalpd/internal/config"
	"scalpd/internal/gateway/exchange"
	"scalpd/internal/gateway/sim"
)

func fastRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, InitialDelayMs: 1, MaxDelayMs: 5}
}

// A submission whose response is lost must not duplicate the order: the
// retry reuses the idempotency key and resolves to the recorded order.
func TestRetriedTimeoutDoesNotDuplicateOrder(t *testing.T) {
	inner := sim.New()
	inner.SetPrice("BTCUSDT", 50000)
	inner.EnqueueTimeout(1)

	gw := NewRetrying(inner, fastRetry())
	handle, err := gw.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       1,
		IdempotencyKey: "retry-key",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.OrderID)
	assert.Equal(t, 1, inner.OrderCount("BTCUSDT"))
}

func TestTerminalErrorIsNotRetried(t *testing.T) {
	inner := sim.New()
	inner.SetPrice("BTCUSDT", 50000)
	boom := errors.New("insufficient margin")
	inner.EnqueueError(exchange.Terminal("submit", boom))

	gw := NewRetrying(inner, fastRetry())
	_, err := gw.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       1,
		IdempotencyKey: "terminal-key",
	})
	assert.ErrorIs(t, err, boom)
	// The terminal failure consumed no retries: nothing was recorded.
	assert.Equal(t, 0, inner.OrderCount("BTCUSDT"))
}

func TestRetryableErrorsExhaustBudget(t *testing.T) {
	inner := sim.New()
	inner.SetPrice("BTCUSDT", 50000)
	wire := errors.New("connection reset")
	inner.EnqueueError(exchange.Retryable("submit", wire))
	inner.EnqueueError(exchange.Retryable("submit", wire))
	inner.EnqueueError(exchange.Retryable("submit", wire))

	gw := NewRetrying(inner, fastRetry())
	_, err := gw.SubmitOrder(context.Background(), exchange.OrderSpec{
		Symbol:         "BTCUSDT",
		Side:           exchange.Buy,
		Type:           exchange.Market,
		Quantity:       1,
		IdempotencyKey: "exhaust-key",
	})
	assert.ErrorIs(t, err, wire)
}

func TestRetryingPassesThroughReads(t *testing.T) {
	inner := sim.New()
	inner.SetPrice("ETHUSDT", 3000)

	gw := NewRetrying(inner, fastRetry())
	quote, err := gw.GetPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 3000.0, quote.Price)
	assert.Equal(t, "sim", gw.Name())

	require.NoError(t, gw.SetLeverage(context.Background(), "ETHUSDT", 10))
}
