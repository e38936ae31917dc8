// Package gateway provides decorators over exchange.Gateway implementations.
package gateway

import (
	"context"
	"time"

	"scalpd/internal/config"
	"scalpd/internal/gateway/exchange"
	"scalpd/internal/logger"
	"scalpd/internal/pkg/retry"
)

// Retrying wraps a Gateway and retries calls that fail with a retryable
// exchange error. Order submissions are safe to retry because every
// OrderSpec carries an idempotency key: a retried timeout that actually
// landed the first time resolves to the original order.
type Retrying struct {
	inner exchange.Gateway
	cfg   retry.Config
}

func NewRetrying(inner exchange.Gateway, rc config.RetryConfig) *Retrying {
	cfg := retry.Config{
		MaxAttempts:  rc.MaxAttempts,
		InitialDelay: time.Duration(rc.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(rc.MaxDelayMs) * time.Millisecond,
		RetryIf:      exchange.IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			logger.Warnf("Exchange call retry %d in %s: %v", attempt, delay, err)
		},
	}
	return &Retrying{inner: inner, cfg: cfg}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) SubmitOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderHandle, error) {
	return retry.DoWithResult(ctx, r.cfg, func() (exchange.OrderHandle, error) {
		return r.inner.SubmitOrder(ctx, spec)
	})
}

func (r *Retrying) CancelOrder(ctx context.Context, handle exchange.OrderHandle) error {
	return retry.Do(ctx, r.cfg, func() error {
		return r.inner.CancelOrder(ctx, handle)
	})
}

func (r *Retrying) QueryOrder(ctx context.Context, handle exchange.OrderHandle) (exchange.OrderStatus, error) {
	return retry.DoWithResult(ctx, r.cfg, func() (exchange.OrderStatus, error) {
		return r.inner.QueryOrder(ctx, handle)
	})
}

func (r *Retrying) QueryPosition(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	return retry.DoWithResult(ctx, r.cfg, func() (exchange.PositionSnapshot, error) {
		return r.inner.QueryPosition(ctx, symbol)
	})
}

func (r *Retrying) GetPrice(ctx context.Context, symbol string) (exchange.Quote, error) {
	return retry.DoWithResult(ctx, r.cfg, func() (exchange.Quote, error) {
		return r.inner.GetPrice(ctx, symbol)
	})
}

func (r *Retrying) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return retry.Do(ctx, r.cfg, func() error {
		return r.inner.SetLeverage(ctx, symbol, leverage)
	})
}
