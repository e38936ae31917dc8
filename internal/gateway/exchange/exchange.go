package exchange

import "context"

type Gateway interface {
	Name() string

	// SubmitOrder places an order. Implementations retry transient failures
	// internally and deduplicate on spec.IdempotencyKey, so a timeout seen by
	// the caller never means a duplicated order.
	SubmitOrder(ctx context.Context, spec OrderSpec) (OrderHandle, error)

	CancelOrder(ctx context.Context, handle OrderHandle) error

	QueryOrder(ctx context.Context, handle OrderHandle) (OrderStatus, error)

	QueryPosition(ctx context.Context, symbol string) (PositionSnapshot, error)

	GetPrice(ctx context.Context, symbol string) (Quote, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
}
