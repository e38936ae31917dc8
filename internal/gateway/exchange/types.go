// Package exchange defines the order-level abstraction the lifecycle engine
// trades through. Implementations own retries and idempotent resubmission;
// callers see either a placed order or a classified failure.
package exchange

import "time"

type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

type OrderType string

const (
	Market           OrderType = "MARKET"
	StopMarket       OrderType = "STOP_MARKET"
	TakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// OrderSpec describes one order. IdempotencyKey is mandatory for every
// mutating call: a retried submission with the same key must not create a
// second live order.
type OrderSpec struct {
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64
	TriggerPrice   float64 // stop/take-profit trigger, unused for market orders
	ReduceOnly     bool
	IdempotencyKey string
}

// OrderHandle identifies a placed order for later cancel/query calls.
type OrderHandle struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
}

func (h OrderHandle) Zero() bool { return h.OrderID == "" && h.ClientOrderID == "" }

type OrderState string

const (
	OrderNew             OrderState = "NEW"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCanceled        OrderState = "CANCELED"
	OrderRejected        OrderState = "REJECTED"
	OrderExpired         OrderState = "EXPIRED"
)

func (s OrderState) Final() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

type OrderStatus struct {
	Handle       OrderHandle
	State        OrderState
	FilledQty    float64
	AvgFillPrice float64
	UpdatedAt    time.Time
}

// PositionSnapshot is the exchange's view of exposure on one symbol.
type PositionSnapshot struct {
	Symbol        string
	Quantity      float64 // positive long, negative short, zero flat
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
	UpdatedAt     time.Time
}

type Quote struct {
	Symbol    string
	Price     float64
	UpdatedAt time.Time
}
