package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether an order buys or sells.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Side converts a signal action to its order side.
func (a SignalAction) Side() OrderSide {
	if a == ActionSell {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the broker-reported order state.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderRequest is the venue-independent order this core submits.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity int64
	// LimitPrice, when non-zero, requests a limit order. Zero means market.
	LimitPrice float64
}

// OrderResult wraps a broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID string
	Status  OrderStatus
	Price   float64

	// PositionID is the broker-assigned id of the position this fill belongs
	// to. It is the dedup key for trade creation.
	PositionID string

	// FillID and ExecutedAt are present only when the broker reported an
	// actual execution. A trade is verified-live only when both are set.
	FillID     string
	ExecutedAt *time.Time
}

// BrokerPosition is one symbol's live position as reported by a broker.
// Quantity is signed: positive long, negative short, zero flat.
type BrokerPosition struct {
	Symbol     string
	Quantity   int64
	AvgPrice   float64
	PositionID string
}

// Account identifies one broker account an activation can execute on.
type Account struct {
	ID       string
	BrokerID string
	Active   bool
}

// Broker is the capability contract every venue adapter implements. Different
// backends, including non-traditional venues such as prediction markets,
// satisfy the same three operations.
type Broker interface {
	// GetPositions returns the account's live positions. Symbols with a zero
	// quantity may be omitted.
	GetPositions(ctx context.Context, account Account) ([]BrokerPosition, error)

	// PlaceOrder submits an order and returns the broker acknowledgement.
	PlaceOrder(ctx context.Context, account Account, req OrderRequest) (OrderResult, error)

	// CancelOrder cancels a resting order. It returns false when the order
	// was not found or already terminal.
	CancelOrder(ctx context.Context, account Account, orderID string) (bool, error)
}
