package tradovate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/quantive/signalbridge/internal/domain"
)

// tvPosition is one entry from GET /position/list.
type tvPosition struct {
	ID        int64   `json:"id"`
	AccountID int64   `json:"accountId"`
	Symbol    string  `json:"symbol"`
	NetPos    int64   `json:"netPos"`
	NetPrice  float64 `json:"netPrice"`
}

// tvOrderRequest is the body of POST /order/placeorder.
type tvOrderRequest struct {
	AccountSpec string  `json:"accountSpec"`
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"` // "Buy" or "Sell"
	OrderQty    int64   `json:"orderQty"`
	OrderType   string  `json:"orderType"` // "Market" or "Limit"
	Price       float64 `json:"price,omitempty"`
	IsAutomated bool    `json:"isAutomated"`
}

// tvOrderResponse is the acknowledgement from POST /order/placeorder.
type tvOrderResponse struct {
	OrderID    int64  `json:"orderId"`
	OrderState string `json:"ordStatus"` // Working, Filled, Rejected, Canceled
	FillID     int64  `json:"fillId"`
	PositionID int64  `json:"positionId"`
	Timestamp  string `json:"timestamp"`
	FailReason string `json:"failureText"`
}

// Broker implements the venue contract on top of the Tradovate REST client.
type Broker struct {
	client *Client
}

// NewBroker wraps a configured Client.
func NewBroker(client *Client) *Broker {
	return &Broker{client: client}
}

// GetPositions returns the account's non-flat futures positions.
func (b *Broker) GetPositions(ctx context.Context, account domain.Account) ([]domain.BrokerPosition, error) {
	body, err := b.client.doSignedRequest(ctx, http.MethodGet, "/position/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tradovate: get positions: %w", err)
	}

	var positions []tvPosition
	if err := json.Unmarshal(body, &positions); err != nil {
		return nil, fmt.Errorf("tradovate: decode positions: %w", err)
	}

	var out []domain.BrokerPosition
	for _, p := range positions {
		if p.NetPos == 0 {
			continue
		}
		out = append(out, domain.BrokerPosition{
			Symbol:     p.Symbol,
			Quantity:   p.NetPos,
			AvgPrice:   p.NetPrice,
			PositionID: strconv.FormatInt(p.ID, 10),
		})
	}
	return out, nil
}

// PlaceOrder submits an order. A zero limit price requests a market order.
func (b *Broker) PlaceOrder(ctx context.Context, account domain.Account, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return domain.OrderResult{}, domain.ErrInvalidQuantity
	}

	order := tvOrderRequest{
		AccountSpec: account.ID,
		Symbol:      req.Symbol,
		Action:      mapAction(req.Side),
		OrderQty:    req.Quantity,
		OrderType:   "Market",
		IsAutomated: true,
	}
	if req.LimitPrice > 0 {
		order.OrderType = "Limit"
		order.Price = req.LimitPrice
	}

	body, err := b.client.doSignedRequest(ctx, http.MethodPost, "/order/placeorder", order)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("tradovate: place order: %w", err)
	}

	var resp tvOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("tradovate: decode order response: %w", err)
	}
	if resp.FailReason != "" {
		return domain.OrderResult{}, fmt.Errorf("tradovate: order rejected: %s", resp.FailReason)
	}

	result := domain.OrderResult{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		Status:     mapStatus(resp.OrderState),
		Price:      0,
		PositionID: strconv.FormatInt(resp.PositionID, 10),
	}
	if resp.FillID != 0 {
		result.FillID = strconv.FormatInt(resp.FillID, 10)
		if t, err := time.Parse(time.RFC3339, resp.Timestamp); err == nil {
			result.ExecutedAt = &t
		}
	}
	return result, nil
}

// CancelOrder cancels a working order. It reports false when the order no
// longer exists or is already terminal.
func (b *Broker) CancelOrder(ctx context.Context, _ domain.Account, orderID string) (bool, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, fmt.Errorf("tradovate: bad order id %q: %w", orderID, err)
	}

	req := struct {
		OrderID     int64 `json:"orderId"`
		IsAutomated bool  `json:"isAutomated"`
	}{OrderID: id, IsAutomated: true}

	_, err = b.client.doSignedRequest(ctx, http.MethodPost, "/order/cancelorder", req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("tradovate: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

func mapAction(side domain.OrderSide) string {
	if side == domain.OrderSideSell {
		return "Sell"
	}
	return "Buy"
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "Filled":
		return domain.OrderStatusFilled
	case "Rejected":
		return domain.OrderStatusRejected
	case "Canceled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusPending
	}
}

// Compile-time interface check.
var _ domain.Broker = (*Broker)(nil)
