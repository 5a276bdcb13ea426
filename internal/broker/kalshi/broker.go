package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/quantive/signalbridge/internal/domain"
)

// Broker implements the venue contract on top of the Kalshi REST client.
// Kalshi has no first-class position ids, so one is synthesized from the
// account and ticker; it is stable for the life of the position because a
// flat position disappears from the portfolio.
type Broker struct {
	client *Client
}

// NewBroker wraps a configured Client.
func NewBroker(client *Client) *Broker {
	return &Broker{client: client}
}

// GetPositions returns the account's non-flat market positions.
func (b *Broker) GetPositions(ctx context.Context, account domain.Account) ([]domain.BrokerPosition, error) {
	body, err := b.client.doSignedRequest(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, fmt.Errorf("kalshi: get positions: %w", err)
	}

	var resp struct {
		MarketPositions []marketPosition `json:"market_positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("kalshi: decode positions: %w", err)
	}

	var out []domain.BrokerPosition
	for _, p := range resp.MarketPositions {
		if p.Position == 0 {
			continue
		}
		avg := 0.0
		if p.Position != 0 {
			avg = centsToDollars(p.TotalTradedCent) / float64(abs(p.Position))
		}
		out = append(out, domain.BrokerPosition{
			Symbol:     p.Ticker,
			Quantity:   p.Position,
			AvgPrice:   avg,
			PositionID: positionID(account.ID, p.Ticker),
		})
	}
	return out, nil
}

// PlaceOrder submits an order for the YES side of the market named by the
// request symbol. A zero limit price requests a market order.
func (b *Broker) PlaceOrder(ctx context.Context, account domain.Account, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return domain.OrderResult{}, domain.ErrInvalidQuantity
	}

	order := orderRequest{
		Ticker:        req.Symbol,
		Action:        string(req.Side),
		Side:          "yes",
		Count:         req.Quantity,
		Type:          "market",
		ClientOrderID: uuid.New().String(),
	}
	if req.LimitPrice > 0 {
		order.Type = "limit"
		order.YesPriceCents = dollarsToCents(req.LimitPrice)
	}

	body, err := b.client.doSignedRequest(ctx, http.MethodPost, "/portfolio/orders", order)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: place order: %w", err)
	}

	var resp struct {
		Order orderRecord `json:"order"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("kalshi: decode order response: %w", err)
	}
	if resp.Order.Status == "canceled" {
		return domain.OrderResult{}, fmt.Errorf("kalshi: order was immediately cancelled")
	}

	result := domain.OrderResult{
		OrderID:    resp.Order.OrderID,
		Status:     mapStatus(resp.Order.Status),
		Price:      centsToDollars(resp.Order.YesPriceCents),
		PositionID: positionID(account.ID, req.Symbol),
	}
	if result.Status == domain.OrderStatusFilled {
		result.FillID = resp.Order.OrderID
		if t, err := time.Parse(time.RFC3339, resp.Order.LastUpdate); err == nil {
			result.ExecutedAt = &t
		}
	}
	return result, nil
}

// CancelOrder cancels a resting order. It reports false when the order no
// longer exists or is already terminal.
func (b *Broker) CancelOrder(ctx context.Context, _ domain.Account, orderID string) (bool, error) {
	path := fmt.Sprintf("/portfolio/orders/%s", url.PathEscape(orderID))

	_, err := b.client.doSignedRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("kalshi: cancel order %s: %w", orderID, err)
	}
	return true, nil
}

func mapStatus(s string) domain.OrderStatus {
	switch s {
	case "executed":
		return domain.OrderStatusFilled
	case "canceled":
		return domain.OrderStatusCancelled
	case "resting", "pending":
		return domain.OrderStatusPending
	default:
		return domain.OrderStatusPending
	}
}

func positionID(accountID, ticker string) string {
	return "kalshi:" + accountID + ":" + ticker
}

func centsToDollars(c int64) float64 {
	return float64(c) / 100.0
}

func dollarsToCents(d float64) int64 {
	return int64(d*100.0 + 0.5)
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Compile-time interface check.
var _ domain.Broker = (*Broker)(nil)
