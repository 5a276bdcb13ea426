// Package paper is an in-memory simulated venue. Orders fill immediately at
// the request's limit price (or the configured mark price for market orders),
// and positions live only as long as the process.
package paper

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantive/signalbridge/internal/domain"
)

// Broker is the simulated venue. Safe for concurrent use.
type Broker struct {
	mu sync.Mutex
	// positions is keyed by account id, then symbol.
	positions map[string]map[string]*position

	// MarkPrice prices market orders when the request has no limit price.
	MarkPrice float64
}

type position struct {
	id       string
	quantity int64
	avgPrice float64
}

// New creates a paper Broker.
func New() *Broker {
	return &Broker{
		positions: make(map[string]map[string]*position),
		MarkPrice: 100.0,
	}
}

// GetPositions returns the account's open simulated positions.
func (b *Broker) GetPositions(_ context.Context, account domain.Account) ([]domain.BrokerPosition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.BrokerPosition
	for symbol, p := range b.positions[account.ID] {
		if p.quantity == 0 {
			continue
		}
		out = append(out, domain.BrokerPosition{
			Symbol:     symbol,
			Quantity:   p.quantity,
			AvgPrice:   p.avgPrice,
			PositionID: p.id,
		})
	}
	return out, nil
}

// PlaceOrder fills the order immediately against the in-memory book. A fill
// that opens a position mints a new position id; the id stays stable until
// the position returns to flat.
func (b *Broker) PlaceOrder(_ context.Context, account domain.Account, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.Quantity <= 0 {
		return domain.OrderResult{}, domain.ErrInvalidQuantity
	}

	price := req.LimitPrice
	if price == 0 {
		price = b.MarkPrice
	}

	delta := req.Quantity
	if req.Side == domain.OrderSideSell {
		delta = -req.Quantity
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.positions[account.ID] == nil {
		b.positions[account.ID] = make(map[string]*position)
	}
	p := b.positions[account.ID][req.Symbol]
	if p == nil || p.quantity == 0 {
		p = &position{id: uuid.New().String()}
		b.positions[account.ID][req.Symbol] = p
	}

	oldQty := p.quantity
	newQty := oldQty + delta
	switch {
	case oldQty == 0:
		p.avgPrice = price
	case (oldQty > 0) == (delta > 0):
		// Scaling in: re-average the entry.
		total := float64(abs(oldQty))*p.avgPrice + float64(abs(delta))*price
		p.avgPrice = total / float64(abs(newQty))
	case newQty == 0:
		p.avgPrice = 0
	}
	p.quantity = newQty

	now := time.Now()
	return domain.OrderResult{
		OrderID:    uuid.New().String(),
		Status:     domain.OrderStatusFilled,
		Price:      price,
		PositionID: p.id,
		FillID:     uuid.New().String(),
		ExecutedAt: &now,
	}, nil
}

// CancelOrder always reports not-found: paper orders fill instantly and never
// rest.
func (b *Broker) CancelOrder(_ context.Context, _ domain.Account, _ string) (bool, error) {
	return false, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Compile-time interface check.
var _ domain.Broker = (*Broker)(nil)
