package paper

import (
	"context"
	"math"
	"testing"

	"github.com/quantive/signalbridge/internal/domain"
)

var account = domain.Account{ID: "acct-1", BrokerID: "paper", Active: true}

func TestPlaceOrderLifecycle(t *testing.T) {
	b := New()
	ctx := context.Background()

	open, err := b.PlaceOrder(ctx, account, domain.OrderRequest{
		Symbol: "MNQ1!", Side: domain.OrderSideBuy, Quantity: 10, LimitPrice: 100,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if open.Status != domain.OrderStatusFilled || open.PositionID == "" {
		t.Fatalf("open = %+v", open)
	}

	// The position id is stable while the position is open.
	scale, err := b.PlaceOrder(ctx, account, domain.OrderRequest{
		Symbol: "MNQ1!", Side: domain.OrderSideBuy, Quantity: 10, LimitPrice: 110,
	})
	if err != nil {
		t.Fatalf("scale-in: %v", err)
	}
	if scale.PositionID != open.PositionID {
		t.Fatal("scale-in minted a new position id")
	}

	positions, err := b.GetPositions(ctx, account)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 1 || positions[0].Quantity != 20 {
		t.Fatalf("positions = %+v", positions)
	}
	// 10 @ 100 + 10 @ 110 averages to 105.
	if math.Abs(positions[0].AvgPrice-105.0) > 1e-9 {
		t.Fatalf("avg price = %.2f, want 105", positions[0].AvgPrice)
	}

	// Flatten; the flat symbol disappears from the report.
	if _, err := b.PlaceOrder(ctx, account, domain.OrderRequest{
		Symbol: "MNQ1!", Side: domain.OrderSideSell, Quantity: 20, LimitPrice: 120,
	}); err != nil {
		t.Fatalf("flatten: %v", err)
	}
	positions, _ = b.GetPositions(ctx, account)
	if len(positions) != 0 {
		t.Fatalf("positions after flat = %+v", positions)
	}

	// A new entry mints a fresh position id.
	reopen, err := b.PlaceOrder(ctx, account, domain.OrderRequest{
		Symbol: "MNQ1!", Side: domain.OrderSideBuy, Quantity: 5, LimitPrice: 100,
	})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopen.PositionID == open.PositionID {
		t.Fatal("reopened position reused the old id")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	b := New()
	_, err := b.PlaceOrder(context.Background(), account, domain.OrderRequest{
		Symbol: "MNQ1!", Side: domain.OrderSideBuy, Quantity: 0,
	})
	if err != domain.ErrInvalidQuantity {
		t.Fatalf("err = %v, want ErrInvalidQuantity", err)
	}
}

func TestAccountsIsolated(t *testing.T) {
	b := New()
	ctx := context.Background()
	other := domain.Account{ID: "acct-2", BrokerID: "paper", Active: true}

	if _, err := b.PlaceOrder(ctx, account, domain.OrderRequest{
		Symbol: "MNQ1!", Side: domain.OrderSideBuy, Quantity: 10, LimitPrice: 100,
	}); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	positions, err := b.GetPositions(ctx, other)
	if err != nil {
		t.Fatalf("GetPositions: %v", err)
	}
	if len(positions) != 0 {
		t.Fatalf("account bleed: %+v", positions)
	}
}

func TestCancelOrderNeverFinds(t *testing.T) {
	b := New()
	found, err := b.CancelOrder(context.Background(), account, "any")
	if err != nil || found {
		t.Fatalf("CancelOrder = (%v, %v), want (false, nil)", found, err)
	}
}
