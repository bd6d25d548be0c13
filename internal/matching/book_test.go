package matching

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"realitymarket/pkg/types"
)

func limitOrder(side types.Side, price string, qty string, user string) *types.Order {
	return &types.Order{
		OrderID:  uuid.NewString(),
		UserID:   user,
		Symbol:   "XYZ",
		Side:     side,
		Type:     types.Limit,
		Price:    decimal.RequireFromString(price),
		HasPrice: true,
		Qty:      decimal.RequireFromString(qty),
	}
}

// Scenario 4: order match price-time priority.
func TestScenario4PriceTimePriority(t *testing.T) {
	t.Parallel()
	b := NewBook("XYZ")

	a := limitOrder(types.Buy, "100", "10", "A")
	buyB := limitOrder(types.Buy, "101", "10", "B")
	c := limitOrder(types.Buy, "100", "10", "C")

	if _, _, err := b.PlaceOrder(a); err != nil {
		t.Fatalf("place A: %v", err)
	}
	if _, _, err := b.PlaceOrder(buyB); err != nil {
		t.Fatalf("place B: %v", err)
	}
	if _, _, err := b.PlaceOrder(c); err != nil {
		t.Fatalf("place C: %v", err)
	}

	sell := limitOrder(types.Sell, "99", "25", "S")
	trades, _, err := b.PlaceOrder(sell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}

	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
	wantMakers := []string{buyB.OrderID, a.OrderID, c.OrderID}
	wantQty := []string{"10", "10", "5"}
	for i, tr := range trades {
		maker := tr.BuyOrderID
		if maker != wantMakers[i] {
			t.Errorf("trade %d maker = %s, want %s", i, maker, wantMakers[i])
		}
		if !tr.Qty.Equal(decimal.RequireFromString(wantQty[i])) {
			t.Errorf("trade %d qty = %s, want %s", i, tr.Qty, wantQty[i])
		}
	}

	got, ok := b.GetOrder(c.OrderID)
	if !ok {
		t.Fatal("order C not found")
	}
	if got.Status != types.StatusPartial {
		t.Errorf("C status = %s, want partial", got.Status)
	}
	if !got.Filled.Equal(decimal.RequireFromString("5")) {
		t.Errorf("C filled = %s, want 5", got.Filled)
	}
}

// Scenario 5: partial fill then cancel.
func TestScenario5PartialFillThenCancel(t *testing.T) {
	t.Parallel()
	b := NewBook("XYZ")

	buy := limitOrder(types.Buy, "100", "10", "A")
	if _, _, err := b.PlaceOrder(buy); err != nil {
		t.Fatalf("place buy: %v", err)
	}

	sell := limitOrder(types.Sell, "100", "4", "S")
	trades, _, err := b.PlaceOrder(sell)
	if err != nil {
		t.Fatalf("place sell: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}

	got, _ := b.GetOrder(buy.OrderID)
	if got.Status != types.StatusPartial || !got.Filled.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("buy after partial fill = %+v", got)
	}

	cancelled, err := b.CancelOrder(buy.OrderID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != types.StatusCancelled {
		t.Errorf("status after cancel = %s, want cancelled", cancelled.Status)
	}
	if !cancelled.Filled.Equal(decimal.RequireFromString("4")) {
		t.Errorf("filled retained = %s, want 4", cancelled.Filled)
	}

	bids, _ := b.Depth(10)
	if len(bids) != 0 {
		t.Errorf("bid side should be empty after cancel, got %d levels", len(bids))
	}
}

func TestCancelIsIdempotentOnTerminalState(t *testing.T) {
	t.Parallel()
	b := NewBook("XYZ")

	buy := limitOrder(types.Buy, "50", "1", "A")
	if _, _, err := b.PlaceOrder(buy); err != nil {
		t.Fatalf("place: %v", err)
	}

	first, err := b.CancelOrder(buy.OrderID)
	if err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	second, err := b.CancelOrder(buy.OrderID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if second.Status != first.Status {
		t.Errorf("second cancel returned different status: %s vs %s", second.Status, first.Status)
	}
}

func TestMarketPriceFallbackChain(t *testing.T) {
	t.Parallel()
	b := NewBook("XYZ")

	if got := b.MarketPrice(); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("empty book market price = %s, want 50", got)
	}

	buy := limitOrder(types.Buy, "90", "5", "A")
	if _, _, err := b.PlaceOrder(buy); err != nil {
		t.Fatalf("place: %v", err)
	}
	if got := b.MarketPrice(); !got.Equal(decimal.RequireFromString("90")) {
		t.Errorf("one-sided market price = %s, want 90", got)
	}
}

func TestMidPriceBothSides(t *testing.T) {
	t.Parallel()
	b := NewBook("XYZ")

	if _, _, err := b.PlaceOrder(limitOrder(types.Buy, "90", "5", "A")); err != nil {
		t.Fatalf("place buy: %v", err)
	}
	if _, _, err := b.PlaceOrder(limitOrder(types.Sell, "94", "5", "B")); err != nil {
		t.Fatalf("place sell: %v", err)
	}

	bid, ask, mid := b.TopOfBook()
	if bid == nil || ask == nil || mid == nil {
		t.Fatal("expected both sides and mid present")
	}
	if !mid.Equal(decimal.RequireFromString("92")) {
		t.Errorf("mid = %s, want 92", mid)
	}
}

func TestMarketOrderRemainderCancelledNotRested(t *testing.T) {
	t.Parallel()
	b := NewBook("XYZ")

	marketBuy := &types.Order{
		OrderID: uuid.NewString(),
		UserID:  "A",
		Symbol:  "XYZ",
		Side:    types.Buy,
		Type:    types.Market,
		Qty:     decimal.RequireFromString("10"),
	}
	trades, _, err := b.PlaceOrder(marketBuy)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(trades) != 0 {
		t.Fatalf("expected no trades against empty book, got %d", len(trades))
	}
	if marketBuy.Status != types.StatusCancelled {
		t.Errorf("unfilled market order status = %s, want cancelled", marketBuy.Status)
	}

	bids, _ := b.Depth(10)
	if len(bids) != 0 {
		t.Error("market order remainder must not rest in the book")
	}
}
