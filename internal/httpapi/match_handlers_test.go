package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"realitymarket/internal/matching"
	"realitymarket/pkg/types"
)

type fakeMatchEngine struct {
	placed []types.Order
	err    error
}

func (f *fakeMatchEngine) PlaceOrder(_ context.Context, o types.Order) (types.Order, []types.Trade, error) {
	if f.err != nil {
		return types.Order{}, nil, f.err
	}
	o.Status = types.StatusOpen
	f.placed = append(f.placed, o)
	return o, nil, nil
}

func (f *fakeMatchEngine) CancelOrder(_ context.Context, _, orderID string) (types.Order, error) {
	return types.Order{OrderID: orderID, Status: types.StatusCancelled}, nil
}

func (f *fakeMatchEngine) Snapshot(symbol string, _ int) matching.Snapshot {
	return matching.Snapshot{Symbol: symbol}
}

func (f *fakeMatchEngine) Pressure(symbol string) matching.Pressure {
	return matching.Pressure{Symbol: symbol, MarketPrice: 50, Available: false}
}

func TestHandlePlaceOrderParsesDecimalFields(t *testing.T) {
	t.Parallel()

	engine := &fakeMatchEngine{}
	h := NewMatchHandlers(engine, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"symbol":"ELON","side":"buy","type":"limit","price":"100.00","qty":"10","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	h.HandlePlaceOrder(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if len(engine.placed) != 1 {
		t.Fatalf("placed = %d orders, want 1", len(engine.placed))
	}
	got := engine.placed[0]
	if !got.Price.Equal(decimal.NewFromInt(100)) || !got.Qty.Equal(decimal.NewFromInt(10)) || !got.HasPrice {
		t.Fatalf("order = %+v, want price=100 qty=10 hasPrice=true", got)
	}
}

func TestHandlePlaceOrderRejectsMalformedQty(t *testing.T) {
	t.Parallel()

	h := NewMatchHandlers(&fakeMatchEngine{}, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/orders",
		strings.NewReader(`{"symbol":"ELON","side":"buy","type":"market","qty":"not-a-number","user_id":"u1"}`))
	rec := httptest.NewRecorder()
	h.HandlePlaceOrder(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

func TestHandlePressureReturnsAvailability(t *testing.T) {
	t.Parallel()

	h := NewMatchHandlers(&fakeMatchEngine{}, nil, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/market/ELON/pressure", nil)
	req.SetPathValue("symbol", "ELON")
	rec := httptest.NewRecorder()
	h.HandlePressure(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"available":false`) {
		t.Errorf("body = %s, want available field present", rec.Body.String())
	}
}
