package dbstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"realitymarket/internal/apperr"
	"realitymarket/pkg/types"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func seedInstrument(t *testing.T, d *DB, symbol string) {
	t.Helper()
	ctx := context.Background()
	inst := types.Instrument{
		Symbol: symbol, Name: symbol, MarketWeight: 0.6, RealityWeight: 0.4,
		MinPrice: 0, MaxPrice: 100, CreatedAt: time.Now(),
	}
	if err := d.CreateInstrument(ctx, inst, 50); err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
}

func TestInstrumentAndScoreRoundTrip(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()

	seedInstrument(t, d, "XYZ")

	got, err := d.GetInstrument(ctx, "XYZ")
	if err != nil {
		t.Fatalf("get instrument: %v", err)
	}
	if got.MarketWeight != 0.6 || got.RealityWeight != 0.4 {
		t.Errorf("weights = %v/%v, want 0.6/0.4", got.MarketWeight, got.RealityWeight)
	}

	score, err := d.GetScore(ctx, "XYZ")
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score.RealityScore != 50 || score.FinalPrice != 50 {
		t.Fatalf("seeded score = %+v, want neutral 50/50", score)
	}

	change := types.ScoreChange{Symbol: "XYZ", EventID: "e1", OldScore: 50, NewScore: 52.5, Delta: 2.5, Timestamp: time.Now()}
	score.RealityScore = 52.5
	if err := d.SaveScore(ctx, score, change); err != nil {
		t.Fatalf("save score: %v", err)
	}

	got2, err := d.GetScore(ctx, "XYZ")
	if err != nil {
		t.Fatalf("get score after save: %v", err)
	}
	if got2.RealityScore != 52.5 {
		t.Errorf("reality score after save = %v, want 52.5", got2.RealityScore)
	}
}

func TestPersistPlacementAndLoadOpenOrders(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()
	seedInstrument(t, d, "XYZ")

	order := types.Order{
		OrderID: uuid.NewString(), UserID: "A", Symbol: "XYZ", Side: types.Buy, Type: types.Limit,
		Price: decimal.RequireFromString("50"), HasPrice: true, Qty: decimal.RequireFromString("10"),
		Filled: decimal.Zero, Status: types.StatusOpen, CreatedAt: time.Now(),
	}
	if err := d.PersistPlacement(ctx, order, nil, nil); err != nil {
		t.Fatalf("persist placement: %v", err)
	}

	open, err := d.LoadOpenOrders(ctx)
	if err != nil {
		t.Fatalf("load open orders: %v", err)
	}
	if len(open) != 1 || open[0].OrderID != order.OrderID {
		t.Fatalf("open orders = %+v, want one matching %s", open, order.OrderID)
	}

	order.Status = types.StatusCancelled
	if err := d.PersistCancel(ctx, order); err != nil {
		t.Fatalf("persist cancel: %v", err)
	}
	open2, err := d.LoadOpenOrders(ctx)
	if err != nil {
		t.Fatalf("load open orders after cancel: %v", err)
	}
	if len(open2) != 0 {
		t.Fatalf("open orders after cancel = %d, want 0", len(open2))
	}
}

func TestAuditDecideIsExactlyOnce(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()
	seedInstrument(t, d, "XYZ")

	if err := d.SaveEvent(ctx, types.Event{EventID: "e1", Timestamp: time.Now(), Stocks: []string{"XYZ"}, ImpactPoints: 18}); err != nil {
		t.Fatalf("save event: %v", err)
	}

	rec := types.AuditRecord{ID: uuid.NewString(), EventID: "e1", Symbol: "XYZ", Impact: 18, CreatedAt: time.Now()}
	if err := d.SaveAuditRecord(ctx, rec); err != nil {
		t.Fatalf("save audit record: %v", err)
	}

	pending, err := d.ListPendingAudits(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %+v, err = %v", pending, err)
	}

	if _, err := d.DecideAuditRecord(ctx, rec.ID, "admin", true, "", time.Now()); err != nil {
		t.Fatalf("first decide: %v", err)
	}
	_, err = d.DecideAuditRecord(ctx, rec.ID, "admin", true, "", time.Now())
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("second decide kind = %v, want Conflict", apperr.KindOf(err))
	}
}

func TestAuditDecideUnknownIDIsNotFound(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()

	_, err := d.DecideAuditRecord(ctx, uuid.NewString(), "admin", true, "", time.Now())
	if apperr.KindOf(err) != apperr.NotFound {
		t.Fatalf("decide on unknown id kind = %v, want NotFound", apperr.KindOf(err))
	}
}

func TestEventIdempotency(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()
	seedInstrument(t, d, "XYZ")

	exists, err := d.EventExists(ctx, "e1")
	if err != nil || exists {
		t.Fatalf("exists = %v, err = %v, want false", exists, err)
	}

	if err := d.SaveEvent(ctx, types.Event{EventID: "e1", Timestamp: time.Now(), Stocks: []string{"XYZ"}}); err != nil {
		t.Fatalf("save event: %v", err)
	}

	exists, err = d.EventExists(ctx, "e1")
	if err != nil || !exists {
		t.Fatalf("exists = %v, err = %v, want true", exists, err)
	}
}
