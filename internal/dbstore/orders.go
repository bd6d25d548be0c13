package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"realitymarket/pkg/types"
)

// PersistPlacement implements matching.Store: one transaction upserts
// the incoming order, inserts every trade, and updates each touched
// maker's filled/status (§4.3 "Persistence discipline").
func (d *DB) PersistPlacement(ctx context.Context, order types.Order, trades []types.Trade, makers []types.Order) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertOrder(ctx, tx, order); err != nil {
		return err
	}

	for _, t := range trades {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO trades (trade_id, symbol, price, qty, buy_order_id, sell_order_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.TradeID, t.Symbol, t.Price.String(), t.Qty.String(), t.BuyOrderID, t.SellOrderID,
			t.Timestamp.Format(timeLayout))
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}

	for _, m := range makers {
		if err := upsertOrder(ctx, tx, m); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// PersistCancel implements matching.Store.
func (d *DB) PersistCancel(ctx context.Context, order types.Order) error {
	return upsertOrder(ctx, d.sql, order)
}

func upsertOrder(ctx context.Context, exec interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, o types.Order) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, symbol, side, type, price, qty, filled, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			filled = excluded.filled,
			status = excluded.status`,
		o.OrderID, o.UserID, o.Symbol, o.Side, o.Type, o.Price.String(), o.Qty.String(), o.Filled.String(),
		o.Status, o.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", o.OrderID, err)
	}
	return nil
}

// LoadOpenOrders implements matching.Store's crash-recovery replay
// source, ordered by created_at ascending.
func (d *DB) LoadOpenOrders(ctx context.Context) ([]types.Order, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT order_id, user_id, symbol, side, type, price, qty, filled, status, created_at
		FROM orders WHERE status IN ('open', 'partial') ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("load open orders: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var o types.Order
		var priceStr, qtyStr, filledStr, createdAt string
		if err := rows.Scan(&o.OrderID, &o.UserID, &o.Symbol, &o.Side, &o.Type, &priceStr, &qtyStr, &filledStr,
			&o.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Price, _ = decimal.NewFromString(priceStr)
		o.HasPrice = o.Type == types.Limit
		o.Qty, _ = decimal.NewFromString(qtyStr)
		o.Filled, _ = decimal.NewFromString(filledStr)
		o.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, o)
	}
	return out, rows.Err()
}
