package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/pkg/types"
)

const timeLayout = time.RFC3339Nano

// CreateInstrument inserts a new instrument and its neutral-starting
// Score row in one transaction (§3 "Score... Created on first admin
// instrument creation at neutral").
func (d *DB) CreateInstrument(ctx context.Context, inst types.Instrument, neutral float64) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO instruments (symbol, name, description, market_weight, reality_weight, min_price, max_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.Symbol, inst.Name, inst.Description, inst.MarketWeight, inst.RealityWeight, inst.MinPrice, inst.MaxPrice,
		inst.CreatedAt.Format(timeLayout))
	if err != nil {
		return apperr.Wrap(apperr.Conflict, "instrument already exists", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scores (symbol, reality_score, final_price, confidence, last_updated)
		VALUES (?, ?, ?, 0, ?)`,
		inst.Symbol, neutral, neutral, inst.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("seed score: %w", err)
	}

	return tx.Commit()
}

// GetInstrument returns symbol's instrument row.
func (d *DB) GetInstrument(ctx context.Context, symbol string) (types.Instrument, error) {
	var inst types.Instrument
	var createdAt string
	err := d.sql.QueryRowContext(ctx, `
		SELECT symbol, name, description, market_weight, reality_weight, min_price, max_price, created_at
		FROM instruments WHERE symbol = ?`, symbol).
		Scan(&inst.Symbol, &inst.Name, &inst.Description, &inst.MarketWeight, &inst.RealityWeight,
			&inst.MinPrice, &inst.MaxPrice, &createdAt)
	if err == sql.ErrNoRows {
		return types.Instrument{}, apperr.New(apperr.NotFound, "unknown symbol")
	}
	if err != nil {
		return types.Instrument{}, fmt.Errorf("get instrument: %w", err)
	}
	inst.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return inst, nil
}

// UpdateWeights updates an instrument's market/reality weight split,
// the only admin-mutable fields after creation (§3 "Immutable after
// creation except weights via admin").
func (d *DB) UpdateWeights(ctx context.Context, symbol string, marketWeight, realityWeight float64) error {
	res, err := d.sql.ExecContext(ctx, `
		UPDATE instruments SET market_weight = ?, reality_weight = ? WHERE symbol = ?`,
		marketWeight, realityWeight, symbol)
	if err != nil {
		return fmt.Errorf("update weights: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "unknown symbol")
	}
	return nil
}

// ListInstruments returns every known instrument, ordered by symbol.
func (d *DB) ListInstruments(ctx context.Context) ([]types.Instrument, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT symbol, name, description, market_weight, reality_weight, min_price, max_price, created_at
		FROM instruments ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()

	var out []types.Instrument
	for rows.Next() {
		var inst types.Instrument
		var createdAt string
		if err := rows.Scan(&inst.Symbol, &inst.Name, &inst.Description, &inst.MarketWeight, &inst.RealityWeight,
			&inst.MinPrice, &inst.MaxPrice, &createdAt); err != nil {
			return nil, fmt.Errorf("scan instrument: %w", err)
		}
		inst.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, inst)
	}
	return out, rows.Err()
}
