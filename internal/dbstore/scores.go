package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/pkg/types"
)

// GetScore implements scoring.Store and blender.ScoreStore.
func (d *DB) GetScore(ctx context.Context, symbol string) (types.Score, error) {
	var s types.Score
	var lastUpdated string
	err := d.sql.QueryRowContext(ctx, `
		SELECT symbol, reality_score, final_price, confidence, last_updated
		FROM scores WHERE symbol = ?`, symbol).
		Scan(&s.Symbol, &s.RealityScore, &s.FinalPrice, &s.Confidence, &lastUpdated)
	if err == sql.ErrNoRows {
		return types.Score{}, apperr.New(apperr.NotFound, "unknown symbol")
	}
	if err != nil {
		return types.Score{}, fmt.Errorf("get score: %w", err)
	}
	s.LastUpdated, _ = time.Parse(timeLayout, lastUpdated)
	return s, nil
}

// SaveScore implements scoring.Store: persists the updated Score row
// and appends a ScoreChange record atomically (§4.2 "persist, emit
// ScoreChange" are one critical-region step).
func (d *DB) SaveScore(ctx context.Context, score types.Score, change types.ScoreChange) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE scores SET reality_score = ?, confidence = ?, last_updated = ?
		WHERE symbol = ?`,
		score.RealityScore, score.Confidence, score.LastUpdated.Format(timeLayout), score.Symbol)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO score_changes (symbol, event_id, old_score, new_score, delta, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		change.Symbol, change.EventID, change.OldScore, change.NewScore, change.Delta,
		change.Timestamp.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert score change: %w", err)
	}

	return tx.Commit()
}

// ScoreHistory returns score_changes for symbol within the trailing
// window ending now, oldest first, for the public read surface (§6
// `/api/v1/scores/{symbol}/history`).
func (d *DB) ScoreHistory(ctx context.Context, symbol string, since time.Time) ([]types.ScoreChange, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT symbol, event_id, old_score, new_score, delta, timestamp
		FROM score_changes WHERE symbol = ? AND timestamp >= ?
		ORDER BY timestamp ASC`, symbol, since.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("score history: %w", err)
	}
	defer rows.Close()

	var out []types.ScoreChange
	for rows.Next() {
		var c types.ScoreChange
		var ts string
		if err := rows.Scan(&c.Symbol, &c.EventID, &c.OldScore, &c.NewScore, &c.Delta, &ts); err != nil {
			return nil, fmt.Errorf("scan score change: %w", err)
		}
		c.Timestamp, _ = time.Parse(timeLayout, ts)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveFinalPrice implements blender.ScoreStore.
func (d *DB) SaveFinalPrice(ctx context.Context, symbol string, finalPrice float64) error {
	res, err := d.sql.ExecContext(ctx, `UPDATE scores SET final_price = ? WHERE symbol = ?`, finalPrice, symbol)
	if err != nil {
		return fmt.Errorf("save final price: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "unknown symbol")
	}
	return nil
}
