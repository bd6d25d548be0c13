package dbstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/pkg/types"
)

// EventExists implements the ingest idempotency check (§4.1 step 3).
func (d *DB) EventExists(ctx context.Context, eventID string) (bool, error) {
	var x int
	err := d.sql.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&x)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event exists: %w", err)
	}
	return true, nil
}

// SaveEvent inserts an event with processed=false (§4.1 steps 5/6).
func (d *DB) SaveEvent(ctx context.Context, e types.Event) error {
	stocks, err := json.Marshal(e.Stocks)
	if err != nil {
		return fmt.Errorf("marshal stocks: %w", err)
	}
	sources, err := json.Marshal(e.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO events (event_id, timestamp, stocks, quick_score, impact_points, summary, sources,
			num_independent_sources, llm_mode, meta, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		e.EventID, e.Timestamp.Format(timeLayout), string(stocks), e.QuickScore, e.ImpactPoints, e.Summary,
		string(sources), e.NumIndependentSources, e.LLMMode, e.Meta)
	if err != nil {
		return apperr.Wrap(apperr.Conflict, "event already exists", err)
	}
	return nil
}

// MarkEventProcessed sets processed=true (§4.1 step 6, §4.5 "On approved").
func (d *DB) MarkEventProcessed(ctx context.Context, eventID string) error {
	_, err := d.sql.ExecContext(ctx, `UPDATE events SET processed = 1 WHERE event_id = ?`, eventID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// GetEvent returns one event by ID.
func (d *DB) GetEvent(ctx context.Context, eventID string) (types.Event, error) {
	var e types.Event
	var ts, stocks, sources string
	var meta sql.NullString
	err := d.sql.QueryRowContext(ctx, `
		SELECT event_id, timestamp, stocks, quick_score, impact_points, summary, sources,
			num_independent_sources, llm_mode, meta, processed
		FROM events WHERE event_id = ?`, eventID).
		Scan(&e.EventID, &ts, &stocks, &e.QuickScore, &e.ImpactPoints, &e.Summary, &sources,
			&e.NumIndependentSources, &e.LLMMode, &meta, &e.Processed)
	if err == sql.ErrNoRows {
		return types.Event{}, apperr.New(apperr.NotFound, "unknown event")
	}
	if err != nil {
		return types.Event{}, fmt.Errorf("get event: %w", err)
	}
	e.Timestamp, _ = time.Parse(timeLayout, ts)
	e.Meta = meta.String
	json.Unmarshal([]byte(stocks), &e.Stocks)
	json.Unmarshal([]byte(sources), &e.Sources)
	return e, nil
}

// SourceInfluence24h implements §4.6 rule 2's rolling-window read:
// the sum of impact_points attributed to sourceID and the sum of
// |impact_points| from all sources, over processed events referencing
// symbol in the trailing window ending at asOf.
func (d *DB) SourceInfluence24h(ctx context.Context, symbol, sourceID string, window time.Duration, asOf time.Time) (fromSource, fromAll float64, err error) {
	since := asOf.Add(-window).Format(timeLayout)

	rows, err := d.sql.QueryContext(ctx, `
		SELECT impact_points, sources FROM events
		WHERE processed = 1 AND timestamp >= ? AND timestamp <= ?
		AND EXISTS (SELECT 1 FROM json_each(stocks) WHERE value = ?)`,
		since, asOf.Format(timeLayout), symbol)
	if err != nil {
		return 0, 0, fmt.Errorf("query source influence: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var impact float64
		var sourcesJSON string
		if err := rows.Scan(&impact, &sourcesJSON); err != nil {
			return 0, 0, fmt.Errorf("scan source influence row: %w", err)
		}
		fromAll += abs(impact)

		var sources []types.Source
		json.Unmarshal([]byte(sourcesJSON), &sources)
		if len(sources) > 0 && sources[0].ID == sourceID {
			fromSource += impact
		}
	}
	return fromSource, fromAll, rows.Err()
}

// ListEventsBySymbol returns the most recent events referencing symbol,
// newest first, for the public read surface (§6 `/api/v1/events/{symbol}`).
func (d *DB) ListEventsBySymbol(ctx context.Context, symbol string, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.sql.QueryContext(ctx, `
		SELECT event_id, timestamp, stocks, quick_score, impact_points, summary, sources,
			num_independent_sources, llm_mode, meta, processed
		FROM events
		WHERE EXISTS (SELECT 1 FROM json_each(stocks) WHERE value = ?)
		ORDER BY timestamp DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("list events by symbol: %w", err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var e types.Event
		var ts, stocks, sources string
		var meta sql.NullString
		if err := rows.Scan(&e.EventID, &ts, &stocks, &e.QuickScore, &e.ImpactPoints, &e.Summary, &sources,
			&e.NumIndependentSources, &e.LLMMode, &meta, &e.Processed); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		e.Meta = meta.String
		json.Unmarshal([]byte(stocks), &e.Stocks)
		json.Unmarshal([]byte(sources), &e.Sources)
		out = append(out, e)
	}
	return out, rows.Err()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// SaveLLMCall appends a diagnostic projection of an Event Producer
// scoring call (§9.1 supplemented feature). Nothing reads this back
// into scoring decisions.
func (d *DB) SaveLLMCall(ctx context.Context, call types.LLMCall) error {
	eventIDs, err := json.Marshal(call.EventIDs)
	if err != nil {
		return fmt.Errorf("marshal event ids: %w", err)
	}
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO llm_calls (timestamp, mode, input_hash, event_ids, summary, impact_points, model_name, tokens_used, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.Timestamp.Format(timeLayout), call.Mode, call.InputHash, string(eventIDs), call.Summary,
		call.ImpactPoints, call.ModelName, call.TokensUsed, call.CostUSD)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}
