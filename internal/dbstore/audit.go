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

// SaveAuditRecord enqueues a pending AuditRecord (§4.1 step 5).
func (d *DB) SaveAuditRecord(ctx context.Context, rec types.AuditRecord) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO audit_records (id, event_id, symbol, summary, impact, sources, approved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
		rec.ID, rec.EventID, rec.Symbol, rec.Summary, rec.Impact, string(sources), rec.CreatedAt.Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// ListPendingAudits implements audit.Store's ListPending, newest first
// (§4.5).
func (d *DB) ListPendingAudits(ctx context.Context) ([]types.AuditRecord, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT id, event_id, symbol, summary, impact, sources, approved, created_at
		FROM audit_records WHERE approved = 'pending' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list pending audits: %w", err)
	}
	defer rows.Close()

	var out []types.AuditRecord
	for rows.Next() {
		var rec types.AuditRecord
		var sources, createdAt string
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Symbol, &rec.Summary, &rec.Impact, &sources,
			&rec.Approved, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		json.Unmarshal([]byte(sources), &rec.Sources)
		rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetAuditRecord returns one record by ID.
func (d *DB) GetAuditRecord(ctx context.Context, id string) (types.AuditRecord, error) {
	var rec types.AuditRecord
	var sources, createdAt string
	var approver, reason, decidedAt sql.NullString
	err := d.sql.QueryRowContext(ctx, `
		SELECT id, event_id, symbol, summary, impact, sources, approved, approver, reason, created_at, decided_at
		FROM audit_records WHERE id = ?`, id).
		Scan(&rec.ID, &rec.EventID, &rec.Symbol, &rec.Summary, &rec.Impact, &sources, &rec.Approved,
			&approver, &reason, &createdAt, &decidedAt)
	if err == sql.ErrNoRows {
		return types.AuditRecord{}, apperr.New(apperr.NotFound, "unknown audit record")
	}
	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("get audit record: %w", err)
	}
	json.Unmarshal([]byte(sources), &rec.Sources)
	rec.Approver = approver.String
	rec.Reason = reason.String
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	if decidedAt.Valid {
		t, _ := time.Parse(timeLayout, decidedAt.String)
		rec.DecidedAt = &t
	}
	return rec, nil
}

// DecideAuditRecord implements the exactly-once pending→approved|rejected
// transition (§4.5). Returns apperr.NotFound if id does not name any
// audit record, apperr.Conflict if it exists but is not pending
// (already decided).
func (d *DB) DecideAuditRecord(ctx context.Context, id, approver string, approve bool, reason string, decidedAt time.Time) (types.AuditRecord, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	state := "rejected"
	if approve {
		state = "approved"
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE audit_records SET approved = ?, approver = ?, reason = ?, decided_at = ?
		WHERE id = ? AND approved = 'pending'`,
		state, approver, reason, decidedAt.Format(timeLayout), id)
	if err != nil {
		return types.AuditRecord{}, fmt.Errorf("decide audit record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM audit_records WHERE id = ?)`, id).Scan(&exists); err != nil {
			return types.AuditRecord{}, fmt.Errorf("check audit record existence: %w", err)
		}
		if !exists {
			return types.AuditRecord{}, apperr.New(apperr.NotFound, "unknown audit record")
		}
		return types.AuditRecord{}, apperr.New(apperr.Conflict, "already_processed")
	}

	if err := tx.Commit(); err != nil {
		return types.AuditRecord{}, fmt.Errorf("commit decide: %w", err)
	}
	return d.GetAuditRecord(ctx, id)
}
