// Package audit implements the durable quarantine queue for suspicious
// events (§4.5): ingest enqueues, an admin decides, and an approval
// re-hands the event to the Scoring Engine exactly as the normal path
// would.
package audit

import (
	"context"
	"log/slog"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/internal/config"
	"realitymarket/pkg/types"
)

// EventListener is notified whenever a record enters or leaves the
// queue, to drive the audit_event broadcast (§4.4).
type EventListener func(evt types.AuditEvent)

// Engine owns the pending/approved/rejected queue.
type Engine struct {
	cfg    config.ScoringConfig
	store  Store
	scorer Scorer
	logger *slog.Logger
	now    func() time.Time

	listeners []EventListener
}

// New creates an Audit Workflow over store, driving scorer on approval.
func New(cfg config.ScoringConfig, store Store, scorer Scorer, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		scorer: scorer,
		logger: logger.With("component", "audit"),
		now:    time.Now,
	}
}

// OnEvent registers a listener invoked when a record enters or leaves
// the queue.
func (e *Engine) OnEvent(fn EventListener) {
	e.listeners = append(e.listeners, fn)
}

// Enqueue persists a new pending record (called from the Ingest
// Gateway's suspicion-check step, §4.1 step 5) and announces it.
func (e *Engine) Enqueue(ctx context.Context, rec types.AuditRecord, reason string) error {
	if err := e.store.SaveAuditRecord(ctx, rec); err != nil {
		return apperr.Wrap(apperr.Transient, "save audit record", err)
	}

	e.logger.Info("event quarantined", "event_id", rec.EventID, "symbol", rec.Symbol, "reason", reason)
	e.emit(types.AuditEvent{
		EventID: rec.EventID, Symbol: rec.Symbol, Delta: rec.Impact,
		State: types.AuditPending, Reason: reason, Timestamp: e.now(),
	})
	return nil
}

// ListPending returns all pending records, newest first (§4.5).
func (e *Engine) ListPending(ctx context.Context) ([]types.AuditRecord, error) {
	return e.store.ListPendingAudits(ctx)
}

// Decide implements the exactly-once pending→approved|rejected
// transition (§4.5). On approve, the capped impact is re-handed to the
// Scoring Engine and the originating event is marked processed. On
// reject, the reason is recorded and the event remains processed=false
// forever.
func (e *Engine) Decide(ctx context.Context, id, approver string, approve bool, reason string) (types.AuditRecord, error) {
	rec, err := e.store.DecideAuditRecord(ctx, id, approver, approve, reason, e.now())
	if err != nil {
		return types.AuditRecord{}, err
	}

	if !approve {
		e.emit(types.AuditEvent{
			EventID: rec.EventID, Symbol: rec.Symbol, Delta: rec.Impact,
			State: types.AuditRejected, Reason: reason, Timestamp: e.now(),
		})
		return rec, nil
	}

	event, err := e.store.GetEvent(ctx, rec.EventID)
	if err != nil {
		return types.AuditRecord{}, apperr.Wrap(apperr.Transient, "load quarantined event", err)
	}

	impact := rec.Impact
	if src, ok := event.PrimarySource(); ok {
		fromSource, fromAll, err := e.store.SourceInfluence24h(ctx, rec.Symbol, src.ID,
			time.Duration(e.cfg.RollingWindowHours*float64(time.Hour)), e.now())
		if err != nil {
			return types.AuditRecord{}, apperr.Wrap(apperr.Transient, "load source influence", err)
		}
		impact = CapSingleSourceInfluence(impact, fromSource, fromAll, e.cfg.MaxSingleSourceInfluence24h)
	}

	if _, _, err := e.scorer.Apply(ctx, rec.Symbol, rec.EventID, impact, event.NumIndependentSources); err != nil {
		return types.AuditRecord{}, apperr.Wrap(apperr.Transient, "apply approved impact", err)
	}

	if err := e.store.MarkEventProcessed(ctx, rec.EventID); err != nil {
		return types.AuditRecord{}, apperr.Wrap(apperr.Transient, "mark event processed", err)
	}

	e.logger.Info("audit record approved", "event_id", rec.EventID, "symbol", rec.Symbol, "impact_applied", impact)
	e.emit(types.AuditEvent{
		EventID: rec.EventID, Symbol: rec.Symbol, Delta: impact,
		State: types.AuditApproved, Timestamp: e.now(),
	})
	return rec, nil
}

func (e *Engine) emit(evt types.AuditEvent) {
	for _, fn := range e.listeners {
		fn(evt)
	}
}
