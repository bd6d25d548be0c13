package audit

import (
	"context"
	"time"

	"realitymarket/pkg/types"
)

// Store is the persistence surface the Audit Workflow needs.
type Store interface {
	SaveAuditRecord(ctx context.Context, rec types.AuditRecord) error
	ListPendingAudits(ctx context.Context) ([]types.AuditRecord, error)
	GetAuditRecord(ctx context.Context, id string) (types.AuditRecord, error)
	DecideAuditRecord(ctx context.Context, id, approver string, approve bool, reason string, decidedAt time.Time) (types.AuditRecord, error)

	GetEvent(ctx context.Context, eventID string) (types.Event, error)
	MarkEventProcessed(ctx context.Context, eventID string) error

	// SourceInfluence24h backs the capped-approval path (§9.1): the
	// same rolling-window aggregates the suspicion rule evaluated.
	SourceInfluence24h(ctx context.Context, symbol, sourceID string, window time.Duration, asOf time.Time) (fromSource, fromAll float64, err error)
}

// Scorer is the subset of the Scoring Engine's surface the Audit
// Workflow drives on approval (§4.5 "re-hand the event to the Scoring
// Engine... exactly as the normal path would").
type Scorer interface {
	Apply(ctx context.Context, symbol, eventID string, impactPoints float64, numRelatedDocs int) (types.Score, types.ScoreChange, error)
}
