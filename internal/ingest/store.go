package ingest

import (
	"context"
	"time"

	"realitymarket/pkg/types"
)

// Store is the persistence surface the Ingest Gateway needs.
type Store interface {
	EventExists(ctx context.Context, eventID string) (bool, error)
	SaveEvent(ctx context.Context, e types.Event) error
	MarkEventProcessed(ctx context.Context, eventID string) error
	GetInstrument(ctx context.Context, symbol string) (types.Instrument, error)

	// SourceInfluence24h backs suspicion rule 2 (§4.6): the rolling
	//24h aggregates for symbol and sourceID, over already-processed
	// events, excluding the event currently being admitted.
	SourceInfluence24h(ctx context.Context, symbol, sourceID string, window time.Duration, asOf time.Time) (fromSource, fromAll float64, err error)

	// SaveLLMCall persists a diagnostic record of the Event Producer's
	// quick-scorer/LLM decision for an inbound event (§3 supplemented
	// feature), written whenever the event carries a non-empty LLMMode.
	SaveLLMCall(ctx context.Context, call types.LLMCall) error
}

// Scorer is the Scoring Engine surface the normal (non-suspicious)
// path hands events to (§4.1 step 6).
type Scorer interface {
	Apply(ctx context.Context, symbol, eventID string, impactPoints float64, numRelatedDocs int) (types.Score, types.ScoreChange, error)
}

// Auditor is the Audit Workflow surface the suspicious path hands
// events to (§4.1 step 5).
type Auditor interface {
	Enqueue(ctx context.Context, rec types.AuditRecord, reason string) error
}
