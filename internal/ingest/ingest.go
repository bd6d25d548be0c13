// Package ingest implements the Ingest Gateway (§4.1): the sole
// authenticated entry point for externally-produced reality events. It
// verifies the signature, validates the schema, enforces idempotency,
// checks referenced symbols exist, evaluates the anti-manipulation
// suspicion rules, and routes the event to either the Scoring Engine
// or the Audit Workflow.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"realitymarket/internal/apperr"
	"realitymarket/internal/config"
	"realitymarket/internal/signing"
	"realitymarket/pkg/types"
)

// Outcome is the external result of an ingest attempt (§4.1 surface).
// Rejected outcomes are reported as an error instead, since they carry
// an apperr.Kind the HTTP layer maps directly to a status code.
type Outcome string

const (
	Created       Outcome = "created"
	Duplicate     Outcome = "duplicate"
	PendingReview Outcome = "pending_review"
)

// Result is the non-error outcome of IngestEvent.
type Result struct {
	Outcome Outcome `json:"status"`
	EventID string  `json:"event_id"`
	Reason  string  `json:"reason,omitempty"`
}

// Gateway is the Ingest Gateway. One instance is shared by every
// request handler; all state it touches lives behind Store/Scorer/Auditor.
type Gateway struct {
	secret  []byte
	scoring config.ScoringConfig

	store   Store
	scorer  Scorer
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time
}

// New creates an Ingest Gateway that verifies signatures with secret
// and applies the suspicion thresholds in scoring.
func New(secret string, scoring config.ScoringConfig, store Store, scorer Scorer, auditor Auditor, logger *slog.Logger) *Gateway {
	return &Gateway{
		secret:  []byte(secret),
		scoring: scoring,
		store:   store,
		scorer:  scorer,
		auditor: auditor,
		logger:  logger.With("component", "ingest"),
		now:     time.Now,
	}
}

// IngestEvent implements the six-step validation order of §4.1.
// Rejected/Duplicate/PendingReview/Created are all legitimate,
// observable outcomes; only Rejected and persistence failure surface
// as a non-nil error.
func (g *Gateway) IngestEvent(ctx context.Context, payload []byte, signatureHex string) (Result, error) {
	if !signing.Verify(g.secret, payload, signatureHex) {
		return Result{}, apperr.New(apperr.Unauthorized, "invalid or missing signature")
	}

	var event types.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Result{}, apperr.Wrap(apperr.Validation, "malformed event payload", err)
	}
	if err := validateEvent(event, g.scoring.DeltaCap); err != nil {
		return Result{}, apperr.Wrap(apperr.Validation, "event failed schema validation", err)
	}

	exists, err := g.store.EventExists(ctx, event.EventID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, "check event idempotency", err)
	}
	if exists {
		return Result{Outcome: Duplicate, EventID: event.EventID}, nil
	}

	for _, symbol := range event.Stocks {
		if _, err := g.store.GetInstrument(ctx, symbol); err != nil {
			return Result{}, apperr.Wrap(apperr.BadRequest, fmt.Sprintf("unknown symbol %q", symbol), err)
		}
	}

	suspicious, reason, err := g.checkSuspicion(ctx, event)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, "evaluate suspicion rules", err)
	}

	if err := g.store.SaveEvent(ctx, event); err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, "persist event", err)
	}

	if event.LLMMode != "" {
		if err := g.store.SaveLLMCall(ctx, llmCallOf(event, payload)); err != nil {
			return Result{}, apperr.Wrap(apperr.Transient, "persist llm call record", err)
		}
	}

	if suspicious {
		for _, symbol := range event.Stocks {
			rec := types.AuditRecord{
				ID:        uuid.NewString(),
				EventID:   event.EventID,
				Symbol:    symbol,
				Summary:   event.Summary,
				Impact:    event.ImpactPoints,
				Sources:   event.Sources,
				Approved:  types.AuditPending,
				CreatedAt: g.now(),
			}
			if err := g.auditor.Enqueue(ctx, rec, reason); err != nil {
				return Result{}, apperr.Wrap(apperr.Transient, "enqueue audit record", err)
			}
		}
		g.logger.Info("event quarantined", "event_id", event.EventID, "reason", reason)
		return Result{Outcome: PendingReview, EventID: event.EventID, Reason: reason}, nil
	}

	for _, symbol := range event.Stocks {
		if _, _, err := g.scorer.Apply(ctx, symbol, event.EventID, event.ImpactPoints, event.NumIndependentSources); err != nil {
			return Result{}, apperr.Wrap(apperr.Transient, "apply score update", err)
		}
	}
	if err := g.store.MarkEventProcessed(ctx, event.EventID); err != nil {
		return Result{}, apperr.Wrap(apperr.Transient, "mark event processed", err)
	}

	g.logger.Info("event applied", "event_id", event.EventID, "stocks", event.Stocks, "impact_points", event.ImpactPoints)
	return Result{Outcome: Created, EventID: event.EventID}, nil
}

// llmCallOf projects an admitted Event into the diagnostic LLMCall
// record (§3 supplemented feature). The Event wire schema carries the
// Event Producer's decision (llm_mode, quick_score, impact_points) but
// not its model/token/cost accounting, so those fields are left at
// their zero value here.
func llmCallOf(event types.Event, payload []byte) types.LLMCall {
	sum := sha256.Sum256(payload)
	return types.LLMCall{
		Timestamp:    event.Timestamp,
		Mode:         event.LLMMode,
		InputHash:    hex.EncodeToString(sum[:]),
		EventIDs:     []string{event.EventID},
		Summary:      event.Summary,
		ImpactPoints: event.ImpactPoints,
	}
}

// checkSuspicion evaluates both rules of §4.6. A positive on any
// referenced symbol diverts the whole event to audit, so a suspicious
// event never has some of its symbols scored while others wait in the
// audit queue. Rule 2 adds the current event's impact to the source's
// numerator only; the denominator is the historical window alone, and
// a symbol with no history in the window is skipped.
func (g *Gateway) checkSuspicion(ctx context.Context, event types.Event) (bool, string, error) {
	if math.Abs(event.ImpactPoints) > g.scoring.SuspiciousDelta {
		return true, fmt.Sprintf("|impact_points|=%.2f exceeds suspicious_delta=%.2f", math.Abs(event.ImpactPoints), g.scoring.SuspiciousDelta), nil
	}

	src, ok := event.PrimarySource()
	if !ok {
		return false, "", nil
	}

	window := time.Duration(g.scoring.RollingWindowHours * float64(time.Hour))
	for _, symbol := range event.Stocks {
		fromSource, fromAll, err := g.store.SourceInfluence24h(ctx, symbol, src.ID, window, g.now())
		if err != nil {
			return false, "", err
		}
		fromSource += event.ImpactPoints
		if fromAll <= 0 {
			continue
		}
		if influence := math.Abs(fromSource) / fromAll; influence > g.scoring.MaxSingleSourceInfluence24h {
			return true, fmt.Sprintf("source %s influence %.2f on %s exceeds max_single_source_influence_24h=%.2f",
				src.ID, influence, symbol, g.scoring.MaxSingleSourceInfluence24h), nil
		}
	}
	return false, "", nil
}
