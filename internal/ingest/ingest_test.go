package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/internal/config"
	"realitymarket/internal/signing"
	"realitymarket/pkg/types"
)

const testSecret = "test-shared-secret"

type fakeStore struct {
	instruments map[string]types.Instrument
	events      map[string]types.Event
	influence   map[string][2]float64 // symbol -> {fromSource, fromAll}
	llmCalls    []types.LLMCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		instruments: map[string]types.Instrument{},
		events:      map[string]types.Event{},
		influence:   map[string][2]float64{},
	}
}

func (s *fakeStore) EventExists(_ context.Context, eventID string) (bool, error) {
	_, ok := s.events[eventID]
	return ok, nil
}

func (s *fakeStore) SaveEvent(_ context.Context, e types.Event) error {
	s.events[e.EventID] = e
	return nil
}

func (s *fakeStore) MarkEventProcessed(_ context.Context, eventID string) error {
	e := s.events[eventID]
	e.Processed = true
	s.events[eventID] = e
	return nil
}

func (s *fakeStore) GetInstrument(_ context.Context, symbol string) (types.Instrument, error) {
	inst, ok := s.instruments[symbol]
	if !ok {
		return types.Instrument{}, apperr.New(apperr.NotFound, "unknown instrument")
	}
	return inst, nil
}

func (s *fakeStore) SourceInfluence24h(_ context.Context, symbol, _ string, _ time.Duration, _ time.Time) (float64, float64, error) {
	v := s.influence[symbol]
	return v[0], v[1], nil
}

func (s *fakeStore) SaveLLMCall(_ context.Context, call types.LLMCall) error {
	s.llmCalls = append(s.llmCalls, call)
	return nil
}

type fakeScorer struct {
	applied []struct {
		symbol  string
		eventID string
		impact  float64
	}
}

func (s *fakeScorer) Apply(_ context.Context, symbol, eventID string, impactPoints float64, _ int) (types.Score, types.ScoreChange, error) {
	s.applied = append(s.applied, struct {
		symbol  string
		eventID string
		impact  float64
	}{symbol, eventID, impactPoints})
	return types.Score{Symbol: symbol, RealityScore: 52.5, FinalPrice: 52.5}, types.ScoreChange{Symbol: symbol, Delta: impactPoints}, nil
}

type fakeAuditor struct {
	enqueued []types.AuditRecord
	reasons  []string
}

func (a *fakeAuditor) Enqueue(_ context.Context, rec types.AuditRecord, reason string) error {
	a.enqueued = append(a.enqueued, rec)
	a.reasons = append(a.reasons, reason)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedPayload(t *testing.T, event map[string]any) ([]byte, string) {
	t.Helper()
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	sig, err := signing.Sign([]byte(testSecret), raw)
	if err != nil {
		t.Fatalf("sign event: %v", err)
	}
	return raw, sig
}

func baseEvent(eventID string, impactPoints float64) map[string]any {
	return map[string]any{
		"event_id":                eventID,
		"timestamp":               time.Now().UTC().Format(time.RFC3339),
		"stocks":                  []string{"ELON"},
		"quick_score":             0.5,
		"impact_points":           impactPoints,
		"summary":                 "a fresh event",
		"sources":                 []map[string]any{{"id": "src1", "url": "https://example.com", "trust": 0.9}},
		"num_independent_sources": 1,
		"llm_mode":                "tiny",
	}
}

func newGateway(store *fakeStore, scorer *fakeScorer, auditor *fakeAuditor) *Gateway {
	return New(testSecret, config.Defaults().Scoring, store, scorer, auditor, discardLogger())
}

// Scenario 1: fresh positive event is applied and the event ends processed.
func TestFreshPositiveEventIsApplied(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	scorer := &fakeScorer{}
	auditor := &fakeAuditor{}
	g := newGateway(store, scorer, auditor)

	raw, sig := signedPayload(t, baseEvent("11111111-1111-1111-1111-111111111111", 10))
	res, err := g.IngestEvent(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != Created {
		t.Fatalf("outcome = %v, want Created", res.Outcome)
	}
	if len(scorer.applied) != 1 || scorer.applied[0].impact != 10 {
		t.Fatalf("applied = %v, want one entry with impact 10", scorer.applied)
	}
	if !store.events[res.EventID].Processed {
		t.Error("event should be marked processed")
	}
	if len(auditor.enqueued) != 0 {
		t.Error("non-suspicious event must not reach the audit queue")
	}
	if len(store.llmCalls) != 1 || store.llmCalls[0].Mode != types.LLMTiny {
		t.Fatalf("llm calls = %+v, want one tiny-mode record", store.llmCalls)
	}
}

// The diagnostic LLMCall row reflects whichever llm_mode the Event
// Producer reports, even when the event is quarantined rather than
// applied.
func TestLLMCallRecordUsesReportedMode(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	g := newGateway(store, &fakeScorer{}, &fakeAuditor{})

	event := baseEvent("88888888-8888-8888-8888-888888888888", 18)
	event["llm_mode"] = "skipped"
	raw, sig := signedPayload(t, event)
	res, err := g.IngestEvent(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != PendingReview {
		t.Fatalf("outcome = %v, want PendingReview", res.Outcome)
	}
	if len(store.llmCalls) != 1 || store.llmCalls[0].Mode != types.LLMSkipped {
		t.Fatalf("llm calls = %+v, want one skipped-mode record", store.llmCalls)
	}
	if store.llmCalls[0].EventIDs[0] != res.EventID {
		t.Errorf("llm call event id = %v, want %v", store.llmCalls[0].EventIDs, res.EventID)
	}
}

// Scenario 2: impact_points = +100 is rejected at validation (422), no state change.
func TestCapEnforcementRejectsOversizedImpact(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	scorer := &fakeScorer{}
	auditor := &fakeAuditor{}
	g := newGateway(store, scorer, auditor)

	raw, sig := signedPayload(t, baseEvent("22222222-2222-2222-2222-222222222222", 100))
	_, err := g.IngestEvent(context.Background(), raw, sig)
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("kind = %v, want validation", apperr.KindOf(err))
	}
	if len(store.events) != 0 {
		t.Error("rejected event must not be persisted")
	}
	if len(scorer.applied) != 0 {
		t.Error("rejected event must not reach the scorer")
	}
}

// Scenario 3: impact_points = +18 is quarantined, not applied; 202 PendingReview.
func TestSuspiciousEventIsQuarantinedNotApplied(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	scorer := &fakeScorer{}
	auditor := &fakeAuditor{}
	g := newGateway(store, scorer, auditor)

	raw, sig := signedPayload(t, baseEvent("33333333-3333-3333-3333-333333333333", 18))
	res, err := g.IngestEvent(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != PendingReview {
		t.Fatalf("outcome = %v, want PendingReview", res.Outcome)
	}
	if len(scorer.applied) != 0 {
		t.Error("suspicious event must not be applied to the score")
	}
	if len(auditor.enqueued) != 1 {
		t.Fatalf("enqueued = %d records, want 1", len(auditor.enqueued))
	}
	if auditor.enqueued[0].Symbol != "ELON" || auditor.enqueued[0].Impact != 18 {
		t.Errorf("enqueued record = %+v, want symbol ELON impact 18", auditor.enqueued[0])
	}
	if store.events[res.EventID].Processed {
		t.Error("quarantined event must remain processed=false")
	}
}

func TestUnknownSignatureIsRejected(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	g := newGateway(store, &fakeScorer{}, &fakeAuditor{})

	raw, _ := signedPayload(t, baseEvent("44444444-4444-4444-4444-444444444444", 5))
	_, err := g.IngestEvent(context.Background(), raw, "deadbeef")
	if apperr.KindOf(err) != apperr.Unauthorized {
		t.Fatalf("kind = %v, want unauthorized", apperr.KindOf(err))
	}
}

func TestUnknownSymbolIsRejected(t *testing.T) {
	t.Parallel()

	store := newFakeStore() // no instruments registered
	g := newGateway(store, &fakeScorer{}, &fakeAuditor{})

	raw, sig := signedPayload(t, baseEvent("55555555-5555-5555-5555-555555555555", 5))
	_, err := g.IngestEvent(context.Background(), raw, sig)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want bad_request", apperr.KindOf(err))
	}
}

func TestDuplicateEventIsObservableNotAnError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	scorer := &fakeScorer{}
	g := newGateway(store, scorer, &fakeAuditor{})

	eventID := "66666666-6666-6666-6666-666666666666"
	raw, sig := signedPayload(t, baseEvent(eventID, 5))
	if _, err := g.IngestEvent(context.Background(), raw, sig); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	res, err := g.IngestEvent(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Outcome != Duplicate {
		t.Fatalf("outcome = %v, want Duplicate", res.Outcome)
	}
	if len(scorer.applied) != 1 {
		t.Error("replay must not re-apply the score")
	}
}

// Rule 2: rolling-window single-source influence must include the
// current event's contribution in the numerator.
func TestRollingSourceInfluenceTripsSuspicion(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.instruments["ELON"] = types.Instrument{Symbol: "ELON"}
	// 10 of a 20-wide window already from this source; proposing +8 more
	// pushes 18/20 = 0.9, well past the 0.35 cap.
	store.influence["ELON"] = [2]float64{10, 20}
	scorer := &fakeScorer{}
	auditor := &fakeAuditor{}
	g := newGateway(store, scorer, auditor)

	raw, sig := signedPayload(t, baseEvent("77777777-7777-7777-7777-777777777777", 8))
	res, err := g.IngestEvent(context.Background(), raw, sig)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Outcome != PendingReview {
		t.Fatalf("outcome = %v, want PendingReview", res.Outcome)
	}
	if len(scorer.applied) != 0 {
		t.Error("rule-2 trip must not apply the score")
	}
}
