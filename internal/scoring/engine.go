// Package scoring maintains one reality score per symbol (§4.2):
// lazy exponential decay toward neutral, per-event impact capping, and
// EWMA-smoothed commits, each symbol's mutations totally ordered
// through a dedicated critical-region goroutine while different
// symbols proceed fully in parallel.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/internal/config"
	"realitymarket/pkg/types"
)

// ChangeListener is notified after every committed score mutation, in
// order to trigger a Blender pass (§4.4 "Triggers"). Called from
// inside the symbol's critical region, after persistence succeeds.
type ChangeListener func(symbol string, score types.Score, change types.ScoreChange)

// symbolSlot serializes all mutations for one symbol through a single
// goroutine reading from jobs — the critical region of §5, generalized
// from the teacher's one-goroutine-per-traded-market pattern to
// one-goroutine-per-scored-symbol.
type symbolSlot struct {
	jobs chan func()
	done chan struct{}
}

// Engine owns one symbolSlot per symbol seen so far, created on demand.
type Engine struct {
	cfg    config.ScoringConfig
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	slots     map[string]*symbolSlot
	listeners []ChangeListener
}

// New creates a Scoring Engine over store, using cfg's named
// constants (TAU, NEUTRAL, DELTA_CAP, EWMA_ALPHA).
func New(cfg config.ScoringConfig, store Store, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "scoring"),
		now:    time.Now,
		slots:  make(map[string]*symbolSlot),
	}
}

// OnChange registers a listener invoked after each committed mutation.
// Not safe to call concurrently with Apply/Read.
func (e *Engine) OnChange(fn ChangeListener) {
	e.listeners = append(e.listeners, fn)
}

// Read returns the current, lazily-decayed score for symbol without
// persisting anything — "a pure read must return the decayed value
// without persisting the decay" (§4.2a), and two consecutive reads
// with no intervening write return the same value (§8 law).
func (e *Engine) Read(ctx context.Context, symbol string) (types.Score, error) {
	row, err := e.store.GetScore(ctx, symbol)
	if err != nil {
		return types.Score{}, err
	}
	row.RealityScore = Decay(row.RealityScore, row.LastUpdated, e.now(), e.cfg.Tau, e.cfg.Neutral)
	return row, nil
}

// Apply runs the full (read, decay, cap, EWMA, persist, emit
// ScoreChange) critical-region step for symbol, driven by event
// eventID's impact_points and num_related_docs. It is totally ordered
// per symbol and runs concurrently across distinct symbols.
func (e *Engine) Apply(ctx context.Context, symbol, eventID string, impactPoints float64, numRelatedDocs int) (types.Score, types.ScoreChange, error) {
	type result struct {
		score  types.Score
		change types.ScoreChange
		err    error
	}
	resultCh := make(chan result, 1)

	slot := e.slotFor(symbol)
	job := func() {
		score, change, err := e.apply(ctx, symbol, eventID, impactPoints, numRelatedDocs)
		resultCh <- result{score, change, err}
	}

	select {
	case slot.jobs <- job:
	case <-ctx.Done():
		return types.Score{}, types.ScoreChange{}, ctx.Err()
	}

	select {
	case r := <-resultCh:
		return r.score, r.change, r.err
	case <-ctx.Done():
		return types.Score{}, types.ScoreChange{}, ctx.Err()
	}
}

// apply performs the critical-region body. Only ever called on a
// symbol's own slot goroutine, so no additional locking is needed here
// beyond the store's own atomicity.
func (e *Engine) apply(ctx context.Context, symbol, eventID string, impactPoints float64, numRelatedDocs int) (types.Score, types.ScoreChange, error) {
	now := e.now()

	current, err := e.store.GetScore(ctx, symbol)
	if err != nil {
		return types.Score{}, types.ScoreChange{}, fmt.Errorf("read score for %s: %w", symbol, err)
	}

	decayed := Decay(current.RealityScore, current.LastUpdated, now, e.cfg.Tau, e.cfg.Neutral)
	capped := Cap(impactPoints, e.cfg.DeltaCap)
	newScore := EWMA(decayed, capped, e.cfg.EWMAAlpha)
	newConfidence := NextConfidence(current.Confidence, numRelatedDocs)

	updated := types.Score{
		Symbol:       symbol,
		RealityScore: newScore,
		FinalPrice:   current.FinalPrice, // Blender owns FinalPrice; left untouched here.
		Confidence:   newConfidence,
		LastUpdated:  now,
	}
	change := types.ScoreChange{
		Symbol:    symbol,
		EventID:   eventID,
		OldScore:  decayed,
		NewScore:  newScore,
		Delta:     newScore - decayed,
		Timestamp: now,
	}

	// "If persistence fails, the event must remain processed=false and
	// no ScoreChange or broadcast is emitted" (§4.2 Failure) — we simply
	// propagate the error; the caller (ingest) controls processed.
	if err := e.store.SaveScore(ctx, updated, change); err != nil {
		return types.Score{}, types.ScoreChange{}, apperr.Wrap(apperr.Transient, "persist score", err)
	}

	e.logger.Info("score updated",
		"symbol", symbol, "event_id", eventID,
		"old", decayed, "new", newScore, "delta", change.Delta)

	for _, fn := range e.listeners {
		fn(symbol, updated, change)
	}

	return updated, change, nil
}

func (e *Engine) slotFor(symbol string) *symbolSlot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.slots[symbol]; ok {
		return s
	}
	s := &symbolSlot{
		jobs: make(chan func(), 64),
		done: make(chan struct{}),
	}
	e.slots[symbol] = s
	go s.run()
	return s
}

func (s *symbolSlot) run() {
	defer close(s.done)
	for job := range s.jobs {
		job()
	}
}

// Close stops every symbol's critical-region goroutine. Call after all
// in-flight Apply calls have returned.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.slots {
		close(s.jobs)
		<-s.done
	}
}
