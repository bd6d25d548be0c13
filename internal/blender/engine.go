// Package blender combines each symbol's reality score with its
// order-book market price into a final price, EWMA-smoothed and
// broadcast on every pass (§4.4).
package blender

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/internal/config"
	"realitymarket/pkg/types"
)

// UpdateListener is notified after every committed blend pass.
type UpdateListener func(update types.FinalUpdate)

// runner coalesces triggers for one symbol: if a pass is already in
// flight, a concurrent Trigger sets pending and returns immediately;
// the running pass re-runs once more before going idle (§4.4
// "Triggers... collapse into at most one subsequent pass").
type runner struct {
	mu      sync.Mutex
	running bool
	pending bool
}

// Engine runs Blend+EWMA passes per symbol under the instrument
// store's weights and bounds.
type Engine struct {
	cfg         config.BlenderConfig
	instruments InstrumentStore
	scores      ScoreStore
	market      MarketSource
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	runners   map[string]*runner
	listeners []UpdateListener
}

// New creates a Blender over the given stores and market source.
func New(cfg config.BlenderConfig, instruments InstrumentStore, scores ScoreStore, market MarketSource, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		instruments: instruments,
		scores:      scores,
		market:      market,
		logger:      logger.With("component", "blender"),
		now:         time.Now,
		runners:     make(map[string]*runner),
	}
}

// OnUpdate registers a listener invoked after each committed blend.
func (e *Engine) OnUpdate(fn UpdateListener) {
	e.listeners = append(e.listeners, fn)
}

// Trigger schedules a blend pass for symbol, coalescing with any pass
// already in flight for the same symbol. It returns without waiting
// for the pass to complete; errors are logged, not propagated, since
// triggers fire from listener callbacks with no caller to report to.
func (e *Engine) Trigger(ctx context.Context, symbol string) {
	r := e.runnerFor(symbol)

	r.mu.Lock()
	if r.running {
		r.pending = true
		r.mu.Unlock()
		return
	}
	r.running = true
	r.mu.Unlock()

	go e.runLoop(ctx, symbol, r)
}

func (e *Engine) runLoop(ctx context.Context, symbol string, r *runner) {
	for {
		if err := e.pass(ctx, symbol); err != nil {
			e.logger.Error("blend pass failed", "symbol", symbol, "error", err)
		}

		r.mu.Lock()
		if !r.pending {
			r.running = false
			r.mu.Unlock()
			return
		}
		r.pending = false
		r.mu.Unlock()
	}
}

// pass runs one blend for symbol: read instrument + score, derive
// market price, blend, EWMA-smooth, persist, emit (§4.4).
func (e *Engine) pass(ctx context.Context, symbol string) error {
	inst, err := e.instruments.GetInstrument(ctx, symbol)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "load instrument", err)
	}

	score, err := e.scores.GetScore(ctx, symbol)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "load score", err)
	}

	marketPrice, available, err := e.market.MarketPrice(ctx, symbol)
	if err != nil {
		return apperr.Wrap(apperr.Transient, "fetch market price", err)
	}

	raw := Blend(marketPrice, available, score.RealityScore, inst.MarketWeight, inst.RealityWeight, inst.MinPrice, inst.MaxPrice)
	finalPrice := EWMA(score.FinalPrice, raw, e.cfg.EWMAAlpha)
	finalPrice = clamp(finalPrice, inst.MinPrice, inst.MaxPrice)

	if err := e.scores.SaveFinalPrice(ctx, symbol, finalPrice); err != nil {
		return apperr.Wrap(apperr.Transient, "persist final price", err)
	}

	update := types.FinalUpdate{
		Symbol:     symbol,
		FinalPrice: finalPrice,
		Components: types.FinalComponents{
			Market:        marketPrice,
			Reality:       score.RealityScore,
			MarketWeight:  inst.MarketWeight,
			RealityWeight: inst.RealityWeight,
		},
		Timestamp: e.now(),
	}

	e.logger.Info("blend committed", "symbol", symbol, "final_price", finalPrice, "market_available", available)

	for _, fn := range e.listeners {
		fn(update)
	}
	return nil
}

func (e *Engine) runnerFor(symbol string) *runner {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runners[symbol]
	if !ok {
		r = &runner{}
		e.runners[symbol] = r
	}
	return r
}
