package blender

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"realitymarket/internal/config"
	"realitymarket/pkg/types"
)

type fakeInstruments struct {
	inst types.Instrument
}

func (f *fakeInstruments) GetInstrument(_ context.Context, symbol string) (types.Instrument, error) {
	return f.inst, nil
}

type fakeScores struct {
	mu    sync.Mutex
	score types.Score
	saves int
}

func (f *fakeScores) GetScore(_ context.Context, symbol string) (types.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.score, nil
}

func (f *fakeScores) SaveFinalPrice(_ context.Context, symbol string, finalPrice float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.score.FinalPrice = finalPrice
	f.saves++
	return nil
}

type blockingSource struct {
	release chan struct{}
	calls   int32
}

func (s *blockingSource) MarketPrice(_ context.Context, symbol string) (float64, bool, error) {
	atomic.AddInt32(&s.calls, 1)
	<-s.release
	return 90, true, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTriggerCoalescesConcurrentPasses(t *testing.T) {
	t.Parallel()

	instruments := &fakeInstruments{inst: types.Instrument{
		Symbol: "XYZ", MarketWeight: 0.6, RealityWeight: 0.4, MinPrice: 0, MaxPrice: 100,
	}}
	scores := &fakeScores{score: types.Score{Symbol: "XYZ", RealityScore: 50, FinalPrice: 50}}
	source := &blockingSource{release: make(chan struct{})}

	var updates int32
	e := New(config.BlenderConfig{EWMAAlpha: 0.25}, instruments, scores, source, discardLogger())
	e.OnUpdate(func(u types.FinalUpdate) { atomic.AddInt32(&updates, 1) })

	ctx := context.Background()
	e.Trigger(ctx, "XYZ")
	time.Sleep(20 * time.Millisecond)
	// A pass is now blocked inside MarketPrice; these triggers must
	// collapse into at most one more pass rather than stacking up.
	for i := 0; i < 10; i++ {
		e.Trigger(ctx, "XYZ")
	}
	close(source.release)

	deadline := time.After(2 * time.Second)
	for {
		if atomic.LoadInt32(&updates) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for coalesced pass, updates=%d", atomic.LoadInt32(&updates))
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Give any further (incorrect) extra passes a chance to land before
	// asserting the count stayed bounded.
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&updates); got != 2 {
		t.Fatalf("updates = %d, want exactly 2 (one in-flight + one coalesced)", got)
	}
}
