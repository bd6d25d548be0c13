package scoring

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"realitymarket/internal/apperr"
	"realitymarket/internal/config"
	"realitymarket/pkg/types"
)

type fakeStore struct {
	mu      sync.Mutex
	scores  map[string]types.Score
	changes []types.ScoreChange
}

func newFakeStore() *fakeStore {
	return &fakeStore{scores: make(map[string]types.Score)}
}

func (f *fakeStore) seed(symbol string, score types.Score) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[symbol] = score
}

func (f *fakeStore) GetScore(ctx context.Context, symbol string) (types.Score, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.scores[symbol]
	if !ok {
		return types.Score{}, apperr.New(apperr.NotFound, "no such instrument")
	}
	return row, nil
}

func (f *fakeStore) SaveScore(ctx context.Context, score types.Score, change types.ScoreChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[score.Symbol] = score
	f.changes = append(f.changes, change)
	return nil
}

func testCfg() config.ScoringConfig {
	return config.ScoringConfig{
		Tau:                         48 * time.Hour,
		Neutral:                     50,
		DeltaCap:                    20,
		EWMAAlpha:                   0.25,
		SuspiciousDelta:             15,
		MaxSingleSourceInfluence24h: 0.35,
		RollingWindowHours:          24,
	}
}

func TestApplyScenario1FreshPositiveEvent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	now := time.Now()
	store.seed("ELON", types.Score{Symbol: "ELON", RealityScore: 50, FinalPrice: 50, LastUpdated: now})

	eng := New(testCfg(), store, discardLogger())
	eng.now = func() time.Time { return now }

	score, change, err := eng.Apply(context.Background(), "ELON", "evt-1", 10, 1)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if math.Abs(score.RealityScore-52.5) > 1e-9 {
		t.Errorf("reality score = %v, want 52.5", score.RealityScore)
	}
	if math.Abs(change.Delta-2.5) > 1e-9 {
		t.Errorf("delta = %v, want 2.5", change.Delta)
	}

	eng.Close()
}

func TestApplyIsSerializedPerSymbol(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	now := time.Now()
	store.seed("AAA", types.Score{Symbol: "AAA", RealityScore: 50, LastUpdated: now})

	eng := New(testCfg(), store, discardLogger())
	eng.now = func() time.Time { return now }

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := eng.Apply(context.Background(), "AAA", "evt", 1, 1)
			if err != nil {
				t.Errorf("Apply: %v", err)
			}
		}()
	}
	wg.Wait()
	eng.Close()

	if len(store.changes) != n {
		t.Errorf("expected %d score changes, got %d", n, len(store.changes))
	}
}

func TestReadDoesNotPersist(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	now := time.Now()
	last := now.Add(-48 * time.Hour)
	store.seed("BBB", types.Score{Symbol: "BBB", RealityScore: 70, LastUpdated: last})

	eng := New(testCfg(), store, discardLogger())
	eng.now = func() time.Time { return now }

	first, err := eng.Read(context.Background(), "BBB")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	second, err := eng.Read(context.Background(), "BBB")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.RealityScore != second.RealityScore {
		t.Errorf("consecutive reads diverged: %v vs %v", first.RealityScore, second.RealityScore)
	}

	persisted, _ := store.GetScore(context.Background(), "BBB")
	if persisted.RealityScore != 70 {
		t.Errorf("Read must not persist the decayed value; store still has %v", persisted.RealityScore)
	}
}
