package scoring

import (
	"context"

	"realitymarket/pkg/types"
)

// Store is the persistence surface the Scoring Engine needs. The
// concrete implementation (internal/dbstore) satisfies this alongside
// the other engines' store interfaces; Scoring only depends on this
// narrow slice.
type Store interface {
	// GetScore returns the persisted Score row for symbol. Implementations
	// must return (types.Score{}, apperr.NotFound) if the instrument has
	// never been created.
	GetScore(ctx context.Context, symbol string) (types.Score, error)

	// SaveScore persists score and appends change as one atomic unit
	// (§4.2 "Ordering & atomicity"). eventID is empty for
	// administrative mutations that bypass the event pipeline.
	SaveScore(ctx context.Context, score types.Score, change types.ScoreChange) error
}
