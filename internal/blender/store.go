package blender

import (
	"context"

	"realitymarket/pkg/types"
)

// InstrumentStore resolves an instrument's weights and price bounds.
type InstrumentStore interface {
	GetInstrument(ctx context.Context, symbol string) (types.Instrument, error)
}

// ScoreStore is the Score-row slice the Blender needs: the current
// reality_score/final_price to blend from, and the place to persist a
// committed final_price. Blend passes run on the Blender's own
// per-symbol runner, not inside the Scoring Engine's critical region;
// SaveFinalPrice writes only final_price, so it does not overwrite the
// Scoring Engine's reality_score/confidence writes.
type ScoreStore interface {
	GetScore(ctx context.Context, symbol string) (types.Score, error)
	SaveFinalPrice(ctx context.Context, symbol string, finalPrice float64) error
}

// MarketSource supplies the market side of the blend. available is
// false when there is no book, no resting order, and no prior trade
// for symbol (§4.4 "If the market side is unavailable"), or when the
// lookup exceeds its bounded timeout (§5 "Cancellation & timeouts").
type MarketSource interface {
	MarketPrice(ctx context.Context, symbol string) (price float64, available bool, err error)
}
