package httpapi

import (
	"context"

	"realitymarket/internal/matching"
	"realitymarket/pkg/types"
)

// MatchEngine is the Matching Engine surface the matching service's
// handlers drive.
type MatchEngine interface {
	PlaceOrder(ctx context.Context, o types.Order) (types.Order, []types.Trade, error)
	CancelOrder(ctx context.Context, symbol, orderID string) (types.Order, error)
	Snapshot(symbol string, depth int) matching.Snapshot
	Pressure(symbol string) matching.Pressure
}
