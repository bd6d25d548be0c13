package matching

import (
	"context"

	"realitymarket/pkg/types"
)

// Store is the persistence surface the Matching Engine needs. One
// PersistPlacement call covers "persist the incoming order, persist
// every trade, update the filled/status of each maker affected" as a
// single transactional unit (§4.3 "Persistence discipline").
type Store interface {
	PersistPlacement(ctx context.Context, order types.Order, trades []types.Trade, makers []types.Order) error
	PersistCancel(ctx context.Context, order types.Order) error

	// LoadOpenOrders returns every order with status open or partial,
	// ordered by created_at ascending, for crash recovery (§4.3 "Recovery").
	LoadOpenOrders(ctx context.Context) ([]types.Order, error)
}
