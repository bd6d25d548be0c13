package blender

import "context"

// localSource reads market price directly from an in-process Matching
// Engine, used when both services are run combined (cmd/marketd
// -with-matching).
type localSource struct {
	engine interface {
		MarketPriceOf(symbol string) (price float64, available bool)
	}
}

// NewLocalSource wraps an in-process matching engine as a MarketSource.
func NewLocalSource(engine interface {
	MarketPriceOf(symbol string) (price float64, available bool)
}) MarketSource {
	return &localSource{engine: engine}
}

func (s *localSource) MarketPrice(_ context.Context, symbol string) (float64, bool, error) {
	price, available := s.engine.MarketPriceOf(symbol)
	return price, available, nil
}
