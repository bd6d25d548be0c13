package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"realitymarket/internal/apperr"
	"realitymarket/pkg/types"
)

// TradeListener is notified after every committed trade, to drive a
// Blender pass (§4.4 "Triggers": "a trade commits for symbol s").
type TradeListener func(trade types.Trade)

// Engine owns one Book per symbol, created on demand, and the
// persistence discipline around each PlaceOrder/CancelOrder call.
type Engine struct {
	store  Store
	logger *slog.Logger

	mu    sync.RWMutex
	books map[string]*Book

	listeners []TradeListener
}

// New creates a Matching Engine over store.
func New(store Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With("component", "matching"),
		books:  make(map[string]*Book),
	}
}

// OnTrade registers a listener invoked after each committed trade.
func (e *Engine) OnTrade(fn TradeListener) {
	e.listeners = append(e.listeners, fn)
}

func (e *Engine) bookFor(symbol string) *Book {
	e.mu.RLock()
	b, ok := e.books[symbol]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[symbol]; ok {
		return b
	}
	b = NewBook(symbol)
	e.books[symbol] = b
	return b
}

// PlaceOrder admits an order, matches it, and persists the result
// before returning (§4.3 "a crash between matching and persistence
// invalidates the in-memory state... so the persistence step must
// complete before the caller sees success").
func (e *Engine) PlaceOrder(ctx context.Context, o types.Order) (types.Order, []types.Trade, error) {
	book := e.bookFor(o.Symbol)

	trades, makers, err := book.PlaceOrder(&o)
	if err != nil {
		return types.Order{}, nil, err
	}

	if err := e.store.PersistPlacement(ctx, o, trades, makers); err != nil {
		return types.Order{}, nil, apperr.Wrap(apperr.Transient, "persist placement", err)
	}

	e.logger.Info("order placed", "symbol", o.Symbol, "order_id", o.OrderID,
		"status", o.Status, "trades", len(trades))

	for _, t := range trades {
		for _, fn := range e.listeners {
			fn(t)
		}
	}

	return o, trades, nil
}

// CancelOrder cancels order_id on symbol's book (§4.3 "Cancel").
func (e *Engine) CancelOrder(ctx context.Context, symbol, orderID string) (types.Order, error) {
	book := e.bookFor(symbol)

	o, err := book.CancelOrder(orderID)
	if err != nil {
		return types.Order{}, err
	}

	if err := e.store.PersistCancel(ctx, o); err != nil {
		return types.Order{}, apperr.Wrap(apperr.Transient, "persist cancel", err)
	}
	return o, nil
}

// Snapshot is the response shape for GET /market/{symbol}/snapshot.
type Snapshot struct {
	Symbol  string       `json:"symbol"`
	BestBid *string      `json:"best_bid"`
	BestAsk *string      `json:"best_ask"`
	Mid     *string      `json:"mid"`
	Bids    []depthLevel `json:"bids"`
	Asks    []depthLevel `json:"asks"`
}

// Snapshot returns top-of-book plus depth for symbol (§6 "Matching surface").
func (e *Engine) Snapshot(symbol string, depth int) Snapshot {
	book := e.bookFor(symbol)
	bid, ask, mid := book.TopOfBook()
	bids, asks := book.Depth(depth)

	snap := Snapshot{Symbol: symbol, Bids: bids, Asks: asks}
	if bid != nil {
		s := bid.String()
		snap.BestBid = &s
	}
	if ask != nil {
		s := ask.String()
		snap.BestAsk = &s
	}
	if mid != nil {
		s := mid.String()
		snap.Mid = &s
	}
	return snap
}

// Pressure is the response shape for GET /market/{symbol}/pressure.
// Available reports whether the book had any data to derive
// MarketPrice from (§4.4's fallback contract travels over the wire too
// so a remote Blender can tell "50.0 by convention" from "50.0 because
// the book happens to be there").
type Pressure struct {
	Symbol      string  `json:"symbol"`
	MarketPrice float64 `json:"market_price"`
	Available   bool    `json:"available"`
	BuyVolume   float64 `json:"buy_volume"`
	SellVolume  float64 `json:"sell_volume"`
	NetPressure float64 `json:"net_pressure"`
}

// Pressure returns the order-book imbalance signal for symbol (§4.3).
func (e *Engine) Pressure(symbol string) Pressure {
	book := e.bookFor(symbol)
	buy, sell, net := book.Pressure()
	price := book.MarketPrice()
	available := book.HasMarketData()

	buyF, _ := buy.Float64()
	sellF, _ := sell.Float64()
	netF, _ := net.Float64()
	priceF, _ := price.Float64()

	return Pressure{
		Symbol:      symbol,
		MarketPrice: priceF,
		Available:   available,
		BuyVolume:   buyF,
		SellVolume:  sellF,
		NetPressure: netF,
	}
}

// MarketPriceOf returns symbol's derived market price and whether the
// book has any data to derive it from, for in-process Blender wiring
// (§4.4 "Blend").
func (e *Engine) MarketPriceOf(symbol string) (price float64, available bool) {
	book := e.bookFor(symbol)
	if !book.HasMarketData() {
		return 0, false
	}
	p, _ := book.MarketPrice().Float64()
	return p, true
}

// Recover rebuilds every symbol's book from persisted open/partial
// orders, replayed in created_at ascending order without re-matching
// (§4.3 "Recovery"). Must be called before the engine accepts traffic.
// Each symbol's orders only ever touch that symbol's own book, so the
// per-symbol replays run concurrently; the first one to fail cancels
// the rest.
func (e *Engine) Recover(ctx context.Context) error {
	orders, err := e.store.LoadOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}

	bySymbol := make(map[string][]types.Order)
	for _, o := range orders {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o)
	}

	g, _ := errgroup.WithContext(ctx)
	for symbol, symbolOrders := range bySymbol {
		symbolOrders := symbolOrders
		sort.Slice(symbolOrders, func(i, j int) bool {
			return symbolOrders[i].CreatedAt.Before(symbolOrders[j].CreatedAt)
		})
		book := e.bookFor(symbol)
		g.Go(func() error {
			for i := range symbolOrders {
				book.Restore(&symbolOrders[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("recover order books: %w", err)
	}

	e.logger.Info("recovery complete", "orders_restored", len(orders), "symbols", len(bySymbol))
	return nil
}
