// Package matching implements the Matching Engine (§4.3): one
// in-memory limit order book per symbol, created on demand, matched by
// price-time priority.
package matching

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"realitymarket/internal/apperr"
	"realitymarket/pkg/types"
)

// priceLevel is one price's FIFO queue of resting orders, iterated
// oldest-first for time priority.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // of *types.Order
}

// orderLocation lets CancelOrder and fill bookkeeping find an order's
// queue position in O(1) without scanning the ladder.
type orderLocation struct {
	side  types.Side
	level *priceLevel
	elem  *list.Element
}

// ladder is one side (bids or asks) of a book: a set of price levels
// plus their sort order. better(a, b) reports whether price a has
// priority over price b on this side (descending for bids, ascending
// for asks).
type ladder struct {
	levels map[string]*priceLevel
	prices []decimal.Decimal // kept sorted best-first per better()
	better func(a, b decimal.Decimal) bool
}

func newLadder(better func(a, b decimal.Decimal) bool) *ladder {
	return &ladder{levels: make(map[string]*priceLevel), better: better}
}

func (l *ladder) best() (*priceLevel, bool) {
	if len(l.prices) == 0 {
		return nil, false
	}
	return l.levels[l.prices[0].String()], true
}

func (l *ladder) getOrCreate(price decimal.Decimal) *priceLevel {
	key := price.String()
	if lvl, ok := l.levels[key]; ok {
		return lvl
	}
	lvl := &priceLevel{price: price, orders: list.New()}
	l.levels[key] = lvl

	idx := sort.Search(len(l.prices), func(i int) bool {
		return l.better(price, l.prices[i]) || price.Equal(l.prices[i])
	})
	l.prices = append(l.prices, decimal.Zero)
	copy(l.prices[idx+1:], l.prices[idx:])
	l.prices[idx] = price
	return lvl
}

func (l *ladder) removeIfEmpty(lvl *priceLevel) {
	if lvl.orders.Len() > 0 {
		return
	}
	key := lvl.price.String()
	delete(l.levels, key)
	for i, p := range l.prices {
		if p.Equal(lvl.price) {
			l.prices = append(l.prices[:i], l.prices[i+1:]...)
			break
		}
	}
}

// depthLevel is one row of a Depth(k) response (§4.3 "Snapshot").
type depthLevel struct {
	Price      decimal.Decimal `json:"price"`
	TotalQty   decimal.Decimal `json:"total_qty"`
	OrderCount int             `json:"order_count"`
}

// Book is a single symbol's limit order book. All mutation happens
// under mu — the book's critical region (§5): validate, match loop,
// persist, emit, all inside one lock acquisition per operation.
type Book struct {
	mu     sync.Mutex
	symbol string

	bids *ladder // best = highest price first
	asks *ladder // best = lowest price first

	orderIndex map[string]*orderLocation
	orders     map[string]*types.Order

	lastTradePrice decimal.Decimal
	hasLastTrade   bool
}

// NewBook creates an empty book for symbol.
func NewBook(symbol string) *Book {
	return &Book{
		symbol: symbol,
		bids: newLadder(func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }),
		asks: newLadder(func(a, b decimal.Decimal) bool { return a.LessThan(b) }),
		orderIndex: make(map[string]*orderLocation),
		orders:     make(map[string]*types.Order),
	}
}

// validate checks the admission invariants of §4.3 step 1.
func validate(o *types.Order) error {
	if o.Qty.Sign() <= 0 {
		return apperr.New(apperr.Validation, "qty must be > 0")
	}
	switch o.Type {
	case types.Limit:
		if !o.HasPrice || o.Price.Sign() <= 0 || o.Price.GreaterThan(decimal.NewFromInt(100)) {
			return apperr.New(apperr.Validation, "limit order requires price in (0, 100]")
		}
	case types.Market:
		if o.HasPrice {
			return apperr.New(apperr.Validation, "market order must not carry a price")
		}
	default:
		return apperr.New(apperr.Validation, "unknown order type")
	}
	return nil
}

// PlaceOrder admits o into the book: matches it against the opposite
// ladder by price-time priority, then rests any remainder (§4.3).
func (b *Book) PlaceOrder(o *types.Order) ([]types.Trade, []types.Order, error) {
	if err := validate(o); err != nil {
		return nil, nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	o.Status = types.StatusOpen

	var opposite *ladder
	var same *ladder
	if o.Side == types.Buy {
		opposite, same = b.asks, b.bids
	} else {
		opposite, same = b.bids, b.asks
	}

	trades, makers := b.match(o, opposite)

	if o.Remaining().Sign() > 0 {
		if o.Type == types.Market {
			// "Market order that cannot be fully filled has its remainder
			// cancelled; no resting" (§4.3 step 4).
			o.Status = types.StatusCancelled
		} else {
			b.rest(o, same)
		}
	}

	b.orders[o.OrderID] = o
	return trades, makers, nil
}

// match runs the price-time-priority matching loop against opposite,
// mutating o and every maker it touches in place and returning the
// resulting trades plus a snapshot of every maker order it touched
// (for the caller's persistence step — §4.3 "Persistence discipline").
// o is never inserted into the book by this method.
func (b *Book) match(o *types.Order, opposite *ladder) ([]types.Trade, []types.Order) {
	var trades []types.Trade
	var makers []types.Order

	for o.Remaining().Sign() > 0 {
		lvl, ok := opposite.best()
		if !ok {
			break
		}

		if o.Type == types.Limit {
			if o.Side == types.Buy && o.Price.LessThan(lvl.price) {
				break
			}
			if o.Side == types.Sell && o.Price.GreaterThan(lvl.price) {
				break
			}
		}

		for o.Remaining().Sign() > 0 {
			front := lvl.orders.Front()
			if front == nil {
				break
			}
			maker := front.Value.(*types.Order)

			tradeQty := decimal.Min(o.Remaining(), maker.Remaining())
			maker.Filled = maker.Filled.Add(tradeQty)
			o.Filled = o.Filled.Add(tradeQty)

			updateStatus(maker)
			updateStatus(o)

			trade := types.Trade{
				TradeID:   uuid.NewString(),
				Symbol:    b.symbol,
				Price:     lvl.price,
				Qty:       tradeQty,
				Timestamp: time.Now(),
			}
			if o.Side == types.Buy {
				trade.BuyOrderID, trade.SellOrderID = o.OrderID, maker.OrderID
			} else {
				trade.BuyOrderID, trade.SellOrderID = maker.OrderID, o.OrderID
			}
			trades = append(trades, trade)
			b.lastTradePrice, b.hasLastTrade = lvl.price, true

			makers = append(makers, *maker)

			if maker.Status.Terminal() {
				lvl.orders.Remove(front)
				delete(b.orderIndex, maker.OrderID)
			} else {
				// Maker partially filled; incoming order must now be filled.
				break
			}
		}

		if lvl.orders.Len() == 0 {
			opposite.removeIfEmpty(lvl)
		}
		if lvl.orders.Len() > 0 {
			// Maker at this level still has remainder: the aggressor's
			// remaining must be 0 (loop condition will end next check).
			break
		}
	}

	return trades, makers
}

// rest inserts o at the tail of its price level's FIFO queue.
func (b *Book) rest(o *types.Order, same *ladder) {
	lvl := same.getOrCreate(o.Price)
	elem := lvl.orders.PushBack(o)
	b.orderIndex[o.OrderID] = &orderLocation{side: o.Side, level: lvl, elem: elem}
}

func updateStatus(o *types.Order) {
	switch {
	case o.Remaining().Sign() == 0:
		o.Status = types.StatusFilled
	case o.Filled.Sign() > 0:
		o.Status = types.StatusPartial
	default:
		o.Status = types.StatusOpen
	}
}

// CancelOrder removes order_id from its resting price level,
// idempotently. Terminal-state cancel is a no-op returning the
// current status (§4.3 "Cancel").
func (b *Book) CancelOrder(orderID string) (types.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return types.Order{}, apperr.New(apperr.NotFound, "unknown order")
	}
	if o.Status.Terminal() {
		return *o, nil
	}

	loc, ok := b.orderIndex[orderID]
	if ok {
		loc.level.orders.Remove(loc.elem)
		delete(b.orderIndex, orderID)
		same := b.bids
		if loc.side == types.Sell {
			same = b.asks
		}
		same.removeIfEmpty(loc.level)
	}
	o.Status = types.StatusCancelled
	return *o, nil
}

// GetOrder returns a copy of the order's current state, if known.
func (b *Book) GetOrder(orderID string) (types.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *o, true
}

// TopOfBook returns the best bid, best ask, and midpoint per §4.3's
// Snapshot definition.
func (b *Book) TopOfBook() (bestBid, bestAsk *decimal.Decimal, mid *decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if lvl, ok := b.bids.best(); ok {
		p := lvl.price
		bestBid = &p
	}
	if lvl, ok := b.asks.best(); ok {
		p := lvl.price
		bestAsk = &p
	}
	if bestBid != nil && bestAsk != nil {
		m := bestBid.Add(*bestAsk).Div(decimal.NewFromInt(2))
		mid = &m
	}
	return
}

// MarketPrice derives the market price per §4.3's fallback chain:
// mid, else best_bid, else best_ask, else last trade, else 50.0.
func (b *Book) MarketPrice() decimal.Decimal {
	b.mu.Lock()
	bestBid, ok1 := b.bids.best()
	bestAsk, ok2 := b.asks.best()
	lastTrade, hasLastTrade := b.lastTradePrice, b.hasLastTrade
	b.mu.Unlock()

	switch {
	case ok1 && ok2:
		return bestBid.price.Add(bestAsk.price).Div(decimal.NewFromInt(2))
	case ok1:
		return bestBid.price
	case ok2:
		return bestAsk.price
	case hasLastTrade:
		return lastTrade
	default:
		return decimal.NewFromInt(50)
	}
}

// HasMarketData reports whether the book has anything to derive a
// market price from: a resting order on either side, or a prior trade
// (§4.4 "If the market side is unavailable").
func (b *Book) HasMarketData() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, hasBid := b.bids.best()
	_, hasAsk := b.asks.best()
	return hasBid || hasAsk || b.hasLastTrade
}

// Depth returns the top-k levels on each side, aggregated as
// (price, total_remaining_qty, order_count) per §4.3's Snapshot.
func (b *Book) Depth(k int) (bids, asks []depthLevel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return depthOf(b.bids, k), depthOf(b.asks, k)
}

func depthOf(l *ladder, k int) []depthLevel {
	var out []depthLevel
	for i, p := range l.prices {
		if k > 0 && i >= k {
			break
		}
		lvl := l.levels[p.String()]
		total := decimal.Zero
		count := 0
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			total = total.Add(e.Value.(*types.Order).Remaining())
			count++
		}
		out = append(out, depthLevel{Price: p, TotalQty: total, OrderCount: count})
	}
	return out
}

// Pressure computes the resting-order volume aggregates of §4.3:
// net_pressure = sum(remaining bids) - sum(remaining asks); buy/sell
// volume are the same per-side totals.
func (b *Book) Pressure() (buyVolume, sellVolume, netPressure decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buyVolume = sumRemaining(b.bids)
	sellVolume = sumRemaining(b.asks)
	netPressure = buyVolume.Sub(sellVolume)
	return
}

func sumRemaining(l *ladder) decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.prices {
		lvl := l.levels[p.String()]
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			total = total.Add(e.Value.(*types.Order).Remaining())
		}
	}
	return total
}

// Restore inserts a recovered open/partial order directly at its price
// level without re-matching (§4.3 "Recovery"). Callers must replay this
// symbol's recovered orders in created_at ascending order.
func (b *Book) Restore(o *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.orders[o.OrderID] = o
	if o.Status.Terminal() {
		return
	}
	same := b.bids
	if o.Side == types.Sell {
		same = b.asks
	}
	b.rest(o, same)
}
