package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"realitymarket/internal/apperr"
	"realitymarket/internal/broadcast"
	"realitymarket/pkg/types"
)

// MatchHandlers holds the handler dependencies for the Matching
// service process (§6 "Matching surface"). hub is non-nil only when
// matchd runs standalone and must serve its own trade_event/
// market_update subscribers (§4.4); in the combined -with-matching
// process that channel rides marketd's hub instead.
type MatchHandlers struct {
	engine   MatchEngine
	hub      *broadcast.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewMatchHandlers creates the handler set for cmd/matchd. hub may be
// nil when this handler set is mounted onto marketd's own server.
func NewMatchHandlers(engine MatchEngine, hub *broadcast.Hub, logger *slog.Logger) *MatchHandlers {
	return &MatchHandlers{
		engine:   engine,
		hub:      hub,
		logger:   logger.With("component", "match-handlers"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// HandleWebSocket upgrades onto the standalone matchd's own
// trade_event/market_update subscription channel.
func (h *MatchHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeError(w, h.logger, apperr.New(apperr.NotFound, "subscription channel not hosted by this process"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	broadcast.NewClient(h.hub, conn)
}

func (h *MatchHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type placeOrderRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Type   string  `json:"type"`
	Price  *string `json:"price,omitempty"`
	Qty    string  `json:"qty"`
	UserID string  `json:"user_id"`
}

type orderResponse struct {
	Order  types.Order   `json:"order"`
	Trades []types.Trade `json:"trades"`
}

// HandlePlaceOrder implements `POST /orders` (§6).
func (h *MatchHandlers) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.Validation, "malformed order payload", err))
		return
	}

	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.Validation, "qty must be a decimal number", err))
		return
	}

	o := types.Order{
		OrderID:   uuid.NewString(),
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Side:      types.Side(req.Side),
		Type:      types.OrderType(req.Type),
		Qty:       qty,
		Status:    types.StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	if req.Price != nil {
		price, err := decimal.NewFromString(*req.Price)
		if err != nil {
			writeError(w, h.logger, apperr.Wrap(apperr.Validation, "price must be a decimal number", err))
			return
		}
		o.Price = price
		o.HasPrice = true
	}

	placed, trades, err := h.engine.PlaceOrder(r.Context(), o)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{Order: placed, Trades: trades})
}

// HandleCancelOrder implements `POST /cancel?symbol=&order_id=` (§6).
func (h *MatchHandlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	orderID := r.URL.Query().Get("order_id")

	o, err := h.engine.CancelOrder(r.Context(), symbol, orderID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// HandleSnapshot implements `GET /market/{symbol}/snapshot` (§6).
func (h *MatchHandlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	depth := 10
	if v := r.URL.Query().Get("depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			depth = n
		}
	}
	writeJSON(w, http.StatusOK, h.engine.Snapshot(r.PathValue("symbol"), depth))
}

// HandlePressure implements `GET /market/{symbol}/pressure` (§6).
func (h *MatchHandlers) HandlePressure(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Pressure(r.PathValue("symbol")))
}
