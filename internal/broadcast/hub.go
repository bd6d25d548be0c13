// Package broadcast fans out the five push-channel message types of
// §4.4 (reality_update, market_update, trade_event, final_update,
// audit_event) to WebSocket subscribers. Delivery is best-effort: a
// slow client is dropped rather than allowed to block the hub.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realitymarket/pkg/types"
)

// Hub manages connected subscribers and broadcasts envelopes to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	mu         sync.RWMutex
	logger     *slog.Logger
}

// Client is one connected subscriber.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a hub. Call Run in its own goroutine before accepting
// connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
		logger:     logger.With("component", "broadcast-hub"),
	}
}

// Run is the hub's main loop; it owns the clients map exclusively.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("subscriber connected", "count", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("subscriber disconnected", "count", count)

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow consumer: drop rather than block the hub
					// (§4.4 "subscribers may drop and reconnect; no
					// replay guarantee").
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// publish wraps data in the message type's envelope and enqueues it
// for broadcast, dropping it if the broadcast channel is saturated
// rather than blocking the caller.
func (h *Hub) publish(msgType types.MessageType, data any) {
	env := types.Envelope{Type: msgType, Data: data}
	payload, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal envelope", "type", msgType, "error", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", msgType)
	}
}

// RealityUpdate publishes a reality_update message.
func (h *Hub) RealityUpdate(u types.RealityUpdate) { h.publish(types.MsgRealityUpdate, u) }

// MarketUpdate publishes a market_update message.
func (h *Hub) MarketUpdate(u types.MarketUpdate) { h.publish(types.MsgMarketUpdate, u) }

// TradeEvent publishes a trade_event message.
func (h *Hub) TradeEvent(e types.TradeEvent) { h.publish(types.MsgTradeEvent, e) }

// FinalUpdate publishes a final_update message.
func (h *Hub) FinalUpdate(u types.FinalUpdate) { h.publish(types.MsgFinalUpdate, u) }

// AuditEvent publishes an audit_event message.
func (h *Hub) AuditEvent(e types.AuditEvent) { h.publish(types.MsgAuditEvent, e) }

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("websocket error", "error", err)
			}
			break
		}
		// Subscribers are read-only; any inbound frame is ignored.
	}
}

// NewClient registers conn with hub and starts its read/write pumps.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}
