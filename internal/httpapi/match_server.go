package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"realitymarket/internal/broadcast"
)

// MatchServer runs the HTTP surface for the standalone Matching
// service process, including its own subscription channel when hub is
// non-nil (§5's split-process deployment).
type MatchServer struct {
	hub      *broadcast.Hub
	handlers *MatchHandlers
	server   *http.Server
	logger   *slog.Logger
}

// NewMatchServer builds the matching process's mux and http.Server.
func NewMatchServer(addr string, hub *broadcast.Hub, handlers *MatchHandlers, logger *slog.Logger) *MatchServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("POST /orders", handlers.HandlePlaceOrder)
	mux.HandleFunc("POST /cancel", handlers.HandleCancelOrder)
	mux.HandleFunc("GET /market/{symbol}/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("GET /market/{symbol}/pressure", handlers.HandlePressure)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &MatchServer{hub: hub, handlers: handlers, server: server, logger: logger.With("component", "match-server")}
}

// Start runs the broadcast hub (if any) and serves until Stop is called.
func (s *MatchServer) Start() error {
	if s.hub != nil {
		go s.hub.Run()
	}

	s.logger.Info("match server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("match server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *MatchServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping match server")
	return s.server.Shutdown(ctx)
}
