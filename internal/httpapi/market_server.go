package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"realitymarket/internal/broadcast"
	"realitymarket/internal/config"
)

// MarketServer runs the HTTP surface for the Ingest+Scoring+Blender
// service process: the ingest endpoint, the admin surface, the public
// read surface, and the subscription channel.
type MarketServer struct {
	hub      *broadcast.Hub
	handlers *MarketHandlers
	server   *http.Server
	logger   *slog.Logger
}

// NewMarketServer builds the process's mux and http.Server. matching is
// non-nil only for the single-binary `-with-matching` deployment, where
// the Matching surface (§6) is mounted alongside the ingest/admin/public
// routes instead of living on a separate matchd process.
func NewMarketServer(cfg config.HTTPConfig, hub *broadcast.Hub, handlers *MarketHandlers, matching *MatchHandlers, logger *slog.Logger) *MarketServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("POST /api/v1/reality/ingest", handlers.HandleIngest)

	mux.HandleFunc("POST /api/v1/admin/stocks", handlers.HandleCreateInstrument)
	mux.HandleFunc("GET /api/v1/admin/stocks", handlers.HandleListInstruments)
	mux.HandleFunc("GET /api/v1/admin/audits", handlers.HandleListAudits)
	mux.HandleFunc("POST /api/v1/admin/audits/{id}/approve", handlers.HandleApproveAudit)

	mux.HandleFunc("GET /api/v1/stocks", handlers.HandleListStocks)
	mux.HandleFunc("GET /api/v1/scores/{symbol}", handlers.HandleGetScore)
	mux.HandleFunc("GET /api/v1/scores/{symbol}/history", handlers.HandleScoreHistory)
	mux.HandleFunc("GET /api/v1/events/{symbol}", handlers.HandleListEvents)

	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	if matching != nil {
		mux.HandleFunc("POST /orders", matching.HandlePlaceOrder)
		mux.HandleFunc("POST /cancel", matching.HandleCancelOrder)
		mux.HandleFunc("GET /market/{symbol}/snapshot", matching.HandleSnapshot)
		mux.HandleFunc("GET /market/{symbol}/pressure", matching.HandlePressure)
	}

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &MarketServer{
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "market-server"),
	}
}

// Start runs the broadcast hub and serves until Stop is called.
func (s *MarketServer) Start() error {
	go s.hub.Run()

	s.logger.Info("market server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("market server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *MarketServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping market server")
	return s.server.Shutdown(ctx)
}
