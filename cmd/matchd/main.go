// Command matchd runs the standalone Matching Engine service process
// (§5 "Scheduling model"), exposing the order placement/cancellation
// and market snapshot/pressure surface (§6 "Matching surface") plus
// its own trade_event/market_update subscription channel (§4.4), for
// deployments that split the Matching Engine out of marketd rather
// than hosting it in-process via marketd's -with-matching flag.
//
// Wiring order: config → logger → database → Matching Engine (with
// order-book recovery replay) → broadcast hub → HTTP server. The
// Engine's OnTrade listener publishes both a trade_event and the
// resulting market_update for every committed trade.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realitymarket/internal/broadcast"
	"realitymarket/internal/config"
	"realitymarket/internal/dbstore"
	"realitymarket/internal/httpapi"
	"realitymarket/internal/matching"
	"realitymarket/pkg/types"
)

func main() {
	cfgPath := "configs/matchd.yaml"
	if p := os.Getenv("REALITY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if cfg.Matching.ListenAddr == "" {
		slog.Error("matching.listen_addr is required for matchd")
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	store, err := dbstore.Open(cfg.DB.DSN)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := matching.New(store, logger)
	if err := engine.Recover(context.Background()); err != nil {
		logger.Error("order book recovery failed", "error", err)
	}

	hub := broadcast.NewHub(logger)
	engine.OnTrade(func(trade types.Trade) {
		hub.TradeEvent(tradeEventOf(trade))
		hub.MarketUpdate(marketUpdateOf(engine.Pressure(trade.Symbol)))
	})

	handlers := httpapi.NewMatchHandlers(engine, hub, logger)
	server := httpapi.NewMatchServer(cfg.Matching.ListenAddr, hub, handlers, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("match server failed", "error", err)
		}
	}()

	logger.Info("matchd started", "addr", cfg.Matching.ListenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("failed to stop match server", "error", err)
	}
}

// tradeEventOf adapts a committed Trade into its broadcast envelope (§4.4).
func tradeEventOf(trade types.Trade) types.TradeEvent {
	price, _ := trade.Price.Float64()
	qty, _ := trade.Qty.Float64()
	return types.TradeEvent{
		TradeID: trade.TradeID, Symbol: trade.Symbol,
		Price: price, Qty: qty, Timestamp: trade.Timestamp,
	}
}

// marketUpdateOf adapts a Pressure snapshot into its broadcast envelope.
func marketUpdateOf(p matching.Pressure) types.MarketUpdate {
	return types.MarketUpdate{
		Symbol: p.Symbol, MarketPrice: p.MarketPrice,
		BuyVolume: p.BuyVolume, SellVolume: p.SellVolume,
		NetPressure: p.NetPressure, Timestamp: time.Now(),
	}
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
