// Command marketd runs the Ingest+Scoring+Blender service process
// (§5 "Scheduling model"): the signed event-ingress API, the Scoring
// Engine, the Blender & Broadcaster, the Audit Workflow, and the
// admin/public HTTP surfaces. It optionally hosts the Matching Engine
// in-process (-with-matching) for single-binary deployments, or talks
// to a standalone matchd over HTTP otherwise.
//
// Wiring order: config → logger → database → broadcast hub →
// (optional in-process Matching Engine) → Scoring Engine → Blender
// (over the in-process engine, else a remote HTTP market source) →
// Audit Workflow → Ingest Gateway → listeners → HTTP server. Each engine's OnChange/OnTrade/OnUpdate/OnEvent
// listener wires it to the next stage downstream, mirroring the
// control flow of §2: C2 → C3 → C5, C4 → C5, C6 rejoining C3 → C5 on
// approval.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"

	"realitymarket/internal/audit"
	"realitymarket/internal/blender"
	"realitymarket/internal/broadcast"
	"realitymarket/internal/config"
	"realitymarket/internal/dbstore"
	"realitymarket/internal/httpapi"
	"realitymarket/internal/ingest"
	"realitymarket/internal/matching"
	"realitymarket/internal/scoring"
	"realitymarket/pkg/types"
)

func main() {
	withMatching := flag.Bool("with-matching", false, "host the Matching Engine in this process instead of calling a standalone matchd")
	flag.Parse()

	cfgPath := "configs/marketd.yaml"
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

	logger := slog.New(newLogHandler(cfg.Logging))

	store, err := dbstore.Open(cfg.DB.DSN)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	hub := broadcast.NewHub(logger)

	var matchEngine *matching.Engine
	if *withMatching {
		matchEngine = matching.New(store, logger)
		if err := matchEngine.Recover(context.Background()); err != nil {
			logger.Error("order book recovery failed", "error", err)
		}
	}

	scorer := scoring.New(cfg.Scoring, store, logger)
	blend := blender.New(cfg.Blender, store, store, marketSource(matchEngine, cfg, logger), logger)
	auditor := audit.New(cfg.Scoring, store, scorer, logger)
	gateway := ingest.New(cfg.Ingest.HMACSecret, cfg.Scoring, store, scorer, auditor, logger)

	if matchEngine != nil {
		matchEngine.OnTrade(func(trade types.Trade) {
			hub.TradeEvent(tradeEventOf(trade))
			hub.MarketUpdate(marketUpdateOf(matchEngine.Pressure(trade.Symbol)))
			blend.Trigger(context.Background(), trade.Symbol)
		})
	}

	scorer.OnChange(func(symbol string, score types.Score, change types.ScoreChange) {
		hub.RealityUpdate(types.RealityUpdate{
			Symbol: symbol, RealityScore: score.RealityScore, Delta: change.Delta,
			EventID: change.EventID, Timestamp: change.Timestamp,
		})
		blend.Trigger(context.Background(), symbol)
	})
	blend.OnUpdate(hub.FinalUpdate)
	auditor.OnEvent(hub.AuditEvent)

	var matchHandlers *httpapi.MatchHandlers
	if matchEngine != nil {
		matchHandlers = httpapi.NewMatchHandlers(matchEngine, nil, logger)
	}

	handlers := httpapi.NewMarketHandlers(cfg.AdminKey, gateway, auditor, store, store, hub, logger)
	server := httpapi.NewMarketServer(cfg.HTTP, hub, handlers, matchHandlers, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("market server failed", "error", err)
		}
	}()

	logger.Info("marketd started", "addr", cfg.HTTP.Addr, "with_matching", *withMatching)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.Error("failed to stop market server", "error", err)
	}
}

// marketSource picks the Blender's MarketSource: an in-process Matching
// Engine when -with-matching is set, or an HTTP client against the
// standalone matchd otherwise (§5's split-process deployment).
func marketSource(engine *matching.Engine, cfg *config.Config, logger *slog.Logger) blender.MarketSource {
	if engine != nil {
		return blender.NewLocalSource(engine)
	}

	client := resty.New().SetTimeout(cfg.Matching.RequestTimeout)
	return blender.NewRemoteSource(client, cfg.Matching.ServiceURL)
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
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
