package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crypto-scalper/config"
	"crypto-scalper/internal/api"
	"crypto-scalper/internal/bot"
	"crypto-scalper/internal/events"
	"crypto-scalper/internal/market"
	"crypto-scalper/internal/paper"
	"crypto-scalper/internal/risk"
	"crypto-scalper/internal/signals"
	"crypto-scalper/internal/store"
	"crypto-scalper/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Logging)
	logger.Info().
		Float64("starting_capital", cfg.Trading.StartingCapital).
		Strs("pairs", cfg.Data.Pairs).
		Msg("Crypto scalper starting")

	bus := events.NewBus()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional persistence: trades go to Postgres when enabled, otherwise the
	// recorder writes into a no-op store.
	var tradeStore store.TradeStore = store.NullStore{}
	if cfg.Database.Enabled {
		pg, err := store.NewPostgres(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer pg.Close()
		tradeStore = pg
		logger.Info().Msg("Postgres trade store connected")
	}
	store.NewRecorder(tradeStore, bus, logger)

	var ledger *store.RedisLedger
	if cfg.Redis.Enabled {
		ledger = store.NewRedisLedger(ctx, cfg.Redis, logger)
		defer ledger.Close()
	}

	provider := market.NewSimulatedProvider(cfg.Data.Pairs, cfg.Data.CandleLimit)

	signalEngine := signals.NewEngine(cfg.Trading.Signals, logger)
	strategyEngine := strategy.NewEngine(cfg.Trading, signalEngine, logger, nil)
	riskManager := risk.NewManager(cfg.Trading.Risk, bus, logger, nil)
	executor := paper.NewExecutor(cfg.Trading, riskManager, bus, logger, nil, nil)

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(cfg.Server, cfg.Data.Pairs, executor, riskManager, tradeStore, bus, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("API server stopped")
				stop()
			}
		}()
	}

	scalper := bot.New(cfg, provider, strategyEngine, riskManager, executor, bus, ledger, logger, nil)
	if err := scalper.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Bot exited with error")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("API server shutdown failed")
		}
	}

	logger.Info().Msg("Shutdown complete")
}

// newLogger builds the root zerolog logger from the logging config.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.JSONFormat {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
