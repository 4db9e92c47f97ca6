// Package main is the entry point for the rummy table engine daemon.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"rummy-engine/internal/config"
	"rummy-engine/internal/engine"
	"rummy-engine/internal/pkg/db"
	"rummy-engine/internal/repository"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Str("backend", cfg.Store.Backend).Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, cleanup, err := buildRepository(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize repository")
	}
	defer cleanup()

	clk := quartz.NewReal()

	eng := engine.New(repo, engine.Config{
		TurnDuration:     time.Duration(cfg.Engine.TurnSeconds) * time.Second,
		TimeoutDropAfter: cfg.Engine.TimeoutDropAfter,
		RakePercent:      cfg.Engine.RakePercent,
		LedgerSecret:     []byte(cfg.Engine.LedgerSecret),
		InitialBalance:   cfg.Wallet.InitialBalance,
	}, log.Logger, engine.WithClock(clk))

	// Reload persisted tables before accepting any traffic.
	if err := eng.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover persisted tables")
	}

	g, ctx := errgroup.WithContext(ctx)

	// Turn timeout sweeper.
	g.Go(func() error {
		ticker := clk.NewTicker(cfg.Engine.SweepInterval)
		defer ticker.Stop()
		log.Info().Dur("interval", cfg.Engine.SweepInterval).Msg("Timeout sweeper started")
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				eng.ProcessTurnTimeouts(ctx)
			}
		}
	})

	log.Info().Msg("Engine is running")

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("Engine stopped with error")
	}
	log.Info().Msg("Engine stopped gracefully")
}

// buildRepository wires the configured storage backend. The returned
// cleanup closes any underlying connection pool.
func buildRepository(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	switch cfg.Store.Backend {
	case "memory":
		log.Warn().Msg("Using in-memory store; state is lost on restart")
		return repository.NewMemory(), func() {}, nil
	default:
		pool, err := db.NewPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewPostgres(pool.Pool)
		if err := repo.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repo, pool.Close, nil
	}
}
