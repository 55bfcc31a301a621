package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/config"
	"github.com/hackgods/kiosk-booking/internal/db"
	"github.com/hackgods/kiosk-booking/internal/logger"
)

// store-janitor deletes expired rows from the Postgres key-value table.
// Redis expires keys itself and needs no janitor.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev, File: cfg.LogFile, MaxAge: cfg.LogMaxAge})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	log.Info("store-janitor starting up", zap.String("env", cfg.Env), zap.Duration("interval", cfg.JanitorInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	if err == nil {
		err = db.EnsureSchema(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	kv := db.NewKVStore(pgPool, clockwork.NewRealClock())

	// Run once at startup
	runOnce(rootCtx, kv, log)

	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping store-janitor")
			return
		case <-ticker.C:
			runOnce(rootCtx, kv, log)
		}
	}
}

func runOnce(ctx context.Context, kv *db.KVStore, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := kv.PurgeExpired(runCtx)
	if err != nil {
		log.Error("purge run failed", zap.Error(err))
		return
	}
	log.Info("purge run complete", zap.Int64("deleted", n), zap.Duration("took", time.Since(start)))
}
