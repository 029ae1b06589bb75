package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/stats"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	if cfg.StoreBackend != config.StorePostgres {
		log.Fatal().Str("store", cfg.StoreBackend).Msg("stats-worker needs STORE_BACKEND=postgres")
	}
	log.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("stats-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pool.Close()

	reconciler := stats.NewReconciler(appointment.NewPgRepository(pool), 20*time.Second, log)

	// Run once at startup
	if err := reconciler.RunOnce(rootCtx); err != nil {
		log.Error().Err(err).Msg("initial reconcile failed")
	}

	c := cron.New()
	if _, err := reconciler.Schedule(rootCtx, c, "@every "+cfg.WorkerInterval.String()); err != nil {
		log.Error().Err(err).Msg("schedule reconcile")
		os.Exit(1)
	}
	c.Start()

	<-rootCtx.Done()
	log.Info().Msg("shutdown signal received, stopping stats-worker")
	<-c.Stop().Done()
}
