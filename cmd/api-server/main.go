package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/lock"
	"github.com/hackgods/clinic-booking/internal/logger"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/schedule"
	"github.com/hackgods/clinic-booking/internal/stats"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "api-server",
		Short: "Doctor availability and booking API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var demo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(demo)
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "with STORE_BACKEND=memory, preload one doctor and one patient")
	return cmd
}

type backend struct {
	repo    appointment.Repository
	locker  lock.Locker
	checks  []api.Check
	closers []func()
}

func (b *backend) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func buildBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.StoreBackend {
	case config.StorePostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.checks = append(b.checks, api.Check{Name: "postgres", Critical: true, Ping: pool.Ping})
		b.repo = appointment.NewPgRepository(pool)
		log.Info().Msg("connected to Postgres")
	default:
		b.repo = appointment.NewMemoryRepository()
		log.Warn().Msg("using in-memory store; data is lost on restart")
	}

	switch cfg.LockBackend {
	case config.LockRedis:
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis")
			}
		})
		b.checks = append(b.checks, api.Check{Name: "redis", Ping: redisPing(rdb)})
		b.locker = lock.NewRedisLocker(rdb, cfg.LockTTL)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	default:
		b.locker = lock.NewLocalLocker()
	}

	return b, nil
}

func redisPing(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}

func seedDemo(repo *appointment.MemoryRepository, log zerolog.Logger) {
	slots := make([]schedule.TemplateSlot, 0, 8)
	for start := schedule.TimeOfDay(9 * 60); start < 13*60; start += 30 {
		slots = append(slots, schedule.TemplateSlot{Slot: schedule.Slot{Start: start, End: start + 30}, MaxPatients: 1})
	}

	doctor := appointment.Doctor{
		ID:     uuid.New(),
		Name:   "Demo Doctor",
		Status: appointment.DoctorActive,
		Template: schedule.WeeklyTemplate{
			WorkingDays:                schedule.Weekdays,
			Slots:                      slots,
			AppointmentDurationMinutes: 30,
		},
		Pricing: appointment.Pricing{ConsultationFee: 50000, Currency: appointment.DefaultCurrency},
	}
	patient := appointment.Patient{ID: uuid.New(), Name: "Demo Patient"}
	repo.AddDoctor(doctor)
	repo.AddPatient(patient)

	log.Info().
		Str("doctor_id", doctor.ID.String()).
		Str("patient_id", patient.ID.String()).
		Msg("demo data loaded")
}

func runServer(demo bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Env, cfg.LogLevel)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreBackend).
		Str("lock", cfg.LockBackend).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := buildBackend(rootCtx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	if mem, ok := b.repo.(*appointment.MemoryRepository); ok && demo {
		seedDemo(mem, log)
	}

	recorder := stats.NewRecorder(b.repo, cfg.StatsBuffer, log)
	svc := appointment.NewService(b.repo, b.locker, recorder, log)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: api.NewRouter(api.RouterConfig{
			Service:  svc,
			Logger:   log,
			Checks:   b.checks,
			Env:      cfg.Env,
			Version:  version,
			Location: cfg.Location,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return recorder.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api-server stopped with error")
		return err
	}
	log.Info().Msg("api-server stopped")
	return nil
}

func connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	return db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.Migrations).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}
