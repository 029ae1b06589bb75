package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type TotalsReconciler interface {
	ReconcileTotalAppointments(ctx context.Context) (int64, error)
}

// Reconciler recomputes every doctor's total from the stored appointments.
type Reconciler struct {
	repo    TotalsReconciler
	timeout time.Duration
	logger  zerolog.Logger
}

func NewReconciler(repo TotalsReconciler, timeout time.Duration, logger zerolog.Logger) *Reconciler {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Reconciler{
		repo:    repo,
		timeout: timeout,
		logger:  logger.With().Str("component", "reconciler").Logger(),
	}
}

func (r *Reconciler) RunOnce(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	fixed, err := r.repo.ReconcileTotalAppointments(runCtx)
	if err != nil {
		return fmt.Errorf("reconcile totals: %w", err)
	}

	r.logger.Info().
		Int64("corrected", fixed).
		Dur("took", time.Since(start)).
		Msg("reconcile run complete")
	return nil
}

// Schedule registers RunOnce on c using a cron spec such as "@every 5m".
// Overlapping runs are skipped.
func (r *Reconciler) Schedule(ctx context.Context, c *cron.Cron, spec string) (cron.EntryID, error) {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		if err := r.RunOnce(ctx); err != nil {
			r.logger.Error().Err(err).Msg("reconcile run failed")
		}
	}))

	id, err := c.AddJob(spec, job)
	if err != nil {
		return 0, fmt.Errorf("add reconcile job: %w", err)
	}
	return id, nil
}
