// Package stats maintains the doctor appointment counters. They are
// eventually consistent: bookings never wait on them and a periodic
// reconcile repairs any drift.
package stats

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const applyTimeout = 5 * time.Second

type Incrementer interface {
	IncrementTotalAppointments(ctx context.Context, doctorID uuid.UUID, delta int) error
}

// Recorder queues counter increments and applies them from Run.
type Recorder struct {
	repo    Incrementer
	queue   chan uuid.UUID
	logger  zerolog.Logger
	dropped atomic.Int64
}

func NewRecorder(repo Incrementer, buffer int, logger zerolog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 1
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan uuid.UUID, buffer),
		logger: logger.With().Str("component", "stats").Logger(),
	}
}

// Record never blocks. When the queue is full the increment is dropped and
// left to the reconciler.
func (r *Recorder) Record(doctorID uuid.UUID) {
	select {
	case r.queue <- doctorID:
	default:
		r.dropped.Add(1)
		r.logger.Warn().Str("doctor_id", doctorID.String()).Msg("stats queue full, increment dropped")
	}
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run applies queued increments until ctx is cancelled, then drains what is
// already queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain(context.WithoutCancel(ctx))
			return nil
		case id := <-r.queue:
			r.apply(ctx, id)
		}
	}
}

func (r *Recorder) drain(ctx context.Context) {
	for {
		select {
		case id := <-r.queue:
			r.apply(ctx, id)
		default:
			return
		}
	}
}

func (r *Recorder) apply(ctx context.Context, doctorID uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	if err := r.repo.IncrementTotalAppointments(ctx, doctorID, 1); err != nil {
		r.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("increment total appointments")
	}
}
