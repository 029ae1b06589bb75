package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type fakeCounters struct {
	mu     sync.Mutex
	totals map[uuid.UUID]int
	fixed  int64
	err    error
	runs   int
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{totals: make(map[uuid.UUID]int)}
}

func (f *fakeCounters) IncrementTotalAppointments(ctx context.Context, doctorID uuid.UUID, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.totals[doctorID] += delta
	return nil
}

func (f *fakeCounters) ReconcileTotalAppointments(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return f.fixed, f.err
}

func (f *fakeCounters) total(id uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totals[id]
}

func (f *fakeCounters) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

func TestRecorder_AppliesQueuedIncrements(t *testing.T) {
	repo := newFakeCounters()
	rec := NewRecorder(repo, 16, zerolog.Nop())
	doctor := uuid.New()

	for i := 0; i < 3; i++ {
		rec.Record(doctor)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for repo.total(doctor) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.total(doctor); got != 3 {
		t.Errorf("expected total 3, got %d", got)
	}
}

func TestRecorder_DrainsOnShutdown(t *testing.T) {
	repo := newFakeCounters()
	rec := NewRecorder(repo, 8, zerolog.Nop())
	doctor := uuid.New()

	rec.Record(doctor)
	rec.Record(doctor)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rec.Run(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.total(doctor); got != 2 {
		t.Errorf("expected queued increments to be drained, got %d", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	rec := NewRecorder(newFakeCounters(), 1, zerolog.Nop())
	doctor := uuid.New()

	rec.Record(doctor)
	rec.Record(doctor)
	rec.Record(doctor)

	if got := rec.Dropped(); got != 2 {
		t.Errorf("expected 2 dropped increments, got %d", got)
	}
}

func TestRecorder_IncrementErrorIsNotFatal(t *testing.T) {
	repo := newFakeCounters()
	repo.err = errors.New("db down")
	rec := NewRecorder(repo, 4, zerolog.Nop())
	rec.Record(uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rec.Run(ctx); err != nil {
		t.Fatalf("expected Run to swallow increment errors, got %v", err)
	}
}

func TestReconciler_RunOnce(t *testing.T) {
	repo := newFakeCounters()
	repo.fixed = 4
	r := NewReconciler(repo, time.Second, zerolog.Nop())

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.runCount() != 1 {
		t.Errorf("expected one reconcile call, got %d", repo.runCount())
	}

	repo.err = errors.New("boom")
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error to be returned")
	}
}

func TestReconciler_Schedule(t *testing.T) {
	repo := newFakeCounters()
	r := NewReconciler(repo, time.Second, zerolog.Nop())

	c := cron.New()
	if _, err := r.Schedule(context.Background(), c, "not a spec"); err == nil {
		t.Fatal("expected invalid spec error")
	}

	id, err := r.Schedule(context.Background(), c, "@every 1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c.Entry(id).Job.Run()
	if repo.runCount() != 1 {
		t.Errorf("expected scheduled job to reconcile once, got %d", repo.runCount())
	}
}
