package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/schedule"
)

func draftFor(t *testing.T, doctorID uuid.UUID, slot string) Appointment {
	t.Helper()
	return Appointment{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		Date:      wednesday,
		Slot:      mustSlot(t, slot),
		Status:    StatusScheduled,
		Type:      TypeFollowUp,
	}
}

func TestMemoryRepository_ReserveIfAbsentConcurrent(t *testing.T) {
	repo := NewMemoryRepository()
	doctorID := uuid.New()

	const n = 100
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ReserveIfAbsent(context.Background(), draftFor(t, doctorID, "09:00-09:30"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, taken int
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSlotTaken):
			taken++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || taken != n-1 {
		t.Errorf("expected 1 reservation and %d taken, got %d/%d", n-1, ok, taken)
	}
}

func TestMemoryRepository_StatusFreesSlot(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()

	first, err := repo.ReserveIfAbsent(ctx, draftFor(t, doctorID, "09:00-09:30"))
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := repo.UpdateStatus(ctx, first.ID, StatusCompleted, StatusNoShow); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected compare-and-set failure, got %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, uuid.New(), StatusScheduled, StatusNoShow); !errors.Is(err, ErrAppointmentNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := repo.UpdateStatus(ctx, first.ID, StatusScheduled, StatusNoShow); err != nil {
		t.Fatalf("update: %v", err)
	}

	active, _ := repo.ListActive(ctx, doctorID, wednesday)
	if len(active) != 0 {
		t.Errorf("expected no active slots after no-show, got %v", active)
	}

	if _, err := repo.ReserveIfAbsent(ctx, draftFor(t, doctorID, "09:00-09:30")); err != nil {
		t.Errorf("expected the freed slot to be reservable, got %v", err)
	}
}

func TestMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()
	repo.AddDoctor(Doctor{ID: doctorID, Status: DoctorActive})

	_, err := repo.UpdateOverride(ctx, doctorID, wednesday, func(cur *schedule.DateOverride) (*schedule.DateOverride, error) {
		return &schedule.DateOverride{Slots: []schedule.OverrideSlot{{Slot: mustSlot(t, "09:00-09:30")}}}, nil
	})
	if err != nil {
		t.Fatalf("update override: %v", err)
	}

	got, _ := repo.GetOverride(ctx, doctorID, wednesday)
	got.Slots[0].Available = true

	again, _ := repo.GetOverride(ctx, doctorID, wednesday)
	if again.Slots[0].Available {
		t.Error("mutating a returned override changed the stored one")
	}
	if again.DoctorID != doctorID || again.Date != wednesday {
		t.Errorf("expected stored override keyed by doctor and date, got %+v", again)
	}
}

func TestMemoryRepository_UpdateOverrideErrorKeepsState(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()
	repo.AddDoctor(Doctor{ID: doctorID, Status: DoctorActive})

	boom := errors.New("boom")
	_, err := repo.UpdateOverride(ctx, doctorID, wednesday, func(*schedule.DateOverride) (*schedule.DateOverride, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if o, _ := repo.GetOverride(ctx, doctorID, wednesday); o != nil {
		t.Errorf("expected no override, got %+v", o)
	}
}

func TestMemoryRepository_ReconcileTotals(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	doctorID := uuid.New()
	repo.AddDoctor(Doctor{ID: doctorID, Status: DoctorActive})

	for _, s := range []string{"09:00-09:30", "09:30-10:00"} {
		if _, err := repo.ReserveIfAbsent(ctx, draftFor(t, doctorID, s)); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	if err := repo.IncrementTotalAppointments(ctx, doctorID, 5); err != nil {
		t.Fatalf("increment: %v", err)
	}

	fixed, err := repo.ReconcileTotalAppointments(ctx)
	if err != nil || fixed != 1 {
		t.Fatalf("expected one corrected counter, got %d (%v)", fixed, err)
	}
	d, _ := repo.GetDoctor(ctx, doctorID)
	if d.TotalAppointments != 2 {
		t.Errorf("expected total 2, got %d", d.TotalAppointments)
	}

	if err := repo.IncrementTotalAppointments(ctx, uuid.New(), 1); !errors.Is(err, ErrDoctorNotFound) {
		t.Errorf("expected ErrDoctorNotFound, got %v", err)
	}
}
