package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

// The simulator fires Concurrency simultaneous bookings at one doctor, date
// and slot and reports how many won. A correct server reports exactly one.
type SimConfig struct {
	APIBaseURL  string
	Concurrency int
	Rounds      int
	DoctorID    string
	PatientIDs  []uuid.UUID
	Location    *time.Location
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch status {
	case http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type Simulator struct {
	config SimConfig
	client *http.Client
	log    zerolog.Logger
}

type availability struct {
	Slots []schedule.Slot `json:"slots"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	simCfg := SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Concurrency: getInt("SIM_CONCURRENCY", 50),
		Rounds:      getInt("SIM_ROUNDS", 5),
		DoctorID:    os.Getenv("SIM_DOCTOR_ID"),
		Location:    cfg.Location,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if cfg.PostgresDSN != "" && simCfg.DoctorID == "" {
		if err := loadFromPostgres(ctx, cfg.PostgresDSN, &simCfg); err != nil {
			log.Fatal().Err(err).Msg("load simulation data")
		}
	} else if id, err := uuid.Parse(os.Getenv("SIM_PATIENT_ID")); err == nil {
		simCfg.PatientIDs = []uuid.UUID{id}
	}

	if simCfg.DoctorID == "" || len(simCfg.PatientIDs) == 0 {
		log.Fatal().Msg("need POSTGRES_DSN, or SIM_DOCTOR_ID and SIM_PATIENT_ID")
	}

	sim := &Simulator{
		config: simCfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := sim.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}
}

func loadFromPostgres(ctx context.Context, dsn string, cfg *SimConfig) error {
	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	var doctorID uuid.UUID
	if err := pool.QueryRow(ctx, `SELECT id FROM doctors WHERE status = 'active' ORDER BY random() LIMIT 1`).Scan(&doctorID); err != nil {
		return fmt.Errorf("pick doctor: %w", err)
	}
	cfg.DoctorID = doctorID.String()

	cfg.PatientIDs, err = loadPatients(ctx, pool, cfg.Concurrency)
	return err
}

func loadPatients(ctx context.Context, pool *pgxpool.Pool, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("no patients loaded")
	}
	return ids, nil
}

// nextOpenSlot walks forward from tomorrow until the doctor has a free slot.
func (s *Simulator) nextOpenSlot(ctx context.Context, from schedule.Date) (schedule.Date, schedule.Slot, error) {
	for i := 0; i < 60; i++ {
		date := from.AddDays(i)
		url := fmt.Sprintf("%s/doctors/%s/availability?date=%s", s.config.APIBaseURL, s.config.DoctorID, date)

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := s.client.Do(req)
		if err != nil {
			return schedule.Date{}, schedule.Slot{}, err
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return schedule.Date{}, schedule.Slot{}, fmt.Errorf("availability for %s: unexpected status %d", date, resp.StatusCode)
		}

		var av availability
		err = json.NewDecoder(resp.Body).Decode(&av)
		resp.Body.Close()
		if err != nil {
			return schedule.Date{}, schedule.Slot{}, fmt.Errorf("decode availability: %w", err)
		}
		if len(av.Slots) > 0 {
			return date, av.Slots[0], nil
		}
	}
	return schedule.Date{}, schedule.Slot{}, errors.New("no open slot in the next 60 days")
}

func (s *Simulator) book(ctx context.Context, patientID uuid.UUID, date schedule.Date, slot schedule.Slot) (int, error) {
	body, _ := json.Marshal(map[string]any{
		"doctor_id":   s.config.DoctorID,
		"date":        date.String(),
		"slot":        map[string]string{"start": slot.Start.String(), "end": slot.End.String()},
		"type":        "consultation",
		"description": "load test",
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", patientID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *Simulator) Run(ctx context.Context) error {
	date := schedule.DateOf(time.Now(), s.config.Location).AddDays(1)
	var metrics OperationMetrics

	for round := 1; round <= s.config.Rounds; round++ {
		var (
			slot schedule.Slot
			err  error
		)
		date, slot, err = s.nextOpenSlot(ctx, date)
		if err != nil {
			return err
		}

		var before int64 = atomic.LoadInt64(&metrics.Success)
		start := make(chan struct{})
		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < s.config.Concurrency; i++ {
			patientID := s.config.PatientIDs[i%len(s.config.PatientIDs)]
			g.Go(func() error {
				<-start
				t0 := time.Now()
				status, err := s.book(gctx, patientID, date, slot)
				if err != nil {
					s.log.Warn().Err(err).Msg("booking request failed")
				}
				metrics.Record(time.Since(t0), status)
				return nil
			})
		}
		close(start)
		_ = g.Wait()

		winners := atomic.LoadInt64(&metrics.Success) - before
		evt := s.log.Info()
		if winners != 1 {
			evt = s.log.Error()
		}
		evt.Int("round", round).
			Str("date", date.String()).
			Str("slot", slot.String()).
			Int64("winners", winners).
			Msg("round complete")
	}

	p50, p95, max := metrics.Percentiles()
	s.log.Info().
		Int64("total", metrics.Total).
		Int64("success", metrics.Success).
		Int64("conflict", metrics.Conflict).
		Int64("error", metrics.Error).
		Dur("p50", p50).
		Dur("p95", p95).
		Dur("max", max).
		Msg("simulation report")

	if metrics.Success != int64(s.config.Rounds) {
		return fmt.Errorf("expected %d successful bookings, got %d", s.config.Rounds, metrics.Success)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
