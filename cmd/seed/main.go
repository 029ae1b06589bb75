package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logger"
	"github.com/hackgods/clinic-booking/internal/schedule"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("prod", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)
	if cfg.PostgresDSN == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	repo := appointment.NewPgRepository(pool)
	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(ctx, repo, faker, log, 50); err != nil {
		log.Error().Err(err).Msg("seed doctors")
		os.Exit(1)
	}
	if err := seedPatients(ctx, repo, faker, log, 2000); err != nil {
		log.Error().Err(err).Msg("seed patients")
		os.Exit(1)
	}

	log.Info().Msg("seed complete")
}

// randomTemplate builds a Monday to Friday schedule with a morning block and
// sometimes an afternoon block.
func randomTemplate(faker *gofakeit.Faker) schedule.WeeklyTemplate {
	duration := []int{15, 20, 30}[faker.Number(0, 2)]
	days := schedule.Weekdays
	if faker.Bool() {
		days |= schedule.NewDays(time.Saturday)
	}

	var slots []schedule.TemplateSlot
	addBlock := func(from, to schedule.TimeOfDay) {
		for start := from; start+schedule.TimeOfDay(duration) <= to; start += schedule.TimeOfDay(duration) {
			slots = append(slots, schedule.TemplateSlot{
				Slot:        schedule.Slot{Start: start, End: start + schedule.TimeOfDay(duration)},
				MaxPatients: 1,
			})
		}
	}
	addBlock(9*60, 12*60)
	if faker.Bool() {
		addBlock(14*60, 17*60)
	}

	return schedule.WeeklyTemplate{
		WorkingDays:                days,
		Slots:                      slots,
		AppointmentDurationMinutes: duration,
		BufferMinutes:              faker.Number(0, 2) * 5,
	}
}

func seedDoctors(ctx context.Context, repo *appointment.PgRepository, faker *gofakeit.Faker, log zerolog.Logger, count int) error {
	log.Info().Int("count", count).Msg("seeding doctors")

	for i := 0; i < count; i++ {
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		doctor, err := repo.CreateDoctor(ctx, appointment.Doctor{
			Name:      "Dr. " + faker.Name(),
			Specialty: &specialty,
			Status:    appointment.DoctorActive,
			Template:  randomTemplate(faker),
			Pricing: appointment.Pricing{
				ConsultationFee: int64(faker.Number(300, 2000)) * 100,
				Currency:        appointment.DefaultCurrency,
			},
		})
		if err != nil {
			return err
		}
		log.Debug().Str("doctor_id", doctor.ID.String()).Str("specialty", specialty).Msg("doctor created")
	}

	log.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, repo *appointment.PgRepository, faker *gofakeit.Faker, log zerolog.Logger, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	for i := 0; i < count; i++ {
		email := faker.Email()
		if _, err := repo.CreatePatient(ctx, appointment.Patient{Name: faker.Name(), Email: &email}); err != nil {
			return err
		}
		if (i+1)%500 == 0 {
			log.Info().Int("done", i+1).Int("total", count).Msg("patients seeded")
		}
	}

	return nil
}
