package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	Service  BookingService
	Logger   zerolog.Logger
	Checks   []Check
	Env      string
	Version  string
	Location *time.Location
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(RecoverMiddleware)

	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	h := NewHandler(cfg.Service, cfg.Location)

	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/availability", h.GetAvailability)
		r.Put("/availability", h.PutAvailability)
		r.Get("/availability/template", h.GetAvailabilityTemplate)
		r.Post("/slots/block", h.editSlots(true))
		r.Post("/slots/unblock", h.editSlots(false))
		r.Get("/appointments", h.ListDoctorAppointments)
	})

	r.Get("/patients/{patientID}/appointments", h.ListPatientAppointments)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.CreateAppointment)
		r.Get("/{id}", h.GetAppointment)
		r.Put("/{id}/status", h.UpdateAppointmentStatus)
	})

	return r
}
