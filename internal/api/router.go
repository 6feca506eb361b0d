package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduler/internal/appointment"
)

type RouterConfig struct {
	Service  AppointmentService
	Logger   zerolog.Logger
	Checks   []Check
	Gatherer prometheus.Gatherer // nil disables /metrics
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	h := &handlers{svc: cfg.Service, logger: cfg.Logger}

	// Appointment endpoints
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.bookAppointment)
		r.Get("/{id}", h.getAppointment)
		r.Post("/{id}/approve", h.transition(appointment.ActorProvider, h.approve))
		r.Post("/{id}/reject", h.transition(appointment.ActorProvider, cfg.Service.Reject))
		r.Post("/{id}/queue", h.transition(appointment.ActorProvider, h.moveToQueue))
		r.Post("/{id}/start", h.transition(appointment.ActorProvider, h.startProcessing))
		r.Post("/{id}/finish", h.transition(appointment.ActorProvider, h.finish))
		r.Post("/{id}/complete", h.transition(appointment.ActorProvider, h.complete))
		r.Post("/{id}/cancel", h.transition("", cfg.Service.Cancel))
	})

	r.Get("/patients/{patientID}/appointments", h.listPatientAppointments)

	r.Route("/providers/{providerID}", func(r chi.Router) {
		r.Get("/queue", h.providerQueue)
		r.Get("/availability", h.providerAvailability)
	})

	return r
}
