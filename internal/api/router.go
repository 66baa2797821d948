package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/lifecycle"
)

type RouterConfig struct {
	Service   *appointment.Service
	Scheduler *lifecycle.Scheduler
	Postgres  Pinger
	Redis     Pinger
	Gatherer  prometheus.Gatherer
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	svc := cfg.Service
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc))
		r.Get("/", lookupAppointmentsHandler(svc))
		r.Get("/{id}", getAppointmentHandler(svc))
		r.Patch("/{id}", updateAppointmentHandler(svc))
		r.Post("/{id}/cancel", cancelAppointmentHandler(svc))
		r.Post("/{id}/confirm", transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return svc.Confirm(r.Context(), id)
		}))
		r.Post("/{id}/check-in", transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return svc.CheckIn(r.Context(), id)
		}))
		r.Post("/{id}/complete", transitionHandler(func(r *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return svc.Complete(r.Context(), id)
		}))
	})

	r.Post("/bookings", bookingMutationHandler(svc))

	r.Get("/alerts", listAlertsHandler(svc))
	r.Post("/alerts/{id}/resolve", resolveAlertHandler(svc))

	if cfg.Scheduler != nil {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/appointments/{id}/remind", sendReminderHandler(cfg.Scheduler))
			r.Post("/appointments/{id}/call", placeCallHandler(cfg.Scheduler))
			r.Post("/jobs/{job}/run", runJobHandler(cfg.Scheduler))
		})
	}

	return r
}

// NewServer wraps the router with the timeouts used by every binary.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
