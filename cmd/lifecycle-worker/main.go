package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/appointment-lifecycle/internal/api"
	"github.com/hackgods/appointment-lifecycle/internal/app"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("lifecycle-worker", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("lifecycle-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("reminder_interval", cfg.ReminderInterval).
		Dur("survey_interval", cfg.SurveyInterval).
		Dur("voice_interval", cfg.VoiceInterval).
		Dur("cleanup_interval", cfg.CleanupInterval).
		Msg("lifecycle-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("error during close")
		}
	}()

	var srv *http.Server
	if cfg.MetricsPort != "" {
		pg, rd := a.Pingers()
		health := api.NewHealthHandler(pg, rd, cfg.Env, version)

		r := chi.NewRouter()
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)
		r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

		srv = api.NewServer(":"+cfg.MetricsPort, r)
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("health server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("health server failed")
			}
		}()
	}

	// Blocks until shutdown; each job finishes its current item first.
	a.Scheduler.Run(rootCtx)

	logger.Info().Msg("shutdown signal received, stopping lifecycle worker")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}
