package main

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/app"
	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("seed", "dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New("seed", cfg.Env, cfg.LogLevel)
	logger.Info().Msg("seed starting")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer a.Close()

	catalog, err := loadCatalog(os.Getenv("SEED_CATALOG"))
	if err != nil {
		logger.Fatal().Err(err).Msg("load catalog")
	}

	if err := seedProviders(ctx, a.Repo, catalog, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed providers")
	}

	count := 200
	if v, err := strconv.Atoi(os.Getenv("SEED_APPOINTMENTS")); err == nil && v >= 0 {
		count = v
	}
	if err := seedAppointments(ctx, a.Service, catalog, count, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed appointments")
	}

	logger.Info().Msg("seed complete")
}

func seedProviders(ctx context.Context, repo appointment.Repository, catalog []appointment.ProviderEntry, logger zerolog.Logger) error {
	logger.Info().Int("entries", len(catalog)).Msg("seeding provider catalog")
	for _, p := range catalog {
		if err := repo.UpsertProvider(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// seedAppointments books through the service so every seeded row passes
// the same checks as a real booking. Rejections are counted, not fatal.
func seedAppointments(ctx context.Context, svc *appointment.Service, catalog []appointment.ProviderEntry, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding appointments")

	var active []appointment.ProviderEntry
	for _, p := range catalog {
		if p.Status == appointment.ProviderActive {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return errors.New("catalog has no active providers")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	today := civiltime.InZone(time.Now())

	booked, rejected := 0, 0
	for i := 0; i < count; i++ {
		p := active[faker.Number(0, len(active)-1)]
		day := today.AddDate(0, 0, faker.Number(1, 14))
		start := time.Date(day.Year(), day.Month(), day.Day(), faker.Number(8, 16), 15*faker.Number(0, 3), 0, 0, civiltime.Zone)

		_, err := svc.Book(ctx, appointment.BookingInput{
			PatientID:    "P" + faker.DigitN(6),
			PatientEmail: faker.Email(),
			PatientPhone: "+66" + faker.DigitN(9),
			ProviderName: p.ProviderName,
			Department:   p.Department,
			StartLocal:   start.Format(civiltime.Layout),
		})
		var verr *appointment.ValidationError
		switch {
		case err == nil:
			booked++
		case errors.As(err, &verr):
			rejected++
		default:
			return err
		}

		if (i+1)%50 == 0 {
			logger.Info().Int("done", i+1).Int("total", count).Msg("appointments progress")
		}
	}

	logger.Info().Int("booked", booked).Int("rejected", rejected).Msg("appointments seeded")
	return nil
}
