// Package lifecycle drives appointments through reminder, survey, voice
// follow-up and retention cleanup on fixed cadences.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

type Job string

const (
	JobReminder Job = "reminder"
	JobSurvey   Job = "survey"
	JobVoice    Job = "voice_followup"
	JobCleanup  Job = "cleanup"
)

// Jobs lists every job in a stable order.
var Jobs = []Job{JobReminder, JobSurvey, JobVoice, JobCleanup}

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrJobRunning  = errors.New("job is already running")
	ErrNoContact   = errors.New("appointment has no usable contact")
	ErrNotEligible = errors.New("appointment is not eligible for this action")
	ErrNotRecorded = errors.New("voice call outcome not recorded")
)

func ParseJob(name string) (Job, error) {
	for _, j := range Jobs {
		if string(j) == name {
			return j, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownJob, name)
}

type Config struct {
	ReminderInterval time.Duration
	SurveyInterval   time.Duration
	VoiceInterval    time.Duration
	CleanupInterval  time.Duration

	// Reminders go out for starts in [now+ReminderFrom, now+ReminderTo].
	ReminderFrom time.Duration
	ReminderTo   time.Duration

	SurveyLookback time.Duration
	SurveyBatch    int
	SurveyPause    time.Duration

	VoiceLookback time.Duration
	VoiceBatch    int
	VoicePause    time.Duration

	Retention    time.Duration
	CleanupBatch int

	// ChannelTimeout bounds each external send.
	ChannelTimeout time.Duration

	SurveyURL string
}

func DefaultConfig() Config {
	return Config{
		ReminderInterval: 30 * time.Minute,
		SurveyInterval:   time.Hour,
		VoiceInterval:    2 * time.Hour,
		CleanupInterval:  24 * time.Hour,
		ReminderFrom:     23 * time.Hour,
		ReminderTo:       25 * time.Hour,
		SurveyLookback:   48 * time.Hour,
		SurveyBatch:      20,
		SurveyPause:      time.Second,
		VoiceLookback:    7 * 24 * time.Hour,
		VoiceBatch:       10,
		VoicePause:       5 * time.Second,
		Retention:        90 * 24 * time.Hour,
		CleanupBatch:     100,
		ChannelTimeout:   15 * time.Second,
	}
}

func (c Config) interval(job Job) time.Duration {
	switch job {
	case JobReminder:
		return c.ReminderInterval
	case JobSurvey:
		return c.SurveyInterval
	case JobVoice:
		return c.VoiceInterval
	case JobCleanup:
		return c.CleanupInterval
	}
	return 0
}

// Result summarizes one job run.
type Result struct {
	Job       Job `json:"job"`
	Selected  int `json:"selected"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	NoContact int `json:"no_contact"`

	// Skipped is set when the run did no work: another instance held the
	// job lock, or the voice job ran outside business hours.
	Skipped bool `json:"skipped"`

	Deleted map[appointment.Collection]int `json:"deleted,omitempty"`
}

// Sleeper pauses between sends. It returns early with ctx.Err() on cancellation.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithSleeper(sleep Sleeper) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithLocker coordinates job runs across instances.
func WithLocker(l redisclient.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler owns the four recurring jobs and the manual triggers.
type Scheduler struct {
	repo     appointment.Repository
	channel  notify.Channel
	workflow appointment.Notifier
	locker   redisclient.Locker
	cfg      Config
	now      func() time.Time
	sleep    Sleeper
	metrics  *Metrics
	logger   zerolog.Logger

	running map[Job]*atomic.Bool
}

func New(repo appointment.Repository, channel notify.Channel, workflow appointment.Notifier, cfg Config, logger zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		channel:  channel,
		workflow: workflow,
		cfg:      cfg,
		now:      time.Now,
		sleep:    sleepContext,
		logger:   logger.With().Str("component", "lifecycle.scheduler").Logger(),
		running:  make(map[Job]*atomic.Bool, len(Jobs)),
	}
	for _, j := range Jobs {
		s.running[j] = &atomic.Bool{}
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locker == nil {
		s.locker = redisclient.NewLocalLocker(0)
	}
	return s
}

// Run starts every job loop and blocks until ctx is canceled. Each job runs
// once immediately, then on its own ticker.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range Jobs {
		interval := s.cfg.interval(job)
		if interval <= 0 {
			s.logger.Warn().Str("job", string(job)).Msg("job disabled, no interval configured")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job, interval)
		}()
	}

	s.logger.Info().Msg("lifecycle scheduler started")
	wg.Wait()
	s.logger.Info().Msg("lifecycle scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job, interval time.Duration) {
	s.runLogged(ctx, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runLogged(ctx, job)
		}
	}
}

func (s *Scheduler) runLogged(ctx context.Context, job Job) {
	res, err := s.RunJob(ctx, job)
	if err != nil {
		s.logger.Error().Err(err).Str("job", string(job)).Msg("job run failed")
		return
	}
	s.logger.Info().
		Str("job", string(job)).
		Int("selected", res.Selected).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Int("no_contact", res.NoContact).
		Bool("skipped", res.Skipped).
		Msg("job run finished")
}

// RunJob runs one job once. It refuses to overlap a run of the same job in
// this process and skips when another instance holds the job lock.
func (s *Scheduler) RunJob(ctx context.Context, job Job) (Result, error) {
	flag, ok := s.running[job]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
	if !flag.CompareAndSwap(false, true) {
		return Result{Job: job}, ErrJobRunning
	}
	defer flag.Store(false)

	started := time.Now()
	res := Result{Job: job}

	err := s.locker.WithLock(ctx, redisclient.JobKey(string(job)), func(lockCtx context.Context) error {
		var runErr error
		switch job {
		case JobReminder:
			runErr = s.runReminders(lockCtx, &res)
		case JobSurvey:
			runErr = s.runSurveys(lockCtx, &res)
		case JobVoice:
			runErr = s.runVoiceFollowUps(lockCtx, &res)
		case JobCleanup:
			runErr = s.runCleanup(lockCtx, &res)
		}
		return runErr
	})
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		s.logger.Debug().Str("job", string(job)).Msg("job lock held elsewhere, skipping run")
		res.Skipped = true
		err = nil
	}

	s.metrics.observe(job, res, err, time.Since(started))
	return res, err
}

func (s *Scheduler) notify(ctx context.Context, a *appointment.Appointment, action string, meta map[string]any) {
	if s.workflow == nil {
		return
	}
	s.workflow.Notify(ctx, notify.Event{
		BookingID: a.ID.String(),
		Action:    action,
		Status:    string(a.Status),
		Metadata:  meta,
	})
}
