package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/civiltime"
	"github.com/hackgods/appointment-lifecycle/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Rounds       int // same-slot contention rounds
	Contenders   int // concurrent bookings per round
	Providers    []string
	Department   string
	BookingRatio float64
	CancelRatio  float64
	LookupRatio  float64
}

// booking is what the simulator remembers about a created appointment.
type booking struct {
	ID   string `json:"id"`
	Code string `json:"confirmation_code"`
}

type DataPool struct {
	mu       sync.RWMutex
	bookings []booking
}

func (dp *DataPool) Add(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) Random(rng *rand.Rand) (booking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Contention OperationMetrics
	Booking    OperationMetrics
	Cancel     OperationMetrics
	Lookup     OperationMetrics

	// Rounds where more than one contender got 201. Must stay zero.
	DoubleBooked int64
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
}

func main() {
	logger := logging.New("simulate", getEnv("APP_ENV", "dev"), "info")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Str("api", cfg.APIBaseURL).
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Int("rounds", cfg.Rounds).
		Int("contenders", cfg.Contenders).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.RunContention()
	sim.RunMixed()
	sim.PrintReport()

	if atomic.LoadInt64(&sim.metrics.DoubleBooked) > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		Rounds:       getInt("SIM_ROUNDS", 20),
		Contenders:   getInt("SIM_CONTENDERS", 8),
		Providers:    strings.Split(getEnv("SIM_PROVIDERS", "Dr. Malee Srisuk"), ","),
		Department:   getEnv("SIM_DEPARTMENT", "Cardiology"),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.2),
		LookupRatio:  getFloat("SIM_LOOKUP_RATIO", 0.3),
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.LookupRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.LookupRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

// RunContention fires Contenders simultaneous bookings at one slot per round.
// Exactly one may succeed; the rest must be rejected with 409.
func (s *Simulator) RunContention() {
	ctx := context.Background()
	base := civiltime.InZone(time.Now()).AddDate(0, 0, 30)

	for round := 0; round < s.config.Rounds; round++ {
		day := base.AddDate(0, 0, round/8)
		start := time.Date(day.Year(), day.Month(), day.Day(), 8+round%8, 0, 0, 0, civiltime.Zone)
		provider := s.config.Providers[round%len(s.config.Providers)]

		var wg sync.WaitGroup
		var created int64
		gate := make(chan struct{})
		for i := 0; i < s.config.Contenders; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-gate
				if _, ok := s.book(ctx, &s.metrics.Contention, provider, start); ok {
					atomic.AddInt64(&created, 1)
				}
			}()
		}
		close(gate)
		wg.Wait()

		if created > 1 {
			atomic.AddInt64(&s.metrics.DoubleBooked, 1)
			s.logger.Error().Int64("created", created).Str("provider", provider).Time("start", start).Msg("slot double booked")
		}
	}
}

func (s *Simulator) RunMixed() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Msg("starting mixed load")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("mixed load complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
	base := civiltime.InZone(time.Now()).AddDate(0, 0, 40)

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			day := base.AddDate(0, 0, rng.Intn(60))
			start := time.Date(day.Year(), day.Month(), day.Day(), 8+rng.Intn(9), 15*rng.Intn(4), 0, 0, civiltime.Zone)
			provider := s.config.Providers[rng.Intn(len(s.config.Providers))]
			s.book(ctx, &s.metrics.Booking, provider, start)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			if b, ok := s.pool.Random(rng); ok {
				s.call(ctx, &s.metrics.Cancel, http.MethodPost, "/appointments/"+b.ID+"/cancel", nil)
			}
		default:
			if b, ok := s.pool.Random(rng); ok {
				s.call(ctx, &s.metrics.Lookup, http.MethodGet, "/appointments?code="+b.Code, nil)
			}
		}
	}
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, provider string, start time.Time) (booking, bool) {
	body := map[string]string{
		"patient_id":    "SIM" + gofakeit.DigitN(7),
		"patient_email": gofakeit.Email(),
		"provider_name": provider,
		"department":    s.config.Department,
		"start_local":   start.Format(civiltime.Layout),
	}
	raw, ok := s.call(ctx, om, http.MethodPost, "/appointments", body)
	if !ok {
		return booking{}, false
	}

	var b booking
	if err := json.Unmarshal(raw, &b); err == nil && b.ID != "" {
		s.pool.Add(b)
	}
	return b, true
}

// call records one request. 2xx is success; 409 and 422 count as expected
// rejections.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, body any) ([]byte, bool) {
	var rdr io.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		rdr = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, rdr)
	if err != nil {
		return nil, false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, false, false)
		}
		return nil, false
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	conflict := resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity
	om.Record(latency, success, conflict)
	return raw, success
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Contention rounds: %d x %d contenders\n", s.config.Rounds, s.config.Contenders)
	fmt.Printf("Double-booked rounds: %d\n", atomic.LoadInt64(&s.metrics.DoubleBooked))
	fmt.Printf("Mixed load: %s with %d workers\n\n", s.config.Duration, s.config.Workers)

	printOperationReport("Same-slot booking", &s.metrics.Contention)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Lookup by code", &s.metrics.Lookup)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
