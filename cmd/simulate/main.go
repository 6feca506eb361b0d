package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduler/internal/api"
	"github.com/hackgods/clinic-queue-scheduler/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ApproveRatio float64
	ReadRatio    float64
	Patients     int
	ProviderID   uuid.UUID
	Date         string
}

// DataPool holds what the workers draw from: patient ids, open slots and the
// appointments created so far.
type DataPool struct {
	Patients     []uuid.UUID
	Slots        []string
	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeConflict
	outcomeBusy
	outcomeError
)

func classify(resp *http.Response, err error, okStatus int) outcome {
	switch {
	case err != nil:
		return outcomeError
	case resp.StatusCode == okStatus:
		return outcomeOK
	case resp.StatusCode == http.StatusConflict:
		return outcomeConflict
	case resp.StatusCode == http.StatusServiceUnavailable:
		return outcomeBusy
	default:
		return outcomeError
	}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Busy      int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, o outcome) {
	atomic.AddInt64(&om.Total, 1)
	switch o {
	case outcomeOK:
		atomic.AddInt64(&om.Success, 1)
	case outcomeConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case outcomeBusy:
		atomic.AddInt64(&om.Busy, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	Booking       OperationMetrics
	Approve       OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	Queue         OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	logger  zerolog.Logger
	metrics Metrics
}

func main() {
	logger := logging.New("simulate", getEnv("APP_ENV", "dev"), getEnv("LOG_LEVEL", "info"))

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("approve", cfg.ApproveRatio).
		Float64("read", cfg.ReadRatio).
		Str("provider_id", cfg.ProviderID.String()).
		Str("date", cfg.Date).
		Msg("simulator starting")

	sim := &Simulator{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dataPool, err := sim.loadDataPool(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load data pool")
	}
	sim.pool = dataPool
	logger.Info().Int("patients", len(dataPool.Patients)).Int("open_slots", len(dataPool.Slots)).Msg("data pool loaded")

	sim.Run()
	sim.PrintReport()
}

func loadConfig() (SimConfig, error) {
	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ApproveRatio: getFloat("SIM_APPROVE_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		Patients:     getInt("SIM_PATIENTS", 500),
		Date:         getEnv("SIM_DATE", time.Now().AddDate(0, 0, 1).Format(time.DateOnly)),
	}

	id, err := uuid.Parse(os.Getenv("SIM_PROVIDER_ID"))
	if err != nil {
		return cfg, fmt.Errorf("SIM_PROVIDER_ID must be a provider uuid: %w", err)
	}
	cfg.ProviderID = id

	if cfg.Workers <= 0 {
		return cfg, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return cfg, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Patients <= 0 {
		return cfg, fmt.Errorf("SIM_PATIENTS must be > 0")
	}

	total := cfg.BookingRatio + cfg.ApproveRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.ApproveRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg, nil
}

// loadDataPool asks the api for the provider's availability and keeps the
// slots that still have room.
func (s *Simulator) loadDataPool(ctx context.Context) (*DataPool, error) {
	url := fmt.Sprintf("%s/providers/%s/availability?date=%s", s.config.APIBaseURL, s.config.ProviderID, s.config.Date)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load availability: status %d", resp.StatusCode)
	}

	var avail api.AvailabilityResponse
	if err := json.NewDecoder(resp.Body).Decode(&avail); err != nil {
		return nil, fmt.Errorf("decode availability: %w", err)
	}

	dp := &DataPool{}
	for _, slot := range avail.Slots {
		if !slot.Past && slot.Remaining > 0 {
			dp.Slots = append(dp.Slots, slot.Start)
		}
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no open slots for %s on %s", s.config.ProviderID, s.config.Date)
	}

	dp.Patients = make([]uuid.UUID, s.config.Patients)
	for i := range dp.Patients {
		dp.Patients[i] = uuid.New()
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ApproveRatio:
				s.doApprove(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doListByPatient(ctx, rng)
				case 2:
					s.doQueue(ctx)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	body, _ := json.Marshal(api.BookAppointmentRequest{
		PatientID:  s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		ProviderID: s.config.ProviderID.String(),
		Date:       s.config.Date,
		SlotStart:  s.pool.Slots[rng.Intn(len(s.pool.Slots))],
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	o := classify(resp, err, http.StatusCreated)
	if err == nil {
		defer resp.Body.Close()
		if o == outcomeOK {
			var appt api.AppointmentResponse
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
				s.pool.AddAppointment(appt.ID)
			}
		}
	}
	s.metrics.Booking.Record(latency, o)
}

func (s *Simulator) doApprove(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.metrics.Approve.Record(s.call(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/approve", s.config.APIBaseURL, apptID)))
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.metrics.ReadByID.Record(s.call(ctx, http.MethodGet,
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, apptID)))
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.metrics.ListByPatient.Record(s.call(ctx, http.MethodGet,
		fmt.Sprintf("%s/patients/%s/appointments?limit=20&offset=0", s.config.APIBaseURL, patientID)))
}

func (s *Simulator) doQueue(ctx context.Context) {
	s.metrics.Queue.Record(s.call(ctx, http.MethodGet,
		fmt.Sprintf("%s/providers/%s/queue?date=%s", s.config.APIBaseURL, s.config.ProviderID, s.config.Date)))
}

// call issues a body-less request and classifies a 200 as success.
func (s *Simulator) call(ctx context.Context, method, url string) (time.Duration, outcome) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, method, url, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err == nil {
		resp.Body.Close()
	}
	return latency, classify(resp, err, http.StatusOK)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Provider: %s on %s (%d open slots)\n", s.config.ProviderID, s.config.Date, len(s.pool.Slots))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Approve", &s.metrics.Approve)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("Provider Queue", &s.metrics.Queue)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	busy := atomic.LoadInt64(&om.Busy)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if busy > 0 {
		fmt.Printf("  Busy: %d (%.1f%%)\n", busy, pct(busy))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
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
