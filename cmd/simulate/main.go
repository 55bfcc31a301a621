package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/kiosk-booking/internal/logger"
)

// SimConfig shapes the load: many workers race for a few doctors' slots so
// booking conflicts show up in the report.
type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	BatchRatio   float64
	ReadRatio    float64
	Patients     int
	Doctors      int
	Days         int
}

// Slot is one doctor, day and time a kiosk may try to book.
type Slot struct {
	DoctorID   string
	DoctorName string
	Date       string
	Time       string
}

type DataPool struct {
	Patients  []string
	Doctors   map[string]string
	DoctorIDs []string
	Dates     []string
	Times     []string

	mu           sync.RWMutex
	appointments []bookedRef
}

type bookedRef struct {
	PatientID     string
	AppointmentID string
}

func (dp *DataPool) AddAppointment(ref bookedRef) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, ref)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (bookedRef, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return bookedRef{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

func (dp *DataPool) randomSlot(rng *rand.Rand) Slot {
	id := dp.DoctorIDs[rng.Intn(len(dp.DoctorIDs))]
	return Slot{
		DoctorID:   id,
		DoctorName: dp.Doctors[id],
		Date:       dp.Dates[rng.Intn(len(dp.Dates))],
		Time:       dp.Times[rng.Intn(len(dp.Times))],
	}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err == nil && status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case err == nil && status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

type latencySummary struct {
	avg, min, max, p50, p95, p99 time.Duration
}

func (om *OperationMetrics) summary() latencySummary {
	om.mu.Lock()
	sorted := slices.Clone(om.Latencies)
	om.mu.Unlock()

	if len(sorted) == 0 {
		return latencySummary{}
	}
	slices.Sort(sorted)

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	at := func(p int) time.Duration {
		return sorted[min(len(sorted)*p/100, len(sorted)-1)]
	}
	return latencySummary{
		avg: sum / time.Duration(len(sorted)),
		min: sorted[0],
		max: sorted[len(sorted)-1],
		p50: at(50),
		p95: at(95),
		p99: at(99),
	}
}

type Metrics struct {
	Book          OperationMetrics
	BookBatch     OperationMetrics
	Availability  OperationMetrics
	ListByPatient OperationMetrics
	ReadByID      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     *zap.Logger
}

func main() {
	log, err := logger.New(logger.Config{Level: "info", Dev: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	log.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("book", cfg.BookingRatio),
		zap.Float64("batch", cfg.BatchRatio),
		zap.Float64("read", cfg.ReadRatio))

	pool := buildDataPool(cfg, gofakeit.New(uint64(time.Now().UnixNano())))
	log.Info("data pool ready",
		zap.Int("patients", len(pool.Patients)), zap.Int("doctors", len(pool.Doctors)),
		zap.Int("dates", len(pool.Dates)), zap.Int("times", len(pool.Times)))

	sim := &Simulator{
		config: cfg,
		pool:   pool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	_ = godotenv.Load()

	var cfg SimConfig
	flag.StringVar(&cfg.APIBaseURL, "api", envOr("SIM_API_BASE_URL", "http://localhost:8080"), "api-server base URL")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "how long to run")
	flag.IntVar(&cfg.Workers, "workers", 10, "concurrent kiosks")
	flag.Float64Var(&cfg.BookingRatio, "book", 0.5, "share of single bookings")
	flag.Float64Var(&cfg.BatchRatio, "batch", 0.1, "share of batch bookings")
	flag.Float64Var(&cfg.ReadRatio, "read", 0.4, "share of reads")
	flag.IntVar(&cfg.Patients, "patients", 200, "distinct fake patients")
	flag.IntVar(&cfg.Doctors, "doctors", 5, "distinct doctors")
	flag.IntVar(&cfg.Days, "days", 3, "bookable days starting tomorrow")
	flag.Parse()

	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if total := cfg.BookingRatio + cfg.BatchRatio + cfg.ReadRatio; total > 0 {
		cfg.BookingRatio /= total
		cfg.BatchRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("-workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("-duration must be > 0")
	}
	if cfg.Patients <= 0 || cfg.Doctors <= 0 || cfg.Days <= 0 {
		return fmt.Errorf("-patients, -doctors and -days must be > 0")
	}
	if cfg.Doctors > 900 {
		return fmt.Errorf("-doctors must be at most 900")
	}
	return nil
}

func buildDataPool(cfg SimConfig, faker *gofakeit.Faker) *DataPool {
	pool := &DataPool{Doctors: make(map[string]string, cfg.Doctors)}

	for i := 0; i < cfg.Patients; i++ {
		pool.Patients = append(pool.Patients, faker.UUID())
	}
	for len(pool.Doctors) < cfg.Doctors {
		pool.Doctors[strconv.Itoa(faker.Number(100, 999))] = "Dr. " + faker.LastName()
	}
	for id := range pool.Doctors {
		pool.DoctorIDs = append(pool.DoctorIDs, id)
	}
	slices.Sort(pool.DoctorIDs)

	day := time.Now().UTC().AddDate(0, 0, 1)
	for i := 0; i < cfg.Days; i++ {
		pool.Dates = append(pool.Dates, day.AddDate(0, 0, i).Format("2006-01-02"))
	}
	for h := 9; h < 17; h++ {
		pool.Times = append(pool.Times, fmt.Sprintf("%02d:00", h), fmt.Sprintf("%02d:30", h))
	}
	return pool
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info("starting simulation", zap.Duration("duration", s.config.Duration), zap.Int("workers", s.config.Workers))

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBook(ctx, rng)
		case r < s.config.BookingRatio+s.config.BatchRatio:
			s.doBookBatch(ctx, rng)
		default:
			switch rng.Intn(3) {
			case 0:
				s.doAvailability(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doReadByID(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBook(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.randomSlot(rng)
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	body := map[string]any{
		"patientId": patientID,
		"appointment_details": map[string]any{
			"dateISO":    slot.Date,
			"timeSlot":   slot.Time,
			"doctorId":   slot.DoctorID,
			"doctorName": slot.DoctorName,
			"clinicName": "Simulated Clinic",
		},
		"source": "simulate",
	}

	var resp struct {
		AppointmentID string `json:"appointmentId"`
	}
	start := time.Now()
	status, err := s.postJSON(ctx, "/api/appointments/book", body, &resp)
	if ctx.Err() != nil {
		return
	}
	s.metrics.Book.Record(time.Since(start), status, err)

	if status == http.StatusCreated && resp.AppointmentID != "" {
		s.pool.AddAppointment(bookedRef{PatientID: patientID, AppointmentID: resp.AppointmentID})
	}
}

func (s *Simulator) doBookBatch(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.randomSlot(rng)
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	n := 2 + rng.Intn(3)
	first := rng.Intn(len(s.pool.Times))
	times := make([]string, 0, n)
	for i := 0; i < n && first+i < len(s.pool.Times); i++ {
		times = append(times, s.pool.Times[first+i])
	}

	body := map[string]any{
		"patientId": patientID,
		"appointment_details": map[string]any{
			"dateISO":    slot.Date,
			"doctorId":   slot.DoctorID,
			"doctorName": slot.DoctorName,
		},
		"timeSlots": times,
		"source":    "simulate",
	}

	var resp struct {
		Appointments []struct {
			AppointmentID string `json:"appointmentId"`
		} `json:"appointments"`
	}
	start := time.Now()
	status, err := s.postJSON(ctx, "/api/appointments/book-batch", body, &resp)
	if ctx.Err() != nil {
		return
	}
	s.metrics.BookBatch.Record(time.Since(start), status, err)

	for _, a := range resp.Appointments {
		s.pool.AddAppointment(bookedRef{PatientID: patientID, AppointmentID: a.AppointmentID})
	}
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	slot := s.pool.randomSlot(rng)
	q := url.Values{"type": {"doctor"}, "resourceId": {slot.DoctorID}, "date": {slot.Date}}
	s.timedGet(ctx, "/api/appointments/availability?"+q.Encode(), &s.metrics.Availability)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timedGet(ctx, fmt.Sprintf("/api/patients/%s/appointments?limit=20", ref.PatientID), &s.metrics.ListByPatient)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	ref, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	s.timedGet(ctx, fmt.Sprintf("/api/patients/%s/appointments/%s", ref.PatientID, ref.AppointmentID), &s.metrics.ReadByID)
}

func (s *Simulator) timedGet(ctx context.Context, path string, om *OperationMetrics) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		om.Record(time.Since(start), 0, err)
		return
	}
	resp, err := s.client.Do(req)
	if ctx.Err() != nil {
		return
	}
	status := 0
	if err == nil {
		status = resp.StatusCode
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	om.Record(time.Since(start), status, err)
}

func (s *Simulator) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode < 300 && out != nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, out)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Printf("\nkiosk simulation: %s with %d workers against %s\n\n", s.config.Duration, s.config.Workers, s.config.APIBaseURL)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "operation\ttotal\tok\tconflict\terror\tavg\tp50\tp95\tp99\tmax\t")
	rows := []struct {
		name string
		om   *OperationMetrics
	}{
		{"book", &s.metrics.Book},
		{"book-batch", &s.metrics.BookBatch},
		{"availability", &s.metrics.Availability},
		{"list-by-patient", &s.metrics.ListByPatient},
		{"read-by-id", &s.metrics.ReadByID},
	}
	for _, row := range rows {
		total := atomic.LoadInt64(&row.om.Total)
		if total == 0 {
			continue
		}
		l := row.om.summary()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\t\n",
			row.name, total,
			atomic.LoadInt64(&row.om.Success), atomic.LoadInt64(&row.om.Conflict), atomic.LoadInt64(&row.om.Error),
			ms(l.avg), ms(l.p50), ms(l.p95), ms(l.p99), ms(l.max))
	}
	_ = tw.Flush()
}

func ms(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
