package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Launch metrics
	LaunchesTotal  *prometheus.CounterVec
	LaunchDuration prometheus.Histogram
	AppsRunning    prometheus.Gauge
	LeakedUnits    prometheus.Counter

	// Resource metrics
	FetchesTotal  *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	Verifications *prometheus.CounterVec
	ReResolutions *prometheus.CounterVec

	// Security metrics
	Denials *prometheus.CounterVec
	Prompts *prometheus.CounterVec

	// Control API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values for the status endpoint.
type Snapshot struct {
	Launches    int64 `json:"launches"`
	Failures    int64 `json:"failures"`
	Running     int64 `json:"running"`
	Denials     int64 `json:"denials"`
	LeakedUnits int64 `json:"leaked_units"`
	Fetches     int64 `json:"fetches"`
	FetchErrors int64 `json:"fetch_errors"`
}

// NewMetrics registers the launcher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		LaunchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_launches_total",
				Help: "Launch attempts by result",
			},
			[]string{"result"},
		),
		LaunchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netlaunch_launch_duration_seconds",
				Help:    "Time from launch request to first unit started",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		AppsRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "netlaunch_apps_running",
				Help: "Applications currently running in this process",
			},
		),
		LeakedUnits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "netlaunch_leaked_units_total",
				Help: "Units of work still alive after a stop grace period",
			},
		),
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_fetches_total",
				Help: "Resource fetches by result",
			},
			[]string{"result"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "netlaunch_fetch_duration_seconds",
				Help:    "Resource fetch duration",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_jar_verifications_total",
				Help: "Jar signature verifications by signing state",
			},
			[]string{"state"},
		),
		ReResolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_code_source_reresolutions_total",
				Help: "Best-effort re-resolutions of unknown code sources",
			},
			[]string{"result"},
		),
		Denials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_permission_denials_total",
				Help: "Permission checks denied by kind",
			},
			[]string{"kind"},
		),
		Prompts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_prompts_total",
				Help: "User prompts by kind and decision",
			},
			[]string{"kind", "decision"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "netlaunch_api_requests_total",
				Help: "Control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "netlaunch_api_request_duration_seconds",
				Help:    "Control API request duration",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"method", "path"},
		),
	}
}

// RecordLaunch counts a launch attempt.
func (m *Metrics) RecordLaunch(result string) {
	if m == nil {
		return
	}
	m.LaunchesTotal.WithLabelValues(result).Inc()

	m.mu.Lock()
	m.snapshot.Launches++
	if result != "success" {
		m.snapshot.Failures++
	}
	m.mu.Unlock()
}

// ObserveLaunch records time spent launching.
func (m *Metrics) ObserveLaunch(d time.Duration) {
	if m == nil {
		return
	}
	m.LaunchDuration.Observe(d.Seconds())
}

// SetRunning sets the number of running applications.
func (m *Metrics) SetRunning(count int) {
	if m == nil {
		return
	}
	m.AppsRunning.Set(float64(count))

	m.mu.Lock()
	m.snapshot.Running = int64(count)
	m.mu.Unlock()
}

// RecordLeaked counts units that outlived a stop.
func (m *Metrics) RecordLeaked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.LeakedUnits.Add(float64(n))

	m.mu.Lock()
	m.snapshot.LeakedUnits += int64(n)
	m.mu.Unlock()
}

// RecordFetch counts a resource fetch.
func (m *Metrics) RecordFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(result).Inc()
	m.FetchDuration.Observe(d.Seconds())

	m.mu.Lock()
	m.snapshot.Fetches++
	if result == "error" {
		m.snapshot.FetchErrors++
	}
	m.mu.Unlock()
}

// RecordVerification counts a jar verification by resulting state.
func (m *Metrics) RecordVerification(state string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(state).Inc()
}

// RecordReResolution counts a best-effort code source re-resolution.
func (m *Metrics) RecordReResolution(result string) {
	if m == nil {
		return
	}
	m.ReResolutions.WithLabelValues(result).Inc()
}

// RecordDenial counts a denied permission check.
func (m *Metrics) RecordDenial(kind string) {
	if m == nil {
		return
	}
	m.Denials.WithLabelValues(kind).Inc()

	m.mu.Lock()
	m.snapshot.Denials++
	m.mu.Unlock()
}

// RecordPrompt counts a user prompt.
func (m *Metrics) RecordPrompt(kind, decision string) {
	if m == nil {
		return
	}
	m.Prompts.WithLabelValues(kind, decision).Inc()
}

// RecordHTTPRequest records a control API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Snapshot returns current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
