package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	labelOperation = "operation"
	labelOutcome   = "outcome"

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// OperationStats is the aggregate for one operation name.
type OperationStats struct {
	Operation     string        `json:"operation"`
	Count         int64         `json:"count"`
	Successes     int64         `json:"successes"`
	Failures      int64         `json:"failures"`
	Retries       int64         `json:"retries"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
	LastError     string        `json:"last_error,omitempty"`
}

func (s OperationStats) AverageDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Count)
}

// Metrics aggregates executions per operation name and mirrors them to Prometheus.
type Metrics struct {
	mu    sync.Mutex
	stats map[string]*OperationStats

	executions *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics registers collectors on reg. A nil reg keeps the aggregate in memory only.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{stats: make(map[string]*OperationStats)}
	if reg == nil {
		return m
	}

	factory := promauto.With(reg)
	m.executions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_operation_executions_total",
			Help: "Executions of wrapped remote and store operations, by outcome",
		},
		[]string{labelOperation, labelOutcome},
	)
	m.retries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_operation_retries_total",
			Help: "Retry attempts of wrapped operations",
		},
		[]string{labelOperation},
	)
	m.duration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_operation_duration_seconds",
			Help:    "Wall time of wrapped operations including retries",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{labelOperation},
	)
	return m
}

// Record adds one execution. attempts counts every try, so retries = attempts-1.
func (m *Metrics) Record(op string, d time.Duration, attempts int, err error) {
	retries := int64(0)
	if attempts > 1 {
		retries = int64(attempts - 1)
	}

	m.mu.Lock()
	s, ok := m.stats[op]
	if !ok {
		s = &OperationStats{Operation: op, MinDuration: d}
		m.stats[op] = s
	}
	s.Count++
	s.Retries += retries
	s.TotalDuration += d
	if d < s.MinDuration {
		s.MinDuration = d
	}
	if d > s.MaxDuration {
		s.MaxDuration = d
	}
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
	} else {
		s.Successes++
	}
	m.mu.Unlock()

	if m.executions == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
	}
	m.executions.WithLabelValues(op, outcome).Inc()
	m.retries.WithLabelValues(op).Add(float64(retries))
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

// Get returns a copy of the aggregate for op.
func (m *Metrics) Get(op string) (OperationStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[op]
	if !ok {
		return OperationStats{}, false
	}
	return *s, true
}

// Snapshot returns every aggregate sorted by operation name.
func (m *Metrics) Snapshot() []OperationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]OperationStats, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = make(map[string]*OperationStats)
}
