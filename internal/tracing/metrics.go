package tracing

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/zulandar/consortium/internal/errs"
)

// ErrorRecord is one error captured during a run.
type ErrorRecord struct {
	Message   string         `json:"error"`
	Kind      string         `json:"type"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MetricsSnapshot is a consistent, detached copy of a run's metrics.
type MetricsSnapshot struct {
	RunID            string         `json:"consortium_id"`
	TotalTokens      int            `json:"total_tokens"`
	TotalTimeMs      float64        `json:"total_time_ms"`
	ModelCallCount   int            `json:"model_calls"`
	ArbiterCallCount int            `json:"arbiter_calls"`
	IterationCount   int            `json:"iteration_count"`
	TokensByModel    map[string]int `json:"tokens_by_model"`
	Errors           []ErrorRecord  `json:"errors"`
	StartedAt        time.Time      `json:"started_at"`
	Elapsed          time.Duration  `json:"elapsed"`
	Completed        bool           `json:"completed"`
}

// RunMetrics accumulates token, call, timing, and error counts for one run.
// It is safe for concurrent use. After Complete, mutations are dropped.
//
// All methods accept a nil receiver so code running outside a run scope can
// report unconditionally.
type RunMetrics struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	elapsed   time.Duration
	done      bool

	totalTokens   int
	totalTimeMs   float64
	modelCalls    int
	arbiterCalls  int
	iterations    int
	tokensByModel map[string]int
	errors        []ErrorRecord
}

// NewRunMetrics returns an empty accumulator for runID.
func NewRunMetrics(runID string) *RunMetrics {
	return &RunMetrics{
		runID:         runID,
		startedAt:     time.Now(),
		tokensByModel: make(map[string]int),
	}
}

// RunID returns the identifier of the owning run.
func (m *RunMetrics) RunID() string {
	if m == nil {
		return ""
	}
	return m.runID
}

// update runs fn under the lock unless the run has completed.
func (m *RunMetrics) update(fn func()) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done {
		return
	}
	fn()
}

// AddTokens adds n tokens to model's tally and to the run total.
func (m *RunMetrics) AddTokens(model string, n int) {
	m.update(func() {
		m.tokensByModel[model] += n
		m.totalTokens += n
	})
}

// AddTiming adds a call duration in milliseconds.
func (m *RunMetrics) AddTiming(ms float64) {
	m.update(func() { m.totalTimeMs += ms })
}

// IncrementModelCalls counts one model call.
func (m *RunMetrics) IncrementModelCalls() {
	m.update(func() { m.modelCalls++ })
}

// IncrementArbiterCalls counts one arbiter call.
func (m *RunMetrics) IncrementArbiterCalls() {
	m.update(func() { m.arbiterCalls++ })
}

// IncrementIterations counts one refinement round.
func (m *RunMetrics) IncrementIterations() {
	m.update(func() { m.iterations++ })
}

// RecordError appends err with a copy of fields.
func (m *RunMetrics) RecordError(err error, fields map[string]any) {
	if err == nil {
		return
	}
	rec := ErrorRecord{
		Message:   err.Error(),
		Kind:      errs.Kind(err),
		Context:   maps.Clone(fields),
		Timestamp: time.Now().UTC(),
	}
	m.update(func() { m.errors = append(m.errors, rec) })
}

// Complete freezes the metrics. Later calls are no-ops.
func (m *RunMetrics) Complete() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.done {
		m.done = true
		m.elapsed = time.Since(m.startedAt)
	}
}

// Snapshot returns a deep copy taken under the lock.
func (m *RunMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{TokensByModel: map[string]int{}}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	errsCopy := make([]ErrorRecord, len(m.errors))
	for i, e := range m.errors {
		e.Context = maps.Clone(e.Context)
		errsCopy[i] = e
	}
	elapsed := m.elapsed
	if !m.done {
		elapsed = time.Since(m.startedAt)
	}
	return MetricsSnapshot{
		RunID:            m.runID,
		TotalTokens:      m.totalTokens,
		TotalTimeMs:      m.totalTimeMs,
		ModelCallCount:   m.modelCalls,
		ArbiterCallCount: m.arbiterCalls,
		IterationCount:   m.iterations,
		TokensByModel:    maps.Clone(m.tokensByModel),
		Errors:           errsCopy,
		StartedAt:        m.startedAt,
		Elapsed:          elapsed,
		Completed:        m.done,
	}
}

type metricsKey struct{}

// WithMetrics attaches m to ctx.
func WithMetrics(ctx context.Context, m *RunMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metricsKey{}, m)
}

// MetricsFromContext returns the accumulator of the enclosing run, or nil.
func MetricsFromContext(ctx context.Context) *RunMetrics {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(metricsKey{}).(*RunMetrics)
	return m
}
