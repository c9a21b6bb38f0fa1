package tracing

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// NewRunID returns a fresh run identifier in cons-<16 hex> form.
func NewRunID() string {
	return "cons-" + hexID(16)
}

// NewRequestID returns a fresh request identifier in req-<12 hex> form.
func NewRequestID() string {
	return "req-" + hexID(12)
}

func hexID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// Run executes fn inside a run scope. An empty runID is replaced with a
// generated one. fn receives the derived context and the run's metrics,
// which are frozen when fn returns or panics.
func Run(ctx context.Context, runID string, fn func(ctx context.Context, m *RunMetrics) error) error {
	if runID == "" {
		runID = NewRunID()
	}
	m := NewRunMetrics(runID)
	defer m.Complete()

	scoped := WithMetrics(WithRunID(ctx, runID), m)
	return fn(scoped, m)
}

// Request executes fn with requestID set, generating one when empty.
func Request(ctx context.Context, requestID string, fn func(ctx context.Context, requestID string) error) error {
	if requestID == "" {
		requestID = NewRequestID()
	}
	return fn(WithRequestID(ctx, requestID), requestID)
}

// Iteration executes fn with iteration n set and counts the iteration
// against the enclosing run, if any.
func Iteration(ctx context.Context, n int, fn func(ctx context.Context) error) error {
	MetricsFromContext(ctx).IncrementIterations()
	return fn(WithIteration(ctx, n))
}

// Model executes fn with modelID set.
func Model(ctx context.Context, modelID string, fn func(ctx context.Context) error) error {
	return fn(WithModelID(ctx, modelID))
}
