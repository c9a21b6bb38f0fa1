// Package tracing carries correlation identifiers (run, request, iteration,
// model) and per-run metrics through a call graph via context.Context.
//
// Every setter returns a derived context and leaves its parent untouched, so
// the parent is the restoration point: once a unit of work returns, the
// caller's context still holds the values it had before. Goroutines that
// derive their own contexts never observe each other's values.
package tracing

import "context"

// Kind names one correlation identifier.
type Kind int

const (
	KindRun Kind = iota
	KindRequest
	KindIteration
	KindModel
)

func (k Kind) String() string {
	switch k {
	case KindRun:
		return "consortium_id"
	case KindRequest:
		return "request_id"
	case KindIteration:
		return "iteration_id"
	case KindModel:
		return "model_id"
	default:
		return "unknown"
	}
}

// Correlation is an immutable snapshot of the identifiers active in a
// context. Empty strings and a nil IterationID mean "not set".
type Correlation struct {
	RunID       string
	RequestID   string
	IterationID *int
	ModelID     string
}

// Iteration returns the iteration id and whether one is set.
func (c Correlation) Iteration() (int, bool) {
	if c.IterationID == nil {
		return 0, false
	}
	return *c.IterationID, true
}

// Fields returns the set identifiers keyed by their log field names.
func (c Correlation) Fields() map[string]any {
	f := make(map[string]any, 4)
	if c.RunID != "" {
		f[KindRun.String()] = c.RunID
	}
	if c.RequestID != "" {
		f[KindRequest.String()] = c.RequestID
	}
	if c.IterationID != nil {
		f[KindIteration.String()] = *c.IterationID
	}
	if c.ModelID != "" {
		f[KindModel.String()] = c.ModelID
	}
	return f
}

type correlationKey struct{}

// FromContext returns the correlation snapshot held by ctx. A nil ctx or a
// context without identifiers yields the zero Correlation.
func FromContext(ctx context.Context) Correlation {
	if ctx == nil {
		return Correlation{}
	}
	c, _ := ctx.Value(correlationKey{}).(Correlation)
	return c
}

func with(ctx context.Context, c Correlation) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationKey{}, c)
}

// WithRunID returns a context whose run identifier is id.
func WithRunID(ctx context.Context, id string) context.Context {
	c := FromContext(ctx)
	c.RunID = id
	return with(ctx, c)
}

// WithRequestID returns a context whose request identifier is id.
func WithRequestID(ctx context.Context, id string) context.Context {
	c := FromContext(ctx)
	c.RequestID = id
	return with(ctx, c)
}

// WithIteration returns a context whose iteration identifier is n.
func WithIteration(ctx context.Context, n int) context.Context {
	c := FromContext(ctx)
	c.IterationID = &n
	return with(ctx, c)
}

// WithModelID returns a context whose model identifier is id.
func WithModelID(ctx context.Context, id string) context.Context {
	c := FromContext(ctx)
	c.ModelID = id
	return with(ctx, c)
}
