package logging

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/zulandar/consortium/internal/tracing"
)

// Preview lengths for log records. Full text belongs in the stores.
const (
	PromptPreviewLen   = 100
	ResponsePreviewLen = 100
	RawPreviewLen      = 200
)

// Event types stamped on convenience records.
const (
	EventModelCall       = "model_call"
	EventModelError      = "model_error"
	EventArbiterDecision = "arbiter_decision"
	EventIterationStart  = "iteration_start"
	EventIterationEnd    = "iteration_end"
	EventRunSummary      = "run_summary"
)

// Fields are caller-supplied record fields.
type Fields map[string]any

// Emitter writes structured records stamped with the correlation
// identifiers held by the call's context. It never persists anything.
type Emitter struct {
	logger *zap.Logger
}

// NewEmitter wraps logger. A nil logger discards everything.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{logger: logger}
}

// Logger returns the underlying zap logger.
func (e *Emitter) Logger() *zap.Logger { return e.logger }

// Log merges the correlation fields of ctx with extra, extra winning on
// collision, and writes one record at level.
func (e *Emitter) Log(ctx context.Context, level zapcore.Level, msg string, extra Fields) {
	ce := e.logger.Check(level, msg)
	if ce == nil {
		return
	}
	merged := tracing.FromContext(ctx).Fields()
	for k, v := range extra {
		merged[k] = v
	}
	ce.Write(toZap(merged)...)
}

func (e *Emitter) Debug(ctx context.Context, msg string, extra Fields) {
	e.Log(ctx, zapcore.DebugLevel, msg, extra)
}

func (e *Emitter) Info(ctx context.Context, msg string, extra Fields) {
	e.Log(ctx, zapcore.InfoLevel, msg, extra)
}

func (e *Emitter) Warn(ctx context.Context, msg string, extra Fields) {
	e.Log(ctx, zapcore.WarnLevel, msg, extra)
}

func (e *Emitter) Error(ctx context.Context, msg string, extra Fields) {
	e.Log(ctx, zapcore.ErrorLevel, msg, extra)
}

// toZap converts fields in key order so records are stable.
func toZap(f map[string]any) []zap.Field {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}

// ModelCall describes one completed or failed model invocation.
type ModelCall struct {
	Model      string
	Prompt     string
	Response   string
	Tokens     int
	DurationMs float64
	Confidence float64
	Err        error
	Extra      Fields
}

// LogModelCall records a model call at info, or at error with
// event_type=model_error when the call failed.
func (e *Emitter) LogModelCall(ctx context.Context, c ModelCall) {
	f := Fields{
		"event_type":       EventModelCall,
		"model_id":         c.Model,
		"duration_ms":      c.DurationMs,
		"tokens":           c.Tokens,
		"confidence":       c.Confidence,
		"prompt_preview":   Truncate(c.Prompt, PromptPreviewLen),
		"response_preview": Truncate(c.Response, ResponsePreviewLen),
	}
	for k, v := range c.Extra {
		f[k] = v
	}
	if c.Err != nil {
		f["event_type"] = EventModelError
		f["error"] = c.Err.Error()
		e.Error(ctx, fmt.Sprintf("Model call failed: %s - %v", c.Model, c.Err), f)
		return
	}
	e.Info(ctx, fmt.Sprintf("Model call: %s (%d tokens, %.2fms)", c.Model, c.Tokens, c.DurationMs), f)
}

// ArbiterDecision describes one arbiter evaluation for logging.
type ArbiterDecision struct {
	ArbiterModel    string
	EvaluatedModels []string
	Confidence      float64
	RefinementAreas []string
	RawResponse     string
	Extra           Fields
}

// LogArbiterDecision records an arbiter decision at info.
func (e *Emitter) LogArbiterDecision(ctx context.Context, d ArbiterDecision) {
	f := Fields{
		"event_type":           EventArbiterDecision,
		"model_id":             d.ArbiterModel,
		"evaluated_models":     d.EvaluatedModels,
		"confidence":           d.Confidence,
		"refinement_areas":     d.RefinementAreas,
		"raw_response_preview": Truncate(d.RawResponse, RawPreviewLen),
	}
	for k, v := range d.Extra {
		f[k] = v
	}
	e.Info(ctx, fmt.Sprintf("Arbiter decision: %s evaluated %d models (confidence: %.2f)",
		d.ArbiterModel, len(d.EvaluatedModels), d.Confidence), f)
}

// LogIterationStart records the start of a refinement round.
func (e *Emitter) LogIterationStart(ctx context.Context, iteration int, prompt string) {
	e.Info(ctx, fmt.Sprintf("Starting iteration %d", iteration), Fields{
		"event_type":     EventIterationStart,
		"iteration_id":   iteration,
		"prompt_preview": Truncate(prompt, PromptPreviewLen),
	})
}

// LogIterationEnd records the end of a refinement round.
func (e *Emitter) LogIterationEnd(ctx context.Context, iteration int, confidence float64) {
	e.Info(ctx, fmt.Sprintf("Completed iteration %d (confidence: %.2f)", iteration, confidence), Fields{
		"event_type":   EventIterationEnd,
		"iteration_id": iteration,
		"confidence":   confidence,
	})
}

// LogRunSummary records the final metrics of a run.
func (e *Emitter) LogRunSummary(ctx context.Context, s tracing.MetricsSnapshot) {
	e.Info(ctx, fmt.Sprintf("Run %s finished: %d tokens, %d model calls, %d errors",
		s.RunID, s.TotalTokens, s.ModelCallCount, len(s.Errors)), Fields{
		"event_type":      EventRunSummary,
		"consortium_id":   s.RunID,
		"tokens":          s.TotalTokens,
		"duration_ms":     s.TotalTimeMs,
		"model_calls":     s.ModelCallCount,
		"arbiter_calls":   s.ArbiterCallCount,
		"iteration_count": s.IterationCount,
		"tokens_by_model": s.TokensByModel,
		"error_count":     len(s.Errors),
	})
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
