// Package invoke wraps the model invocation capability with correlation,
// metrics and structured logging.
package invoke

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/zulandar/consortium/internal/errs"
	"github.com/zulandar/consortium/internal/logging"
	"github.com/zulandar/consortium/internal/tracing"
)

// Invoker sends a prompt to a model and returns its text. An empty system
// prompt means none.
type Invoker interface {
	Invoke(ctx context.Context, model, prompt, system string) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, model, prompt, system string) (string, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, model, prompt, system string) (string, error) {
	return f(ctx, model, prompt, system)
}

// TokenCounter estimates the tokens used by one call.
type TokenCounter func(prompt, response string) int

// EstimateTokens approximates tokens as one per four characters of prompt
// and response.
func EstimateTokens(prompt, response string) int {
	return (utf8.RuneCountInString(prompt) + utf8.RuneCountInString(response)) / 4
}

// Instrumented is an Invoker that runs each call in a model scope, updates
// the enclosing run's metrics, and emits a model_call or model_error event.
type Instrumented struct {
	next    Invoker
	emitter *logging.Emitter
	count   TokenCounter
}

// Opts holds parameters for New.
type Opts struct {
	Invoker      Invoker
	Emitter      *logging.Emitter // optional
	TokenCounter TokenCounter     // defaults to EstimateTokens
}

// New creates an Instrumented invoker.
func New(opts Opts) (*Instrumented, error) {
	if opts.Invoker == nil {
		return nil, fmt.Errorf("invoke: invoker is required")
	}
	em := opts.Emitter
	if em == nil {
		em = logging.NewEmitter(nil)
	}
	count := opts.TokenCounter
	if count == nil {
		count = EstimateTokens
	}
	return &Instrumented{next: opts.Invoker, emitter: em, count: count}, nil
}

// Invoke calls the wrapped invoker as a model call.
func (i *Instrumented) Invoke(ctx context.Context, model, prompt, system string) (string, error) {
	return i.call(ctx, model, prompt, system, false)
}

// InvokeArbiter calls the wrapped invoker as an arbiter call. It is counted
// separately from model calls.
func (i *Instrumented) InvokeArbiter(ctx context.Context, model, prompt, system string) (string, error) {
	return i.call(ctx, model, prompt, system, true)
}

func (i *Instrumented) call(ctx context.Context, model, prompt, system string, arbiter bool) (string, error) {
	var out string
	err := tracing.Model(ctx, model, func(ctx context.Context) error {
		m := tracing.MetricsFromContext(ctx)
		start := time.Now()
		resp, err := i.next.Invoke(ctx, model, prompt, system)
		ms := float64(time.Since(start).Microseconds()) / 1000

		if arbiter {
			m.IncrementArbiterCalls()
		} else {
			m.IncrementModelCalls()
		}
		m.AddTiming(ms)

		if err != nil {
			var ie *errs.ModelInvocationError
			if !errors.As(err, &ie) {
				err = &errs.ModelInvocationError{Model: model, Err: err}
			}
			m.RecordError(err, tracing.FromContext(ctx).Fields())
			i.emitter.LogModelCall(ctx, logging.ModelCall{
				Model:      model,
				Prompt:     prompt,
				DurationMs: ms,
				Err:        err,
			})
			return err
		}

		tokens := i.count(prompt, resp)
		m.AddTokens(model, tokens)
		i.emitter.LogModelCall(ctx, logging.ModelCall{
			Model:      model,
			Prompt:     prompt,
			Response:   resp,
			Tokens:     tokens,
			DurationMs: ms,
		})
		out = resp
		return nil
	})
	return out, err
}

// Result is one model's outcome from Gather.
type Result struct {
	Model    string
	Response string
	Err      error
}

// Gather sends prompt to every model concurrently, at most limit at a time
// (no limit when limit <= 0), and returns results in the order of models.
// A failed model does not stop the others.
func Gather(ctx context.Context, inv Invoker, models []string, prompt, system string, limit int) []Result {
	results := make([]Result, len(models))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for idx, model := range models {
		g.Go(func() error {
			resp, err := inv.Invoke(gctx, model, prompt, system)
			results[idx] = Result{Model: model, Response: resp, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
