package phase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/prompt"
	"github.com/Iron-Ham/klaus/internal/telemetry"
)

// Runner executes a single phase: hooks, header, timing, logging and the
// conversion of unexpected errors and panics into failed results. It never
// retries.
type Runner struct {
	display *display.Display
	logger  *logging.Logger
	verbose bool
	now     func() time.Time
}

// NewRunner creates a Runner. verbose adds technical detail to failures.
func NewRunner(d *display.Display, logger *logging.Logger, verbose bool) *Runner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{display: d, logger: logger, verbose: verbose, now: time.Now}
}

// Run executes p and reports whether it succeeded. The returned error is
// non-nil only for a navigation signal, which is passed through unmodified,
// or for a user interrupt; every other problem becomes a false result.
func (r *Runner) Run(ctx context.Context, p Phase, wc *WorkflowContext) (bool, error) {
	res, err := r.RunResult(ctx, p, wc)
	if err != nil {
		return false, err
	}
	return res.Success, nil
}

// RunResult is Run returning the full Result, with Elapsed filled in.
func (r *Runner) RunResult(ctx context.Context, p Phase, wc *WorkflowContext) (Result, error) {
	start := r.now()
	logger := r.logger.WithPhase(p.Name())

	ctx, span := telemetry.Tracer().Start(ctx, "phase."+p.Name(), trace.WithAttributes(
		attribute.String("workflow", wc.Kind.String()),
		attribute.String("run_id", wc.RunID),
	))
	defer span.End()

	hooks, hasHooks := p.(Hooks)
	if hasHooks {
		if err := hooks.Before(ctx, wc); err != nil {
			return r.finish(logger, span, p, Result{}, err, start, "")
		}
	}

	if r.display != nil {
		r.display.Clear()
		r.display.Header(p.Description(), "")
	}
	logger.Info("phase started", "description", p.Description())

	result, stack, err := r.execute(ctx, p, wc)

	if hasHooks {
		hooks.After(ctx, wc, result)
	}

	return r.finish(logger, span, p, result, err, start, stack)
}

// execute calls Execute, turning a panic into an error plus its stack.
func (r *Runner) execute(ctx context.Context, p Phase, wc *WorkflowContext) (res Result, stack string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Result{}
			err = fmt.Errorf("panic: %v", rec)
			stack = string(debug.Stack())
		}
	}()
	res, err = p.Execute(ctx, wc)
	return res, "", err
}

func (r *Runner) finish(logger *logging.Logger, span trace.Span, p Phase, result Result, err error, start time.Time, stack string) (Result, error) {
	elapsed := r.now().Sub(start)

	if sig, ok := AsNavigation(err); ok {
		// Navigation is control flow, not a failure.
		logger.Info("phase requested navigation", "signal", sig.Error(), "elapsed", elapsed)
		span.SetAttributes(attribute.String("navigation", sig.Error()))
		return Result{Elapsed: elapsed}, err
	}

	if isInterrupt(err) {
		logger.Warn("phase interrupted", "elapsed", elapsed)
		span.SetStatus(codes.Error, "interrupted")
		return Result{Elapsed: elapsed}, err
	}

	if err != nil {
		logger.Error("unexpected error in phase", "error", err.Error(), "elapsed", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		result = Failed("Unexpected error in "+p.Name()+": "+kerrors.UserMessage(err, r.verbose), err)
	}

	result.Elapsed = elapsed
	span.SetAttributes(attribute.Bool("success", result.Success))

	if result.Success {
		logger.Info("phase completed", "message", result.Message, "elapsed", elapsed)
		if r.display != nil {
			r.display.Success(nonEmpty(result.Message, p.Description()+" completed"), elapsed)
		}
		return result, nil
	}

	if err == nil {
		logger.Warn("phase failed", "message", result.Message, "elapsed", elapsed)
		if result.Err != nil {
			span.RecordError(result.Err)
		}
		span.SetStatus(codes.Error, result.Message)
	}
	if r.display != nil {
		detail := stack
		if detail == "" && result.Err != nil {
			detail = result.Err.Error()
		}
		r.display.Failure(nonEmpty(result.Message, p.Description()+" failed"), elapsed, detail)
	}
	return result, nil
}

func isInterrupt(err error) bool {
	return errors.Is(err, prompt.ErrInterrupted) || errors.Is(err, context.Canceled)
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
