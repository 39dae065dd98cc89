// Package autodebug runs the bounded "AI fixes it, sandbox verifies it"
// cycle for failing generated code.
//
// Every failed attempt is kept in the history, and the whole history is sent
// with each fix request so the agent does not oscillate between two bad
// fixes. Re-verification uses only the keyword detector.
package autodebug

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/prompt"
	"github.com/Iron-Ham/klaus/internal/telemetry"
	"github.com/Iron-Ham/klaus/internal/util"
)

// DefaultMaxAttempts is the attempt budget when none is configured.
const DefaultMaxAttempts = 10

// snippetChars bounds the code kept with each history entry.
const snippetChars = 1500

// noFixMessage is recorded when the agent produced no fix.
const noFixMessage = "Claude unable to fix"

// Outcome is how a loop run ended.
type Outcome string

// Outcomes.
const (
	// OutcomeFixed means a fix was verified by a clean sandbox run.
	OutcomeFixed Outcome = "success"
	// OutcomeUnverified means a fix was produced but there was no way to run it.
	OutcomeUnverified Outcome = "fixed_unverified"
	// OutcomeFailed means the attempt budget ran out.
	OutcomeFailed Outcome = "auto_debug_failed"
)

// Entry is one failed attempt.
type Entry struct {
	Attempt     int
	Logs        string
	CodeSnippet string
	NoFix       bool
}

// Result is the outcome of Run. Code is empty unless a fix was accepted.
type Result struct {
	Outcome  Outcome
	Code     string
	Logs     string
	Attempts int
	History  []Entry
}

// Succeeded reports whether a fix was accepted.
func (r Result) Succeeded() bool {
	return r.Outcome == OutcomeFixed || r.Outcome == OutcomeUnverified
}

// RunFunc uploads code to the sandbox, runs it and returns the new logs.
type RunFunc func(ctx context.Context, code string) (string, error)

// Request is the input to one loop run.
type Request struct {
	Code string
	Logs string
	Kind phase.Kind
	// ConnectionTest limits fixes to the connectivity probe.
	ConnectionTest bool
	WorkDir        string
	EntryFile      string
	// Guidance is optional user direction passed with every fix request.
	Guidance string
	// Run is optional; without it the first fix is accepted unverified.
	Run RunFunc
}

// Loop holds the collaborators of the auto-debug cycle.
type Loop struct {
	debugger    ai.Debugger
	detector    *detect.Detector
	maxAttempts int
	display     *display.Display
	logger      *logging.Logger
}

// New creates a Loop. maxAttempts below 1 uses DefaultMaxAttempts. d may be nil.
func New(debugger ai.Debugger, maxAttempts int, d *display.Display, logger *logging.Logger) *Loop {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loop{
		debugger:    debugger,
		detector:    detect.NewDetector(),
		maxAttempts: maxAttempts,
		display:     d,
		logger:      logger,
	}
}

// MaxAttempts returns the attempt budget.
func (l *Loop) MaxAttempts() int { return l.maxAttempts }

// Run executes the loop. The error is non-nil only for cancellation or a
// user interrupt; exhausting the budget is a Result with OutcomeFailed.
func (l *Loop) Run(ctx context.Context, req Request) (Result, error) {
	if l.debugger == nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("auto-debug: %w", kerrors.ErrAIUnavailable)
	}

	ctx, span := telemetry.Tracer().Start(ctx, "autodebug.run")
	defer span.End()

	logger := l.logger.With("component", "autodebug", "connection_test", req.ConnectionTest)
	logger.Info("auto-debug started", "max_attempts", l.maxAttempts)

	var history []Entry
	current := req.Code

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Outcome: OutcomeFailed, Attempts: attempt - 1, History: history}, err
		}
		l.announce(attempt)

		fixed, err := l.fix(ctx, attempt, current, req, history)
		if err != nil {
			if isInterrupt(err) {
				return Result{Outcome: OutcomeFailed, Attempts: attempt, History: history}, err
			}
			logger.Warn("no fix produced", "attempt", attempt, "error", err.Error())
			l.warn("Attempt %d: %s", attempt, noFixMessage)
			history = append(history, Entry{Attempt: attempt, Logs: noFixMessage + ": " + err.Error(), NoFix: true})
			continue
		}

		if l.display != nil {
			l.display.Diff(current, fixed)
		}

		if req.Run == nil {
			logger.Info("fix accepted without verification", "attempt", attempt)
			return Result{Outcome: OutcomeUnverified, Code: fixed, Attempts: attempt, History: history}, nil
		}

		logs, runErr := req.Run(ctx, fixed)
		if runErr != nil {
			if isInterrupt(runErr) {
				return Result{Outcome: OutcomeFailed, Attempts: attempt, History: history}, runErr
			}
			logs = strings.TrimSpace(logs + "\nsandbox run failed: " + runErr.Error())
		}
		if l.display != nil {
			l.display.Logs(fmt.Sprintf("Logs after attempt %d", attempt), logs, 0)
		}

		verdict := l.detector.Detect(logs)
		if runErr == nil && !verdict.HasError {
			logger.Info("fix verified", "attempt", attempt)
			span.SetAttributes(attribute.Int("attempts", attempt), attribute.Bool("fixed", true))
			return Result{Outcome: OutcomeFixed, Code: fixed, Logs: logs, Attempts: attempt, History: history}, nil
		}

		logger.Info("fix still failing", "attempt", attempt, "reason", verdict.Reason)
		history = append(history, Entry{Attempt: attempt, Logs: logs, CodeSnippet: util.Snippet(fixed, snippetChars)})
		current = fixed
	}

	logger.Warn("auto-debug exhausted", "attempts", l.maxAttempts)
	span.SetAttributes(attribute.Int("attempts", l.maxAttempts), attribute.Bool("fixed", false))
	span.SetStatus(codes.Error, string(OutcomeFailed))
	return Result{Outcome: OutcomeFailed, Attempts: l.maxAttempts, History: history}, nil
}

func (l *Loop) fix(ctx context.Context, attempt int, code string, req Request, history []Entry) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "autodebug.attempt")
	defer span.End()
	span.SetAttributes(attribute.Int("attempt", attempt))

	start := time.Now()
	fixed, err := l.debugger.Debug(ctx, ai.DebugRequest{
		ErrorContext:   BuildContext(req.Logs, history),
		WorkDir:        req.WorkDir,
		Code:           code,
		EntryFile:      req.EntryFile,
		Kind:           req.Kind,
		ConnectionTest: req.ConnectionTest,
		Guidance:       req.Guidance,
	})
	if err == nil && strings.TrimSpace(fixed) == "" {
		err = kerrors.ErrNoFix
	}
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	l.logger.Debug("fix produced", "attempt", attempt, "elapsed", time.Since(start))
	return fixed, nil
}

// BuildContext renders the cumulative error context: the initial error
// followed by every failed attempt with its logs and a snippet of the code
// that produced them.
func BuildContext(initial string, history []Entry) string {
	var b strings.Builder
	b.WriteString("=== INITIAL ERROR ===\n")
	b.WriteString(strings.TrimSpace(initial))
	b.WriteString("\n")
	for _, e := range history {
		fmt.Fprintf(&b, "\n=== ATTEMPT %d ERROR LOGS ===\n", e.Attempt)
		b.WriteString(strings.TrimSpace(e.Logs))
		b.WriteString("\n")
		if e.CodeSnippet != "" {
			fmt.Fprintf(&b, "--- code from attempt %d ---\n", e.Attempt)
			b.WriteString(e.CodeSnippet)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (l *Loop) announce(attempt int) {
	if l.display != nil {
		l.display.Info("Auto-debug attempt %d/%d", attempt, l.maxAttempts)
	}
}

func (l *Loop) warn(format string, args ...any) {
	if l.display != nil {
		l.display.Warn(format, args...)
	}
}

func isInterrupt(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, prompt.ErrInterrupted)
}
