package autodebug

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
)

// fakeDebugger returns scripted fixes and records every request.
type fakeDebugger struct {
	fixes    []string
	errs     []error
	requests []ai.DebugRequest
}

func (f *fakeDebugger) Debug(_ context.Context, req ai.DebugRequest) (string, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.fixes) {
		return f.fixes[i], nil
	}
	return fmt.Sprintf("print('fix %d')", i+1), nil
}

func failingRun(logs string) RunFunc {
	return func(context.Context, string) (string, error) { return logs, nil }
}

func TestRun_ExhaustsBudget(t *testing.T) {
	dbg := &fakeDebugger{}
	l := New(dbg, 3, nil, nil)

	res, err := l.Run(context.Background(), Request{
		Code: "print('broken')",
		Logs: "Traceback (most recent call last):\nKeyError: 'id'",
		Kind: phase.KindSink,
		Run:  failingRun("ValueError: still broken"),
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.False(t, res.Succeeded())
	assert.Empty(t, res.Code)
	assert.Equal(t, 3, res.Attempts)
	require.Len(t, res.History, 3)
	assert.Len(t, dbg.requests, 3)
	for i, e := range res.History {
		assert.Equal(t, i+1, e.Attempt)
		assert.Contains(t, e.Logs, "ValueError")
		assert.NotEmpty(t, e.CodeSnippet)
	}
}

func TestRun_ContextAccumulates(t *testing.T) {
	dbg := &fakeDebugger{}
	l := New(dbg, 3, nil, nil)

	_, err := l.Run(context.Background(), Request{
		Code: "x",
		Logs: "initial KeyError",
		Run:  failingRun("RuntimeError: nope"),
	})
	require.NoError(t, err)

	require.Len(t, dbg.requests, 3)
	first := dbg.requests[0].ErrorContext
	assert.Contains(t, first, "=== INITIAL ERROR ===")
	assert.Contains(t, first, "initial KeyError")
	assert.NotContains(t, first, "ATTEMPT 1")

	third := dbg.requests[2].ErrorContext
	assert.Contains(t, third, "=== INITIAL ERROR ===")
	assert.Contains(t, third, "=== ATTEMPT 1 ERROR LOGS ===")
	assert.Contains(t, third, "=== ATTEMPT 2 ERROR LOGS ===")
	assert.Less(t, strings.Index(third, "ATTEMPT 1"), strings.Index(third, "ATTEMPT 2"))

	// each attempt starts from the previous fix
	assert.Equal(t, "x", dbg.requests[0].Code)
	assert.Equal(t, "print('fix 1')", dbg.requests[1].Code)
}

func TestRun_VerifiedFix(t *testing.T) {
	dbg := &fakeDebugger{fixes: []string{"bad", "good"}}
	l := New(dbg, 5, nil, nil)

	run := func(_ context.Context, code string) (string, error) {
		if code == "good" {
			return "Processed 10 messages", nil
		}
		return "TypeError: bad operand", nil
	}
	res, err := l.Run(context.Background(), Request{Code: "orig", Logs: "Error", Run: run})
	require.NoError(t, err)

	assert.Equal(t, OutcomeFixed, res.Outcome)
	assert.True(t, res.Succeeded())
	assert.Equal(t, "good", res.Code)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.History, 1)
	assert.Equal(t, "Processed 10 messages", res.Logs)
}

func TestRun_NoRunCallbackAcceptsFirstFix(t *testing.T) {
	dbg := &fakeDebugger{fixes: []string{"patched"}}
	l := New(dbg, 4, nil, nil)

	res, err := l.Run(context.Background(), Request{Code: "orig", Logs: "Error"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnverified, res.Outcome)
	assert.Equal(t, "patched", res.Code)
	assert.Equal(t, 1, res.Attempts)
}

func TestRun_NoFixIsRecordedAndLoopContinues(t *testing.T) {
	dbg := &fakeDebugger{
		errs:  []error{kerrors.ErrNoFix, nil},
		fixes: []string{"", "good"},
	}
	l := New(dbg, 3, nil, nil)

	res, err := l.Run(context.Background(), Request{
		Code: "orig",
		Logs: "Error",
		Run:  func(context.Context, string) (string, error) { return "all good", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFixed, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	require.Len(t, res.History, 1)
	assert.True(t, res.History[0].NoFix)
	assert.Contains(t, res.History[0].Logs, "Claude unable to fix")
	assert.Contains(t, dbg.requests[1].ErrorContext, "Claude unable to fix")
}

func TestRun_EmptyFixCountsAsNoFix(t *testing.T) {
	dbg := &fakeDebugger{fixes: []string{"  ", "  "}}
	l := New(dbg, 2, nil, nil)

	res, err := l.Run(context.Background(), Request{Code: "orig", Logs: "Error"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Len(t, res.History, 2)
	assert.True(t, res.History[1].NoFix)
}

func TestRun_SandboxErrorIsAFailedAttempt(t *testing.T) {
	dbg := &fakeDebugger{}
	l := New(dbg, 2, nil, nil)

	res, err := l.Run(context.Background(), Request{
		Code: "orig",
		Logs: "Error",
		Run: func(context.Context, string) (string, error) {
			return "", fmt.Errorf("session expired")
		},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Len(t, res.History, 2)
	assert.Contains(t, res.History[0].Logs, "session expired")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(&fakeDebugger{}, 3, nil, nil)
	_, err := l.Run(ctx, Request{Code: "x", Logs: "Error"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_NoDebugger(t *testing.T) {
	l := New(nil, 3, nil, nil)
	_, err := l.Run(context.Background(), Request{Code: "x", Logs: "Error"})
	assert.ErrorIs(t, err, kerrors.ErrAIUnavailable)
}

func TestRun_ShowsLogsAndDiff(t *testing.T) {
	var out bytes.Buffer
	d := display.New(&out)
	dbg := &fakeDebugger{fixes: []string{"line one\nline two"}}
	l := New(dbg, 1, d, nil)

	_, err := l.Run(context.Background(), Request{
		Code: "line one",
		Logs: "Error",
		Run:  failingRun("ZeroDivisionError: division by zero"),
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Auto-debug attempt 1/1")
	assert.Contains(t, out.String(), "ZeroDivisionError")
	assert.Contains(t, out.String(), "line two")
}

func TestNew_DefaultBudget(t *testing.T) {
	assert.Equal(t, DefaultMaxAttempts, New(&fakeDebugger{}, 0, nil, nil).MaxAttempts())
	assert.Equal(t, 7, New(&fakeDebugger{}, 7, nil, nil).MaxAttempts())
}

func TestBuildContext_Snippets(t *testing.T) {
	got := BuildContext("boom", []Entry{
		{Attempt: 1, Logs: "first", CodeSnippet: "code one"},
		{Attempt: 2, Logs: "Claude unable to fix", NoFix: true},
	})
	assert.Contains(t, got, "--- code from attempt 1 ---\ncode one")
	assert.NotContains(t, got, "code from attempt 2")
}

func TestRun_NeverExceedsBudget(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 12).Draw(t, "max")
		// fixes that fail verification, or no fix at all
		noFix := rapid.SliceOfN(rapid.Bool(), max, max).Draw(t, "noFix")

		errs := make([]error, max)
		for i, nf := range noFix {
			if nf {
				errs[i] = kerrors.ErrNoFix
			}
		}
		dbg := &fakeDebugger{errs: errs}
		l := New(dbg, max, nil, nil)

		res, err := l.Run(context.Background(), Request{
			Code: "x",
			Logs: "Error",
			Run:  failingRun("Exception: still failing"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Outcome != OutcomeFailed || res.Code != "" {
			t.Fatalf("expected failure without code, got %q", res.Outcome)
		}
		if res.Attempts != max || len(res.History) != max || len(dbg.requests) != max {
			t.Fatalf("attempts=%d history=%d requests=%d, want %d", res.Attempts, len(res.History), len(dbg.requests), max)
		}
	})
}
