package detect

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Iron-Ham/klaus/internal/logging"
)

func TestDetector_Detect(t *testing.T) {
	d := NewDetector()

	tests := []struct {
		name string
		logs string
		want bool
	}{
		{"empty", "", false},
		{"whitespace", "  \n\n ", false},
		{"temperature reading", "sensor-1 temperature is 72", false},
		{"healthy run", "Connected to broker\nProduced 120 messages\nDone", false},
		{"zero errors summary", "Processed 10 messages, 0 errors", false},
		{"no errors", "Finished with no errors", false},
		{"error handling config", "INFO configured error_handling=retry", false},
		{"failed zero", "tests passed: 12, failed: 0", false},
		{"terror substring", "a terrorist-free zone", false},
		{"class name", "ConnectionError: refused", true},
		{"module not found", "ModuleNotFoundError: No module named 'psycopg2'", true},
		{"traceback", "Traceback (most recent call last):\n  File \"main.py\", line 3", true},
		{"plain error", "ERROR could not connect", true},
		{"lowercase failed", "connection failed after 3 attempts", true},
		{"exception word", "Unhandled exception in consumer loop", true},
		{"java exception", "java.lang.NullPointerException at Main.java:12", true},
		{"ansi wrapped", "\x1b[31mError\x1b[0m: boom", true},
		{"go panic", "panic: runtime error: index out of range", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(tt.logs)
			if got.HasError != tt.want {
				t.Errorf("Detect(%q).HasError = %v, want %v (reason %q)", tt.logs, got.HasError, tt.want, got.Reason)
			}
			if got.Source != SourceKeyword {
				t.Errorf("Source = %q, want %q", got.Source, SourceKeyword)
			}
		})
	}
}

func TestDetector_ReportsOffendingLine(t *testing.T) {
	d := NewDetector()
	v := d.Detect("starting\nloaded config\nKeyError: 'id'\nshutting down")
	if !v.HasError {
		t.Fatal("expected an error")
	}
	if v.Line != "KeyError: 'id'" {
		t.Errorf("Line = %q", v.Line)
	}
	if !strings.Contains(v.Reason, "KeyError") {
		t.Errorf("Reason = %q", v.Reason)
	}
}

func TestDetector_ExtraExclusions(t *testing.T) {
	logs := "dead-letter topic: failed-messages"
	if !NewDetector().HasError(logs) {
		t.Fatal("default detector should flag 'failed'")
	}
	if NewDetector(`failed-messages`).HasError(logs) {
		t.Error("extra exclusion should suppress the match")
	}
	// Invalid patterns are skipped rather than panicking.
	_ = NewDetector(`(`)
}

type stubClassifier struct {
	verdict Verdict
	err     error
	calls   int
}

func (s *stubClassifier) Classify(context.Context, string, string) (Verdict, error) {
	s.calls++
	return s.verdict, s.err
}

func TestFallback_UsesPrimary(t *testing.T) {
	primary := &stubClassifier{verdict: Verdict{HasError: false, Source: SourceAI, Reason: "warnings only"}}
	f := NewFallback(primary, nil)

	v, err := f.Classify(context.Background(), "WARNING: Error budget at 80%", "")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if v.Source != SourceAI || v.HasError {
		t.Errorf("got %+v, want the primary verdict", v)
	}
}

func TestFallback_KeywordOnPrimaryError(t *testing.T) {
	var logs bytes.Buffer
	primary := &stubClassifier{err: errors.New("overloaded")}
	f := NewFallback(primary, logging.NewWithWriter(&logs, logging.LevelDebug))

	v, err := f.Classify(context.Background(), "Traceback (most recent call last):", "")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !v.HasError || v.Source != SourceKeyword {
		t.Errorf("got %+v, want keyword error verdict", v)
	}
	if !strings.Contains(logs.String(), "keyword detector") {
		t.Errorf("fallback not logged: %s", logs.String())
	}
}

func TestFallback_NilPrimary(t *testing.T) {
	f := NewFallback(nil, nil)
	v, _ := f.Classify(context.Background(), "all good", "")
	if v.HasError {
		t.Errorf("got %+v", v)
	}
}

func TestFallback_CancellationPropagates(t *testing.T) {
	f := NewFallback(&stubClassifier{err: context.Canceled}, nil)
	if _, err := f.Classify(context.Background(), "x", ""); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
