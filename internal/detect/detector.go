// Package detect decides whether the logs of a sandbox run or deployment
// show the application failing.
//
// The Detector is deterministic: it scans for a fixed vocabulary of error
// markers on word boundaries, after removing phrases known to produce false
// positives ("0 errors", "error_handling", ...). Classifier implementations
// may be smarter (an AI reading the logs); Fallback combines the two so that
// an unavailable AI never blocks a verdict.
package detect

import (
	"context"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// Verdict is the outcome of classifying a block of logs.
type Verdict struct {
	HasError bool
	// Reason is a short human-readable explanation.
	Reason string
	// Line is the first offending log line, when known.
	Line string
	// Source names the classifier that produced the verdict.
	Source string
}

// Classifier decides whether logs show an error. code is the program that
// produced the logs and may be empty.
type Classifier interface {
	Classify(ctx context.Context, logs, code string) (Verdict, error)
}

// Source names.
const (
	SourceKeyword = "keyword"
	SourceAI      = "ai"
)

// Pattern vocabularies.
var (
	// ErrorPatterns mark a line as an error. All are anchored on word
	// boundaries, so "temperature" or "terrorist" never match.
	ErrorPatterns = []string{
		`\bTraceback \(most recent call last\)`,
		`\b[A-Z][A-Za-z0-9]*(?:Error|Exception)\b`, // ModuleNotFoundError, ConnectionError, ...
		`(?i)\b(?:error|errors|exception|traceback)\b`,
		`(?i)\bfailed\b`,
		`(?i)\bfatal\b`,
		`(?i)\bpanic:`,
		`(?i)\bsegmentation fault\b`,
	}

	// FalsePositivePatterns are removed from a line before ErrorPatterns run.
	FalsePositivePatterns = []string{
		`(?i)\b(?:no|0|zero|without) (?:errors?|exceptions?|failures?)\b`,
		`(?i)\berrors?[:=] ?0\b`,
		`(?i)\bfailed[:=] ?0\b`,
		`(?i)\b0 failed\b`,
		`(?i)\berror[_-](?:handling|handler|rate|count|callback|topic)\w*`,
		`(?i)\bon_error\w*`,
		`(?i)\bexception[_-]handl\w*`,
		`(?i)\blevel[:=] ?"?error"?`, // logger configuration echoes
	}
)

// Detector is the deterministic keyword classifier. It is safe for
// concurrent use.
type Detector struct {
	errorPatterns []*regexp.Regexp
	falsePatterns []*regexp.Regexp
}

// NewDetector creates a Detector with the default vocabularies plus any
// extra false-positive patterns. Invalid extra patterns are skipped.
func NewDetector(extraExclusions ...string) *Detector {
	return &Detector{
		errorPatterns: compilePatterns(ErrorPatterns),
		falsePatterns: compilePatterns(append(append([]string{}, FalsePositivePatterns...), extraExclusions...)),
	}
}

// compilePatterns compiles a list of regex pattern strings.
// Invalid patterns are silently skipped.
func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Detect scans logs line by line. Empty logs are not an error.
func (d *Detector) Detect(logs string) Verdict {
	for _, raw := range strings.Split(ansi.Strip(logs), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		cleaned := line
		for _, fp := range d.falsePatterns {
			cleaned = fp.ReplaceAllString(cleaned, " ")
		}
		for _, p := range d.errorPatterns {
			if m := p.FindString(cleaned); m != "" {
				return Verdict{
					HasError: true,
					Reason:   "found error marker " + quote(m),
					Line:     line,
					Source:   SourceKeyword,
				}
			}
		}
	}
	return Verdict{Reason: "no error markers found", Source: SourceKeyword}
}

// HasError reports whether logs contain an error marker.
func (d *Detector) HasError(logs string) bool {
	return d.Detect(logs).HasError
}

// Classify implements Classifier. It never fails.
func (d *Detector) Classify(_ context.Context, logs, _ string) (Verdict, error) {
	return d.Detect(logs), nil
}

func quote(s string) string {
	return `"` + strings.TrimSpace(s) + `"`
}
