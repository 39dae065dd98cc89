// Package ai defines the AI collaborators the workflows depend on and their
// two implementations: the Claude Code CLI agent, which writes code into a
// working directory, and a Messages API client for small sub-agent tasks
// (schema analysis, log classification, template matching).
package ai

import (
	"context"

	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/library"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
)

// GenerateRequest asks the agent to write an application.
type GenerateRequest struct {
	Prompt  string
	WorkDir string
	Kind    phase.Kind
	// EntryFile is the file the agent must write, relative to WorkDir.
	EntryFile string
	// Template is the starting code, if any.
	Template string
	// ConnectionTest asks for a minimal read-only connectivity probe
	// instead of the full application.
	ConnectionTest bool
}

// Generation is what a successful generate call left in the working directory.
type Generation struct {
	Code    string
	EnvVars []phase.EnvVar
	// Files lists every file the agent wrote, relative to WorkDir.
	Files []string
}

// Generator writes application code. It returns errors.ErrNoCode (wrapped)
// when the agent finished without producing the entry file.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// DebugRequest asks the agent to fix failing code.
type DebugRequest struct {
	// ErrorContext is the cumulative error history.
	ErrorContext string
	WorkDir      string
	Code         string
	EntryFile    string
	Kind         phase.Kind
	// ConnectionTest limits the fix to the connectivity probe.
	ConnectionTest bool
	// Guidance is optional user feedback to steer the fix.
	Guidance string
}

// Debugger fixes code. It returns errors.ErrNoFix (wrapped) when no fix was
// produced.
type Debugger interface {
	Debug(ctx context.Context, req DebugRequest) (string, error)
}

// SchemaAnalyzer summarizes sample messages as a markdown schema analysis.
// previous and feedback are empty on the first round.
type SchemaAnalyzer interface {
	AnalyzeSchema(ctx context.Context, sample, previous, feedback string) (string, error)
}

// TemplateMatcher picks the library template best matching a free-text
// technology label. It returns "" when none fits.
type TemplateMatcher interface {
	MatchTemplate(ctx context.Context, technology string, candidates []library.Template) (string, error)
}

// LogClassifier decides whether logs show the application failing.
type LogClassifier = detect.Classifier

// Agent bundles the collaborators a workflow needs. Any field may be nil
// when the backend is unavailable; phases degrade accordingly.
type Agent struct {
	Generator  Generator
	Debugger   Debugger
	Analyzer   SchemaAnalyzer
	Matcher    TemplateMatcher
	Classifier LogClassifier
}

// NewAgent wires the available backends. A missing Claude CLI leaves
// Generator and Debugger nil; a missing API key leaves the sub-agents nil.
// Classifier is always set: without the API it is the keyword detector.
// The returned errors describe what is unavailable.
func NewAgent(cfg config.AIConfig, logger *logging.Logger, opts ...CLIOption) (*Agent, []error) {
	var missing []error
	agent := &Agent{}

	if cli, err := NewClaudeCLI(cfg, logger, opts...); err != nil {
		missing = append(missing, err)
	} else {
		agent.Generator = cli
		agent.Debugger = cli
	}

	var primary detect.Classifier
	if mc, err := NewMessagesClient(cfg, logger); err != nil {
		missing = append(missing, err)
	} else {
		agent.Analyzer = mc
		agent.Matcher = mc
		primary = mc
	}
	agent.Classifier = detect.NewFallback(primary, logger)
	return agent, missing
}
