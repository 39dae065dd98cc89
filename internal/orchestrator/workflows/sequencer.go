// Package workflows runs a workflow's ordered phase list and builds the phase
// lists of the source, sink and diagnose workflows.
//
// The Sequencer is a small state machine over phase indices. A successful
// phase advances the index, a failed one ends the run, and a navigation
// signal moves the index back: one step for a plain signal, or directly to
// the owning phase for a targeted one. Rewinding past the first phase ends
// the run with OutcomeBackToTriage.
package workflows

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/klaus/internal/display"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/prompt"
)

// Outcome is how a workflow run ended.
type Outcome int

// Outcomes.
const (
	OutcomeFailed Outcome = iota
	OutcomeSuccess
	// OutcomeBackToTriage returns the session to workflow selection.
	OutcomeBackToTriage
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeBackToTriage:
		return "back_to_triage"
	default:
		return "failed"
	}
}

// Factory creates a fresh phase instance.
type Factory func() phase.Phase

// Definition is the ordered phase list of one workflow kind.
type Definition struct {
	Kind phase.Kind
	// Phases are the mandatory phases, in order.
	Phases []Factory
	// Monitor is the optional best-effort phase run after a deployment.
	Monitor Factory
	// Steps maps sub-step codes to the index of the phase owning them.
	Steps map[phase.StepCode]int
}

// Len returns the number of mandatory phases.
func (d Definition) Len() int { return len(d.Phases) }

// Build instantiates every mandatory phase.
func (d Definition) Build() []phase.Phase {
	out := make([]phase.Phase, len(d.Phases))
	for i, f := range d.Phases {
		out[i] = f()
	}
	return out
}

// Names returns the phase names in order.
func (d Definition) Names() []string {
	phases := d.Build()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.Name()
	}
	return names
}

// Sequencer runs workflow definitions.
type Sequencer struct {
	runner   *phase.Runner
	prompter prompt.Prompter
	display  *display.Display
	logger   *logging.Logger
}

// NewSequencer creates a Sequencer. prompter is only used to offer the
// monitor phase and may be nil, in which case monitoring is skipped.
func NewSequencer(runner *phase.Runner, prompter prompt.Prompter, d *display.Display, logger *logging.Logger) *Sequencer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sequencer{runner: runner, prompter: prompter, display: d, logger: logger}
}

// Run executes def against wc. The error is non-nil only for a user
// interrupt or cancellation; a failed phase is OutcomeFailed with a nil error.
func (s *Sequencer) Run(ctx context.Context, def Definition, wc *phase.WorkflowContext) (Outcome, error) {
	logger := s.logger.WithWorkflow(def.Kind.String()).WithRun(wc.RunID)
	n := def.Len()
	index := 0

	for index < n {
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, err
		}

		// Fresh instances every iteration so per-run phase state never
		// survives a rewind.
		phases := def.Build()
		current := phases[index]
		logger.Debug("running phase", "index", index, "phase", current.Name())

		ok, err := s.runner.Run(ctx, current, wc)
		if err != nil {
			sig, isNav := phase.AsNavigation(err)
			if !isNav {
				return OutcomeFailed, err
			}
			next := s.navigate(logger, def, phases, index, sig, wc)
			if next < 0 {
				logger.Info("navigated back past the first phase")
				return OutcomeBackToTriage, nil
			}
			index = next
			continue
		}
		if !ok {
			logger.Warn("workflow failed", "phase", current.Name())
			return OutcomeFailed, nil
		}
		index++
	}

	logger.Info("workflow completed", "phases", n)
	s.monitor(ctx, logger, def, wc)
	return OutcomeSuccess, nil
}

// navigate returns the index to run next after sig was raised at index.
// Any navigation request is consumed from the context.
func (s *Sequencer) navigate(logger *logging.Logger, def Definition, phases []phase.Phase, index int, sig *phase.NavigationSignal, wc *phase.WorkflowContext) int {
	req := wc.TakeNavigation()
	if sig.Request != nil {
		req = sig.Request
	}
	if req == nil {
		logger.Info("navigating back", "from", phases[index].Name(), "reason", sig.Message)
		return index - 1
	}

	if req.Step != phase.StepNone {
		if target, ok := def.Steps[req.Step]; ok && target >= 0 && target < len(phases) {
			wc.ResumeStep = req.Step
			logger.Info("navigating to step", "step", req.Step.String(), "phase", phases[target].Name(), "reason", req.Reason)
			return target
		}
		logger.Warn("navigation step has no owning phase, stepping back", "step", req.Step.String())
		return index - 1
	}

	if req.Phase != "" {
		for i, p := range phases {
			if p.Name() == req.Phase {
				logger.Info("navigating to phase", "phase", req.Phase, "reason", req.Reason)
				return i
			}
		}
		logger.Warn("navigation phase not in workflow, stepping back", "phase", req.Phase)
	}
	return index - 1
}

// monitor offers the optional monitoring phase. Its outcome never changes
// the workflow result.
func (s *Sequencer) monitor(ctx context.Context, logger *logging.Logger, def Definition, wc *phase.WorkflowContext) {
	if def.Monitor == nil || !wc.Deployment.Deployed() || s.prompter == nil {
		return
	}
	question := fmt.Sprintf("Monitor deployment %s now?", wc.Deployment.DeploymentName)
	yes, err := s.prompter.Confirm(ctx, question, true)
	if err != nil || !yes {
		return
	}

	ok, err := s.runner.Run(ctx, def.Monitor(), wc)
	switch {
	case err != nil:
		logger.Info("monitoring ended", "reason", err.Error())
	case !ok:
		logger.Warn("monitoring failed; deployment result unchanged")
		if s.display != nil {
			s.display.Warn("Monitoring did not complete. The deployment itself is unaffected.")
		}
	}
}
