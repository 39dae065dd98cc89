// Package orchestrator runs an interactive Klaus session: it shows the
// workflow menu, runs the chosen workflow through the sequencer, and asks
// whether to run another one. It is the outermost layer, so interrupts and
// panics that escape a workflow stop here instead of ending the process.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"time"

	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phases"
	"github.com/Iron-Ham/klaus/internal/orchestrator/workflows"
	"github.com/Iron-Ham/klaus/internal/prompt"
)

// ErrWorkflowFailed is returned by Run when a workflow ends in a hard
// failure.
var ErrWorkflowFailed = kerrors.New("workflow failed")

// Menu actions that are not workflows.
const (
	actionConfigure = "Configure default workspace"
	actionQuit      = "Quit"
)

var kindLabels = map[phase.Kind]string{
	phase.KindSource:   "Source: bring data in from an external system",
	phase.KindSink:     "Sink: write topic data to an external system",
	phase.KindDiagnose: "Diagnose: edit and redeploy an existing application",
}

// Options configures an Orchestrator.
type Options struct {
	// Workflow skips the menu for the first run when set.
	Workflow phase.Kind
	// Verbose shows technical detail for failures.
	Verbose bool
	// SaveDefaultWorkspace persists the workspace chosen from the menu.
	// Nil keeps the choice for this session only.
	SaveDefaultWorkspace func(workspaceID string) error
}

// Orchestrator is the top-level session loop.
type Orchestrator struct {
	deps   *phases.Deps
	opts   Options
	logger *logging.Logger
	seq    *workflows.Sequencer

	// wc survives a return to the menu from the first phase and is reset
	// when the user asks to run again.
	wc *phase.WorkflowContext

	now        func() time.Time
	definition func(phase.Kind, *phases.Deps) (workflows.Definition, error)
	interrupts func(context.Context) (context.Context, context.CancelFunc)
}

// New creates an Orchestrator. deps must be complete; see phases.Deps.
func New(deps *phases.Deps, opts Options) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	runner := phase.NewRunner(deps.Display, logger, opts.Verbose)
	return &Orchestrator{
		deps:       deps,
		opts:       opts,
		logger:     logger,
		seq:        workflows.NewSequencer(runner, deps.Prompter, deps.Display, logger),
		now:        time.Now,
		definition: workflows.ForKind,
		interrupts: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

// Context returns the context of the current or last run, or nil.
func (o *Orchestrator) Context() *phase.WorkflowContext { return o.wc }

// Run loops until the user quits. It returns ErrWorkflowFailed when a
// workflow fails and nil when the user ends the session.
func (o *Orchestrator) Run(ctx context.Context) error {
	if k := o.opts.Workflow; k != "" && !k.Valid() {
		return kerrors.NewValidationError(fmt.Sprintf("unknown workflow %q", k)).WithField("workflow")
	}
	pending := o.opts.Workflow

	for {
		kind := pending
		pending = ""
		if kind == "" {
			selected, quit, err := o.selectWorkflow(ctx)
			if err != nil || quit {
				if err != nil {
					o.logger.Info("session ended at the menu", "reason", err.Error())
				}
				return nil
			}
			if selected == "" {
				continue
			}
			kind = selected
		}

		if o.wc == nil || o.wc.Kind != kind {
			o.wc = phase.NewWorkflowContext(kind)
		}

		outcome, err := o.runWorkflow(ctx, kind)
		switch {
		case err != nil:
			o.deps.Display.Warn("%s", interruptMessage(err, o.opts.Verbose))
		case outcome == workflows.OutcomeBackToTriage:
			continue
		case outcome == workflows.OutcomeFailed:
			o.deps.Display.Error("The %s workflow failed", kind)
			return ErrWorkflowFailed
		default:
			o.summarize()
		}

		again, err := o.deps.Prompter.Confirm(ctx, "Run another workflow?", false)
		if err != nil || !again {
			return nil
		}
		o.wc = nil
	}
}

// selectWorkflow shows the menu. An empty kind with quit false means a
// utility action ran and the menu should be shown again.
func (o *Orchestrator) selectWorkflow(ctx context.Context) (phase.Kind, bool, error) {
	kinds := phase.AllKinds()
	options := make([]string, 0, len(kinds)+2)
	for _, k := range kinds {
		options = append(options, kindLabels[k])
	}
	options = append(options, actionConfigure, actionQuit)

	o.deps.Display.Header("Klaus Kode", "What would you like to build?")
	idx, err := o.deps.Prompter.Select(ctx, "Select a workflow", options)
	if err != nil {
		return "", false, err
	}
	switch {
	case idx < len(kinds):
		return kinds[idx], false, nil
	case options[idx] == actionConfigure:
		if err := o.configureDefaultWorkspace(ctx); err != nil {
			o.logger.Warn("configuring the default workspace failed", "error", err.Error())
			o.deps.Display.Warn("Could not configure the default workspace: %s", kerrors.UserMessage(err, o.opts.Verbose))
		}
		return "", false, nil
	}
	return "", true, nil
}

// runWorkflow runs one workflow. Interrupts and panics are returned as
// errors; the start and end of the run are always logged.
func (o *Orchestrator) runWorkflow(ctx context.Context, kind phase.Kind) (outcome workflows.Outcome, err error) {
	logger := o.logger.WithRun(o.wc.RunID).WithWorkflow(kind.String())
	start := o.now()
	logger.Info("workflow started", "started_at", start.Format(time.RFC3339))

	runCtx, stop := o.interrupts(ctx)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			outcome = workflows.OutcomeFailed
			err = fmt.Errorf("unexpected error: %v", r)
			logger.Error("workflow panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		end := o.now()
		attrs := []any{
			"outcome", outcome.String(),
			"started_at", start.Format(time.RFC3339),
			"ended_at", end.Format(time.RFC3339),
			"elapsed", end.Sub(start).String(),
		}
		if err != nil {
			logger.Warn("workflow interrupted", append(attrs, "error", err.Error())...)
		} else {
			logger.Info("workflow finished", attrs...)
		}
	}()

	def, err := o.definition(kind, o.deps)
	if err != nil {
		return workflows.OutcomeFailed, err
	}
	return o.seq.Run(runCtx, def, o.wc)
}

// configureDefaultWorkspace lets the user pick the workspace offered first
// by later runs.
func (o *Orchestrator) configureDefaultWorkspace(ctx context.Context) error {
	workspaces, err := o.deps.Platform.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	if len(workspaces) == 0 {
		o.deps.Display.Warn("No workspaces are available for this token")
		return nil
	}
	names := make([]string, len(workspaces))
	for i, ws := range workspaces {
		names[i] = ws.Name
	}
	idx, err := o.deps.Prompter.Select(ctx, "Default workspace", names)
	if err != nil {
		return err
	}
	ws := workspaces[idx]
	o.deps.Config.Platform.DefaultWorkspaceID = ws.WorkspaceID
	if o.opts.SaveDefaultWorkspace != nil {
		if err := o.opts.SaveDefaultWorkspace(ws.WorkspaceID); err != nil {
			return err
		}
	}
	o.logger.Info("default workspace set", "workspace", ws.WorkspaceID)
	o.deps.Display.Info("Default workspace set to %s", ws.Name)
	return nil
}

func (o *Orchestrator) summarize() {
	wc := o.wc
	d := o.deps.Display
	d.Info("The %s workflow completed", wc.Kind)
	if wc.Deployment.AppName != "" {
		d.Info("Application: %s", wc.Deployment.AppName)
	}
	if wc.Deployment.Deployed() {
		d.Info("Deployment: %s (%s)", wc.Deployment.DeploymentName, wc.Deployment.Status)
	}
}

func interruptMessage(err error, verbose bool) string {
	if kerrors.Is(err, prompt.ErrInterrupted) || kerrors.Is(err, context.Canceled) {
		return "Workflow interrupted"
	}
	return "Workflow stopped: " + kerrors.UserMessage(err, verbose)
}
