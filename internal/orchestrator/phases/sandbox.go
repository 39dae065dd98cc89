package phases

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/detect"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/namer"
	"github.com/Iron-Ham/klaus/internal/orchestrator/autodebug"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
	"github.com/Iron-Ham/klaus/internal/prompt"
)

// sandboxLogLines is how much of a run's output is shown.
const sandboxLogLines = 60

// requirementsFile is where declared dependencies are written.
const requirementsFile = "requirements.txt"

// ensureApplication makes sure the platform application named in the
// context exists, resolving a name collision with the user.
func ensureApplication(ctx context.Context, d *Deps, wc *phase.WorkflowContext) error {
	if wc.Deployment.AppID != "" {
		return nil
	}
	if err := requireWorkspace(wc); err != nil {
		return err
	}
	ws := wc.Workspace.WorkspaceID
	name := wc.Deployment.AppName
	if name == "" {
		return fmt.Errorf("%w: no application name", kerrors.ErrInvalidInput)
	}

	existing, found, err := d.Platform.FindApplication(ctx, ws, name)
	if err != nil {
		return err
	}
	if found {
		if wc.Kind == phase.KindDiagnose {
			setApplication(wc, existing)
			return nil
		}
		unique := namer.UniqueName(name, d.Config.Workflow.MaxAppNameLength)
		idx, err := d.Prompter.Select(ctx, fmt.Sprintf("Application %s already exists in the workspace", name), []string{
			"Delete it and create a new one",
			"Use a new name (" + unique + ")",
			"Reuse the existing application",
		})
		if err != nil {
			return err
		}
		switch idx {
		case 0:
			if err := d.Platform.DeleteApplication(ctx, ws, existing.ApplicationID); err != nil {
				return err
			}
			d.logger().Info("deleted colliding application", "app", name)
		case 1:
			name = unique
		default:
			setApplication(wc, existing)
			return nil
		}
	}

	created, err := d.Platform.CreateApplication(ctx, ws, name, "python")
	if err != nil {
		return err
	}
	if created.Name == "" {
		created.Name = name
	}
	setApplication(wc, created)
	d.Display.Info("Created application %s", created.Name)
	return nil
}

func setApplication(wc *phase.WorkflowContext, app platform.Application) {
	wc.Deployment.AppID = app.ApplicationID
	wc.Deployment.AppName = app.Name
	wc.Deployment.AppPath = app.Path
}

// sandboxSession runs code from a local directory in a remote session.
type sandboxSession struct {
	d         *Deps
	wc        *phase.WorkflowContext
	dir       string
	entry     string
	sessionID string
	installed bool
}

func openSession(ctx context.Context, d *Deps, wc *phase.WorkflowContext, dir, entry string) (*sandboxSession, error) {
	if err := ensureApplication(ctx, d, wc); err != nil {
		return nil, err
	}
	sess, err := d.Platform.CreateSession(ctx, wc.Workspace.WorkspaceID, wc.Deployment.AppID)
	if err != nil {
		return nil, err
	}
	wc.Deployment.SessionID = sess.SessionID
	d.logger().Info("sandbox session opened", "session", sess.SessionID, "app", wc.Deployment.AppName)
	return &sandboxSession{d: d, wc: wc, dir: dir, entry: entry, sessionID: sess.SessionID}, nil
}

// run writes code to the entry file, uploads the directory and runs it.
func (s *sandboxSession) run(ctx context.Context, code string) (string, error) {
	ws := s.wc.Workspace.WorkspaceID
	if err := writeCode(s.dir, s.entry, code); err != nil {
		return "", err
	}
	if err := writeRequirements(s.dir, s.wc.Code.Dependencies); err != nil {
		return "", err
	}
	if err := s.d.Platform.UploadFiles(ctx, ws, s.sessionID, s.dir); err != nil {
		return "", err
	}
	if !s.installed {
		out, err := s.d.Platform.InstallDependencies(ctx, ws, s.sessionID, false)
		if err != nil {
			return "", err
		}
		s.installed = true
		s.d.logger().Debug("dependencies installed", "output", out)
	}

	s.d.Display.Info("Running %s in the sandbox...", s.entry)
	return s.d.Platform.Run(ctx, ws, s.sessionID, platform.RunRequest{
		EntryFile:      s.entry,
		TimeoutSeconds: s.d.Config.Workflow.SandboxRunTimeoutSeconds,
		Environment:    runEnvironment(s.wc),
	})
}

func (s *sandboxSession) close(ctx context.Context) {
	if s == nil || s.sessionID == "" {
		return
	}
	if err := s.d.Platform.CloseSession(context.WithoutCancel(ctx), s.wc.Workspace.WorkspaceID, s.sessionID); err != nil {
		s.d.logger().Warn("failed to close sandbox session", "session", s.sessionID, "error", err.Error())
	}
	s.wc.Deployment.SessionID = ""
	s.sessionID = ""
}

func writeCode(dir, entry, code string) error {
	path := filepath.Join(dir, entry)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(code), 0644)
}

func writeRequirements(dir string, deps []string) error {
	path := filepath.Join(dir, requirementsFile)
	if len(deps) == 0 {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(strings.Join(deps, "\n")+"\n"), 0644)
}

// verifyResult is how an interactive verification ended.
type verifyResult struct {
	Code    string
	Logs    string
	Passed  bool
	Aborted bool
}

// Debug menu choices.
const (
	choiceAutoDebug = iota
	choiceFeedback
	choiceRerun
	choiceBack
	choiceAbort
)

var debugMenu = []string{
	"Let Claude debug it automatically",
	"Fix it with my feedback",
	"Re-run as is",
	"Go back",
	"Abort",
}

// verify shows the logs of a run and, while they show errors, lets the user
// pick how to proceed. The first verdict uses the agent's classifier; the
// auto-debug loop re-verifies with the keyword detector only.
func verify(ctx context.Context, d *Deps, wc *phase.WorkflowContext, s *sandboxSession, code, logs string, connectionTest bool) (verifyResult, error) {
	classifier := d.agent().Classifier
	if classifier == nil {
		classifier = detect.NewDetector()
	}
	logger := d.logger()

	for {
		d.Display.Logs("Sandbox output", logs, sandboxLogLines)
		verdict, err := classifier.Classify(ctx, logs, code)
		if err != nil {
			return verifyResult{}, err
		}
		if !verdict.HasError {
			logger.Info("sandbox run passed", "classifier", verdict.Source)
			return verifyResult{Code: code, Logs: logs, Passed: true}, nil
		}
		d.Display.Error("The code failed: %s", verdict.Reason)

		idx, err := d.Prompter.Select(ctx, "What would you like to do?", debugMenu)
		if err != nil {
			return verifyResult{}, err
		}
		switch idx {
		case choiceAutoDebug:
			loop := autodebug.New(d.agent().Debugger, d.Config.Workflow.MaxDebugAttempts, d.Display, logger)
			res, err := loop.Run(ctx, autodebug.Request{
				Code:           code,
				Logs:           logs,
				Kind:           wc.Kind,
				ConnectionTest: connectionTest,
				WorkDir:        s.dir,
				EntryFile:      s.entry,
				Run:            s.run,
			})
			if err != nil {
				if isStop(err) {
					return verifyResult{}, err
				}
				d.Display.Warn("Auto-debug unavailable: %v", err)
				continue
			}
			if !res.Succeeded() {
				d.Display.Warn("Auto-debug gave up after %d attempts", res.Attempts)
				continue
			}
			code = res.Code
			if res.Outcome == autodebug.OutcomeFixed {
				d.Display.Logs("Sandbox output", res.Logs, sandboxLogLines)
				return verifyResult{Code: code, Logs: res.Logs, Passed: true}, nil
			}
			if logs, err = s.run(ctx, code); err != nil {
				return verifyResult{}, err
			}

		case choiceFeedback:
			guidance, err := d.Prompter.Multiline(ctx, "What should be changed?")
			if err != nil {
				return verifyResult{}, err
			}
			fixed, err := fixWithGuidance(ctx, d, wc, s, code, logs, guidance, connectionTest)
			if err != nil {
				if isStop(err) {
					return verifyResult{}, err
				}
				d.Display.Warn("No fix produced: %v", err)
				continue
			}
			d.Display.Diff(code, fixed)
			code = fixed
			if logs, err = s.run(ctx, code); err != nil {
				return verifyResult{}, err
			}

		case choiceRerun:
			if logs, err = s.run(ctx, code); err != nil {
				return verifyResult{}, err
			}

		case choiceBack:
			return verifyResult{}, phase.Back("sandbox run failed")

		default:
			return verifyResult{Code: code, Logs: logs, Aborted: true}, nil
		}
	}
}

func fixWithGuidance(ctx context.Context, d *Deps, wc *phase.WorkflowContext, s *sandboxSession, code, logs, guidance string, connectionTest bool) (string, error) {
	dbg := d.agent().Debugger
	if dbg == nil {
		return "", kerrors.ErrAIUnavailable
	}
	fixed, err := dbg.Debug(ctx, ai.DebugRequest{
		ErrorContext:   autodebug.BuildContext(logs, nil),
		WorkDir:        s.dir,
		Code:           code,
		EntryFile:      s.entry,
		Kind:           wc.Kind,
		ConnectionTest: connectionTest,
		Guidance:       guidance,
	})
	if err == nil && strings.TrimSpace(fixed) == "" {
		err = kerrors.ErrNoFix
	}
	return fixed, err
}

// isStop reports whether err ends the phase rather than the current action.
func isStop(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, prompt.ErrInterrupted) || phase.IsNavigation(err)
}

// saveTested caches code that passed the sandbox. Code the user approved
// before the run is saved as is; code rewritten by a fix is saved only once
// the user agrees to keep it.
func saveTested(ctx context.Context, d *Deps, loc cache.Location, approved, tested, label string) error {
	if tested != approved {
		keep, err := d.Prompter.Confirm(ctx, fmt.Sprintf("Save the fixed %s for future runs?", label), true)
		if err != nil {
			if isStop(err) {
				return err
			}
			keep = false
		}
		if !keep {
			d.logger().Info("fixed code not cached", "artifact", loc.String())
			return nil
		}
	}
	if err := d.Cache.SaveText(loc, tested); err != nil {
		d.logger().Warn("failed to cache tested code", "artifact", loc.String(), "error", err.Error())
	}
	return nil
}

// Sandbox runs the generated code in a remote sandbox session until it runs
// cleanly, the user goes back, or the user aborts.
type Sandbox struct {
	phase.Base
	deps    *Deps
	session *sandboxSession
}

// NewSandbox creates the sandbox phase.
func NewSandbox(d *Deps) *Sandbox {
	return &Sandbox{
		Base: phase.Base{PhaseName: NameSandbox, PhaseDescription: "Test in sandbox"},
		deps: d,
	}
}

// Before implements phase.Hooks.
func (p *Sandbox) Before(_ context.Context, wc *phase.WorkflowContext) error {
	if strings.TrimSpace(wc.Code.DraftCode) == "" {
		return fmt.Errorf("%w: no code to test", kerrors.ErrNoCode)
	}
	return requireWorkspace(wc)
}

// After implements phase.Hooks; it closes the session.
func (p *Sandbox) After(ctx context.Context, _ *phase.WorkflowContext, _ phase.Result) {
	p.session.close(ctx)
}

// Execute implements phase.Phase.
func (p *Sandbox) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	wc.TakeResumeStep()

	entry := wc.Code.EntryFile
	if entry == "" {
		entry = DefaultEntryFile
	}
	if err := collectCredentials(ctx, d, wc, wc.Code.EnvVars); err != nil {
		return phase.Result{}, err
	}

	s, err := openSession(ctx, d, wc, wc.Code.AppDir, entry)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not start a sandbox session", err), nil
	}
	p.session = s

	logs, err := s.run(ctx, wc.Code.DraftCode)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Sandbox run failed", err), nil
	}

	res, err := verify(ctx, d, wc, s, wc.Code.DraftCode, logs, false)
	if err != nil {
		return phase.Result{}, err
	}
	if res.Aborted {
		return phase.Failed("Sandbox testing aborted", kerrors.ErrUserAborted), nil
	}

	approved := wc.Code.DraftCode
	wc.Code.DraftCode = res.Code
	wc.Code.LastRunLogs = res.Logs
	loc := d.Cache.PathFor(wc.Kind.String(), wc.Deployment.AppName, cache.ArtifactCode)
	if err := saveTested(ctx, d, loc, approved, res.Code, "code"); err != nil {
		return phase.Result{}, err
	}
	return phase.Succeeded("The code ran cleanly in the sandbox"), nil
}
