package phases

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
)

// ConnectionEntryFile is the probe's entry file inside the application.
const ConnectionEntryFile = "connection_test.py"

// ConnectionTest generates a read-only probe that connects to the source
// system and prints a few records, runs it in the sandbox, and keeps its
// output as the sample the schema is derived from.
type ConnectionTest struct {
	phase.Base
	deps    *Deps
	session *sandboxSession
}

// NewConnectionTest creates the connection test phase.
func NewConnectionTest(d *Deps) *ConnectionTest {
	return &ConnectionTest{
		Base: phase.Base{PhaseName: NameConnectionTest, PhaseDescription: "Test the connection"},
		deps: d,
	}
}

// Before implements phase.Hooks.
func (p *ConnectionTest) Before(_ context.Context, wc *phase.WorkflowContext) error {
	return requireWorkspace(wc)
}

// After implements phase.Hooks.
func (p *ConnectionTest) After(ctx context.Context, _ *phase.WorkflowContext, _ phase.Result) {
	p.session.close(ctx)
}

// Execute implements phase.Phase.
func (p *ConnectionTest) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	loc := d.Cache.PathFor(wc.Kind.String(), wc.Technology.Name, cache.ArtifactConnectionCode)

	code, reused, err := d.Cache.ReuseText(ctx, d.Prompter, d.Display, loc, "connection test", dependents(wc.Code.AppDir)...)
	if err != nil {
		return phase.Result{}, err
	}
	if !reused {
		gen, err := p.generate(ctx, wc)
		if err != nil {
			if isStop(err) {
				return phase.Result{}, err
			}
			return phase.Failed("Could not generate a connection test", err), nil
		}
		code = gen.Code
		wc.Code.EnvVars = mergeEnvVars(wc.Code.EnvVars, gen.EnvVars)
	}

	if err := collectCredentials(ctx, d, wc, wc.Code.EnvVars); err != nil {
		return phase.Result{}, err
	}

	s, err := openSession(ctx, d, wc, wc.Code.AppDir, ConnectionEntryFile)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not start a sandbox session", err), nil
	}
	p.session = s

	logs, err := s.run(ctx, code)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Connection test run failed", err), nil
	}
	res, err := verify(ctx, d, wc, s, code, logs, true)
	if err != nil {
		return phase.Result{}, err
	}
	if res.Aborted {
		return phase.Failed("Connection test aborted", kerrors.ErrUserAborted), nil
	}

	wc.Code.ConnectionCode = res.Code
	wc.Schema.Sample = res.Logs
	if err := saveTested(ctx, d, loc, code, res.Code, "connection test"); err != nil {
		return phase.Result{}, err
	}
	return phase.Succeeded(fmt.Sprintf("Connected to %s", wc.Technology.Name)), nil
}

func (p *ConnectionTest) generate(ctx context.Context, wc *phase.WorkflowContext) (ai.Generation, error) {
	d := p.deps
	gen := d.agent().Generator
	if gen == nil {
		return ai.Generation{}, kerrors.ErrAIUnavailable
	}
	template, err := templateCode(d, wc)
	if err != nil {
		d.logger().Warn("template unreadable, generating without it", "error", err.Error())
	}

	text := connectionPrompt(wc)
	wc.RecordPrompt(NameConnectionTest, text)
	d.Display.Info("Claude is writing a connection test for %s...", wc.Technology.Name)
	out, err := gen.Generate(ctx, ai.GenerateRequest{
		Prompt:         text,
		WorkDir:        wc.Code.AppDir,
		Kind:           wc.Kind,
		EntryFile:      ConnectionEntryFile,
		Template:       template,
		ConnectionTest: true,
	})
	if err != nil {
		return ai.Generation{}, err
	}
	d.Display.Preview(out.Code, "", display.DefaultPreviewLines, false)
	return out, nil
}

func connectionPrompt(wc *phase.WorkflowContext) string {
	return fmt.Sprintf(`Write a minimal, read-only connection test for %s.
It must connect using credentials from environment variables, read at most 10 records,
print each record as one JSON object per line, and exit. Do not write anywhere.`, wc.Technology.Name)
}

// templateCode returns the selected template's code, or "" when none is set.
func templateCode(d *Deps, wc *phase.WorkflowContext) (string, error) {
	if d.Library == nil || wc.Technology.TemplateID == "" {
		return "", nil
	}
	t, ok := d.Library.Get(wc.Technology.TemplateID)
	if !ok {
		return "", fmt.Errorf("template %s: %w", wc.Technology.TemplateID, kerrors.ErrNotFound)
	}
	return d.Library.Code(t)
}
