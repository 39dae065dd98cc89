package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/util"
)

// promptSchemaChars bounds how much of the schema analysis goes into the
// generation prompt.
const promptSchemaChars = 6000

// Generation has the AI write the application and lets the user accept it,
// regenerate it with feedback, or go back.
type Generation struct {
	phase.Base
	deps *Deps
}

// NewGeneration creates the generation phase.
func NewGeneration(d *Deps) *Generation {
	return &Generation{
		Base: phase.Base{PhaseName: NameGeneration, PhaseDescription: "Generate the application"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *Generation) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	kind := wc.Kind.String()
	app := wc.Deployment.AppName
	codeLoc := d.Cache.PathFor(kind, app, cache.ArtifactCode)
	envLoc := d.Cache.PathFor(kind, app, cache.ArtifactEnvVars)
	promptLoc := d.Cache.PathFor(kind, app, cache.ArtifactPrompt)

	code, reused, err := d.Cache.ReuseText(ctx, d.Prompter, d.Display, codeLoc, "code", dependents(wc.Code.AppDir)...)
	if err != nil {
		return phase.Result{}, err
	}
	if reused {
		var vars []phase.EnvVar
		if _, err := d.Cache.LoadJSON(envLoc, &vars); err != nil {
			d.logger().Warn("ignoring cached env vars", "error", err.Error())
		}
		wc.Code.EnvVars = mergeEnvVars(vars, wc.Code.EnvVars)
		if err := writeCode(wc.Code.AppDir, entryFile(wc), code); err != nil {
			return phase.Failed("Could not write cached code", err), nil
		}
		wc.Code.DraftCode = code
		return phase.Succeeded("Using cached code"), nil
	}

	gen := d.agent().Generator
	if gen == nil {
		return phase.Failed("Code generation is unavailable", kerrors.ErrAIUnavailable), nil
	}

	requirements, err := p.requirements(ctx, promptLoc)
	if err != nil {
		return phase.Result{}, err
	}
	template, err := templateCode(d, wc)
	if err != nil {
		d.logger().Warn("template unreadable, generating without it", "error", err.Error())
	}

	var feedback []string
	for {
		text := generationPrompt(wc, requirements, feedback)
		wc.RecordPrompt(NameGeneration, text)
		d.Display.Info("Claude is writing %s...", app)

		out, err := gen.Generate(ctx, ai.GenerateRequest{
			Prompt:    text,
			WorkDir:   wc.Code.AppDir,
			Kind:      wc.Kind,
			EntryFile: entryFile(wc),
			Template:  template,
		})
		if err != nil {
			if isStop(err) {
				return phase.Result{}, err
			}
			return phase.Failed("Code generation failed", err), nil
		}
		d.Display.Preview(out.Code, wc.Code.AppDir, display.DefaultPreviewLines, false)

		idx, err := d.Prompter.Select(ctx, "What would you like to do with this code?", []string{
			"Accept and test it",
			"Regenerate with feedback",
		})
		if err != nil {
			return phase.Result{}, err
		}
		if idx == 1 {
			note, err := d.Prompter.Multiline(ctx, "What should be different?")
			if err != nil {
				return phase.Result{}, err
			}
			feedback = append(feedback, note)
			wc.Code.Feedback = append(wc.Code.Feedback, note)
			continue
		}

		wc.Code.DraftCode = out.Code
		wc.Code.EnvVars = mergeEnvVars(out.EnvVars, wc.Code.EnvVars)
		p.save(codeLoc, out.Code, envLoc, wc.Code.EnvVars)
		return phase.Succeeded(fmt.Sprintf("Generated %s (%d lines)", entryFile(wc), strings.Count(out.Code, "\n")+1)), nil
	}
}

// requirements asks for optional extra instructions, offering the cached
// ones first.
func (p *Generation) requirements(ctx context.Context, loc cache.Location) (string, error) {
	d := p.deps
	text, reused, err := d.Cache.ReuseText(ctx, d.Prompter, d.Display, loc, "requirements")
	if err != nil || reused {
		return text, err
	}
	text, err = d.Prompter.Multiline(ctx, "Any extra requirements for the application? (leave empty for none)")
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text != "" {
		if err := d.Cache.SaveText(loc, text); err != nil {
			d.logger().Warn("failed to cache requirements", "error", err.Error())
		}
	}
	return text, nil
}

func (p *Generation) save(codeLoc cache.Location, code string, envLoc cache.Location, vars []phase.EnvVar) {
	if err := p.deps.Cache.SaveText(codeLoc, code); err != nil {
		p.deps.logger().Warn("failed to cache code", "error", err.Error())
	}
	if len(vars) == 0 {
		return
	}
	if err := p.deps.Cache.SaveJSON(envLoc, vars); err != nil {
		p.deps.logger().Warn("failed to cache env vars", "error", err.Error())
	}
}

func entryFile(wc *phase.WorkflowContext) string {
	if wc.Code.EntryFile == "" {
		return DefaultEntryFile
	}
	return wc.Code.EntryFile
}

func generationPrompt(wc *phase.WorkflowContext, requirements string, feedback []string) string {
	var b strings.Builder
	if wc.Kind == phase.KindSource {
		fmt.Fprintf(&b, "Write a source application that reads from %s and publishes each record to the topic named by the \"output\" environment variable.\n", wc.Technology.Name)
	} else {
		fmt.Fprintf(&b, "Write a sink application that consumes the topic named by the \"input\" environment variable and writes each message to %s.\n", wc.Technology.Name)
	}
	b.WriteString("Read all connection settings from environment variables.\n")

	if wc.Schema.Analysis != "" {
		b.WriteString("\n## Data schema\n\n")
		b.WriteString(util.Snippet(wc.Schema.Analysis, promptSchemaChars))
		b.WriteString("\n")
	}
	if wc.Code.ConnectionCode != "" {
		b.WriteString("\n## Working connection code\n\nThis code already connects successfully; reuse its connection logic.\n\n```python\n")
		b.WriteString(wc.Code.ConnectionCode)
		b.WriteString("\n```\n")
	}
	if requirements != "" {
		b.WriteString("\n## Requirements\n\n")
		b.WriteString(requirements)
		b.WriteString("\n")
	}
	for i, f := range feedback {
		fmt.Fprintf(&b, "\n## Feedback on draft %d\n\n%s\n", i+1, f)
	}
	return b.String()
}
