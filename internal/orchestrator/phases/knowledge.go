package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/library"
	"github.com/Iron-Ham/klaus/internal/namer"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
)

// Knowledge picks the library template the generated code starts from and
// settles the application name.
type Knowledge struct {
	phase.Base
	deps *Deps
}

// NewKnowledge creates the knowledge phase.
func NewKnowledge(d *Deps) *Knowledge {
	return &Knowledge{
		Base: phase.Base{PhaseName: NameKnowledge, PhaseDescription: "Gather technology knowledge"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (k *Knowledge) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	if wc.Technology.Name == "" {
		return phase.Failed("No technology selected", nil), nil
	}

	tmpl, err := k.chooseTemplate(ctx, wc)
	if err != nil {
		return phase.Result{}, err
	}
	wc.Technology.TemplateID, wc.Technology.TemplatePath = "", ""
	wc.Code.EntryFile = DefaultEntryFile
	wc.Code.Dependencies = nil
	if tmpl != nil {
		wc.Technology.TemplateID = tmpl.ID
		wc.Technology.TemplatePath = tmpl.Dir
		if tmpl.EntryFile != "" {
			wc.Code.EntryFile = tmpl.EntryFile
		}
		wc.Code.Dependencies = append([]string(nil), tmpl.Dependencies...)
		wc.Code.EnvVars = templateEnvVars(tmpl.Variables)
	}

	name, err := k.appName(ctx, wc)
	if err != nil {
		return phase.Result{}, err
	}
	wc.Deployment.AppName = name
	wc.Code.AppDir = k.deps.workDir(wc.Kind, name)

	msg := fmt.Sprintf("Application %s will be generated from scratch", name)
	if tmpl != nil {
		msg = fmt.Sprintf("Application %s will start from template %s", name, tmpl.Label())
	}
	return phase.Succeeded(msg), nil
}

// chooseTemplate returns the template to start from, or nil to generate
// from scratch.
func (k *Knowledge) chooseTemplate(ctx context.Context, wc *phase.WorkflowContext) (*library.Template, error) {
	d := k.deps
	if d.Library == nil {
		return nil, nil
	}
	candidates := d.Library.ForKind(wc.Kind.String())
	if len(candidates) == 0 {
		return nil, nil
	}

	var match *library.Template
	if m := d.agent().Matcher; m != nil {
		id, err := m.MatchTemplate(ctx, wc.Technology.Name, candidates)
		if err != nil {
			d.logger().Warn("template matching unavailable, using keyword match", "error", err.Error())
		} else if t, ok := d.Library.Get(id); ok {
			match = &t
		}
	}
	if match == nil {
		if t, ok := d.Library.Match(wc.Kind.String(), wc.Technology.Name); ok {
			match = &t
		}
	}

	if match != nil {
		d.Display.Info("Matched template %s", match.Label())
		if match.Description != "" {
			d.Display.Markdown(match.Description)
		}
		idx, err := d.Prompter.Select(ctx, "How should the code be started?", []string{
			"Use template " + match.Label(),
			"Choose another template",
			"Generate from scratch",
		})
		if err != nil {
			return nil, err
		}
		switch idx {
		case 0:
			return match, nil
		case 2:
			return nil, nil
		}
	}

	labels := make([]string, 0, len(candidates)+1)
	for _, t := range candidates {
		labels = append(labels, t.Label())
	}
	labels = append(labels, "Generate from scratch")
	idx, err := d.Prompter.Select(ctx, "Select a template", labels)
	if err != nil {
		return nil, err
	}
	if idx == len(candidates) {
		return nil, nil
	}
	return &candidates[idx], nil
}

// appName proposes "{technology}-{kind}", offering a cached name first.
func (k *Knowledge) appName(ctx context.Context, wc *phase.WorkflowContext) (string, error) {
	d := k.deps
	maxLen := d.Config.Workflow.MaxAppNameLength
	loc := d.Cache.PathFor(wc.Kind.String(), wc.Technology.Name, cache.ArtifactAppName)

	cached, reused, err := d.Cache.ReuseText(ctx, d.Prompter, d.Display, loc, "application name")
	if err != nil {
		return "", err
	}
	if reused {
		if name := namer.Truncate(namer.Sanitize(cached), maxLen); name != "" {
			return name, nil
		}
	}

	proposed := namer.Truncate(namer.Sanitize(wc.Technology.Name+"-"+wc.Kind.String()), maxLen)
	answer, err := d.Prompter.Input(ctx, "Application name", proposed)
	if err != nil {
		return "", err
	}
	name := namer.Truncate(namer.Sanitize(answer), maxLen)
	if name == "" {
		name = proposed
	}
	if name != strings.TrimSpace(answer) && strings.TrimSpace(answer) != "" {
		d.Display.Info("Application name adjusted to %s", name)
	}
	if err := d.Cache.SaveText(loc, name); err != nil {
		d.logger().Warn("failed to cache application name", "error", err.Error())
	}
	return name, nil
}

func templateEnvVars(vars []library.Variable) []phase.EnvVar {
	out := make([]phase.EnvVar, len(vars))
	for i, v := range vars {
		out[i] = phase.EnvVar{
			Name:        v.Name,
			Description: v.Description,
			Required:    v.Required,
			Default:     v.Default,
			Secret:      v.Secret,
		}
	}
	return out
}
