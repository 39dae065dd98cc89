package phases

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
)

// collectCredentials asks for every declared variable that has no value
// yet. Secrets are read without echo. Values already collected are kept.
func collectCredentials(ctx context.Context, d *Deps, wc *phase.WorkflowContext, vars []phase.EnvVar) error {
	creds := &wc.Credentials
	if creds.Values == nil {
		creds.Values = map[string]string{}
	}

	for _, v := range vars {
		if v.Name == "" {
			continue
		}
		if !slices.Contains(creds.EnvVarNames, v.Name) {
			creds.EnvVarNames = append(creds.EnvVarNames, v.Name)
		}
		if v.Secret && !creds.IsSecret(v.Name) {
			creds.Secrets = append(creds.Secrets, v.Name)
		}
		if _, ok := creds.Values[v.Name]; ok {
			continue
		}

		value, err := askVariable(ctx, d, v)
		if err != nil {
			return err
		}
		if value == "" && !v.Required {
			continue
		}
		creds.Values[v.Name] = value
	}

	d.logger().Debug("credentials collected", "values", creds.Redacted())
	return nil
}

func askVariable(ctx context.Context, d *Deps, v phase.EnvVar) (string, error) {
	question := v.Name
	if v.Description != "" {
		question = fmt.Sprintf("%s (%s)", v.Name, v.Description)
	}
	for {
		var value string
		var err error
		if v.Secret {
			value, err = d.Prompter.Secret(ctx, question)
		} else {
			value, err = d.Prompter.Input(ctx, question, v.Default)
		}
		if err != nil {
			return "", err
		}
		value = strings.TrimSpace(value)
		if value == "" && v.Secret {
			value = v.Default
		}
		if value != "" || !v.Required {
			return value, nil
		}
		d.Display.Warn("%s is required", v.Name)
	}
}

// mergeEnvVars returns base with the entries of extra whose names are not
// already present.
func mergeEnvVars(base, extra []phase.EnvVar) []phase.EnvVar {
	out := append([]phase.EnvVar(nil), base...)
	for _, v := range extra {
		if !slices.ContainsFunc(out, func(e phase.EnvVar) bool { return e.Name == v.Name }) {
			out = append(out, v)
		}
	}
	return out
}

// runEnvironment is the environment passed to sandbox runs.
func runEnvironment(wc *phase.WorkflowContext) map[string]string {
	env := make(map[string]string, len(wc.Credentials.Values)+1)
	for k, v := range wc.Credentials.Values {
		env[k] = v
	}
	if wc.Workspace.TopicName != "" {
		if wc.Kind == phase.KindSource {
			env["output"] = wc.Workspace.TopicName
		} else {
			env["input"] = wc.Workspace.TopicName
		}
	}
	return env
}
