package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/retry"
	"github.com/Iron-Ham/klaus/internal/util"
	"github.com/Iron-Ham/klaus/internal/watch"
)

// EnvVarsFile is where the agent declares the environment variables the
// generated code reads, relative to the working directory.
const EnvVarsFile = ".klaus-env.json"

const skipPermissionsFlag = "--dangerously-skip-permissions"

// envVarsSchema constrains EnvVarsFile.
const envVarsSchema = `{
  "type": "object",
  "required": ["env_vars"],
  "properties": {
    "env_vars": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"},
          "description": {"type": "string"},
          "required": {"type": "boolean"},
          "default": {"type": ["string", "null"]},
          "secret": {"type": "boolean"}
        }
      }
    }
  }
}`

// runFunc executes a command in dir and returns its combined output.
type runFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = nil
	return cmd.CombinedOutput()
}

// ClaudeCLI drives the Claude Code CLI in one-shot print mode. The agent
// writes its output into the working directory; ClaudeCLI reads it back.
type ClaudeCLI struct {
	executable      string
	skipPermissions bool
	model           string
	timeout         time.Duration
	policy          retry.Policy
	logger          *logging.Logger
	progress        func(path string)
	run             runFunc
	schema          *jsonschema.Schema
}

// CLIOption configures a ClaudeCLI.
type CLIOption func(*ClaudeCLI)

// WithProgress reports each file the agent writes while it runs.
func WithProgress(fn func(path string)) CLIOption {
	return func(c *ClaudeCLI) { c.progress = fn }
}

// NewClaudeCLI creates a ClaudeCLI from config. The executable is resolved
// up front; a missing CLI yields errors.ErrAIUnavailable.
func NewClaudeCLI(cfg config.AIConfig, logger *logging.Logger, opts ...CLIOption) (*ClaudeCLI, error) {
	path, err := exec.LookPath(config.ExpandHome(cfg.ClaudeExecutable()))
	if err != nil {
		return nil, fmt.Errorf("%w: claude CLI %q not found: %v", errors.ErrAIUnavailable, cfg.ClaudeExecutable(), err)
	}
	return newClaudeCLI(path, cfg, logger, execRun, opts...), nil
}

func newClaudeCLI(executable string, cfg config.AIConfig, logger *logging.Logger, run runFunc, opts ...CLIOption) *ClaudeCLI {
	if logger == nil {
		logger = logging.NopLogger()
	}
	c := &ClaudeCLI{
		executable:      executable,
		skipPermissions: cfg.SkipPermissions,
		model:           cfg.Model,
		timeout:         cfg.GenerationTimeout(),
		policy:          retry.AIPolicy(cfg.MaxRetries),
		logger:          logger,
		run:             run,
		schema:          jsonschema.MustCompileString("klaus-env.schema.json", envVarsSchema),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// buildArgs returns the CLI arguments for a one-shot prompt.
func (c *ClaudeCLI) buildArgs(prompt string) []string {
	args := []string{"--print"}
	if c.skipPermissions {
		args = append(args, skipPermissionsFlag)
	}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	return append(args, prompt)
}

// Generate implements Generator.
func (c *ClaudeCLI) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	entry := entryFile(req.EntryFile)
	if err := os.MkdirAll(req.WorkDir, 0755); err != nil {
		return Generation{}, fmt.Errorf("failed to create working directory: %w", err)
	}
	_ = os.Remove(filepath.Join(req.WorkDir, EnvVarsFile))

	files, err := c.invoke(ctx, "generate", req.WorkDir, generatePrompt(req, entry))
	if err != nil {
		return Generation{}, err
	}

	code, err := readCode(req.WorkDir, entry)
	if err != nil || code == "" {
		return Generation{}, errors.NewAIError("generate", errors.ErrNoCode).WithRetryable(false)
	}

	vars, err := c.readEnvVars(req.WorkDir)
	if err != nil {
		c.logger.Warn("ignoring invalid env var metadata", "error", err.Error())
	}
	return Generation{Code: code, EnvVars: vars, Files: files}, nil
}

// Debug implements Debugger. The current code is written to the entry file
// first so the agent edits it in place.
func (c *ClaudeCLI) Debug(ctx context.Context, req DebugRequest) (string, error) {
	entry := entryFile(req.EntryFile)
	if err := os.MkdirAll(req.WorkDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create working directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(req.WorkDir, entry), []byte(req.Code), 0644); err != nil {
		return "", fmt.Errorf("failed to write code for debugging: %w", err)
	}

	if _, err := c.invoke(ctx, "debug", req.WorkDir, debugPrompt(req, entry)); err != nil {
		return "", err
	}

	fixed, err := readCode(req.WorkDir, entry)
	if err != nil || fixed == "" || fixed == strings.TrimSpace(req.Code) {
		return "", errors.NewAIError("debug", errors.ErrNoFix).WithRetryable(false)
	}
	return fixed, nil
}

// invoke runs one prompt with retries and a timeout, and returns the files
// the agent wrote.
func (c *ClaudeCLI) invoke(ctx context.Context, op, dir, prompt string) ([]string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	w, err := watch.New(dir, c.logger)
	if err == nil {
		if c.progress != nil {
			w.OnChange(func(ch watch.Change) { c.progress(ch.RelativePath) })
		}
		if err := w.Start(); err != nil {
			c.logger.Debug("file watcher not started", "error", err.Error())
		}
		defer w.Stop()
	}

	logger := c.logger.With("op", op)
	start := time.Now()
	logger.Info("invoking claude CLI", "dir", dir, "prompt_chars", len(prompt))

	_, err = retry.DoValue(ctx, c.policy, func(err error, wait time.Duration) {
		logger.Warn("claude CLI failed, retrying", "error", err.Error(), "wait", wait)
	}, func(ctx context.Context) (string, error) {
		out, err := c.run(ctx, dir, c.executable, c.buildArgs(prompt)...)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return "", errors.NewTimeoutError("claude "+op, c.timeout).WithCause(err)
			}
			tail, _ := util.TailLines(string(out), 20)
			return "", errors.NewAIError(op, fmt.Errorf("%w: %s", err, strings.TrimSpace(tail)))
		}
		return string(out), nil
	})
	if err != nil {
		logger.Error("claude CLI failed", "error", err.Error(), "elapsed", time.Since(start))
		return nil, err
	}

	var files []string
	if w != nil {
		files = w.Changed()
	}
	logger.Info("claude CLI finished", "elapsed", time.Since(start), "files", len(files))
	return files, nil
}

// readEnvVars loads and validates EnvVarsFile. A missing file means none.
func (c *ClaudeCLI) readEnvVars(dir string) ([]phase.EnvVar, error) {
	data, err := os.ReadFile(filepath.Join(dir, EnvVarsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseEnvVars(c.schema, data)
}

func parseEnvVars(schema *jsonschema.Schema, data []byte) ([]phase.EnvVar, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvVarsFile, err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvVarsFile, err)
	}
	var parsed struct {
		EnvVars []phase.EnvVar `json:"env_vars"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvVarsFile, err)
	}
	return parsed.EnvVars, nil
}

func entryFile(name string) string {
	if name == "" {
		return "main.py"
	}
	return name
}

func readCode(dir, entry string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, entry))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func generatePrompt(req GenerateRequest, entry string) string {
	var b strings.Builder
	if req.ConnectionTest {
		fmt.Fprintf(&b, "Write a minimal Python program that only tests connectivity to the external system for a %s connector. ", req.Kind)
		b.WriteString("It must connect, read a handful of records, print them and exit. It must not write anything.\n\n")
	} else {
		fmt.Fprintf(&b, "Write a complete Python %s application for the streaming platform.\n\n", req.Kind)
	}
	b.WriteString("Requirements:\n")
	b.WriteString(req.Prompt)
	b.WriteString("\n\n")
	if req.Template != "" {
		b.WriteString("Start from this template:\n```python\n")
		b.WriteString(req.Template)
		b.WriteString("\n```\n\n")
	}
	fmt.Fprintf(&b, "Write the code to %s in the current directory.\n", entry)
	fmt.Fprintf(&b, "Read every configurable value from environment variables and declare them in %s as ", EnvVarsFile)
	b.WriteString(`{"env_vars": [{"name": "...", "description": "...", "required": true, "default": null, "secret": false}]}. `)
	b.WriteString("Mark passwords, tokens and keys as secret.\n")
	return b.String()
}

func debugPrompt(req DebugRequest, entry string) string {
	var b strings.Builder
	if req.ConnectionTest {
		fmt.Fprintf(&b, "The connection test in %s fails. Fix only the connectivity code.\n\n", entry)
	} else {
		fmt.Fprintf(&b, "The %s application in %s fails when run. Fix it.\n\n", req.Kind, entry)
	}
	b.WriteString("Error history, oldest first. Do not reintroduce a fix that already failed:\n")
	b.WriteString(req.ErrorContext)
	b.WriteString("\n")
	if req.Guidance != "" {
		b.WriteString("\nGuidance from the user:\n")
		b.WriteString(req.Guidance)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nEdit %s in place. Keep reading configuration from the same environment variables.\n", entry)
	return b.String()
}
