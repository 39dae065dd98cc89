package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/display"
	"github.com/Iron-Ham/klaus/internal/library"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phases"
	"github.com/Iron-Ham/klaus/internal/platform"
	"github.com/Iron-Ham/klaus/internal/prompt"
	"github.com/Iron-Ham/klaus/internal/telemetry"
	"github.com/spf13/cobra"
)

// telemetryFlushTimeout bounds the span flush on exit.
const telemetryFlushTimeout = 5 * time.Second

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	workflow, _ := cmd.Flags().GetString("workflow")

	logger, err := newLogger(cfg.Logging, debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	shutdown, err := telemetry.Setup(cfg.Telemetry.Enabled, config.ExpandHome(cfg.Telemetry.TraceFile))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("failed to flush telemetry", "error", err.Error())
		}
	}()

	out := display.New(os.Stdout, display.WithVerbose(debug))
	deps, err := buildDeps(cfg, logger, out)
	if err != nil {
		return err
	}

	logger.Info("session started", "workflow", workflow, "debug", debug)
	orch := orchestrator.New(deps, orchestrator.Options{
		Workflow:             phase.Kind(workflow),
		Verbose:              debug,
		SaveDefaultWorkspace: saveDefaultWorkspace,
	})
	err = orch.Run(cmd.Context())
	logger.Info("session ended", "failed", err != nil)
	return err
}

// newLogger opens the session log. --debug forces the debug level.
func newLogger(cfg config.LoggingConfig, debug bool) (*logging.Logger, error) {
	if !cfg.Enabled {
		return logging.NopLogger(), nil
	}
	level := cfg.Level
	if debug {
		level = "debug"
	}
	logger, err := logging.NewLogger(config.ExpandHome(cfg.Dir), level)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return logger, nil
}

// buildDeps wires the collaborators every phase shares. Missing AI backends
// and an unreadable template library are reported and tolerated; the
// phases degrade without them.
func buildDeps(cfg *config.Config, logger *logging.Logger, out *display.Display) (*phases.Deps, error) {
	if cfg.Platform.Token == "" {
		out.Warn("No platform token configured; set KLAUS_PLATFORM_TOKEN")
	}
	client, err := platform.NewClient(cfg.Platform, logger)
	if err != nil {
		return nil, err
	}

	agent, missing := ai.NewAgent(cfg.AI, logger, ai.WithProgress(func(path string) {
		out.Info("Agent wrote %s", path)
	}))
	for _, err := range missing {
		logger.Warn("AI backend unavailable", "error", err.Error())
		out.Warn("%s", err.Error())
	}

	lib, err := library.Load(config.ExpandHome(cfg.Library.Dir))
	if err != nil {
		logger.Warn("template library unavailable", "error", err.Error())
		out.Warn("Template library unavailable: %s", err.Error())
		lib = nil
	}

	return &phases.Deps{
		Platform: client,
		Agent:    agent,
		Cache:    cache.NewStore(config.ExpandHome(cfg.Cache.Dir), logger),
		Library:  lib,
		Prompter: prompt.New(os.Stdin, os.Stdout),
		Display:  out,
		Logger:   logger,
		Config:   cfg,
	}, nil
}

func saveDefaultWorkspace(workspaceID string) error {
	_, err := config.SaveSetting("platform.default_workspace_id", workspaceID)
	return err
}
