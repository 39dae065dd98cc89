// Package phases holds the concrete steps of the source, sink and diagnose
// workflows. Every phase receives its collaborators through Deps and its
// state through the WorkflowContext; nothing here is global.
package phases

import (
	"context"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/display"
	"github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/library"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
	"github.com/Iron-Ham/klaus/internal/prompt"
)

// Phase names. They double as cache and log keys.
const (
	NamePrerequisites  = "prerequisites"
	NameKnowledge      = "knowledge"
	NameConnectionTest = "connection_test"
	NameSchema         = "schema"
	NameGeneration     = "generation"
	NameSandbox        = "sandbox"
	NameDeployment     = "deployment"
	NameMonitor        = "monitor"
	NameAppSelect      = "app_select"
	NameAppDownload    = "app_download"
	NameAppEdit        = "app_edit"
)

// DefaultEntryFile is the file generated applications start from.
const DefaultEntryFile = "main.py"

// Platform is the part of the platform API the phases use.
type Platform interface {
	ListWorkspaces(ctx context.Context) ([]platform.Workspace, error)
	ListTopics(ctx context.Context, workspaceID string) ([]platform.Topic, error)
	SampleMessages(ctx context.Context, workspaceID, topic string, count int) ([]string, error)

	ListApplications(ctx context.Context, workspaceID string) ([]platform.Application, error)
	FindApplication(ctx context.Context, workspaceID, name string) (platform.Application, bool, error)
	CreateApplication(ctx context.Context, workspaceID, name, language string) (platform.Application, error)
	DeleteApplication(ctx context.Context, workspaceID, applicationID string) error
	DownloadApplication(ctx context.Context, workspaceID, applicationID string) ([]platform.File, error)
	UploadApplicationFiles(ctx context.Context, workspaceID, applicationID string, files []platform.File) error

	CreateSession(ctx context.Context, workspaceID, applicationID string) (platform.Session, error)
	UploadFiles(ctx context.Context, workspaceID, sessionID, localDir string) error
	InstallDependencies(ctx context.Context, workspaceID, sessionID string, force bool) (string, error)
	Run(ctx context.Context, workspaceID, sessionID string, req platform.RunRequest) (string, error)
	WriteFile(ctx context.Context, workspaceID, sessionID, file, content string) error
	CloseSession(ctx context.Context, workspaceID, sessionID string) error

	CreateDeployment(ctx context.Context, workspaceID string, spec platform.DeploymentSpec) (string, error)
	StartDeployment(ctx context.Context, workspaceID, deploymentID string) error
	DeploymentStatus(ctx context.Context, workspaceID, deploymentID string) (platform.Status, string, error)
	DeploymentLogs(ctx context.Context, workspaceID, deploymentID string, kind platform.LogKind) (string, error)

	SetSecret(ctx context.Context, workspaceID string, scope platform.SecretScope, name, value string) error
}

var _ Platform = (*platform.Client)(nil)

// Deps are the collaborators shared by every phase. Platform, Cache,
// Prompter, Display and Config are required; Agent and Library may be nil.
type Deps struct {
	Platform Platform
	Agent    *ai.Agent
	Cache    *cache.Store
	Library  *library.Index
	Prompter prompt.Prompter
	Display  *display.Display
	Logger   *logging.Logger
	Config   *config.Config

	// Sleep waits between deployment polls. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (d *Deps) logger() *logging.Logger {
	if d.Logger == nil {
		return logging.NopLogger()
	}
	return d.Logger
}

func (d *Deps) agent() *ai.Agent {
	if d.Agent == nil {
		return &ai.Agent{}
	}
	return d.Agent
}

func (d *Deps) sleep(ctx context.Context, wait time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, wait)
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// workDir is where an application's files are kept locally.
func (d *Deps) workDir(kind phase.Kind, app string) string {
	return filepath.Join(d.Config.Workflow.WorkingDir, kind.String(), app)
}

func requireWorkspace(wc *phase.WorkflowContext) error {
	if wc.Workspace.WorkspaceID == "" {
		return errors.ErrNoWorkspace
	}
	return nil
}

// dependents drops empty paths so a cache offer only proposes deleting
// directories that exist in this run.
func dependents(paths ...string) []string {
	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
