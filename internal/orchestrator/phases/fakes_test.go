package phases

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
	"github.com/Iron-Ham/klaus/internal/prompt"
)

// fakePlatform is an in-memory Platform. Run and DeploymentStatus replay
// their scripted values in order and repeat the last one.
type fakePlatform struct {
	mu sync.Mutex

	workspaces []platform.Workspace
	topics     []platform.Topic
	messages   []string
	apps       []platform.Application
	files      []platform.File
	runLogs    []string
	statuses   []platform.Status
	reason     string
	logs       map[platform.LogKind]string

	runs        []platform.RunRequest
	uploads     []string
	appUploads  [][]platform.File
	deleted     []string
	deployments []platform.DeploymentSpec
	secrets     map[string]string
	sessions    int
	closed      int
	installs    int
	statusCalls int
}

var _ Platform = (*fakePlatform)(nil)

func (f *fakePlatform) ListWorkspaces(context.Context) ([]platform.Workspace, error) {
	return f.workspaces, nil
}

func (f *fakePlatform) ListTopics(context.Context, string) ([]platform.Topic, error) {
	return f.topics, nil
}

func (f *fakePlatform) SampleMessages(_ context.Context, _, topic string, _ int) ([]string, error) {
	if len(f.messages) == 0 {
		return nil, fmt.Errorf("topic %s: %w", topic, kerrors.ErrEmptyTopic)
	}
	return f.messages, nil
}

func (f *fakePlatform) ListApplications(context.Context, string) ([]platform.Application, error) {
	return f.apps, nil
}

func (f *fakePlatform) FindApplication(_ context.Context, _, name string) (platform.Application, bool, error) {
	for _, a := range f.apps {
		if a.Name == name {
			return a, true, nil
		}
	}
	return platform.Application{}, false, nil
}

func (f *fakePlatform) CreateApplication(_ context.Context, _, name, language string) (platform.Application, error) {
	app := platform.Application{
		ApplicationID: fmt.Sprintf("app-%d", len(f.apps)+1),
		Name:          name,
		Path:          name,
		Language:      language,
	}
	f.apps = append(f.apps, app)
	return app, nil
}

func (f *fakePlatform) DeleteApplication(_ context.Context, _, id string) error {
	f.deleted = append(f.deleted, id)
	kept := f.apps[:0]
	for _, a := range f.apps {
		if a.ApplicationID != id {
			kept = append(kept, a)
		}
	}
	f.apps = kept
	return nil
}

func (f *fakePlatform) DownloadApplication(context.Context, string, string) ([]platform.File, error) {
	return f.files, nil
}

func (f *fakePlatform) UploadApplicationFiles(_ context.Context, _, _ string, files []platform.File) error {
	f.appUploads = append(f.appUploads, files)
	return nil
}

func (f *fakePlatform) CreateSession(_ context.Context, _, appID string) (platform.Session, error) {
	f.sessions++
	return platform.Session{SessionID: fmt.Sprintf("sess-%d", f.sessions), ApplicationID: appID}, nil
}

func (f *fakePlatform) UploadFiles(_ context.Context, _, _, dir string) error {
	f.uploads = append(f.uploads, dir)
	return nil
}

func (f *fakePlatform) InstallDependencies(context.Context, string, string, bool) (string, error) {
	f.installs++
	return "installed", nil
}

func (f *fakePlatform) Run(_ context.Context, _, _ string, req platform.RunRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.runs)
	f.runs = append(f.runs, req)
	if len(f.runLogs) == 0 {
		return "ok", nil
	}
	if i >= len(f.runLogs) {
		i = len(f.runLogs) - 1
	}
	return f.runLogs[i], nil
}

func (f *fakePlatform) WriteFile(context.Context, string, string, string, string) error { return nil }

func (f *fakePlatform) CloseSession(context.Context, string, string) error {
	f.closed++
	return nil
}

func (f *fakePlatform) CreateDeployment(_ context.Context, _ string, spec platform.DeploymentSpec) (string, error) {
	f.deployments = append(f.deployments, spec)
	return fmt.Sprintf("dep-%d", len(f.deployments)), nil
}

func (f *fakePlatform) StartDeployment(context.Context, string, string) error { return nil }

func (f *fakePlatform) DeploymentStatus(context.Context, string, string) (platform.Status, string, error) {
	i := f.statusCalls
	f.statusCalls++
	if len(f.statuses) == 0 {
		return platform.StatusRunning, "", nil
	}
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], f.reason, nil
}

func (f *fakePlatform) DeploymentLogs(_ context.Context, _, _ string, kind platform.LogKind) (string, error) {
	return f.logs[kind], nil
}

func (f *fakePlatform) SetSecret(_ context.Context, _ string, _ platform.SecretScope, name, value string) error {
	if f.secrets == nil {
		f.secrets = map[string]string{}
	}
	f.secrets[name] = value
	return nil
}

// fakeGenerator returns scripted generations in order.
type fakeGenerator struct {
	outputs  []ai.Generation
	err      error
	requests []ai.GenerateRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req ai.GenerateRequest) (ai.Generation, error) {
	i := len(g.requests)
	g.requests = append(g.requests, req)
	if g.err != nil {
		return ai.Generation{}, g.err
	}
	if i >= len(g.outputs) {
		i = len(g.outputs) - 1
	}
	return g.outputs[i], nil
}

// fakeDebugger returns scripted fixes in order.
type fakeDebugger struct {
	fixes    []string
	requests []ai.DebugRequest
}

func (f *fakeDebugger) Debug(_ context.Context, req ai.DebugRequest) (string, error) {
	i := len(f.requests)
	f.requests = append(f.requests, req)
	if i < len(f.fixes) {
		return f.fixes[i], nil
	}
	return "", kerrors.ErrNoFix
}

// fakeAnalyzer numbers its analyses and records the feedback it was given.
type fakeAnalyzer struct {
	feedback []string
}

func (a *fakeAnalyzer) AnalyzeSchema(_ context.Context, _, _, feedback string) (string, error) {
	a.feedback = append(a.feedback, feedback)
	return fmt.Sprintf("## Schema v%d\n\n- id: int", len(a.feedback)), nil
}

type harness struct {
	deps     *Deps
	plat     *fakePlatform
	prompter *prompt.Scripted
	out      *bytes.Buffer
}

func newHarness(t *testing.T, plat *fakePlatform, answers ...any) *harness {
	t.Helper()
	if plat == nil {
		plat = &fakePlatform{}
	}
	cfg := config.Default()
	cfg.Workflow.WorkingDir = t.TempDir()
	cfg.Deployment.MaxPolls = 5
	cfg.Workflow.MaxDebugAttempts = 3

	out := &bytes.Buffer{}
	p := prompt.NewScripted(answers...)
	return &harness{
		deps: &Deps{
			Platform: plat,
			Agent:    &ai.Agent{Classifier: detect.NewDetector()},
			Cache:    cache.NewStore(t.TempDir(), nil),
			Prompter: p,
			Display:  display.New(out),
			Config:   cfg,
			Sleep:    func(context.Context, time.Duration) error { return nil },
		},
		plat:     plat,
		prompter: p,
		out:      out,
	}
}

// readyContext is a context as it stands after prerequisites and knowledge.
func readyContext(h *harness, kind phase.Kind) *phase.WorkflowContext {
	wc := phase.NewWorkflowContext(kind)
	wc.Workspace = phase.Workspace{WorkspaceID: "ws-1", WorkspaceName: "Dev", TopicID: "t-1", TopicName: "orders"}
	wc.Technology.Name = "PostgreSQL"
	wc.Deployment.AppName = "postgresql-" + kind.String()
	wc.Code.AppDir = h.deps.workDir(kind, wc.Deployment.AppName)
	wc.Code.EntryFile = DefaultEntryFile
	return wc
}
