package phases

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
)

func diagnosePlatform() *fakePlatform {
	plat := twoWorkspaces()
	plat.apps = []platform.Application{
		{ApplicationID: "app-2", Name: "orders-sink", Path: "orders-sink"},
		{ApplicationID: "app-1", Name: "clicks-source", Path: "clicks-source"},
	}
	plat.files = []platform.File{
		{Path: "lib/helpers.py", Content: "def helper(): pass"},
		{Path: "main.py", Content: "print('deployed')"},
		{Path: "requirements.txt", Content: "quixstreams\n"},
	}
	return plat
}

func downloadedContext(t *testing.T, h *harness) *phase.WorkflowContext {
	t.Helper()
	wc := phase.NewWorkflowContext(phase.KindDiagnose)
	wc.Workspace = phase.Workspace{WorkspaceID: "ws-1", WorkspaceName: "Dev"}
	wc.Deployment.AppID = "app-2"
	wc.Deployment.AppName = "orders-sink"
	wc.Code.AppDir = h.deps.workDir(phase.KindDiagnose, "orders-sink")
	wc.Code.EntryFile = DefaultEntryFile
	wc.Code.DraftCode = "print('deployed')"
	require.NoError(t, writeCode(wc.Code.AppDir, DefaultEntryFile, wc.Code.DraftCode))
	return wc
}

func TestAppSelect(t *testing.T) {
	h := newHarness(t, diagnosePlatform(), 0, 0)
	wc := phase.NewWorkflowContext(phase.KindDiagnose)

	res, err := NewAppSelect(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "ws-1", wc.Workspace.WorkspaceID)
	// Applications are listed by name.
	assert.Equal(t, "clicks-source", wc.Deployment.AppName)
	assert.Equal(t, "app-1", wc.Deployment.AppID)
	assert.Equal(t, h.deps.workDir(phase.KindDiagnose, "clicks-source"), wc.Code.AppDir)
}

func TestAppSelect_ResumeKeepsWorkspace(t *testing.T) {
	h := newHarness(t, diagnosePlatform(), 1)
	wc := phase.NewWorkflowContext(phase.KindDiagnose)
	wc.Workspace = phase.Workspace{WorkspaceID: "ws-2", WorkspaceName: "Prod"}
	wc.ResumeStep = phase.StepSelectApp
	wc.Code.ChangeRequest = "old request"

	res, err := NewAppSelect(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "ws-2", wc.Workspace.WorkspaceID)
	assert.Equal(t, "orders-sink", wc.Deployment.AppName)
	assert.Equal(t, phase.StepNone, wc.ResumeStep)
	assert.Empty(t, wc.Code.ChangeRequest)
	assert.Len(t, h.prompter.Asked(), 1)
}

func TestAppSelect_NoApplications(t *testing.T) {
	plat := twoWorkspaces()
	h := newHarness(t, plat, 0)
	res, err := NewAppSelect(h.deps).Execute(context.Background(), phase.NewWorkflowContext(phase.KindDiagnose))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestAppDownload(t *testing.T) {
	h := newHarness(t, diagnosePlatform(), 0)
	wc := phase.NewWorkflowContext(phase.KindDiagnose)
	wc.Workspace.WorkspaceID = "ws-1"
	wc.Deployment.AppID = "app-2"
	wc.Deployment.AppName = "orders-sink"
	wc.Code.AppDir = h.deps.workDir(phase.KindDiagnose, "orders-sink")

	res, err := NewAppDownload(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, DefaultEntryFile, wc.Code.EntryFile)
	assert.Equal(t, "print('deployed')", wc.Code.DraftCode)
	assert.FileExists(t, filepath.Join(wc.Code.AppDir, "lib", "helpers.py"))
	assert.FileExists(t, filepath.Join(wc.Code.AppDir, "requirements.txt"))
}

func TestAppDownload_ChooseDifferentApplication(t *testing.T) {
	h := newHarness(t, diagnosePlatform(), 2)
	wc := downloadedContext(t, h)

	_, err := NewAppDownload(h.deps).Execute(context.Background(), wc)
	require.Error(t, err)
	assert.True(t, phase.IsNavigation(err))
	req := wc.PendingNavigation()
	require.NotNil(t, req)
	assert.Equal(t, phase.StepSelectApp, req.Step)
}

func TestAppDownload_ResumeSkipsDownload(t *testing.T) {
	plat := diagnosePlatform()
	plat.files = nil // a download would fail
	h := newHarness(t, plat, 0)
	wc := downloadedContext(t, h)
	wc.ResumeStep = phase.StepReviewDownload

	res, err := NewAppDownload(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "print('deployed')", wc.Code.DraftCode)
}

func TestAppDownload_EmptyApplication(t *testing.T) {
	plat := diagnosePlatform()
	plat.files = nil
	h := newHarness(t, plat)
	wc := downloadedContext(t, h)

	res, err := NewAppDownload(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestPickEntryFile(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"main wins", []string{"app.py", "main.py"}, "main.py"},
		{"shallowest python file", []string{"src/deep/run.py", "worker.py"}, "worker.py"},
		{"alphabetical at same depth", []string{"b.py", "a.py"}, "a.py"},
		{"no python", []string{"app.yaml"}, DefaultEntryFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var files []platform.File
			for _, p := range tt.files {
				files = append(files, platform.File{Path: p})
			}
			assert.Equal(t, tt.want, pickEntryFile(files))
		})
	}
}

func TestAppEdit_Accept(t *testing.T) {
	h := newHarness(t, nil, "log every message", 0)
	dbg := &fakeDebugger{fixes: []string{"import logging\nprint('deployed')"}}
	h.deps.Agent.Debugger = dbg
	wc := downloadedContext(t, h)

	res, err := NewAppEdit(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "import logging\nprint('deployed')", wc.Code.DraftCode)
	assert.Equal(t, "log every message", wc.Code.ChangeRequest)

	require.Len(t, dbg.requests, 1)
	assert.Equal(t, "log every message", dbg.requests[0].Guidance)
	assert.Equal(t, "print('deployed')", dbg.requests[0].Code)

	data, err := os.ReadFile(filepath.Join(wc.Code.AppDir, DefaultEntryFile))
	require.NoError(t, err)
	assert.Equal(t, wc.Code.DraftCode, string(data))
}

func TestAppEdit_DescribeAgain(t *testing.T) {
	h := newHarness(t, nil, "first idea", 1, "second idea", 0)
	dbg := &fakeDebugger{fixes: []string{"print('one')", "print('two')"}}
	h.deps.Agent.Debugger = dbg
	wc := downloadedContext(t, h)

	res, err := NewAppEdit(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "print('two')", wc.Code.DraftCode)
	require.Len(t, dbg.requests, 2)
	assert.Equal(t, "second idea", dbg.requests[1].Guidance)
	// Every attempt starts from the downloaded code.
	assert.Equal(t, "print('deployed')", dbg.requests[1].Code)
}

func TestAppEdit_BackRestoresCode(t *testing.T) {
	h := newHarness(t, nil, "rewrite it", 2)
	h.deps.Agent.Debugger = &fakeDebugger{fixes: []string{"print('rewritten')"}}
	wc := downloadedContext(t, h)

	_, err := NewAppEdit(h.deps).Execute(context.Background(), wc)
	require.Error(t, err)
	require.NotNil(t, wc.PendingNavigation())
	assert.Equal(t, phase.StepReviewDownload, wc.PendingNavigation().Step)

	data, err := os.ReadFile(filepath.Join(wc.Code.AppDir, DefaultEntryFile))
	require.NoError(t, err)
	assert.Equal(t, "print('deployed')", string(data))
}

func TestAppEdit_ResumeReusesChangeRequest(t *testing.T) {
	h := newHarness(t, nil, 0)
	dbg := &fakeDebugger{fixes: []string{"print('edited')"}}
	h.deps.Agent.Debugger = dbg
	wc := downloadedContext(t, h)
	wc.Code.ChangeRequest = "add retries"
	wc.ResumeStep = phase.StepReviewEdit

	res, err := NewAppEdit(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "add retries", dbg.requests[0].Guidance)
}

func TestAppEdit_NoDebugger(t *testing.T) {
	h := newHarness(t, nil)
	res, err := NewAppEdit(h.deps).Execute(context.Background(), downloadedContext(t, h))
	require.NoError(t, err)
	assert.False(t, res.Success)
}
