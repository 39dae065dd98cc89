// Package internal contains integration tests that drive a whole workflow
// through the orchestrator, the sequencer, the concrete phases and the real
// platform client talking to an in-process portal.
package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/config"
	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/display"
	"github.com/Iron-Ham/klaus/internal/orchestrator"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phases"
	"github.com/Iron-Ham/klaus/internal/platform"
	"github.com/Iron-Ham/klaus/internal/prompt"
	"github.com/Iron-Ham/klaus/internal/retry"
)

const (
	deployedCode = "print('consuming orders')"
	editedCode   = "import logging\nlogging.basicConfig(level=logging.INFO)\nprint('consuming orders')"
	runLogs      = "processed 3 messages"
)

// portal is a minimal in-memory platform API for one workspace holding one
// application.
type portal struct {
	mu          sync.Mutex
	runs        []platform.RunRequest
	appUploads  [][]platform.File
	deployments []platform.DeploymentSpec
	closed      int
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (p *portal) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	route := r.Method + " " + r.URL.Path
	switch route {
	case "GET /workspaces":
		writeJSON(w, []platform.Workspace{{WorkspaceID: "ws-1", Name: "Dev"}})
	case "GET /ws-1/applications":
		writeJSON(w, []platform.Application{{ApplicationID: "app-1", Name: "orders-sink", Path: "orders-sink", Language: "python"}})
	case "GET /ws-1/applications/app-1/files":
		writeJSON(w, []platform.File{
			{Path: "main.py", Content: deployedCode},
			{Path: "requirements.txt", Content: "quixstreams\n"},
		})
	case "PUT /ws-1/applications/app-1/files":
		var files []platform.File
		_ = json.NewDecoder(r.Body).Decode(&files)
		p.appUploads = append(p.appUploads, files)
	case "POST /ws-1/sessions":
		writeJSON(w, platform.Session{SessionID: "s-1", ApplicationID: "app-1"})
	case "PUT /ws-1/sessions/s-1/files":
	case "POST /ws-1/sessions/s-1/install":
		writeJSON(w, map[string]string{"output": "installed"})
	case "POST /ws-1/sessions/s-1/run":
		var req platform.RunRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		p.runs = append(p.runs, req)
		writeJSON(w, map[string]string{"logs": runLogs})
	case "DELETE /ws-1/sessions/s-1":
		p.closed++
	case "POST /ws-1/deployments":
		var spec platform.DeploymentSpec
		_ = json.NewDecoder(r.Body).Decode(&spec)
		p.deployments = append(p.deployments, spec)
		writeJSON(w, platform.Deployment{DeploymentID: "dep-1", Name: spec.Name})
	case "PUT /ws-1/deployments/dep-1/start":
	case "GET /ws-1/deployments/dep-1":
		writeJSON(w, platform.Deployment{DeploymentID: "dep-1", Status: platform.StatusRunning})
	case "GET /ws-1/deployments/dep-1/logs/runtime":
		_, _ = w.Write([]byte(runLogs))
	default:
		http.Error(w, "unexpected request "+route, http.StatusNotFound)
	}
}

// editor returns a fixed edit for every request.
type editor struct {
	requests []ai.DebugRequest
}

func (e *editor) Debug(_ context.Context, req ai.DebugRequest) (string, error) {
	e.requests = append(e.requests, req)
	return editedCode, nil
}

func TestDiagnoseWorkflowEndToEnd(t *testing.T) {
	p := &portal{}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Platform.BaseURL = srv.URL
	cfg.Platform.Token = "tok"
	cfg.Workflow.WorkingDir = t.TempDir()

	client, err := platform.NewClient(cfg.Platform, nil,
		platform.WithHTTPClient(srv.Client()),
		platform.WithRetryPolicy(retry.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}))
	require.NoError(t, err)

	ed := &editor{}
	out := &bytes.Buffer{}
	scripted := prompt.NewScripted(
		2,                  // menu: diagnose
		0,                  // application: orders-sink
		0,                  // downloaded code: continue
		"log every record", // change request
		0,                  // apply the change
		true,               // deploy now
		true,               // monitor the deployment
		false,              // run another workflow
	)
	deps := &phases.Deps{
		Platform: client,
		Agent:    &ai.Agent{Debugger: ed, Classifier: detect.NewDetector()},
		Cache:    cache.NewStore(t.TempDir(), nil),
		Prompter: scripted,
		Display:  display.New(out),
		Config:   cfg,
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}

	orch := orchestrator.New(deps, orchestrator.Options{})
	require.NoError(t, orch.Run(context.Background()), out.String())
	assert.Zero(t, scripted.Remaining())

	wc := orch.Context()
	require.NotNil(t, wc)
	assert.Equal(t, phase.KindDiagnose, wc.Kind)
	assert.Equal(t, "app-1", wc.Deployment.AppID)
	assert.Equal(t, "dep-1", wc.Deployment.DeploymentID)
	assert.Equal(t, string(platform.StatusRunning), wc.Deployment.Status)
	assert.Equal(t, editedCode, wc.Code.DraftCode)

	require.Len(t, ed.requests, 1)
	assert.Equal(t, "log every record", ed.requests[0].Guidance)
	assert.Equal(t, deployedCode, ed.requests[0].Code)

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.runs, 1)
	assert.Equal(t, phases.DefaultEntryFile, p.runs[0].EntryFile)
	assert.Equal(t, 1, p.closed)

	require.Len(t, p.deployments, 1)
	assert.Equal(t, "orders-sink", p.deployments[0].Name)
	assert.Equal(t, "app-1", p.deployments[0].ApplicationID)

	require.Len(t, p.appUploads, 1)
	uploaded := make(map[string]string)
	for _, f := range p.appUploads[0] {
		uploaded[f.Path] = f.Content
	}
	assert.Equal(t, editedCode, uploaded["main.py"])
	assert.Contains(t, uploaded, phases.AppManifestFile)

	local, err := os.ReadFile(filepath.Join(wc.Code.AppDir, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, editedCode, string(local))
	assert.Contains(t, out.String(), "The diagnose workflow completed")
}
