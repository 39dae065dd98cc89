package phases

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/cache"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
)

const traceback = "Traceback (most recent call last):\n  File \"main.py\", line 3\nKeyError: 'id'"

func runPhase(t *testing.T, p phase.Phase, wc *phase.WorkflowContext) (phase.Result, error) {
	t.Helper()
	return phase.NewRunner(nil, nil, false).RunResult(context.Background(), p, wc)
}

func sandboxContext(h *harness) *phase.WorkflowContext {
	wc := readyContext(h, phase.KindSink)
	wc.Code.DraftCode = "print('draft')"
	return wc
}

func TestSandbox_CleanRun(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{"inserted 10 rows"}}
	h := newHarness(t, plat)
	wc := sandboxContext(h)

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)

	assert.Equal(t, "app-1", wc.Deployment.AppID)
	assert.Equal(t, 1, plat.closed)
	assert.Empty(t, wc.Deployment.SessionID)
	require.Len(t, plat.runs, 1)
	assert.Equal(t, DefaultEntryFile, plat.runs[0].EntryFile)
	assert.Equal(t, "orders", plat.runs[0].Environment["input"])
	assert.Equal(t, "inserted 10 rows", wc.Code.LastRunLogs)

	data, err := os.ReadFile(filepath.Join(wc.Code.AppDir, DefaultEntryFile))
	require.NoError(t, err)
	assert.Equal(t, "print('draft')", string(data))

	text, ok, err := h.deps.Cache.LoadText(h.deps.Cache.PathFor("sink", wc.Deployment.AppName, cache.ArtifactCode))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "print('draft')", text)
}

func TestSandbox_AutoDebugFixes(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{traceback, "inserted 10 rows"}}
	h := newHarness(t, plat, choiceAutoDebug, true)
	dbg := &fakeDebugger{fixes: []string{"print('fixed')"}}
	h.deps.Agent.Debugger = dbg
	wc := sandboxContext(h)

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "print('fixed')", wc.Code.DraftCode)
	assert.Equal(t, "inserted 10 rows", wc.Code.LastRunLogs)
	assert.Len(t, plat.runs, 2)
	assert.Equal(t, 1, plat.installs)
	require.Len(t, dbg.requests, 1)
	assert.Contains(t, dbg.requests[0].ErrorContext, "KeyError")

	text, ok, err := h.deps.Cache.LoadText(h.deps.Cache.PathFor("sink", wc.Deployment.AppName, cache.ArtifactCode))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "print('fixed')", text)
}

func TestSandbox_AutoDebugGivesUpThenAbort(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{traceback}}
	h := newHarness(t, plat, choiceAutoDebug, choiceAbort)
	h.deps.Agent.Debugger = &fakeDebugger{}
	wc := sandboxContext(h)

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, kerrors.ErrUserAborted)
	assert.Contains(t, h.out.String(), "gave up after 3 attempts")
	assert.Equal(t, "print('draft')", wc.Code.DraftCode)
}

func TestSandbox_FeedbackFix(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{traceback, "ok"}}
	h := newHarness(t, plat, choiceFeedback, "the id field is optional", false)
	dbg := &fakeDebugger{fixes: []string{"print(row.get('id'))"}}
	h.deps.Agent.Debugger = dbg
	wc := sandboxContext(h)

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "print(row.get('id'))", wc.Code.DraftCode)
	require.Len(t, dbg.requests, 1)
	assert.Equal(t, "the id field is optional", dbg.requests[0].Guidance)

	_, ok, err := h.deps.Cache.LoadText(h.deps.Cache.PathFor("sink", wc.Deployment.AppName, cache.ArtifactCode))
	require.NoError(t, err)
	assert.False(t, ok, "declined fix stays out of the cache")
}

func TestSandbox_RerunAsIs(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{"ConnectionError: timed out", "ok"}}
	h := newHarness(t, plat, choiceRerun)
	wc := sandboxContext(h)

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, plat.runs, 2)
}

func TestSandbox_GoBack(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{traceback}}
	h := newHarness(t, plat, choiceBack)
	wc := sandboxContext(h)

	_, err := runPhase(t, NewSandbox(h.deps), wc)
	require.Error(t, err)
	assert.True(t, phase.IsNavigation(err))
	assert.Equal(t, 1, plat.closed)
}

func TestSandbox_NoCode(t *testing.T) {
	h := newHarness(t, nil)
	wc := readyContext(h, phase.KindSink)

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, kerrors.ErrNoCode)
}

func TestSandbox_CollectsSecrets(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{"ok"}}
	h := newHarness(t, plat, "db.local", "s3cret")
	wc := sandboxContext(h)
	wc.Code.EnvVars = []phase.EnvVar{
		{Name: "PG_HOST", Required: true},
		{Name: "PG_PASSWORD", Required: true, Secret: true},
	}

	res, err := runPhase(t, NewSandbox(h.deps), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	env := plat.runs[0].Environment
	assert.Equal(t, "db.local", env["PG_HOST"])
	assert.Equal(t, "s3cret", env["PG_PASSWORD"])
	assert.True(t, wc.Credentials.IsSecret("PG_PASSWORD"))
	assert.Equal(t, "********", wc.Credentials.Redacted()["PG_PASSWORD"])
}

func TestEnsureApplication_NameCollision(t *testing.T) {
	existing := platform.Application{ApplicationID: "app-9", Name: "postgresql-sink"}
	tests := []struct {
		name    string
		choice  int
		wantApp string
		deleted bool
	}{
		{"delete and recreate", 0, "postgresql-sink", true},
		{"unique name", 1, "", false},
		{"reuse", 2, "postgresql-sink", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plat := &fakePlatform{apps: []platform.Application{existing}}
			h := newHarness(t, plat, tt.choice)
			wc := readyContext(h, phase.KindSink)

			require.NoError(t, ensureApplication(context.Background(), h.deps, wc))
			assert.NotEmpty(t, wc.Deployment.AppID)
			if tt.wantApp != "" {
				assert.Equal(t, tt.wantApp, wc.Deployment.AppName)
			} else {
				assert.NotEqual(t, "postgresql-sink", wc.Deployment.AppName)
				assert.Regexp(t, `^postgresql-[a-z0-9]+-sink$`, wc.Deployment.AppName)
			}
			assert.Equal(t, tt.deleted, len(plat.deleted) == 1)
			if tt.choice == 2 {
				assert.Equal(t, "app-9", wc.Deployment.AppID)
			}
		})
	}
}

func TestConnectionTest_SetsSample(t *testing.T) {
	plat := &fakePlatform{runLogs: []string{`{"temp": 21.5}`}}
	h := newHarness(t, plat, "broker.local")
	gen := &fakeGenerator{outputs: []ai.Generation{{
		Code:    "print('probe')",
		EnvVars: []phase.EnvVar{{Name: "MQTT_HOST", Required: true}},
	}}}
	h.deps.Agent.Generator = gen
	wc := readyContext(h, phase.KindSource)
	wc.Technology.Name = "MQTT"

	res, err := runPhase(t, NewConnectionTest(h.deps), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "print('probe')", wc.Code.ConnectionCode)
	assert.Equal(t, `{"temp": 21.5}`, wc.Schema.Sample)
	require.Len(t, gen.requests, 1)
	assert.True(t, gen.requests[0].ConnectionTest)
	assert.Equal(t, ConnectionEntryFile, plat.runs[0].EntryFile)
	assert.Equal(t, "orders", plat.runs[0].Environment["output"])
	assert.Equal(t, 1, plat.closed)
}

func TestConnectionTest_NoGenerator(t *testing.T) {
	h := newHarness(t, nil)
	res, err := runPhase(t, NewConnectionTest(h.deps), readyContext(h, phase.KindSource))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, kerrors.ErrAIUnavailable)
}
