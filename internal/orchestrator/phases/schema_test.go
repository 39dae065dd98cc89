package phases

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/klaus/internal/ai"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
)

func TestSchema_FeedbackRound(t *testing.T) {
	plat := &fakePlatform{messages: []string{`{"id": 1}`, `{"id": 2}`}}
	h := newHarness(t, plat, 1, "id is a string", 0)
	analyzer := &fakeAnalyzer{}
	h.deps.Agent.Analyzer = analyzer
	wc := readyContext(h, phase.KindSink)

	res, err := NewSchema(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, wc.Schema.Analysis, "Schema v2")
	assert.Equal(t, []string{"", "id is a string"}, analyzer.feedback)
	assert.Contains(t, wc.Schema.Sample, `{"id": 2}`)

	// The accepted analysis is cached per topic.
	h.prompter.Push(0)
	wc2 := readyContext(h, phase.KindSink)
	res, err = NewSchema(h.deps).Execute(context.Background(), wc2)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, wc.Schema.Analysis, wc2.Schema.Analysis)
	assert.Len(t, analyzer.feedback, 2)
}

func TestSchema_FeedbackRoundsAreBounded(t *testing.T) {
	plat := &fakePlatform{messages: []string{`{"id": 1}`}}
	h := newHarness(t, plat, 1, "no", 1, "still no", 1)
	h.deps.Config.Workflow.SchemaFeedbackRounds = 2
	h.deps.Agent.Analyzer = &fakeAnalyzer{}

	res, err := NewSchema(h.deps).Execute(context.Background(), readyContext(h, phase.KindSink))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "2 feedback rounds")
	assert.Zero(t, h.prompter.Remaining())
}

func TestSchema_EmptyTopic(t *testing.T) {
	h := newHarness(t, &fakePlatform{})
	res, err := NewSchema(h.deps).Execute(context.Background(), readyContext(h, phase.KindSink))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, kerrors.ErrEmptyTopic)
}

func TestSchema_SourceUsesConnectionSample(t *testing.T) {
	h := newHarness(t, nil, 0)
	wc := readyContext(h, phase.KindSource)
	wc.Schema.Sample = `{"temp": 21.5}`

	res, err := NewSchema(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success)
	// Without an analyzer the raw sample stands in for the analysis.
	assert.Contains(t, wc.Schema.Analysis, `{"temp": 21.5}`)
	assert.Contains(t, h.out.String(), "showing the raw sample")
}

func TestSchema_SourceWithoutSample(t *testing.T) {
	h := newHarness(t, nil)
	res, err := NewSchema(h.deps).Execute(context.Background(), readyContext(h, phase.KindSource))
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestGeneration_RegenerateWithFeedback(t *testing.T) {
	gen := &fakeGenerator{outputs: []ai.Generation{
		{Code: "print('v1')"},
		{Code: "print('v2')", EnvVars: []phase.EnvVar{{Name: "PG_HOST", Required: true}}},
	}}
	h := newHarness(t, nil, "batch inserts", 1, "use a pool", 0)
	h.deps.Agent.Generator = gen
	wc := readyContext(h, phase.KindSink)
	wc.Schema.Analysis = "## Schema\n- id: int"

	res, err := NewGeneration(h.deps).Execute(context.Background(), wc)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Message)
	assert.Equal(t, "print('v2')", wc.Code.DraftCode)
	require.Len(t, wc.Code.EnvVars, 1)
	assert.Equal(t, "PG_HOST", wc.Code.EnvVars[0].Name)

	require.Len(t, gen.requests, 2)
	assert.Contains(t, gen.requests[0].Prompt, "batch inserts")
	assert.Contains(t, gen.requests[0].Prompt, "- id: int")
	assert.NotContains(t, gen.requests[0].Prompt, "use a pool")
	assert.Contains(t, gen.requests[1].Prompt, "use a pool")
	assert.Equal(t, DefaultEntryFile, gen.requests[1].EntryFile)
	assert.Len(t, wc.Code.Prompts, 2)

	// Accepted code and its env vars are offered on the next run.
	h.prompter.Push(0)
	wc2 := readyContext(h, phase.KindSink)
	res, err = NewGeneration(h.deps).Execute(context.Background(), wc2)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "print('v2')", wc2.Code.DraftCode)
	assert.Equal(t, wc.Code.EnvVars, wc2.Code.EnvVars)
	assert.FileExists(t, wc2.Code.AppDir+"/"+DefaultEntryFile)
	assert.Len(t, gen.requests, 2)
}

func TestGeneration_Unavailable(t *testing.T) {
	h := newHarness(t, nil)
	res, err := NewGeneration(h.deps).Execute(context.Background(), readyContext(h, phase.KindSink))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, kerrors.ErrAIUnavailable)
}

func TestGeneration_GeneratorError(t *testing.T) {
	h := newHarness(t, nil, "")
	h.deps.Agent.Generator = &fakeGenerator{err: kerrors.ErrNoCode}
	res, err := NewGeneration(h.deps).Execute(context.Background(), readyContext(h, phase.KindSource))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, kerrors.ErrNoCode)
}
