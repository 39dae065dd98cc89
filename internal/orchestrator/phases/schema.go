package phases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Iron-Ham/klaus/internal/cache"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/util"
)

// sampleSize is the number of topic messages sampled for analysis.
const sampleSize = 10

// sampleChars bounds the sample sent for analysis.
const sampleChars = 12000

// Schema samples the data the application will handle and has the AI
// describe its structure. The user may send the analysis back with feedback
// a bounded number of times.
type Schema struct {
	phase.Base
	deps *Deps
}

// NewSchema creates the schema phase.
func NewSchema(d *Deps) *Schema {
	return &Schema{
		Base: phase.Base{PhaseName: NameSchema, PhaseDescription: "Analyze the data schema"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *Schema) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	loc := d.Cache.PathFor(wc.Kind.String(), schemaEntity(wc), cache.ArtifactSchema)

	cached, reused, err := d.Cache.ReuseText(ctx, d.Prompter, d.Display, loc, "schema analysis", dependents(wc.Code.AppDir)...)
	if err != nil {
		return phase.Result{}, err
	}
	if reused {
		wc.Schema.Analysis = cached
		return phase.Succeeded("Using cached schema analysis"), nil
	}

	sample, err := p.sample(ctx, wc)
	if err != nil {
		if errors.Is(err, kerrors.ErrEmptyTopic) {
			return phase.Failed(fmt.Sprintf("Topic %s has no messages to analyze", wc.Workspace.TopicName), err), nil
		}
		return phase.Result{}, err
	}
	if strings.TrimSpace(sample) == "" {
		return phase.Failed("No sample data to analyze; run the connection test first", nil), nil
	}
	wc.Schema.Sample = sample

	rounds := d.Config.Workflow.SchemaFeedbackRounds
	var analysis, feedback string
	for round := 0; ; round++ {
		analysis, err = p.analyze(ctx, sample, analysis, feedback)
		if err != nil {
			if isStop(err) {
				return phase.Result{}, err
			}
			return phase.Failed("Schema analysis failed", err), nil
		}
		d.Display.Markdown(analysis)

		idx, err := d.Prompter.Select(ctx, "Does this schema analysis look right?", []string{
			"Yes, continue",
			"No, I have feedback",
		})
		if err != nil {
			return phase.Result{}, err
		}
		if idx == 0 {
			break
		}
		if round >= rounds {
			return phase.Failed(fmt.Sprintf("Schema analysis not accepted after %d feedback rounds", rounds), nil), nil
		}
		feedback, err = d.Prompter.Multiline(ctx, "What should be different?")
		if err != nil {
			return phase.Result{}, err
		}
		wc.Code.Feedback = append(wc.Code.Feedback, feedback)
	}

	wc.Schema.Analysis = analysis
	if err := d.Cache.SaveText(loc, analysis); err != nil {
		d.logger().Warn("failed to cache schema analysis", "error", err.Error())
	}
	return phase.Succeeded("Schema analysis accepted"), nil
}

// sample returns topic messages for a sink and the connection test output
// for a source.
func (p *Schema) sample(ctx context.Context, wc *phase.WorkflowContext) (string, error) {
	if wc.Kind == phase.KindSource {
		return util.Snippet(wc.Schema.Sample, sampleChars), nil
	}
	if err := requireWorkspace(wc); err != nil {
		return "", err
	}
	msgs, err := p.deps.Platform.SampleMessages(ctx, wc.Workspace.WorkspaceID, wc.Workspace.TopicName, sampleSize)
	if err != nil {
		return "", err
	}
	return util.Snippet(strings.Join(msgs, "\n"), sampleChars), nil
}

// analyze asks the analyzer, or renders the raw sample when no analyzer is
// configured.
func (p *Schema) analyze(ctx context.Context, sample, previous, feedback string) (string, error) {
	d := p.deps
	analyzer := d.agent().Analyzer
	if analyzer == nil {
		if previous == "" {
			d.Display.Warn("Schema analysis is unavailable; showing the raw sample instead")
		}
		return rawSampleAnalysis(sample, feedback), nil
	}
	d.Display.Info("Analyzing sample data...")
	return analyzer.AnalyzeSchema(ctx, sample, previous, feedback)
}

func rawSampleAnalysis(sample, feedback string) string {
	var b strings.Builder
	b.WriteString("## Sample data\n\n```json\n")
	b.WriteString(strings.TrimSpace(sample))
	b.WriteString("\n```\n")
	if feedback != "" {
		b.WriteString("\n## Notes\n\n")
		b.WriteString(strings.TrimSpace(feedback))
		b.WriteString("\n")
	}
	return b.String()
}

func schemaEntity(wc *phase.WorkflowContext) string {
	if wc.Kind == phase.KindSource {
		return wc.Technology.Name
	}
	return wc.Workspace.TopicName
}
