package phases

import (
	"context"
	"fmt"
	"strings"

	"github.com/Iron-Ham/klaus/internal/cache"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
)

// prerequisitesEntity is the cache entity of the last prerequisites answered
// for a workflow kind.
const prerequisitesEntity = "last-run"

// savedPrerequisites is the cached form of the prerequisites answers.
type savedPrerequisites struct {
	Workspace  phase.Workspace `json:"workspace"`
	Technology string          `json:"technology"`
}

// Prerequisites collects the workspace, topic and technology of a source or
// sink workflow.
type Prerequisites struct {
	phase.Base
	deps *Deps
}

// NewPrerequisites creates the prerequisites phase.
func NewPrerequisites(d *Deps) *Prerequisites {
	return &Prerequisites{
		Base: phase.Base{PhaseName: NamePrerequisites, PhaseDescription: "Collect prerequisites"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *Prerequisites) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	loc := d.Cache.PathFor(wc.Kind.String(), prerequisitesEntity, cache.ArtifactPrerequisites)

	var saved savedPrerequisites
	reused, err := d.Cache.ReuseJSON(ctx, d.Prompter, d.Display, loc, "prerequisites", &saved)
	if err != nil {
		return phase.Result{}, err
	}
	if reused && saved.Workspace.WorkspaceID != "" && saved.Technology != "" {
		wc.Workspace = saved.Workspace
		wc.Technology.Name = saved.Technology
		return phase.Succeeded(fmt.Sprintf("Using cached prerequisites for %s", saved.Technology)), nil
	}

	ws, err := selectWorkspace(ctx, d)
	if err != nil {
		return phase.Result{}, err
	}
	if ws == nil {
		return phase.Failed("No workspaces are available for this token", nil), nil
	}
	wc.Workspace = phase.Workspace{
		WorkspaceID:   ws.WorkspaceID,
		WorkspaceName: ws.Name,
		Branch:        ws.Branch,
		RepositoryID:  ws.RepositoryID,
	}

	topic, err := p.selectTopic(ctx, wc)
	if err != nil {
		return phase.Result{}, err
	}
	if topic == nil {
		return phase.Failed(fmt.Sprintf("Workspace %s has no topics", ws.Name), nil), nil
	}
	wc.Workspace.TopicID = topic.ID
	wc.Workspace.TopicName = topic.Name

	tech, err := d.Prompter.Input(ctx, technologyQuestion(wc.Kind), "")
	if err != nil {
		return phase.Result{}, err
	}
	tech = strings.TrimSpace(tech)
	if tech == "" {
		return phase.Failed("A technology is required", nil), nil
	}
	wc.Technology.Name = tech

	if err := d.Cache.SaveJSON(loc, savedPrerequisites{Workspace: wc.Workspace, Technology: tech}); err != nil {
		d.logger().Warn("failed to cache prerequisites", "error", err.Error())
	}
	return phase.Succeeded(fmt.Sprintf("%s %s on topic %s", tech, wc.Kind, topic.Name)), nil
}

func (p *Prerequisites) selectTopic(ctx context.Context, wc *phase.WorkflowContext) (*platform.Topic, error) {
	d := p.deps
	topics, err := d.Platform.ListTopics(ctx, wc.Workspace.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}
	names := make([]string, len(topics))
	for i, t := range topics {
		names[i] = t.Name
	}
	question := "Which topic should the sink read from?"
	if wc.Kind == phase.KindSource {
		question = "Which topic should the source write to?"
	}
	idx, err := d.Prompter.Select(ctx, question, names)
	if err != nil {
		return nil, err
	}
	return &topics[idx], nil
}

func technologyQuestion(kind phase.Kind) string {
	if kind == phase.KindSource {
		return "Which system should the data come from (e.g. PostgreSQL, MQTT, a REST API)?"
	}
	return "Which system should the data go to (e.g. ClickHouse, S3, Slack)?"
}

// selectWorkspace lets the user pick a workspace, offering the configured
// default first. It returns nil when the token sees no workspaces.
func selectWorkspace(ctx context.Context, d *Deps) (*platform.Workspace, error) {
	workspaces, err := d.Platform.ListWorkspaces(ctx)
	if err != nil {
		return nil, err
	}
	if len(workspaces) == 0 {
		return nil, nil
	}

	if def := d.Config.Platform.DefaultWorkspaceID; def != "" {
		for i, ws := range workspaces {
			if ws.WorkspaceID != def {
				continue
			}
			ok, err := d.Prompter.Confirm(ctx, fmt.Sprintf("Use default workspace %s?", ws.Name), true)
			if err != nil {
				return nil, err
			}
			if ok {
				return &workspaces[i], nil
			}
			break
		}
	}
	if len(workspaces) == 1 {
		d.Display.Info("Using workspace %s", workspaces[0].Name)
		return &workspaces[0], nil
	}

	names := make([]string, len(workspaces))
	for i, ws := range workspaces {
		names[i] = ws.Name
	}
	idx, err := d.Prompter.Select(ctx, "Select a workspace", names)
	if err != nil {
		return nil, err
	}
	return &workspaces[idx], nil
}
