package phases

import (
	"context"
	"fmt"

	"github.com/Iron-Ham/klaus/internal/detect"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
)

// Monitor checks a fresh deployment once: its status and whether its
// runtime logs show errors. It is best-effort and never changes the outcome
// of the workflow.
type Monitor struct {
	phase.Base
	deps     *Deps
	detector *detect.Detector
}

// NewMonitor creates the monitor phase.
func NewMonitor(d *Deps) *Monitor {
	return &Monitor{
		Base:     phase.Base{PhaseName: NameMonitor, PhaseDescription: "Monitor the deployment"},
		deps:     d,
		detector: detect.NewDetector(),
	}
}

// Execute implements phase.Phase.
func (p *Monitor) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	ws, id := wc.Workspace.WorkspaceID, wc.Deployment.DeploymentID
	if id == "" {
		return phase.Failed("Nothing was deployed", nil), nil
	}

	status, reason, err := d.Platform.DeploymentStatus(ctx, ws, id)
	if err != nil {
		return phase.Failed("Could not read the deployment status", err), nil
	}
	wc.Deployment.Status = string(status)
	d.Display.Info("Deployment %s is %s", wc.Deployment.DeploymentName, status)

	logs, err := d.Platform.DeploymentLogs(ctx, ws, id, platform.LogsRuntime)
	if err != nil {
		return phase.Failed("Could not read the runtime logs", err), nil
	}
	d.Display.Logs("Runtime logs", logs, deploymentLogLines)

	if status.IsFailure() {
		return phase.Failed(fmt.Sprintf("Deployment is %s: %s", status, reason), nil), nil
	}
	if v := p.detector.Detect(logs); v.HasError {
		return phase.Failed("Runtime logs show errors: "+v.Reason, nil), nil
	}
	return phase.Succeeded(fmt.Sprintf("Deployment %s is healthy", wc.Deployment.DeploymentName)), nil
}
