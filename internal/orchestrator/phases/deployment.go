package phases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/klaus/internal/namer"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
)

// AppManifestFile is the application descriptor uploaded with the code.
const AppManifestFile = "app.yaml"

// deploymentLogLines is how much of the build or runtime log is shown on
// failure.
const deploymentLogLines = 80

// appManifest is the app.yaml the platform reads.
type appManifest struct {
	Name          string             `yaml:"name"`
	Language      string             `yaml:"language"`
	RunEntryPoint string             `yaml:"runEntryPoint"`
	DefaultFile   string             `yaml:"defaultFile"`
	Variables     []manifestVariable `yaml:"variables,omitempty"`
}

type manifestVariable struct {
	Name         string `yaml:"name"`
	InputType    string `yaml:"inputType"`
	Description  string `yaml:"description,omitempty"`
	DefaultValue string `yaml:"defaultValue,omitempty"`
	Required     bool   `yaml:"required"`
}

// Deployment uploads the tested application, stores its secrets, creates a
// deployment and polls it until it reaches a terminal status.
type Deployment struct {
	phase.Base
	deps *Deps
}

// NewDeployment creates the deployment phase.
func NewDeployment(d *Deps) *Deployment {
	return &Deployment{
		Base: phase.Base{PhaseName: NameDeployment, PhaseDescription: "Deploy the application"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *Deployment) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	wc.TakeResumeStep()
	if err := requireWorkspace(wc); err != nil {
		return phase.Failed("No workspace selected", err), nil
	}
	ws := wc.Workspace.WorkspaceID

	ok, err := d.Prompter.Confirm(ctx, fmt.Sprintf("Deploy %s now?", wc.Deployment.AppName), true)
	if err != nil {
		return phase.Result{}, err
	}
	if !ok {
		return phase.Result{}, phase.Back("deployment declined")
	}

	if err := ensureApplication(ctx, d, wc); err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not prepare the application", err), nil
	}
	if err := collectCredentials(ctx, d, wc, wc.Code.EnvVars); err != nil {
		return phase.Result{}, err
	}

	if err := writeManifest(wc); err != nil {
		return phase.Failed("Could not write "+AppManifestFile, err), nil
	}
	files, err := platform.ReadDir(wc.Code.AppDir)
	if err != nil {
		return phase.Failed("Could not read the application files", err), nil
	}
	if err := d.Platform.UploadApplicationFiles(ctx, ws, wc.Deployment.AppID, files); err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not upload the application", err), nil
	}

	secretRefs, err := p.storeSecrets(ctx, wc)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not store secrets", err), nil
	}

	spec := platform.DeploymentSpec{
		Name:          namer.Truncate(namer.Sanitize(wc.Deployment.AppName), d.Config.Workflow.MaxAppNameLength),
		ApplicationID: wc.Deployment.AppID,
		Variables:     plainVariables(wc),
		SecretRefs:    secretRefs,
		CPUMillicores: d.Config.Deployment.CPUMillicores,
		MemoryMB:      d.Config.Deployment.MemoryMB,
		Replicas:      d.Config.Deployment.Replicas,
	}
	id, err := d.Platform.CreateDeployment(ctx, ws, spec)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not create the deployment", err), nil
	}
	wc.Deployment.DeploymentID = id
	wc.Deployment.DeploymentName = spec.Name
	d.logger().Info("deployment created", "deployment", id, "name", spec.Name)

	if err := d.Platform.StartDeployment(ctx, ws, id); err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not start the deployment", err), nil
	}

	status, reason, err := p.poll(ctx, wc)
	if err != nil {
		if isStop(err) {
			return phase.Result{}, err
		}
		return phase.Failed("Could not read the deployment status", err), nil
	}
	wc.Deployment.Status = string(status)

	switch {
	case status == platform.StatusRunning || status == platform.StatusCompleted:
		return phase.Succeeded(fmt.Sprintf("Deployment %s is %s", spec.Name, status)), nil
	case status.IsFailure():
		return p.failed(ctx, wc, status, reason)
	case status == platform.StatusStopped:
		msg := fmt.Sprintf("Deployment %s stopped before it was running", spec.Name)
		if reason != "" {
			msg += ": " + reason
		}
		return phase.Failed(msg, nil), nil
	default:
		return phase.Failed(fmt.Sprintf("Deployment %s is still %s after %d status checks", spec.Name, status, d.Config.Deployment.MaxPolls), nil), nil
	}
}

// poll waits for a terminal status, bounded by the configured poll count.
func (p *Deployment) poll(ctx context.Context, wc *phase.WorkflowContext) (platform.Status, string, error) {
	d := p.deps
	var status platform.Status
	var reason string
	var last platform.Status
	for i := 0; i < d.Config.Deployment.MaxPolls; i++ {
		var err error
		status, reason, err = d.Platform.DeploymentStatus(ctx, wc.Workspace.WorkspaceID, wc.Deployment.DeploymentID)
		if err != nil {
			return status, reason, err
		}
		if status != last {
			d.Display.Info("Deployment status: %s", status)
			last = status
		}
		// DeploymentFailed is not terminal on the platform, but nothing
		// retries it, so polling further only burns the poll count.
		if status.IsTerminal() || status == platform.StatusDeploymentFailed {
			return status, reason, nil
		}
		if err := d.sleep(ctx, d.Config.Deployment.PollInterval()); err != nil {
			return status, reason, err
		}
	}
	return status, reason, nil
}

// failed shows the relevant logs and lets the user go back to the sandbox.
func (p *Deployment) failed(ctx context.Context, wc *phase.WorkflowContext, status platform.Status, reason string) (phase.Result, error) {
	d := p.deps
	kind := platform.LogsRuntime
	if status == platform.StatusBuildFailed {
		kind = platform.LogsBuild
	}
	logs, err := d.Platform.DeploymentLogs(ctx, wc.Workspace.WorkspaceID, wc.Deployment.DeploymentID, kind)
	if err != nil {
		d.logger().Warn("failed to fetch deployment logs", "kind", string(kind), "error", err.Error())
	} else {
		d.Display.Logs(fmt.Sprintf("Deployment %s logs", kind), logs, deploymentLogLines)
	}

	msg := fmt.Sprintf("Deployment %s: %s", status, reason)
	idx, err := d.Prompter.Select(ctx, msg, []string{
		"Go back to sandbox testing",
		"Stop here",
	})
	if err != nil {
		return phase.Result{}, err
	}
	if idx == 0 {
		wc.Deployment.DeploymentID = ""
		return phase.Result{}, phase.BackToPhase(NameSandbox, msg)
	}
	return phase.Failed(msg, nil), nil
}

// storeSecrets saves secret values as workspace secrets and returns the
// variable-to-secret-name references.
func (p *Deployment) storeSecrets(ctx context.Context, wc *phase.WorkflowContext) (map[string]string, error) {
	refs := map[string]string{}
	for _, name := range wc.Credentials.Secrets {
		value, ok := wc.Credentials.Values[name]
		if !ok {
			continue
		}
		secret := secretName(wc.Deployment.AppName, name)
		if err := p.deps.Platform.SetSecret(ctx, wc.Workspace.WorkspaceID, platform.ScopeWorkspace, secret, value); err != nil {
			return nil, err
		}
		refs[name] = secret
	}
	return refs, nil
}

func secretName(app, variable string) string {
	return strings.ReplaceAll(namer.Sanitize(app+"-"+variable), "-", "_")
}

// plainVariables is the run environment without secret values.
func plainVariables(wc *phase.WorkflowContext) map[string]string {
	vars := map[string]string{}
	for k, v := range runEnvironment(wc) {
		if !wc.Credentials.IsSecret(k) {
			vars[k] = v
		}
	}
	return vars
}

// writeManifest writes app.yaml listing every declared variable.
func writeManifest(wc *phase.WorkflowContext) error {
	m := appManifest{
		Name:          wc.Deployment.AppName,
		Language:      "python",
		RunEntryPoint: entryFile(wc),
		DefaultFile:   entryFile(wc),
	}
	for _, v := range wc.Code.EnvVars {
		inputType := "FreeText"
		if v.Secret || wc.Credentials.IsSecret(v.Name) {
			inputType = "Secret"
		}
		m.Variables = append(m.Variables, manifestVariable{
			Name:         v.Name,
			InputType:    inputType,
			Description:  v.Description,
			DefaultValue: v.Default,
			Required:     v.Required,
		})
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(wc.Code.AppDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(wc.Code.AppDir, AppManifestFile), data, 0644)
}
