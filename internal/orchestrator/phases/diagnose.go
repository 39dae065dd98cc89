package phases

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/Iron-Ham/klaus/internal/ai"
	"github.com/Iron-Ham/klaus/internal/display"
	kerrors "github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/platform"
)

// AppSelect picks the workspace and the existing application to diagnose
// (steps 101 and 102).
type AppSelect struct {
	phase.Base
	deps *Deps
}

// NewAppSelect creates the application selection phase.
func NewAppSelect(d *Deps) *AppSelect {
	return &AppSelect{
		Base: phase.Base{PhaseName: NameAppSelect, PhaseDescription: "Select an application"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *AppSelect) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	resume := wc.TakeResumeStep()

	if resume != phase.StepSelectApp || wc.Workspace.WorkspaceID == "" {
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
	}

	apps, err := d.Platform.ListApplications(ctx, wc.Workspace.WorkspaceID)
	if err != nil {
		return phase.Result{}, err
	}
	if len(apps) == 0 {
		return phase.Failed(fmt.Sprintf("Workspace %s has no applications", wc.Workspace.WorkspaceName), nil), nil
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })
	names := make([]string, len(apps))
	for i, a := range apps {
		names[i] = a.Name
	}
	idx, err := d.Prompter.Select(ctx, "Which application should be diagnosed?", names)
	if err != nil {
		return phase.Result{}, err
	}

	setApplication(wc, apps[idx])
	wc.Code.AppDir = d.workDir(wc.Kind, apps[idx].Name)
	wc.Deployment.DeploymentID = ""
	wc.Code.ChangeRequest = ""
	return phase.Succeeded("Selected " + apps[idx].Name), nil
}

// AppDownload fetches the application's files into the working directory
// and lets the user review them (steps 200 and 201).
type AppDownload struct {
	phase.Base
	deps *Deps
}

// NewAppDownload creates the download phase.
func NewAppDownload(d *Deps) *AppDownload {
	return &AppDownload{
		Base: phase.Base{PhaseName: NameAppDownload, PhaseDescription: "Download the application"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *AppDownload) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	resume := wc.TakeResumeStep()
	if wc.Deployment.AppID == "" {
		return phase.Failed("No application selected", nil), nil
	}

	// A jump back to the review step reuses the files already downloaded.
	download := resume != phase.StepReviewDownload || wc.Code.DraftCode == ""
	for {
		if download {
			if err := p.download(ctx, wc); err != nil {
				if isStop(err) {
					return phase.Result{}, err
				}
				return phase.Failed("Could not download "+wc.Deployment.AppName, err), nil
			}
		}

		d.Display.Info("%s (%s)", entryFile(wc), wc.Code.AppDir)
		d.Display.Preview(wc.Code.DraftCode, wc.Code.AppDir, display.DefaultPreviewLines, false)
		idx, err := d.Prompter.Select(ctx, "Is this the code to work on?", []string{
			"Yes, continue",
			"Download it again",
			"Choose a different application",
		})
		if err != nil {
			return phase.Result{}, err
		}
		switch idx {
		case 0:
			return phase.Succeeded(fmt.Sprintf("Downloaded %s", wc.Deployment.AppName)), nil
		case 1:
			download = true
		default:
			return phase.Result{}, wc.NavigateTo(phase.StepSelectApp, "choose a different application")
		}
	}
}

func (p *AppDownload) download(ctx context.Context, wc *phase.WorkflowContext) error {
	files, err := p.deps.Platform.DownloadApplication(ctx, wc.Workspace.WorkspaceID, wc.Deployment.AppID)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: application has no files", kerrors.ErrNotFound)
	}
	if err := os.RemoveAll(wc.Code.AppDir); err != nil {
		return err
	}
	if err := platform.WriteDir(wc.Code.AppDir, files); err != nil {
		return err
	}

	entry := pickEntryFile(files)
	wc.Code.EntryFile = entry
	for _, f := range files {
		if f.Path == entry {
			wc.Code.DraftCode = f.Content
		}
	}
	p.deps.logger().Info("application downloaded", "app", wc.Deployment.AppName, "files", len(files), "entry", entry)
	return nil
}

// pickEntryFile prefers main.py, then the shallowest Python file.
func pickEntryFile(files []platform.File) string {
	var candidates []string
	for _, f := range files {
		if f.Path == DefaultEntryFile {
			return f.Path
		}
		if strings.HasSuffix(f.Path, ".py") {
			candidates = append(candidates, f.Path)
		}
	}
	if len(candidates) == 0 {
		return DefaultEntryFile
	}
	sort.Slice(candidates, func(i, j int) bool {
		di, dj := strings.Count(candidates[i], "/"), strings.Count(candidates[j], "/")
		if di != dj {
			return di < dj
		}
		return path.Base(candidates[i]) < path.Base(candidates[j])
	})
	return candidates[0]
}

// AppEdit collects the change the user wants and has the AI apply it
// (steps 300 and 301).
type AppEdit struct {
	phase.Base
	deps *Deps
}

// NewAppEdit creates the edit phase.
func NewAppEdit(d *Deps) *AppEdit {
	return &AppEdit{
		Base: phase.Base{PhaseName: NameAppEdit, PhaseDescription: "Edit the application"},
		deps: d,
	}
}

// Execute implements phase.Phase.
func (p *AppEdit) Execute(ctx context.Context, wc *phase.WorkflowContext) (phase.Result, error) {
	d := p.deps
	resume := wc.TakeResumeStep()
	dbg := d.agent().Debugger
	if dbg == nil {
		return phase.Failed("Editing needs the Claude Code CLI", kerrors.ErrAIUnavailable), nil
	}

	original := wc.Code.DraftCode
	collect := resume != phase.StepReviewEdit || wc.Code.ChangeRequest == ""
	for {
		if collect {
			change, err := d.Prompter.Multiline(ctx, "Describe the change or the problem to fix")
			if err != nil {
				return phase.Result{}, err
			}
			if strings.TrimSpace(change) == "" {
				d.Display.Warn("Please describe what should change")
				continue
			}
			wc.Code.ChangeRequest = strings.TrimSpace(change)
		}
		collect = true

		text := editContext(wc)
		wc.RecordPrompt(NameAppEdit, text)
		d.Display.Info("Claude is editing %s...", entryFile(wc))
		edited, err := dbg.Debug(ctx, ai.DebugRequest{
			ErrorContext: text,
			WorkDir:      wc.Code.AppDir,
			Code:         original,
			EntryFile:    entryFile(wc),
			Kind:         wc.Kind,
			Guidance:     wc.Code.ChangeRequest,
		})
		if err != nil {
			if isStop(err) {
				return phase.Result{}, err
			}
			d.Display.Warn("No change produced: %v", err)
			continue
		}
		d.Display.Diff(original, edited)

		idx, err := d.Prompter.Select(ctx, "Apply this change?", []string{
			"Yes, test it",
			"No, describe the change again",
			"Back to the downloaded code",
		})
		if err != nil {
			return phase.Result{}, err
		}
		switch idx {
		case 0:
			if err := writeCode(wc.Code.AppDir, entryFile(wc), edited); err != nil {
				return phase.Failed("Could not write the edited code", err), nil
			}
			wc.Code.DraftCode = edited
			added, removed := display.DiffStats(original, edited)
			return phase.Succeeded(fmt.Sprintf("Change applied (+%d -%d lines)", added, removed)), nil
		case 1:
			// Restore the original so the next attempt starts clean.
			if err := writeCode(wc.Code.AppDir, entryFile(wc), original); err != nil {
				return phase.Failed("Could not restore the original code", err), nil
			}
		default:
			if err := writeCode(wc.Code.AppDir, entryFile(wc), original); err != nil {
				return phase.Failed("Could not restore the original code", err), nil
			}
			return phase.Result{}, wc.NavigateTo(phase.StepReviewDownload, "review the downloaded code")
		}
	}
}

func editContext(wc *phase.WorkflowContext) string {
	return fmt.Sprintf("The user wants this change to the deployed application %s:\n\n%s\n",
		wc.Deployment.AppName, wc.Code.ChangeRequest)
}
