package workflows

import (
	"fmt"

	"github.com/Iron-Ham/klaus/internal/orchestrator/phase"
	"github.com/Iron-Ham/klaus/internal/orchestrator/phases"
)

// DiagnoseSteps maps the diagnose workflow's step codes to the index of the
// phase owning them.
func DiagnoseSteps() map[phase.StepCode]int {
	return map[phase.StepCode]int{
		phase.StepSelectWorkspace: 0,
		phase.StepSelectApp:       0,
		phase.StepDownloadApp:     1,
		phase.StepReviewDownload:  1,
		phase.StepCollectChange:   2,
		phase.StepReviewEdit:      2,
		phase.StepSandboxTest:     3,
		phase.StepDeploy:          4,
	}
}

// Source builds the source workflow: connect to an external system, learn
// its data, then generate, test and deploy an app that publishes it.
func Source(d *phases.Deps) Definition {
	return Definition{
		Kind: phase.KindSource,
		Phases: []Factory{
			func() phase.Phase { return phases.NewPrerequisites(d) },
			func() phase.Phase { return phases.NewKnowledge(d) },
			func() phase.Phase { return phases.NewConnectionTest(d) },
			func() phase.Phase { return phases.NewSchema(d) },
			func() phase.Phase { return phases.NewGeneration(d) },
			func() phase.Phase { return phases.NewSandbox(d) },
			func() phase.Phase { return phases.NewDeployment(d) },
		},
		Monitor: func() phase.Phase { return phases.NewMonitor(d) },
	}
}

// Sink builds the sink workflow. The schema comes from topic samples, so it
// is analyzed before the template is chosen.
func Sink(d *phases.Deps) Definition {
	return Definition{
		Kind: phase.KindSink,
		Phases: []Factory{
			func() phase.Phase { return phases.NewPrerequisites(d) },
			func() phase.Phase { return phases.NewSchema(d) },
			func() phase.Phase { return phases.NewKnowledge(d) },
			func() phase.Phase { return phases.NewGeneration(d) },
			func() phase.Phase { return phases.NewSandbox(d) },
			func() phase.Phase { return phases.NewDeployment(d) },
		},
		Monitor: func() phase.Phase { return phases.NewMonitor(d) },
	}
}

// Diagnose builds the workflow that edits and redeploys an existing app.
func Diagnose(d *phases.Deps) Definition {
	return Definition{
		Kind: phase.KindDiagnose,
		Phases: []Factory{
			func() phase.Phase { return phases.NewAppSelect(d) },
			func() phase.Phase { return phases.NewAppDownload(d) },
			func() phase.Phase { return phases.NewAppEdit(d) },
			func() phase.Phase { return phases.NewSandbox(d) },
			func() phase.Phase { return phases.NewDeployment(d) },
		},
		Monitor: func() phase.Phase { return phases.NewMonitor(d) },
		Steps:   DiagnoseSteps(),
	}
}

// ForKind returns the definition of kind.
func ForKind(kind phase.Kind, d *phases.Deps) (Definition, error) {
	switch kind {
	case phase.KindSource:
		return Source(d), nil
	case phase.KindSink:
		return Sink(d), nil
	case phase.KindDiagnose:
		return Diagnose(d), nil
	}
	return Definition{}, fmt.Errorf("unknown workflow %q", kind)
}
