package phase

import (
	"errors"
	"fmt"

	"github.com/Iron-Ham/klaus/internal/prompt"
)

// StepCode identifies a step finer-grained than a phase. Workflows map step
// codes to the index of the phase that owns them.
type StepCode int

// Diagnose workflow steps. The hundreds digit groups steps by owning phase.
const (
	StepNone StepCode = 0

	StepSelectWorkspace StepCode = 101
	StepSelectApp       StepCode = 102
	StepDownloadApp     StepCode = 200
	StepReviewDownload  StepCode = 201
	StepCollectChange   StepCode = 300
	StepReviewEdit      StepCode = 301
	StepSandboxTest     StepCode = 400
	StepDeploy          StepCode = 500
)

var stepNames = map[StepCode]string{
	StepSelectWorkspace: "select workspace",
	StepSelectApp:       "select application",
	StepDownloadApp:     "download application",
	StepReviewDownload:  "review downloaded code",
	StepCollectChange:   "describe change",
	StepReviewEdit:      "review edited code",
	StepSandboxTest:     "sandbox test",
	StepDeploy:          "deploy",
}

func (s StepCode) String() string {
	if name, ok := stepNames[s]; ok {
		return fmt.Sprintf("%s (%d)", name, int(s))
	}
	return fmt.Sprintf("step %d", int(s))
}

// NavigationRequest asks the sequencer to jump to a specific step or phase
// rather than simply the previous phase. Exactly one of Step or Phase is
// normally set; Step wins when both are.
type NavigationRequest struct {
	Step   StepCode
	Phase  string
	Reason string
}

// NavigationSignal is the "go back" control-flow signal. It is returned as an
// error from Phase.Execute but is not a failure: the PhaseRunner passes it
// through untouched and the WorkflowSequencer consumes it.
type NavigationSignal struct {
	// Request is nil for a plain "previous phase" step back.
	Request *NavigationRequest
	Message string
}

func (s *NavigationSignal) Error() string {
	switch {
	case s.Request != nil && s.Request.Step != StepNone:
		return fmt.Sprintf("navigate back to %s", s.Request.Step)
	case s.Request != nil && s.Request.Phase != "":
		return fmt.Sprintf("navigate back to phase %q", s.Request.Phase)
	case s.Message != "":
		return "navigate back: " + s.Message
	}
	return "navigate back"
}

// Back returns a signal for returning to the previous phase.
func Back(message string) error {
	return &NavigationSignal{Message: message}
}

// BackTo returns a signal for jumping to the phase owning step.
func BackTo(step StepCode, reason string) error {
	return &NavigationSignal{
		Request: &NavigationRequest{Step: step, Reason: reason},
		Message: reason,
	}
}

// BackToPhase returns a signal for jumping to the named phase.
func BackToPhase(name, reason string) error {
	return &NavigationSignal{
		Request: &NavigationRequest{Phase: name, Reason: reason},
		Message: reason,
	}
}

// AsNavigation reports whether err is a navigation signal. An unhandled
// prompt.ErrBack counts as a plain step back.
func AsNavigation(err error) (*NavigationSignal, bool) {
	if err == nil {
		return nil, false
	}
	var sig *NavigationSignal
	if errors.As(err, &sig) {
		return sig, true
	}
	if errors.Is(err, prompt.ErrBack) {
		return &NavigationSignal{Message: "user requested to go back"}, true
	}
	return nil, false
}

// IsNavigation reports whether err is a navigation signal.
func IsNavigation(err error) bool {
	_, ok := AsNavigation(err)
	return ok
}
