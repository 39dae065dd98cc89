// Package phase defines the unit of work of a Klaus workflow and the pieces
// every phase shares: the Phase contract, its Result, the Runner that wraps a
// phase's execution, the NavigationSignal used to go back, and the
// WorkflowContext threaded through a run.
package phase

import (
	"context"
	"time"
)

// Kind identifies a workflow.
type Kind string

// Workflow kinds.
const (
	KindSource   Kind = "source"
	KindSink     Kind = "sink"
	KindDiagnose Kind = "diagnose"
)

// AllKinds returns the workflow kinds in menu order.
func AllKinds() []Kind {
	return []Kind{KindSource, KindSink, KindDiagnose}
}

// Valid reports whether k is a known workflow kind.
func (k Kind) Valid() bool {
	switch k {
	case KindSource, KindSink, KindDiagnose:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Phase is one step of a workflow.
//
// Execute may read and write the WorkflowContext. It returns a
// *NavigationSignal (see Back, BackTo) to go back; any other error is
// treated as an unexpected failure by the Runner.
type Phase interface {
	// Name is the stable machine id used in logs, cache keys and navigation.
	Name() string
	// Description is the human label shown in the phase header.
	Description() string
	// Execute performs the phase.
	Execute(ctx context.Context, wc *WorkflowContext) (Result, error)
}

// Hooks is implemented by phases that need set-up or tear-down around
// Execute. After runs even when Execute fails.
type Hooks interface {
	Before(ctx context.Context, wc *WorkflowContext) error
	After(ctx context.Context, wc *WorkflowContext, result Result)
}

// Result is the outcome of a single phase execution. It is never mutated
// after Execute returns.
type Result struct {
	Success bool
	Message string
	Data    map[string]any
	Err     error
	Elapsed time.Duration
}

// Succeeded builds a successful Result.
func Succeeded(message string) Result {
	return Result{Success: true, Message: message}
}

// Failed builds a failed Result.
func Failed(message string, err error) Result {
	return Result{Success: false, Message: message, Err: err}
}

// WithData returns a copy of r carrying data.
func (r Result) WithData(data map[string]any) Result {
	r.Data = data
	return r
}

// Base carries a phase's name and description. Concrete phases embed it.
type Base struct {
	PhaseName        string
	PhaseDescription string
}

// Name implements Phase.
func (b Base) Name() string { return b.PhaseName }

// Description implements Phase.
func (b Base) Description() string { return b.PhaseDescription }
