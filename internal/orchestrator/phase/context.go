package phase

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
)

// Workspace is the platform location a run works against. It is written by
// prerequisite collection and read by almost every later phase.
type Workspace struct {
	WorkspaceID   string `mapstructure:"workspace_id" json:"workspace_id"`
	WorkspaceName string `mapstructure:"workspace_name" json:"workspace_name"`
	TopicID       string `mapstructure:"topic_id" json:"topic_id"`
	TopicName     string `mapstructure:"topic_name" json:"topic_name"`
	Branch        string `mapstructure:"branch" json:"branch"`
	RepositoryID  string `mapstructure:"repository_id" json:"repository_id"`
}

// Technology is the source or destination system the generated app talks to.
type Technology struct {
	Name         string `mapstructure:"name" json:"name"`
	TemplateID   string `mapstructure:"template_id" json:"template_id"`
	TemplatePath string `mapstructure:"template_path" json:"template_path"`
}

// Schema holds the sample data taken from a topic and the AI's analysis of it.
type Schema struct {
	Sample   string `mapstructure:"sample"`
	Analysis string `mapstructure:"analysis"`
}

// PromptRecord is a prompt sent to the AI, kept so later debugging has the
// full context of how the code came to be.
type PromptRecord struct {
	Phase  string `mapstructure:"phase"`
	Prompt string `mapstructure:"prompt"`
}

// EnvVar describes an environment variable the generated code reads.
type EnvVar struct {
	Name        string `mapstructure:"name" json:"name"`
	Description string `mapstructure:"description" json:"description"`
	Required    bool   `mapstructure:"required" json:"required"`
	Default     string `mapstructure:"default" json:"default,omitempty"`
	Secret      bool   `mapstructure:"secret" json:"secret"`
}

// CodeGeneration is mutated across generate, sandbox and debug cycles.
type CodeGeneration struct {
	DraftCode      string         `mapstructure:"draft_code"`
	ConnectionCode string         `mapstructure:"connection_code"`
	AppDir         string         `mapstructure:"app_dir"`
	EntryFile      string         `mapstructure:"entry_file"`
	Feedback       []string       `mapstructure:"feedback"`
	Dependencies   []string       `mapstructure:"dependencies"`
	EnvVars        []EnvVar       `mapstructure:"env_vars"`
	Prompts        []PromptRecord `mapstructure:"prompts"`
	ChangeRequest  string         `mapstructure:"change_request"`
	LastRunLogs    string         `mapstructure:"last_run_logs"`
}

// Deployment tracks the platform application and its deployment.
type Deployment struct {
	AppName        string `mapstructure:"app_name"`
	AppID          string `mapstructure:"app_id"`
	AppPath        string `mapstructure:"app_path"`
	SessionID      string `mapstructure:"session_id"`
	DeploymentID   string `mapstructure:"deployment_id"`
	DeploymentName string `mapstructure:"deployment_name"`
	Status         string `mapstructure:"status"`
}

// Deployed reports whether a deployment was created in this run.
func (d Deployment) Deployed() bool {
	return d.DeploymentID != ""
}

// Credentials are the connection parameters collected for the app. Values of
// names listed in Secrets are never logged.
type Credentials struct {
	Params      map[string]string `mapstructure:"params"`
	EnvVarNames []string          `mapstructure:"env_var_names"`
	Values      map[string]string `mapstructure:"values"`
	Secrets     []string          `mapstructure:"secrets"`
}

// IsSecret reports whether the variable name holds a secret.
func (c Credentials) IsSecret(name string) bool {
	return slices.Contains(c.Secrets, name)
}

// Redacted returns Values with secret values masked, safe for logging.
func (c Credentials) Redacted() map[string]string {
	out := make(map[string]string, len(c.Values))
	for k, v := range c.Values {
		if c.IsSecret(k) {
			v = "********"
		}
		out[k] = v
	}
	return out
}

// WorkflowContext is the state of one workflow run, shared by all of its
// phases. Each group is written only by the phases owning that concern.
// Only the running phase mutates it; the sequencer only clears a consumed
// navigation request.
type WorkflowContext struct {
	RunID string `mapstructure:"run_id"`
	Kind  Kind   `mapstructure:"kind"`

	Workspace   Workspace      `mapstructure:"workspace"`
	Technology  Technology     `mapstructure:"technology"`
	Schema      Schema         `mapstructure:"schema"`
	Code        CodeGeneration `mapstructure:"code"`
	Deployment  Deployment     `mapstructure:"deployment"`
	Credentials Credentials    `mapstructure:"credentials"`

	// ResumeStep is the sub-step a phase should start at after a targeted
	// jump. The owning phase clears it once consumed.
	ResumeStep StepCode `mapstructure:"resume_step"`

	// navigation is transient and never serialized.
	navigation *NavigationRequest
}

// NewWorkflowContext returns an empty context for a run of kind.
func NewWorkflowContext(kind Kind) *WorkflowContext {
	return &WorkflowContext{
		RunID: uuid.NewString(),
		Kind:  kind,
		Credentials: Credentials{
			Params: map[string]string{},
			Values: map[string]string{},
		},
	}
}

// Reset replaces every field with a fresh state for kind and a new run id.
func (wc *WorkflowContext) Reset(kind Kind) {
	*wc = *NewWorkflowContext(kind)
}

// NavigateTo records a targeted navigation request on the context and
// returns the signal to return from Execute.
func (wc *WorkflowContext) NavigateTo(step StepCode, reason string) error {
	req := &NavigationRequest{Step: step, Reason: reason}
	wc.navigation = req
	return &NavigationSignal{Request: req, Message: reason}
}

// PendingNavigation returns the recorded navigation request, if any.
func (wc *WorkflowContext) PendingNavigation() *NavigationRequest {
	return wc.navigation
}

// TakeNavigation returns and clears the recorded navigation request.
func (wc *WorkflowContext) TakeNavigation() *NavigationRequest {
	req := wc.navigation
	wc.navigation = nil
	return req
}

// TakeResumeStep returns and clears the resume step.
func (wc *WorkflowContext) TakeResumeStep() StepCode {
	s := wc.ResumeStep
	wc.ResumeStep = StepNone
	return s
}

// RecordPrompt appends a prompt sent to the AI by phase.
func (wc *WorkflowContext) RecordPrompt(phase, prompt string) {
	wc.Code.Prompts = append(wc.Code.Prompts, PromptRecord{Phase: phase, Prompt: prompt})
}

// ToMap converts the context to a plain mapping: nested values are only
// map[string]any, []any and built-in scalars.
func (wc *WorkflowContext) ToMap() (map[string]any, error) {
	v, err := plain(wc)
	if err != nil {
		return nil, fmt.Errorf("encode workflow context: %w", err)
	}
	return v.(map[string]any), nil
}

// plain rewrites v without named types. Structs go through mapstructure so
// their keys match the tags FromMap decodes.
func plain(v any) (any, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Invalid:
		return nil, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return plain(rv.Elem().Interface())
	case reflect.Struct:
		m := map[string]any{}
		if err := mapstructure.Decode(v, &m); err != nil {
			return nil, err
		}
		return plain(m)
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := plain(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(iter.Key().Interface())] = e
		}
		return out, nil
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			e, err := plain(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(rv.Int()), nil
	}
	return v, nil
}

// FromMap rebuilds a context from the output of ToMap. Unknown keys are
// rejected so a stale mapping is noticed rather than silently dropped.
func FromMap(m map[string]any) (*WorkflowContext, error) {
	wc := &WorkflowContext{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      wc,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("decode workflow context: %w", err)
	}
	if wc.Credentials.Params == nil {
		wc.Credentials.Params = map[string]string{}
	}
	if wc.Credentials.Values == nil {
		wc.Credentials.Values = map[string]string{}
	}
	return wc, nil
}
