package platform

import "encoding/json"

// Workspace is a platform workspace.
type Workspace struct {
	WorkspaceID  string `json:"workspaceId"`
	Name         string `json:"name"`
	Status       string `json:"status"`
	RepositoryID string `json:"repositoryId"`
	Branch       string `json:"branch"`
}

// Topic is a message topic in a workspace.
type Topic struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Partitions int    `json:"partitions"`
	Status     string `json:"status"`
}

// Application is an application stored in a workspace repository.
type Application struct {
	ApplicationID string `json:"applicationId"`
	Name          string `json:"name"`
	Path          string `json:"path"`
	Language      string `json:"language"`
}

// File is one file of an application or sandbox session.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Session is a remote sandbox execution session.
type Session struct {
	SessionID     string `json:"sessionId"`
	ApplicationID string `json:"applicationId"`
}

// RunRequest executes an entry file in a session.
type RunRequest struct {
	EntryFile      string            `json:"entryFile"`
	TimeoutSeconds int               `json:"timeoutSeconds"`
	Environment    map[string]string `json:"environment,omitempty"`
}

// DeploymentSpec describes a deployment to create.
type DeploymentSpec struct {
	Name          string            `json:"name"`
	ApplicationID string            `json:"applicationId"`
	Type          string            `json:"deploymentType"`
	Variables     map[string]string `json:"variables,omitempty"`
	// SecretRefs maps variable names to secret names.
	SecretRefs    map[string]string `json:"secretVariables,omitempty"`
	CPUMillicores int               `json:"cpuMillicores"`
	MemoryMB      int               `json:"memoryInMb"`
	Replicas      int               `json:"replicas"`
}

// Deployment is a deployment and its last known status.
type Deployment struct {
	DeploymentID string `json:"deploymentId"`
	Name         string `json:"name"`
	Status       Status `json:"status"`
	StatusReason string `json:"statusReason"`
}

// Status is a deployment lifecycle status.
type Status string

// Deployment statuses reported by the platform.
const (
	StatusQueuedForBuild      Status = "QueuedForBuild"
	StatusBuilding            Status = "Building"
	StatusBuildFailed         Status = "BuildFailed"
	StatusBuildSuccessful     Status = "BuildSuccessful"
	StatusQueuedForDeployment Status = "QueuedForDeployment"
	StatusDeploying           Status = "Deploying"
	StatusDeploymentFailed    Status = "DeploymentFailed"
	StatusStarting            Status = "Starting"
	StatusRunning             Status = "Running"
	StatusRuntimeError        Status = "RuntimeError"
	StatusStopping            Status = "Stopping"
	StatusStopped             Status = "Stopped"
	StatusCompleted           Status = "Completed"
	StatusDeleting            Status = "Deleting"
)

// IsTerminal reports whether polling should stop at s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRunning, StatusBuildFailed, StatusRuntimeError, StatusStopped, StatusCompleted:
		return true
	}
	return false
}

// IsFailure reports whether s is a failed terminal status.
func (s Status) IsFailure() bool {
	return s == StatusBuildFailed || s == StatusRuntimeError || s == StatusDeploymentFailed
}

// LogKind selects deployment logs.
type LogKind string

// Log kinds.
const (
	LogsBuild   LogKind = "build"
	LogsRuntime LogKind = "runtime"
)

// SecretScope is where a secret is stored.
type SecretScope string

// Secret scopes.
const (
	ScopeWorkspace  SecretScope = "workspace"
	ScopeRepository SecretScope = "repository"
)

// sampleResponse wraps raw topic messages.
type sampleResponse struct {
	Messages []json.RawMessage `json:"messages"`
}
