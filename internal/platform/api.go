package platform

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/klaus/internal/errors"
)

// ListWorkspaces returns the workspaces the token can access.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	return cached(c, "workspaces", func() ([]Workspace, error) {
		var out []Workspace
		err := c.do(ctx, "list workspaces", http.MethodGet, "/workspaces", nil, &out)
		return out, err
	})
}

// GetWorkspace returns one workspace.
func (c *Client) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	var out Workspace
	err := c.do(ctx, "get workspace", http.MethodGet, "/workspaces/"+escape(workspaceID), nil, &out)
	return out, err
}

// ListTopics returns the workspace's topics, without excluded internal ones.
func (c *Client) ListTopics(ctx context.Context, workspaceID string) ([]Topic, error) {
	all, err := cached(c, "topics/"+workspaceID, func() ([]Topic, error) {
		var out []Topic
		err := c.do(ctx, "list topics", http.MethodGet, "/"+escape(workspaceID)+"/topics", nil, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}
	visible := make([]Topic, 0, len(all))
	for _, t := range all {
		if !c.ExcludedTopic(t.Name) {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// SampleMessages fetches up to count recent messages from a topic as raw
// JSON strings. An empty topic yields errors.ErrEmptyTopic.
func (c *Client) SampleMessages(ctx context.Context, workspaceID, topic string, count int) ([]string, error) {
	var out sampleResponse
	path := fmt.Sprintf("/%s/topics/%s/sample?count=%d", escape(workspaceID), escape(topic), count)
	if err := c.do(ctx, "sample topic", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if len(out.Messages) == 0 {
		return nil, fmt.Errorf("%w: %s", errors.ErrEmptyTopic, topic)
	}
	msgs := make([]string, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = string(m)
	}
	return msgs, nil
}

// ListApplications returns the workspace's applications.
func (c *Client) ListApplications(ctx context.Context, workspaceID string) ([]Application, error) {
	return cached(c, "apps/"+workspaceID, func() ([]Application, error) {
		var out []Application
		err := c.do(ctx, "list applications", http.MethodGet, "/"+escape(workspaceID)+"/applications", nil, &out)
		return out, err
	})
}

// FindApplication returns the application with the given name.
func (c *Client) FindApplication(ctx context.Context, workspaceID, name string) (Application, bool, error) {
	apps, err := c.ListApplications(ctx, workspaceID)
	if err != nil {
		return Application{}, false, err
	}
	for _, a := range apps {
		if a.Name == name {
			return a, true, nil
		}
	}
	return Application{}, false, nil
}

// CreateApplication creates an application.
func (c *Client) CreateApplication(ctx context.Context, workspaceID, name, language string) (Application, error) {
	var out Application
	in := map[string]string{"name": name, "path": name, "language": language}
	err := c.do(ctx, "create application", http.MethodPost, "/"+escape(workspaceID)+"/applications", in, &out)
	c.discovery.Delete("apps/" + workspaceID)
	return out, err
}

// DeleteApplication deletes an application.
func (c *Client) DeleteApplication(ctx context.Context, workspaceID, applicationID string) error {
	path := fmt.Sprintf("/%s/applications/%s", escape(workspaceID), escape(applicationID))
	err := c.do(ctx, "delete application", http.MethodDelete, path, nil, nil)
	c.discovery.Delete("apps/" + workspaceID)
	return err
}

// DownloadApplication returns every file of an application.
func (c *Client) DownloadApplication(ctx context.Context, workspaceID, applicationID string) ([]File, error) {
	var out []File
	path := fmt.Sprintf("/%s/applications/%s/files", escape(workspaceID), escape(applicationID))
	err := c.do(ctx, "download application", http.MethodGet, path, nil, &out)
	return out, err
}

// UploadApplicationFiles writes files into an application, replacing files
// with the same path.
func (c *Client) UploadApplicationFiles(ctx context.Context, workspaceID, applicationID string, files []File) error {
	path := fmt.Sprintf("/%s/applications/%s/files", escape(workspaceID), escape(applicationID))
	return c.do(ctx, "upload application", http.MethodPut, path, files, nil)
}

// CreateSession starts a sandbox session for an application.
func (c *Client) CreateSession(ctx context.Context, workspaceID, applicationID string) (Session, error) {
	var out Session
	in := map[string]string{"applicationId": applicationID}
	err := c.do(ctx, "create session", http.MethodPost, "/"+escape(workspaceID)+"/sessions", in, &out)
	if err == nil && out.SessionID == "" {
		err = errors.NewPlatformError("create session", errors.New("no session id returned")).WithRetryable(false)
	}
	return out, err
}

// UploadFiles copies every regular file under localDir into the session.
func (c *Client) UploadFiles(ctx context.Context, workspaceID, sessionID, localDir string) error {
	files, err := ReadDir(localDir)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/%s/sessions/%s/files", escape(workspaceID), escape(sessionID))
	return c.do(ctx, "upload files", http.MethodPut, path, files, nil)
}

// InstallDependencies installs the session's requirements and returns the
// installer output.
func (c *Client) InstallDependencies(ctx context.Context, workspaceID, sessionID string, force bool) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	path := fmt.Sprintf("/%s/sessions/%s/install", escape(workspaceID), escape(sessionID))
	err := c.do(ctx, "install dependencies", http.MethodPost, path, map[string]bool{"force": force}, &out)
	return out.Output, err
}

// Run executes an entry file for at most req.TimeoutSeconds and returns the
// captured logs. The request waits for the whole run plus a margin; it is
// never re-sent once the platform may have started the app.
func (c *Client) Run(ctx context.Context, workspaceID, sessionID string, req RunRequest) (string, error) {
	var out struct {
		Logs string `json:"logs"`
	}
	path := fmt.Sprintf("/%s/sessions/%s/run", escape(workspaceID), escape(sessionID))
	r := request{op: "run", method: http.MethodPost, path: path, in: req, out: &out, client: c.httpClient, once: true}
	if req.TimeoutSeconds <= 0 {
		return out.Logs, c.call(ctx, r)
	}

	limit := time.Duration(req.TimeoutSeconds)*time.Second + c.runMargin
	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	r.client = c.runClient
	err := c.call(runCtx, r)
	if err != nil && ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
		return "", errors.NewPlatformError("run", fmt.Errorf("no result within %s: %w", limit, err)).
			WithEndpoint(path).WithRetryable(false)
	}
	return out.Logs, err
}

// ReadFile reads a file from the session.
func (c *Client) ReadFile(ctx context.Context, workspaceID, sessionID, file string) (string, error) {
	var out File
	path := fmt.Sprintf("/%s/sessions/%s/file?path=%s", escape(workspaceID), escape(sessionID), escape(file))
	err := c.do(ctx, "read file", http.MethodGet, path, nil, &out)
	return out.Content, err
}

// WriteFile writes a file into the session.
func (c *Client) WriteFile(ctx context.Context, workspaceID, sessionID, file, content string) error {
	path := fmt.Sprintf("/%s/sessions/%s/file", escape(workspaceID), escape(sessionID))
	return c.do(ctx, "write file", http.MethodPut, path, File{Path: file, Content: content}, nil)
}

// CloseSession ends a sandbox session.
func (c *Client) CloseSession(ctx context.Context, workspaceID, sessionID string) error {
	path := fmt.Sprintf("/%s/sessions/%s", escape(workspaceID), escape(sessionID))
	return c.do(ctx, "close session", http.MethodDelete, path, nil, nil)
}

// CreateDeployment creates a deployment and returns its id.
func (c *Client) CreateDeployment(ctx context.Context, workspaceID string, spec DeploymentSpec) (string, error) {
	if spec.Type == "" {
		spec.Type = "Service"
	}
	var out Deployment
	err := c.do(ctx, "create deployment", http.MethodPost, "/"+escape(workspaceID)+"/deployments", spec, &out)
	return out.DeploymentID, err
}

// StartDeployment starts a deployment.
func (c *Client) StartDeployment(ctx context.Context, workspaceID, deploymentID string) error {
	path := fmt.Sprintf("/%s/deployments/%s/start", escape(workspaceID), escape(deploymentID))
	return c.do(ctx, "start deployment", http.MethodPut, path, nil, nil)
}

// DeploymentStatus returns a deployment's status and reason.
func (c *Client) DeploymentStatus(ctx context.Context, workspaceID, deploymentID string) (Status, string, error) {
	var out Deployment
	path := fmt.Sprintf("/%s/deployments/%s", escape(workspaceID), escape(deploymentID))
	err := c.do(ctx, "deployment status", http.MethodGet, path, nil, &out)
	return out.Status, out.StatusReason, err
}

// DeploymentLogs returns a deployment's build or runtime logs as text.
func (c *Client) DeploymentLogs(ctx context.Context, workspaceID, deploymentID string, kind LogKind) (string, error) {
	var out string
	path := fmt.Sprintf("/%s/deployments/%s/logs/%s", escape(workspaceID), escape(deploymentID), kind)
	err := c.do(ctx, "deployment logs", http.MethodGet, path, nil, &out)
	return out, err
}

// SetSecret stores a secret value under name at the given scope.
func (c *Client) SetSecret(ctx context.Context, workspaceID string, scope SecretScope, name, value string) error {
	path := fmt.Sprintf("/%s/secrets/%s/%s", escape(workspaceID), scope, escape(name))
	return c.do(ctx, "set secret", http.MethodPut, path, map[string]string{"value": value}, nil)
}

// ListSecrets returns the secret names at the given scope.
func (c *Client) ListSecrets(ctx context.Context, workspaceID string, scope SecretScope) ([]string, error) {
	var out []string
	path := fmt.Sprintf("/%s/secrets/%s", escape(workspaceID), scope)
	err := c.do(ctx, "list secrets", http.MethodGet, path, nil, &out)
	sort.Strings(out)
	return out, err
}

// ReadDir collects the regular files under dir, skipping hidden files and
// Python caches, with slash-separated relative paths.
func ReadDir(dir string) ([]File, error) {
	var files []File
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		name := info.Name()
		if path != dir && (strings.HasPrefix(name, ".") || name == "__pycache__") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, File{Path: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	return files, nil
}

// WriteDir writes files under dir, creating parents. Paths escaping dir are
// rejected.
func WriteDir(dir string, files []File) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		target := filepath.Join(root, filepath.FromSlash(f.Path))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("%w: file path %q escapes %s", errors.ErrInvalidInput, f.Path, dir)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(f.Content), 0644); err != nil {
			return err
		}
	}
	return nil
}
