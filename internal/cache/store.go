// Package cache persists artifacts a user approved (schema analyses,
// generated code, prompts, prerequisites, app names) so a later run can offer
// them for reuse instead of paying for regeneration.
//
// Every artifact lives at {root}/{workflow}/{artifact}/{entity}{ext}, where
// entity is the sanitized key (app name, topic or technology). PathFor is the
// single place that derives this layout.
package cache

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/klaus/internal/errors"
	"github.com/Iron-Ham/klaus/internal/logging"
	"github.com/Iron-Ham/klaus/internal/namer"
)

// Artifact identifies a kind of cached artifact.
type Artifact string

// Artifact kinds.
const (
	ArtifactPrerequisites  Artifact = "prerequisites"
	ArtifactSchema         Artifact = "schema"
	ArtifactCode           Artifact = "code"
	ArtifactConnectionCode Artifact = "connection_code"
	ArtifactPrompt         Artifact = "prompt"
	ArtifactAppName        Artifact = "app_name"
	ArtifactEnvVars        Artifact = "env_vars"
)

// extensions fixes the on-disk format of each artifact kind.
var extensions = map[Artifact]string{
	ArtifactPrerequisites:  ".json",
	ArtifactSchema:         ".md",
	ArtifactCode:           ".py",
	ArtifactConnectionCode: ".py",
	ArtifactPrompt:         ".txt",
	ArtifactAppName:        ".txt",
	ArtifactEnvVars:        ".json",
}

// Ext returns the file extension used for a.
func (a Artifact) Ext() string {
	if ext, ok := extensions[a]; ok {
		return ext
	}
	return ".txt"
}

// IsMarkdown reports whether a is rendered as markdown when previewed.
func (a Artifact) IsMarkdown() bool {
	return a == ArtifactSchema
}

// Location is where a cached artifact lives.
type Location struct {
	Workflow string
	Artifact Artifact
	Entity   string // sanitized entity key
	Path     string
}

func (l Location) String() string { return l.Path }

// Entry describes an artifact found on disk.
type Entry struct {
	Location
	Size    int64
	ModTime time.Time
}

// Store reads and writes cached artifacts under a root directory.
type Store struct {
	root   string
	logger *logging.Logger
}

// NewStore creates a Store rooted at root.
func NewStore(root string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{root: root, logger: logger}
}

// Root returns the cache root directory.
func (s *Store) Root() string { return s.root }

// PathFor derives the location of an artifact. The entity key is sanitized
// (lower-case, non-alphanumerics collapsed to single hyphens, trimmed); an
// entity that sanitizes to nothing is stored as "default".
func (s *Store) PathFor(workflow, entity string, artifact Artifact) Location {
	key := namer.Sanitize(entity)
	if key == "" {
		key = "default"
	}
	wf := namer.Sanitize(workflow)
	return Location{
		Workflow: wf,
		Artifact: artifact,
		Entity:   key,
		Path:     filepath.Join(s.root, wf, string(artifact), key+artifact.Ext()),
	}
}

// LoadText returns the cached text at loc. ok is false when nothing is cached.
func (s *Store) LoadText(loc Location) (text string, ok bool, err error) {
	data, err := os.ReadFile(loc.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read cache file %s: %w", loc.Path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", false, nil
	}
	return string(data), true, nil
}

// LoadJSON decodes the cached JSON at loc into v. ok is false when nothing
// is cached.
func (s *Store) LoadJSON(loc Location, v any) (ok bool, err error) {
	text, ok, err := s.LoadText(loc)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return false, fmt.Errorf("failed to parse cache file %s: %w", loc.Path, err)
	}
	return true, nil
}

// SaveText writes text to loc, creating parent directories. Callers save only
// artifacts the user has approved.
func (s *Store) SaveText(loc Location, text string) error {
	if err := os.MkdirAll(filepath.Dir(loc.Path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := atomicWriteFile(loc.Path, []byte(text), 0644); err != nil {
		return err
	}
	s.logger.Debug("cached artifact",
		"workflow", loc.Workflow,
		"artifact", string(loc.Artifact),
		"entity", loc.Entity,
		"bytes", len(text))
	return nil
}

// SaveJSON writes v as indented JSON to loc.
func (s *Store) SaveJSON(loc Location, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache artifact: %w", err)
	}
	return s.SaveText(loc, string(data)+"\n")
}

// Delete removes the artifact at loc plus any dependent directories (for
// example the extracted app working directory). Missing paths are ignored.
func (s *Store) Delete(loc Location, dependents ...string) error {
	var errs []error
	if err := os.Remove(loc.Path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to delete %s: %w", loc.Path, err))
	}
	for _, dir := range dependents {
		if dir == "" {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete %s: %w", dir, err))
		}
	}
	s.logger.Info("deleted cached artifact",
		"workflow", loc.Workflow,
		"artifact", string(loc.Artifact),
		"entity", loc.Entity,
		"dependents", len(dependents))
	return errors.Join(errs...)
}

// List returns the cached artifacts, optionally restricted to one workflow,
// sorted by path.
func (s *Store) List(workflow string) ([]Entry, error) {
	base := s.root
	if workflow != "" {
		base = filepath.Join(s.root, namer.Sanitize(workflow))
	}

	var entries []Entry
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 3 {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			Location: Location{
				Workflow: parts[0],
				Artifact: Artifact(parts[1]),
				Entity:   strings.TrimSuffix(parts[2], filepath.Ext(parts[2])),
				Path:     path,
			},
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Clear removes every cached artifact, optionally for one workflow only.
// It returns the number of artifacts removed.
func (s *Store) Clear(workflow string) (int, error) {
	entries, err := s.List(workflow)
	if err != nil {
		return 0, err
	}
	target := s.root
	if workflow != "" {
		target = filepath.Join(s.root, namer.Sanitize(workflow))
	}
	if err := os.RemoveAll(target); err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	s.logger.Info("cleared cache", "workflow", workflow, "artifacts", len(entries))
	return len(entries), nil
}

// atomicWriteFile writes data to a temp file in the same directory and
// renames it over path, so a crash never leaves a half-written artifact.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
