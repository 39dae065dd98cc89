// Package library indexes the connector templates the AI starts from.
//
// A template is a directory containing a library.yaml descriptor next to
// its code. The index is built by walking the library root for descriptors.
package library

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DescriptorFile is the file name that marks a template directory.
const DescriptorFile = "library.yaml"

// Variable is an environment variable a template declares.
type Variable struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default,omitempty"`
	Secret      bool   `yaml:"secret,omitempty"`
}

// Template describes one connector template.
type Template struct {
	ID           string     `yaml:"id"`
	Name         string     `yaml:"name"`
	Kind         string     `yaml:"kind"` // source or sink
	Technology   string     `yaml:"technology"`
	Description  string     `yaml:"description"`
	Tags         []string   `yaml:"tags"`
	EntryFile    string     `yaml:"entry_file"`
	Dependencies []string   `yaml:"dependencies"`
	Variables    []Variable `yaml:"variables"`

	// Dir is the template directory; set by the loader.
	Dir string `yaml:"-"`
}

// Label is the display form "Name (technology)".
func (t Template) Label() string {
	if t.Technology == "" || strings.EqualFold(t.Technology, t.Name) {
		return t.Name
	}
	return fmt.Sprintf("%s (%s)", t.Name, t.Technology)
}

// Index is the set of templates found under a library root.
type Index struct {
	root      string
	templates []Template
	byID      map[string]int
}

// Load walks root for descriptor files. A missing root yields an empty
// index; a malformed descriptor is an error naming the file.
func Load(root string) (*Index, error) {
	idx := &Index{root: root, byID: make(map[string]int)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || d.Name() != DescriptorFile {
			return nil
		}
		t, err := readDescriptor(path)
		if err != nil {
			return err
		}
		if _, dup := idx.byID[t.ID]; dup {
			return fmt.Errorf("duplicate template id %q in %s", t.ID, path)
		}
		idx.byID[t.ID] = len(idx.templates)
		idx.templates = append(idx.templates, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load template library: %w", err)
	}

	sort.SliceStable(idx.templates, func(i, j int) bool { return idx.templates[i].ID < idx.templates[j].ID })
	for i, t := range idx.templates {
		idx.byID[t.ID] = i
	}
	return idx, nil
}

func readDescriptor(path string) (Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, err
	}
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Template{}, fmt.Errorf("%s: %w", path, err)
	}
	t.Dir = filepath.Dir(path)
	if t.ID == "" {
		t.ID = filepath.Base(t.Dir)
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.EntryFile == "" {
		t.EntryFile = "main.py"
	}
	t.Kind = strings.ToLower(t.Kind)
	if t.Kind != "source" && t.Kind != "sink" {
		return Template{}, fmt.Errorf("%s: kind must be source or sink, got %q", path, t.Kind)
	}
	return t, nil
}

// Root returns the library root directory.
func (i *Index) Root() string { return i.root }

// Len returns the number of templates.
func (i *Index) Len() int { return len(i.templates) }

// All returns every template, sorted by id.
func (i *Index) All() []Template {
	return append([]Template(nil), i.templates...)
}

// ForKind returns the templates of one kind ("source" or "sink").
func (i *Index) ForKind(kind string) []Template {
	var out []Template
	for _, t := range i.templates {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// Get returns the template with the given id.
func (i *Index) Get(id string) (Template, bool) {
	n, ok := i.byID[id]
	if !ok {
		return Template{}, false
	}
	return i.templates[n], true
}

// Match ranks templates of kind against a free-text technology label by
// keyword overlap and returns the best, or false when nothing overlaps.
// It is the offline fallback for AI template matching.
func (i *Index) Match(kind, technology string) (Template, bool) {
	words := tokenize(technology)
	if len(words) == 0 {
		return Template{}, false
	}
	best, bestScore := Template{}, 0
	for _, t := range i.ForKind(kind) {
		hay := make(map[string]bool)
		for _, w := range tokenize(strings.Join(append([]string{t.ID, t.Name, t.Technology}, t.Tags...), " ")) {
			hay[w] = true
		}
		score := 0
		for _, w := range words {
			if hay[w] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best, bestScore > 0
}

// Code returns the template's entry file contents.
func (i *Index) Code(t Template) (string, error) {
	data, err := os.ReadFile(filepath.Join(t.Dir, t.EntryFile))
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", t.ID, err)
	}
	return string(data), nil
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}
