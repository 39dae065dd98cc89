// Package watch reports files written into a working directory while an AI
// agent runs there, so the user sees progress during long generations.
package watch

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/klaus/internal/logging"
)

// DefaultDebounce batches bursts of events for the same file.
const DefaultDebounce = 50 * time.Millisecond

// Change is a file created or written under the watched root.
type Change struct {
	RelativePath string
	Time         time.Time
}

// Watcher tracks file writes under a root directory.
type Watcher struct {
	root     string
	watcher  *fsnotify.Watcher
	logger   *logging.Logger
	debounce time.Duration

	ignorePaths []string
	onChange    func(Change)

	mu      sync.RWMutex
	changed map[string]time.Time

	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Watcher for root. Call Start to begin watching.
func New(root string, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:        root,
		watcher:     fw,
		logger:      logger,
		debounce:    DefaultDebounce,
		ignorePaths: []string{".git", "__pycache__", ".venv", "node_modules", ".DS_Store"},
		changed:     make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// OnChange sets a callback invoked (from the watch goroutine) for each
// debounced change. Must be called before Start.
func (w *Watcher) OnChange(cb func(Change)) {
	w.onChange = cb
}

// Start watches root and every subdirectory, then processes events in the
// background until Stop.
func (w *Watcher) Start() error {
	if err := w.watchDirRecursive(w.root); err != nil {
		return err
	}
	w.started = true
	go w.watchLoop()
	return nil
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
		if w.started {
			<-w.doneCh
		}
	})
}

// Changed returns the relative paths written so far, sorted.
func (w *Watcher) Changed() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	files := make([]string, 0, len(w.changed))
	for p := range w.changed {
		files = append(files, p)
	}
	sort.Strings(files)
	return files
}

func (w *Watcher) watchDirRecursive(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if path != root && w.ignored(path) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() && path != root {
			_ = w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) ignored(path string) bool {
	for _, ignore := range w.ignorePaths {
		if filepath.Base(path) == ignore ||
			strings.Contains(path, string(filepath.Separator)+ignore+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C

	pending := make(map[string]fsnotify.Event)

	for {
		select {
		case <-w.stopCh:
			debounceTimer.Stop()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || w.ignored(event.Name) {
				continue
			}
			// New directories (e.g. a package the agent creates) are watched too.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watchDirRecursive(event.Name)
					continue
				}
			}
			pending[event.Name] = event
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			for name := range pending {
				w.record(name)
			}
			pending = make(map[string]fsnotify.Event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "root", w.root, "error", err.Error())
		}
	}
}

func (w *Watcher) record(path string) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if strings.HasPrefix(filepath.Base(rel), ".tmp-") {
		return
	}
	now := time.Now()

	w.mu.Lock()
	_, seen := w.changed[rel]
	w.changed[rel] = now
	w.mu.Unlock()

	if !seen {
		w.logger.Debug("agent wrote file", "path", rel)
	}
	if w.onChange != nil {
		w.onChange(Change{RelativePath: rel, Time: now})
	}
}
