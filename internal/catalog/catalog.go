package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Model describes one comparable model as configured in the catalog file.
type Model struct {
	ID            string `yaml:"id" json:"id"`
	Name          string `yaml:"name" json:"name"`
	Subject       string `yaml:"subject" json:"-"`
	ContextWindow int    `yaml:"context_window" json:"context_window"`
	Enabled       *bool  `yaml:"enabled" json:"enabled"`
}

// IsEnabled treats a missing enabled flag as enabled.
func (m Model) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type catalogFile struct {
	Models []Model `yaml:"models"`
}

// Catalog is a thread-safe view of the model catalog file. Reload replaces
// the whole snapshot; readers never observe a partial update.
type Catalog struct {
	path    string
	mu      sync.RWMutex
	byID    map[string]Model
	ordered []Model
	watcher *fsnotify.Watcher
}

func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads the catalog file and swaps the snapshot.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog: %w", err)
	}

	byID := make(map[string]Model, len(file.Models))
	ordered := make([]Model, 0, len(file.Models))
	for _, m := range file.Models {
		if m.ID == "" {
			return fmt.Errorf("catalog entry missing id")
		}
		if _, dup := byID[m.ID]; dup {
			return fmt.Errorf("duplicate catalog entry: %s", m.ID)
		}
		byID[m.ID] = m
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	c.mu.Lock()
	c.byID = byID
	c.ordered = ordered
	c.mu.Unlock()

	slog.Info("Model catalog loaded", "path", c.path, "models", len(ordered))
	return nil
}

// Lookup returns the model for id, if present and enabled.
func (c *Catalog) Lookup(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byID[id]
	if !ok || !m.IsEnabled() {
		return Model{}, false
	}
	return m, true
}

// List returns the enabled models sorted by id.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Model, 0, len(c.ordered))
	for _, m := range c.ordered {
		if m.IsEnabled() {
			out = append(out, m)
		}
	}
	return out
}

// Watch reloads the catalog whenever the file changes. The watcher runs
// until Close is called; reload errors keep the previous snapshot.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	// Watch the directory so editor rename-on-save is still observed.
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalog dir: %w", err)
	}
	c.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := c.Reload(); err != nil {
					slog.Error("Catalog reload failed", "path", c.path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Catalog watcher error", "error", err)
			}
		}
	}()

	return nil
}

func (c *Catalog) Close() error {
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}
