package battleplan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/squadcore/core/internal/squaderr"
	"github.com/squadcore/core/internal/workspace"
	"github.com/squadcore/core/observability"
)

// Manager loads and persists battle plan templates from a builtin
// templates directory and the workspace's own strategies directory,
// workspace definitions taking precedence on name collision.
type Manager struct {
	mu             sync.RWMutex
	paths          workspace.Paths
	builtinDir     string
	observer       observability.Observer
	plans          map[string]*Plan
}

// NewManager builds a Manager, eagerly loading every *.yaml template found
// under builtinDir (may be empty to skip) and workspaceRoot/.squad/strategies.
func NewManager(workspaceRoot, builtinDir string, observer observability.Observer) (*Manager, error) {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	m := &Manager{
		paths:      workspace.Resolve(workspaceRoot),
		builtinDir: builtinDir,
		observer:   observer,
		plans:      make(map[string]*Plan),
	}
	if err := m.reload(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return squaderr.IOFailure("read strategies directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		plan, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			m.observer.OnEvent(context.Background(), observability.Event{
				Type: EventLoadFailed, Level: observability.LevelWarning, Source: "battleplan",
				Data: map[string]any{"path": entry.Name(), "error": err.Error()},
			})
			continue
		}
		m.plans[plan.Name] = plan
	}
	return nil
}

func (m *Manager) reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plans = make(map[string]*Plan)
	if m.builtinDir != "" {
		if err := m.loadDir(m.builtinDir); err != nil {
			return err
		}
	}
	return m.loadDir(m.paths.StrategiesDir())
}

// Get returns a named plan, or nil if not found.
func (m *Manager) Get(name string) *Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plans[name]
}

// List returns every known plan, optionally filtered by label, sorted by
// name.
func (m *Manager) List(label string) []*Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Plan
	for _, plan := range m.plans {
		if label == "" || containsLabel(plan.Labels, label) {
			out = append(out, plan)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// Create defines and persists a new plan under the workspace strategies
// directory.
func (m *Manager) Create(plan *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan.applyDefaults()
	if err := os.MkdirAll(m.paths.StrategiesDir(), 0o755); err != nil {
		return squaderr.IOFailure("create strategies directory", err)
	}
	path := filepath.Join(m.paths.StrategiesDir(), plan.Name+".yaml")
	if err := plan.Save(path); err != nil {
		return err
	}
	m.plans[plan.Name] = plan
	return nil
}

// Delete removes a workspace-defined plan by name.
func (m *Manager) Delete(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[name]; !ok {
		return false
	}
	path := filepath.Join(m.paths.StrategiesDir(), name+".yaml")
	_ = os.Remove(path)
	delete(m.plans, name)
	return true
}
