package plugin

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ayusman/mudra/internal/observability"
)

// ErrPluginNotFound is returned when no plugin matches a lookup.
var ErrPluginNotFound = errors.New("plugin not found")

// Manager discovers plugins under a directory.
type Manager struct {
	pluginDir string
	plugins   map[string]*Plugin
	mu        sync.RWMutex
}

// NewManager creates a manager for pluginDir.
func NewManager(pluginDir string) *Manager {
	return &Manager{
		pluginDir: pluginDir,
		plugins:   make(map[string]*Plugin),
	}
}

// Discover rescans the plugin directory. Each subdirectory with a valid
// plugin.json becomes a plugin; others are skipped. A missing directory
// yields no plugins.
func (m *Manager) Discover() error {
	found := make(map[string]*Plugin)

	entries, err := os.ReadDir(m.pluginDir)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	log := observability.WithComponent("plugin")
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.pluginDir, entry.Name())
		data, err := os.ReadFile(filepath.Join(dir, "plugin.json"))
		if err != nil {
			continue
		}

		var manifest Manifest
		if err := json.Unmarshal(data, &manifest); err != nil || manifest.Name == "" || manifest.Executable == "" {
			log.Warn().Str("dir", dir).Msg("skipping plugin with invalid manifest")
			continue
		}
		found[manifest.Name] = &Plugin{
			Manifest:   manifest,
			Path:       dir,
			Executable: filepath.Join(dir, manifest.Executable),
		}
	}

	m.mu.Lock()
	m.plugins = found
	m.mu.Unlock()
	return nil
}

// Get returns the plugin called name.
func (m *Manager) Get(name string) (*Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plugins[name]
	if !ok {
		return nil, ErrPluginNotFound
	}
	return p, nil
}

// Find returns the first plugin, by name, that supports capability.
func (m *Manager) Find(capability string) (*Plugin, error) {
	for _, p := range m.List() {
		if p.Manifest.Supports(capability) {
			return p, nil
		}
	}
	return nil, ErrPluginNotFound
}

// List returns the discovered plugins sorted by name.
func (m *Manager) List() []*Plugin {
	m.mu.RLock()
	plugins := make([]*Plugin, 0, len(m.plugins))
	for _, p := range m.plugins {
		plugins = append(plugins, p)
	}
	m.mu.RUnlock()

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Manifest.Name < plugins[j].Manifest.Name
	})
	return plugins
}

// PluginDir returns the scanned directory.
func (m *Manager) PluginDir() string {
	return m.pluginDir
}
