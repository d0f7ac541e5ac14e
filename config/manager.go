package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Manager is a thin wrapper over viper's own get/set/watch API,
// keeping the teacher's Manager surface (Get/GetString/GetInt/Watch)
// generalized onto viper's layered store instead of the hand-rolled
// map+reflection backend, per SPEC_FULL.md's ambient config stack
// decision.
type Manager struct {
	v *viper.Viper

	mu       sync.Mutex
	watching bool
	watchers []func(*Config)
}

// NewManager wraps an existing viper instance (typically the one New
// returned) for runtime reads and change notification.
func NewManager(v *viper.Viper) *Manager {
	return &Manager{v: v}
}

// Get, GetString, GetInt, GetBool, and GetDuration delegate directly
// to viper, preserved for callers that want a single dynamic value
// rather than the whole typed Config.
func (m *Manager) Get(key string) any             { return m.v.Get(key) }
func (m *Manager) GetString(key string) string     { return m.v.GetString(key) }
func (m *Manager) GetInt(key string) int           { return m.v.GetInt(key) }
func (m *Manager) GetBool(key string) bool         { return m.v.GetBool(key) }
func (m *Manager) GetDuration(key string) int64    { return m.v.GetDuration(key).Nanoseconds() }

// Set overrides key at runtime (process-local; not persisted).
func (m *Manager) Set(key string, value any) { m.v.Set(key, value) }

// Current reloads and returns the typed Config from the manager's
// current viper state.
func (m *Manager) Current() (*Config, error) { return Load(m.v) }

// Watch registers fn to run with the freshly reloaded Config whenever
// the backing config file changes, a thin wrapper over
// viper.OnConfigChange/WatchConfig per spec.md's hot-reload callback
// semantics. Safe to call more than once; the underlying watch starts
// on the first call.
func (m *Manager) Watch(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.watchers = append(m.watchers, fn)
	if m.watching {
		return
	}
	m.watching = true

	m.v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := Load(m.v)
		if err != nil {
			return
		}
		m.mu.Lock()
		fns := append([]func(*Config){}, m.watchers...)
		m.mu.Unlock()
		for _, w := range fns {
			w(cfg)
		}
	})
	m.v.WatchConfig()
}
