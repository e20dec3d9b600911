// Package plugin provides a registry of named factories for the pluggable parts
// of the mixer: asset decoders, speech synthesizers and output devices. Packages
// that provide an implementation register it from init(), and the loader, the
// CLI and the manager look implementations up by kind and name.
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Plugin kinds.
const (
	KindDecoder = "decoder"
	KindSynth   = "synth"
	KindDevice  = "device"
)

// Factory creates a new instance from configuration. The returned value is
// asserted to the interface of its kind by the caller (see Build).
type Factory func(cfg map[string]any) (any, error)

// Plugin represents a registered plugin with its metadata.
type Plugin struct {
	Kind        string         // "decoder", "synth", "device"
	Name        string         // e.g. "wav", "openai", "speaker"
	Factory     Factory        // creates instances
	Description string         // human-readable description
	Extensions  []string       // file extensions handled by a decoder, lower-case with dot
	Config      map[string]any // documented configuration keys and defaults
}

// Registry manages plugin registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]map[string]*Plugin // [kind][name] -> Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]map[string]*Plugin)}
}

// Default is the process-wide registry that init() functions register into.
var Default = NewRegistry()

// Register adds a plugin to the default registry.
// Panics if a plugin with the same kind and name is already registered.
func Register(kind, name string, factory Factory) {
	Default.Register(kind, name, factory)
}

// RegisterWithMetadata adds a plugin with metadata to the default registry.
func RegisterWithMetadata(p *Plugin) {
	Default.RegisterWithMetadata(p)
}

// Get retrieves a plugin factory from the default registry.
func Get(kind, name string) (Factory, bool) {
	return Default.Get(kind, name)
}

// List returns plugins of a kind from the default registry, or all of them
// when kind is empty.
func List(kind string) []*Plugin {
	return Default.List(kind)
}

// Register adds a plugin to this registry.
// Panics if a plugin with the same kind and name is already registered.
func (r *Registry) Register(kind, name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Kind: kind, Name: name, Factory: factory})
}

// RegisterWithMetadata adds a plugin with metadata to this registry.
// Registration mistakes are programming errors, so they panic.
func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Kind == "" {
		panic("plugin kind cannot be empty")
	}
	if p.Name == "" {
		panic("plugin name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.plugins[p.Kind] == nil {
		r.plugins[p.Kind] = make(map[string]*Plugin)
	}
	if _, exists := r.plugins[p.Kind][p.Name]; exists {
		panic(fmt.Sprintf("plugin %s/%s already registered", p.Kind, p.Name))
	}
	r.plugins[p.Kind][p.Name] = p
}

// Get retrieves a plugin factory.
func (r *Registry) Get(kind, name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind][name]
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// ForExtension finds the plugin of kind that declares the file extension ext.
// The match is case-insensitive and the leading dot is optional.
func (r *Registry) ForExtension(kind, ext string) (*Plugin, bool) {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	for _, p := range r.List(kind) {
		for _, e := range p.Extensions {
			if e == ext {
				return p, true
			}
		}
	}
	return nil, false
}

// List returns the plugins of a kind sorted by name, or every plugin sorted by
// kind then name when kind is empty.
func (r *Registry) List(kind string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var plugins []*Plugin
	for k, byName := range r.plugins {
		if kind != "" && k != kind {
			continue
		}
		for _, p := range byName {
			plugins = append(plugins, p)
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		if plugins[i].Kind != plugins[j].Kind {
			return plugins[i].Kind < plugins[j].Kind
		}
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// ListKinds returns all registered kinds in sorted order.
func (r *Registry) ListKinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.plugins))
	for kind := range r.plugins {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Clear removes all plugins. This is primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]map[string]*Plugin)
}

// Build creates an instance of the named plugin and asserts it to T.
func Build[T any](r *Registry, kind, name string, cfg map[string]any) (T, error) {
	var zero T

	factory, ok := r.Get(kind, name)
	if !ok {
		return zero, fmt.Errorf("no %s plugin named %q", kind, name)
	}

	v, err := factory(cfg)
	if err != nil {
		return zero, fmt.Errorf("create %s/%s: %w", kind, name, err)
	}

	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%s/%s produced %T, not the expected type", kind, name, v)
	}
	return t, nil
}
