// Dynamic loading of decoder and device plugins built with -buildmode=plugin.
// This is only available on Linux and requires the plugindyn build tag.
//go:build plugindyn && linux

package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// LoadDynamicPlugins loads .so plugins from dir into r. If dir is empty,
// SOUNDMIX_PLUGIN_PATH is used, then /usr/local/lib/soundmix/plugins.
// Each plugin must export RegisterPlugins func(*Registry) error.
func LoadDynamicPlugins(r *Registry, dir string) (int, error) {
	if dir == "" {
		dir = os.Getenv("SOUNDMIX_PLUGIN_PATH")
		if dir == "" {
			dir = "/usr/local/lib/soundmix/plugins"
		}
	}

	// a missing directory just means no plugins
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.so"))
	if err != nil {
		return 0, fmt.Errorf("search for plugin files in %s: %w", dir, err)
	}

	loaded := 0
	for _, f := range files {
		if err := loadPlugin(r, f); err != nil {
			return loaded, fmt.Errorf("load plugin %s: %w", f, err)
		}
		loaded++
	}

	if loaded > 0 {
		slog.Info("loaded dynamic plugins", "count", loaded, "directory", dir)
	}
	return loaded, nil
}

func loadPlugin(r *Registry, file string) error {
	p, err := plugin.Open(file)
	if err != nil {
		return fmt.Errorf("open plugin file: %w", err)
	}

	sym, err := p.Lookup("RegisterPlugins")
	if err != nil {
		return fmt.Errorf("plugin does not export RegisterPlugins: %w", err)
	}

	register, ok := sym.(func(*Registry) error)
	if !ok {
		return fmt.Errorf("RegisterPlugins has signature %T, want func(*plugin.Registry) error", sym)
	}
	if err := register(r); err != nil {
		return fmt.Errorf("plugin registration failed: %w", err)
	}

	slog.Info("loaded plugin", "name", strings.TrimSuffix(filepath.Base(file), ".so"), "file", file)
	return nil
}
