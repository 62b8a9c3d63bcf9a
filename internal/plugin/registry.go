package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/lyndonlyu/sitereset/internal/hooks"
	"github.com/lyndonlyu/sitereset/internal/options"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
)

// ActiveOption is the option holding the JSON list of active basenames.
const ActiveOption = "active_plugins"

// ErrNotInstalled is returned by Delete when the plugin's files are already gone.
var ErrNotInstalled = errors.New("plugin: not installed")

type Registry struct {
	dir      string
	fs       sitefs.FS
	opts     options.Store
	hooks    *hooks.Registry
	warnings *hooks.Warnings
}

// NewRegistry returns a registry over pluginsDir. hooks may be nil.
func NewRegistry(pluginsDir string, fs sitefs.FS, opts options.Store, h *hooks.Registry) *Registry {
	return &Registry{dir: pluginsDir, fs: fs, opts: opts, hooks: h}
}

// SetWarnings routes scan warnings through w instead of dropping them.
func (r *Registry) SetWarnings(w *hooks.Warnings) { r.warnings = w }

// Dir returns the plugins directory.
func (r *Registry) Dir() string { return r.dir }

// Installed scans the plugins directory: top-level PHP files and PHP files
// one level down that carry a plugin header.
func (r *Registry) Installed() ([]Plugin, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: scan %s: %w", r.dir, err)
	}

	var plugins []Plugin
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.IsDir() {
			if filepath.Ext(name) != ".php" {
				continue
			}
			if p, err := LoadPlugin(filepath.Join(r.dir, name), name); err == nil {
				plugins = append(plugins, *p)
			}
			continue
		}
		sub, err := os.ReadDir(filepath.Join(r.dir, name))
		if err != nil {
			if r.warnings != nil {
				r.warnings.Warn("plugin directory unreadable", "dir", name, "error", err)
			}
			continue
		}
		for _, f := range sub {
			if f.IsDir() || filepath.Ext(f.Name()) != ".php" {
				continue
			}
			basename := name + "/" + f.Name()
			if p, err := LoadPlugin(filepath.Join(r.dir, name, f.Name()), basename); err == nil {
				plugins = append(plugins, *p)
			}
		}
	}

	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Basename < plugins[j].Basename
	})
	return plugins, nil
}

// Active returns the active plugin basenames.
func (r *Registry) Active() ([]string, error) {
	raw, err := r.opts.Get(ActiveOption, "")
	if err != nil {
		return nil, fmt.Errorf("plugin: read active list: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		// A corrupt list behaves like an empty one.
		return nil, nil
	}
	return list, nil
}

// SetActive replaces the active plugin list.
func (r *Registry) SetActive(basenames []string) error {
	if basenames == nil {
		basenames = []string{}
	}
	data, err := json.Marshal(basenames)
	if err != nil {
		return fmt.Errorf("plugin: encode active list: %w", err)
	}
	if err := r.opts.Set(ActiveOption, string(data)); err != nil {
		return fmt.Errorf("plugin: write active list: %w", err)
	}
	return nil
}

func (r *Registry) path(basename string) (string, error) {
	clean := path.Clean(basename)
	if basename == "" || clean != basename || strings.HasPrefix(clean, "../") || clean == ".." ||
		path.IsAbs(clean) || strings.Count(clean, "/") > 1 {
		return "", fmt.Errorf("plugin: invalid basename %q", basename)
	}
	return filepath.Join(r.dir, filepath.FromSlash(clean)), nil
}

// Activate adds basename to the active list and runs the activation hooks.
func (r *Registry) Activate(basename string) error {
	p, err := r.path(basename)
	if err != nil {
		return err
	}
	if !r.fs.Exists(p) || r.fs.IsDir(p) {
		return fmt.Errorf("plugin: %s: plugin file does not exist", basename)
	}
	active, err := r.Active()
	if err != nil {
		return err
	}
	if !slices.Contains(active, basename) {
		if err := r.SetActive(append(active, basename)); err != nil {
			return err
		}
	}
	if r.hooks != nil {
		r.hooks.Do(hooks.Activate, basename)
	}
	return nil
}

// Delete removes a plugin's files: its directory, or the single file.
// Deleting a directory also removes any sibling plugins inside it.
func (r *Registry) Delete(basename string) error {
	p, err := r.path(basename)
	if err != nil {
		return err
	}
	target := p
	if dir := (Plugin{Basename: basename}).Dir(); dir != "" {
		target = filepath.Join(r.dir, dir)
	}
	if !r.fs.Exists(target) {
		return fmt.Errorf("delete %s: %w", basename, ErrNotInstalled)
	}
	if err := r.fs.Delete(target, true); err != nil {
		return fmt.Errorf("plugin: delete %s: %w", basename, err)
	}
	return nil
}
