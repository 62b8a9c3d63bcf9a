// Package theme manages installed themes: discovery, the active theme
// options, removal and installation from the package repository.
package theme

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lyndonlyu/sitereset/internal/options"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
	"github.com/lyndonlyu/sitereset/internal/upgrader"
)

var ErrNotInstalled = errors.New("theme: not installed")

// InfoError reports a failed repository lookup.
type InfoError struct {
	Slug string
	Err  error
}

func (e *InfoError) Error() string {
	return "Could not fetch theme information: " + e.Err.Error()
}

func (e *InfoError) Unwrap() error { return e.Err }

// Theme is an installed theme directory.
type Theme struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

var headerRe = regexp.MustCompile(`^[\s/*#@]*(Theme Name|Version):\s*(.+?)\s*(\*/)?$`)

func readStylesheet(path, slug string) (*Theme, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t := Theme{Slug: slug}
	sc := bufio.NewScanner(io.LimitReader(f, 8<<10))
	for sc.Scan() {
		if m := headerRe.FindStringSubmatch(sc.Text()); m != nil {
			switch m[1] {
			case "Theme Name":
				t.Name = m[2]
			case "Version":
				t.Version = m[2]
			}
		}
	}
	if t.Name == "" {
		t.Name = slug
	}
	return &t, sc.Err()
}

// Manager operates on one themes directory.
type Manager struct {
	dir    string
	fs     sitefs.FS
	opts   options.Store
	repo   *Repository
	client *http.Client
}

// NewManager returns a Manager. repo may be nil when installs are not needed.
func NewManager(themesDir string, fs sitefs.FS, opts options.Store, repo *Repository) *Manager {
	m := &Manager{dir: themesDir, fs: fs, opts: opts, repo: repo, client: http.DefaultClient}
	if repo != nil && repo.Client != nil {
		m.client = repo.Client
	}
	return m
}

// Dir returns the themes directory.
func (m *Manager) Dir() string { return m.dir }

func validSlug(slug string) bool {
	return slug != "" && slug != "." && slug != ".." && !strings.ContainsAny(slug, `/\`)
}

// Installed lists theme directories that contain a style.css.
func (m *Manager) Installed() ([]Theme, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("theme: scan %s: %w", m.dir, err)
	}
	var themes []Theme
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		t, err := readStylesheet(filepath.Join(m.dir, e.Name(), "style.css"), e.Name())
		if err != nil {
			continue
		}
		themes = append(themes, *t)
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].Slug < themes[j].Slug })
	return themes, nil
}

// Exists reports whether slug is installed.
func (m *Manager) Exists(slug string) bool {
	if !validSlug(slug) {
		return false
	}
	return m.fs.Exists(filepath.Join(m.dir, slug, "style.css"))
}

// Active returns the active stylesheet slug.
func (m *Manager) Active() (string, error) {
	return m.opts.Get("stylesheet", "")
}

// Switch makes slug the active theme.
func (m *Manager) Switch(slug string) error {
	if !m.Exists(slug) {
		return fmt.Errorf("theme: switch to %s: %w", slug, ErrNotInstalled)
	}
	for _, name := range []string{"template", "stylesheet"} {
		if err := m.opts.Set(name, slug); err != nil {
			return fmt.Errorf("theme: switch to %s: %w", slug, err)
		}
	}
	return nil
}

// Delete removes a theme directory.
func (m *Manager) Delete(slug string) error {
	if !validSlug(slug) {
		return fmt.Errorf("theme: invalid slug %q", slug)
	}
	dir := filepath.Join(m.dir, slug)
	if !m.fs.Exists(dir) {
		return fmt.Errorf("theme: delete %s: %w", slug, ErrNotInstalled)
	}
	if err := m.fs.Delete(dir, true); err != nil {
		return fmt.Errorf("theme: delete %s: %w", slug, err)
	}
	return nil
}

// Install fetches slug from the repository and unpacks it into the themes
// directory. Installer feedback is collected silently; the returned error
// carries everything the installer reported.
func (m *Manager) Install(ctx context.Context, slug string) error {
	if !validSlug(slug) {
		return fmt.Errorf("theme: invalid slug %q", slug)
	}
	if m.repo == nil {
		return errors.New("theme: no package repository configured")
	}
	info, err := m.repo.Info(ctx, slug)
	if err != nil {
		return &InfoError{Slug: slug, Err: err}
	}
	if err := m.fs.MkdirAll(m.dir); err != nil {
		return err
	}

	skin := upgrader.NewSilent()
	up := upgrader.New(m.client, skin)
	if err := up.Install(ctx, info.DownloadLink, m.dir, upgrader.UnpackOptions{}); err != nil {
		if serr := skin.Err(); serr != nil {
			return serr
		}
		return err
	}
	if !m.Exists(slug) {
		return fmt.Errorf("theme: %s: package did not contain a theme", slug)
	}
	return nil
}
