// Package sitefs is the filesystem abstraction used by reset steps. All paths
// are absolute; the OS implementation refuses to touch anything outside the
// root it was opened on.
package sitefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the filesystem root.
var ErrOutsideRoot = errors.New("sitefs: path outside root")

// Entry describes one directory entry.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// FS is the set of filesystem operations reset steps rely on.
type FS interface {
	Exists(path string) bool
	IsDir(path string) bool
	// List returns the direct children of dir sorted by name.
	List(dir string) ([]Entry, error)
	// Delete removes path. Directories require recursive.
	Delete(path string, recursive bool) error
	MkdirAll(path string) error
}

// OS implements FS on the local disk below Root.
type OS struct {
	Root string
}

// Open verifies that root is an existing, writable directory and returns an
// FS confined to it.
func Open(root string) (*OS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("sitefs: resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("sitefs: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sitefs: root %s is not a directory", abs)
	}
	probe, err := os.CreateTemp(abs, ".sitefs-probe-*")
	if err != nil {
		return nil, fmt.Errorf("sitefs: root %s is not writable: %w", abs, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return &OS{Root: abs}, nil
}

func (f *OS) check(path string) (string, error) {
	clean := filepath.Clean(path)
	if clean == f.Root {
		return clean, nil
	}
	if !strings.HasPrefix(clean, f.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return clean, nil
}

func (f *OS) Exists(path string) bool {
	p, err := f.check(path)
	if err != nil {
		return false
	}
	_, err = os.Lstat(p)
	return err == nil
}

func (f *OS) IsDir(path string) bool {
	p, err := f.check(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

func (f *OS) List(dir string) ([]Entry, error) {
	p, err := f.check(dir)
	if err != nil {
		return nil, err
	}
	des, err := os.ReadDir(p)
	if err != nil {
		return nil, fmt.Errorf("sitefs: list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		e := Entry{Name: de.Name(), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (f *OS) Delete(path string, recursive bool) error {
	p, err := f.check(path)
	if err != nil {
		return err
	}
	if p == f.Root {
		return fmt.Errorf("sitefs: refusing to delete root %s", p)
	}
	info, err := os.Lstat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("sitefs: delete %s: %w", path, err)
	}
	if info.IsDir() && !recursive {
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("sitefs: delete %s: %w", path, err)
		}
		return nil
	}
	if err := os.RemoveAll(p); err != nil {
		return fmt.Errorf("sitefs: delete %s: %w", path, err)
	}
	return nil
}

func (f *OS) MkdirAll(path string) error {
	p, err := f.check(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p, 0755); err != nil {
		return fmt.Errorf("sitefs: mkdir %s: %w", path, err)
	}
	return nil
}
