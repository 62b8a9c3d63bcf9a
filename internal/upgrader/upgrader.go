package upgrader

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Upgrader fetches package archives and unpacks them onto disk.
type Upgrader struct {
	Client *http.Client
	Skin   Skin
	// TempDir holds downloads; empty means os.TempDir().
	TempDir string
}

// New returns an Upgrader reporting to skin.
func New(client *http.Client, skin Skin) *Upgrader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Upgrader{Client: client, Skin: skin}
}

// UnpackOptions control how an archive is laid out on disk.
type UnpackOptions struct {
	// StripRoot drops the archive's single top-level directory.
	StripRoot bool
	// Exclude lists doublestar patterns (relative, after stripping) that are
	// not written.
	Exclude []string
}

// Download fetches url into a temporary file and returns its path. The
// caller removes the file.
func (u *Upgrader) Download(ctx context.Context, url string) (string, error) {
	u.Skin.Feedback("Downloading package from <span class=\"code\">%s</span>&#8230;", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", u.fail(fmt.Errorf("download failed: %w", err))
	}
	resp, err := u.Client.Do(req)
	if err != nil {
		return "", u.fail(fmt.Errorf("download failed: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", u.fail(fmt.Errorf("download failed: %s", resp.Status))
	}

	f, err := os.CreateTemp(u.TempDir, "package-*.zip")
	if err != nil {
		return "", u.fail(fmt.Errorf("download failed: %w", err))
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", u.fail(fmt.Errorf("download failed: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", u.fail(fmt.Errorf("download failed: %w", err))
	}
	return f.Name(), nil
}

// Unpack extracts the zip archive at src into dest.
func (u *Upgrader) Unpack(src, dest string, opts UnpackOptions) error {
	u.Skin.Feedback("Unpacking the package&#8230;")
	zr, err := zip.OpenReader(src)
	if err != nil {
		return u.fail(fmt.Errorf("incompatible archive: %w", err))
	}
	defer zr.Close()

	root := ""
	if opts.StripRoot {
		root = commonRoot(zr.File)
	}
	destAbs, err := filepath.Abs(dest)
	if err != nil {
		return u.fail(err)
	}

	for _, f := range zr.File {
		name := strings.TrimPrefix(f.Name, root)
		if name == "" || name == "/" {
			continue
		}
		rel := strings.TrimSuffix(name, "/")
		if excluded(rel, opts.Exclude) {
			continue
		}
		target := filepath.Join(destAbs, filepath.FromSlash(name))
		if target != destAbs && !strings.HasPrefix(target, destAbs+string(filepath.Separator)) {
			return u.fail(fmt.Errorf("illegal path in archive: %s", f.Name))
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return u.fail(fmt.Errorf("could not create directory %s: %w", rel, err))
			}
			continue
		}
		if err := writeFile(f, target); err != nil {
			return u.fail(fmt.Errorf("could not copy file %s: %w", rel, err))
		}
	}
	return nil
}

// Install downloads url and unpacks it into dest.
func (u *Upgrader) Install(ctx context.Context, url, dest string, opts UnpackOptions) error {
	path, err := u.Download(ctx, url)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	if err := u.Unpack(path, dest, opts); err != nil {
		return err
	}
	u.Skin.Feedback("<strong>Installed successfully.</strong>")
	return nil
}

func (u *Upgrader) fail(err error) error {
	u.Skin.Error(err)
	return err
}

func excluded(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// commonRoot returns "dir/" when every entry lives below one top-level
// directory, else "".
func commonRoot(files []*zip.File) string {
	root := ""
	for _, f := range files {
		first, _, found := strings.Cut(f.Name, "/")
		if !found {
			return ""
		}
		if root == "" {
			root = first
		} else if root != first {
			return ""
		}
	}
	if root == "" {
		return ""
	}
	return root + "/"
}

func writeFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
