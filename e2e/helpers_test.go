package e2e_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/sitedb"
)

const siteURL = "https://example.com"

// TestEnv is an isolated site, state directory and fake remote for one
// test.
type TestEnv struct {
	Home   string // temp HOME; state lives in ~/.sitereset
	Root   string // site root
	Config string // config.yaml path
	Remote *httptest.Server
	T      *testing.T
}

// newTestEnv creates a fully initialised test environment:
//   - a site root with core files, a brand plugin and an installed database
//   - a fake theme repository and core version-check endpoint
//   - config.yaml pointing at both
func newTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	home := t.TempDir()
	root := t.TempDir()
	e := &TestEnv{Home: home, Root: root, T: t}

	e.writeSite("wp-includes/version.php", "<?php\n$wp_version = '6.5.2';\n")
	e.writeSite("index.php", "<?php // modified")
	e.writeSite("wp-content/plugins/brand/brand.php", "<?php\n/*\nPlugin Name: Brand\n*/\n")
	e.writeSite("wp-content/plugins/seo/seo.php", "<?php\n/*\nPlugin Name: SEO\n*/\n")
	e.writeSite("wp-content/mu-plugins/cache.php", "<?php // mu")
	e.writeSite("wp-content/object-cache.php", "<?php // drop-in")
	e.writeSite("wp-content/themes/astra/style.css", "/*\nTheme Name: Astra\n*/\n")
	e.writeSite("wp-content/uploads/2024/01/photo.jpg", "jpeg")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := sitedb.Open(filepath.Join(root, "site.db"), "wp_", logger)
	require.NoError(t, err)
	_, err = db.Install(context.Background(), sitedb.InstallRequest{
		Title: "Old Site", Login: "admin", Email: "admin@example.com", Public: true,
		Locale: "en_US", SiteURL: siteURL, Theme: "astra",
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	e.Remote = fakeRemote(t)
	e.Config = filepath.Join(home, ".sitereset", "config.yaml")
	e.writeFile(e.Config, fmt.Sprintf(`site:
  root: %q
  table_prefix: wp_
brand:
  id: bluehost
  plugin: brand/brand.php
  theme: fresh
remote:
  theme_repository: %q
  core_endpoint: %q
  timeout: 10
server:
  token: e2e-token
notify:
  spool: true
state_dir: %q
`, root, e.Remote.URL, e.Remote.URL+"/version-check", filepath.Join(home, ".sitereset")))
	return e
}

func (e *TestEnv) writeSite(rel, body string) {
	e.writeFile(filepath.Join(e.Root, rel), body)
}

func (e *TestEnv) writeFile(path, body string) {
	e.T.Helper()
	require.NoError(e.T, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(e.T, os.WriteFile(path, []byte(body), 0644))
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// fakeRemote serves the "fresh" theme and a 6.5.2 core package.
func fakeRemote(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/themes/info/1.2/":
			slug := r.URL.Query().Get("request[slug]")
			if slug != "fresh" {
				json.NewEncoder(w).Encode(map[string]string{"error": "Theme not found"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"slug": slug, "name": "Fresh", "version": "1.0",
				"download_link": srv.URL + "/fresh.zip",
			})
		case "/fresh.zip":
			w.Write(zipOf(t, map[string]string{"fresh/style.css": "/*\nTheme Name: Fresh\n*/\n"}))
		case "/version-check":
			json.NewEncoder(w).Encode(map[string]any{"offers": []map[string]string{{
				"response": "upgrade", "current": "6.5.2", "locale": "en_US",
				"download": srv.URL + "/core.zip",
			}}})
		case "/core.zip":
			w.Write(zipOf(t, map[string]string{
				"wordpress/index.php":               "<?php // fresh",
				"wordpress/wp-includes/version.php": "<?php\n$wp_version = '6.5.2';\n",
			}))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// run executes the compiled sitereset binary against this environment.
func (e *TestEnv) run(args ...string) (stdout, stderr string, exitCode int) {
	e.T.Helper()

	cmd := exec.Command(siteresetBin, append([]string{"--config", e.Config}, args...)...)
	cmd.Dir = e.Root
	cmd.Env = []string{
		"HOME=" + e.Home,
		"PATH=" + os.Getenv("PATH"),
		"NO_COLOR=1",
	}

	var outBuf, errBuf strings.Builder
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()

	exitCode = 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return outBuf.String(), errBuf.String(), exitCode
}

// fileExists returns true if path exists and is not a directory.
func (e *TestEnv) fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func (e *TestEnv) stateDir() string {
	return filepath.Join(e.Home, ".sitereset")
}

func (e *TestEnv) disabledPath() string {
	return filepath.Join(e.stateDir(), "RESETS_DISABLED")
}

// ---------------------------------------------------------------------------
// Smoke test
// ---------------------------------------------------------------------------

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	stdout, stderr, code := env.run("version")

	if code != 0 {
		t.Fatalf("sitereset version exited %d; stderr: %s", code, stderr)
	}
	if !strings.Contains(stdout, "sitereset") {
		t.Fatalf("expected 'sitereset' in version output, got: %s", stdout)
	}
}
