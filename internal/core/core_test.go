package core

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coreZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string]string{
		"wordpress/index.php":                    "<?php // fresh",
		"wordpress/wp-includes/version.php":      "<?php $wp_version = '6.5.2';",
		"wordpress/wp-content/plugins/hello.php": "<?php // sample",
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newSite(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "wp-includes"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "wp-content"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "wp-includes", "version.php"),
		[]byte("<?php\n$wp_version = '6.5.2';\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.php"), []byte("<?php // modified"), 0644))
	return root
}

func versionServer(t *testing.T, offers []Offer) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/version-check":
			for i := range offers {
				if offers[i].Download == "" {
					offers[i].Download = srv.URL + "/core.zip"
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"offers": offers})
		case "/core.zip":
			w.Write(coreZip(t))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInstalledVersion(t *testing.T) {
	r := &Reinstaller{Root: newSite(t)}
	v, err := r.InstalledVersion()
	require.NoError(t, err)
	assert.Equal(t, "6.5.2", v)

	_, err = (&Reinstaller{Root: t.TempDir()}).InstalledVersion()
	assert.Error(t, err)
}

func TestOffersFilterByVersion(t *testing.T) {
	srv := versionServer(t, []Offer{
		{Response: "upgrade", Current: "6.6"},
		{Response: "latest", Current: "6.5.2"},
	})
	r := &Reinstaller{Root: newSite(t), Endpoint: srv.URL + "/version-check", Client: srv.Client()}

	offers, err := r.Offers(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "6.5.2", offers[0].Current)
}

func TestReinstallLeavesContentAlone(t *testing.T) {
	srv := versionServer(t, []Offer{{Response: "latest", Current: "6.5.2"}})
	root := newSite(t)
	r := &Reinstaller{
		Root:       root,
		ContentDir: filepath.Join(root, "wp-content"),
		Endpoint:   srv.URL + "/version-check",
		Client:     srv.Client(),
	}

	feedback, err := r.Reinstall(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, feedback)

	data, err := os.ReadFile(filepath.Join(root, "index.php"))
	require.NoError(t, err)
	assert.Equal(t, "<?php // fresh", string(data))
	assert.NoFileExists(t, filepath.Join(root, "wp-content", "plugins", "hello.php"))
}

func TestReinstallNoOffers(t *testing.T) {
	srv := versionServer(t, nil)
	r := &Reinstaller{Root: newSite(t), Endpoint: srv.URL + "/version-check", Client: srv.Client()}

	_, err := r.Reinstall(context.Background())
	assert.ErrorIs(t, err, ErrNoOffers)
}

func TestReinstallCollectsInstallerErrors(t *testing.T) {
	srv := versionServer(t, []Offer{{Response: "latest", Current: "6.5.2", Download: "http://127.0.0.1:1/none.zip"}})
	root := newSite(t)
	r := &Reinstaller{Root: root, ContentDir: filepath.Join(root, "wp-content"),
		Endpoint: srv.URL + "/version-check", Client: srv.Client()}

	_, err := r.Reinstall(context.Background())
	var rerr *ReinstallError
	require.ErrorAs(t, err, &rerr)
	assert.Contains(t, err.Error(), "Core reinstall failed: download failed")
}
