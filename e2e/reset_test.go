package e2e_test

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resetOutput struct {
	Success bool                       `json:"success"`
	RunID   string                     `json:"run_id"`
	Errors  []string                   `json:"errors"`
	Steps   map[string]json.RawMessage `json:"steps"`
}

func TestResetNowInChildProcess(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run("reset", "now", "--confirm", siteURL, "--json")
	require.Equal(t, 0, code, "reset now should exit 0; stderr=%s", stderr)

	var out resetOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.RunID)
	assert.Len(t, out.Steps, 17)
	assert.Contains(t, out.Steps, "reset_database")

	assert.False(t, env.fileExists(filepath.Join(env.Root, "wp-content", "mu-plugins", "cache.php")), "mu plugin removed")
	assert.False(t, env.fileExists(filepath.Join(env.Root, "wp-content", "object-cache.php")), "drop-in removed")
	assert.False(t, env.fileExists(filepath.Join(env.Root, "wp-content", "plugins", "seo", "seo.php")), "third-party plugin removed")
	assert.True(t, env.fileExists(filepath.Join(env.Root, "wp-content", "plugins", "brand", "brand.php")), "brand plugin kept")
	assert.True(t, env.fileExists(filepath.Join(env.Root, "wp-content", "themes", "fresh", "style.css")), "default theme installed")

	stdout, _, code = env.run("runs", "list", "--format", "json")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, out.RunID)
	assert.Contains(t, stdout, "COMPLETED")

	stdout, _, code = env.run("audit", "verify")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "Hash chain OK")

	stdout, _, code = env.run("runs", "show", out.RunID, "--format", "json")
	require.Equal(t, 0, code)
	assert.Contains(t, stdout, "reset_database")
}

func TestResetConfirmationMismatch(t *testing.T) {
	env := newTestEnv(t)

	_, stderr, code := env.run("reset", "now", "--confirm", "https://other.example", "--in-process")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "confirmation")
	assert.True(t, env.fileExists(filepath.Join(env.Root, "wp-content", "plugins", "seo", "seo.php")), "nothing removed")
}

func TestPrepareThenExecute(t *testing.T) {
	env := newTestEnv(t)

	stdout, stderr, code := env.run("reset", "prepare", "--confirm", siteURL, "--json")
	require.Equal(t, 0, code, "prepare should exit 0; stderr=%s", stderr)
	var prep struct {
		RunID string `json:"run_id"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &prep), stdout)
	require.NotEmpty(t, prep.Token)

	stdout, stderr, code = env.run("reset", "execute", "--token", prep.Token, "--in-process", "--json")
	require.Equal(t, 0, code, "execute should exit 0; stderr=%s", stderr)
	var out resetOutput
	require.NoError(t, json.Unmarshal([]byte(stdout), &out), stdout)
	assert.True(t, out.Success)
	assert.Equal(t, prep.RunID, out.RunID)

	_, stderr, code = env.run("reset", "execute", "--token", prep.Token, "--in-process")
	assert.Equal(t, 1, code, "a token runs once")
	assert.True(t, strings.Contains(stderr, "expired"), stderr)
}
