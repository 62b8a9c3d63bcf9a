package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/config"
	"github.com/lyndonlyu/sitereset/internal/precheck"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestGCPolicy(t *testing.T) {
	saved := cfg
	defer func() { cfg = saved; gcRunDays, gcAuditDay, gcDryRun = 0, 0, false }()

	cfg = config.Default()
	cfg.Retention.RunDays = 30
	cfg.Retention.AuditDays = 0

	p := gcPolicy()
	assert.Equal(t, 30, p.MaxRunDays)
	assert.Equal(t, 90, p.MaxAuditDays)
	assert.False(t, p.DryRun)

	gcAuditDay, gcDryRun = 7, true
	p = gcPolicy()
	assert.Equal(t, 7, p.MaxAuditDays)
	assert.True(t, p.DryRun)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"reset", "now"},
		{"reset", "prepare"},
		{"reset", "execute"},
		{"runs", "list"},
		{"runs", "show"},
		{"audit", "verify"},
		{"serve"},
		{"doctor"},
		{"gc"},
		{"disable"},
		{"enable"},
		{"version"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestExecutePayloadHidden(t *testing.T) {
	f := resetExecuteCmd.Flags().Lookup("payload")
	require.NotNil(t, f)
	assert.True(t, f.Hidden)
}

func TestFormatChecksGroupsRemoteProbes(t *testing.T) {
	res := precheck.RunResult{
		Results: []precheck.CheckResult{
			{Name: "lock", Passed: true, Message: "no reset in progress"},
			{Name: "remote:theme", Message: "default theme fresh: 404"},
			{Name: "remote:core", Passed: true, Message: "core 6.5.2 available"},
		},
		Duration: "3ms",
	}
	out := formatChecks(res)

	site, remote, ok := strings.Cut(out, "\nRemote\n")
	require.True(t, ok, out)
	assert.Contains(t, site, "lock")
	assert.NotContains(t, site, "theme")
	assert.Contains(t, remote, "theme")
	assert.NotContains(t, remote, "remote:")
	assert.Contains(t, remote, "1 of 3 checks failed (3ms)")

	res.Results = res.Results[:1]
	out = formatChecks(res)
	assert.NotContains(t, out, "Remote")
	assert.Contains(t, out, "All 1 checks passed")
}
