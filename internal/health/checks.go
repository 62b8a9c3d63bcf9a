package health

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyndonlyu/sitereset/internal/audit"
	"github.com/lyndonlyu/sitereset/internal/killswitch"
)

// Inputs are the things Evaluate looks at. Nil pings and an empty SiteURL
// func are reported as unhealthy.
type Inputs struct {
	AuditDir string
	StateDir string
	SiteDB   func() error
	StateDB  func() error
	SiteURL  func() (string, error)
	Switch   *killswitch.Switch
}

// CheckAuditChain verifies the integrity of the audit hash chain.
func CheckAuditChain(dir string) ComponentStatus {
	cs := ComponentStatus{Name: "audit_chain", Category: Critical}

	logger, err := audit.NewLogger(dir)
	if err != nil {
		cs.Detail = fmt.Sprintf("Failed to open audit log: %v", err)
		return cs
	}

	valid, n, err := logger.Verify()
	if err != nil {
		cs.Detail = fmt.Sprintf("Verification error: %v", err)
		return cs
	}
	if !valid {
		cs.Detail = fmt.Sprintf("Hash chain broken at record %d", n)
		return cs
	}

	cs.Healthy = true
	cs.Detail = "Hash chain intact"
	return cs
}

// CheckDatabase pings a database.
func CheckDatabase(name string, ping func() error) ComponentStatus {
	cs := ComponentStatus{Name: name, Category: Critical}
	if ping == nil {
		cs.Detail = "Not configured"
		return cs
	}
	if err := ping(); err != nil {
		cs.Detail = fmt.Sprintf("Unreachable: %v", err)
		return cs
	}
	cs.Healthy = true
	cs.Detail = "Reachable"
	return cs
}

// CheckSiteURL checks that the site has a URL for confirmations to match.
func CheckSiteURL(siteURL func() (string, error)) ComponentStatus {
	cs := ComponentStatus{Name: "site_url", Category: Important}
	if siteURL == nil {
		cs.Detail = "Not configured"
		return cs
	}
	u, err := siteURL()
	switch {
	case err != nil:
		cs.Detail = fmt.Sprintf("Lookup failed: %v", err)
	case u == "":
		cs.Detail = "Empty; confirmations cannot match"
	default:
		cs.Healthy = true
		cs.Detail = u
	}
	return cs
}

// CheckKillSwitch reports an active kill switch as degraded.
func CheckKillSwitch(sw *killswitch.Switch) ComponentStatus {
	cs := ComponentStatus{Name: "kill_switch", Category: Important}
	if sw != nil && sw.IsActive() {
		cs.Detail = "ACTIVE; use 'sitereset enable' to allow resets"
		if reason := sw.Reason(); reason != "" {
			cs.Detail += " (" + reason + ")"
		}
		return cs
	}
	cs.Healthy = true
	cs.Detail = "Not active"
	return cs
}

// CheckDirWritable tests whether a directory exists and is writable by
// creating and removing a temp file.
func CheckDirWritable(dir, name, category string) ComponentStatus {
	cs := ComponentStatus{Name: name, Category: category}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			cs.Detail = "Missing"
		} else {
			cs.Detail = fmt.Sprintf("Stat error: %v", err)
		}
		return cs
	}
	if !info.IsDir() {
		cs.Detail = "Not a directory"
		return cs
	}

	tmp := filepath.Join(dir, ".health_check_tmp")
	if err := os.WriteFile(tmp, []byte("ok"), 0644); err != nil {
		cs.Detail = "Not writable"
		return cs
	}
	os.Remove(tmp)

	cs.Healthy = true
	cs.Detail = "Writable"
	return cs
}

// Evaluate runs every component check.
func Evaluate(in Inputs) *Report {
	return NewReport([]ComponentStatus{
		CheckDatabase("site_database", in.SiteDB),
		CheckDatabase("state_database", in.StateDB),
		CheckAuditChain(in.AuditDir),
		CheckSiteURL(in.SiteURL),
		CheckKillSwitch(in.Switch),
		CheckDirWritable(in.StateDir, "state_dir", Important),
		CheckDirWritable(in.AuditDir, "audit_dir", Optional),
	})
}
