package precheck

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/lyndonlyu/sitereset/internal/filelock"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
)

// Check is the interface for environment validation checks.
type Check interface {
	Name() string
	Run() CheckResult
}

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// RunResult holds the aggregate outcome of all checks.
type RunResult struct {
	AllPassed bool          `json:"all_passed"`
	Results   []CheckResult `json:"results"`
	Duration  string        `json:"duration"`
}

// Failures returns the results that did not pass, in run order.
func (r RunResult) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Runner manages and executes a collection of checks.
type Runner struct {
	mu     sync.RWMutex
	checks []Check
}

// NewRunner creates an empty runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Add appends a check to the runner (thread-safe).
func (r *Runner) Add(c Check) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks = append(r.checks, c)
}

// Run executes all checks sequentially, times execution, and returns RunResult.
func (r *Runner) Run() RunResult {
	r.mu.RLock()
	checks := make([]Check, len(r.checks))
	copy(checks, r.checks)
	r.mu.RUnlock()

	start := time.Now()
	var results []CheckResult
	allPassed := true
	for _, c := range checks {
		result := c.Run()
		results = append(results, result)
		if !result.Passed {
			allPassed = false
		}
	}
	return RunResult{
		AllPassed: allPassed,
		Results:   results,
		Duration:  time.Since(start).String(),
	}
}

// Checks returns the names of all registered checks.
func (r *Runner) Checks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.checks))
	for i, c := range r.checks {
		names[i] = c.Name()
	}
	return names
}

// Site describes the install a reset would run against.
type Site struct {
	Root      string
	Content   string
	DBPath    string
	Prefix    string
	StateDir  string
	LockPath  string
	Multisite bool
}

// DefaultRunner creates a runner with the standard checks for site.
func DefaultRunner(site Site) *Runner {
	r := NewRunner()
	r.Add(DirCheck{Dir: site.Root})
	r.Add(DirCheck{Dir: site.Content})
	r.Add(FileCheck{Path: site.DBPath, Desc: "site database"})
	r.Add(SchemaCheck{DBPath: site.DBPath, Prefix: site.Prefix})
	r.Add(WritableCheck{Dir: site.Root})
	r.Add(WritableCheck{Dir: site.StateDir})
	r.Add(CustomCheck{CheckName: "single-site", Fn: func() CheckResult {
		if site.Multisite {
			return CheckResult{Name: "single-site", Passed: false, Message: "multisite installations cannot be reset"}
		}
		return CheckResult{Name: "single-site", Passed: true, Message: "OK"}
	}})
	r.Add(LockCheck{Path: site.LockPath})
	return r
}

// ---------- Built-in checks ----------

// DirCheck validates that a directory exists.
type DirCheck struct {
	Dir string
}

func (c DirCheck) Name() string { return "dir:" + c.Dir }
func (c DirCheck) Run() CheckResult {
	info, err := os.Stat(c.Dir)
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("directory not found: %s", c.Dir)}
	}
	if !info.IsDir() {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("not a directory: %s", c.Dir)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// FileCheck validates that a file exists.
type FileCheck struct {
	Path string
	Desc string
}

func (c FileCheck) Name() string { return "file:" + c.Desc }
func (c FileCheck) Run() CheckResult {
	_, err := os.Stat(c.Path)
	if err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: fmt.Sprintf("file not found: %s", c.Path)}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// WritableCheck validates that a directory accepts new files.
type WritableCheck struct {
	Dir string
}

func (c WritableCheck) Name() string { return "writable:" + c.Dir }
func (c WritableCheck) Run() CheckResult {
	if _, err := sitefs.Open(c.Dir); err != nil {
		return CheckResult{Name: c.Name(), Passed: false, Message: err.Error()}
	}
	return CheckResult{Name: c.Name(), Passed: true, Message: "OK"}
}

// LockCheck fails while a live process holds the reset lock.
type LockCheck struct {
	Path string
}

func (c LockCheck) Name() string { return "lock" }
func (c LockCheck) Run() CheckResult {
	if _, err := os.Stat(c.Path + ".meta"); err != nil || filelock.IsStale(c.Path) {
		return CheckResult{Name: c.Name(), Passed: true, Message: "no reset in progress"}
	}
	meta, _ := filelock.ReadMeta(c.Path)
	return CheckResult{Name: c.Name(), Passed: false,
		Message: fmt.Sprintf("reset %s in progress (PID %d)", meta.Holder, meta.PID)}
}

// SchemaCheck fails unless the site database carries the full baseline
// schema. A missing database is reported, never created.
type SchemaCheck struct {
	DBPath string
	Prefix string
}

func (c SchemaCheck) Name() string { return "site-schema" }
func (c SchemaCheck) Run() CheckResult {
	res := CheckResult{Name: c.Name()}
	if _, err := os.Stat(c.DBPath); err != nil {
		res.Message = "site database not found"
		return res
	}
	db, err := sitedb.Open(c.DBPath, c.Prefix, nil)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	defer db.Close()

	current, latest, err := db.SchemaStatus()
	switch {
	case err != nil:
		res.Message = err.Error()
	case current < latest:
		res.Message = fmt.Sprintf("schema v%d, %d migration(s) behind v%d", current, latest-current, latest)
	default:
		res.Passed = true
		res.Message = fmt.Sprintf("schema v%d", current)
	}
	return res
}

// CustomCheck wraps an arbitrary function as a check.
type CustomCheck struct {
	CheckName string
	Fn        func() CheckResult
}

func (c CustomCheck) Name() string { return c.CheckName }
func (c CustomCheck) Run() CheckResult { return c.Fn() }
