// Package reset runs a factory reset in two phases. Prepare runs while the
// full site is loaded: it captures the values to keep, installs the default
// theme and strips everything that would load code into the next process.
// Execute runs in a fresh process and performs the destructive work.
// The preservation payload is the only state passed between them.
package reset

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lyndonlyu/sitereset/internal/auth"
	"github.com/lyndonlyu/sitereset/internal/brand"
	"github.com/lyndonlyu/sitereset/internal/options"
	"github.com/lyndonlyu/sitereset/internal/plugin"
	"github.com/lyndonlyu/sitereset/internal/preserve"
	"github.com/lyndonlyu/sitereset/internal/session"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
	"github.com/lyndonlyu/sitereset/internal/step"
	"github.com/lyndonlyu/sitereset/internal/theme"
)

// Phase names passed to observers.
const (
	PhasePrepare = "prepare"
	PhaseExecute = "execute"
)

// Step names in execution order.
const (
	StepInstallTheme       = "install_theme"
	StepDeactivatePlugins  = "deactivate_plugins"
	StepRemoveMUPlugins    = "remove_mu_plugins"
	StepRemoveDropins      = "remove_dropins"
	StepHardenEnvironment  = "harden_environment"
	StepStagingCleanup     = "staging_cleanup"
	StepRemovePlugins      = "remove_plugins"
	StepRemoveThemes       = "remove_themes"
	StepCleanWPContent     = "clean_wp_content"
	StepCleanUploads       = "clean_uploads"
	StepResetDatabase      = "reset_database"
	StepRestoreNFDData     = "restore_nfd_data"
	StepRestoreValues      = "restore_values"
	StepReinstallCore      = "reinstall_core"
	StepReinstallTheme     = "reinstall_theme"
	StepVerifyFreshInstall = "verify_fresh_install"
	StepRestoreSession     = "restore_session"
)

const (
	MsgUnauthorized = "Unauthorized. You must be an administrator to perform a factory reset."
	MsgMultisite    = "Factory reset is not supported on multisite installations."
	MsgNoFilesystem = "Unable to initialize the site filesystem."
	MsgThemeAbort   = "Failed to install the default theme. Reset aborted with no changes made."
	MsgConfirmation = "The confirmation URL does not match your website URL."
)

// ErrConfirmation is returned by ResetNow when the confirmation URL does not
// match the site URL.
var ErrConfirmation = errors.New("reset: confirmation url does not match site url")

// PreparationError is returned by ResetNow when prepare fails.
type PreparationError struct {
	Errors []string
}

func (e *PreparationError) Error() string {
	if len(e.Errors) == 0 {
		return "Failed to prepare for reset."
	}
	return strings.Join(e.Errors, " ")
}

type Plugins interface {
	Installed() ([]plugin.Plugin, error)
	SetActive(basenames []string) error
	Activate(basename string) error
	Delete(basename string) error
}

type Themes interface {
	Installed() ([]theme.Theme, error)
	Exists(slug string) bool
	Switch(slug string) error
	Delete(slug string) error
	Install(ctx context.Context, slug string) error
}

// Database is the schema, user and post access the reset needs.
type Database interface {
	Tables() ([]string, error)
	DropTable(name string) error
	SetForeignKeyChecks(on bool) error
	ResetSchemaVersion() error
	Install(ctx context.Context, req sitedb.InstallRequest) (sitedb.InstallResult, error)
	UserByID(id int64) (*sitedb.User, error)
	UserByLogin(login string) (*sitedb.User, error)
	FirstAdmin() (*sitedb.User, error)
	CountUsers() (int, error)
	SetPasswordHash(id int64, hash string) error
	DeleteUserMeta(id int64, key string) error
	OldestPost() (*sitedb.Post, error)
	NewestPost() (*sitedb.Post, error)
}

type Core interface {
	Reinstall(ctx context.Context) ([]string, error)
}

type Sessions interface {
	Clear() error
	Issue(userID int64) (*session.Session, error)
}

// Environment is hardened for the destructive phase.
type Environment interface {
	Harden() step.Result
	Restore()
}

// Observer is told about every finished step.
// Warner receives non-fatal warnings raised by steps.
type Warner interface {
	Warn(msg string, args ...any)
}

type Observer interface {
	StepFinished(phase, name string, r step.Result, elapsed time.Duration)
}

// Observers fans a step out to several observers.
type Observers []Observer

func (o Observers) StepFinished(phase, name string, r step.Result, elapsed time.Duration) {
	for _, obs := range o {
		if obs != nil {
			obs.StepFinished(phase, name, r, elapsed)
		}
	}
}

// Service wires the collaborators of one site.
type Service struct {
	Identity auth.Identity
	Site     Site
	OpenFS   func(root string) (sitefs.FS, error)
	Options  options.Store
	Plugins  Plugins
	Themes   Themes
	DB       Database
	Core     Core
	Sessions Sessions
	Guard    Environment
	Brand    brand.Brand
	// KeepPatterns are extra doublestar patterns, relative to the content
	// root, that clean_wp_content leaves in place.
	KeepPatterns []string
	Observer     Observer
	// Warnings is shared with Guard so a hardened run swallows step
	// warnings. Nil logs them.
	Warnings Warner
	Logger   *slog.Logger
	Now      func() time.Time
}

// PreparationResult is the outcome of Prepare. Data and Steps are only
// meaningful when Success is true.
type PreparationResult struct {
	Success bool             `json:"success"`
	Data    preserve.Payload `json:"data"`
	Steps   *step.Log        `json:"steps"`
	Errors  []string         `json:"errors"`
}

// Handoff is what crosses from prepare to execute.
type Handoff struct {
	Data  preserve.Payload `json:"data"`
	Steps *step.Log        `json:"steps"`
}

// Handoff returns the part of a successful preparation execute needs.
func (p PreparationResult) Handoff() Handoff {
	return Handoff{Data: p.Data, Steps: p.Steps}
}

// Report is the outcome of Execute.
type Report struct {
	Success bool      `json:"success"`
	Steps   *step.Log `json:"steps"`
	Errors  []string  `json:"errors"`
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) warn(msg string, args ...any) {
	if s.Warnings != nil {
		s.Warnings.Warn(msg, args...)
		return
	}
	s.logger().Warn(msg, args...)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type bareEnvironment struct{}

func (bareEnvironment) Harden() step.Result { return step.OK("Site ready to be reset.") }
func (bareEnvironment) Restore()            {}

func (s *Service) env() Environment {
	if s.Guard == nil {
		return bareEnvironment{}
	}
	return s.Guard
}

func (s *Service) openFS() (sitefs.FS, error) {
	if s.OpenFS == nil {
		return sitefs.Open(s.Site.Root)
	}
	return s.OpenFS(s.Site.Root)
}

func failedPreparation(errs ...string) PreparationResult {
	return PreparationResult{Steps: step.NewLog(), Errors: errs}
}

// run executes one step, records it in log and notifies the observer.
func (s *Service) run(log *step.Log, phase, name string, fn step.Func) step.Result {
	start := time.Now()
	r := step.Run(fn)
	elapsed := time.Since(start)

	attrs := []any{"phase", phase, "step", name, "success", r.Success, "elapsed", elapsed}
	if r.Message != "" {
		attrs = append(attrs, "message", r.Message)
	}
	if r.Success {
		s.logger().Info("step finished", attrs...)
	} else {
		s.logger().Warn("step failed", attrs...)
	}
	if s.Observer != nil {
		s.Observer.StepFinished(phase, name, r, elapsed)
	}
	if err := log.Append(name, r); err != nil {
		s.logger().Warn("step result not recorded", "step", name, "error", err)
	}
	return r
}

func (s *Service) actingUser() (*sitedb.User, error) {
	if id := s.Identity.CurrentUserID(); id != 0 {
		return s.DB.UserByID(id)
	}
	// Non-interactive callers act as the lowest-id administrator.
	return s.DB.FirstAdmin()
}

// Prepare runs phase one. Only a failing precondition or a failed theme
// install aborts it; the later steps are recorded whatever their outcome.
func (s *Service) Prepare(ctx context.Context) PreparationResult {
	if s.Identity == nil || !s.Identity.IsAuthorizedAdmin() {
		return failedPreparation(MsgUnauthorized)
	}
	if s.Site.Multisite {
		return failedPreparation(MsgMultisite)
	}
	fs, err := s.openFS()
	if err != nil {
		s.logger().Error("filesystem unavailable", "root", s.Site.Root, "error", err)
		return failedPreparation(MsgNoFilesystem)
	}

	user, err := s.actingUser()
	if err != nil {
		return failedPreparation("Could not determine the administrator performing the reset: " + err.Error())
	}
	data, err := preserve.Capture(s.Options, user, s.Brand)
	if err != nil {
		return failedPreparation("Could not capture values to preserve: " + err.Error())
	}
	basename := data.BrandBasename
	if basename == "" {
		basename = s.Brand.Basename
	}

	log := step.NewLog()
	slug := s.Brand.DefaultTheme()
	gate := s.run(log, PhasePrepare, StepInstallTheme, step.Of(func() step.Result {
		return s.ensureTheme(ctx, slug)
	}))
	if !gate.Success {
		return failedPreparation(MsgThemeAbort, StepInstallTheme+": "+gate.Message)
	}

	s.run(log, PhasePrepare, StepDeactivatePlugins, func() (any, error) {
		active := []string{}
		if basename != "" {
			active = append(active, basename)
		}
		if err := s.Plugins.SetActive(active); err != nil {
			return nil, err
		}
		return step.OK("Third-party plugins deactivated."), nil
	})
	s.run(log, PhasePrepare, StepRemoveMUPlugins, func() (any, error) {
		return s.removeMUPlugins(fs)
	})
	s.run(log, PhasePrepare, StepRemoveDropins, func() (any, error) {
		return s.removeDropins(fs)
	})

	return PreparationResult{Success: true, Data: data, Steps: log, Errors: []string{}}
}

// Execute runs phase two with the payload from Prepare, appending to prior.
// Every step runs; only reset_database decides Report.Success.
func (s *Service) Execute(ctx context.Context, data preserve.Payload, prior *step.Log) Report {
	log := prior.Clone()
	fs, fsErr := s.openFS()
	withFS := func(fn func(sitefs.FS) (step.Result, error)) step.Func {
		return func() (any, error) {
			if fsErr != nil {
				return nil, fsErr
			}
			return fn(fs)
		}
	}

	env := s.env()
	s.run(log, PhaseExecute, StepHardenEnvironment, step.Of(env.Harden))
	defer env.Restore()

	s.run(log, PhaseExecute, StepStagingCleanup, step.Of(func() step.Result {
		return step.OK("Staging data will be cleared with database reset.")
	}))
	s.run(log, PhaseExecute, StepRemovePlugins, func() (any, error) {
		return s.removePlugins(data.BrandBasename)
	})
	s.run(log, PhaseExecute, StepRemoveThemes, func() (any, error) {
		return s.removeThemes()
	})
	s.run(log, PhaseExecute, StepCleanWPContent, withFS(s.cleanWPContent))
	s.run(log, PhaseExecute, StepCleanUploads, withFS(s.cleanUploads))

	dbResult := s.run(log, PhaseExecute, StepResetDatabase, func() (any, error) {
		return s.resetDatabase(ctx, data)
	})
	s.run(log, PhaseExecute, StepRestoreNFDData, func() (any, error) {
		r, err := preserve.Restore(s.Options, data, s.now())
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	s.run(log, PhaseExecute, StepRestoreValues, func() (any, error) {
		return s.restoreValues(dbResult, data)
	})
	s.run(log, PhaseExecute, StepReinstallCore, step.Of(func() step.Result {
		return s.reinstallCore(ctx)
	}))
	s.run(log, PhaseExecute, StepReinstallTheme, func() (any, error) {
		return s.reinstallTheme(ctx)
	})
	s.run(log, PhaseExecute, StepVerifyFreshInstall, func() (any, error) {
		return s.verifyFreshInstall()
	})

	userID, ok := dbResult.Int("user_id")
	if !ok || userID == 0 {
		userID = 1
	}
	s.run(log, PhaseExecute, StepRestoreSession, func() (any, error) {
		return s.restoreSession(userID)
	})

	return BuildReport(log)
}

// BuildReport derives the report of a finished step log.
func BuildReport(log *step.Log) Report {
	errs := log.Failures()
	if errs == nil {
		errs = []string{}
	}
	db, _ := log.Get(StepResetDatabase)
	return Report{Success: db.Success, Steps: log, Errors: errs}
}

// ConfirmURL reports whether submitted names the site at expected. Trailing
// slashes are ignored on both sides; anything else must match exactly.
func ConfirmURL(expected, submitted string) bool {
	want := strings.TrimRight(expected, "/")
	return want != "" && want == strings.TrimRight(submitted, "/")
}

// SiteURL is the URL confirmations are checked against.
func (s *Service) SiteURL() (string, error) {
	return s.Options.Get("home", "")
}

// ResetNow checks the confirmation URL against the home option, then
// prepares and executes in one call.
func (s *Service) ResetNow(ctx context.Context, confirmationURL string) (Report, error) {
	home, err := s.SiteURL()
	if err != nil {
		return Report{}, err
	}
	if !ConfirmURL(home, confirmationURL) {
		return Report{}, ErrConfirmation
	}
	prep := s.Prepare(ctx)
	if !prep.Success {
		return Report{}, &PreparationError{Errors: prep.Errors}
	}
	return s.Execute(ctx, prep.Data, prep.Steps), nil
}
