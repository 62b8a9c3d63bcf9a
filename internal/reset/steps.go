package reset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/lyndonlyu/sitereset/internal/core"
	"github.com/lyndonlyu/sitereset/internal/plugin"
	"github.com/lyndonlyu/sitereset/internal/preserve"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
	"github.com/lyndonlyu/sitereset/internal/step"
	"github.com/lyndonlyu/sitereset/internal/theme"
)

// ensureTheme installs slug from the repository unless it is present.
func (s *Service) ensureTheme(ctx context.Context, slug string) step.Result {
	if s.Themes.Exists(slug) {
		return step.OK("Theme already installed.")
	}
	if err := s.Themes.Install(ctx, slug); err != nil {
		var infoErr *theme.InfoError
		if errors.As(err, &infoErr) {
			return step.Fail("%s", infoErr.Error())
		}
		return step.Fail("Theme installation failed: %s", err.Error())
	}
	return step.OK("Theme installed successfully.")
}

// removeAll deletes the direct children of dir and reports the count with
// noun, e.g. "MU plugin file(s)/folder(s)".
func removeAll(fs sitefs.FS, dir string, entries []sitefs.Entry, noun string) step.Result {
	removed := 0
	var failed []string
	for _, e := range entries {
		if err := fs.Delete(filepath.Join(dir, e.Name), true); err != nil {
			failed = append(failed, e.Name)
			continue
		}
		removed++
	}
	if len(failed) > 0 {
		return step.Fail("Removed %d of %d %s. Failed to remove: %s",
			removed, removed+len(failed), noun, strings.Join(failed, ", "))
	}
	return step.OK("Removed %d %s.", removed, noun)
}

func (s *Service) removeMUPlugins(fs sitefs.FS) (step.Result, error) {
	dir := s.Site.MUPlugins()
	if !fs.IsDir(dir) {
		return step.OK("No MU plugins directory found."), nil
	}
	entries, err := fs.List(dir)
	if err != nil {
		return step.Result{}, err
	}
	return removeAll(fs, dir, entries, "MU plugin file(s)/folder(s)"), nil
}

func (s *Service) removeDropins(fs sitefs.FS) (step.Result, error) {
	removed := 0
	var failed []string
	for _, name := range Dropins {
		path := filepath.Join(s.Site.Content(), name)
		if !fs.Exists(path) {
			continue
		}
		if err := fs.Delete(path, false); err != nil {
			failed = append(failed, name)
			continue
		}
		removed++
	}
	if len(failed) > 0 {
		return step.Fail("Removed %d of %d drop-in file(s). Failed to remove: %s",
			removed, removed+len(failed), strings.Join(failed, ", ")), nil
	}
	return step.OK("Removed %d drop-in file(s).", removed), nil
}

func (s *Service) removePlugins(protected string) (step.Result, error) {
	installed, err := s.Plugins.Installed()
	if err != nil {
		return step.Result{}, err
	}
	// Siblings of the protected plugin share its directory; deleting one
	// would delete the protected plugin too.
	protectedDir := plugin.Plugin{Basename: protected}.Dir()
	var targets []string
	for _, p := range installed {
		if p.Basename == protected || (protectedDir != "" && p.Dir() == protectedDir) {
			continue
		}
		targets = append(targets, p.Basename)
	}
	if len(targets) == 0 {
		return step.OK("No third-party plugins to remove."), nil
	}

	removed := 0
	var failed []string
	for _, basename := range targets {
		// A plugin sharing a directory with an earlier target is already gone.
		if err := s.Plugins.Delete(basename); err != nil && !errors.Is(err, plugin.ErrNotInstalled) {
			s.warn("plugin not removed", "plugin", basename, "error", err)
			failed = append(failed, basename)
			continue
		}
		removed++
	}
	if len(failed) > 0 {
		return step.Fail("Removed %d of %d plugin(s). Failed to remove: %s",
			removed, removed+len(failed), strings.Join(failed, ", ")), nil
	}
	return step.OK("Removed %d plugin(s).", removed), nil
}

func (s *Service) removeThemes() (step.Result, error) {
	keep := s.Brand.DefaultTheme()
	if err := s.Themes.Switch(keep); err != nil {
		s.warn("default theme not activated", "theme", keep, "error", err)
	}
	installed, err := s.Themes.Installed()
	if err != nil {
		return step.Result{}, err
	}

	removed := 0
	var failed []string
	for _, t := range installed {
		if t.Slug == keep {
			continue
		}
		if err := s.Themes.Delete(t.Slug); err != nil {
			failed = append(failed, t.Slug+": "+err.Error())
			continue
		}
		removed++
	}
	if len(failed) > 0 {
		return step.Fail("Removed %d of %d theme(s). Failed to remove: %s",
			removed, removed+len(failed), strings.Join(failed, "; ")), nil
	}
	return step.OK("Removed %d theme(s).", removed), nil
}

func (s *Service) keep(name string) bool {
	if slices.Contains(ContentAllowList, name) {
		return true
	}
	for _, p := range s.KeepPatterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (s *Service) cleanWPContent(fs sitefs.FS) (step.Result, error) {
	dir := s.Site.Content()
	entries, err := fs.List(dir)
	if err != nil {
		return step.Result{}, err
	}
	var extra []sitefs.Entry
	for _, e := range entries {
		if !s.keep(e.Name) {
			extra = append(extra, e)
		}
	}
	return removeAll(fs, dir, extra, "extra wp-content item(s)"), nil
}

func (s *Service) cleanUploads(fs sitefs.FS) (step.Result, error) {
	base := s.Site.Uploads()
	if fs.IsDir(base) {
		entries, err := fs.List(base)
		if err != nil {
			return step.Result{}, err
		}
		if r := removeAll(fs, base, entries, "upload item(s)"); !r.Success {
			return r, nil
		}
	}
	if err := fs.MkdirAll(base); err != nil {
		return step.Result{}, err
	}
	return step.OK("Uploads directory cleaned."), nil
}

// resetDatabase drops every prefixed table and runs the installer. A failed
// new-site notification does not fail the step. It is not re-entrant: a run
// stopped between the drops and the install leaves no schema behind, and
// nothing here resumes it.
func (s *Service) resetDatabase(ctx context.Context, data preserve.Payload) (step.Result, error) {
	if err := s.DB.SetForeignKeyChecks(false); err != nil {
		return step.Result{}, err
	}
	tables, err := s.DB.Tables()
	if err != nil {
		_ = s.DB.SetForeignKeyChecks(true)
		return step.Result{}, err
	}
	var dropErrs []error
	for _, t := range tables {
		if err := s.DB.DropTable(t); err != nil {
			dropErrs = append(dropErrs, err)
		}
	}
	if err := s.DB.SetForeignKeyChecks(true); err != nil {
		dropErrs = append(dropErrs, err)
	}
	if len(dropErrs) > 0 {
		return step.Fail("Could not drop site tables: %s", errors.Join(dropErrs...).Error()).With("user_id", 0), nil
	}
	if err := s.DB.ResetSchemaVersion(); err != nil {
		return step.Result{}, err
	}

	siteURL := data.SiteURL
	if siteURL == "" {
		siteURL = data.Home
	}
	res, err := s.DB.Install(ctx, sitedb.InstallRequest{
		Title:   data.BlogName,
		Login:   data.UserLogin,
		Email:   data.UserEmail,
		Public:  data.BlogPublic == "1",
		Locale:  data.Locale,
		SiteURL: siteURL,
		Theme:   s.Brand.DefaultTheme(),
	})
	var notifyErr *sitedb.NotificationError
	switch {
	case errors.As(err, &notifyErr):
		userID := int64(1)
		if u, lookupErr := s.DB.UserByLogin(data.UserLogin); lookupErr == nil {
			userID = u.ID
		} else if notifyErr.UserID != 0 {
			userID = notifyErr.UserID
		}
		return step.OK("Database reset (email notification skipped: %s).", notifyErr.Err.Error()).
			With("user_id", userID), nil
	case err != nil:
		return step.Fail("Site install failed: %s", err.Error()).With("user_id", 0), nil
	}
	return step.OK("Database reset and WordPress reinstalled.").With("user_id", res.UserID), nil
}

// restoreValues puts the preserved admin credentials and URLs back and
// reactivates the protected plugin.
func (s *Service) restoreValues(dbResult step.Result, data preserve.Payload) (step.Result, error) {
	userID, ok := dbResult.Int("user_id")
	if !dbResult.Success || !ok || userID == 0 {
		return step.Fail("Cannot restore values: database reset did not complete."), nil
	}

	if data.UserPass != "" {
		if err := s.DB.SetPasswordHash(userID, data.UserPass); err != nil {
			return step.Result{}, err
		}
	}
	if err := s.DB.DeleteUserMeta(userID, "default_password_nag"); err != nil {
		return step.Result{}, err
	}
	for _, kv := range [][2]string{{"siteurl", data.SiteURL}, {"home", data.Home}} {
		if kv[1] == "" {
			continue
		}
		if err := s.Options.Set(kv[0], kv[1]); err != nil {
			return step.Result{}, err
		}
	}
	if err := s.Themes.Switch(s.Brand.DefaultTheme()); err != nil {
		s.warn("default theme not activated", "error", err)
	}
	if data.BrandBasename != "" {
		if err := s.Plugins.Activate(data.BrandBasename); err != nil {
			return step.Fail("Preserved values restored, but %s could not be activated: %s",
				data.BrandBasename, err.Error()), nil
		}
	}
	return step.OK("Preserved values restored."), nil
}

func (s *Service) reinstallCore(ctx context.Context) step.Result {
	if s.Core == nil {
		return step.Fail("No core update offers available.")
	}
	_, err := s.Core.Reinstall(ctx)
	var reinstallErr *core.ReinstallError
	switch {
	case errors.Is(err, core.ErrNoOffers):
		return step.Fail("No core update offers available.")
	case errors.As(err, &reinstallErr):
		return step.Fail("%s", reinstallErr.Error())
	case err != nil:
		return step.Fail("%s", err.Error())
	}
	return step.OK("WordPress core reinstalled.")
}

// reinstallTheme replaces the default theme with a fresh download.
func (s *Service) reinstallTheme(ctx context.Context) (step.Result, error) {
	slug := s.Brand.DefaultTheme()
	if err := s.Themes.Delete(slug); err != nil && !errors.Is(err, theme.ErrNotInstalled) {
		return step.Fail("Theme reinstall failed: %s", err.Error()), nil
	}
	if r := s.ensureTheme(ctx, slug); !r.Success {
		return step.Fail("Theme reinstall failed: %s", r.Message), nil
	}
	if err := s.Themes.Switch(slug); err != nil {
		return step.Result{}, err
	}
	return step.OK("Default theme reinstalled."), nil
}

// verifyFreshInstall checks the site looks like a new install. Its outcome
// is diagnostic only.
func (s *Service) verifyFreshInstall() (step.Result, error) {
	var failures []string

	oldest, err := s.DB.OldestPost()
	if err != nil && !errors.Is(err, sitedb.ErrNotFound) {
		return step.Result{}, err
	}
	if oldest == nil || oldest.ID != 1 {
		failures = append(failures, "Oldest post ID is not 1")
	}
	newest, err := s.DB.NewestPost()
	if err != nil && !errors.Is(err, sitedb.ErrNotFound) {
		return step.Result{}, err
	}
	if oldest != nil && newest != nil && oldest.Modified != newest.Modified {
		failures = append(failures, "Oldest and newest posts have different modification times")
	}

	if _, err := s.DB.UserByID(1); err != nil {
		if !errors.Is(err, sitedb.ErrNotFound) {
			return step.Result{}, err
		}
		failures = append(failures, "User with ID 1 does not exist")
	}
	count, err := s.DB.CountUsers()
	if err != nil {
		return step.Result{}, err
	}
	if count != 1 {
		failures = append(failures, fmt.Sprintf("Expected 1 user, found %d", count))
	}

	if len(failures) > 0 {
		return step.Fail("Fresh install check failed: %s", strings.Join(failures, "; ")), nil
	}
	return step.OK("Site passes fresh install detection."), nil
}

func (s *Service) restoreSession(userID int64) (step.Result, error) {
	if s.Sessions == nil {
		return step.Fail("No session store configured."), nil
	}
	if err := s.Sessions.Clear(); err != nil {
		return step.Result{}, err
	}
	if _, err := s.Sessions.Issue(userID); err != nil {
		return step.Result{}, err
	}
	return step.OK("Session restored.").With("user_id", userID), nil
}
