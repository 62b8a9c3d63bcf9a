package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/lyndonlyu/sitereset/internal/audit"
	"github.com/lyndonlyu/sitereset/internal/auth"
	"github.com/lyndonlyu/sitereset/internal/brand"
	"github.com/lyndonlyu/sitereset/internal/config"
	"github.com/lyndonlyu/sitereset/internal/core"
	"github.com/lyndonlyu/sitereset/internal/guard"
	"github.com/lyndonlyu/sitereset/internal/health"
	"github.com/lyndonlyu/sitereset/internal/hooks"
	"github.com/lyndonlyu/sitereset/internal/killswitch"
	"github.com/lyndonlyu/sitereset/internal/metrics"
	"github.com/lyndonlyu/sitereset/internal/notify"
	"github.com/lyndonlyu/sitereset/internal/options"
	"github.com/lyndonlyu/sitereset/internal/orchestrator"
	"github.com/lyndonlyu/sitereset/internal/plugin"
	"github.com/lyndonlyu/sitereset/internal/redact"
	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/session"
	"github.com/lyndonlyu/sitereset/internal/sitedb"
	"github.com/lyndonlyu/sitereset/internal/sitefs"
	"github.com/lyndonlyu/sitereset/internal/statedb"
	"github.com/lyndonlyu/sitereset/internal/theme"
)

// app holds everything a command needs for one site.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	site     *sitedb.DB
	state    *statedb.DB
	options  *options.SQLStore
	audit    *audit.Logger
	mail     *notify.Dispatcher
	actions  *hooks.Registry
	warnings *hooks.Warnings
	metrics  *metrics.Recorder
	sw       *killswitch.Switch
	svc      *reset.Service
}

func openApp(c *config.Config, logger *slog.Logger) (*app, error) {
	if err := c.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	a := &app{
		cfg:      c,
		logger:   logger,
		actions:  hooks.NewRegistry(),
		warnings: hooks.NewWarnings(logger),
		metrics:  metrics.New(),
		sw:       killswitch.InDir(c.StateDir()),
	}

	var err error
	if a.site, err = sitedb.Open(c.DBPath(), c.Site.Prefix, logger); err != nil {
		return nil, err
	}
	if a.state, err = statedb.Open(c.StateDBPath()); err != nil {
		a.site.Close()
		return nil, err
	}
	if a.audit, err = audit.NewLogger(c.AuditDir()); err != nil {
		a.Close()
		return nil, err
	}
	a.audit.SetRedactor(redact.New(c.Redaction))
	a.options = options.NewSQLStore(a.site.SQL(), a.site.Prefix())

	a.mail = notify.NewDispatcher()
	if c.Notify.Spool {
		if err := a.mail.RegisterChannel(notify.NewSpoolChannel(c.SpoolPath())); err != nil {
			a.Close()
			return nil, err
		}
		a.mail.AddRule(notify.Rule{EventType: "*", MinLevel: c.Notify.Level, Channel: "spool"})
	}
	if c.Notify.Stderr {
		if err := a.mail.RegisterChannel(notify.NewWriterChannel("stderr", os.Stderr)); err != nil {
			a.Close()
			return nil, err
		}
		a.mail.AddRule(notify.Rule{EventType: "*", MinLevel: c.Notify.Level, Channel: "stderr"})
	}
	a.site.Mailer = a.mail

	a.actions.Add(hooks.Activate, "log", func(args ...any) {
		logger.Info("plugin activated", "plugin", args)
	})
	a.actions.Add(hooks.Shutdown, "prune-handoffs", func(...any) {
		if n, err := a.state.PruneHandoffs(); err != nil {
			logger.Warn("handoff prune failed", "error", err)
		} else if n > 0 {
			logger.Debug("expired handoffs pruned", "count", n)
		}
	})

	a.svc = a.service()
	return a, nil
}

func (a *app) identity() auth.Identity {
	if actAs == "" {
		return auth.SystemIdentity{}
	}
	return &auth.UserIdentity{Users: a.site, Login: actAs, Logger: a.logger}
}

func (a *app) service() *reset.Service {
	c := a.cfg
	client := &http.Client{Timeout: c.RemoteTimeout()}
	site := reset.Site{Root: c.Site.Root, ContentDir: c.Site.ContentDir, Multisite: c.Site.Multisite}

	fs, err := sitefs.Open(c.Site.Root)
	var siteFS sitefs.FS
	if err == nil {
		siteFS = fs
	}

	plugins := plugin.NewRegistry(site.Plugins(), siteFS, a.options, a.actions)
	plugins.SetWarnings(a.warnings)

	return &reset.Service{
		Identity: a.identity(),
		Site:     site,
		Options:  a.options,
		Plugins:  plugins,
		Themes: theme.NewManager(site.Themes(), siteFS, a.options, &theme.Repository{
			BaseURL: c.Remote.ThemeRepository,
			Client:  client,
		}),
		DB: a.site,
		Core: &core.Reinstaller{
			Root:       c.Site.Root,
			ContentDir: site.Content(),
			Endpoint:   c.Remote.CoreEndpoint,
			Locale:     c.Site.Locale,
			Client:     client,
			Logger:     a.logger,
		},
		Sessions: session.New(a.site, c.SessionPath()),
		Guard: &guard.Guard{
			Mail:     a.mail,
			DB:       a.site,
			Warnings: a.warnings,
			Actions:  a.actions,
			Logger:   a.logger,
		},
		Brand: brand.Brand{
			ID:       c.Brand.ID,
			Name:     c.Brand.Name,
			Basename: c.Brand.Basename,
			Theme:    c.Brand.Theme,
		},
		KeepPatterns: c.KeepPatterns,
		Warnings:     a.warnings,
		Logger:       a.logger,
	}
}

// trail returns the audit observer for runID.
func (a *app) trail(runID string) reset.Observer {
	return &audit.Trail{Log: a.audit, RunID: runID, Logger: a.logger}
}

// orchestrator runs phase two through exec, or in this process when exec
// is nil.
func (a *app) orchestrator(exec reset.Executor) *orchestrator.Orchestrator {
	if exec == nil {
		exec = reset.InProcess{Service: a.svc, Observe: a.trail}
	}
	return &orchestrator.Orchestrator{
		Service:  a.svc,
		Executor: exec,
		Runs:     a.state,
		Observe:  a.trail,
		Metrics:  a.metrics,
		Notify:   a.mail,
		Switch:   a.sw,
		LockPath: a.cfg.LockPath(),
		Logger:   a.logger,
	}
}

// childExecutor re-runs this binary for phase two.
func (a *app) childExecutor() (*reset.ProcessExecutor, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	args := []string{"--config", configPath, "--log-level", a.cfg.LogLevel}
	if actAs != "" {
		args = append(args, "--as", actAs)
	}
	return &reset.ProcessExecutor{
		Path:   self,
		Args:   append(args, "reset", "execute", "--payload", "-"),
		Env:    os.Environ(),
		Stderr: os.Stderr,
	}, nil
}

func (a *app) health() *health.Report {
	return health.Evaluate(health.Inputs{
		AuditDir: a.cfg.AuditDir(),
		StateDir: a.cfg.StateDir(),
		SiteDB:   a.site.SQL().Ping,
		StateDB:  a.state.Ping,
		SiteURL:  a.svc.SiteURL,
		Switch:   a.sw,
	})
}

// Close runs the shutdown hooks and closes both databases.
func (a *app) Close() {
	if a.actions != nil {
		a.actions.Do(hooks.Shutdown)
	}
	if a.state != nil {
		a.state.Close()
	}
	if a.site != nil {
		a.site.Close()
	}
}
