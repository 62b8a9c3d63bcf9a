package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/brand"
	"github.com/lyndonlyu/sitereset/internal/core"
	"github.com/lyndonlyu/sitereset/internal/health"
	"github.com/lyndonlyu/sitereset/internal/precheck"
	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/retry"
	"github.com/lyndonlyu/sitereset/internal/theme"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the site can be reset",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Print JSON instead of a summary")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}
	site := reset.Site{Root: cfg.Site.Root, ContentDir: cfg.Site.ContentDir, Multisite: cfg.Site.Multisite}
	runner := precheck.DefaultRunner(precheck.Site{
		Root:      site.Root,
		Content:   site.Content(),
		DBPath:    cfg.DBPath(),
		Prefix:    cfg.Site.Prefix,
		StateDir:  cfg.StateDir(),
		LockPath:  cfg.LockPath(),
		Multisite: site.Multisite,
	})
	for _, c := range remoteChecks(cmd.Context()) {
		runner.Add(c)
	}
	checks := runner.Run()

	var report *health.Report
	if a, err := openApp(cfg, logger); err != nil {
		logger.Warn("health report skipped", "error", err)
	} else {
		report = a.health()
		a.Close()
	}

	if doctorJSON {
		out, err := json.MarshalIndent(map[string]any{"precheck": checks, "health": report}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(styleBanner.Render("sitereset doctor"))
		fmt.Println()
		fmt.Print(formatChecks(checks))
		if report != nil {
			fmt.Printf("\nHealth: %s\n\n", renderStatus(report.Level.String()))
			for _, c := range report.Components {
				fmt.Printf("  %s %-16s %-9s %s\n", mark(c.Healthy), c.Name, c.Category, c.Detail)
			}
		}
	}

	if !checks.AllPassed || report == nil || !report.Ready() {
		return errReported
	}
	return nil
}

const remotePrefix = "remote:"

// formatChecks prints local checks and remote probes as two sections.
func formatChecks(res precheck.RunResult) string {
	var local, remote strings.Builder
	for _, r := range res.Results {
		b, name := &local, r.Name
		if rest, ok := strings.CutPrefix(r.Name, remotePrefix); ok {
			b, name = &remote, rest
		}
		fmt.Fprintf(b, "  %s %-28s %s\n", mark(r.Passed), name, r.Message)
	}

	var out strings.Builder
	out.WriteString("Site\n")
	out.WriteString(local.String())
	if remote.Len() > 0 {
		out.WriteString("\nRemote\n")
		out.WriteString(remote.String())
	}
	if failed := len(res.Failures()); failed > 0 {
		fmt.Fprintf(&out, "\n%s (%s)\n",
			styleError.Render(fmt.Sprintf("%d of %d checks failed", failed, len(res.Results))), res.Duration)
	} else {
		fmt.Fprintf(&out, "\nAll %d checks passed (%s)\n", len(res.Results), res.Duration)
	}
	return out.String()
}

// remoteChecks probe the theme repository and the core endpoint the way
// the reset will use them. Transient failures are retried here so a blip
// does not fail the doctor; the reset itself calls each endpoint once.
func remoteChecks(ctx context.Context) []precheck.Check {
	if ctx == nil {
		ctx = context.Background()
	}
	client := &http.Client{
		Timeout:   cfg.RemoteTimeout(),
		Transport: retry.NewTransport(nil, retry.DefaultPolicy()),
	}
	slug := brand.Brand{ID: cfg.Brand.ID, Theme: cfg.Brand.Theme}.DefaultTheme()
	repo := &theme.Repository{BaseURL: cfg.Remote.ThemeRepository, Client: client}
	reinstaller := &core.Reinstaller{
		Root:     cfg.Site.Root,
		Endpoint: cfg.Remote.CoreEndpoint,
		Locale:   cfg.Site.Locale,
		Client:   client,
	}

	return []precheck.Check{
		precheck.CustomCheck{CheckName: remotePrefix + "theme", Fn: func() precheck.CheckResult {
			r := precheck.CheckResult{Name: remotePrefix + "theme"}
			info, err := repo.Info(ctx, slug)
			if err != nil {
				r.Message = fmt.Sprintf("default theme %s: %v", slug, err)
				return r
			}
			r.Passed = true
			r.Message = fmt.Sprintf("%s %s available", info.Name, info.Version)
			return r
		}},
		precheck.CustomCheck{CheckName: remotePrefix + "core", Fn: func() precheck.CheckResult {
			r := precheck.CheckResult{Name: remotePrefix + "core"}
			offers, err := reinstaller.Offers(ctx)
			switch {
			case err != nil:
				r.Message = err.Error()
			case len(offers) == 0:
				r.Message = "no offer for the installed version"
			default:
				r.Passed = true
				r.Message = "core " + offers[0].Current + " available"
			}
			return r
		}},
	}
}
