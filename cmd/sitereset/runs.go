package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/audit"
	"github.com/lyndonlyu/sitereset/internal/statedb"
)

var (
	runsFormat string
	runsLimit  int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Reset run history",
}

var runsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state database status",
	RunE:  runRunsStatus,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent reset runs",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its audited steps",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsListCmd.Flags().StringVar(&runsFormat, "format", "", "Output format (json)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 10, "Number of runs to show")
	runsShowCmd.Flags().StringVar(&runsFormat, "format", "", "Output format (json)")
	runsCmd.AddCommand(runsStatusCmd, runsListCmd, runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStateDB() (*statedb.DB, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return statedb.Open(cfg.StateDBPath())
}

func runRunsStatus(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, handoffs, err := db.Counts()
	if err != nil {
		return err
	}
	fmt.Print(statedb.FormatStatus(db.Path(), runs, handoffs))
	return nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.ListRuns(runsLimit)
	if err != nil {
		return err
	}

	if runsFormat == "json" {
		out, err := statedb.FormatRunListJSON(runs)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		fmt.Print(statedb.FormatRunList(runs))
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	run, err := db.GetRun(args[0])
	if err != nil {
		return fmt.Errorf("run %s: %w", args[0], err)
	}
	trail, err := audit.NewLogger(cfg.AuditDir())
	if err != nil {
		return err
	}
	records, err := trail.ForRun(run.ID)
	if err != nil {
		return err
	}

	if runsFormat == "json" {
		out, err := json.MarshalIndent(map[string]any{"run": run, "steps": records}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(styleBanner.Render("Run " + run.ID))
	fmt.Printf("  Origin:  %s\n", run.Origin)
	fmt.Printf("  Status:  %s\n", renderStatus(run.Status))
	fmt.Printf("  Started: %s\n", run.StartedAt)
	if run.EndedAt != "" {
		fmt.Printf("  Ended:   %s\n", run.EndedAt)
	}
	fmt.Printf("  Steps:   %d (%d errors)\n", run.StepCount, run.ErrorCount)
	if run.Message != "" {
		fmt.Printf("  Message: %s\n", run.Message)
	}
	if len(records) == 0 {
		fmt.Println(styleDim.Render("\nNo audited steps."))
		return nil
	}
	fmt.Println()
	for _, r := range records {
		fmt.Printf("  %-4s %-8s %-24s %8s  %s\n",
			mark(r.Outcome == audit.OutcomeOK), r.Phase, r.Step,
			(time.Duration(r.DurationMs) * time.Millisecond).String(), r.Message)
	}
	return nil
}
