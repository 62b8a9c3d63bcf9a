package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/orchestrator"
	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/server"
	"github.com/lyndonlyu/sitereset/internal/statedb"
)

var (
	resetConfirm   string
	resetInProcess bool
	resetJSON      bool
	resetVerbose   bool
	executeToken   string
	executePayload string
	executeRunID   string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Factory reset the site",
}

var resetNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Prepare and execute a factory reset",
	Long: "Deactivates third-party plugins, removes MU plugins and drop-ins, then drops\n" +
		"the database, reinstalls core and restores the preserved values. Execution runs\n" +
		"in a fresh child process unless --in-process is given.",
	RunE: runResetNow,
}

var resetPrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Run the preparation phase and store a handoff token",
	RunE:  runResetPrepare,
}

var resetExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Run the destructive phase for a prepared handoff",
	RunE:  runResetExecute,
}

func init() {
	for _, c := range []*cobra.Command{resetNowCmd, resetPrepareCmd} {
		c.Flags().StringVar(&resetConfirm, "confirm", "", "Site URL, typed to confirm the reset")
	}
	for _, c := range []*cobra.Command{resetNowCmd, resetExecuteCmd} {
		c.Flags().BoolVar(&resetInProcess, "in-process", false, "Execute in this process instead of a child")
		c.Flags().BoolVar(&resetVerbose, "verbose", false, "Show every step, even after a clean reset")
	}
	for _, c := range []*cobra.Command{resetNowCmd, resetPrepareCmd, resetExecuteCmd} {
		c.Flags().BoolVar(&resetJSON, "json", false, "Print JSON instead of a summary")
	}
	resetExecuteCmd.Flags().StringVar(&executeToken, "token", "", "Handoff token printed by 'reset prepare'")
	resetExecuteCmd.Flags().StringVar(&executePayload, "payload", "", "Read the handoff JSON from this file (- for stdin)")
	resetExecuteCmd.Flags().StringVar(&executeRunID, "run-id", "", "Run the handoff belongs to")
	resetExecuteCmd.Flags().MarkHidden("payload")
	resetExecuteCmd.Flags().MarkHidden("run-id")
	resetExecuteCmd.MarkFlagsMutuallyExclusive("token", "payload")
	resetExecuteCmd.MarkFlagsOneRequired("token", "payload")

	resetCmd.AddCommand(resetNowCmd, resetPrepareCmd, resetExecuteCmd)
	rootCmd.AddCommand(resetCmd)
}

// signalContext ignores interrupts once a reset is underway; a half-run
// reset is worse than a finished one.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		for range ch {
			logger.Warn("interrupt ignored while the reset runs")
		}
	}()
	return ctx, func() {
		signal.Stop(ch)
		close(ch)
		cancel()
	}
}

// confirmation returns --confirm or prompts for the site URL.
func confirmation(a *app) (string, error) {
	if resetConfirm != "" {
		return resetConfirm, nil
	}
	home, err := a.svc.SiteURL()
	if err != nil {
		return "", err
	}
	fmt.Println(styleWarning.Render("This will erase all content, plugins and themes of " + home + "."))
	fmt.Print("Type the site URL to confirm: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) executor() (reset.Executor, error) {
	if resetInProcess {
		return nil, nil
	}
	pe, err := a.childExecutor()
	if err != nil {
		return nil, err
	}
	return pe, nil
}

func printReport(runID string, rep reset.Report, brandName string) error {
	if resetJSON {
		out, err := json.MarshalIndent(server.ResetResponse{Report: rep, RunID: runID}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Println(renderMarkdown(reportMarkdown(runID, rep, brandName, resetVerbose)))
	}
	if !rep.Success {
		return errReported
	}
	return nil
}

func runResetNow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	url, err := confirmation(a)
	if err != nil {
		return err
	}
	exec, err := a.executor()
	if err != nil {
		return err
	}
	ctx, stop := signalContext()
	defer stop()

	runID, rep, err := a.orchestrator(exec).ResetNow(ctx, orchestrator.OriginCLI, url)
	var perr *reset.PreparationError
	switch {
	case errors.Is(err, reset.ErrConfirmation):
		return errors.New(reset.MsgConfirmation)
	case errors.As(err, &perr):
		fmt.Fprintln(os.Stderr, styleError.Render("Reset not started:"))
		for _, e := range perr.Errors {
			fmt.Fprintln(os.Stderr, "  "+e)
		}
		return errReported
	case err != nil:
		return err
	}
	return printReport(runID, rep, a.svc.Brand.Name)
}

func runResetPrepare(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	url, err := confirmation(a)
	if err != nil {
		return err
	}
	home, err := a.svc.SiteURL()
	if err != nil {
		return err
	}
	if !reset.ConfirmURL(home, url) {
		return errors.New(reset.MsgConfirmation)
	}

	ctx, stop := signalContext()
	defer stop()
	runID, prep, err := a.orchestrator(nil).Prepare(ctx, orchestrator.OriginCLI)
	if err != nil {
		return err
	}
	if !prep.Success {
		fmt.Fprintln(os.Stderr, styleError.Render("Preparation failed:"))
		for _, e := range prep.Errors {
			fmt.Fprintln(os.Stderr, "  "+e)
		}
		return errReported
	}

	payload, err := json.Marshal(prep.Handoff())
	if err != nil {
		return err
	}
	h, err := a.state.PutHandoff(runID, payload, cfg.HandoffTTL())
	if err != nil {
		return err
	}

	if resetJSON {
		out, err := json.MarshalIndent(map[string]any{
			"run_id":     runID,
			"token":      h.Token,
			"expires_at": h.ExpiresAt.UTC(),
			"steps":      prep.Steps,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(renderMarkdown("# Prepared for reset\n\n" + stepsMarkdown(prep.Steps)))
	fmt.Printf("\nRun %s prepared. Execute before %s with:\n", runID, h.ExpiresAt.Local().Format("15:04:05"))
	fmt.Println(styleBanner.Render("  sitereset reset execute --token " + h.Token))
	return nil
}

func runResetExecute(cmd *cobra.Command, args []string) error {
	if executePayload != "" {
		return runChildExecute()
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	exec, err := a.executor()
	if err != nil {
		return err
	}
	orch := a.orchestrator(exec)
	if err := orch.Ready(); err != nil {
		return err
	}
	stored, err := a.state.TakeHandoff(executeToken)
	if errors.Is(err, statedb.ErrNotFound) {
		return errors.New(server.MsgSessionExpired)
	}
	if err != nil {
		return err
	}
	var h reset.Handoff
	if err := json.Unmarshal(stored.Payload, &h); err != nil || h.Steps == nil || h.Data.IsZero() {
		return errors.New(server.MsgSessionExpired)
	}

	ctx, stop := signalContext()
	defer stop()
	rep, err := orch.Execute(ctx, orchestrator.OriginCLI, stored.RunID, h)
	if err != nil {
		return err
	}
	return printReport(stored.RunID, rep, a.svc.Brand.Name)
}

// runChildExecute is phase two in the child process: the handoff arrives
// as JSON, the report leaves as JSON on stdout. The parent holds the lock.
func runChildExecute() error {
	var r io.Reader = os.Stdin
	if executePayload != "-" {
		f, err := os.Open(executePayload)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	var h reset.Handoff
	if err := json.NewDecoder(r).Decode(&h); err != nil {
		return fmt.Errorf("decode handoff: %w", err)
	}
	if h.Steps == nil || h.Data.IsZero() {
		return errors.New("handoff carries no preserved data")
	}

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext()
	defer stop()
	svc := *a.svc
	svc.Observer = a.trail(executeRunID)
	rep := svc.Execute(ctx, h.Data, h.Steps)

	if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
		return err
	}
	if !rep.Success {
		return errReported
	}
	return nil
}
