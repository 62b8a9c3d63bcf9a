package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/audit"
)

var auditRecent int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the reset audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit hash chain",
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent audit records",
	RunE:  runAuditTail,
}

func init() {
	auditTailCmd.Flags().IntVarP(&auditRecent, "number", "n", 20, "Number of records to show")
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAudit() (*audit.Logger, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return audit.NewLogger(cfg.AuditDir())
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	l, err := openAudit()
	if err != nil {
		return err
	}
	valid, brokenAt, err := l.Verify()
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if !valid {
		fmt.Println(styleError.Render(fmt.Sprintf("Hash chain BROKEN at record #%d", brokenAt)))
		fmt.Println("  The audit log may have been tampered with.")
		return errReported
	}
	fmt.Println(styleSuccess.Render("Hash chain OK"))
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	l, err := openAudit()
	if err != nil {
		return err
	}
	records, err := l.Recent(auditRecent)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No audit records.")
		return nil
	}
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		fmt.Printf("%s %s %-8s %-24s %s %s\n",
			styleDim.Render(r.Timestamp), r.RunID, r.Phase, r.Step,
			mark(r.Outcome == audit.OutcomeOK), r.Message)
	}
	return nil
}
