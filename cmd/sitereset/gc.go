package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/gc"
)

var (
	gcDryRun   bool
	gcRunDays  int
	gcAuditDay int
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Prune old run records, expired handoffs and audit logs",
	RunE:  runGC,
}

func init() {
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "Show what would be deleted without deleting")
	gcCmd.Flags().IntVar(&gcRunDays, "run-days", 0, "Delete finished runs older than N days (default from config)")
	gcCmd.Flags().IntVar(&gcAuditDay, "audit-days", 0, "Keep audit logs for N days (default from config)")
	rootCmd.AddCommand(gcCmd)
}

func gcPolicy() gc.Policy {
	policy := gc.DefaultPolicy()
	if cfg.Retention.RunDays > 0 {
		policy.MaxRunDays = cfg.Retention.RunDays
	}
	if cfg.Retention.AuditDays > 0 {
		policy.MaxAuditDays = cfg.Retention.AuditDays
	}
	if gcRunDays > 0 {
		policy.MaxRunDays = gcRunDays
	}
	if gcAuditDay > 0 {
		policy.MaxAuditDays = gcAuditDay
	}
	policy.DryRun = gcDryRun
	return policy
}

func runGC(cmd *cobra.Command, args []string) error {
	db, err := openStateDB()
	if err != nil {
		return err
	}
	defer db.Close()

	if gcDryRun {
		fmt.Println(styleDim.Render("Dry run: nothing will be deleted"))
	}
	result, err := gc.Run(db, cfg.AuditDir(), gcPolicy(), time.Now())
	if err != nil {
		return fmt.Errorf("gc failed: %w", err)
	}

	if result.RunsRemoved > 0 {
		fmt.Printf("Removed %d old runs\n", result.RunsRemoved)
	}
	if result.HandoffsRemoved > 0 {
		fmt.Printf("Removed %d expired handoffs\n", result.HandoffsRemoved)
	}
	if result.AuditFilesRemoved > 0 {
		fmt.Printf("Removed %d audit log files\n", result.AuditFilesRemoved)
	}
	if result.BytesFreed > 0 {
		fmt.Printf("Freed %s\n", formatBytes(result.BytesFreed))
	}
	if result.RunsRemoved == 0 && result.HandoffsRemoved == 0 && result.AuditFilesRemoved == 0 {
		fmt.Println("Nothing to clean up")
	}
	return nil
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
