// Package gc prunes reset state that is no longer useful: finished run
// records, expired handoffs and old audit files.
package gc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lyndonlyu/sitereset/internal/audit"
	"github.com/lyndonlyu/sitereset/internal/statedb"
)

// Policy defines retention rules for garbage collection.
type Policy struct {
	MaxRunDays   int  // delete finished runs older than N days (default: 365)
	MaxAuditDays int  // keep audit logs for N days (default: 90)
	DryRun       bool // report without deleting
}

// Result tracks what was cleaned up.
type Result struct {
	RunsRemoved       int
	HandoffsRemoved   int
	AuditFilesRemoved int
	BytesFreed        int64
}

// Store is the run history gc prunes.
type Store interface {
	ListRuns(limit int) ([]statedb.RunRecord, error)
	PruneRuns(cutoff time.Time) (int, error)
	PruneHandoffs() (int, error)
}

// DefaultPolicy returns the default GC policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRunDays:   365,
		MaxAuditDays: 90,
	}
}

// Run prunes store and the audit files in auditDir as of now. A nil store
// skips the run history.
func Run(store Store, auditDir string, policy Policy, now time.Time) (*Result, error) {
	result := &Result{}

	if store != nil {
		if err := cleanRuns(store, policy, now, result); err != nil {
			return result, fmt.Errorf("run cleanup: %w", err)
		}
	}

	if err := cleanAudit(auditDir, policy, now, result); err != nil {
		return result, fmt.Errorf("audit cleanup: %w", err)
	}

	return result, nil
}

func cleanRuns(store Store, policy Policy, now time.Time, result *Result) error {
	cutoff := now.AddDate(0, 0, -policy.MaxRunDays)
	if policy.DryRun {
		runs, err := store.ListRuns(0)
		if err != nil {
			return err
		}
		for _, r := range runs {
			started, err := time.Parse(time.RFC3339, r.StartedAt)
			if err == nil && r.EndedAt != "" && started.Before(cutoff) {
				result.RunsRemoved++
			}
		}
		return nil
	}

	n, err := store.PruneRuns(cutoff)
	if err != nil {
		return err
	}
	result.RunsRemoved = n

	n, err = store.PruneHandoffs()
	if err != nil {
		return err
	}
	result.HandoffsRemoved = n
	return nil
}

func cleanAudit(auditDir string, policy Policy, now time.Time, result *Result) error {
	files, err := audit.Files(auditDir)
	if err != nil {
		return err
	}

	cutoff := now.AddDate(0, 0, -policy.MaxAuditDays)

	for _, path := range files {
		// Parse date from filename (YYYY-MM-DD.jsonl)
		datePart := strings.TrimSuffix(filepath.Base(path), ".jsonl")
		fileDate, err := time.Parse("2006-01-02", datePart)
		if err != nil || !fileDate.Before(cutoff) {
			continue
		}

		var fileSize int64
		if info, err := os.Stat(path); err == nil {
			fileSize = info.Size()
		}
		if !policy.DryRun {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
		result.AuditFilesRemoved++
		result.BytesFreed += fileSize
	}

	return nil
}
