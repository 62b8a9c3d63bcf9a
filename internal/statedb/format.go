package statedb

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatStatus returns a human-readable summary of the database location
// and row counts.
func FormatStatus(path string, runCount, handoffCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", path)
	fmt.Fprintf(&b, "Run records: %d\n", runCount)
	fmt.Fprintf(&b, "Pending handoffs: %d\n", handoffCount)
	return b.String()
}

// FormatRunList returns a formatted table of run records with columns
// ID, ORIGIN, STATUS, STEPS, ERRORS, STARTED, and ENDED. Returns
// "No reset runs.\n" if the slice is empty.
func FormatRunList(runs []RunRecord) string {
	if len(runs) == 0 {
		return "No reset runs.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-36s %-6s %-10s %-6s %-7s %-22s %-22s\n",
		"ID", "ORIGIN", "STATUS", "STEPS", "ERRORS", "STARTED", "ENDED")
	for _, r := range runs {
		fmt.Fprintf(&b, "%-36s %-6s %-10s %-6d %-7d %-22s %-22s\n",
			r.ID, r.Origin, r.Status, r.StepCount, r.ErrorCount, r.StartedAt, r.EndedAt)
	}
	return b.String()
}

// FormatRunListJSON returns the run records as indented JSON.
func FormatRunListJSON(runs []RunRecord) (string, error) {
	if runs == nil {
		runs = []RunRecord{}
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("statedb: json marshal: %w", err)
	}
	return string(data), nil
}
