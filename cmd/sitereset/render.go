package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/lyndonlyu/sitereset/internal/reset"
	"github.com/lyndonlyu/sitereset/internal/step"
)

// stepsMarkdown renders a step log as a markdown table.
func stepsMarkdown(log *step.Log) string {
	var b strings.Builder
	b.WriteString("| Step | Result | Message |\n|---|---|---|\n")
	if log == nil {
		return b.String()
	}
	for _, e := range log.Entries() {
		result := "ok"
		if !e.Result.Success {
			result = "**failed**"
		}
		msg := strings.ReplaceAll(e.Result.Message, "|", `\|`)
		msg = strings.ReplaceAll(msg, "\n", " ")
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", e.Name, result, msg)
	}
	return b.String()
}

// reportMarkdown summarizes a finished reset. The step table is shown only
// when something went wrong or verbose is set.
func reportMarkdown(runID string, rep reset.Report, brandName string, verbose bool) string {
	var b strings.Builder
	if rep.Success {
		b.WriteString("# Factory reset complete\n\n")
	} else {
		b.WriteString("# Factory reset failed\n\n")
	}
	if runID != "" {
		fmt.Fprintf(&b, "Run `%s`\n\n", runID)
	}

	clean := rep.Success && len(rep.Errors) == 0
	if clean {
		if brandName == "" {
			brandName = "The brand plugin"
		}
		b.WriteString("Your website has been restored to a fresh WordPress installation.\n\n")
		b.WriteString("- All database content has been cleared\n")
		b.WriteString("- Third-party plugins and themes have been removed\n")
		b.WriteString("- Uploaded media files have been deleted\n")
		b.WriteString("- WordPress core and the default theme have been reinstalled\n")
		fmt.Fprintf(&b, "- %s is active and connected\n\n", brandName)
		b.WriteString("Your admin account and site URL have been preserved.\n")
		if !verbose {
			return b.String()
		}
		b.WriteString("\n")
	} else if rep.Success {
		b.WriteString("Reset completed with errors.\n\n")
	}

	b.WriteString(stepsMarkdown(rep.Steps))
	if len(rep.Errors) > 0 {
		b.WriteString("\n## Errors\n\n")
		for _, e := range rep.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}

// renderMarkdown renders markdown text for terminal display.
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimSpace(out)
}
