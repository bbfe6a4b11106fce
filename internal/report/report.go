// Package report renders human-readable Markdown summaries of convoy
// runs and persists them under the workspace's reports directory.
package report

import (
	"fmt"
	"strings"

	"github.com/squadcore/core/internal/atomicfile"
	"github.com/squadcore/core/internal/convoy"
	"github.com/squadcore/core/internal/workspace"
)

var memberStatusLabel = map[convoy.MemberStatus]string{
	convoy.MemberPending:   "PENDING",
	convoy.MemberRunning:   "RUNNING",
	convoy.MemberCompleted: "COMPLETED",
	convoy.MemberFailed:    "FAILED",
	convoy.MemberSkipped:   "SKIPPED",
}

// ConvoySummary renders a Markdown progress report for one convoy: its
// name, status, aggregate progress, a line per member, and any
// accumulated errors.
func ConvoySummary(c *convoy.Convoy) string {
	progress := c.GetProgress()

	var b strings.Builder
	fmt.Fprintf(&b, "\n## Convoy: %s\n", c.Name)
	fmt.Fprintf(&b, "**ID**: %s\n", c.ID)
	fmt.Fprintf(&b, "**Status**: %s\n\n", c.Status)

	fmt.Fprintf(&b, "### Progress\n")
	fmt.Fprintf(&b, "- Total Members: %d\n", progress.Total)
	fmt.Fprintf(&b, "- Completed: %d\n", progress.Completed)
	fmt.Fprintf(&b, "- Running: %d\n", progress.Running)
	fmt.Fprintf(&b, "- Pending: %d\n", progress.Pending)
	fmt.Fprintf(&b, "- Failed: %d\n", progress.Failed)
	fmt.Fprintf(&b, "- Progress: %d%%\n\n", progress.ProgressPercent)

	fmt.Fprintf(&b, "### Members\n")
	for _, member := range c.Members {
		label, ok := memberStatusLabel[member.Status]
		if !ok {
			label = "UNKNOWN"
		}
		fmt.Fprintf(&b, "- %s [%s] %s\n", label, member.AgentType, member.WorkItemID)
		if member.Error != "" {
			fmt.Fprintf(&b, "  - Error: %s\n", member.Error)
		}
	}

	if len(c.Errors) > 0 {
		fmt.Fprintf(&b, "\n### Errors\n")
		for _, e := range c.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}

// WriteAfterOperationReport renders a convoy's summary and persists it
// atomically to .squad/reports/after-operation-<id>.md.
func WriteAfterOperationReport(workspaceRoot string, c *convoy.Convoy) (string, error) {
	paths := workspace.Resolve(workspaceRoot)
	path := paths.AfterOperationReport(c.ID)
	summary := ConvoySummary(c)
	if err := atomicfile.Write(path, []byte(summary), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
