package intervention

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jarvishq/jarvis/internal/task"
)

const evidencePreviewCap = 120

// ReportWriter renders intervention reports as Markdown files in a
// configurable directory.
type ReportWriter struct {
	dir string
}

func NewReportWriter(dir string) *ReportWriter {
	return &ReportWriter{dir: dir}
}

// Write renders one report and returns its path. The filename embeds the
// trigger time as ISO 8601 with colons replaced by dashes so it is valid on
// every filesystem.
func (w *ReportWriter) Write(at time.Time, label string, counts map[string]int, affected []*task.Task) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	stamp := strings.ReplaceAll(at.UTC().Format(time.RFC3339), ":", "-")
	path := filepath.Join(w.dir, fmt.Sprintf("jarvis_intervention_%s.md", stamp))

	if err := os.WriteFile(path, []byte(render(at, label, counts, affected)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func render(at time.Time, label string, counts map[string]int, affected []*task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Intervention Report\n\n")
	fmt.Fprintf(&b, "- Generated: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Dominant issue: `%s` (%d active tasks)\n\n", label, counts[label])

	b.WriteString("## Issue frequency\n\n")
	b.WriteString("| Issue | Tasks |\n|---|---|\n")
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	for _, l := range labels {
		fmt.Fprintf(&b, "| `%s` | %d |\n", l, counts[l])
	}

	b.WriteString("\n## Affected tasks\n\n")
	b.WriteString("| Task | Title | Agent | Last evidence |\n|---|---|---|---|\n")
	for _, t := range affected {
		evidence := strings.ReplaceAll(t.LastEvidence, "\n", " ")
		if len(evidence) > evidencePreviewCap {
			evidence = evidence[:evidencePreviewCap] + "…"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", t.ID, t.Title, t.AssignedAgentID, evidence)
	}

	b.WriteString("\nExecution is paused. Resume it once the dominant issue is resolved.\n")
	return b.String()
}
