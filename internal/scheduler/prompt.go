package scheduler

import (
	"strconv"
	"strings"

	"github.com/jarvishq/jarvis/internal/outcome"
	"github.com/jarvishq/jarvis/internal/task"
)

const (
	// evidenceTail limits how much history a verification prompt replays.
	evidenceTail        = 10
	evidenceTailCharCap = 4000
)

// BuildPrompt renders the prompt for one dispatch round. The session key
// keeps conversation continuity on the agent side, so the prompt restates the
// task, not the whole history; only verification tasks get an evidence tail.
func BuildPrompt(t *task.Task) string {
	var b strings.Builder

	b.WriteString("You are working on task ")
	b.WriteString(t.ID)
	b.WriteString(".\n\nTitle: ")
	b.WriteString(t.Title)
	b.WriteString("\n")
	if t.Description != "" {
		b.WriteString("Description: ")
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	if t.ProjectName != "" {
		b.WriteString("Project: ")
		b.WriteString(t.ProjectName)
		b.WriteString("\n")
	}

	if t.IsVerificationTask {
		writeVerificationSection(&b, t)
	}

	b.WriteString("\nWhen you respond, end with exactly one marker line:\n")
	b.WriteString("  " + outcome.MarkerComplete + "  when the task is fully done\n")
	b.WriteString("  " + outcome.MarkerContinue + "  when you made progress but more work remains\n")
	b.WriteString("  " + outcome.MarkerBlocked + "   when you cannot proceed without outside help\n")
	b.WriteString("List any problems you found as bullet points before the marker.\n")
	return b.String()
}

func writeVerificationSection(b *strings.Builder, t *task.Task) {
	b.WriteString("\nThis is a verification task")
	if t.VerificationRound > 0 {
		b.WriteString(" (round ")
		b.WriteString(strconv.Itoa(t.VerificationRound))
		b.WriteString(")")
	}
	b.WriteString(". Independently check the delivered work against the task ")
	b.WriteString("description. Do not take earlier completion claims at face ")
	b.WriteString("value; verify behavior yourself and report every discrepancy ")
	b.WriteString("as its own bullet point.\n")

	b.WriteString("\nIf you cannot finish the verification, decide which case you are in:\n")
	b.WriteString("  - A hard external blocker (broken environment, missing credentials, a ")
	b.WriteString("dependency you cannot reach) justifies " + outcome.MarkerBlocked + ".\n")
	b.WriteString("  - Work that simply has not been implemented upstream is a missing-scope ")
	b.WriteString("finding, not a blocker. Report it as a bullet point and do not use ")
	b.WriteString(outcome.MarkerBlocked + ".\n")

	tail := evidenceSummary(t.Evidence)
	if tail != "" {
		b.WriteString("\nRecent activity on this task:\n")
		b.WriteString(tail)
	}
}

// evidenceSummary renders the newest evidence entries, oldest first, capped
// in both entries and characters.
func evidenceSummary(entries []task.EvidenceEntry) string {
	if len(entries) == 0 {
		return ""
	}
	start := len(entries) - evidenceTail
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, e := range entries[start:] {
		line := strings.ReplaceAll(strings.TrimSpace(e.Text), "\n", " ")
		if line == "" {
			continue
		}
		if b.Len()+len(line) > evidenceTailCharCap {
			break
		}
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
