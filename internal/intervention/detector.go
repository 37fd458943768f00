package intervention

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jarvishq/jarvis/internal/task"
)

const (
	// minDominantCount is how many active tasks must show the same failure
	// label before execution is paused.
	minDominantCount = 3
	// triggerCooldown suppresses re-escalation of the same label. Keyed by
	// label alone: task ids churn under retries, so keying by the affected
	// set would defeat the cooldown.
	triggerCooldown = 30 * time.Minute
)

// pattern maps an evidence substring to a canonical failure label.
type pattern struct {
	substr string
	label  string
}

var patterns = []pattern{
	{"rate limited", "rate_limited"},
	{"429", "rate_limited"},
	{"quota exceeded", "rate_limited"},
	{"invalid handshake", "gateway_handshake"},
	{"auth failure", "gateway_handshake"},
	{"connection refused", "gateway_unreachable"},
	{"socket closed", "gateway_unreachable"},
	{"gateway disconnected", "gateway_unreachable"},
	{"timed out", "timeout"},
	{"timeout", "timeout"},
	{"permission denied", "permission"},
	{"out of memory", "resource_exhausted"},
}

// Pauser is the scheduler's global pause switch.
type Pauser interface {
	Pause(reason string)
	IsPaused() bool
}

// Escalator delivers the escalation summary to the coordinating agent.
type Escalator interface {
	SendNotice(ctx context.Context, agentID, message string) error
}

// Notifier pushes the intervention to the operator (optional).
type Notifier interface {
	NotifyIntervention(ctx context.Context, label string, taskCount int)
}

// Detector scans active task evidence for repeating failure signatures and,
// when one dominates, stops the whole pipeline and escalates to a human and
// the coordinating agent instead of burning retries on a dead loop.
type Detector struct {
	store       *task.Store
	pauser      Pauser
	escalator   Escalator
	notifier    Notifier
	states      *StateStore
	reports     *ReportWriter
	coordinator string
	now         func() time.Time
}

func NewDetector(store *task.Store, pauser Pauser, escalator Escalator, notifier Notifier,
	states *StateStore, reports *ReportWriter, coordinator string) *Detector {
	return &Detector{
		store:       store,
		pauser:      pauser,
		escalator:   escalator,
		notifier:    notifier,
		states:      states,
		reports:     reports,
		coordinator: coordinator,
		now:         time.Now,
	}
}

type finding struct {
	counts   map[string]int
	affected map[string][]*task.Task
}

// Scan runs one detection pass. Returns true when an intervention fired.
func (d *Detector) Scan(ctx context.Context) bool {
	if d.pauser.IsPaused() {
		// Already stopped; re-triggering would only spam the coordinator.
		return false
	}

	f := d.collect()
	label, count := dominant(f.counts)
	if count < minDominantCount {
		return false
	}

	state := d.states.Load(ctx)
	if state.LastInterventionFingerprint == label && d.now().Sub(state.LastInterventionAt) < triggerCooldown {
		slog.Debug("intervention suppressed by cooldown", "label", label)
		return false
	}

	affected := f.affected[label]
	d.pauser.Pause("recurring issue: " + label)

	reportPath, err := d.reports.Write(d.now(), label, f.counts, affected)
	if err != nil {
		slog.Error("intervention: failed to write report", "error", err)
	} else {
		slog.Info("intervention report written", "path", reportPath)
	}

	if err := d.escalator.SendNotice(ctx, d.coordinator, escalationMessage(label, count, affected)); err != nil {
		slog.Error("intervention: failed to notify coordinator", "agent", d.coordinator, "error", err)
	}
	if d.notifier != nil {
		d.notifier.NotifyIntervention(ctx, label, len(affected))
	}

	if err := d.states.Save(ctx, State{
		LastInterventionFingerprint: label,
		LastInterventionAt:          d.now(),
	}); err != nil {
		slog.Error("intervention: failed to persist state", "error", err)
	}

	slog.Warn("execution paused by intervention", "label", label, "count", count)
	return true
}

// collect matches every active task's last evidence against the pattern
// table. A single task can contribute several labels.
func (d *Detector) collect() finding {
	f := finding{
		counts:   make(map[string]int),
		affected: make(map[string][]*task.Task),
	}
	for _, t := range d.store.Snapshot() {
		if !t.IsOpen() {
			continue
		}
		evidence := strings.ToLower(t.LastEvidence)
		if evidence == "" {
			continue
		}
		seen := make(map[string]bool)
		for _, p := range patterns {
			if !strings.Contains(evidence, p.substr) || seen[p.label] {
				continue
			}
			seen[p.label] = true
			f.counts[p.label]++
			f.affected[p.label] = append(f.affected[p.label], t)
		}
	}
	return f
}

// dominant picks the most frequent label; ties break lexicographically so
// the result is deterministic.
func dominant(counts map[string]int) (string, int) {
	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var best string
	var bestCount int
	for _, label := range labels {
		if counts[label] > bestCount {
			best = label
			bestCount = counts[label]
		}
	}
	return best, bestCount
}

func escalationMessage(label string, count int, affected []*task.Task) string {
	var b strings.Builder
	b.WriteString("Execution paused: the issue \"")
	b.WriteString(label)
	b.WriteString("\" is recurring across ")
	b.WriteString(strconv.Itoa(count))
	b.WriteString(" active tasks. Top affected tasks:\n")
	for i, t := range affected {
		if i >= 5 {
			break
		}
		b.WriteString("- ")
		b.WriteString(t.ID)
		b.WriteString(" ")
		b.WriteString(t.Title)
		b.WriteString("\n")
	}
	b.WriteString("Please investigate before resuming execution.")
	return b.String()
}
