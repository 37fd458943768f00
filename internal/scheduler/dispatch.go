package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/jarvishq/jarvis/internal/gateway"
	"github.com/jarvishq/jarvis/internal/outcome"
	"github.com/jarvishq/jarvis/internal/task"
)

// dispatch runs one prompt round for a task and applies the resulting
// transition. It runs outside the tick loop; the per-agent reservation made
// at start time guarantees no other dispatch talks to the same agent.
func (s *Scheduler) dispatch(ctx context.Context, t *task.Task, agent string) {
	sessionKey, err := s.store.BindSession(ctx, t.ID, gateway.SessionKeyFor(agent, t.ID))
	if err != nil {
		slog.Warn("dispatch: failed to bind session", "task_id", t.ID, "error", err)
		s.requeue(ctx, t.ID, retryCooldown)
		return
	}

	text, err := s.gateway.Prompt(ctx, agent, sessionKey, BuildPrompt(t))
	if err != nil {
		slog.Warn("dispatch: prompt failed", "task_id", t.ID, "agent", agent, "error", err)
		if appendErr := s.store.AppendEvidence(ctx, t.ID, "[dispatch] error: "+err.Error()); appendErr != nil {
			slog.Warn("dispatch: failed to append error evidence", "task_id", t.ID, "error", appendErr)
		}
		s.requeue(ctx, t.ID, retryCooldown)
		return
	}

	evidence := text
	if strings.TrimSpace(evidence) == "" {
		evidence = "[dispatch] agent returned no assistant text"
	}
	if err := s.store.AppendEvidence(ctx, t.ID, evidence); err != nil {
		slog.Warn("dispatch: failed to append response evidence", "task_id", t.ID, "error", err)
	}

	issues := outcome.ExtractIssues(text)
	if len(issues) > 0 && s.issues != nil {
		s.issues.Route(ctx, t.ProjectID, t.ProjectName, issues)
	}

	switch outcome.Classify(text, t.IsVerificationTask) {
	case outcome.OutcomeComplete:
		if len(issues) > 0 {
			// A completion claim alongside reported issues is not trusted.
			if err := s.store.AppendEvidence(ctx, t.ID,
				"[scheduler] completion claimed but issues were reported; continuing"); err != nil {
				slog.Warn("dispatch: failed to append evidence", "task_id", t.ID, "error", err)
			}
			s.requeue(ctx, t.ID, continueCooldown)
			return
		}
		s.complete(ctx, t)
	case outcome.OutcomeBlocked:
		if t.IsVerificationTask {
			s.escalateBlocked(ctx, t)
		}
		s.requeue(ctx, t.ID, blockedCooldown)
	default:
		s.requeue(ctx, t.ID, continueCooldown)
	}
}

func (s *Scheduler) complete(ctx context.Context, t *task.Task) {
	if t.IsVerificationTask {
		verified := true
		if _, err := s.store.Update(ctx, t.ID, task.UpdateFields{IsVerified: &verified}); err != nil {
			slog.Warn("dispatch: failed to mark task verified", "task_id", t.ID, "error", err)
		}
	}
	if _, err := s.store.Move(ctx, t.ID, task.StatusDone); err != nil {
		slog.Warn("dispatch: failed to move task to done", "task_id", t.ID, "error", err)
		return
	}
	slog.Info("task completed", "task_id", t.ID, "title", t.Title)
}

// requeue sends the task back to the queue and arms its retry cooldown.
func (s *Scheduler) requeue(ctx context.Context, taskID string, cooldown time.Duration) {
	s.setCooldown(taskID, cooldown)
	if _, err := s.store.Move(ctx, taskID, task.StatusQueued); err != nil {
		slog.Warn("dispatch: failed to requeue task", "task_id", taskID, "error", err)
	}
}

// escalateBlocked asks the coordinating agent for concrete scope when a
// verification task reports it has nothing actionable to verify. Rate
// limited per task so a task stuck in a blocked loop does not flood the
// coordinator.
func (s *Scheduler) escalateBlocked(ctx context.Context, t *task.Task) {
	now := s.now()
	s.mu.Lock()
	last, ok := s.escalatedAt[t.ID]
	if ok && now.Sub(last) < escalationInterval {
		s.mu.Unlock()
		return
	}
	s.escalatedAt[t.ID] = now
	s.mu.Unlock()

	message := "Verification task " + t.ID + " (" + t.Title + ") is blocked: " +
		"it has no concrete scope to verify. Please reply with the specific " +
		"deliverables or acceptance criteria it should check."
	if err := s.gateway.SendNotice(ctx, s.coordinator, message); err != nil {
		slog.Warn("dispatch: failed to escalate blocked verification",
			"task_id", t.ID, "agent", s.coordinator, "error", err)
	}
}
