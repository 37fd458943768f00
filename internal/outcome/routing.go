package outcome

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/jarvishq/jarvis/internal/agent"
	"github.com/jarvishq/jarvis/internal/task"
)

const titleMatchCap = 70

// Notifier receives one batched notification per routing pass.
type Notifier interface {
	NotifyTasksCreated(ctx context.Context, tasks []*task.Task)
}

// Router turns extracted issues into high-priority remediation tasks,
// de-duplicated per project by fingerprint and by existing task titles.
type Router struct {
	store    *task.Store
	agents   *agent.Registry
	notifier Notifier

	mu     sync.Mutex
	routed map[string]struct{}
}

func NewRouter(store *task.Store, agents *agent.Registry, notifier Notifier) *Router {
	return &Router{
		store:    store,
		agents:   agents,
		notifier: notifier,
		routed:   make(map[string]struct{}),
	}
}

// Route creates one scheduled task per previously unseen issue and sends a
// single batched notification for everything created in this pass. The
// fingerprint is recorded only once a task exists; a pass that skips or fails
// to create one leaves the issue routable next time.
func (r *Router) Route(ctx context.Context, projectID, projectName string, issues []string) {
	var created []*task.Task
	for _, issue := range issues {
		fingerprint := Fingerprint(projectID, issue)
		if r.alreadyRouted(fingerprint) {
			continue
		}
		if r.projectHasTaskFor(projectID, issue) {
			continue
		}

		assignee := r.agents.ForRole(roleFor(issue))
		if assignee == nil {
			slog.Warn("issue router: no agent available", "issue", issue)
			continue
		}
		t, err := r.store.Create(ctx, task.CreateRequest{
			Title:           issueTitle(issue),
			Description:     issue,
			Priority:        task.PriorityHigh,
			AssignedAgentID: assignee.ID,
			ProjectID:       projectID,
			ProjectName:     projectName,
		})
		if err != nil {
			slog.Error("issue router: failed to create remediation task", "error", err)
			continue
		}
		r.markRouted(fingerprint)
		slog.Info("issue router: remediation task created",
			"task_id", t.ID, "agent", assignee.ID, "project_id", projectID)
		created = append(created, t)
	}

	if len(created) > 0 && r.notifier != nil {
		r.notifier.NotifyTasksCreated(ctx, created)
	}
}

func (r *Router) alreadyRouted(fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.routed[fingerprint]
	return ok
}

func (r *Router) markRouted(fingerprint string) {
	r.mu.Lock()
	r.routed[fingerprint] = struct{}{}
	r.mu.Unlock()
}

// projectHasTaskFor reports whether a non-archived task in the project
// already covers the issue, by prefix-matching normalized text against
// normalized titles (capped to keep long issue lines comparable).
func (r *Router) projectHasTaskFor(projectID, issue string) bool {
	needle := Normalize(issue)
	if len(needle) > titleMatchCap {
		needle = needle[:titleMatchCap]
	}
	if needle == "" {
		return true
	}
	for _, t := range r.store.Snapshot() {
		if t.Archived || t.ProjectID != projectID {
			continue
		}
		if strings.Contains(Normalize(t.Title), needle) {
			return true
		}
	}
	return false
}

func issueTitle(issue string) string {
	title := issue
	if len(title) > titleMatchCap {
		title = title[:titleMatchCap]
	}
	return "Fix: " + title
}

// roleFor routes an issue to an agent role by simple keyword matching.
func roleFor(issue string) agent.Role {
	lower := strings.ToLower(issue)
	switch {
	case containsAny(lower, "auth", "security", "token", "credential"):
		return agent.RoleSecurity
	case containsAny(lower, "dependency", "integration", "research"):
		return agent.RoleIntegration
	case containsAny(lower, "scope", "planning"):
		return agent.RolePlanning
	case containsAny(lower, "qa", "verification"):
		return agent.RoleQA
	default:
		return agent.RoleImplementer
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
