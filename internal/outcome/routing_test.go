package outcome

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvishq/jarvis/internal/agent"
	"github.com/jarvishq/jarvis/internal/task"
)

type recordingNotifier struct {
	mu      sync.Mutex
	batches [][]*task.Task
}

func (n *recordingNotifier) NotifyTasksCreated(ctx context.Context, tasks []*task.Task) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, tasks)
}

func newRoutingFixture() (*task.Store, *Router, *recordingNotifier) {
	store := task.NewStore(nil, nil)
	notifier := &recordingNotifier{}
	return store, NewRouter(store, agent.NewRegistry(), notifier), notifier
}

func TestRouteCreatesRemediationTask(t *testing.T) {
	store, router, notifier := newRoutingFixture()

	router.Route(context.Background(), "proj-1", "Billing", []string{
		"The invoice renderer has a bug with negative totals",
	})

	tasks := store.Snapshot()
	require.Len(t, tasks, 1)
	created := tasks[0]
	assert.Equal(t, task.PriorityHigh, created.Priority)
	assert.Equal(t, task.StatusScheduled, created.Status)
	assert.Equal(t, "proj-1", created.ProjectID)
	assert.Contains(t, created.Title, "Fix: ")
	assert.NotEmpty(t, created.AssignedAgentID)

	require.Len(t, notifier.batches, 1)
	require.Len(t, notifier.batches[0], 1)
}

func TestRouteDeduplicatesByFingerprint(t *testing.T) {
	store, router, notifier := newRoutingFixture()

	issue := "The cache layer is broken under concurrent writes"
	router.Route(context.Background(), "proj-1", "Core", []string{issue})
	router.Route(context.Background(), "proj-1", "Core", []string{"THE CACHE LAYER IS BROKEN UNDER CONCURRENT WRITES!"})

	assert.Len(t, store.Snapshot(), 1, "same issue must route once per project")
	assert.Len(t, notifier.batches, 1)

	// A different project is a different fingerprint.
	router.Route(context.Background(), "proj-2", "Other", []string{issue})
	assert.Len(t, store.Snapshot(), 2)
}

func TestRouteSkipsIssuesCoveredByExistingTitle(t *testing.T) {
	store, router, _ := newRoutingFixture()

	issue := "The login endpoint returns the wrong status code"
	_, err := store.Create(context.Background(), task.CreateRequest{
		Title:     "Fix: " + issue,
		ProjectID: "proj-1",
	})
	require.NoError(t, err)

	router.Route(context.Background(), "proj-1", "Auth", []string{issue})
	assert.Len(t, store.Snapshot(), 1, "an existing task covering the issue suppresses routing")
}

func TestRouteSkippedIssueStaysRoutable(t *testing.T) {
	store, router, _ := newRoutingFixture()
	ctx := context.Background()

	issue := "The login endpoint returns the wrong status code"
	covering, err := store.Create(ctx, task.CreateRequest{
		Title:     "Fix: " + issue,
		ProjectID: "proj-1",
	})
	require.NoError(t, err)

	router.Route(ctx, "proj-1", "Auth", []string{issue})
	require.Len(t, store.Snapshot(), 1)

	// Once the covering task is archived the issue is unaddressed again; a
	// pass that created nothing must not have burned the fingerprint.
	archived := true
	_, err = store.Update(ctx, covering.ID, task.UpdateFields{Archived: &archived})
	require.NoError(t, err)

	router.Route(ctx, "proj-1", "Auth", []string{issue})

	var open []*task.Task
	for _, t2 := range store.Snapshot() {
		if !t2.Archived {
			open = append(open, t2)
		}
	}
	require.Len(t, open, 1, "skipped issues must be routed once no task covers them")
	assert.Contains(t, open[0].Title, "Fix: ")
}

func TestRouteBatchesNotification(t *testing.T) {
	_, router, notifier := newRoutingFixture()

	router.Route(context.Background(), "proj-1", "Core", []string{
		"The exporter crashes on empty input files",
		"Auth token refresh fails after midnight rollover",
	})

	require.Len(t, notifier.batches, 1, "one routing pass sends one notification")
	assert.Len(t, notifier.batches[0], 2)
}

func TestRoleRouting(t *testing.T) {
	tests := []struct {
		issue string
		want  agent.Role
	}{
		{"The auth token is logged in plaintext", agent.RoleSecurity},
		{"A third-party dependency is pinned to a vulnerable version", agent.RoleIntegration},
		{"The planning document misses the rollout scope", agent.RolePlanning},
		{"QA coverage for the importer is missing", agent.RoleQA},
		{"The exporter crashes on empty input", agent.RoleImplementer},
	}
	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, roleFor(tt.issue))
		})
	}
}
