package intervention

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/internal/task"
	"github.com/jarvishq/jarvis/pkg/storage"
)

type fakePauser struct {
	mu     sync.Mutex
	paused bool
	reason string
}

func (p *fakePauser) Pause(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.reason = reason
}

func (p *fakePauser) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

type fakeEscalator struct {
	mu       sync.Mutex
	messages []string
}

func (e *fakeEscalator) SendNotice(ctx context.Context, agentID, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, message)
	return nil
}

func (e *fakeEscalator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

type testRig struct {
	store     *task.Store
	pauser    *fakePauser
	escalator *fakeEscalator
	detector  *Detector
	dir       string
	now       time.Time
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocal(filepath.Join(dir, "data"))
	require.NoError(t, err)

	rig := &testRig{
		store:     task.NewStore(nil, eventbus.New()),
		pauser:    &fakePauser{},
		escalator: &fakeEscalator{},
		dir:       filepath.Join(dir, "reports"),
		now:       time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	rig.detector = NewDetector(
		rig.store,
		rig.pauser,
		rig.escalator,
		nil,
		NewStateStore(local),
		NewReportWriter(rig.dir),
		"jarvis",
	)
	rig.detector.now = func() time.Time { return rig.now }
	return rig
}

func (r *testRig) addFailingTask(t *testing.T, title, evidence string) *task.Task {
	t.Helper()
	created, err := r.store.Create(context.Background(), task.CreateRequest{
		Title:           title,
		AssignedAgentID: "dev",
	})
	require.NoError(t, err)
	_, err = r.store.Move(context.Background(), created.ID, task.StatusInProgress)
	require.NoError(t, err)
	require.NoError(t, r.store.AppendEvidence(context.Background(), created.ID, evidence))
	return created
}

func TestScanBelowThresholdDoesNothing(t *testing.T) {
	rig := newRig(t)
	rig.addFailingTask(t, "one", "request failed with status 429")
	rig.addFailingTask(t, "two", "request failed with status 429")

	assert.False(t, rig.detector.Scan(context.Background()))
	assert.False(t, rig.pauser.IsPaused())
	assert.Equal(t, 0, rig.escalator.count())
}

func TestScanTriggersOnDominantLabel(t *testing.T) {
	rig := newRig(t)
	rig.addFailingTask(t, "one", "request failed with status 429")
	rig.addFailingTask(t, "two", "the provider says we are rate limited")
	rig.addFailingTask(t, "three", "got 429 from upstream again")

	require.True(t, rig.detector.Scan(context.Background()))

	assert.True(t, rig.pauser.IsPaused())
	assert.Contains(t, rig.pauser.reason, "rate_limited")

	require.Equal(t, 1, rig.escalator.count())
	assert.Contains(t, rig.escalator.messages[0], "rate_limited")
	assert.Contains(t, rig.escalator.messages[0], "3 active tasks")
}

func TestScanWritesReportFile(t *testing.T) {
	rig := newRig(t)
	rig.addFailingTask(t, "one", "connection refused by gateway")
	rig.addFailingTask(t, "two", "connection refused by gateway")
	rig.addFailingTask(t, "three", "socket closed mid-call")

	require.True(t, rig.detector.Scan(context.Background()))

	entries, err := os.ReadDir(rig.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "jarvis_intervention_"), name)
	assert.True(t, strings.HasSuffix(name, ".md"), name)
	assert.NotContains(t, name, ":", "filename must be valid on every filesystem")

	content, err := os.ReadFile(filepath.Join(rig.dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(content), "gateway_unreachable")
	assert.Contains(t, string(content), "| Issue | Tasks |")
}

func TestScanSkipsWhilePaused(t *testing.T) {
	rig := newRig(t)
	rig.addFailingTask(t, "one", "timed out waiting for agent")
	rig.addFailingTask(t, "two", "timed out waiting for agent")
	rig.addFailingTask(t, "three", "timed out waiting for agent")
	rig.pauser.Pause("manual")

	assert.False(t, rig.detector.Scan(context.Background()))
	assert.Equal(t, 0, rig.escalator.count())
}

func TestScanCooldownSuppressesSameLabel(t *testing.T) {
	rig := newRig(t)
	rig.addFailingTask(t, "one", "permission denied writing workspace")
	rig.addFailingTask(t, "two", "permission denied writing workspace")
	rig.addFailingTask(t, "three", "permission denied writing workspace")

	require.True(t, rig.detector.Scan(context.Background()))

	// Operator resumes but the same failure persists shortly after.
	rig.pauser.paused = false
	rig.now = rig.now.Add(10 * time.Minute)
	assert.False(t, rig.detector.Scan(context.Background()), "same label inside the cooldown must not re-trigger")
	assert.Equal(t, 1, rig.escalator.count())

	// Past the cooldown the same label triggers again.
	rig.now = rig.now.Add(triggerCooldown)
	assert.True(t, rig.detector.Scan(context.Background()))
	assert.Equal(t, 2, rig.escalator.count())
}

func TestScanCooldownIsPerLabel(t *testing.T) {
	rig := newRig(t)
	rig.addFailingTask(t, "one", "out of memory in sandbox")
	rig.addFailingTask(t, "two", "out of memory in sandbox")
	rig.addFailingTask(t, "three", "out of memory in sandbox")

	require.True(t, rig.detector.Scan(context.Background()))
	rig.pauser.paused = false

	// A different dominant label fires immediately despite the cooldown.
	rig.addFailingTask(t, "four", "invalid handshake from gateway")
	rig.addFailingTask(t, "five", "invalid handshake from gateway")
	rig.addFailingTask(t, "six", "invalid handshake from gateway")
	rig.addFailingTask(t, "seven", "invalid handshake from gateway")

	rig.now = rig.now.Add(time.Minute)
	require.True(t, rig.detector.Scan(context.Background()))
	assert.Contains(t, rig.pauser.reason, "gateway_handshake")
}

func TestScanIgnoresClosedTasks(t *testing.T) {
	rig := newRig(t)
	for _, title := range []string{"one", "two", "three"} {
		created := rig.addFailingTask(t, title, "request failed with status 429")
		_, err := rig.store.Move(context.Background(), created.ID, task.StatusDone)
		require.NoError(t, err)
	}

	assert.False(t, rig.detector.Scan(context.Background()))
}

func TestScanStateSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	local, err := storage.NewLocal(dir)
	require.NoError(t, err)
	states := NewStateStore(local)

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, states.Save(context.Background(), State{
		LastInterventionFingerprint: "rate_limited",
		LastInterventionAt:          at,
	}))

	reloaded := NewStateStore(local).Load(context.Background())
	assert.Equal(t, "rate_limited", reloaded.LastInterventionFingerprint)
	assert.True(t, reloaded.LastInterventionAt.Equal(at))
}
