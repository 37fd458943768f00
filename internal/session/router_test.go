package session

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/internal/gateway"
	"github.com/jarvishq/jarvis/internal/task"
)

func newBoundTask(t *testing.T, store *task.Store, sessionKey string) *task.Task {
	t.Helper()
	created, err := store.Create(context.Background(), task.CreateRequest{
		Title:           "routed task",
		AssignedAgentID: "dev",
	})
	require.NoError(t, err)
	_, err = store.Move(context.Background(), created.ID, task.StatusInProgress)
	require.NoError(t, err)
	_, err = store.BindSession(context.Background(), created.ID, sessionKey)
	require.NoError(t, err)
	return created
}

func TestAssistantTextBecomesEvidence(t *testing.T) {
	store := task.NewStore(nil, nil)
	router := NewRouter(store, eventbus.New())
	created := newBoundTask(t, store, "agent:dev:task-1")

	router.route(context.Background(), gateway.Event{
		Stream:     gateway.StreamAssistant,
		SessionKey: "agent:dev:task-1",
		Data:       json.RawMessage(`{"text":"halfway through the refactor"}`),
	})

	got, _ := store.Get(created.ID)
	assert.Equal(t, "halfway through the refactor", got.LastEvidence)
}

func TestLifecycleBecomesSyntheticEvidenceWithoutStatusChange(t *testing.T) {
	store := task.NewStore(nil, nil)
	router := NewRouter(store, eventbus.New())
	created := newBoundTask(t, store, "agent:dev:task-1")

	router.route(context.Background(), gateway.Event{
		Stream:     gateway.StreamLifecycle,
		SessionKey: "agent:dev:task-1",
		Data:       json.RawMessage(`{"phase":"start"}`),
	})

	got, _ := store.Get(created.ID)
	assert.Equal(t, "[session] agent dev started working", got.LastEvidence)
	assert.Equal(t, task.StatusInProgress, got.Status, "lifecycle events never change task status")
}

func TestUnmatchedSessionKeyIsDroppedSilently(t *testing.T) {
	store := task.NewStore(nil, nil)
	router := NewRouter(store, eventbus.New())
	created := newBoundTask(t, store, "agent:dev:task-1")

	router.route(context.Background(), gateway.Event{
		Stream:     gateway.StreamAssistant,
		SessionKey: "agent:dev:task-gone",
		Data:       json.RawMessage(`{"text":"late arrival"}`),
	})

	got, _ := store.Get(created.ID)
	assert.Empty(t, got.LastEvidence)
}

func TestClosedTaskReceivesNoEvents(t *testing.T) {
	store := task.NewStore(nil, nil)
	router := NewRouter(store, eventbus.New())
	created := newBoundTask(t, store, "agent:dev:task-1")
	_, err := store.Move(context.Background(), created.ID, task.StatusDone)
	require.NoError(t, err)

	router.route(context.Background(), gateway.Event{
		Stream:     gateway.StreamAssistant,
		SessionKey: "agent:dev:task-1",
		Data:       json.RawMessage(`{"text":"too late"}`),
	})

	got, _ := store.Get(created.ID)
	assert.Empty(t, got.LastEvidence)
}

func TestPresenceIsRepublishedOnBus(t *testing.T) {
	store := task.NewStore(nil, nil)
	bus := eventbus.New()
	router := NewRouter(store, bus)

	_, events := bus.Subscribe(8)
	router.route(context.Background(), gateway.Event{
		Stream:     gateway.StreamPresence,
		SessionKey: "agent:dev:task-1",
		Data:       json.RawMessage(`{"online":true}`),
	})

	event := <-events
	assert.Equal(t, eventbus.EventTypePresence, event.Type)
	assert.Equal(t, "dev", event.ResourceID)
}

func TestTickIsIgnored(t *testing.T) {
	store := task.NewStore(nil, nil)
	bus := eventbus.New()
	router := NewRouter(store, bus)

	_, events := bus.Subscribe(8)
	router.route(context.Background(), gateway.Event{Stream: gateway.StreamTick})

	select {
	case event := <-events:
		t.Fatalf("tick must not produce bus traffic, got %v", event.Type)
	default:
	}
}
