package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := New()
	_, first := bus.Subscribe(4)
	_, second := bus.Subscribe(4)

	bus.PublishNew(EventTypeTaskCreated, "task-1", "", nil)

	for _, ch := range []<-chan *Event{first, second} {
		event := <-ch
		assert.Equal(t, EventTypeTaskCreated, event.Type)
		assert.Equal(t, "task-1", event.ResourceID)
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.CreatedAt.IsZero())
	}
}

func TestSlowSubscriberLosesEventsWithoutBlocking(t *testing.T) {
	bus := New()
	_, slow := bus.Subscribe(1)

	bus.PublishNew(EventTypeTaskCreated, "one", "", nil)
	bus.PublishNew(EventTypeTaskCreated, "two", "", nil)
	bus.PublishNew(EventTypeTaskCreated, "three", "", nil)

	event := <-slow
	assert.Equal(t, "one", event.ResourceID)
	select {
	case unexpected := <-slow:
		t.Fatalf("overflow events must be dropped, got %v", unexpected.ResourceID)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New()
	id, ch := bus.Subscribe(1)

	bus.Unsubscribe(id)
	_, open := <-ch
	require.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishNew(EventTypeTaskUpdated, "task-1", "", nil)
}
