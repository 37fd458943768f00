package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/internal/gateway"
	"github.com/jarvishq/jarvis/internal/task"
)

// Router is the single fan-out point from raw gateway events to the task
// store and the in-process bus. Exactly one open task (matching session key,
// queued or in progress, not archived) receives each agent-scoped event; an
// event with no match is dropped without error, since events may legitimately
// arrive after a task has moved on.
type Router struct {
	store *task.Store
	bus   *eventbus.Bus
}

func NewRouter(store *task.Store, bus *eventbus.Bus) *Router {
	return &Router{store: store, bus: bus}
}

// Run consumes gateway events until ctx is cancelled. It is the only reader
// of the transport's event channel, so task store writes from events never
// race each other.
func (r *Router) Run(ctx context.Context, events <-chan gateway.Event) {
	slog.Info("session router started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("session router stopped")
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.route(ctx, event)
		}
	}
}

func (r *Router) route(ctx context.Context, event gateway.Event) {
	switch event.Stream {
	case gateway.StreamAssistant:
		text := event.AssistantText()
		if text == "" {
			return
		}
		r.appendToMatch(ctx, event.SessionKey, text)
	case gateway.StreamLifecycle:
		line := lifecycleLine(event)
		if line == "" {
			return
		}
		r.appendToMatch(ctx, event.SessionKey, line)
	case gateway.StreamPresence:
		r.bus.PublishNew(eventbus.EventTypePresence, gateway.AgentIDFromSessionKey(event.SessionKey), string(event.Data), nil)
	case gateway.StreamHealth:
		r.bus.PublishNew(eventbus.EventTypeHealth, "", string(event.Data), nil)
	case gateway.StreamTick:
		// Keepalive only.
	default:
		slog.Debug("session router: unknown stream", "stream", event.Stream)
	}
}

func (r *Router) appendToMatch(ctx context.Context, sessionKey, text string) {
	t, ok := r.store.FindBySessionKey(sessionKey)
	if !ok {
		return
	}
	if err := r.store.AppendEvidence(ctx, t.ID, text); err != nil {
		slog.Warn("session router: failed to append evidence", "task_id", t.ID, "error", err)
	}
}

// lifecycleLine renders a lifecycle phase as a synthetic evidence entry.
// Lifecycle events never change task status by themselves; transitions are
// decided after the dispatch RPC returns.
func lifecycleLine(event gateway.Event) string {
	agent := gateway.AgentIDFromSessionKey(event.SessionKey)
	switch event.LifecyclePhase() {
	case gateway.PhaseStart:
		return fmt.Sprintf("[session] agent %s started working", agent)
	case gateway.PhaseEnd:
		return fmt.Sprintf("[session] agent %s finished a turn", agent)
	case gateway.PhaseError:
		return fmt.Sprintf("[session] agent %s reported a session error", agent)
	default:
		return ""
	}
}
