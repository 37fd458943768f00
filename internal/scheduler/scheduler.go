package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/internal/outcome"
	"github.com/jarvishq/jarvis/internal/task"
	"github.com/jarvishq/jarvis/pkg/panicerr"
)

// Retry cooldowns applied when a dispatch does not finish a task.
const (
	continueCooldown = 10 * time.Second
	retryCooldown    = 20 * time.Second
	blockedCooldown  = 45 * time.Second
	// escalationInterval rate-limits blocked-verification escalations per task.
	escalationInterval = 180 * time.Second
)

// Gateway is the transport surface the scheduler needs.
type Gateway interface {
	IsConnected() bool
	Prompt(ctx context.Context, agentID, sessionKey, prompt string) (string, error)
	SendNotice(ctx context.Context, agentID, message string) error
}

// Detector runs one intervention pass; wired in as the last tick step.
type Detector interface {
	Scan(ctx context.Context) bool
}

// Scheduler drives the task queue: a single loop goroutine owns promotion,
// ordering, per-agent reservation and cooldowns, and spawns one independent
// dispatch unit per task. All orchestration state (busy set, cooldowns,
// pause flag) lives here and is only read elsewhere through snapshots.
type Scheduler struct {
	store       *task.Store
	gateway     Gateway
	issues      *outcome.Router
	detector    Detector
	bus         *eventbus.Bus
	coordinator string

	tickInterval time.Duration

	mu          sync.Mutex
	busy        map[string]string    // task id -> normalized agent token, dispatch in flight
	cooldowns   map[string]time.Time // task id -> eligible at
	escalatedAt map[string]time.Time // task id -> last blocked escalation
	paused      bool
	pauseReason string

	ticking atomic.Bool
	dirty   chan struct{}
	wg      *conc.WaitGroup
	now     func() time.Time
}

func New(store *task.Store, gw Gateway, issues *outcome.Router, bus *eventbus.Bus,
	tickInterval time.Duration, coordinator string) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = 3 * time.Second
	}
	return &Scheduler{
		store:        store,
		gateway:      gw,
		issues:       issues,
		bus:          bus,
		coordinator:  coordinator,
		tickInterval: tickInterval,
		busy:         make(map[string]string),
		cooldowns:    make(map[string]time.Time),
		escalatedAt:  make(map[string]time.Time),
		dirty:        make(chan struct{}, 1),
		wg:           conc.NewWaitGroup(),
		now:          time.Now,
	}
}

// SetDetector wires the intervention detector. Separate from New because the
// detector needs the scheduler as its Pauser.
func (s *Scheduler) SetDetector(d Detector) {
	s.detector = d
}

// Run drives ticks until ctx is cancelled. Store mutations and completed
// dispatches kick the dirty channel so ready work starts without waiting for
// the timer. In-flight dispatch units are not forcibly cancelled on
// shutdown; they complete and apply their own transition.
func (s *Scheduler) Run(ctx context.Context) {
	subID, events := s.bus.Subscribe(256)
	defer s.bus.Unsubscribe(subID)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "tick_interval", s.tickInterval)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-s.dirty:
			s.Tick(ctx)
		case event, ok := <-events:
			if !ok {
				return
			}
			if kicksTick(event.Type) {
				s.Tick(ctx)
			}
		}
	}
}

func kicksTick(t eventbus.EventType) bool {
	switch t {
	case eventbus.EventTypeTaskCreated,
		eventbus.EventTypeTaskUpdated,
		eventbus.EventTypeTaskMoved,
		eventbus.EventTypeConnectionState,
		eventbus.EventTypeExecutionResume:
		return true
	}
	return false
}

// Tick runs one scheduling pass. A tick arriving while one is already
// running is dropped, not queued.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		return
	}
	defer s.ticking.Store(false)

	if !s.gateway.IsConnected() || s.IsPaused() {
		return
	}

	now := s.now()
	s.promote(ctx, now)

	candidates := s.store.Snapshot()
	reserved := s.reservedAgents()

	// Resume pass: inProgress tasks with no dispatch in flight, typically
	// left over from a previous process run.
	for _, t := range candidates {
		if t.Archived || t.Status != task.StatusInProgress {
			continue
		}
		if s.hasDispatch(t.ID) || !s.eligible(t.ID, now) {
			continue
		}
		agent := task.NormalizeAgent(t.AssignedAgentID)
		if agent == "" || reserved[agent] {
			continue
		}
		reserved[agent] = true
		s.startDispatch(t, agent)
	}

	// Dispatch pass, in the candidate total order.
	for _, t := range candidates {
		if t.Archived || t.Status != task.StatusQueued {
			continue
		}
		if !s.eligible(t.ID, now) {
			continue
		}
		agent := task.NormalizeAgent(t.AssignedAgentID)
		if agent == "" || reserved[agent] {
			continue
		}
		if t.IsVerificationTask && s.projectHasOutstandingWork(candidates, t.ProjectID, t.ID) {
			continue
		}

		if _, err := s.store.Move(ctx, t.ID, task.StatusInProgress); err != nil {
			slog.Warn("scheduler: failed to move task to inProgress", "task_id", t.ID, "error", err)
			continue
		}
		if err := s.store.AppendEvidence(ctx, t.ID, "[scheduler] dequeued for agent "+agent); err != nil {
			slog.Warn("scheduler: failed to append dequeue evidence", "task_id", t.ID, "error", err)
		}
		reserved[agent] = true
		s.startDispatch(t, agent)
	}

	if s.detector != nil {
		s.detector.Scan(ctx)
	}
}

// promote moves every due scheduled task into the queue. Already queued
// tasks are untouched.
func (s *Scheduler) promote(ctx context.Context, now time.Time) {
	for _, t := range s.store.TasksFor(task.StatusScheduled) {
		if t.Archived {
			continue
		}
		if t.ScheduledAt != nil && t.ScheduledAt.After(now) {
			continue
		}
		if _, err := s.store.Move(ctx, t.ID, task.StatusQueued); err != nil {
			slog.Warn("scheduler: failed to promote task", "task_id", t.ID, "error", err)
			continue
		}
		evidence := "[scheduler] promoted to queue at " + now.UTC().Format(time.RFC3339)
		if err := s.store.AppendEvidence(ctx, t.ID, evidence); err != nil {
			slog.Warn("scheduler: failed to append promotion evidence", "task_id", t.ID, "error", err)
		}
	}
}

// projectHasOutstandingWork gates verification tasks: verification waits
// until every non-verification task of the project is done or archived.
func (s *Scheduler) projectHasOutstandingWork(candidates []*task.Task, projectID, excludeID string) bool {
	for _, t := range candidates {
		if t.Archived || t.IsVerificationTask || t.ID == excludeID {
			continue
		}
		if t.ProjectID != projectID {
			continue
		}
		if t.Status != task.StatusDone {
			return true
		}
	}
	return false
}

func (s *Scheduler) startDispatch(t *task.Task, agent string) {
	s.mu.Lock()
	s.busy[t.ID] = agent
	s.mu.Unlock()

	s.wg.Go(func() {
		if err := panicerr.Safe(func() error {
			s.dispatch(context.Background(), t, agent)
			return nil
		})(); err != nil {
			slog.Error("scheduler: dispatch panicked", "task_id", t.ID, "error", err)
		}
		s.mu.Lock()
		delete(s.busy, t.ID)
		s.mu.Unlock()
		s.kick()
	})
}

// kick requests an immediate re-tick without blocking; a pending kick is
// enough.
func (s *Scheduler) kick() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Scheduler) eligible(taskID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, ok := s.cooldowns[taskID]
	return !ok || !now.Before(deadline)
}

func (s *Scheduler) setCooldown(taskID string, d time.Duration) {
	s.mu.Lock()
	s.cooldowns[taskID] = s.now().Add(d)
	s.mu.Unlock()
}

func (s *Scheduler) hasDispatch(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[taskID]
	return ok
}

// reservedAgents seeds the per-tick reservation set from dispatches already
// in flight. Reservations made later in the same tick are added in tick
// order, so within a tick a lower-priority task can never take an agent from
// a higher-priority one.
func (s *Scheduler) reservedAgents() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reserved := make(map[string]bool, len(s.busy))
	for _, agent := range s.busy {
		reserved[agent] = true
	}
	return reserved
}

// BusyAgents is a read-only snapshot for observers.
func (s *Scheduler) BusyAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool, len(s.busy))
	var agents []string
	for _, agent := range s.busy {
		if !seen[agent] {
			seen[agent] = true
			agents = append(agents, agent)
		}
	}
	return agents
}

// Pause stops all scheduling until Resume. Used by the intervention
// detector and the control API.
func (s *Scheduler) Pause(reason string) {
	s.mu.Lock()
	alreadyPaused := s.paused
	s.paused = true
	s.pauseReason = reason
	s.mu.Unlock()
	if !alreadyPaused {
		s.bus.PublishNew(eventbus.EventTypeExecutionPaused, "", reason, nil)
		slog.Warn("execution paused", "reason", reason)
	}
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	wasPaused := s.paused
	s.paused = false
	s.pauseReason = ""
	s.mu.Unlock()
	if wasPaused {
		s.bus.PublishNew(eventbus.EventTypeExecutionResume, "", "", nil)
		slog.Info("execution resumed")
	}
	s.kick()
}

func (s *Scheduler) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) PauseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseReason
}
