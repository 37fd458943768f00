package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/pkg/cerr"
)

// Store holds the live task collection. It is the only writer of task state;
// scheduler ticks, the event router and the HTTP surface all serialize
// through its lock, and no mutation is ever partially applied.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*Task
	repo  Repository
	bus   *eventbus.Bus
	now   func() time.Time
}

func NewStore(repo Repository, bus *eventbus.Bus) *Store {
	return &Store{
		tasks: make(map[string]*Task),
		repo:  repo,
		bus:   bus,
		now:   time.Now,
	}
}

// Load replaces the in-memory collection with the persisted one. Malformed
// documents were already skipped by the repository; a load failure leaves the
// store empty rather than failing startup.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	tasks, err := s.repo.LoadAll(ctx)
	if err != nil {
		slog.Warn("task store: starting from empty state", "error", err)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return nil
}

type CreateRequest struct {
	Title              string
	Description        string
	Priority           Priority
	AssignedAgentID    string
	ScheduledAt        *time.Time
	ProjectID          string
	ProjectName        string
	ProjectColor       string
	IsVerificationTask bool
	VerificationRound  int
}

func (s *Store) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	if req.Title == "" {
		return nil, cerr.NewError(cerr.InvalidArgument, "task title cannot be empty", nil)
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if priority.Rank() > PriorityLow.Rank() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown priority %q", req.Priority), nil)
	}

	now := s.now()
	t := &Task{
		ID:                 ulid.Make().String(),
		Title:              req.Title,
		Description:        req.Description,
		Status:             StatusScheduled,
		Priority:           priority,
		AssignedAgentID:    req.AssignedAgentID,
		CreatedAt:          now,
		UpdatedAt:          now,
		ScheduledAt:        req.ScheduledAt,
		ProjectID:          req.ProjectID,
		ProjectName:        req.ProjectName,
		ProjectColor:       req.ProjectColor,
		IsVerificationTask: req.IsVerificationTask,
		VerificationRound:  req.VerificationRound,
	}

	s.mu.Lock()
	s.tasks[t.ID] = t
	clone := t.Clone()
	s.persistLocked(ctx, t)
	s.mu.Unlock()

	s.notify(eventbus.EventTypeTaskCreated, t.ID, nil)
	return clone, nil
}

type UpdateFields struct {
	Title           *string
	Description     *string
	Priority        *Priority
	AssignedAgentID *string
	ScheduledAt     *time.Time
	ProjectID       *string
	ProjectName     *string
	ProjectColor    *string
	IsVerified      *bool
	Archived        *bool
}

func (s *Store) Update(ctx context.Context, id string, fields UpdateFields) (*Task, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Priority != nil {
		t.Priority = *fields.Priority
	}
	if fields.AssignedAgentID != nil {
		t.AssignedAgentID = *fields.AssignedAgentID
	}
	if fields.ScheduledAt != nil {
		at := *fields.ScheduledAt
		t.ScheduledAt = &at
	}
	if fields.ProjectID != nil {
		t.ProjectID = *fields.ProjectID
	}
	if fields.ProjectName != nil {
		t.ProjectName = *fields.ProjectName
	}
	if fields.ProjectColor != nil {
		t.ProjectColor = *fields.ProjectColor
	}
	if fields.IsVerified != nil {
		t.IsVerified = *fields.IsVerified
	}
	if fields.Archived != nil {
		t.Archived = *fields.Archived
	}
	t.UpdatedAt = s.now()
	clone := t.Clone()
	s.persistLocked(ctx, t)
	s.mu.Unlock()

	s.notify(eventbus.EventTypeTaskUpdated, id, nil)
	return clone, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	delete(s.tasks, id)
	if s.repo != nil {
		if err := s.repo.Delete(ctx, id); err != nil {
			slog.Warn("task store: failed to delete persisted task", "task_id", id, "error", err)
		}
	}
	s.mu.Unlock()

	s.notify(eventbus.EventTypeTaskDeleted, id, nil)
	return nil
}

// Move transitions a task to a new status. Moving to the current status is a
// no-op: state and evidence stay untouched and no observers fire.
func (s *Store) Move(ctx context.Context, id string, to Status) (*Task, error) {
	if !to.Valid() {
		return nil, cerr.NewError(cerr.InvalidArgument, fmt.Sprintf("unknown status %q", to), nil)
	}
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	if t.Status == to {
		clone := t.Clone()
		s.mu.Unlock()
		return clone, nil
	}
	from := t.Status
	t.Status = to
	t.UpdatedAt = s.now()
	clone := t.Clone()
	s.persistLocked(ctx, t)
	s.mu.Unlock()

	s.notify(eventbus.EventTypeTaskMoved, id, map[string]string{
		"from": string(from),
		"to":   string(to),
	})
	return clone, nil
}

func (s *Store) AppendEvidence(ctx context.Context, id, text string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	now := s.now()
	t.Evidence = append(t.Evidence, EvidenceEntry{At: now, Text: text})
	t.LastEvidence = text
	t.UpdatedAt = now
	s.persistLocked(ctx, t)
	s.mu.Unlock()

	s.notify(eventbus.EventTypeTaskEvidence, id, nil)
	return nil
}

// BindSession sets the task's execution session key if it has none yet. The
// key never changes afterwards so the agent keeps one contiguous
// conversation across every dispatch of the task.
func (s *Store) BindSession(ctx context.Context, id, key string) (string, error) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return "", cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	if t.ExecutionSessionKey != "" {
		key = t.ExecutionSessionKey
		s.mu.Unlock()
		return key, nil
	}
	t.ExecutionSessionKey = key
	s.persistLocked(ctx, t)
	s.mu.Unlock()
	return key, nil
}

func (s *Store) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (s *Store) TasksFor(status Status) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}

// Snapshot returns every task in the scheduler's total order.
func (s *Store) Snapshot() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sortTasks(out)
	return out
}

// FindBySessionKey returns the open task bound to the given session key.
// Events for tasks that have moved on find no match and are dropped.
func (s *Store) FindBySessionKey(key string) (*Task, bool) {
	if key == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ExecutionSessionKey == key && t.IsOpen() {
			return t.Clone(), true
		}
	}
	return nil, false
}

func (s *Store) persistLocked(ctx context.Context, t *Task) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, t); err != nil {
		slog.Warn("task store: failed to persist task", "task_id", t.ID, "error", err)
	}
}

func (s *Store) notify(eventType eventbus.EventType, id string, metadata map[string]string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishNew(eventType, id, "", metadata)
}

func sortTasks(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return Less(tasks[i], tasks[j])
	})
}
