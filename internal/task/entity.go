package task

import (
	"strings"
	"time"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "inProgress"
	StatusDone       Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusQueued, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for the scheduler; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

type EvidenceEntry struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

type Task struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Description         string          `json:"description,omitempty"`
	Status              Status          `json:"status"`
	Priority            Priority        `json:"priority"`
	AssignedAgentID     string          `json:"assignedAgentId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
	ScheduledAt         *time.Time      `json:"scheduledAt,omitempty"`
	ProjectID           string          `json:"projectId,omitempty"`
	ProjectName         string          `json:"projectName,omitempty"`
	ProjectColor        string          `json:"projectColor,omitempty"`
	IsVerificationTask  bool            `json:"isVerificationTask,omitempty"`
	VerificationRound   int             `json:"verificationRound,omitempty"`
	IsVerified          bool            `json:"isVerified,omitempty"`
	Archived            bool            `json:"archived,omitempty"`
	Evidence            []EvidenceEntry `json:"evidence"`
	LastEvidence        string          `json:"lastEvidence,omitempty"`
	ExecutionSessionKey string          `json:"executionSessionKey,omitempty"`
}

// Clone returns a deep copy so callers can never mutate store state.
func (t *Task) Clone() *Task {
	c := *t
	c.Evidence = append([]EvidenceEntry(nil), t.Evidence...)
	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		c.ScheduledAt = &at
	}
	return &c
}

// IsOpen reports whether the task can still receive gateway events.
func (t *Task) IsOpen() bool {
	if t.Archived {
		return false
	}
	return t.Status == StatusQueued || t.Status == StatusInProgress
}

// NormalizeAgent canonicalizes an agent token for reservation comparisons.
func NormalizeAgent(agent string) string {
	return strings.ToLower(strings.TrimSpace(agent))
}

// Less is the scheduler's total order: priority rank, then least recently
// updated, then oldest created, then id as the final tie break.
func Less(a, b *Task) bool {
	if ar, br := a.Priority.Rank(), b.Priority.Rank(); ar != br {
		return ar < br
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
