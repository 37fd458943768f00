package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/jarvishq/jarvis/internal/pushsubscription"
	"github.com/jarvishq/jarvis/internal/task"
	"github.com/jarvishq/jarvis/pkg/cerr"
)

type statusResponse struct {
	Gateway     any      `json:"gateway"`
	Paused      bool     `json:"paused"`
	PauseReason string   `json:"pauseReason,omitempty"`
	BusyAgents  []string `json:"busyAgents"`
	TaskCounts  any      `json:"taskCounts"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[task.Status]int{}
	for _, t := range s.store.Snapshot() {
		if t.Archived {
			continue
		}
		counts[t.Status]++
	}
	cerr.SetJSONResponse(r.Context(), statusResponse{
		Gateway:     s.gateway.State(),
		Paused:      s.scheduler.IsPaused(),
		PauseReason: s.scheduler.PauseReason(),
		BusyAgents:  s.scheduler.BusyAgents(),
		TaskCounts:  counts,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status != "" {
		if !task.Status(status).Valid() {
			cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "unknown status", nil)
			return
		}
		cerr.SetJSONResponse(r.Context(), s.store.TasksFor(task.Status(status)))
		return
	}
	cerr.SetJSONResponse(r.Context(), s.store.Snapshot())
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.store.Get(chi.URLParam(r, "taskID"))
	if !ok {
		cerr.SetNewJSONError(r.Context(), cerr.NotFound, "task not found", nil)
		return
	}
	cerr.SetJSONResponse(r.Context(), t)
}

type createTaskRequest struct {
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Priority           task.Priority `json:"priority"`
	AssignedAgentID    string        `json:"assignedAgentId"`
	ScheduledAt        *time.Time    `json:"scheduledAt"`
	ProjectID          string        `json:"projectId"`
	ProjectName        string        `json:"projectName"`
	ProjectColor       string        `json:"projectColor"`
	IsVerificationTask bool          `json:"isVerificationTask"`
	VerificationRound  int           `json:"verificationRound"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.AssignedAgentID == "" {
		if a := s.agents.Default(); a != nil {
			req.AssignedAgentID = a.ID
		}
	}
	t, err := s.store.Create(r.Context(), task.CreateRequest{
		Title:              req.Title,
		Description:        req.Description,
		Priority:           req.Priority,
		AssignedAgentID:    req.AssignedAgentID,
		ScheduledAt:        req.ScheduledAt,
		ProjectID:          req.ProjectID,
		ProjectName:        req.ProjectName,
		ProjectColor:       req.ProjectColor,
		IsVerificationTask: req.IsVerificationTask,
		VerificationRound:  req.VerificationRound,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, t)
}

type updateTaskRequest struct {
	Title           *string        `json:"title"`
	Description     *string        `json:"description"`
	Priority        *task.Priority `json:"priority"`
	AssignedAgentID *string        `json:"assignedAgentId"`
	ScheduledAt     *time.Time     `json:"scheduledAt"`
	ProjectID       *string        `json:"projectId"`
	ProjectName     *string        `json:"projectName"`
	ProjectColor    *string        `json:"projectColor"`
	IsVerified      *bool          `json:"isVerified"`
	Archived        *bool          `json:"archived"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.store.Update(r.Context(), chi.URLParam(r, "taskID"), task.UpdateFields{
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		AssignedAgentID: req.AssignedAgentID,
		ScheduledAt:     req.ScheduledAt,
		ProjectID:       req.ProjectID,
		ProjectName:     req.ProjectName,
		ProjectColor:    req.ProjectColor,
		IsVerified:      req.IsVerified,
		Archived:        req.Archived,
	})
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "taskID")); err != nil {
		cerr.SetJSONError(r.Context(), err)
	}
}

type moveTaskRequest struct {
	Status task.Status `json:"status"`
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var req moveTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	t, err := s.store.Move(r.Context(), chi.URLParam(r, "taskID"), req.Status)
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), t)
}

type appendEvidenceRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleAppendEvidence(w http.ResponseWriter, r *http.Request) {
	var req appendEvidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Text == "" {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "evidence text cannot be empty", nil)
		return
	}
	if err := s.store.AppendEvidence(r.Context(), chi.URLParam(r, "taskID"), req.Text); err != nil {
		cerr.SetJSONError(r.Context(), err)
	}
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List(r.Context())
	if err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponse(r.Context(), projects)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	cerr.SetJSONResponse(r.Context(), s.agents.List())
}

type pauseRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handlePauseExecution(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "paused by operator"
	}
	s.scheduler.Pause(reason)
}

func (s *Server) handleResumeExecution(w http.ResponseWriter, r *http.Request) {
	s.scheduler.Resume()
}

func (s *Server) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if s.pushEnv.VAPIDPublicKey == "" {
		cerr.SetNewJSONError(r.Context(), cerr.FailedPrecondition, "push notifications are not configured", nil)
		return
	}
	cerr.SetJSONResponse(r.Context(), map[string]string{"publicKey": s.pushEnv.VAPIDPublicKey})
}

type createSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "endpoint and keys are required", nil)
		return
	}
	if _, err := s.pushRepo.FindByEndpoint(r.Context(), req.Endpoint); err == nil {
		// Re-subscribing the same browser is fine.
		return
	}
	sub := &pushsubscription.Subscription{
		ID:        ulid.Make().String(),
		Endpoint:  req.Endpoint,
		P256dhKey: req.Keys.P256dh,
		AuthKey:   req.Keys.Auth,
		CreatedAt: time.Now(),
	}
	if err := s.pushRepo.Create(r.Context(), sub); err != nil {
		cerr.SetJSONError(r.Context(), err)
		return
	}
	cerr.SetJSONResponseStatus(r.Context(), http.StatusCreated, sub)
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	var req deleteSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		cerr.SetNewJSONError(r.Context(), cerr.InvalidArgument, "invalid request body", err)
		return
	}
	if err := s.pushRepo.DeleteByEndpoint(r.Context(), req.Endpoint); err != nil {
		cerr.SetJSONError(r.Context(), err)
	}
}
