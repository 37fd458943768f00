package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"github.com/jarvishq/jarvis/internal/agent"
	"github.com/jarvishq/jarvis/internal/config"
	"github.com/jarvishq/jarvis/internal/gateway"
	"github.com/jarvishq/jarvis/internal/project"
	"github.com/jarvishq/jarvis/internal/pushnotification"
	"github.com/jarvishq/jarvis/internal/pushsubscription"
	"github.com/jarvishq/jarvis/internal/scheduler"
	"github.com/jarvishq/jarvis/internal/task"
	"github.com/jarvishq/jarvis/pkg/cerr"
	"github.com/jarvishq/jarvis/pkg/clog"
)

// Server is the local observation and control surface. It never mutates
// scheduler internals directly; everything goes through the store and the
// scheduler's public switches.
type Server struct {
	server *http.Server
	env    *config.Env

	store     *task.Store
	projects  project.Repository
	agents    *agent.Registry
	gateway   *gateway.Client
	scheduler *scheduler.Scheduler
	pushEnv   *config.PushEnv
	pushRepo  pushsubscription.Repository
	pushSend  *pushnotification.Sender
}

func NewServer(
	env *config.Env,
	store *task.Store,
	projects project.Repository,
	agents *agent.Registry,
	gw *gateway.Client,
	sched *scheduler.Scheduler,
	pushRepo pushsubscription.Repository,
	pushSend *pushnotification.Sender,
) *Server {
	return &Server{
		env:       env,
		store:     store,
		projects:  projects,
		agents:    agents,
		gateway:   gw,
		scheduler: sched,
		pushEnv:   config.PushEnvFromEnv(env),
		pushRepo:  pushRepo,
		pushSend:  pushSend,
	}
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONResponseChiMiddleware(),
		)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})

		r.Get("/status", s.handleStatus)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/move", s.handleMoveTask)
				r.Post("/evidence", s.handleAppendEvidence)
			})
		})

		r.Get("/projects", s.handleListProjects)
		r.Get("/agents", s.handleListAgents)

		r.Post("/execution/pause", s.handlePauseExecution)
		r.Post("/execution/resume", s.handleResumeExecution)

		r.Route("/push", func(r chi.Router) {
			r.Get("/vapid-key", s.handleVAPIDKey)
			r.Post("/subscriptions", s.handleCreateSubscription)
			r.Delete("/subscriptions", s.handleDeleteSubscription)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	return mux
}

// ListenAndServe starts the HTTP server. The provided context becomes the
// base context of every request, so cancelling it on shutdown also cancels
// in-flight handlers.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.server = &http.Server{
		Addr: addr,
		Handler: cors.New(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: true,
		}).Handler(s.Handler()),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
