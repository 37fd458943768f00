package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/jarvishq/jarvis/internal/agent"
	"github.com/jarvishq/jarvis/internal/config"
	"github.com/jarvishq/jarvis/internal/eventbus"
	"github.com/jarvishq/jarvis/internal/gateway"
	"github.com/jarvishq/jarvis/internal/intervention"
	"github.com/jarvishq/jarvis/internal/outcome"
	"github.com/jarvishq/jarvis/internal/project"
	projectrepo "github.com/jarvishq/jarvis/internal/project/repositoryimpl"
	"github.com/jarvishq/jarvis/internal/pushnotification"
	pushsubrepo "github.com/jarvishq/jarvis/internal/pushsubscription/repositoryimpl"
	"github.com/jarvishq/jarvis/internal/scheduler"
	"github.com/jarvishq/jarvis/internal/server"
	"github.com/jarvishq/jarvis/internal/session"
	"github.com/jarvishq/jarvis/internal/task"
	taskrepo "github.com/jarvishq/jarvis/internal/task/repositoryimpl"
	"github.com/jarvishq/jarvis/pkg/clog"
	"github.com/jarvishq/jarvis/pkg/sentinel"
	"github.com/jarvishq/jarvis/pkg/storage"
)

var (
	app = kingpin.New("jarvis", "Supervisor that drives agent task execution through a gateway")

	runCmd      = app.Command("run", "Run the supervisor")
	sentinelCmd = app.Command("sentinel", "Run under the self-updating supervisor")

	statusCmd = app.Command("status", "Show supervisor status")
	resumeCmd = app.Command("resume", "Resume paused execution")

	taskCmd = app.Command("task", "Task management commands")

	taskCreateCmd      = taskCmd.Command("create", "Create a task")
	taskCreateTitle    = taskCreateCmd.Arg("title", "Task title").Required().String()
	taskCreateDesc     = taskCreateCmd.Flag("description", "Task description").String()
	taskCreatePriority = taskCreateCmd.Flag("priority", "urgent, high, medium or low").Default("medium").String()
	taskCreateAgent    = taskCreateCmd.Flag("agent", "Assigned agent id").String()
	taskCreateProject  = taskCreateCmd.Flag("project", "Project id").String()

	taskListCmd    = taskCmd.Command("list", "List tasks")
	taskListStatus = taskListCmd.Flag("status", "Filter by status").String()

	taskMoveCmd    = taskCmd.Command("move", "Move a task to a new status")
	taskMoveID     = taskMoveCmd.Arg("id", "Task ID").Required().String()
	taskMoveStatus = taskMoveCmd.Arg("status", "New status").Required().String()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case runCmd.FullCommand():
		run()
	case sentinelCmd.FullCommand():
		sentinel.Run()
	case statusCmd.FullCommand():
		cliMain(func(c *apiClient) error { return c.status() })
	case resumeCmd.FullCommand():
		cliMain(func(c *apiClient) error { return c.resume() })
	case taskCreateCmd.FullCommand():
		cliMain(func(c *apiClient) error {
			return c.createTask(*taskCreateTitle, *taskCreateDesc, *taskCreatePriority, *taskCreateAgent, *taskCreateProject)
		})
	case taskListCmd.FullCommand():
		cliMain(func(c *apiClient) error { return c.listTasks(*taskListStatus) })
	case taskMoveCmd.FullCommand():
		cliMain(func(c *apiClient) error { return c.moveTask(*taskMoveID, *taskMoveStatus) })
	}
}

func cliMain(f func(c *apiClient) error) {
	env, err := config.LoadEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := f(newAPIClient(env)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocal(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	bus := eventbus.New()

	// Repositories and stores
	taskStore := task.NewStore(taskrepo.NewJSONRepository(store), bus)
	if err := taskStore.Load(context.Background()); err != nil {
		slog.Error("failed to load tasks", "error", err)
		os.Exit(1)
	}
	var projectRepo project.Repository = projectrepo.NewJSONRepository(store)
	pushSubRepo := pushsubrepo.NewYAMLRepository(store)

	// Agent roster
	agents := agent.NewRegistry()
	if err := agents.LoadFile(env.SchedulerEnv.AgentsFile); err != nil {
		slog.Warn("using default agent roster", "path", env.SchedulerEnv.AgentsFile, "error", err)
	}

	// Gateway connection
	gw, err := gateway.NewClient(config.GatewayEnvFromEnv(env), bus)
	if err != nil {
		slog.Error("failed to create gateway client", "error", err)
		os.Exit(1)
	}

	// Push notifications
	pushSender := pushnotification.NewSender(config.PushEnvFromEnv(env), pushSubRepo)

	// Issue routing and scheduling
	issueRouter := outcome.NewRouter(taskStore, agents, pushSender)
	sched := scheduler.New(taskStore, gw, issueRouter, bus,
		env.SchedulerEnv.TickInterval, env.SchedulerEnv.CoordinatorAgent)

	detector := intervention.NewDetector(
		taskStore,
		sched,
		gw,
		pushSender,
		intervention.NewStateStore(store),
		intervention.NewReportWriter(env.SchedulerEnv.ReportsDir),
		env.SchedulerEnv.CoordinatorAgent,
	)
	sched.SetDetector(detector)

	sessionRouter := session.NewRouter(taskStore, bus)

	srv := server.NewServer(env, taskStore, projectRepo, agents, gw, sched, pushSubRepo, pushSender)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	go gw.Run(ctx)
	go sessionRouter.Run(ctx, gw.Events())
	go sched.Run(ctx)

	go func() {
		if err := srv.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	gw.Close()
}
