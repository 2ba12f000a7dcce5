package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiopslab/task-dispatch/internal/api/handlers"
	apiMiddleware "github.com/aiopslab/task-dispatch/internal/api/middleware"
	"github.com/aiopslab/task-dispatch/internal/api/websocket"
	"github.com/aiopslab/task-dispatch/internal/config"
	"github.com/aiopslab/task-dispatch/internal/events"
	"github.com/aiopslab/task-dispatch/internal/store"
	"github.com/aiopslab/task-dispatch/internal/task"
	"github.com/aiopslab/task-dispatch/internal/worker"
)

func newTaskDefaults(cfg *config.Config) task.Defaults {
	return task.Defaults{
		BackendType:    task.BackendInternal,
		MaxSteps:       cfg.Worker.DefaultMaxSteps,
		TimeoutMinutes: cfg.Worker.DefaultTimeoutMinutes,
		Priority:       cfg.Worker.DefaultPriority,
	}
}

// Server wires the store-backed handlers, the worker manager facade, and
// the WebSocket hub behind a single chi router.
type Server struct {
	router *chi.Mux
	config *config.Config

	store     *store.Store
	registry  *worker.Registry
	manager   *worker.Manager
	publisher *events.RedisPubSub

	taskHandler         *handlers.TaskHandler
	workerHandler       *handlers.WorkerHandler
	conversationHandler *handlers.ConversationHandler
	opsHandler          *handlers.OpsHandler

	wsHub     *websocket.Hub
	wsHandler *websocket.Handler
}

// NewServer builds the HTTP API surface described in SPEC_FULL.md's
// external interfaces section, version the service reports in /.
func NewServer(cfg *config.Config, s *store.Store, registry *worker.Registry, mgr *worker.Manager, publisher *events.RedisPubSub, version string) *Server {
	wsHub := websocket.NewHub(publisher)

	defaults := newTaskDefaults(cfg)

	srv := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		store:     s,
		registry:  registry,
		manager:   mgr,
		publisher: publisher,

		taskHandler:         handlers.NewTaskHandler(s, publisher, defaults),
		workerHandler:       handlers.NewWorkerHandler(s, registry, mgr, cfg.Worker.NumInternalWorkers),
		conversationHandler: handlers.NewConversationHandler(s),
		opsHandler:          handlers.NewOpsHandler(s, version),

		wsHub:     wsHub,
		wsHandler: websocket.NewHandler(wsHub),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))

		if s.config.Server.RateLimitRPS > 0 {
			r.Use(apiMiddleware.ClientRateLimit(s.config.Server.RateLimitRPS))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/", s.taskHandler.List)
			r.Get("/stats", s.taskHandler.Stats)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Post("/{taskID}/cancel", s.taskHandler.Cancel)
			r.Get("/{taskID}/logs", s.taskHandler.Logs)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Post("/register", s.workerHandler.Register)
			r.Get("/", s.workerHandler.List)

			r.Route("/internal", func(r chi.Router) {
				r.Get("/status", s.workerHandler.InternalStatus)
				r.Post("/scale", s.workerHandler.InternalScale)
				r.Post("/start", s.workerHandler.InternalStart)
				r.Post("/stop", s.workerHandler.InternalStop)
			})

			r.Route("/{workerID}", func(r chi.Router) {
				r.Get("/", s.workerHandler.Get)
				r.Get("/stats", s.workerHandler.Stats)
				r.Post("/heartbeat", s.workerHandler.Heartbeat)
				r.Post("/claim", s.workerHandler.Claim)
				r.Post("/tasks/{taskID}/complete", s.workerHandler.Complete)
				r.Post("/tasks/{taskID}/fail", s.workerHandler.Fail)
			})
		})

		r.Route("/llm-conversations", func(r chi.Router) {
			r.Get("/", s.conversationHandler.List)
			r.Get("/stats/summary", s.conversationHandler.StatsSummary)
			r.Get("/task/{taskID}/conversations", s.conversationHandler.ForTask)
			r.Get("/{id}", s.conversationHandler.Get)
			r.Get("/{id}/messages", s.conversationHandler.Messages)
		})

		r.Get("/health", s.opsHandler.Health)
		r.Get("/queue/stats", s.opsHandler.QueueStats)
	})

	s.router.Get("/", s.opsHandler.Root)
	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start launches the WebSocket hub's broadcast loop.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router for use with http.Server.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Publisher returns the event publisher shared with the worker manager.
func (s *Server) Publisher() *events.RedisPubSub {
	return s.publisher
}
