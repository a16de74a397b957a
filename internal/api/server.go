package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"SmartTodo/internal/auth"
	"SmartTodo/internal/observability/alerting"
	"SmartTodo/internal/observability/metrics"
	"SmartTodo/internal/todo"
	"SmartTodo/pkg/logger"
)

const (
	defaultMaxBodyBytes    int64 = 1 << 20
	defaultShutdownTimeout       = 5 * time.Second
	eventsPath                   = "/api/v1/events"
)

// Options 控制 HTTP 服务的监听与限制。
type Options struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// MaxBodyBytes 限制请求体大小，默认 1 MiB。
	MaxBodyBytes int64
	// MetricsPath 为空时不在 API 端口暴露指标。
	MetricsPath string
}

// Server 负责暴露待办 REST 接口与变更推送。
type Server struct {
	opts   Options
	todos  *todo.Service
	auth   *auth.Service
	hub    http.Handler
	alerts alerting.Dispatcher
	log    *slog.Logger
	router *mux.Router
}

// NewServer 构造 API 服务实例，hub 与 alerts 可以为空。
func NewServer(opts Options, todos *todo.Service, authSvc *auth.Service, hub http.Handler, alerts alerting.Dispatcher) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		opts:   opts,
		todos:  todos,
		auth:   authSvc,
		hub:    hub,
		alerts: alerts,
		log:    logger.Named("api"),
	}
	s.router = s.routes()
	return s
}

// Handler 返回完整的路由处理器。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusNotFound, "NOT_FOUND", "route not found", "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", "")
	})
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.MetricsPath != "" {
		r.Handle(s.opts.MetricsPath, metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/api/v1/auth/token", s.handleToken).Methods(http.MethodPost)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	if s.auth != nil {
		v1.Use(s.auth.Middleware(auth.MiddlewareConfig{
			AllowQueryToken: func(req *http.Request) bool { return req.URL.Path == eventsPath },
			Deny:            s.writeError,
			AuditEvent:      "todo_api",
		}))
	}
	v1.Use(captureUser)

	v1.HandleFunc("/todos", s.handleListTodos).Methods(http.MethodGet)
	v1.HandleFunc("/todos", s.handleCreateTodo).Methods(http.MethodPost)
	v1.HandleFunc("/todos/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/todos/completed", s.handleClearCompleted).Methods(http.MethodDelete)
	v1.HandleFunc("/todos/{id}", s.handleGetTodo).Methods(http.MethodGet)
	v1.HandleFunc("/todos/{id}", s.handleUpdateTodo).Methods(http.MethodPatch)
	v1.HandleFunc("/todos/{id}", s.handleDeleteTodo).Methods(http.MethodDelete)

	v1.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	v1.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	v1.HandleFunc("/categories/{id}", s.handleUpdateCategory).Methods(http.MethodPatch)
	v1.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)

	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.Address,
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.opts.ReadTimeout,
		WriteTimeout:      s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API 服务已启动", slog.String("address", s.opts.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.todos == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "service unavailable", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.todos.Ping(ctx); err != nil {
		s.log.Warn("健康检查失败", slog.Any("error", err))
		writeJSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "storage unavailable", "")
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "change feed disabled", "")
		return
	}
	s.hub.ServeHTTP(w, r)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSONError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "server shutting down", "")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
