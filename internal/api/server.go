package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/observability/metrics"
	"AgentHub/internal/orchestrator"
	"AgentHub/internal/worker"
	"AgentHub/pkg/logger"
)

const maxBodyBytes = 1 << 20

// CommandRequest 是提交命令的请求体。
type CommandRequest struct {
	Command   string         `json:"command"`
	SessionID string         `json:"session_id,omitempty"`
	Target    string         `json:"target,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// CommandResponse 是提交命令的响应体。
type CommandResponse struct {
	SessionID string        `json:"session_id"`
	Result    worker.Result `json:"result"`
}

// Server 负责暴露 REST 接口，供外部提交命令。
type Server struct {
	addr        string
	orch        *orchestrator.Orchestrator
	metrics     *metrics.Collector
	metricsPath string
	logger      *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 在指定路径暴露 Prometheus 指标并记录请求指标。
func WithMetrics(c *metrics.Collector, path string) Option {
	return func(s *Server) {
		s.metrics = c
		if path != "" {
			s.metricsPath = path
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{addr: addr, orch: orch, metricsPath: "/metrics", logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回挂载了全部路由的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "/api/v1/commands", "commands", s.handleCommands)
	s.handle(mux, "/api/v1/registry", "registry", s.handleRegistry)
	s.handle(mux, "/api/v1/rules", "rules", s.handleRules)
	s.handle(mux, "/api/v1/sessions/", "sessions", s.handleSession)
	s.handle(mux, "/api/v1/workers/", "workers", s.handleWorkerAction)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle(s.metricsPath, s.metrics.Handler())
	}
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern, name string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.Middleware(name, h)
	}
	mux.Handle(pattern, h)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	var req CommandRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		http.Error(w, "command 不能为空", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	result := s.orch.SubmitCommand(r.Context(), req.Command, orchestrator.CallerContext{
		SessionID: req.SessionID,
		Target:    req.Target,
		Data:      req.Data,
	})
	writeJSON(w, statusFor(result), CommandResponse{SessionID: req.SessionID, Result: result})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Rules())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/"), "/")
	if id == "" {
		http.Error(w, "缺少会话 ID", http.StatusBadRequest)
		return
	}
	sess, err := s.orch.Session(r.Context(), id)
	if xerrors.Is(err, xerrors.CodeNotFound) {
		http.Error(w, "会话不存在", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("读取会话失败", slog.String("session_id", id), slog.Any("error", err))
		http.Error(w, "读取会话失败", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// handleWorkerAction 处理 /api/v1/workers/{id}/reactivate。
func (s *Server) handleWorkerAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/workers/"), "/")
	id, action, ok := strings.Cut(rest, "/")
	if !ok || id == "" || action != "reactivate" {
		http.Error(w, "未知的 worker 操作", http.StatusNotFound)
		return
	}
	result := s.orch.Reactivate(r.Context(), id)
	writeJSON(w, statusFor(result), result)
}

// statusFor 将统一错误码映射为 HTTP 状态码。
func statusFor(result worker.Result) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.Code {
	case xerrors.CodeInvalidArgument, xerrors.CodeAutoRoutingDisabled:
		return http.StatusBadRequest
	case xerrors.CodeTargetNotFound, xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeNoRouteFound:
		return http.StatusUnprocessableEntity
	case xerrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case xerrors.CodeTaskTimeout, xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeWorkerUnavailable:
		return http.StatusServiceUnavailable
	case xerrors.CodeTaskConflict, xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodePipelineStepFailed, xerrors.CodeExecutorFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
