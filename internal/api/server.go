package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"AgentHost/internal/agent"
	xerrors "AgentHost/internal/errors"
	"AgentHost/internal/observability/metrics"
	"AgentHost/internal/task"
	"AgentHost/pkg/logger"
	"AgentHost/pkg/plugin"
)

// Server 负责暴露 REST 接口，供外部驱动 Agent 执行命令。
type Server struct {
	addr    string
	host    *agent.Host
	tasks   *task.Service
	engine  *gin.Engine
	logger  *slog.Logger
	metrics *metrics.Collector
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithMetrics 指定指标集合，默认使用 metrics.Default()。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// NewServer 构造 API 服务实例。tasks 为空时任务相关接口返回 503。
func NewServer(addr string, host *agent.Host, tasks *task.Service, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		host:    host,
		tasks:   tasks,
		engine:  gin.New(),
		logger:  logger.Named("api"),
		metrics: metrics.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

// Handler 返回底层的 HTTP 处理器，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", s.handleMetrics)

	api := s.engine.Group("/api")
	{
		api.GET("/agents", s.handleListAgents)
		api.GET("/agents/:name", s.handleAgentDetail)
		api.POST("/process", s.handleProcess)
	}

	v1 := api.Group("/v1")
	{
		v1.POST("/tasks", s.handleCreateTask)
		v1.GET("/tasks", s.handleListTasks)
		v1.GET("/tasks/:id", s.handleTaskDetail)
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.engine),
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

type processRequest struct {
	Agent   string `json:"agent"`
	Command string `json:"command"`
}

type processResponse struct {
	Agent    string `json:"agent"`
	Response string `json:"response"`
	Failed   bool   `json:"failed"`
}

type agentList struct {
	Agents   []agent.Info      `json:"agents"`
	Failures map[string]string `json:"failures,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.host != nil {
		body["agents"] = len(s.host.Registry().Names())
	}
	if s.tasks != nil {
		if stats, err := s.tasks.Stats(c.Request.Context()); err == nil {
			body["tasks"] = stats
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleMetrics(c *gin.Context) {
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleListAgents(c *gin.Context) {
	if !s.requireHost(c) {
		return
	}
	infos, failures := s.host.List(c.Request.Context())
	resp := agentList{Agents: infos}
	if len(failures) > 0 {
		resp.Failures = make(map[string]string, len(failures))
		for name, err := range failures {
			resp.Failures[name] = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleAgentDetail(c *gin.Context) {
	if !s.requireHost(c) {
		return
	}
	name := c.Param("name")
	info, err := s.host.Describe(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err, fmt.Sprintf("Agent %s not found", name))
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleProcess(c *gin.Context) {
	if !s.requireHost(c) {
		return
	}
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("请求体解析失败", slog.Any("error", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON data"})
		return
	}
	if strings.TrimSpace(req.Agent) == "" || req.Command == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing agent name or command"})
		return
	}

	result, err := s.host.Execute(c.Request.Context(), agent.CommandRequest{Agent: req.Agent, Command: req.Command})
	if err != nil {
		s.fail(c, err, fmt.Sprintf("Agent %s not found", req.Agent))
		return
	}
	c.JSON(http.StatusOK, processResponse{
		Agent:    result.Agent,
		Response: result.Output,
		Failed:   result.Failed,
	})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	if !s.requireTasks(c) {
		return
	}
	var req agent.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON data"})
		return
	}
	created, err := s.tasks.Submit(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusAccepted, created)
}

func (s *Server) handleListTasks(c *gin.Context) {
	if !s.requireTasks(c) {
		return
	}
	opts := []task.ListOption{}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit 必须为正整数"})
			return
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset 必须为非负整数"})
			return
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := c.Query("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(part))
			if !task.IsValidStatus(status) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("未知的任务状态: %s", part)})
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if name := c.Query("agent"); name != "" {
		opts = append(opts, task.WithAgent(name))
	}
	if q := c.Query("q"); q != "" {
		opts = append(opts, task.WithQuery(q))
	}

	tasks, err := s.tasks.List(c.Request.Context(), opts...)
	if err != nil {
		s.fail(c, err, "")
		return
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) handleTaskDetail(c *gin.Context) {
	if !s.requireTasks(c) {
		return
	}
	found, err := s.tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err, "任务不存在")
		return
	}
	c.JSON(http.StatusOK, found)
}

func (s *Server) requireHost(c *gin.Context) bool {
	if s.host == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Agent Host 未初始化"})
		return false
	}
	return true
}

func (s *Server) requireTasks(c *gin.Context) bool {
	if s.tasks == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "任务服务未启用"})
		return false
	}
	return true
}

// fail 按错误码选择 HTTP 状态；notFound 非空时替换 404 响应的文案。
func (s *Server) fail(c *gin.Context, err error, notFound string) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusNotFound && notFound != "" {
		msg = notFound
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("请求处理失败", slog.String("path", c.FullPath()), slog.Any("error", err))
	}
	c.JSON(status, gin.H{"error": msg, "code": string(xerrors.CodeOf(err))})
}

func statusOf(err error) int {
	if errors.Is(err, plugin.ErrAgentNotFound) {
		return http.StatusNotFound
	}
	switch xerrors.CodeOf(err) {
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		s.metrics.ObserveHTTPRequest(c.FullPath(), c.Request.Method, c.Writer.Status(), elapsed)
		s.logger.Debug("HTTP 请求",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("elapsed", elapsed),
		)
	}
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
