package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"AgentHost/internal/config"
	xerrors "AgentHost/internal/errors"
	"AgentHost/pkg/logger"
	"AgentHost/pkg/plugin"
)

// CommandRequest 描述一次发往 Agent 的命令。
type CommandRequest struct {
	ID       string         `json:"id,omitempty"`
	Agent    string         `json:"agent"`
	Command  string         `json:"command"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// CommandResult 汇总命令的执行结果。Agent 自身的错误体现在 Failed 与 Output 中。
type CommandResult struct {
	Agent    string            `json:"agent"`
	Version  string            `json:"version"`
	Output   string            `json:"response"`
	Failed   bool              `json:"failed"`
	Kind     plugin.ResultKind `json:"kind,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// Info 是对外展示的 Agent 概要。
type Info struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Dir         string   `json:"dir,omitempty"`
	Source      string   `json:"source,omitempty"`
	Hooks       []string `json:"hooks"`
	Status      string   `json:"status,omitempty"`
}

// Host 持有注册表与分发器。
type Host struct {
	registry   *plugin.Registry
	dispatcher *plugin.Dispatcher
	logger     *slog.Logger
}

// Option 定义可选的 Host 配置。
type Option func(*hostOptions)

type hostOptions struct {
	registry   []plugin.Option
	dispatcher []plugin.DispatcherOption
}

// WithRegistryOptions 追加注册表选项，在配置派生的选项之后生效。
func WithRegistryOptions(opts ...plugin.Option) Option {
	return func(o *hostOptions) {
		o.registry = append(o.registry, opts...)
	}
}

// WithDispatcherOptions 追加分发器选项。
func WithDispatcherOptions(opts ...plugin.DispatcherOption) Option {
	return func(o *hostOptions) {
		o.dispatcher = append(o.dispatcher, opts...)
	}
}

// New 根据配置构造 Host。配置了索引文件时会先读取并校验索引。
func New(cfg *config.Config, opts ...Option) (*Host, error) {
	if cfg == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "配置不能为空")
	}
	var o hostOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	format, err := plugin.ParseFormat(cfg.Dispatch.Format)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "分发格式配置错误")
	}

	regOpts := []plugin.Option{
		plugin.WithRoot(cfg.Agents.Root),
		plugin.WithAvailable(cfg.Agents.Available...),
	}
	if cfg.Agents.Index != "" {
		idx, err := plugin.LoadIndex(cfg.Agents.Index)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取 Agent 索引失败")
		}
		regOpts = append(regOpts, plugin.WithIndex(idx))
	}

	dispOpts := append([]plugin.DispatcherOption{plugin.WithFormat(format)}, o.dispatcher...)
	return NewHost(
		plugin.NewRegistry(append(regOpts, o.registry...)...),
		plugin.NewDispatcher(dispOpts...),
	), nil
}

// NewHost 使用现成的注册表与分发器构造 Host。
func NewHost(registry *plugin.Registry, dispatcher *plugin.Dispatcher) *Host {
	if registry == nil {
		registry = plugin.NewRegistry()
	}
	if dispatcher == nil {
		dispatcher = plugin.NewDispatcher()
	}
	return &Host{registry: registry, dispatcher: dispatcher, logger: logger.Named("agent-host")}
}

// Registry 返回底层注册表。
func (h *Host) Registry() *plugin.Registry { return h.registry }

// Dispatcher 返回底层分发器。
func (h *Host) Dispatcher() *plugin.Dispatcher { return h.dispatcher }

// Get 返回已加载的 Agent。初始化失败的 Agent 仍会返回，同时记录告警。
func (h *Host) Get(ctx context.Context, name string) (*plugin.Agent, error) {
	a, err := h.registry.Get(ctx, name)
	if a == nil {
		return nil, err
	}
	if err != nil {
		h.logger.Warn("Agent 初始化失败，仍按已加载处理",
			slog.String("agent", name),
			slog.Any("error", err))
	}
	return a, nil
}

// Execute 加载目标 Agent 并分发命令。只有 Agent 无法加载时才返回错误。
func (h *Host) Execute(ctx context.Context, req CommandRequest) (*CommandResult, error) {
	name := strings.TrimSpace(req.Agent)
	if name == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Agent 名称不能为空")
	}
	a, err := h.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	reply := h.dispatcher.Run(ctx, a, req.Command)
	return &CommandResult{
		Agent:    name,
		Version:  a.Version(),
		Output:   reply.Text,
		Failed:   reply.Failed,
		Kind:     reply.Kind,
		Duration: reply.Duration,
	}, nil
}

// Describe 返回单个 Agent 的概要，并附带 GetStatus 的归一化输出。
func (h *Host) Describe(ctx context.Context, name string) (Info, error) {
	a, err := h.Get(ctx, name)
	if err != nil {
		return Info{}, err
	}
	info := infoOf(name, a)
	if status, ok := h.dispatcher.Status(ctx, a); ok {
		info.Status = status.Text
	}
	return info, nil
}

// List 加载全部 Agent 并返回排序后的概要；加载失败的 Agent 记录在第二个返回值中。
func (h *Host) List(ctx context.Context) ([]Info, map[string]error) {
	all, failures := h.registry.GetAll(ctx)
	infos := make([]Info, 0, len(all))
	for key, a := range all {
		infos = append(infos, infoOf(key, a))
	}
	SortInfos(infos)
	return infos, failures
}

// Close 执行全部 Cleanup 钩子并清空注册表。
func (h *Host) Close(ctx context.Context) error {
	return h.registry.Close(ctx)
}

// SortInfos 按名称排序；同名 Agent 中较新的语义化版本在前，无法解析的版本排在最后。
func SortInfos(infos []Info) {
	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			va, errA := plugin.Identity{Version: a.Version}.SemVer()
			vb, errB := plugin.Identity{Version: b.Version}.SemVer()
			switch {
			case errA == nil && errB == nil:
				return va.GreaterThan(vb)
			case errA == nil:
				return true
			case errB == nil:
				return false
			}
			return a.Version < b.Version
		}
		return a.Key < b.Key
	})
}

func infoOf(key string, a *plugin.Agent) Info {
	hooks := a.Hooks().Names()
	if hooks == nil {
		hooks = []string{}
	}
	return Info{
		Key:         key,
		Name:        a.Name(),
		Description: a.Description(),
		Version:     a.Version(),
		Dir:         a.Dir(),
		Source:      a.Source(),
		Hooks:       hooks,
	}
}

var (
	defaultOnce sync.Once
	defaultHost *Host
	defaultErr  error
)

// Default 返回进程级 Host，首次调用时依据 config.Current() 构造，之后不会重建。
func Default() (*Host, error) {
	defaultOnce.Do(func() {
		cfg, err := config.Current()
		if err != nil {
			defaultErr = err
			return
		}
		defaultHost, defaultErr = New(cfg)
	})
	return defaultHost, defaultErr
}

// IsNotFound 判断错误是否表示 Agent 不存在或无法加载。
func IsNotFound(err error) bool {
	return stdErrors.Is(err, plugin.ErrAgentNotFound)
}
