package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"AgentHost/pkg/logger"
)

// EnvConfigFile 指定可选配置文件路径的环境变量。
const EnvConfigFile = "AGENTHOST_CONFIG"

// Config 描述了 AgentHost 在启动阶段需要加载的全部配置。
type Config struct {
	Agents        AgentsConfig
	KnowledgeRoot string
	TargetFolder  string
	DataDir       string
	DBPath        string
	LLM           LLMConfig
	Features      FeatureConfig
	Server        ServerConfig
	Dispatch      DispatchConfig
	Log           LogConfig
	Jobs          JobsConfig

	// File 为实际读取的配置文件，未使用配置文件时为空。
	File string
}

// AgentsConfig 控制智能体的发现位置与可用范围。
type AgentsConfig struct {
	Root      string
	Index     string
	Available []string
}

// LLMConfig 保留原有的大模型相关设置，供智能体通过配置读取。
type LLMConfig struct {
	Provider       string
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// FeatureConfig 描述可选功能开关。
type FeatureConfig struct {
	Mem0 bool
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string
}

// DispatchConfig 控制结构化结果的序列化格式。
type DispatchConfig struct {
	Format string
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level   string
	Format  string
	Outputs []string
	Audit   AuditConfig
}

// AuditConfig 控制审计日志。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// JobsConfig 描述异步命令任务的存储、队列与并发。
type JobsConfig struct {
	Store   StoreConfig
	Queue   QueueConfig
	Workers int
	Retries int
}

// StoreConfig 选择任务存储实现。
type StoreConfig struct {
	Driver string
	DSN    string
}

// QueueConfig 选择任务队列实现。
type QueueConfig struct {
	Driver   string
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
}

// RedisConfig 为 Redis 队列的连接信息。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
}

// RabbitMQConfig 为 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL   string
	Queue string
}

// envBindings 将配置键绑定到原有的环境变量名称。
var envBindings = [][2]string{
	{"agents.root", "AGENTS_ROOT"},
	{"agents.index", "AGENTS_INDEX"},
	{"agents.available", "AVAILABLE_AGENTS"},
	{"knowledge_root", "KNOWLEDGE_ROOT"},
	{"target_folder", "TARGET_FOLDER"},
	{"data_dir", "DATA_DIR"},
	{"db_path", "DB_PATH"},
	{"llm.provider", "LLM_PROVIDER"},
	{"llm.api_key", "LLM_API_KEY"},
	{"llm.base_url", "LLM_BASE_URL"},
	{"llm.model", "LLM_CHOICE"},
	{"llm.embedding_model", "EMBEDDING_MODEL_CHOICE"},
	{"features.mem0", "MEM0_AVAILABLE"},
	{"server.address", "SERVER_ADDRESS"},
	{"dispatch.format", "DISPATCH_FORMAT"},
	{"log.level", "LOG_LEVEL"},
	{"log.format", "LOG_FORMAT"},
	{"log.outputs", "LOG_OUTPUTS"},
	{"log.audit.enabled", "AUDIT_LOG_ENABLED"},
	{"log.audit.path", "AUDIT_LOG_PATH"},
	{"log.audit.max_size_mb", "AUDIT_LOG_MAX_SIZE_MB"},
	{"log.audit.max_backups", "AUDIT_LOG_MAX_BACKUPS"},
	{"log.audit.max_age_days", "AUDIT_LOG_MAX_AGE_DAYS"},
	{"jobs.store.driver", "JOB_STORE_DRIVER"},
	{"jobs.store.dsn", "JOB_STORE_DSN"},
	{"jobs.queue.driver", "JOB_QUEUE_DRIVER"},
	{"jobs.queue.redis.address", "REDIS_ADDRESS"},
	{"jobs.queue.redis.password", "REDIS_PASSWORD"},
	{"jobs.queue.redis.db", "REDIS_DB"},
	{"jobs.queue.redis.key", "REDIS_QUEUE_KEY"},
	{"jobs.queue.rabbitmq.url", "RABBITMQ_URL"},
	{"jobs.queue.rabbitmq.queue", "RABBITMQ_QUEUE"},
	{"jobs.workers", "JOB_WORKERS"},
	{"jobs.retries", "JOB_RETRIES"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agents.root", "./agents")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("dispatch.format", "json")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.audit.path", "logs/audit.log")
	v.SetDefault("jobs.store.driver", "memory")
	v.SetDefault("jobs.queue.driver", "memory")
	v.SetDefault("jobs.queue.redis.key", "agenthost:commands")
	v.SetDefault("jobs.queue.rabbitmq.queue", "agenthost.commands")
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.retries", 3)
}

// Load 从可选的配置文件（YAML/JSON）与环境变量构造配置。
// 环境变量优先于配置文件；相对路径以配置文件所在目录为基准。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AGENTHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, b := range envBindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return nil, fmt.Errorf("bind %s: %w", b[1], err)
		}
	}

	baseDir := ""
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg := &Config{
		Agents: AgentsConfig{
			Root:      v.GetString("agents.root"),
			Index:     v.GetString("agents.index"),
			Available: stringList(v.Get("agents.available")),
		},
		KnowledgeRoot: v.GetString("knowledge_root"),
		TargetFolder:  v.GetString("target_folder"),
		DataDir:       v.GetString("data_dir"),
		DBPath:        v.GetString("db_path"),
		LLM: LLMConfig{
			Provider:       v.GetString("llm.provider"),
			APIKey:         v.GetString("llm.api_key"),
			BaseURL:        v.GetString("llm.base_url"),
			Model:          v.GetString("llm.model"),
			EmbeddingModel: v.GetString("llm.embedding_model"),
		},
		Features: FeatureConfig{Mem0: v.GetBool("features.mem0")},
		Server:   ServerConfig{Address: v.GetString("server.address")},
		Dispatch: DispatchConfig{Format: strings.ToLower(v.GetString("dispatch.format"))},
		Log: LogConfig{
			Level:   v.GetString("log.level"),
			Format:  v.GetString("log.format"),
			Outputs: stringList(v.Get("log.outputs")),
			Audit: AuditConfig{
				Enabled:    v.GetBool("log.audit.enabled"),
				Path:       v.GetString("log.audit.path"),
				MaxSizeMB:  v.GetInt("log.audit.max_size_mb"),
				MaxBackups: v.GetInt("log.audit.max_backups"),
				MaxAgeDays: v.GetInt("log.audit.max_age_days"),
			},
		},
		Jobs: JobsConfig{
			Store: StoreConfig{
				Driver: strings.ToLower(v.GetString("jobs.store.driver")),
				DSN:    v.GetString("jobs.store.dsn"),
			},
			Queue: QueueConfig{
				Driver: strings.ToLower(v.GetString("jobs.queue.driver")),
				Redis: RedisConfig{
					Address:  v.GetString("jobs.queue.redis.address"),
					Password: v.GetString("jobs.queue.redis.password"),
					DB:       v.GetInt("jobs.queue.redis.db"),
					Key:      v.GetString("jobs.queue.redis.key"),
				},
				RabbitMQ: RabbitMQConfig{
					URL:   v.GetString("jobs.queue.rabbitmq.url"),
					Queue: v.GetString("jobs.queue.rabbitmq.queue"),
				},
			},
			Workers: v.GetInt("jobs.workers"),
			Retries: v.GetInt("jobs.retries"),
		},
		File: path,
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 补全依赖其他字段的默认值，并解析相对路径。
func (c *Config) applyDefaults(baseDir string) {
	c.Agents.Root = resolve(baseDir, c.Agents.Root)
	c.Agents.Index = resolve(baseDir, c.Agents.Index)
	c.KnowledgeRoot = resolve(baseDir, c.KnowledgeRoot)

	if c.TargetFolder == "" && c.KnowledgeRoot != "" {
		c.TargetFolder = filepath.Join(c.KnowledgeRoot, "CLAUDE_MEMORY_BANK")
	} else {
		c.TargetFolder = resolve(baseDir, c.TargetFolder)
	}

	if c.DataDir == "" {
		c.DataDir = resolve(baseDir, "data")
	} else {
		c.DataDir = resolve(baseDir, c.DataDir)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "library.db")
	} else {
		c.DBPath = resolve(baseDir, c.DBPath)
	}

	if c.Log.Audit.Enabled {
		c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path)
	}
}

func resolve(baseDir, path string) string {
	if path == "" || baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// stringList 同时接受列表与逗号分隔的字符串。
func stringList(raw any) []string {
	var items []string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []any:
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = []string{fmt.Sprint(v)}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Validate 检查配置之间的一致性。
func (c *Config) Validate() error {
	var errs []error
	if c.Agents.Root == "" {
		errs = append(errs, errors.New("agents.root cannot be empty"))
	}
	switch c.Dispatch.Format {
	case "json", "yaml", "yml":
	default:
		errs = append(errs, fmt.Errorf("dispatch.format %q is not json or yaml", c.Dispatch.Format))
	}
	switch c.Jobs.Store.Driver {
	case "memory":
	case "mysql":
		if c.Jobs.Store.DSN == "" {
			errs = append(errs, errors.New("jobs.store.dsn is required for the mysql driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported jobs.store.driver %q", c.Jobs.Store.Driver))
	}
	switch c.Jobs.Queue.Driver {
	case "memory":
	case "redis":
		if c.Jobs.Queue.Redis.Address == "" {
			errs = append(errs, errors.New("jobs.queue.redis.address is required for the redis driver"))
		}
	case "rabbitmq":
		if c.Jobs.Queue.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("jobs.queue.rabbitmq.url is required for the rabbitmq driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported jobs.queue.driver %q", c.Jobs.Queue.Driver))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, errors.New("jobs.workers must be positive"))
	}
	if c.Jobs.Retries < 0 {
		errs = append(errs, errors.New("jobs.retries cannot be negative"))
	}
	return errors.Join(errs...)
}

// LoggerConfig 转换为 pkg/logger 的配置。
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:       c.Log.Level,
		Format:      c.Log.Format,
		OutputPaths: slices.Clone(c.Log.Outputs),
		Audit: logger.AuditConfig{
			Enabled:    c.Log.Audit.Enabled,
			Path:       c.Log.Audit.Path,
			MaxSizeMB:  c.Log.Audit.MaxSizeMB,
			MaxBackups: c.Log.Audit.MaxBackups,
			MaxAgeDays: c.Log.Audit.MaxAgeDays,
		},
	}
}

// Setting 是一条可展示的配置项。
type Setting struct {
	Key   string
	Value string
}

// Settings 以固定顺序展开配置，敏感字段会被遮蔽。
func (c *Config) Settings() []Setting {
	available := "(all)"
	if len(c.Agents.Available) > 0 {
		available = strings.Join(c.Agents.Available, ",")
	}
	return []Setting{
		{"agents.root", c.Agents.Root},
		{"agents.index", c.Agents.Index},
		{"agents.available", available},
		{"knowledge_root", c.KnowledgeRoot},
		{"target_folder", c.TargetFolder},
		{"data_dir", c.DataDir},
		{"db_path", c.DBPath},
		{"llm.provider", c.LLM.Provider},
		{"llm.api_key", mask(c.LLM.APIKey)},
		{"llm.base_url", c.LLM.BaseURL},
		{"llm.model", c.LLM.Model},
		{"llm.embedding_model", c.LLM.EmbeddingModel},
		{"features.mem0", strconv.FormatBool(c.Features.Mem0)},
		{"server.address", c.Server.Address},
		{"dispatch.format", c.Dispatch.Format},
		{"log.level", c.Log.Level},
		{"log.format", c.Log.Format},
		{"log.audit.enabled", strconv.FormatBool(c.Log.Audit.Enabled)},
		{"jobs.store.driver", c.Jobs.Store.Driver},
		{"jobs.queue.driver", c.Jobs.Queue.Driver},
		{"jobs.workers", strconv.Itoa(c.Jobs.Workers)},
		{"jobs.retries", strconv.Itoa(c.Jobs.Retries)},
	}
}

func mask(secret string) string {
	switch {
	case secret == "":
		return ""
	case len(secret) <= 8:
		return "********"
	default:
		return secret[:4] + "..." + secret[len(secret)-4:]
	}
}

var (
	currentMu  sync.RWMutex
	current    *Config
	currentErr error
	loaded     bool
)

// Current 返回进程级配置，首次调用时从 AGENTHOST_CONFIG 与环境变量加载。
// 返回值为共享实例，调用方不得修改。
func Current() (*Config, error) {
	currentMu.RLock()
	if loaded {
		cfg, err := current, currentErr
		currentMu.RUnlock()
		return cfg, err
	}
	currentMu.RUnlock()

	currentMu.Lock()
	defer currentMu.Unlock()
	if !loaded {
		current, currentErr = Load(os.Getenv(EnvConfigFile))
		loaded = true
	}
	return current, currentErr
}

// Reload 重新计算进程级配置并整体替换旧值。
func Reload() (*Config, error) {
	cfg, err := Load(os.Getenv(EnvConfigFile))
	currentMu.Lock()
	defer currentMu.Unlock()
	current, currentErr, loaded = cfg, err, true
	return cfg, err
}
