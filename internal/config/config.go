package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentHub/internal/agent"
	"AgentHub/internal/llm"
)

// EnvConfigPath 是指定配置文件路径的环境变量。
const EnvConfigPath = "AGENTHUB_CONFIG"

// DefaultPath 是未设置 AGENTHUB_CONFIG 时使用的配置文件。
const DefaultPath = "configs/agenthub.yaml"

// Config 描述了 AgentHub 在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Dispatcher   DispatcherConfig   `yaml:"dispatcher"`
	Registry     RegistryConfig     `yaml:"registry"`
	Router       RouterConfig       `yaml:"router"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Session      SessionConfig      `yaml:"session"`
	Events       EventsConfig       `yaml:"events"`
	LLM          LLMConfig          `yaml:"llm"`
	Web3         Web3Config         `yaml:"web3"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Tracing      TracingConfig      `yaml:"tracing"`
	Alerting     AlertingConfig     `yaml:"alerting"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Workers      WorkersConfig      `yaml:"workers"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address     string `yaml:"address"`
	MetricsPath string `yaml:"metrics_path"`
	// MetricsAddress 非空时指标在独立端口暴露，不再挂载到 API 服务。
	MetricsAddress string `yaml:"metrics_address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `yaml:"level"`
	Format  string      `yaml:"format"`
	Outputs []string    `yaml:"outputs"`
	Audit   AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DispatcherConfig 控制任务时限。
type DispatcherConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// RegistryConfig 控制健康巡检。
type RegistryConfig struct {
	HealthInterval time.Duration `yaml:"health_interval"`
}

// RouterConfig 控制关键词路由。
type RouterConfig struct {
	AutoRouting *bool  `yaml:"auto_routing"`
	RulesFile   string `yaml:"rules_file"`
}

// AutoRoutingEnabled 返回是否启用自动路由，默认启用。
func (r RouterConfig) AutoRoutingEnabled() bool {
	return r.AutoRouting == nil || *r.AutoRouting
}

// CoordinationConfig 指定协作流水线模板文件。
type CoordinationConfig struct {
	TemplatesFile string `yaml:"templates_file"`
}

// SessionConfig 选择共享上下文存储。
type SessionConfig struct {
	Driver string             `yaml:"driver"`
	Redis  RedisSessionConfig `yaml:"redis"`
	MySQL  MySQLSessionConfig `yaml:"mysql"`
}

// RedisSessionConfig 描述 Redis 会话存储。
type RedisSessionConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// MySQLSessionConfig 描述 MySQL 会话存储。
type MySQLSessionConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// EventsConfig 选择调度事件的外部转发目标。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisEvents    `yaml:"redis"`
	RabbitMQ RabbitMQEvents `yaml:"rabbitmq"`
}

// RedisEvents 描述通过 Redis PUBLISH 转发事件。
type RedisEvents struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RabbitMQEvents 描述通过 RabbitMQ 队列转发事件。
type RabbitMQEvents struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// LLMConfig 用于配置文本补全服务的调用方式。
type LLMConfig struct {
	Provider string             `yaml:"provider"`
	OpenAI   OpenAIConfig       `yaml:"openai"`
	Python   PythonBridgeConfig `yaml:"python_bridge"`
	Breaker  llm.BreakerConfig  `yaml:"breaker"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。APIKey 为空时从 APIKeyEnv 指定的环境变量读取。
type OpenAIConfig struct {
	APIKey    string        `yaml:"api_key"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成补全时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable"`
	ScriptPath       string `yaml:"script_path"`
	WorkingDir       string `yaml:"working_dir"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	Enabled      bool   `yaml:"enabled"`
	RPCURL       string `yaml:"rpc_url"`
	ChainConfig  string `yaml:"chain_config"`
	DefaultChain string `yaml:"default_chain"`
}

// KnowledgeConfig 指定静态知识库。
type KnowledgeConfig struct {
	Source     string `yaml:"source"`
	MaxResults int    `yaml:"max_results"`
}

// TracingConfig 控制链路追踪。
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// AlertingConfig 控制告警输出。
type AlertingConfig struct {
	Enabled    bool              `yaml:"enabled"`
	WebhookURL string            `yaml:"webhook_url"`
	Headers    map[string]string `yaml:"headers"`
	Cooldown   time.Duration     `yaml:"cooldown"`
}

// OrchestratorConfig 控制命令提交限流。
type OrchestratorConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// WorkersConfig 声明启动时注册的 worker。
type WorkersConfig struct {
	Text    []agent.Profile `yaml:"text"`
	Chain   bool            `yaml:"chain"`
	Preview bool            `yaml:"preview"`
}

// Load 解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return Parse(content, filepath.Dir(path))
}

// LoadFromEnv 按 AGENTHUB_CONFIG 加载配置，文件不存在时使用默认值。
func LoadFromEnv() (*Config, error) {
	path := strings.TrimSpace(os.Getenv(EnvConfigPath))
	if path == "" {
		path = DefaultPath
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return Parse(nil, ".")
		}
	}
	return Load(path)
}

// Parse 解析 YAML 内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 用环境变量覆盖敏感信息与部署相关的字段。
func (c *Config) applyEnv() {
	if c.LLM.OpenAI.APIKey == "" {
		env := c.LLM.OpenAI.APIKeyEnv
		if env == "" {
			env = "OPENAI_API_KEY"
		}
		c.LLM.OpenAI.APIKey = os.Getenv(env)
	}
	if v := os.Getenv("AGENTHUB_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("AGENTHUB_MYSQL_DSN"); v != "" {
		c.Session.MySQL.DSN = v
	}
	if v := os.Getenv("AGENTHUB_REDIS_PASSWORD"); v != "" {
		c.Session.Redis.Password = v
		c.Events.Redis.Password = v
	}
	if v := os.Getenv("AGENTHUB_RABBITMQ_URL"); v != "" {
		c.Events.RabbitMQ.URL = v
	}
	if v := os.Getenv("AGENTHUB_WEB3_RPC_URL"); v != "" {
		c.Web3.RPCURL = v
	}
	if v := os.Getenv("AGENTHUB_RATE_PER_SECOND"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.Orchestrator.RatePerSecond = parsed
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stdout"}
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)

	if c.Dispatcher.Timeout <= 0 {
		c.Dispatcher.Timeout = 30 * time.Second
	}
	if c.Registry.HealthInterval <= 0 {
		c.Registry.HealthInterval = 60 * time.Second
	}
	c.Router.RulesFile = resolve(baseDir, c.Router.RulesFile)
	c.Coordination.TemplatesFile = resolve(baseDir, c.Coordination.TemplatesFile)

	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.Redis.Address == "" {
		c.Session.Redis.Address = "127.0.0.1:6379"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Redis.Address == "" {
		c.Events.Redis.Address = c.Session.Redis.Address
	}
	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "agenthub.events"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "agenthub.events"
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "echo"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir)
	}
	c.LLM.Python.ScriptPath = resolve(baseDir, c.LLM.Python.ScriptPath)

	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	c.Knowledge.Source = resolve(baseDir, c.Knowledge.Source)
	if c.Knowledge.MaxResults <= 0 {
		c.Knowledge.MaxResults = 3
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if len(c.Workers.Text) == 0 {
		c.Workers.Text = agent.DefaultProfiles()
	}
}

func (c *Config) validate() error {
	switch c.Session.Driver {
	case "memory", "redis":
	case "mysql":
		if c.Session.MySQL.DSN == "" {
			return errors.New("session.mysql.dsn 不能为空")
		}
	default:
		return fmt.Errorf("不支持的会话存储: %s", c.Session.Driver)
	}
	switch c.Events.Driver {
	case "memory", "redis":
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url 不能为空")
		}
	default:
		return fmt.Errorf("不支持的事件驱动: %s", c.Events.Driver)
	}
	switch c.LLM.Provider {
	case "echo", "python_bridge":
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return errors.New("llm.openai 需要 api_key 或 api_key_env")
		}
	default:
		return fmt.Errorf("不支持的补全服务: %s", c.LLM.Provider)
	}
	if c.Web3.Enabled && c.Web3.RPCURL == "" && c.Web3.ChainConfig == "" {
		return errors.New("web3 已启用但未配置 rpc_url 或 chain_config")
	}
	return nil
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
