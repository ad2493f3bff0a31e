package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config 描述了 rayfine 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Tasks    TaskConfig     `json:"tasks"`
	Network  NetworkConfig  `json:"network"`
	Web3     Web3Config     `json:"web3"`
	Adapters AdapterConfig  `json:"adapters"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址与限流。
type ServerConfig struct {
	Address         string   `json:"address"`
	RateLimit       float64  `json:"rate_limit"`
	Burst           int      `json:"burst"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	// APIToken 非空时，除 /metrics 外的接口都需要 Bearer 令牌。
	APIToken        string   `json:"api_token,omitempty"`
}

// StorageConfig 描述钱包槽位的持久化后端。
type StorageConfig struct {
	// Driver 取值 memory、file、mysql、redis。
	Driver string      `json:"driver"`
	Path   string      `json:"path"`
	Secret string      `json:"secret"`
	MySQL  MySQLConfig `json:"mysql"`
	Redis  RedisConfig `json:"redis"`
}

// MySQLConfig 是 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string   `json:"dsn"`
	Namespace       string   `json:"namespace"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
}

// RedisConfig 是 Redis 连接参数。
type RedisConfig struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// TaskConfig 控制异步操作任务的存储与队列。
type TaskConfig struct {
	// Store 取值 memory 或 mysql，mysql 复用 storage.mysql 的连接参数。
	Store string `json:"store"`
	// Queue 取值 memory、redis、rabbitmq。
	Queue     string         `json:"queue"`
	QueueSize int            `json:"queue_size"`
	Workers   int            `json:"workers"`
	Redis     TaskRedis      `json:"redis"`
	RabbitMQ  RabbitMQConfig `json:"rabbitmq"`
}

// TaskRedis 描述 Redis list 队列。
type TaskRedis struct {
	Address   string   `json:"address"`
	Password  string   `json:"password"`
	DB        int      `json:"db"`
	Queue     string   `json:"queue"`
	BlockWait Duration `json:"block_wait"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// NetworkConfig 指定链定义文件与默认网络。
type NetworkConfig struct {
	DefinitionsPath string `json:"definitions_path"`
}

// Web3Config 控制 RPC 访问与链上确认等待。
type Web3Config struct {
	RateLimit           float64  `json:"rate_limit"`
	Burst               int      `json:"burst"`
	ConfirmationTimeout Duration `json:"confirmation_timeout"`
}

// AdapterConfig 描述协议适配器。
type AdapterConfig struct {
	Bridge    BridgeConfig    `json:"bridge"`
	OpenOcean OpenOceanConfig `json:"openocean"`
	Pyth      PythConfig      `json:"pyth"`
	// TokenCacheSize 为代币列表缓存的条目数。
	TokenCacheSize int `json:"token_cache_size"`
}

// BridgeConfig 描述通过外部脚本调用协议 SDK 时所需的信息。
type BridgeConfig struct {
	Enabled    bool     `json:"enabled"`
	Command    string   `json:"command"`
	Script     string   `json:"script"`
	Args       []string `json:"args"`
	WorkingDir string   `json:"working_dir"`
	Router     string   `json:"router"`
	Timeout    Duration `json:"timeout"`
}

// OpenOceanConfig 描述聚合器 API。
type OpenOceanConfig struct {
	Enabled bool     `json:"enabled"`
	BaseURL string   `json:"base_url"`
	Timeout Duration `json:"timeout"`
}

// PythConfig 描述价格预言机。Feeds 以交易对为键，Assets 把代币地址映射到交易对。
type PythConfig struct {
	Endpoint string            `json:"endpoint"`
	Feeds    map[string]string `json:"feeds"`
	Assets   map[string]string `json:"assets"`
	Timeout  Duration          `json:"timeout"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig 控制 Prometheus 指标。
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	// Address 非空时在独立端口暴露指标，否则挂在 API 的 /metrics 上。
	Address string `json:"address"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	WebhookURL     string            `json:"webhook_url"`
	WebhookHeaders map[string]string `json:"webhook_headers"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Duration 支持以 "30s"、"2m" 形式书写时长。
type Duration time.Duration

// UnmarshalText 实现 encoding.TextUnmarshaler，JSON 与环境变量共用。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("无效的时长 %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText 实现 encoding.TextMarshaler。
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std 返回标准库时长。
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load 负责解析指定路径的 JSON 配置文件，随后应用 RAYFINE_* 环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	return finish(&cfg, filepath.Dir(path))
}

// LoadOptional 与 Load 相同，但文件不存在时返回默认配置。
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return finish(&Config{}, filepath.Dir(path))
	}
	return Load(path)
}

// DefaultPath 返回默认配置文件位置：$RAYFINE_CONFIG，否则为用户配置目录下的 rayfine/config.json。
func DefaultPath() string {
	if p := strings.TrimSpace(os.Getenv("RAYFINE_CONFIG")); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(dir, "rayfine", "config.json")
}

func finish(cfg *Config, baseDir string) (*Config, error) {
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8080"
	}
	if c.Server.RateLimit <= 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.Burst <= 0 {
		c.Server.Burst = 20
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.Runtime.DataDir, "wallet.json")
	} else if !filepath.IsAbs(c.Storage.Path) {
		c.Storage.Path = filepath.Join(baseDir, c.Storage.Path)
	}
	if c.Storage.MySQL.Namespace == "" {
		c.Storage.MySQL.Namespace = "default"
	}
	if c.Storage.Redis.Key == "" {
		c.Storage.Redis.Key = "rayfine:wallet"
	}

	c.Tasks.Store = strings.ToLower(strings.TrimSpace(c.Tasks.Store))
	if c.Tasks.Store == "" {
		c.Tasks.Store = "memory"
	}
	c.Tasks.Queue = strings.ToLower(strings.TrimSpace(c.Tasks.Queue))
	if c.Tasks.Queue == "" {
		c.Tasks.Queue = "memory"
	}
	if c.Tasks.QueueSize <= 0 {
		c.Tasks.QueueSize = 256
	}
	if c.Tasks.Workers <= 0 {
		c.Tasks.Workers = 2
	}
	if c.Tasks.Redis.Address == "" {
		c.Tasks.Redis.Address = c.Storage.Redis.Address
		c.Tasks.Redis.Password = c.Storage.Redis.Password
	}
	if c.Tasks.Redis.Queue == "" {
		c.Tasks.Redis.Queue = "rayfine:actions"
	}
	if c.Tasks.RabbitMQ.Queue == "" {
		c.Tasks.RabbitMQ.Queue = "rayfine.actions"
	}

	if c.Network.DefinitionsPath != "" && !filepath.IsAbs(c.Network.DefinitionsPath) {
		c.Network.DefinitionsPath = filepath.Join(baseDir, c.Network.DefinitionsPath)
	}

	if c.Web3.RateLimit <= 0 {
		c.Web3.RateLimit = 10
	}
	if c.Web3.Burst <= 0 {
		c.Web3.Burst = 20
	}
	if c.Web3.ConfirmationTimeout <= 0 {
		c.Web3.ConfirmationTimeout = Duration(2 * time.Minute)
	}

	if c.Adapters.TokenCacheSize <= 0 {
		c.Adapters.TokenCacheSize = 16
	}
	bridge := &c.Adapters.Bridge
	if bridge.Command == "" {
		bridge.Command = "node"
	}
	if bridge.Router == "" {
		bridge.Router = "openocean"
	}
	if bridge.Timeout <= 0 {
		bridge.Timeout = Duration(3 * time.Minute)
	}
	if bridge.WorkingDir == "" {
		bridge.WorkingDir = baseDir
	} else if !filepath.IsAbs(bridge.WorkingDir) {
		bridge.WorkingDir = filepath.Join(baseDir, bridge.WorkingDir)
	}
	if bridge.Script != "" && !filepath.IsAbs(bridge.Script) {
		bridge.Script = filepath.Join(bridge.WorkingDir, bridge.Script)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stderr"}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

// Validate 检查取值是否合法。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "file":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return errors.New("storage.driver=mysql 时必须配置 storage.mysql.dsn")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.Redis.Address) == "" {
			return errors.New("storage.driver=redis 时必须配置 storage.redis.address")
		}
	default:
		return fmt.Errorf("不支持的存储驱动 %q", c.Storage.Driver)
	}

	switch c.Tasks.Store {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
			return errors.New("tasks.store=mysql 时必须配置 storage.mysql.dsn")
		}
	default:
		return fmt.Errorf("不支持的任务存储 %q", c.Tasks.Store)
	}

	switch c.Tasks.Queue {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Tasks.Redis.Address) == "" {
			return errors.New("tasks.queue=redis 时必须配置 tasks.redis.address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Tasks.RabbitMQ.URL) == "" {
			return errors.New("tasks.queue=rabbitmq 时必须配置 tasks.rabbitmq.url")
		}
	default:
		return fmt.Errorf("不支持的任务队列 %q", c.Tasks.Queue)
	}

	if c.Adapters.Bridge.Enabled && strings.TrimSpace(c.Adapters.Bridge.Script) == "" {
		return errors.New("adapters.bridge.enabled 时必须配置 adapters.bridge.script")
	}
	return nil
}
