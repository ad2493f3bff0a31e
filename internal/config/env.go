package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix 是所有环境变量覆盖项的前缀，例如 RAYFINE_API_ADDRESS。
const envPrefix = "RAYFINE"

// overrides 收集可以通过环境变量覆盖的配置项。未设置的变量保持零值，不会覆盖文件中的配置。
type overrides struct {
	APIAddress   string  `envconfig:"API_ADDRESS"`
	APIRateLimit float64 `envconfig:"API_RATE_LIMIT"`
	APIToken     string  `envconfig:"API_TOKEN"`

	StorageDriver string `envconfig:"STORAGE_DRIVER"`
	StoragePath   string `envconfig:"STORAGE_PATH"`
	StorageSecret string `envconfig:"STORAGE_SECRET"`
	MySQLDSN      string `envconfig:"MYSQL_DSN"`
	RedisAddress  string `envconfig:"REDIS_ADDRESS"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	TaskStore   string `envconfig:"TASK_STORE"`
	TaskQueue   string `envconfig:"TASK_QUEUE"`
	TaskWorkers int    `envconfig:"TASK_WORKERS"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	NetworksFile        string        `envconfig:"NETWORKS_FILE"`
	RPCRateLimit        float64       `envconfig:"RPC_RATE_LIMIT"`
	ConfirmationTimeout time.Duration `envconfig:"CONFIRMATION_TIMEOUT"`

	BridgeEnabled    *bool  `envconfig:"BRIDGE_ENABLED"`
	BridgeScript     string `envconfig:"BRIDGE_SCRIPT"`
	BridgeRouter     string `envconfig:"BRIDGE_ROUTER"`
	OpenOceanEnabled *bool  `envconfig:"OPENOCEAN_ENABLED"`
	OpenOceanBaseURL string `envconfig:"OPENOCEAN_BASE_URL"`
	PythEndpoint     string `envconfig:"PYTH_ENDPOINT"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`

	MetricsEnabled  *bool  `envconfig:"METRICS_ENABLED"`
	AlertWebhookURL string `envconfig:"ALERT_WEBHOOK_URL"`

	DataDir string `envconfig:"DATA_DIR"`
}

func applyEnv(cfg *Config) error {
	var env overrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("解析环境变量失败: %w", err)
	}

	setString(&cfg.Server.Address, env.APIAddress)
	setFloat(&cfg.Server.RateLimit, env.APIRateLimit)
	setString(&cfg.Server.APIToken, env.APIToken)

	setString(&cfg.Storage.Driver, env.StorageDriver)
	setString(&cfg.Storage.Path, env.StoragePath)
	setString(&cfg.Storage.Secret, env.StorageSecret)
	setString(&cfg.Storage.MySQL.DSN, env.MySQLDSN)
	setString(&cfg.Storage.Redis.Address, env.RedisAddress)
	setString(&cfg.Storage.Redis.Password, env.RedisPassword)

	setString(&cfg.Tasks.Store, env.TaskStore)
	setString(&cfg.Tasks.Queue, env.TaskQueue)
	if env.TaskWorkers > 0 {
		cfg.Tasks.Workers = env.TaskWorkers
	}
	setString(&cfg.Tasks.RabbitMQ.URL, env.RabbitMQURL)

	setString(&cfg.Network.DefinitionsPath, env.NetworksFile)
	setFloat(&cfg.Web3.RateLimit, env.RPCRateLimit)
	if env.ConfirmationTimeout > 0 {
		cfg.Web3.ConfirmationTimeout = Duration(env.ConfirmationTimeout)
	}

	setBool(&cfg.Adapters.Bridge.Enabled, env.BridgeEnabled)
	setString(&cfg.Adapters.Bridge.Script, env.BridgeScript)
	setString(&cfg.Adapters.Bridge.Router, env.BridgeRouter)
	setBool(&cfg.Adapters.OpenOcean.Enabled, env.OpenOceanEnabled)
	setString(&cfg.Adapters.OpenOcean.BaseURL, env.OpenOceanBaseURL)
	setString(&cfg.Adapters.Pyth.Endpoint, env.PythEndpoint)

	setString(&cfg.Logging.Level, env.LogLevel)
	setString(&cfg.Logging.Format, env.LogFormat)

	setBool(&cfg.Metrics.Enabled, env.MetricsEnabled)
	setString(&cfg.Alerting.WebhookURL, env.AlertWebhookURL)

	setString(&cfg.Runtime.DataDir, env.DataDir)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
