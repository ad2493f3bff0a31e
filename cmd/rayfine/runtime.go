package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/snehendu098/rayfine/internal/adapter"
	"github.com/snehendu098/rayfine/internal/adapter/bridge"
	"github.com/snehendu098/rayfine/internal/adapter/openocean"
	"github.com/snehendu098/rayfine/internal/adapter/pyth"
	"github.com/snehendu098/rayfine/internal/agent"
	"github.com/snehendu098/rayfine/internal/config"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/observability/alerting"
	"github.com/snehendu098/rayfine/internal/observability/metrics"
	"github.com/snehendu098/rayfine/internal/session"
	"github.com/snehendu098/rayfine/internal/storage"
	storagemysql "github.com/snehendu098/rayfine/internal/storage/mysql"
	storageredis "github.com/snehendu098/rayfine/internal/storage/redis"
	"github.com/snehendu098/rayfine/internal/task"
	"github.com/snehendu098/rayfine/internal/tokens"
	"github.com/snehendu098/rayfine/internal/vault"
	"github.com/snehendu098/rayfine/internal/web3/provider"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// runtime 持有一次进程运行所需的全部组件。
type runtime struct {
	cfg          *config.Config
	store        storage.Store
	db           *sql.DB
	vault        *vault.Vault
	selector     *network.Selector
	chains       *provider.Registry
	sessions     *session.Manager
	tokens       *tokens.Registry
	metrics      *metrics.Collector
	alerts       alerting.Dispatcher
	orchestrator *agent.Orchestrator

	closers []func() error
}

func openRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if err := rt.openStore(ctx); err != nil {
		return nil, err
	}
	rt.vault = vault.New(rt.store)

	defs, err := network.LoadDefinitions(cfg.Network.DefinitionsPath)
	if err != nil {
		return nil, err
	}
	catalog, err := network.NewCatalog(defs)
	if err != nil {
		return nil, err
	}
	rt.selector = network.NewSelector(rt.store, catalog)

	rt.chains = provider.NewRegistry(provider.EVMDialer(provider.Options{
		RateLimit: cfg.Web3.RateLimit,
		Burst:     cfg.Web3.Burst,
	}))
	rt.closers = append(rt.closers, func() error { rt.chains.Close(); return nil })

	factory, err := buildAdapters(cfg.Adapters, rt.chains)
	if err != nil {
		return nil, err
	}
	rt.sessions = session.NewManager(rt.vault, rt.selector, rt.chains, factory)

	rt.metrics = metrics.New()
	rt.tokens, err = tokens.NewRegistry(cfg.Adapters.TokenCacheSize, tokens.WithFallbackHook(rt.metrics.RegistryFallback))
	if err != nil {
		return nil, err
	}
	rt.sessions.OnInvalidate(rt.tokens.Invalidate)

	rt.alerts = buildAlerts(cfg.Alerting)
	rt.orchestrator = agent.New(rt.sessions, rt.tokens,
		agent.WithObserver(rt.metrics),
		agent.WithObserver(alerting.NewActionObserver(rt.alerts)),
		agent.WithConfirmationTimeout(cfg.Web3.ConfirmationTimeout.Std()),
	)
	return rt, nil
}

func (rt *runtime) openStore(ctx context.Context) error {
	cfg := rt.cfg.Storage
	switch cfg.Driver {
	case "memory":
		rt.store = storage.NewMemoryStore()
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return fmt.Errorf("创建数据目录失败: %w", err)
		}
		var opts []storage.FileOption
		if cfg.Secret != "" {
			opts = append(opts, storage.WithSecret(cfg.Secret))
		}
		store, err := storage.NewFileStore(cfg.Path, opts...)
		if err != nil {
			return err
		}
		rt.store = store
	case "mysql":
		db, err := rt.mysql(ctx)
		if err != nil {
			return err
		}
		rt.store = storagemysql.NewSlotStoreWithDB(db, cfg.MySQL.Namespace)
	case "redis":
		store, err := storageredis.NewSlotStore(ctx, storageredis.Config{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return err
		}
		rt.store = store
	default:
		return fmt.Errorf("不支持的存储驱动 %q", cfg.Driver)
	}
	return nil
}

// mysql 返回共享的连接池。槽位存储使用时由其 Close 负责关闭，否则登记到 closers。
func (rt *runtime) mysql(ctx context.Context) (*sql.DB, error) {
	if rt.db != nil {
		return rt.db, nil
	}
	cfg := rt.cfg.Storage.MySQL
	db, err := storagemysql.Open(ctx, storagemysql.Config{
		DSN:             cfg.DSN,
		Namespace:       cfg.Namespace,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime.Std(),
	})
	if err != nil {
		return nil, err
	}
	rt.db = db
	if rt.cfg.Storage.Driver != "mysql" {
		rt.closers = append(rt.closers, db.Close)
	}
	return db, nil
}

func buildAdapters(cfg config.AdapterConfig, chains *provider.Registry) (adapter.Factory, error) {
	composite := &adapter.Composite{}
	if cfg.Bridge.Enabled {
		br, err := bridge.NewFactory(bridge.Config{
			Command:    cfg.Bridge.Command,
			Script:     cfg.Bridge.Script,
			Args:       cfg.Bridge.Args,
			WorkingDir: cfg.Bridge.WorkingDir,
			Router:     cfg.Bridge.Router,
			Timeout:    cfg.Bridge.Timeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		composite.Fallback = br
	}
	if cfg.OpenOcean.Enabled {
		oo, err := openocean.NewFactory(openocean.Config{
			BaseURL: cfg.OpenOcean.BaseURL,
			Timeout: cfg.OpenOcean.Timeout.Std(),
		}, chains)
		if err != nil {
			return nil, err
		}
		composite.Tokens = oo
		composite.Swap = oo
	}

	assets := make(map[common.Address]string, len(cfg.Pyth.Assets))
	for addr, pair := range cfg.Pyth.Assets {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("adapters.pyth.assets 中的地址无效: %s", addr)
		}
		assets[common.HexToAddress(addr)] = pair
	}
	composite.Oracle = pyth.New(pyth.Config{
		Endpoint: cfg.Pyth.Endpoint,
		Feeds:    cfg.Pyth.Feeds,
		Assets:   assets,
		Timeout:  cfg.Pyth.Timeout.Std(),
	})
	return composite, nil
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.WebhookURL,
			Headers: cfg.WebhookHeaders,
			Client:  &http.Client{Timeout: 10 * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

// openTasks 按配置构造任务存储、队列、服务与处理器。
func (rt *runtime) openTasks(ctx context.Context) (*task.Service, *task.Processor, error) {
	cfg := rt.cfg.Tasks

	var store task.Store
	switch cfg.Store {
	case "memory":
		store = task.NewMemoryStore()
	case "mysql":
		db, err := rt.mysql(ctx)
		if err != nil {
			return nil, nil, err
		}
		mysqlStore, err := task.NewMySQLStore(db)
		if err != nil {
			return nil, nil, err
		}
		store = mysqlStore
	default:
		return nil, nil, fmt.Errorf("不支持的任务存储 %q", cfg.Store)
	}

	var queue task.Queue
	switch cfg.Queue {
	case "memory":
		queue = task.NewMemoryQueue(cfg.QueueSize)
	case "redis":
		q, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: cfg.Redis.BlockWait.Std(),
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		queue = q
	default:
		_ = store.Close()
		return nil, nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue)
	}

	service := task.NewService(store, queue)
	rt.closers = append(rt.closers, service.Close)
	processor := task.NewProcessor(rt.orchestrator, store, queue,
		task.WithWorkerCount(cfg.Workers),
		task.WithAlertDispatcher(rt.alerts),
	)
	return service, processor, nil
}

// Close 按创建的逆序释放资源，存储最后关闭。
func (rt *runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, err)
		}
		rt.store = nil
	}
	if err := errors.Join(errs...); err != nil {
		logger.L().Warn("释放资源时出错", slog.Any("error", err))
		return err
	}
	return nil
}
