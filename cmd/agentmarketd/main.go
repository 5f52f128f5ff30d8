package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	"AgentMarket/internal/api"
	"AgentMarket/internal/apikey"
	"AgentMarket/internal/billing"
	"AgentMarket/internal/catalog"
	"AgentMarket/internal/config"
	"AgentMarket/internal/exec"
	"AgentMarket/internal/market"
	"AgentMarket/internal/observability/alerting"
	"AgentMarket/internal/observability/metrics"
	"AgentMarket/internal/sched"
	"AgentMarket/internal/scoring"
	signals "AgentMarket/internal/signal"
	"AgentMarket/internal/storage/mysql"
	"AgentMarket/internal/wallet"
	"AgentMarket/pkg/logger"
)

// main 是平台守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("agentmarketd 运行失败: %v", err)
	}
}

// stores 汇集全部域存储，便于统一构建与关闭。
type stores struct {
	signals signals.Store
	agents  agent.Store
	tasks   sched.Store
	execs   exec.Store
	billing billing.Store
	wallets wallet.Store
	keys    apikey.Store
	markets market.Store
}

func (s *stores) closeAll() {
	for _, closer := range []interface{ Close() error }{
		s.signals, s.agents, s.tasks, s.execs, s.billing, s.wallets, s.keys, s.markets,
	} {
		if closer != nil {
			_ = closer.Close()
		}
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("AGENTMARKET_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agentmarket.json")
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = config.Default()
	} else {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	st, db, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.closeAll()
	if db != nil {
		defer db.Close()
	}

	queue, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭执行队列失败", "error", err)
		}
	}()

	alerts := buildAlerts(cfg)

	keyOpts := []apikey.ServiceOption{}
	if cfg.Storage.BudgetDriver == "redis" {
		budget, err := apikey.NewRedisBudget(
			cfg.Storage.Redis.Address, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB)
		if err != nil {
			return err
		}
		defer budget.Close()
		keyOpts = append(keyOpts, apikey.WithBudgetBackend(budget))
	}
	keys := apikey.NewService(st.keys, keyOpts...)

	signalSvc := signals.NewService(st.signals)
	pipeline := scoring.NewPipeline(st.signals, cat)
	wallets := wallet.NewService(st.wallets)
	billingSvc := billing.NewService(st.billing,
		billing.NewSimulatedProcessor(cfg.Billing.ProcessorFailureRate))
	executions := exec.NewService(st.execs, queue)
	scheduler := sched.NewScheduler(st.tasks, st.agents, sched.WithSignalStore(st.signals))

	if err := seedWorkers(ctx, st.agents); err != nil {
		return err
	}

	monitorOpts := []market.MonitorOption{market.WithScanSpec(cfg.Market.ScanSpec)}
	if cfg.Market.WindowMinutes > 0 {
		monitorOpts = append(monitorOpts,
			market.WithWindow(time.Duration(cfg.Market.WindowMinutes)*time.Minute))
	}
	monitor := market.NewMonitor(st.markets, cat, monitorOpts...)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	sweeper := sched.NewSweeper(scheduler, st.signals,
		sched.WithSweepSpec(cfg.Sched.SweepSpec),
		sched.WithSweepBatch(cfg.Sched.SweepBatch),
		sched.WithMarketStore(st.markets),
		sched.WithLauncher(executions),
	)
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	retrier := billing.NewRetrier(billingSvc, st.billing,
		billing.WithDrainSpec(cfg.Billing.DrainSpec),
		billing.WithDrainBatch(cfg.Billing.DrainBatch),
		billing.WithRetrierAlerter(alerts),
	)
	if err := retrier.Start(ctx); err != nil {
		return err
	}
	defer retrier.Stop()

	dispatcher, err := buildDispatcher(cfg)
	if err != nil {
		return err
	}
	engine := exec.NewEngine(st.execs, queue, dispatcher,
		exec.WithWorkerCount(cfg.Engine.Workers),
		exec.WithTaskStore(st.tasks),
		exec.WithSettler(billingSvc),
		exec.WithLedger(wallets),
		exec.WithWorkerRegistry(st.agents),
		exec.WithAlertDispatcher(alerts),
	)

	engineCtx, engineCancel := context.WithCancel(ctx)
	defer engineCancel()
	go func() {
		if err := engine.Start(engineCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("执行引擎异常退出", "error", err)
		}
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, api.Deps{
		Keys:       keys,
		Agents:     st.agents,
		Executions: executions,
		Wallets:    wallets,
		Signals:    signalSvc,
		Pipeline:   pipeline,
		Billing:    billingSvc,
		Catalog:    cat,
	})
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildStores(ctx context.Context, cfg *config.Config) (*stores, *sql.DB, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return &stores{
			signals: signals.NewMemoryStore(),
			agents:  agent.NewMemoryStore(),
			tasks:   sched.NewMemoryStore(),
			execs:   exec.NewMemoryStore(),
			billing: billing.NewMemoryStore(),
			wallets: wallet.NewMemoryStore(),
			keys:    apikey.NewMemoryStore(),
			markets: market.NewMemoryStore(),
		}, nil, nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.DSN,
			MaxOpenConns:    cfg.Storage.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.ConnMaxLifetime(),
			ConnMaxIdleTime: cfg.Storage.ConnMaxIdleTime(),
		})
		if err != nil {
			return nil, nil, err
		}
		st := &stores{}
		if st.signals, err = signals.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.agents, err = agent.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.tasks, err = sched.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.execs, err = exec.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.billing, err = billing.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.wallets, err = wallet.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.keys, err = apikey.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		if st.markets, err = market.NewMySQLStore(db); err != nil {
			return nil, db, err
		}
		return st, db, nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func buildQueue(cfg *config.Config) (exec.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return exec.NewMemoryQueue(cfg.Queue.Size), nil
	case "redis":
		return exec.NewRedisQueue(exec.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: cfg.Queue.Redis.BlockWait(),
		})
	case "rabbitmq":
		return exec.NewRabbitMQQueue(exec.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func buildDispatcher(cfg *config.Config) (exec.Dispatcher, error) {
	switch cfg.Engine.Dispatcher {
	case "", "simulated":
		return exec.NewSimulatedDispatcher(cfg.Engine.FailureRate), nil
	case "http":
		return exec.NewHTTPDispatcher(time.Duration(cfg.Engine.TimeoutSeconds) * time.Second), nil
	default:
		return nil, fmt.Errorf("未知的派发器: %s", cfg.Engine.Dispatcher)
	}
}

func buildAlerts(cfg *config.Config) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: time.Duration(cfg.Alerting.TimeoutSeconds) * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

// seedWorkers 在注册表为空时补齐三类默认工作者，让新部署能立刻接单。
func seedWorkers(ctx context.Context, agents agent.Store) error {
	existing, err := agents.List(ctx, 1)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	defaults := []*agent.Agent{
		{ID: "agent-consumer-1", Name: "默认消费工作者", Type: agent.TypeConsumer,
			Status: agent.StatusIdle, PerformanceScore: 0.8, DailyBudget: decimal.NewFromInt(500)},
		{ID: "agent-volume-1", Name: "默认刷量工作者", Type: agent.TypeVolumeGenerator,
			Status: agent.StatusIdle, PerformanceScore: 0.7, DailyBudget: decimal.NewFromInt(300)},
		{ID: "agent-payment-1", Name: "默认支付工作者", Type: agent.TypePaymentBot,
			Status: agent.StatusIdle, PerformanceScore: 0.9, DailyBudget: decimal.NewFromInt(1000)},
	}
	for _, worker := range defaults {
		if err := agents.Create(ctx, worker); err != nil {
			return err
		}
	}
	return nil
}
