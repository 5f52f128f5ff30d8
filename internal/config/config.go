package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述平台守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Engine   EngineConfig   `json:"engine"`
	Market   MarketConfig   `json:"market"`
	Sched    SchedConfig    `json:"sched"`
	Billing  BillingConfig  `json:"billing"`
	Catalog  CatalogConfig  `json:"catalog"`
	Alerting AlertingConfig `json:"alerting"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 统一描述各域存储的后端选择。memory 驱动用于本地与测试，
// mysql 驱动让所有域存储共享同一个连接池。
type StorageConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`

	// BudgetDriver 选择密钥预算计数的实现：store（随存储驱动）或 redis。
	BudgetDriver string      `json:"budget_driver"`
	Redis        RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接信息，预算计数与执行队列共用。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// QueueConfig 选择执行队列驱动。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Redis    RedisQueue     `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisQueue 描述 Redis 队列驱动的参数。
type RedisQueue struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列驱动的参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// EngineConfig 控制执行引擎的并发与派发方式。
type EngineConfig struct {
	Workers        int     `json:"workers"`
	Dispatcher     string  `json:"dispatcher"`
	FailureRate    float64 `json:"failure_rate"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// MarketConfig 控制目录机会扫描的节奏。
type MarketConfig struct {
	ScanSpec      string `json:"scan_spec"`
	WindowMinutes int    `json:"window_minutes"`
}

// SchedConfig 控制调度巡检的节奏。
type SchedConfig struct {
	SweepSpec  string `json:"sweep_spec"`
	SweepBatch int    `json:"sweep_batch"`
}

// BillingConfig 控制支付重试排水的节奏与模拟处理器的失败率。
type BillingConfig struct {
	DrainSpec            string  `json:"drain_spec"`
	DrainBatch           int     `json:"drain_batch"`
	ProcessorFailureRate float64 `json:"processor_failure_rate"`
}

// CatalogConfig 指向服务原型与产品目录定义。
type CatalogConfig struct {
	Path string `json:"path"`
}

// AlertingConfig 配置告警通道。Webhook 为空时只保留日志通道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MetricsConfig 控制独立的 /metrics 服务。Address 为空时不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 映射到 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       Audit    `json:"audit"`
}

// Audit 控制审计日志的落盘与轮转。
type Audit struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// ConnMaxLifetime 返回连接最长存活时间。
func (s StorageConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(s.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回空闲连接的最长保留时间。
func (s StorageConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(s.ConnMaxIdleTimeSeconds) * time.Second
}

// BlockWait 返回 Redis 队列的阻塞等待时长。
func (q RedisQueue) BlockWait() time.Duration {
	return time.Duration(q.BlockWaitSeconds) * time.Second
}

// Default 返回一份全默认配置，配置文件缺失时用于本地启动。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Load 负责解析指定路径的 JSON 配置文件。
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

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.BudgetDriver == "" {
		c.Storage.BudgetDriver = "store"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 1024
	}

	if c.Engine.Workers <= 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.Dispatcher == "" {
		c.Engine.Dispatcher = "simulated"
	}
	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = 30
	}

	if c.Market.ScanSpec == "" {
		c.Market.ScanSpec = "@every 15m"
	}

	if c.Sched.SweepSpec == "" {
		c.Sched.SweepSpec = "@every 1m"
	}
	if c.Sched.SweepBatch <= 0 {
		c.Sched.SweepBatch = 50
	}

	if c.Billing.DrainSpec == "" {
		c.Billing.DrainSpec = "@every 30s"
	}
	if c.Billing.DrainBatch <= 0 {
		c.Billing.DrainBatch = 50
	}

	if c.Catalog.Path != "" && !filepath.IsAbs(c.Catalog.Path) {
		c.Catalog.Path = filepath.Join(baseDir, c.Catalog.Path)
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}
