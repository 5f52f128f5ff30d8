package market

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"AgentMarket/internal/catalog"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/pkg/logger"
)

// 目录扫描评分的归一化上限。
const (
	callVolumeCeiling  = 100000.0
	competitorsCeiling = 20.0
	complexityCeiling  = 10.0
)

// Monitor 周期性扫描产品目录并生成市场机会。每次扫描是独立且幂等的一趟，
// 失败的一趟只会把未评分的产品留给下一个周期。
type Monitor struct {
	store   Store
	catalog *catalog.Catalog
	cron    *cron.Cron
	spec    string
	window  time.Duration
	logger  *slog.Logger
}

// MonitorOption 定义可选配置。
type MonitorOption func(*Monitor)

// WithScanSpec 设置 cron 表达式，默认 "@every 15m"。
func WithScanSpec(spec string) MonitorOption {
	return func(m *Monitor) {
		if spec != "" {
			m.spec = spec
		}
	}
}

// WithWindow 设置机会的有效时间窗口。
func WithWindow(window time.Duration) MonitorOption {
	return func(m *Monitor) {
		if window > 0 {
			m.window = window
		}
	}
}

// NewMonitor 构造市场机会监视器。
func NewMonitor(store Store, cat *catalog.Catalog, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		store:   store,
		catalog: cat,
		spec:    "@every 15m",
		window:  24 * time.Hour,
		logger:  logger.Named("market"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.catalog == nil {
		m.catalog = catalog.Default()
	}
	return m
}

// Start 注册定时扫描任务并启动调度器。
func (m *Monitor) Start(ctx context.Context) error {
	if m.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "市场机会存储未初始化")
	}
	m.cron = cron.New()
	if _, err := m.cron.AddFunc(m.spec, func() {
		if _, err := m.Scan(ctx); err != nil {
			m.logger.Error("目录扫描失败", slog.Any("error", err))
		}
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册目录扫描任务失败")
	}
	m.cron.Start()
	return nil
}

// Stop 停止调度器并等待进行中的扫描结束。
func (m *Monitor) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// Scan 对目录中的每个产品评分并落库。返回本次扫描生成的机会。
func (m *Monitor) Scan(ctx context.Context) ([]*Opportunity, error) {
	if m.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "市场机会存储未初始化")
	}
	scanID := uuid.NewString()
	now := time.Now()
	results := make([]*Opportunity, 0, len(m.catalog.Products))
	for _, product := range m.catalog.Products {
		opp := scoreProduct(product, scanID, now, m.window)
		if err := m.store.Create(ctx, opp); err != nil {
			return results, xerrors.Wrap(CodeScanFailure, err, "写入市场机会失败")
		}
		results = append(results, opp)
	}
	m.logger.Info("目录扫描完成",
		slog.String("scan_id", scanID),
		slog.Int("products", len(results)),
	)
	return results, nil
}

// scoreProduct 依据调用量、竞争与定价评估一个产品的市场机会。
func scoreProduct(product catalog.Product, scanID string, now time.Time, window time.Duration) *Opportunity {
	demand := float64(product.MonthlyCalls) / callVolumeCeiling * 100
	if demand > 100 {
		demand = 100
	}
	competition := float64(product.Competitors) / competitorsCeiling * 100
	if competition > 100 {
		competition = 100
	}
	complexity := float64(product.Complexity) / complexityCeiling * 100
	if complexity > 100 {
		complexity = 100
	}

	// 潜在收入 = 单价 × 月调用量 × 竞争折减系数。
	discount := decimal.NewFromFloat(1 - competition/200)
	revenue := product.PricePerCallDecimal().
		Mul(decimal.NewFromInt(int64(product.MonthlyCalls))).
		Mul(discount).
		Round(2)

	return &Opportunity{
		ID:               uuid.NewString(),
		ProductID:        product.ID,
		ProductName:      product.Name,
		DemandScore:      demand,
		CompetitionScore: competition,
		ComplexityScore:  complexity,
		PotentialRevenue: revenue,
		WindowStart:      now.Unix(),
		WindowEnd:        now.Add(window).Unix(),
		ScanID:           scanID,
		CreatedAt:        now.Unix(),
	}
}
