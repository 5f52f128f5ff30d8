package apikey

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"AgentMarket/pkg/logger"
)

// 两个近似滑动窗口的宽度。
const (
	minuteWindow = 60 * time.Second
	hourWindow   = 3600 * time.Second
)

// Usage 是 /v1/balance 的密钥视图。
type Usage struct {
	KeyID           string          `json:"key_id"`
	CallsLastMinute int             `json:"calls_last_minute"`
	CallsLastHour   int             `json:"calls_last_hour"`
	PerMinuteLimit  int             `json:"per_minute_limit"`
	PerHourLimit    int             `json:"per_hour_limit"`
	DailyBudget     decimal.Decimal `json:"daily_budget"`
	RemainingBudget decimal.Decimal `json:"remaining_budget"`
}

// BudgetBackend 抽象跨实例的当日预算计数。缺省走存储层的事务预留，
// 多实例部署时可切换到 Redis 实现。
type BudgetBackend interface {
	Reserve(ctx context.Context, keyID string, amount, dailyBudget decimal.Decimal, day string) error
	Release(ctx context.Context, keyID string, amount decimal.Decimal, day string) error
}

// Service 负责密钥认证、限流与预算预留。
type Service struct {
	store  Store
	budget BudgetBackend
	logger *slog.Logger
	now    func() time.Time
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBudgetBackend 把预算计数切换到外部实现。
func WithBudgetBackend(b BudgetBackend) ServiceOption {
	return func(s *Service) {
		s.budget = b
	}
}

// NewService 构造密钥服务。
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		logger: logger.Named("apikey"),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue 签发一把新密钥。
func (s *Service) Issue(ctx context.Context, name, ownerID string, permissions []string,
	dailyBudget decimal.Decimal, perMinute, perHour int, ttl time.Duration) (*Key, error) {
	k := &Key{
		ID:                 uuid.NewString(),
		Secret:             "amk_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:               name,
		OwnerID:            ownerID,
		Permissions:        permissions,
		DailyBudget:        dailyBudget,
		RateLimitPerMinute: perMinute,
		RateLimitPerHour:   perHour,
		Active:             true,
	}
	if ttl > 0 {
		k.ExpiresAt = s.now().Add(ttl).Unix()
	}
	if err := s.store.Create(ctx, k); err != nil {
		return nil, err
	}
	logger.Audit().Info("密钥签发",
		slog.String("key_id", k.ID),
		slog.String("owner_id", ownerID),
		slog.String("daily_budget", dailyBudget.String()),
	)
	return k, nil
}

// Authenticate 解析 Authorization 头并校验密钥可用性。
func (s *Service) Authenticate(ctx context.Context, authorization string) (*Key, error) {
	token := strings.TrimSpace(authorization)
	if token == "" {
		return nil, ErrMissingKey
	}
	if rest, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(rest)
	}
	if token == "" {
		return nil, ErrMissingKey
	}
	k, err := s.store.GetBySecret(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := k.Usable(s.now()); err != nil {
		return nil, err
	}
	return k, nil
}

// CheckRate 评估两个独立窗口：最近 60 秒与最近 3600 秒的调用次数。
// 通过统计已有计量行近似滑动窗口。
func (s *Service) CheckRate(ctx context.Context, k *Key) error {
	now := s.now()
	if k.RateLimitPerMinute > 0 {
		count, err := s.store.CountUsageSince(ctx, k.ID, now.Add(-minuteWindow).Unix())
		if err != nil {
			return err
		}
		if count >= k.RateLimitPerMinute {
			return ErrRateLimited
		}
	}
	if k.RateLimitPerHour > 0 {
		count, err := s.store.CountUsageSince(ctx, k.ID, now.Add(-hourWindow).Unix())
		if err != nil {
			return err
		}
		if count >= k.RateLimitPerHour {
			return ErrRateLimited
		}
	}
	return nil
}

// ReserveSpend 原子预留当日预算并写入计量行。预留成功后排队失败时
// 调用方应以 ReleaseSpend 补偿。
func (s *Service) ReserveSpend(ctx context.Context, k *Key, cost decimal.Decimal) error {
	day := s.today()
	if err := s.reserveBudget(ctx, k, cost, day); err != nil {
		return err
	}
	if err := s.store.RecordUsage(ctx, &UsageRecord{
		KeyID:       k.ID,
		Cost:        cost,
		WindowStart: s.now().Unix(),
	}); err != nil {
		// 计量行写入失败时回滚预留，保持预算计数与计量一致。
		if relErr := s.releaseBudget(ctx, k, cost, day); relErr != nil {
			s.logger.Error("回滚预算预留失败",
				slog.String("key_id", k.ID),
				slog.Any("error", relErr))
		}
		return err
	}
	return nil
}

// ReleaseSpend 补偿一次已预留的消费。
func (s *Service) ReleaseSpend(ctx context.Context, k *Key, cost decimal.Decimal) error {
	return s.releaseBudget(ctx, k, cost, s.today())
}

func (s *Service) reserveBudget(ctx context.Context, k *Key, cost decimal.Decimal, day string) error {
	if s.budget != nil {
		return s.budget.Reserve(ctx, k.ID, cost, k.DailyBudget, day)
	}
	return s.store.ReserveBudget(ctx, k.ID, cost, day)
}

func (s *Service) releaseBudget(ctx context.Context, k *Key, cost decimal.Decimal, day string) error {
	if s.budget != nil {
		return s.budget.Release(ctx, k.ID, cost, day)
	}
	return s.store.ReleaseBudget(ctx, k.ID, cost, day)
}

// Admit 按顺序执行限流与预算检查，是 /v1/execute 的准入入口。
func (s *Service) Admit(ctx context.Context, k *Key, cost decimal.Decimal) error {
	if err := s.CheckRate(ctx, k); err != nil {
		return err
	}
	return s.ReserveSpend(ctx, k, cost)
}

// UsageOf 返回密钥的使用视图。
func (s *Service) UsageOf(ctx context.Context, k *Key) (*Usage, error) {
	now := s.now()
	minuteCalls, err := s.store.CountUsageSince(ctx, k.ID, now.Add(-minuteWindow).Unix())
	if err != nil {
		return nil, err
	}
	hourCalls, err := s.store.CountUsageSince(ctx, k.ID, now.Add(-hourWindow).Unix())
	if err != nil {
		return nil, err
	}
	fresh, err := s.store.Get(ctx, k.ID)
	if err != nil {
		return nil, err
	}
	return &Usage{
		KeyID:           k.ID,
		CallsLastMinute: minuteCalls,
		CallsLastHour:   hourCalls,
		PerMinuteLimit:  k.RateLimitPerMinute,
		PerHourLimit:    k.RateLimitPerHour,
		DailyBudget:     fresh.DailyBudget,
		RemainingBudget: fresh.RemainingBudget(s.today()),
	}, nil
}

func (s *Service) today() string {
	return s.now().UTC().Format("2006-01-02")
}
