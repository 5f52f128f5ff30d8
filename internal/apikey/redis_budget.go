package apikey

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// RedisBudget 用 Redis 原子计数实现跨实例的当日预算预留。
// 金额以百分位整数（分）计数，INCRBY 之后发现超限立刻 DECRBY 回滚。
type RedisBudget struct {
	client *redis.Client
	prefix string
}

// NewRedisBudget 创建 RedisBudget。
func NewRedisBudget(address, password string, db int) (*RedisBudget, error) {
	if address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return &RedisBudget{client: client, prefix: "agentmarket:budget"}, nil
}

func (b *RedisBudget) counterKey(keyID, day string) string {
	return fmt.Sprintf("%s:%s:%s", b.prefix, keyID, day)
}

// toCents 把金额转为分。预算按分取整比较，误差不超过一分。
func toCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// Reserve 原子预留。超限时计数回滚并返回 ErrBudgetExhausted。
func (b *RedisBudget) Reserve(ctx context.Context, keyID string, amount, dailyBudget decimal.Decimal, day string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return xerrors.New(xerrors.CodeInvalidArgument, "预留金额必须为正数")
	}
	counter := b.counterKey(keyID, day)
	cents := toCents(amount)
	total, err := b.client.IncrBy(ctx, counter, cents).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "预算计数失败")
	}
	// 计数键随自然日滚动，留两天过期窗口。
	b.client.Expire(ctx, counter, 48*time.Hour)
	if total > toCents(dailyBudget) {
		if err := b.client.DecrBy(ctx, counter, cents).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回滚预算计数失败")
		}
		return ErrBudgetExhausted
	}
	return nil
}

// Release 回滚一次预留。
func (b *RedisBudget) Release(ctx context.Context, keyID string, amount decimal.Decimal, day string) error {
	if err := b.client.DecrBy(ctx, b.counterKey(keyID, day), toCents(amount)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "回滚预算计数失败")
	}
	return nil
}

var _ BudgetBackend = (*RedisBudget)(nil)

// Close 关闭 Redis 连接。
func (b *RedisBudget) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}
