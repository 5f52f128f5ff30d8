package apikey

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestKey(t *testing.T, store Store, perMinute, perHour int, budget int64) *Key {
	t.Helper()
	k := &Key{
		ID:                 "key-1",
		Secret:             "amk_test",
		Name:               "test",
		Permissions:        []string{"execute"},
		DailyBudget:        decimal.NewFromInt(budget),
		RateLimitPerMinute: perMinute,
		RateLimitPerHour:   perHour,
		Active:             true,
	}
	if err := store.Create(context.Background(), k); err != nil {
		t.Fatalf("创建密钥失败: %v", err)
	}
	return k
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store)
	newTestKey(t, store, 5, 100, 1000)

	if _, err := service.Authenticate(ctx, ""); !stdErrors.Is(err, ErrMissingKey) {
		t.Fatalf("空请求头期望 ErrMissingKey, got %v", err)
	}
	if _, err := service.Authenticate(ctx, "Bearer wrong"); !stdErrors.Is(err, ErrKeyInvalid) {
		t.Fatalf("错误密钥期望 ErrKeyInvalid, got %v", err)
	}
	k, err := service.Authenticate(ctx, "Bearer amk_test")
	if err != nil {
		t.Fatalf("认证失败: %v", err)
	}
	if k.ID != "key-1" {
		t.Fatalf("密钥 ID = %s, want key-1", k.ID)
	}
}

func TestAuthenticateExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store)

	k := &Key{
		ID:          "key-expired",
		Secret:      "amk_expired",
		DailyBudget: decimal.NewFromInt(100),
		Active:      true,
		ExpiresAt:   time.Now().Add(-time.Hour).Unix(),
	}
	if err := store.Create(ctx, k); err != nil {
		t.Fatalf("创建密钥失败: %v", err)
	}
	if _, err := service.Authenticate(ctx, "Bearer amk_expired"); !stdErrors.Is(err, ErrKeyExpired) {
		t.Fatalf("过期密钥期望 ErrKeyExpired, got %v", err)
	}
}

func TestRateLimitSixthCallRejected(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store)
	k := newTestKey(t, store, 5, 1000, 100000)

	// 每分钟限 5 次：前 5 次通过，第 6 次被拒。
	for i := 0; i < 5; i++ {
		if err := service.Admit(ctx, k, decimal.NewFromInt(1)); err != nil {
			t.Fatalf("第 %d 次调用不应被拒: %v", i+1, err)
		}
	}
	err := service.Admit(ctx, k, decimal.NewFromInt(1))
	if !stdErrors.Is(err, ErrRateLimited) {
		t.Fatalf("第 6 次调用期望 ErrRateLimited, got %v", err)
	}
}

func TestBudgetSequentialInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store)
	k := newTestKey(t, store, 0, 0, 100)

	spent := decimal.Zero
	for i := 0; i < 20; i++ {
		err := service.ReserveSpend(ctx, k, decimal.NewFromInt(15))
		if err != nil {
			if !stdErrors.Is(err, ErrBudgetExhausted) {
				t.Fatalf("期望 ErrBudgetExhausted, got %v", err)
			}
			break
		}
		spent = spent.Add(decimal.NewFromInt(15))
	}
	if spent.GreaterThan(k.DailyBudget) {
		t.Fatalf("顺序消费 %s 超过预算 %s", spent, k.DailyBudget)
	}
	// 100 预算下 15 一笔最多 6 笔。
	if !spent.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("累计消费 = %s, want 90", spent)
	}
}

func TestBudgetConcurrentReserve(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store)
	k := newTestKey(t, store, 0, 0, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := service.ReserveSpend(ctx, k, decimal.NewFromInt(10)); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	// 原子预留下并发也不能超卖：100 预算最多放行 10 笔。
	if admitted != 10 {
		t.Fatalf("并发放行笔数 = %d, want 10", admitted)
	}
}

func TestReleaseSpendCompensates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store)
	k := newTestKey(t, store, 0, 0, 100)

	if err := service.ReserveSpend(ctx, k, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("预留失败: %v", err)
	}
	if err := service.ReserveSpend(ctx, k, decimal.NewFromInt(1)); !stdErrors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("预算用尽期望 ErrBudgetExhausted, got %v", err)
	}
	if err := service.ReleaseSpend(ctx, k, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("补偿失败: %v", err)
	}
	if err := service.ReserveSpend(ctx, k, decimal.NewFromInt(50)); err != nil {
		t.Fatalf("补偿后预留不应失败: %v", err)
	}
}
