package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func seedAgent(t *testing.T, store *MemoryStore, id string, typ Type, score float64) {
	t.Helper()
	err := store.Create(context.Background(), &Agent{
		ID:               id,
		Name:             "测试工作者 " + id,
		Type:             typ,
		Status:           StatusIdle,
		PerformanceScore: score,
		DailyBudget:      decimal.NewFromInt(500),
	})
	if err != nil {
		t.Fatalf("创建工作者失败: %v", err)
	}
}

func TestListIdleByTypeOrdersByScore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, store, "worker-low", TypeConsumer, 0.6)
	seedAgent(t, store, "worker-high", TypeConsumer, 0.9)
	seedAgent(t, store, "worker-other", TypeVolumeGenerator, 0.95)

	idle, err := store.ListIdleByType(ctx, TypeConsumer)
	if err != nil {
		t.Fatalf("查询空闲工作者失败: %v", err)
	}
	if len(idle) != 2 {
		t.Fatalf("期望 2 个空闲工作者, 实际 %d", len(idle))
	}
	if idle[0].ID != "worker-high" {
		t.Fatalf("期望表现分最高者排在首位, 实际 %s", idle[0].ID)
	}
}

func TestAssignRejectsBusyWorker(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, store, "worker-1", TypeConsumer, 0.8)

	if err := store.Assign(ctx, "worker-1", "task-1"); err != nil {
		t.Fatalf("首次绑定失败: %v", err)
	}
	if err := store.Assign(ctx, "worker-1", "task-2"); !errors.Is(err, ErrAgentBusy) {
		t.Fatalf("期望 ErrAgentBusy, 实际 %v", err)
	}

	idle, err := store.ListIdleByType(ctx, TypeConsumer)
	if err != nil {
		t.Fatalf("查询空闲工作者失败: %v", err)
	}
	if len(idle) != 0 {
		t.Fatalf("绑定后不应再出现在空闲列表, 实际 %d", len(idle))
	}
}

func TestRecordResultUpdatesScoreAndStatus(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, store, "worker-1", TypeConsumer, 0)

	if err := store.Assign(ctx, "worker-1", "task-1"); err != nil {
		t.Fatalf("绑定失败: %v", err)
	}
	updated, err := store.RecordResult(ctx, "worker-1", true)
	if err != nil {
		t.Fatalf("记录结果失败: %v", err)
	}
	if updated.Status != StatusIdle {
		t.Fatalf("成功后应回到 idle, 实际 %s", updated.Status)
	}
	if updated.CurrentTaskID != "" {
		t.Fatalf("任务绑定应清空, 实际 %q", updated.CurrentTaskID)
	}
	if updated.PerformanceScore != 1 {
		t.Fatalf("一次成功后表现分应为 1, 实际 %v", updated.PerformanceScore)
	}
}

func TestRecordResultConsecutiveFailsEntersError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedAgent(t, store, "worker-1", TypeConsumer, 0)

	var updated *Agent
	var err error
	for i := 0; i < errorStatusThreshold; i++ {
		updated, err = store.RecordResult(ctx, "worker-1", false)
		if err != nil {
			t.Fatalf("记录结果失败: %v", err)
		}
	}
	if updated.Status != StatusError {
		t.Fatalf("连续失败 %d 次后应进入 error, 实际 %s", errorStatusThreshold, updated.Status)
	}
	if updated.ConsecutiveFails != errorStatusThreshold {
		t.Fatalf("连续失败计数不符: %d", updated.ConsecutiveFails)
	}

	// 运维恢复后重新可调度。
	if err := store.SetStatus(ctx, "worker-1", StatusIdle); err != nil {
		t.Fatalf("恢复状态失败: %v", err)
	}
	idle, err := store.ListIdleByType(ctx, TypeConsumer)
	if err != nil {
		t.Fatalf("查询空闲工作者失败: %v", err)
	}
	if len(idle) != 1 {
		t.Fatalf("恢复后应重新空闲, 实际 %d", len(idle))
	}
}

func TestCreateNormalizesWallet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	created := &Agent{
		ID:            "worker-wallet",
		Type:          TypePaymentBot,
		WalletAddress: " 0x52908400098527886e0f7030069857d2e4169ee7 ",
	}
	if err := store.Create(ctx, created); err != nil {
		t.Fatalf("创建工作者失败: %v", err)
	}
	stored, err := store.Get(ctx, "worker-wallet")
	if err != nil {
		t.Fatalf("查询工作者失败: %v", err)
	}
	if stored.WalletAddress != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Fatalf("入库地址未规范化为校验和格式: %s", stored.WalletAddress)
	}

	bad := &Agent{ID: "worker-bad-wallet", Type: TypePaymentBot, WalletAddress: "not-an-address"}
	if err := store.Create(ctx, bad); err == nil {
		t.Fatalf("非法收款地址应拒绝入库")
	}
}

func TestNormalizeWallet(t *testing.T) {
	addr, err := NormalizeWallet("  0x52908400098527886e0f7030069857d2e4169ee7  ")
	if err != nil {
		t.Fatalf("合法地址被拒绝: %v", err)
	}
	if addr != "0x52908400098527886E0F7030069857D2E4169EE7" {
		t.Fatalf("地址未规范化为校验和格式: %s", addr)
	}

	if got, err := NormalizeWallet(""); err != nil || got != "" {
		t.Fatalf("空地址应合法: %q, %v", got, err)
	}
	if _, err := NormalizeWallet("not-an-address"); err == nil {
		t.Fatalf("非法地址应被拒绝")
	}
}
