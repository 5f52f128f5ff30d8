package sched

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	"AgentMarket/internal/market"
	"AgentMarket/internal/signal"
)

type stubLauncher struct {
	mu    sync.Mutex
	tasks []*Task
}

func (l *stubLauncher) LaunchTask(_ context.Context, t *Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, t)
	return nil
}

func seedOpportunity(t *testing.T, store signal.Store, id string) *signal.Opportunity {
	t.Helper()
	opp := &signal.Opportunity{
		ID:               id,
		SignalID:         "sig-" + id,
		DemandScore:      60,
		Temperature:      signal.TemperatureWarm,
		ServiceType:      "api",
		SuggestedPrice:   decimal.NewFromInt(299),
		DeliveryDays:     3,
		PotentialRevenue: decimal.NewFromInt(400),
		Status:           signal.OpportunityDetected,
	}
	if err := store.CreateOpportunity(context.Background(), opp); err != nil {
		t.Fatalf("创建机会失败: %v", err)
	}
	return opp
}

func TestSweepSchedulesPendingOpportunity(t *testing.T) {
	ctx := context.Background()
	tasks := NewMemoryStore()
	agents := agent.NewMemoryStore()
	signals := signal.NewMemoryStore()
	launcher := &stubLauncher{}

	if err := agents.Create(ctx, &agent.Agent{
		ID: "worker-1", Name: "worker-1", Type: agent.TypeConsumer,
		Status: agent.StatusIdle, PerformanceScore: 0.9,
		DailyBudget: decimal.NewFromInt(200),
	}); err != nil {
		t.Fatalf("创建工作者失败: %v", err)
	}
	opp := seedOpportunity(t, signals, "opp-1")

	scheduler := NewScheduler(tasks, agents, WithSignalStore(signals))
	sweeper := NewSweeper(scheduler, signals, WithLauncher(launcher))

	sweeper.Sweep(ctx)

	created, err := tasks.List(ctx, 10)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("任务数 = %d, want 1", len(created))
	}
	if created[0].TargetID != opp.ID {
		t.Fatalf("任务目标 = %s, want %s", created[0].TargetID, opp.ID)
	}
	if len(launcher.tasks) != 1 {
		t.Fatalf("排队执行数 = %d, want 1", len(launcher.tasks))
	}
	updated, err := signals.GetOpportunity(ctx, opp.ID)
	if err != nil {
		t.Fatalf("查询机会失败: %v", err)
	}
	if updated.Status != signal.OpportunityTaskCreated {
		t.Fatalf("机会状态 = %s, want task_created", updated.Status)
	}

	// 机会已转为 task_created，再巡检不应重复建任务。
	sweeper.Sweep(ctx)
	created, err = tasks.List(ctx, 10)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("二次巡检后任务数 = %d, want 1", len(created))
	}
}

func TestSweepEvictsStaleMarketDedupEntries(t *testing.T) {
	ctx := context.Background()
	tasks := NewMemoryStore()
	agents := agent.NewMemoryStore()
	signals := signal.NewMemoryStore()
	markets := market.NewMemoryStore()
	launcher := &stubLauncher{}

	for _, id := range []string{"worker-1", "worker-2"} {
		if err := agents.Create(ctx, &agent.Agent{
			ID: id, Name: id, Type: agent.TypeConsumer,
			Status: agent.StatusIdle, PerformanceScore: 0.9,
			DailyBudget: decimal.NewFromInt(200),
		}); err != nil {
			t.Fatalf("创建工作者失败: %v", err)
		}
	}

	future := time.Now().Add(time.Hour).Unix()
	if err := markets.Create(ctx, &market.Opportunity{
		ID: "m-1", ProductID: "prod-1", ProductName: "第一轮扫描",
		DemandScore: 50, PotentialRevenue: decimal.NewFromInt(100),
		WindowEnd: future, ScanID: "scan-1",
	}); err != nil {
		t.Fatalf("创建市场机会失败: %v", err)
	}

	scheduler := NewScheduler(tasks, agents, WithSignalStore(signals))
	sweeper := NewSweeper(scheduler, signals, WithMarketStore(markets), WithLauncher(launcher))

	sweeper.Sweep(ctx)
	if !sweeper.alreadyScheduled("m-1") {
		t.Fatalf("首轮巡检后 m-1 应已记入去重集合")
	}

	// 新一轮扫描整体取代榜单，上一轮的 ID 不再出现，应从集合中逐出。
	if err := markets.Create(ctx, &market.Opportunity{
		ID: "m-2", ProductID: "prod-2", ProductName: "第二轮扫描",
		DemandScore: 50, PotentialRevenue: decimal.NewFromInt(100),
		WindowEnd: future, ScanID: "scan-2",
	}); err != nil {
		t.Fatalf("创建市场机会失败: %v", err)
	}
	sweeper.Sweep(ctx)

	if sweeper.alreadyScheduled("m-1") {
		t.Fatalf("历史扫描的 m-1 不应继续留在去重集合")
	}
	if !sweeper.alreadyScheduled("m-2") {
		t.Fatalf("当前扫描的 m-2 应记入去重集合")
	}
	sweeper.mu.Lock()
	size := len(sweeper.scheduled)
	sweeper.mu.Unlock()
	if size != 1 {
		t.Fatalf("去重集合大小 = %d, want 1", size)
	}
}

func TestSweepLeavesOpportunityWhenNoWorker(t *testing.T) {
	ctx := context.Background()
	tasks := NewMemoryStore()
	agents := agent.NewMemoryStore()
	signals := signal.NewMemoryStore()

	opp := seedOpportunity(t, signals, "opp-1")

	scheduler := NewScheduler(tasks, agents, WithSignalStore(signals))
	sweeper := NewSweeper(scheduler, signals)

	sweeper.Sweep(ctx)

	created, err := tasks.List(ctx, 10)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if len(created) != 0 {
		t.Fatalf("无工作者时任务数 = %d, want 0", len(created))
	}
	unchanged, err := signals.GetOpportunity(ctx, opp.ID)
	if err != nil {
		t.Fatalf("查询机会失败: %v", err)
	}
	if unchanged.Status != signal.OpportunityDetected {
		t.Fatalf("机会状态 = %s, want detected", unchanged.Status)
	}
}
