package sched

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
)

func newTestAgent(id string, t agent.Type, perf float64, budget int64) *agent.Agent {
	return &agent.Agent{
		ID:               id,
		Name:             id,
		Type:             t,
		Status:           agent.StatusIdle,
		PerformanceScore: perf,
		DailyBudget:      decimal.NewFromInt(budget),
	}
}

func TestWorkerTypeMapping(t *testing.T) {
	cases := []struct {
		name    string
		demand  float64
		revenue int64
		want    agent.Type
	}{
		{"高需求走刷量型", 80, 100, agent.TypeVolumeGenerator},
		{"高收入走支付型", 30, 2000, agent.TypePaymentBot},
		{"默认走消费型", 30, 100, agent.TypeConsumer},
		{"需求优先于收入", 75, 5000, agent.TypeVolumeGenerator},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := workerTypeFor(tc.demand, decimal.NewFromInt(tc.revenue))
			if got != tc.want {
				t.Fatalf("workerTypeFor(%v, %v) = %v, want %v", tc.demand, tc.revenue, got, tc.want)
			}
		})
	}
}

func TestAllocateBudget(t *testing.T) {
	// 日预算 100 的 10% = 10，收入 500 的 5% = 25，取较小者。
	got := allocateBudget(decimal.NewFromInt(100), decimal.NewFromInt(500))
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("allocateBudget = %s, want 10", got)
	}
	// 收入份额更小时取收入侧。
	got = allocateBudget(decimal.NewFromInt(1000), decimal.NewFromInt(100))
	if !got.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("allocateBudget = %s, want 5", got)
	}
}

func TestSchedulePicksBestIdleWorker(t *testing.T) {
	ctx := context.Background()
	agents := agent.NewMemoryStore()
	tasks := NewMemoryStore()

	for _, a := range []*agent.Agent{
		newTestAgent("worker-low", agent.TypeVolumeGenerator, 0.5, 100),
		newTestAgent("worker-high", agent.TypeVolumeGenerator, 0.9, 200),
		newTestAgent("worker-busy", agent.TypeVolumeGenerator, 0.95, 300),
	} {
		if err := agents.Create(ctx, a); err != nil {
			t.Fatalf("创建工作者失败: %v", err)
		}
	}
	if err := agents.Assign(ctx, "worker-busy", "other-task"); err != nil {
		t.Fatalf("预占工作者失败: %v", err)
	}

	s := NewScheduler(tasks, agents)
	task, err := s.Schedule(ctx, Candidate{
		TargetKind:       TargetMarketOpportunity,
		TargetID:         "opp-1",
		DemandScore:      85,
		PotentialRevenue: decimal.NewFromInt(400),
	})
	if err != nil {
		t.Fatalf("调度失败: %v", err)
	}
	if task.AgentID != "worker-high" {
		t.Fatalf("分配工作者 = %s, want worker-high", task.AgentID)
	}
	if task.Status != TaskStatusAssigned {
		t.Fatalf("任务状态 = %s, want assigned", task.Status)
	}
	// min(200×10%, 400×5%) = 20
	if !task.AllocatedBudget.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("任务预算 = %s, want 20", task.AllocatedBudget)
	}

	claimed, err := agents.Get(ctx, "worker-high")
	if err != nil {
		t.Fatalf("查询工作者失败: %v", err)
	}
	if claimed.Status != agent.StatusActive || claimed.CurrentTaskID != task.ID {
		t.Fatalf("工作者未正确绑定: status=%s task=%s", claimed.Status, claimed.CurrentTaskID)
	}
}

func TestScheduleNoIdleWorker(t *testing.T) {
	ctx := context.Background()
	agents := agent.NewMemoryStore()
	tasks := NewMemoryStore()

	s := NewScheduler(tasks, agents)
	_, err := s.Schedule(ctx, Candidate{
		TargetKind:       TargetMarketOpportunity,
		TargetID:         "opp-1",
		DemandScore:      85,
		PotentialRevenue: decimal.NewFromInt(400),
	})
	if !stdErrors.Is(err, ErrNoWorkerAvailable) {
		t.Fatalf("期望 ErrNoWorkerAvailable, got %v", err)
	}

	listed, err := tasks.List(ctx, 10)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("无工作者时不应创建任务, got %d", len(listed))
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	task := &Task{
		ID:              "task-1",
		Type:            agent.TypeConsumer,
		Priority:        3,
		TargetKind:      TargetSignalOpportunity,
		TargetID:        "opp-1",
		AllocatedBudget: decimal.NewFromInt(5),
		ExpectedRevenue: decimal.NewFromInt(100),
		Status:          TaskStatusPending,
	}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	for _, status := range []TaskStatus{TaskStatusAssigned, TaskStatusExecuting, TaskStatusCompleted} {
		if err := store.UpdateStatus(ctx, "task-1", status); err != nil {
			t.Fatalf("迁移到 %s 失败: %v", status, err)
		}
	}
	// 终态之后不可再迁移。
	if err := store.UpdateStatus(ctx, "task-1", TaskStatusExecuting); err == nil {
		t.Fatalf("终态之后的迁移应当失败")
	}
	// pending 不能直接跳到 executing。
	skip := &Task{
		ID:              "task-2",
		Type:            agent.TypeConsumer,
		Priority:        3,
		TargetKind:      TargetSignalOpportunity,
		TargetID:        "opp-2",
		AllocatedBudget: decimal.NewFromInt(5),
		ExpectedRevenue: decimal.NewFromInt(100),
		Status:          TaskStatusPending,
	}
	if err := store.Create(ctx, skip); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}
	if err := store.UpdateStatus(ctx, "task-2", TaskStatusExecuting); err == nil {
		t.Fatalf("pending 直接到 executing 应当失败")
	}
}
