package exec

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/sched"
)

type stubDispatcher struct {
	err   error
	mu    sync.Mutex
	calls int
}

func (d *stubDispatcher) Dispatch(_ context.Context, _ *Execution) error {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.err
}

type stubSettler struct{}

func (stubSettler) SettleExecution(_ context.Context, e *Execution) (decimal.Decimal, error) {
	return e.Cost.Mul(decimal.RequireFromString("1.2")), nil
}

func newTestExecution(t *testing.T, store Store, agentID string) *Execution {
	t.Helper()
	e := &Execution{
		ID:      "exec-" + agentID,
		AgentID: agentID,
		Cost:    decimal.NewFromInt(100),
		Status:  StatusPending,
	}
	if err := store.Create(context.Background(), e); err != nil {
		t.Fatalf("创建执行失败: %v", err)
	}
	return e
}

func TestEngineHandleSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agents := agent.NewMemoryStore()
	tasks := sched.NewMemoryStore()

	worker := &agent.Agent{
		ID:          "agent-1",
		Type:        agent.TypeConsumer,
		Status:      agent.StatusIdle,
		DailyBudget: decimal.NewFromInt(100),
	}
	if err := agents.Create(ctx, worker); err != nil {
		t.Fatalf("创建工作者失败: %v", err)
	}
	task := &sched.Task{
		ID:              "task-1",
		Type:            agent.TypeConsumer,
		Priority:        3,
		TargetKind:      sched.TargetSignalOpportunity,
		TargetID:        "opp-1",
		AllocatedBudget: decimal.NewFromInt(5),
		ExpectedRevenue: decimal.NewFromInt(120),
		AgentID:         worker.ID,
		Status:          sched.TaskStatusAssigned,
	}
	if err := tasks.Create(ctx, task); err != nil {
		t.Fatalf("创建任务失败: %v", err)
	}

	e := &Execution{
		ID:      "exec-1",
		TaskID:  task.ID,
		AgentID: worker.ID,
		Cost:    decimal.NewFromInt(100),
	}
	if err := store.Create(ctx, e); err != nil {
		t.Fatalf("创建执行失败: %v", err)
	}

	engine := NewEngine(store, nil, &stubDispatcher{},
		WithTaskStore(tasks),
		WithSettler(stubSettler{}),
		WithWorkerRegistry(agents),
	)
	if err := engine.Handle(ctx, e.ID); err != nil {
		t.Fatalf("处理执行失败: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("查询执行失败: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("执行状态 = %s, want completed", got.Status)
	}
	if !got.Revenue.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("执行收入 = %s, want 120", got.Revenue)
	}

	updatedTask, err := tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if updatedTask.Status != sched.TaskStatusCompleted {
		t.Fatalf("任务状态 = %s, want completed", updatedTask.Status)
	}

	updatedWorker, err := agents.Get(ctx, worker.ID)
	if err != nil {
		t.Fatalf("查询工作者失败: %v", err)
	}
	if updatedWorker.TotalExecutions != 1 || updatedWorker.SuccessfulRuns != 1 {
		t.Fatalf("工作者统计未更新: %+v", updatedWorker)
	}

	steps, err := store.ListSteps(ctx, e.ID)
	if err != nil {
		t.Fatalf("查询步骤日志失败: %v", err)
	}
	if len(steps) == 0 || steps[0].Step != "dispatch" || steps[0].Status != "completed" {
		t.Fatalf("步骤日志不完整: %+v", steps)
	}
}

func TestEngineHandleFailure(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	agents := agent.NewMemoryStore()

	worker := &agent.Agent{
		ID:          "agent-2",
		Type:        agent.TypeConsumer,
		Status:      agent.StatusIdle,
		DailyBudget: decimal.NewFromInt(100),
	}
	if err := agents.Create(ctx, worker); err != nil {
		t.Fatalf("创建工作者失败: %v", err)
	}
	e := newTestExecution(t, store, worker.ID)

	dispatchErr := xerrors.New(CodeExecutionDispatch, "目标不可达")
	engine := NewEngine(store, nil, &stubDispatcher{err: dispatchErr},
		WithWorkerRegistry(agents),
	)
	if err := engine.Handle(ctx, e.ID); err != nil {
		t.Fatalf("失败路径不应返回错误: %v", err)
	}

	got, err := store.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("查询执行失败: %v", err)
	}
	if got.Status != StatusFailed {
		t.Fatalf("执行状态 = %s, want failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatalf("失败执行应记录错误信息")
	}

	updatedWorker, err := agents.Get(ctx, worker.ID)
	if err != nil {
		t.Fatalf("查询工作者失败: %v", err)
	}
	if updatedWorker.ConsecutiveFails != 1 {
		t.Fatalf("连续失败计数 = %d, want 1", updatedWorker.ConsecutiveFails)
	}
}

func TestEngineHandleIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dispatcher := &stubDispatcher{}
	e := newTestExecution(t, store, "agent-3")

	engine := NewEngine(store, nil, dispatcher)
	if err := engine.Handle(ctx, e.ID); err != nil {
		t.Fatalf("处理执行失败: %v", err)
	}
	// 重复投递同一执行被安静跳过。
	if err := engine.Handle(ctx, e.ID); err != nil {
		t.Fatalf("重复处理不应报错: %v", err)
	}
	if dispatcher.calls != 1 {
		t.Fatalf("目标调用次数 = %d, want 1", dispatcher.calls)
	}
}

func TestEngineConcurrentClaim(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	dispatcher := &stubDispatcher{}
	e := newTestExecution(t, store, "agent-4")

	engine := NewEngine(store, nil, dispatcher)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = engine.Handle(ctx, e.ID)
		}()
	}
	wg.Wait()
	if dispatcher.calls != 1 {
		t.Fatalf("并发投递下目标调用次数 = %d, want 1", dispatcher.calls)
	}
}

func TestExecutionStateSequence(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := newTestExecution(t, store, "agent-5")

	// pending 不能直接完成。
	if err := store.MarkCompleted(ctx, e.ID, 10, decimal.Zero); !stdErrors.Is(err, ErrExecutionFinished) {
		t.Fatalf("pending 直接完成应失败, got %v", err)
	}
	if _, err := store.Claim(ctx, e.ID); err != nil {
		t.Fatalf("领取执行失败: %v", err)
	}
	if err := store.MarkCompleted(ctx, e.ID, 10, decimal.NewFromInt(12)); err != nil {
		t.Fatalf("标记完成失败: %v", err)
	}
	// 终态之后不可再迁移。
	if err := store.MarkFailed(ctx, e.ID, 10, "late"); !stdErrors.Is(err, ErrExecutionFinished) {
		t.Fatalf("终态之后迁移应失败, got %v", err)
	}
	if _, err := store.Claim(ctx, e.ID); !stdErrors.Is(err, ErrExecutionFinished) {
		t.Fatalf("终态之后领取应失败, got %v", err)
	}
}
