package sched

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/market"
	"AgentMarket/internal/signal"
	"AgentMarket/pkg/logger"
)

// 调度决策常量。需求分超过 demandFloor 的机会交给刷量型工作者，
// 潜在收入超过 paymentBotRevenueFloor 的交给支付型工作者。
const (
	volumeGeneratorDemandFloor = 70.0
	budgetDailyShare           = "0.10"
	budgetRevenueShare         = "0.05"
)

var paymentBotRevenueFloor = decimal.NewFromInt(1000)

// Candidate 是调度输入的统一视图，屏蔽信号机会与目录机会的差异。
type Candidate struct {
	TargetKind       TargetKind
	TargetID         string
	DemandScore      float64
	PotentialRevenue decimal.Decimal
	Deadline         int64
}

// Scheduler 把机会转换为预算化任务并绑定到最佳空闲工作者。
// 每次调度都从存储重建工作者视图，不跨调用共享内存状态。
type Scheduler struct {
	tasks   Store
	agents  agent.Store
	signals signal.Store
	logger  *slog.Logger
}

// SchedulerOption 定义可选配置。
type SchedulerOption func(*Scheduler)

// WithSignalStore 注入信号存储，分配成功后把机会状态置为 task_created。
func WithSignalStore(store signal.Store) SchedulerOption {
	return func(s *Scheduler) {
		s.signals = store
	}
}

// NewScheduler 构造调度器。
func NewScheduler(tasks Store, agents agent.Store, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		tasks:  tasks,
		agents: agents,
		logger: logger.Named("sched"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ScheduleOpportunity 调度一个信号机会。
func (s *Scheduler) ScheduleOpportunity(ctx context.Context, opp *signal.Opportunity) (*Task, error) {
	if opp == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "机会不能为空")
	}
	deadline := time.Now().Add(time.Duration(opp.DeliveryDays) * 24 * time.Hour).Unix()
	task, err := s.schedule(ctx, Candidate{
		TargetKind:       TargetSignalOpportunity,
		TargetID:         opp.ID,
		DemandScore:      opp.DemandScore,
		PotentialRevenue: opp.PotentialRevenue,
		Deadline:         deadline,
	})
	if err != nil {
		return nil, err
	}
	if s.signals != nil {
		if err := s.signals.UpdateOpportunityStatus(ctx, opp.ID, signal.OpportunityTaskCreated); err != nil {
			s.logger.Warn("更新机会状态失败",
				slog.String("opportunity_id", opp.ID),
				slog.Any("error", err),
			)
		}
	}
	return task, nil
}

// ScheduleMarketOpportunity 调度一个目录扫描机会。
func (s *Scheduler) ScheduleMarketOpportunity(ctx context.Context, opp *market.Opportunity) (*Task, error) {
	if opp == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "机会不能为空")
	}
	return s.schedule(ctx, Candidate{
		TargetKind:       TargetMarketOpportunity,
		TargetID:         opp.ID,
		DemandScore:      opp.DemandScore,
		PotentialRevenue: opp.PotentialRevenue,
		Deadline:         opp.WindowEnd,
	})
}

// Schedule 按统一视图调度。没有空闲工作者时返回 ErrNoWorkerAvailable，
// 机会保持未分配，等待下一轮调度。
func (s *Scheduler) Schedule(ctx context.Context, c Candidate) (*Task, error) {
	return s.schedule(ctx, c)
}

func (s *Scheduler) schedule(ctx context.Context, c Candidate) (*Task, error) {
	workerType := workerTypeFor(c.DemandScore, c.PotentialRevenue)
	taskID := uuid.NewString()
	worker, err := s.claimWorker(ctx, workerType, taskID)
	if err != nil {
		return nil, err
	}

	task := &Task{
		ID:              taskID,
		Type:            workerType,
		Priority:        priorityFor(c.DemandScore),
		TargetKind:      c.TargetKind,
		TargetID:        c.TargetID,
		AllocatedBudget: allocateBudget(worker.DailyBudget, c.PotentialRevenue),
		ExpectedRevenue: c.PotentialRevenue,
		Deadline:        c.Deadline,
		AgentID:         worker.ID,
		Status:          TaskStatusAssigned,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		if relErr := s.agents.SetStatus(ctx, worker.ID, agent.StatusIdle); relErr != nil {
			s.logger.Error("释放工作者失败",
				slog.String("agent_id", worker.ID),
				slog.Any("error", relErr),
			)
		}
		return nil, err
	}

	logger.Audit().Info("任务已分配",
		slog.String("task_id", task.ID),
		slog.String("agent_id", worker.ID),
		slog.String("target_id", c.TargetID),
		slog.String("type", string(workerType)),
		slog.String("budget", task.AllocatedBudget.String()),
	)
	return task, nil
}

// claimWorker 绑定表现分最高的空闲工作者。排序由存储保证，
// 并发抢占导致的 ErrAgentBusy 会顺延到下一个候选。
func (s *Scheduler) claimWorker(ctx context.Context, t agent.Type, taskID string) (*agent.Agent, error) {
	candidates, err := s.agents.ListIdleByType(ctx, t)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		if err := s.agents.Assign(ctx, candidate.ID, taskID); err != nil {
			if stdErrors.Is(err, agent.ErrAgentBusy) {
				continue
			}
			return nil, err
		}
		return candidate, nil
	}
	return nil, ErrNoWorkerAvailable
}

// workerTypeFor 把需求分与潜在收入映射到目标工作者类型。
func workerTypeFor(demand float64, revenue decimal.Decimal) agent.Type {
	switch {
	case demand >= volumeGeneratorDemandFloor:
		return agent.TypeVolumeGenerator
	case revenue.GreaterThanOrEqual(paymentBotRevenueFloor):
		return agent.TypePaymentBot
	default:
		return agent.TypeConsumer
	}
}

// priorityFor 由需求分派生优先级，1 最紧急。
func priorityFor(demand float64) int {
	switch {
	case demand >= 90:
		return 1
	case demand >= 70:
		return 2
	case demand >= 55:
		return 3
	case demand >= 40:
		return 4
	default:
		return 5
	}
}

// allocateBudget 取工作者日预算的 10% 与潜在收入的 5% 中的较小者。
func allocateBudget(dailyBudget, revenue decimal.Decimal) decimal.Decimal {
	fromBudget := dailyBudget.Mul(decimal.RequireFromString(budgetDailyShare))
	fromRevenue := revenue.Mul(decimal.RequireFromString(budgetRevenueShare))
	if fromRevenue.LessThan(fromBudget) {
		return fromRevenue.Round(2)
	}
	return fromBudget.Round(2)
}
