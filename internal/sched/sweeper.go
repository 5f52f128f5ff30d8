package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/market"
	"AgentMarket/internal/signal"
	"AgentMarket/pkg/logger"
)

// Launcher 在任务绑定工作者后发起真实执行，实现方通常是执行服务。
type Launcher interface {
	LaunchTask(ctx context.Context, t *Task) error
}

// Sweeper 周期性地把未分配的机会送入调度器。信号机会靠状态位防止重复，
// 市场机会只追加不更新，用进程内已调度集合去重。
type Sweeper struct {
	scheduler *Scheduler
	signals   signal.Store
	markets   market.Store
	launcher  Launcher
	spec      string
	batch     int
	logger    *slog.Logger
	cron      *cron.Cron

	mu        sync.Mutex
	scheduled map[string]struct{}
}

// SweeperOption 定义可选配置。
type SweeperOption func(*Sweeper)

// WithSweepSpec 设置 cron 表达式，默认 "@every 1m"。
func WithSweepSpec(spec string) SweeperOption {
	return func(s *Sweeper) {
		if spec != "" {
			s.spec = spec
		}
	}
}

// WithSweepBatch 设置单轮处理的机会数上限。
func WithSweepBatch(batch int) SweeperOption {
	return func(s *Sweeper) {
		if batch > 0 {
			s.batch = batch
		}
	}
}

// WithMarketStore 注入目录机会存储，让扫描产出也进入调度。
func WithMarketStore(store market.Store) SweeperOption {
	return func(s *Sweeper) {
		s.markets = store
	}
}

// WithLauncher 注入执行发起方，任务绑定后立刻排队执行。
func WithLauncher(l Launcher) SweeperOption {
	return func(s *Sweeper) {
		s.launcher = l
	}
}

// NewSweeper 构造调度巡检器。
func NewSweeper(scheduler *Scheduler, signals signal.Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		scheduler: scheduler,
		signals:   signals,
		spec:      "@every 1m",
		batch:     50,
		logger:    logger.Named("sched"),
		scheduled: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 注册定时巡检任务并启动调度器。
func (s *Sweeper) Start(ctx context.Context) error {
	if s.scheduler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "调度器未初始化")
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册调度巡检任务失败")
	}
	s.cron.Start()
	return nil
}

// Stop 停止调度器并等待进行中的巡检结束。
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep 执行一轮巡检。没有空闲工作者时机会保持未分配，等待下一轮。
func (s *Sweeper) Sweep(ctx context.Context) {
	s.sweepSignals(ctx)
	s.sweepMarkets(ctx)
}

func (s *Sweeper) sweepSignals(ctx context.Context) {
	if s.signals == nil {
		return
	}
	opportunities, err := s.signals.ListOpportunities(ctx, s.batch)
	if err != nil {
		s.logger.Error("读取信号机会失败", slog.Any("error", err))
		return
	}
	for _, opp := range opportunities {
		if opp.Status != signal.OpportunityDetected && opp.Status != signal.OpportunityOfferGenerated {
			continue
		}
		task, err := s.scheduler.ScheduleOpportunity(ctx, opp)
		if err != nil {
			s.reportSkip("信号机会暂不可调度", opp.ID, err)
			continue
		}
		s.launch(ctx, task)
	}
}

func (s *Sweeper) sweepMarkets(ctx context.Context) {
	if s.markets == nil {
		return
	}
	opportunities, err := s.markets.ListTop(ctx, s.batch)
	if err != nil {
		s.logger.Error("读取目录机会失败", slog.Any("error", err))
		return
	}
	now := time.Now().Unix()
	s.pruneScheduled(opportunities, now)
	for _, opp := range opportunities {
		if opp.WindowEnd > 0 && opp.WindowEnd < now {
			continue
		}
		if s.alreadyScheduled(opp.ID) {
			continue
		}
		task, err := s.scheduler.ScheduleMarketOpportunity(ctx, opp)
		if err != nil {
			s.reportSkip("目录机会暂不可调度", opp.ID, err)
			continue
		}
		s.markScheduled(opp.ID)
		s.launch(ctx, task)
	}
}

func (s *Sweeper) launch(ctx context.Context, task *Task) {
	if s.launcher == nil || task == nil {
		return
	}
	if err := s.launcher.LaunchTask(ctx, task); err != nil {
		s.logger.Error("任务排队执行失败",
			slog.String("task_id", task.ID),
			slog.Any("error", err))
	}
}

func (s *Sweeper) reportSkip(msg, opportunityID string, err error) {
	if xerrors.CodeOf(err) == xerrors.CodeWorkerUnavailable {
		s.logger.Debug(msg,
			slog.String("opportunity_id", opportunityID),
			slog.String("reason", "no idle worker"))
		return
	}
	s.logger.Warn(msg,
		slog.String("opportunity_id", opportunityID),
		slog.Any("error", err))
}

// pruneScheduled 只保留仍在最新榜单且窗口未过期的去重记录。
// 榜单随每轮扫描整体更替，历史条目不再出现，留着只会让集合无界增长。
func (s *Sweeper) pruneScheduled(current []*market.Opportunity, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make(map[string]struct{}, len(current))
	for _, opp := range current {
		if opp.WindowEnd > 0 && opp.WindowEnd < now {
			continue
		}
		if _, ok := s.scheduled[opp.ID]; ok {
			kept[opp.ID] = struct{}{}
		}
	}
	s.scheduled = kept
}

func (s *Sweeper) alreadyScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scheduled[id]
	return ok
}

func (s *Sweeper) markScheduled(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[id] = struct{}{}
}
