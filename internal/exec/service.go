package exec

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
	"AgentMarket/internal/sched"
	"AgentMarket/pkg/logger"
)

// EnqueueRequest 描述一次待排队的执行。
type EnqueueRequest struct {
	TaskID     string
	AgentID    string
	APIKeyID   string
	UserID     string
	Priority   int
	TargetURL  string
	Parameters map[string]string
	Cost       decimal.Decimal
}

// Service 面向 API 层提供执行排队能力。调用方立刻得到 pending 确认，
// 真实调用、计费与统计由引擎异步完成。
type Service struct {
	store    Store
	producer Producer
	logger   *slog.Logger
}

// NewService 构造执行服务。
func NewService(store Store, producer Producer) *Service {
	return &Service{
		store:    store,
		producer: producer,
		logger:   logger.Named("exec"),
	}
}

// Enqueue 持久化执行记录并投递到队列，返回 pending 状态的执行。
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*Execution, error) {
	if req.AgentID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "执行必须绑定工作者")
	}
	execution := &Execution{
		ID:         uuid.NewString(),
		TaskID:     req.TaskID,
		AgentID:    req.AgentID,
		APIKeyID:   req.APIKeyID,
		UserID:     req.UserID,
		Priority:   req.Priority,
		TargetURL:  req.TargetURL,
		Parameters: req.Parameters,
		Cost:       req.Cost,
		Revenue:    decimal.Zero,
		Status:     StatusPending,
	}
	if err := s.store.Create(ctx, execution); err != nil {
		return nil, err
	}
	if err := s.producer.Publish(ctx, execution.ID); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "投递执行失败")
	}
	logger.Audit().Info("执行已排队",
		slog.String("execution_id", execution.ID),
		slog.String("agent_id", execution.AgentID),
		slog.String("cost", execution.Cost.String()),
	)
	return execution, nil
}

// Get 返回执行记录。
func (s *Service) Get(ctx context.Context, id string) (*Execution, error) {
	return s.store.Get(ctx, id)
}

// Steps 返回执行的步骤日志。
func (s *Service) Steps(ctx context.Context, id string) ([]*StepRecord, error) {
	return s.store.ListSteps(ctx, id)
}

// RecentByAPIKey 返回密钥最近发起的执行 ID，新的在前。
func (s *Service) RecentByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]string, error) {
	return s.store.ListRecentIDsByAPIKey(ctx, apiKeyID, limit)
}

// LaunchTask 为已绑定工作者的任务排队一次执行，任务预算即执行成本。
func (s *Service) LaunchTask(ctx context.Context, t *sched.Task) error {
	if t == nil || t.AgentID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务未绑定工作者")
	}
	_, err := s.Enqueue(ctx, EnqueueRequest{
		TaskID:   t.ID,
		AgentID:  t.AgentID,
		Priority: t.Priority,
		Cost:     t.AllocatedBudget,
	})
	return err
}
