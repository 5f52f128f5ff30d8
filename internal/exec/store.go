package exec

import (
	"context"

	"github.com/shopspring/decimal"
)

// Store 抽象执行记录与步骤日志的持久化接口。
type Store interface {
	Create(ctx context.Context, e *Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	// Claim 把 pending 的执行迁移到 executing 并返回记录。
	// 已终态返回 ErrExecutionFinished，保证同一执行只被处理一次。
	Claim(ctx context.Context, id string) (*Execution, error)
	// MarkCompleted 把 executing 的执行迁移到 completed 并记录响应时间与收入。
	MarkCompleted(ctx context.Context, id string, responseTimeMs int64, revenue decimal.Decimal) error
	// MarkFailed 把 executing 的执行迁移到 failed 并记录错误信息。
	MarkFailed(ctx context.Context, id string, responseTimeMs int64, errMsg string) error
	// AppendStep 追加一条步骤日志。
	AppendStep(ctx context.Context, rec *StepRecord) error
	// ListSteps 按创建顺序返回执行的步骤日志。
	ListSteps(ctx context.Context, executionID string) ([]*StepRecord, error)
	// ListRecentIDsByAPIKey 返回 API Key 最近发起的执行 ID，新的在前。
	ListRecentIDsByAPIKey(ctx context.Context, apiKeyID string, limit int) ([]string, error)
	Close() error
}
