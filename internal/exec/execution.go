package exec

import (
	"strings"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// Status 表示执行在状态机中的位置。
// 状态序列固定为 pending → executing → {completed, failed}，终态不可离开。
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Execution 是一次任务针对目标端点的具体运行记录。
type Execution struct {
	ID             string            `json:"id"`
	TaskID         string            `json:"task_id,omitempty"`
	AgentID        string            `json:"agent_id"`
	APIKeyID       string            `json:"api_key_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	TargetURL      string            `json:"target_url,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Cost           decimal.Decimal   `json:"cost"`
	Revenue        decimal.Decimal   `json:"revenue"`
	Status         Status            `json:"status"`
	ResponseTimeMs int64             `json:"response_time_ms"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      int64             `json:"created_at"`
	StartedAt      int64             `json:"started_at,omitempty"`
	FinishedAt     int64             `json:"finished_at,omitempty"`
}

// StepRecord 是执行过程中的一条步骤日志，按创建顺序构成执行轨迹。
type StepRecord struct {
	ID          int64  `json:"id,omitempty"`
	ExecutionID string `json:"execution_id"`
	Step        string `json:"step"`
	Status      string `json:"status"`
	Details     string `json:"details,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	CreatedAt   int64  `json:"created_at"`
}

const (
	CodeExecutionNotFound xerrors.Code = "EXECUTION_NOT_FOUND"
	CodeExecutionFinished xerrors.Code = "EXECUTION_FINISHED"
	CodeExecutionDispatch xerrors.Code = "EXECUTION_DISPATCH_FAILED"
)

var (
	// ErrExecutionNotFound 表示指定执行不存在。
	ErrExecutionNotFound = xerrors.New(CodeExecutionNotFound, "execution not found")
	// ErrExecutionFinished 表示执行已处于终态，不可再迁移。
	ErrExecutionFinished = xerrors.New(CodeExecutionFinished, "execution already finished")
)

func init() {
	xerrors.Register(CodeExecutionNotFound, xerrors.Attributes{
		Message:  "execution not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeExecutionFinished, xerrors.Attributes{
		Message:  "execution already finished",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeExecutionDispatch, xerrors.Attributes{
		Message:   "execution dispatch failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// IsTerminal 判断执行状态是否为终态。
func IsTerminal(status Status) bool {
	return status == StatusCompleted || status == StatusFailed
}

func validateExecution(e *Execution) error {
	if e == nil || strings.TrimSpace(e.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行 ID 不能为空")
	}
	if strings.TrimSpace(e.AgentID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "执行必须绑定工作者")
	}
	return nil
}

func cloneExecution(e *Execution) *Execution {
	clone := *e
	if e.Parameters != nil {
		clone.Parameters = make(map[string]string, len(e.Parameters))
		for k, v := range e.Parameters {
			clone.Parameters[k] = v
		}
	}
	return &clone
}
