package sched

import (
	"strings"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/agent"
	xerrors "AgentMarket/internal/errors"
)

// TaskStatus 表示任务在生命周期中的状态。
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// TargetKind 区分任务来源：信号机会或目录扫描机会。
type TargetKind string

const (
	TargetSignalOpportunity TargetKind = "signal_opportunity"
	TargetMarketOpportunity TargetKind = "market_opportunity"
)

// Task 是由机会派生、绑定到单个工作者的预算化工作单元。
// 同一时刻最多一个工作者持有该任务。
type Task struct {
	ID              string          `json:"id"`
	Type            agent.Type      `json:"type"`
	Priority        int             `json:"priority"`
	TargetKind      TargetKind      `json:"target_kind"`
	TargetID        string          `json:"target_id"`
	AllocatedBudget decimal.Decimal `json:"allocated_budget"`
	ExpectedRevenue decimal.Decimal `json:"expected_revenue"`
	Deadline        int64           `json:"deadline,omitempty"`
	AgentID         string          `json:"agent_id,omitempty"`
	Status          TaskStatus      `json:"status"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

const (
	CodeTaskNotFound          xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskInvalidTransition xerrors.Code = "TASK_INVALID_TRANSITION"
)

var (
	// ErrTaskNotFound 表示指定任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrNoWorkerAvailable 表示没有匹配类型的空闲工作者，机会保持未分配。
	ErrNoWorkerAvailable = xerrors.New(xerrors.CodeWorkerUnavailable, "没有可用的空闲工作者")
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:  "task not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeTaskInvalidTransition, xerrors.Attributes{
		Message:  "invalid task status transition",
		Severity: xerrors.SeverityWarning,
	})
}

// IsValidTaskStatus 检查任务状态是否为支持的枚举值。
func IsValidTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusPending, TaskStatusAssigned, TaskStatusExecuting,
		TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminalTaskStatus 判断状态是否为终态。终态之后不再发生迁移。
func IsTerminalTaskStatus(status TaskStatus) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition 校验任务状态迁移是否合法。
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case TaskStatusPending:
		return to == TaskStatusAssigned || to == TaskStatusCancelled
	case TaskStatusAssigned:
		return to == TaskStatusExecuting || to == TaskStatusCancelled
	case TaskStatusExecuting:
		return to == TaskStatusCompleted || to == TaskStatusFailed
	default:
		return false
	}
}

func validateTask(t *Task) error {
	if t == nil || strings.TrimSpace(t.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	if !agent.IsValidType(t.Type) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的任务类型")
	}
	if t.Priority < 1 || t.Priority > 5 {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务优先级必须在 1 到 5 之间")
	}
	if !IsValidTaskStatus(t.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "不支持的任务状态")
	}
	return nil
}

func cloneTask(t *Task) *Task {
	clone := *t
	return &clone
}
