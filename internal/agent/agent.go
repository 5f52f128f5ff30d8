package agent

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// Status 表示工作者在生命周期中的状态。
type Status string

const (
	StatusIdle        Status = "idle"
	StatusActive      Status = "active"
	StatusError       Status = "error"
	StatusMaintenance Status = "maintenance"
)

// Type 表示工作者的能力类型，调度器按需求强度与收入潜力选型。
type Type string

const (
	TypeConsumer        Type = "api_consumer"
	TypeVolumeGenerator Type = "volume_generator"
	TypePaymentBot      Type = "payment_bot"
)

// errorStatusThreshold 是连续失败触发 error 状态的阈值。
const errorStatusThreshold = 5

// Agent 描述一个可被调度的自治工作者。每次完成执行都会更新其表现数据。
type Agent struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Type             Type            `json:"type"`
	Capabilities     []string        `json:"capabilities,omitempty"`
	Status           Status          `json:"status"`
	PerformanceScore float64         `json:"performance_score"`
	DailyBudget      decimal.Decimal `json:"daily_budget"`
	WalletAddress    string          `json:"wallet_address,omitempty"`
	CurrentTaskID    string          `json:"current_task_id,omitempty"`
	TotalExecutions  int             `json:"total_executions"`
	SuccessfulRuns   int             `json:"successful_runs"`
	ConsecutiveFails int             `json:"consecutive_fails"`
	CreatedAt        int64           `json:"created_at"`
	UpdatedAt        int64           `json:"updated_at"`
}

var (
	// ErrAgentNotFound 表示指定的工作者不存在。
	ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent not found")
	// ErrAgentBusy 表示工作者已绑定其他任务。
	ErrAgentBusy = xerrors.New(CodeAgentBusy, "agent already assigned")
)

const (
	CodeAgentNotFound   xerrors.Code = "AGENT_NOT_FOUND"
	CodeAgentBusy       xerrors.Code = "AGENT_BUSY"
	CodeAgentValidation xerrors.Code = "AGENT_VALIDATION_FAILED"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:  "agent not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAgentBusy, xerrors.Attributes{
		Message:  "agent already assigned",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAgentValidation, xerrors.Attributes{
		Message:  "agent validation failed",
		Severity: xerrors.SeverityInfo,
	})
}

// IsValidStatus 检查给定的工作者状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusIdle, StatusActive, StatusError, StatusMaintenance:
		return true
	default:
		return false
	}
}

// IsValidType 检查给定的工作者类型是否为支持的枚举值。
func IsValidType(t Type) bool {
	switch t {
	case TypeConsumer, TypeVolumeGenerator, TypePaymentBot:
		return true
	default:
		return false
	}
}

// NormalizeWallet 校验并规范化工作者的收款地址。空地址合法，表示暂未配置。
func NormalizeWallet(addr string) (string, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return "", nil
	}
	if !common.IsHexAddress(trimmed) {
		return "", xerrors.New(CodeAgentValidation, "非法的收款地址")
	}
	return common.HexToAddress(trimmed).Hex(), nil
}

// applyResult 根据一次执行结果更新表现数据。连续失败达到阈值时进入 error 状态。
func applyResult(a *Agent, success bool) {
	a.TotalExecutions++
	if success {
		a.SuccessfulRuns++
		a.ConsecutiveFails = 0
	} else {
		a.ConsecutiveFails++
	}
	if a.TotalExecutions > 0 {
		a.PerformanceScore = float64(a.SuccessfulRuns) / float64(a.TotalExecutions)
	}
	switch {
	case a.ConsecutiveFails >= errorStatusThreshold:
		a.Status = StatusError
	case a.Status != StatusMaintenance:
		a.Status = StatusIdle
	}
	a.CurrentTaskID = ""
}

func cloneAgent(a *Agent) *Agent {
	clone := *a
	clone.Capabilities = append([]string(nil), a.Capabilities...)
	return &clone
}
