package apikey

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// Key 是一把带预算与限流配置的 API 密钥。
// 不变量：当日累计消费不超过 daily_budget；过期或停用的密钥拒绝所有调用。
type Key struct {
	ID                 string          `json:"id"`
	Secret             string          `json:"-"`
	Name               string          `json:"name"`
	OwnerID            string          `json:"owner_id,omitempty"`
	Permissions        []string        `json:"permissions"`
	DailyBudget        decimal.Decimal `json:"daily_budget"`
	SpentToday         decimal.Decimal `json:"spent_today"`
	SpendDay           string          `json:"-"`
	RateLimitPerMinute int             `json:"rate_limit_per_minute"`
	RateLimitPerHour   int             `json:"rate_limit_per_hour"`
	Active             bool            `json:"active"`
	ExpiresAt          int64           `json:"expires_at,omitempty"`
	CreatedAt          int64           `json:"created_at"`
	UpdatedAt          int64           `json:"updated_at"`
}

// UsageRecord 是一条调用计量行。限流窗口通过统计窗口起点落在
// 最近 60s/3600s 内的计量行数实现，是近似滑动窗口，属于设计选择。
type UsageRecord struct {
	ID          int64           `json:"id"`
	KeyID       string          `json:"key_id"`
	Cost        decimal.Decimal `json:"cost"`
	WindowStart int64           `json:"window_start"`
	CreatedAt   int64           `json:"created_at"`
}

const (
	CodeKeyNotFound xerrors.Code = "API_KEY_NOT_FOUND"
	CodeKeyExpired  xerrors.Code = "API_KEY_EXPIRED"
)

var (
	// ErrMissingKey 表示请求缺少 Bearer 密钥。
	ErrMissingKey = xerrors.New(xerrors.CodeUnauthorized, "缺少 API 密钥")
	// ErrKeyInvalid 表示密钥不存在或已停用。
	ErrKeyInvalid = xerrors.New(CodeKeyNotFound, "API 密钥无效")
	// ErrKeyExpired 表示密钥已过期。
	ErrKeyExpired = xerrors.New(CodeKeyExpired, "API 密钥已过期")
	// ErrPermissionDenied 表示密钥缺少所需权限。
	ErrPermissionDenied = xerrors.New(xerrors.CodePermissionDenied, "API 密钥权限不足")
	// ErrRateLimited 表示调用频率超出窗口上限。
	ErrRateLimited = xerrors.New(xerrors.CodeRateLimited, "调用频率超限")
	// ErrBudgetExhausted 表示本次调用会突破当日预算。
	ErrBudgetExhausted = xerrors.New(xerrors.CodeBudgetExhausted, "当日预算不足")
)

func init() {
	xerrors.Register(CodeKeyNotFound, xerrors.Attributes{
		Message:  "api key not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeKeyExpired, xerrors.Attributes{
		Message:  "api key expired",
		Severity: xerrors.SeverityInfo,
	})
}

// HasPermission 检查密钥是否具备指定权限。"*" 通配所有权限。
func (k *Key) HasPermission(permission string) bool {
	if k == nil {
		return false
	}
	target := strings.ToLower(strings.TrimSpace(permission))
	for _, perm := range k.Permissions {
		p := strings.ToLower(strings.TrimSpace(perm))
		if p == "*" || p == target {
			return true
		}
	}
	return false
}

// Usable 校验密钥当前是否可用。
func (k *Key) Usable(now time.Time) error {
	if k == nil || !k.Active {
		return ErrKeyInvalid
	}
	if k.ExpiresAt > 0 && now.Unix() >= k.ExpiresAt {
		return ErrKeyExpired
	}
	return nil
}

// RemainingBudget 返回当日剩余预算。
func (k *Key) RemainingBudget(day string) decimal.Decimal {
	spent := k.SpentToday
	if k.SpendDay != day {
		spent = decimal.Zero
	}
	remaining := k.DailyBudget.Sub(spent)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

func cloneKey(k *Key) *Key {
	clone := *k
	clone.Permissions = append([]string(nil), k.Permissions...)
	return &clone
}
