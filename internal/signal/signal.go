package signal

import (
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// IntentLevel 表示信号的购买意图分级。
type IntentLevel string

const (
	IntentPurchase  IntentLevel = "purchase_intent"
	IntentSolution  IntentLevel = "solution_search"
	IntentResearch  IntentLevel = "research"
	IntentCuriosity IntentLevel = "curiosity"
)

// Temperature 表示需求评分的温度分档。
type Temperature string

const (
	TemperatureHot  Temperature = "hot"
	TemperatureWarm Temperature = "warm"
	TemperatureCold Temperature = "cold"
)

// OpportunityStatus 表示机会的生命周期状态。
type OpportunityStatus string

const (
	OpportunityDetected       OpportunityStatus = "detected"
	OpportunityOfferGenerated OpportunityStatus = "offer_generated"
	OpportunityTaskCreated    OpportunityStatus = "task_created"
	OpportunityExpired        OpportunityStatus = "expired"
)

// Signal 表示一条原始需求信号。创建后不可变，被分类器消费后标记为已处理。
type Signal struct {
	ID        string  `json:"id"`
	Source    string  `json:"source"`
	Keyword   string  `json:"keyword"`
	Text      string  `json:"text"`
	Volume    int     `json:"volume"`
	Velocity  float64 `json:"velocity"`
	Processed bool    `json:"processed"`
	CreatedAt int64   `json:"created_at"`
}

// ClassifiedIntent 表示对信号的意图分类结果。每个信号只创建一次，永不修改。
type ClassifiedIntent struct {
	ID              string      `json:"id"`
	SignalID        string      `json:"signal_id"`
	Level           IntentLevel `json:"level"`
	Confidence      float64     `json:"confidence"`
	MatchedKeywords []string    `json:"matched_keywords,omitempty"`
	Reasoning       string      `json:"reasoning,omitempty"`
	CreatedAt       int64       `json:"created_at"`
}

// TrendPrediction 表示基于意图的趋势预测。每个意图只创建一次。
type TrendPrediction struct {
	ID         string  `json:"id"`
	IntentID   string  `json:"intent_id"`
	SignalID   string  `json:"signal_id"`
	TrendScore float64 `json:"trend_score"`
	Momentum   float64 `json:"momentum"`
	GrowthRate float64 `json:"growth_rate"`
	CreatedAt  int64   `json:"created_at"`
}

// Opportunity 表示一条已评分的商业机会。
// DemandScore 固定为 体量归一化×0.3 + 置信度×100×0.4 + 趋势分×0.3。
type Opportunity struct {
	ID               string            `json:"id"`
	SignalID         string            `json:"signal_id"`
	IntentID         string            `json:"intent_id"`
	PredictionID     string            `json:"prediction_id"`
	DemandScore      float64           `json:"demand_score"`
	Temperature      Temperature       `json:"temperature"`
	ServiceType      string            `json:"service_type"`
	SuggestedPrice   decimal.Decimal   `json:"suggested_price"`
	DeliveryDays     int               `json:"delivery_days"`
	PotentialRevenue decimal.Decimal   `json:"potential_revenue"`
	Status           OpportunityStatus `json:"status"`
	CreatedAt        int64             `json:"created_at"`
	UpdatedAt        int64             `json:"updated_at"`
}

var (
	// ErrSignalNotFound 表示指定的信号不存在。
	ErrSignalNotFound = xerrors.New(CodeSignalNotFound, "signal not found")
	// ErrOpportunityExists 表示该信号已经生成过机会，不允许重复创建。
	ErrOpportunityExists = xerrors.New(CodeOpportunityExists, "opportunity already exists for signal")
	// ErrOpportunityNotFound 表示指定的机会不存在。
	ErrOpportunityNotFound = xerrors.New(CodeOpportunityNotFound, "opportunity not found")
)

const (
	CodeSignalNotFound      xerrors.Code = "SIGNAL_NOT_FOUND"
	CodeSignalValidation    xerrors.Code = "SIGNAL_VALIDATION_FAILED"
	CodeOpportunityExists   xerrors.Code = "OPPORTUNITY_EXISTS"
	CodeOpportunityNotFound xerrors.Code = "OPPORTUNITY_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeSignalNotFound, xerrors.Attributes{
		Message:  "signal not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSignalValidation, xerrors.Attributes{
		Message:  "signal validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOpportunityExists, xerrors.Attributes{
		Message:  "opportunity already exists for signal",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeOpportunityNotFound, xerrors.Attributes{
		Message:  "opportunity not found",
		Severity: xerrors.SeverityInfo,
	})
}

// IsValidOpportunityStatus 检查给定的机会状态是否为支持的枚举值。
func IsValidOpportunityStatus(status OpportunityStatus) bool {
	switch status {
	case OpportunityDetected, OpportunityOfferGenerated, OpportunityTaskCreated, OpportunityExpired:
		return true
	default:
		return false
	}
}

func cloneSignal(s *Signal) *Signal {
	clone := *s
	return &clone
}

func cloneOpportunity(o *Opportunity) *Opportunity {
	clone := *o
	return &clone
}
