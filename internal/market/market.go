package market

import (
	"github.com/shopspring/decimal"

	xerrors "AgentMarket/internal/errors"
)

// Opportunity 表示目录扫描产出的市场机会。只追加、由后续扫描取代，不做原地更新。
type Opportunity struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	ProductName      string          `json:"product_name"`
	DemandScore      float64         `json:"demand_score"`
	CompetitionScore float64         `json:"competition_score"`
	ComplexityScore  float64         `json:"complexity_score"`
	PotentialRevenue decimal.Decimal `json:"potential_revenue"`
	WindowStart      int64           `json:"window_start"`
	WindowEnd        int64           `json:"window_end"`
	ScanID           string          `json:"scan_id"`
	CreatedAt        int64           `json:"created_at"`
}

const (
	CodeScanFailure xerrors.Code = "MARKET_SCAN_FAILED"
)

func init() {
	xerrors.Register(CodeScanFailure, xerrors.Attributes{
		Message:   "market catalog scan failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}
