package scoring

import (
	"github.com/shopspring/decimal"

	"AgentMarket/internal/catalog"
	"AgentMarket/internal/signal"
)

// 需求评分的固定权重组合。
const (
	weightVolume     = 0.3
	weightConfidence = 0.4
	weightTrend      = 0.3
)

// 温度分档阈值。
const (
	hotThreshold  = 70.0
	warmThreshold = 40.0
)

// 温度对应的价格系数。
var (
	hotMultiplier  = decimal.NewFromFloat(1.5)
	warmMultiplier = decimal.NewFromFloat(1.2)
)

// OfferResult 保存需求评分与推荐报价。
type OfferResult struct {
	DemandScore      float64
	Temperature      signal.Temperature
	ServiceType      string
	SuggestedPrice   decimal.Decimal
	DeliveryDays     int
	PotentialRevenue decimal.Decimal
}

// DemandScore 按固定权重合成需求评分：体量归一化×0.3 + 置信度×100×0.4 + 趋势分×0.3。
func DemandScore(volume int, confidence, trendScore float64) float64 {
	return NormalizeVolume(volume)*weightVolume + confidence*100*weightConfidence + trendScore*weightTrend
}

// TemperatureOf 将需求评分映射到温度分档。
func TemperatureOf(score float64) signal.Temperature {
	switch {
	case score >= hotThreshold:
		return signal.TemperatureHot
	case score >= warmThreshold:
		return signal.TemperatureWarm
	default:
		return signal.TemperatureCold
	}
}

// BuildOffer 综合意图置信度与趋势分生成推荐报价。
func BuildOffer(cat *catalog.Catalog, sig *signal.Signal, confidence, trendScore float64) OfferResult {
	score := DemandScore(sig.Volume, confidence, trendScore)
	temperature := TemperatureOf(score)

	arch := cat.MatchArchetype(sig.Keyword)
	price := arch.BasePriceDecimal()
	switch temperature {
	case signal.TemperatureHot:
		price = price.Mul(hotMultiplier)
	case signal.TemperatureWarm:
		price = price.Mul(warmMultiplier)
	}
	price = price.Round(2)

	return OfferResult{
		DemandScore:      score,
		Temperature:      temperature,
		ServiceType:      arch.Type,
		SuggestedPrice:   price,
		DeliveryDays:     arch.DeliveryDays,
		PotentialRevenue: price,
	}
}
