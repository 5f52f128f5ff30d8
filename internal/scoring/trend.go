package scoring

import "AgentMarket/internal/signal"

// volumeCeiling 是体量归一化的固定上限。
const volumeCeiling = 500

// TrendResult 保存趋势预测的输出。
type TrendResult struct {
	TrendScore float64
	Momentum   float64
	GrowthRate float64
}

// PredictTrend 由信号体量与速度推导趋势分。纯函数，无外部状态。
func PredictTrend(sig *signal.Signal) TrendResult {
	normalizedVolume := NormalizeVolume(sig.Volume)
	momentum := sig.Velocity * 20
	if momentum > 100 {
		momentum = 100
	}
	trend := 0.5*normalizedVolume + 0.5*momentum

	growth := 0.03
	switch {
	case sig.Velocity > 2:
		growth = 0.15
	case sig.Velocity > 1:
		growth = 0.08
	}
	return TrendResult{TrendScore: trend, Momentum: momentum, GrowthRate: growth}
}

// NormalizeVolume 将体量映射到 [0,100]，超过上限时截断。
func NormalizeVolume(volume int) float64 {
	if volume <= 0 {
		return 0
	}
	if volume >= volumeCeiling {
		return 100
	}
	return float64(volume) / volumeCeiling * 100
}
