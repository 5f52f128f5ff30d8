package scoring

import (
	"fmt"
	"strings"

	"AgentMarket/internal/signal"
)

// bucketWeight 是每个命中词条贡献的固定增量。
const bucketWeight = 0.15

// velocityBoost 与 volumeBoost 在高热度信号上对购买意图桶加权。
const (
	velocityBoost         = 0.2
	volumeBoost           = 0.1
	purchaseVelocityFloor = 2.0
	purchaseVolumeCeiling = 200
	confidenceBase        = 0.3
	confidenceFloor       = 0.3
	confidenceCeiling     = 0.95
)

// intentBuckets 定义四个互不相交的关键词桶。顺序即优先级，平分时靠前者胜出。
var intentBuckets = []struct {
	level signal.IntentLevel
	terms []string
}{
	{signal.IntentPurchase, []string{"buy", "price", "cost", "pay", "purchase", "order", "hire", "subscribe"}},
	{signal.IntentSolution, []string{"how to", "tool", "fix", "automate", "integrate", "solution", "setup"}},
	{signal.IntentResearch, []string{"compare", "vs", "alternative", "review", "best", "benchmark"}},
	{signal.IntentCuriosity, []string{"what is", "why", "curious", "learn", "tutorial"}},
}

// ClassifyResult 保存一次意图分类的输出。
type ClassifyResult struct {
	Level           signal.IntentLevel
	Confidence      float64
	MatchedKeywords []string
	Reasoning       string
}

// Classify 对信号做规则式意图分类。纯函数：相同输入必然产生相同输出。
func Classify(sig *signal.Signal) ClassifyResult {
	haystack := strings.ToLower(sig.Keyword + " " + sig.Text)

	var (
		topLevel signal.IntentLevel
		topScore float64
		matched  []string
	)
	for _, bucket := range intentBuckets {
		score := 0.0
		var hits []string
		for _, term := range bucket.terms {
			if strings.Contains(haystack, term) {
				score += bucketWeight
				hits = append(hits, term)
			}
		}
		if bucket.level == signal.IntentPurchase {
			if sig.Velocity > purchaseVelocityFloor {
				score += velocityBoost
			}
			if sig.Volume > purchaseVolumeCeiling {
				score += volumeBoost
			}
		}
		if score > topScore {
			topLevel = bucket.level
			topScore = score
			matched = hits
		}
	}
	// 所有桶都未命中时落到 curiosity。
	if topLevel == "" {
		topLevel = signal.IntentCuriosity
	}

	confidence := clamp(topScore+confidenceBase, confidenceFloor, confidenceCeiling)
	return ClassifyResult{
		Level:           topLevel,
		Confidence:      confidence,
		MatchedKeywords: matched,
		Reasoning: fmt.Sprintf("bucket=%s score=%.2f matches=%d volume=%d velocity=%.2f",
			topLevel, topScore, len(matched), sig.Volume, sig.Velocity),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
