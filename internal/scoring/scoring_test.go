package scoring

import (
	"math"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/catalog"
	"AgentMarket/internal/signal"
)

func TestClassifyPurchaseIntentWithBoosts(t *testing.T) {
	sig := &signal.Signal{
		ID:       "sig-1",
		Keyword:  "weather api",
		Text:     "looking to buy a weather api, what does it cost",
		Volume:   300,
		Velocity: 3,
	}

	result := Classify(sig)
	if result.Level != signal.IntentPurchase {
		t.Fatalf("期望 purchase_intent, 实际 %s", result.Level)
	}
	// 两个词条命中 0.30 + 速度加权 0.20 + 体量加权 0.10, 置信度 = 0.60 + 0.30。
	if math.Abs(result.Confidence-0.9) > 1e-9 {
		t.Fatalf("置信度不符: %v", result.Confidence)
	}
	if len(result.MatchedKeywords) != 2 {
		t.Fatalf("命中词条数不符: %v", result.MatchedKeywords)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	sig := &signal.Signal{
		ID:       "sig-2",
		Keyword:  "sms",
		Text:     "compare the best sms api alternatives",
		Volume:   50,
		Velocity: 0.5,
	}

	first := Classify(sig)
	second := Classify(sig)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("相同输入产生了不同输出: %+v vs %+v", first, second)
	}
	if first.Level != signal.IntentResearch {
		t.Fatalf("期望 research, 实际 %s", first.Level)
	}
}

func TestClassifyFallsBackToCuriosity(t *testing.T) {
	sig := &signal.Signal{ID: "sig-3", Keyword: "随便聊聊", Text: "没有任何相关词"}
	result := Classify(sig)
	if result.Level != signal.IntentCuriosity {
		t.Fatalf("无命中时应落到 curiosity, 实际 %s", result.Level)
	}
	if result.Confidence != confidenceFloor {
		t.Fatalf("无命中时置信度应为下限: %v", result.Confidence)
	}
}

func TestPredictTrend(t *testing.T) {
	sig := &signal.Signal{ID: "sig-4", Volume: 250, Velocity: 2.5}
	trend := PredictTrend(sig)
	if trend.Momentum != 50 {
		t.Fatalf("动量不符: %v", trend.Momentum)
	}
	if trend.TrendScore != 50 {
		t.Fatalf("趋势分不符: %v", trend.TrendScore)
	}
	if trend.GrowthRate != 0.15 {
		t.Fatalf("增长率不符: %v", trend.GrowthRate)
	}

	capped := PredictTrend(&signal.Signal{ID: "sig-5", Volume: 1000, Velocity: 10})
	if capped.Momentum != 100 || capped.TrendScore != 100 {
		t.Fatalf("动量与趋势分应封顶 100: %+v", capped)
	}
}

func TestDemandScoreAndTemperature(t *testing.T) {
	// 100×0.3 + 90×0.4 + 100×0.3 = 96。
	score := DemandScore(500, 0.9, 100)
	if score != 96 {
		t.Fatalf("需求评分不符: %v", score)
	}
	if TemperatureOf(score) != signal.TemperatureHot {
		t.Fatalf("96 分应为 hot")
	}

	warm := DemandScore(250, 0.6, 50)
	if warm != 54 {
		t.Fatalf("需求评分不符: %v", warm)
	}
	if TemperatureOf(warm) != signal.TemperatureWarm {
		t.Fatalf("54 分应为 warm")
	}
	if TemperatureOf(30) != signal.TemperatureCold {
		t.Fatalf("30 分应为 cold")
	}
}

func TestBuildOfferAppliesHotMultiplier(t *testing.T) {
	sig := &signal.Signal{ID: "sig-6", Keyword: "weather api", Volume: 500}
	offer := BuildOffer(catalog.Default(), sig, 0.9, 100)

	if offer.Temperature != signal.TemperatureHot {
		t.Fatalf("期望 hot, 实际 %s", offer.Temperature)
	}
	if offer.ServiceType != "api" {
		t.Fatalf("服务原型不符: %s", offer.ServiceType)
	}
	// api 原型基础价 299 × hot 系数 1.5。
	if !offer.SuggestedPrice.Equal(decimal.RequireFromString("448.5")) {
		t.Fatalf("推荐报价不符: %s", offer.SuggestedPrice)
	}
	if offer.DeliveryDays != 3 {
		t.Fatalf("交付天数不符: %d", offer.DeliveryDays)
	}
}
