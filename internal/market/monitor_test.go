package market

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"AgentMarket/internal/catalog"
)

func testCatalog() *catalog.Catalog {
	cat := catalog.Default()
	cat.Products = []catalog.Product{
		{ID: "prod-weather", Name: "天气数据 API", Keyword: "weather",
			PricePerCall: 0.5, MonthlyCalls: 120000, Competitors: 6, Complexity: 2},
		{ID: "prod-geo", Name: "地理编码 API", Keyword: "geocoding",
			PricePerCall: 0.8, MonthlyCalls: 30000, Competitors: 3, Complexity: 4},
	}
	return cat
}

func TestScanScoresProducts(t *testing.T) {
	store := NewMemoryStore()
	monitor := NewMonitor(store, testCatalog(), WithWindow(time.Hour))

	results, err := monitor.Scan(context.Background())
	if err != nil {
		t.Fatalf("目录扫描失败: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("期望 2 条机会, 实际 %d", len(results))
	}

	byProduct := make(map[string]*Opportunity, len(results))
	for _, opp := range results {
		byProduct[opp.ProductID] = opp
	}
	weather := byProduct["prod-weather"]
	if weather == nil {
		t.Fatalf("缺少 prod-weather 的机会")
	}
	// 120000 次调用超出归一化上限, 需求分封顶 100。
	if weather.DemandScore != 100 {
		t.Fatalf("需求分不符: %v", weather.DemandScore)
	}
	if weather.CompetitionScore != 30 {
		t.Fatalf("竞争分不符: %v", weather.CompetitionScore)
	}
	if weather.ComplexityScore != 20 {
		t.Fatalf("复杂度分不符: %v", weather.ComplexityScore)
	}
	// 0.5 × 120000 × (1 - 30/200) = 51000。
	if !weather.PotentialRevenue.Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("潜在收入不符: %s", weather.PotentialRevenue)
	}
	if weather.WindowEnd-weather.WindowStart != int64(time.Hour/time.Second) {
		t.Fatalf("时间窗口不符: %d", weather.WindowEnd-weather.WindowStart)
	}
}

func TestListTopReturnsLatestScanByRevenue(t *testing.T) {
	store := NewMemoryStore()
	monitor := NewMonitor(store, testCatalog())
	ctx := context.Background()

	if _, err := monitor.Scan(ctx); err != nil {
		t.Fatalf("第一次扫描失败: %v", err)
	}
	second, err := monitor.Scan(ctx)
	if err != nil {
		t.Fatalf("第二次扫描失败: %v", err)
	}

	top, err := store.ListTop(ctx, 10)
	if err != nil {
		t.Fatalf("查询机会失败: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("应只返回最近一次扫描: %d", len(top))
	}
	for _, opp := range top {
		if opp.ScanID != second[0].ScanID {
			t.Fatalf("返回了旧扫描的机会: %s", opp.ScanID)
		}
	}
	if top[0].PotentialRevenue.LessThan(top[1].PotentialRevenue) {
		t.Fatalf("应按潜在收入降序: %s < %s", top[0].PotentialRevenue, top[1].PotentialRevenue)
	}
}
