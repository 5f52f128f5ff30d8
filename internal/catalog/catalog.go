package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Catalog 描述 configs/catalog.yaml 的结构：服务原型定义与产品目录。
type Catalog struct {
	Archetypes []Archetype `yaml:"archetypes"`
	Products   []Product   `yaml:"products"`
}

// Archetype 定义一种可推荐的服务原型及其定价基线。
type Archetype struct {
	Type         string   `yaml:"type"`
	Keywords     []string `yaml:"keywords"`
	BasePrice    float64  `yaml:"base_price"`
	DeliveryDays int      `yaml:"delivery_days"`
}

// Product 描述目录中一个已上架的 API 产品，供市场机会扫描使用。
type Product struct {
	ID           string  `yaml:"id"`
	Name         string  `yaml:"name"`
	Keyword      string  `yaml:"keyword"`
	PricePerCall float64 `yaml:"price_per_call"`
	MonthlyCalls int     `yaml:"monthly_calls"`
	Competitors  int     `yaml:"competitors"`
	Complexity   int     `yaml:"complexity"`
}

// Load 解析目录定义文件。文件缺失时返回内置默认目录。
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("读取目录定义失败: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(content, &cat); err != nil {
		return nil, fmt.Errorf("解析目录定义失败: %w", err)
	}
	if len(cat.Archetypes) == 0 {
		cat.Archetypes = Default().Archetypes
	}
	return &cat, nil
}

// Default 返回内置的服务原型与示例产品。
func Default() *Catalog {
	return &Catalog{
		Archetypes: []Archetype{
			{Type: "api", Keywords: []string{"api", "endpoint", "integration", "webhook"}, BasePrice: 299, DeliveryDays: 3},
			{Type: "saas", Keywords: []string{"saas", "dashboard", "platform", "subscription"}, BasePrice: 499, DeliveryDays: 7},
			{Type: "automation", Keywords: []string{"automation", "bot", "scraper", "workflow"}, BasePrice: 199, DeliveryDays: 2},
			{Type: "consulting", Keywords: []string{"consulting", "audit", "strategy", "advice"}, BasePrice: 899, DeliveryDays: 14},
			{Type: "generic", Keywords: nil, BasePrice: 149, DeliveryDays: 5},
		},
	}
}

// MatchArchetype 依据关键词子串匹配服务原型，无匹配时返回 generic 原型。
func (c *Catalog) MatchArchetype(keyword string) Archetype {
	needle := strings.ToLower(keyword)
	var fallback *Archetype
	for i := range c.Archetypes {
		arch := &c.Archetypes[i]
		if len(arch.Keywords) == 0 {
			if fallback == nil {
				fallback = arch
			}
			continue
		}
		for _, candidate := range arch.Keywords {
			if strings.Contains(needle, candidate) {
				return *arch
			}
		}
	}
	if fallback != nil {
		return *fallback
	}
	return Archetype{Type: "generic", BasePrice: 149, DeliveryDays: 5}
}

// BasePriceDecimal 返回原型基础价格的精确表示。
func (a Archetype) BasePriceDecimal() decimal.Decimal {
	return decimal.NewFromFloat(a.BasePrice)
}

// PricePerCallDecimal 返回产品单次调用价格的精确表示。
func (p Product) PricePerCallDecimal() decimal.Decimal {
	return decimal.NewFromFloat(p.PricePerCall)
}
