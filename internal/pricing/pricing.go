package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var million = decimal.NewFromInt(1_000_000)

type ModelPricing struct {
	Input  float64 `mapstructure:"input" json:"input"` // USD per 1M tokens
	Output float64 `mapstructure:"output" json:"output"`
}

type Table map[string]ModelPricing

// DefaultTable carries Sonnet-class list prices.
func DefaultTable() Table {
	return Table{
		"claude-sonnet-4": {Input: 3, Output: 15},
		"claude-opus-4":   {Input: 15, Output: 75},
		"claude-haiku-4":  {Input: 1, Output: 5},
	}
}

// Lookup finds pricing for a model, trying exact match then longest prefix match.
func (t Table) Lookup(model string) (ModelPricing, bool) {
	if p, ok := t[model]; ok {
		return p, true
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var best string
	for _, key := range keys {
		if strings.HasPrefix(model, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return ModelPricing{}, false
	}
	return t[best], true
}

type Calculator struct {
	table    Table
	fallback ModelPricing
}

// NewCalculator prices unknown models at fallback rates.
func NewCalculator(table Table, fallback ModelPricing) *Calculator {
	return &Calculator{table: table, fallback: fallback}
}

// Cost returns in/1e6*inputRate + out/1e6*outputRate in USD.
func (c *Calculator) Cost(model string, inputTokens, outputTokens int) decimal.Decimal {
	p, ok := c.table.Lookup(model)
	if !ok {
		p = c.fallback
	}
	in := decimal.NewFromInt(int64(inputTokens)).Div(million).Mul(decimal.NewFromFloat(p.Input))
	out := decimal.NewFromInt(int64(outputTokens)).Div(million).Mul(decimal.NewFromFloat(p.Output))
	return in.Add(out)
}
