package order

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountDecimals 下单数量先截断到 6 位小数，再按交易所步长截断。
const AmountDecimals = 6

// ShrinkFactor 市价买单被拒后数量缩减为原来的 70%。
const ShrinkFactor = 0.7

// Precision 描述交易对的步长与最小下单量。
type Precision struct {
	PriceStep  float64
	AmountStep float64
	MinAmount  float64
}

// MinTradeable 最小可交易数量；未提供 MinAmount 时用数量步长。
func (p Precision) MinTradeable() float64 {
	if p.MinAmount > 0 {
		return p.MinAmount
	}
	return p.AmountStep
}

// Tradeable 判断余额是否超过最小可交易量。
func (p Precision) Tradeable(amount float64) bool {
	return amount > p.MinTradeable()
}

// FloorDecimals 向下截断到指定小数位。
func FloorDecimals(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).RoundFloor(places).Float64()
	return f
}

// TruncateAmount 把数量向下对齐到 AmountStep。
func (p Precision) TruncateAmount(amount float64) float64 {
	if p.AmountStep <= 0 {
		return amount
	}
	step := decimal.NewFromFloat(p.AmountStep)
	f, _ := decimal.NewFromFloat(amount).Div(step).Floor().Mul(step).Float64()
	return f
}

// RoundPrice 把价格对齐到最近的 PriceStep。
func (p Precision) RoundPrice(price float64) float64 {
	if p.PriceStep <= 0 {
		return price
	}
	step := decimal.NewFromFloat(p.PriceStep)
	f, _ := decimal.NewFromFloat(price).Div(step).Round(0).Mul(step).Float64()
	return f
}

// TokenAmount 按美元名义和价格换算下单数量：先截断 6 位小数，再按步长截断。
func (p Precision) TokenAmount(usd, price float64) float64 {
	if price <= 0 {
		return 0
	}
	raw, _ := decimal.NewFromFloat(usd).Div(decimal.NewFromFloat(price)).RoundFloor(AmountDecimals).Float64()
	return p.TruncateAmount(raw)
}

// ShrinkCost 成本计价的市价单缩量，保留到分。
func ShrinkCost(cost float64) float64 {
	f, _ := decimal.NewFromFloat(cost).Mul(decimal.NewFromFloat(ShrinkFactor)).Round(2).Float64()
	return f
}

// ShrinkAmount 数量计价的市价单缩量。
func (p Precision) ShrinkAmount(amount float64) float64 {
	raw, _ := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(ShrinkFactor)).RoundFloor(AmountDecimals).Float64()
	return p.TruncateAmount(raw)
}

// Validate 检查订单价格/数量是否符合精度与最小下单量。
func (p Precision) Validate(price, qty float64) error {
	if p.PriceStep > 0 && price > 0 && !isMultiple(price, p.PriceStep) {
		return fmt.Errorf("price %.8f not aligned to priceStep %.8f", price, p.PriceStep)
	}
	if p.AmountStep > 0 && !isMultiple(qty, p.AmountStep) {
		return fmt.Errorf("qty %.8f not aligned to amountStep %.8f", qty, p.AmountStep)
	}
	if p.MinAmount > 0 && qty < p.MinAmount {
		return fmt.Errorf("qty %.8f < minAmount %.8f", qty, p.MinAmount)
	}
	return nil
}

func isMultiple(value, step float64) bool {
	ratio := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(step))
	return ratio.Equal(ratio.Round(0))
}
