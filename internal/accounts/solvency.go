package accounts

import (
	"github.com/shopspring/decimal"

	"github.com/liqprotocol/zo-keeper/internal/liquidator"
	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// 权重与保证金率都以千分比存储
var perMille = decimal.NewFromInt(1000)

// Health 账户健康度
type Health struct {
	// Value 加权抵押品 + 未实现盈亏
	Value decimal.Decimal
	// Requirement 维持保证金要求
	Requirement decimal.Decimal
}

// Liquidatable 账户价值低于维持保证金
func (h Health) Liquidatable() bool {
	return h.Value.LessThan(h.Requirement)
}

// Assess 计算账户健康度：
//   - 正抵押品按 weight/1000 折算，负余额按全额计入
//   - 每个仓位计入 PosSize×mark + NativePcTotal（报价最小单位）作为未实现盈亏
//   - 维持保证金 = Σ |PosSize×mark| × baseImf / 2000
func Assess(margin *zo.Margin, control *zo.Control, state *zo.State, cache *zo.Cache) (Health, error) {
	values, err := liquidator.ValueCollateral(margin, state, cache)
	if err != nil {
		return Health{}, err
	}

	var h Health
	for i, v := range values {
		if v.IsPositive() {
			weight := decimal.NewFromInt(int64(state.Collaterals[i].Weight))
			v = v.Mul(weight).Div(perMille)
		}
		h.Value = h.Value.Add(v)
	}

	quoteDecimals := int32(state.Collaterals[0].Decimals)
	n := state.ActiveMarkets()
	notionals := liquidator.ValuePositions(control, cache, n)
	for i, notional := range notionals {
		oo := &control.OpenOrdersAgg[i]
		if oo.PosSize == 0 {
			continue
		}
		pc := decimal.NewFromInt(oo.NativePcTotal).Shift(-quoteDecimals)
		h.Value = h.Value.Add(notional).Add(pc)

		mmf := decimal.NewFromInt(int64(state.PerpMarkets[i].BaseImf)).Div(perMille).Div(decimal.NewFromInt(2))
		h.Requirement = h.Requirement.Add(notional.Abs().Mul(mmf))
	}
	return h, nil
}
