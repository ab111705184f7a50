package liquidator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// DustThreshold 估值低于该值的抵押品视为零
var DustThreshold = decimal.NewFromInt(10)

// Pick 向量中选中的一项
type Pick struct {
	Index int
	Value decimal.Decimal
}

// ValueCollateral 按下标计算抵押品估值：
// 实际余额（正余额乘存款乘数，负余额乘借款乘数） × 预言机价格 / 10^decimals。
// 余额为零的资产不需要价格；其余资产缺价格或价格非正时返回 ErrCollateralFailure。
func ValueCollateral(margin *zo.Margin, state *zo.State, cache *zo.Cache) ([]decimal.Decimal, error) {
	n := state.ActiveCollaterals()
	values := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		balance := margin.Collateral[i]
		if balance.IsZero() {
			values[i] = decimal.Zero
			continue
		}

		info := &state.Collaterals[i]
		oracle, ok := cache.Oracle(info.OracleSymbol)
		if !ok {
			return nil, fmt.Errorf("%w: index %d: oracle %q not found", ErrCollateralFailure, i, info.OracleSymbol)
		}
		if !oracle.Price.IsPositive() {
			return nil, fmt.Errorf("%w: index %d: oracle %q price %s", ErrCollateralFailure, i, info.OracleSymbol, oracle.Price)
		}

		values[i] = actualBalance(balance, &cache.Borrows[i]).
			Mul(oracle.Price).
			Shift(-int32(info.Decimals))
	}
	return values, nil
}

func actualBalance(balance decimal.Decimal, b *zo.BorrowCache) decimal.Decimal {
	mult := b.SupplyMultiplier
	if balance.IsNegative() {
		mult = b.BorrowMultiplier
	}
	if mult.IsZero() {
		return balance
	}
	return balance.Mul(mult)
}

// ValuePositions 按永续市场下标计算仓位名义价值：仓位 × 标记价格
func ValuePositions(control *zo.Control, cache *zo.Cache, markets int) []decimal.Decimal {
	if markets > zo.MaxMarkets {
		markets = zo.MaxMarkets
	}
	values := make([]decimal.Decimal, markets)
	for i := 0; i < markets; i++ {
		values[i] = decimal.NewFromInt(control.OpenOrdersAgg[i].PosSize).Mul(cache.Marks[i].Price)
	}
	return values
}

// TotalCollateral 抵押品总估值
func TotalCollateral(values []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, values...)
}

// WorstCollateral 估值最低的抵押品，平局取最小下标
func WorstCollateral(values []decimal.Decimal) (Pick, error) {
	if len(values) == 0 {
		return Pick{}, ErrNoCollateral
	}
	best := Pick{Index: 0, Value: values[0]}
	for i, v := range values[1:] {
		if v.LessThan(best.Value) {
			best = Pick{Index: i + 1, Value: v}
		}
	}
	return best, nil
}

// BestQuote 估值最高的抵押品，平局取最小下标；最大值恰好为零时固定返回下标 0、值 0
func BestQuote(values []decimal.Decimal) (Pick, error) {
	if len(values) == 0 {
		return Pick{}, ErrNoCollateral
	}
	best := Pick{Index: 0, Value: values[0]}
	for i, v := range values[1:] {
		if v.GreaterThan(best.Value) {
			best = Pick{Index: i + 1, Value: v}
		}
	}
	if best.Value.IsZero() {
		return Pick{Index: 0, Value: decimal.Zero}, nil
	}
	return best, nil
}

// LargestPosition 绝对值最大的仓位，平局取最小下标。
// 全零向量返回 ok=false；空向量返回 ErrNoPositions。
func LargestPosition(values []decimal.Decimal) (Pick, bool, error) {
	if len(values) == 0 {
		return Pick{}, false, ErrNoPositions
	}
	best := Pick{Index: 0, Value: values[0]}
	for i, v := range values[1:] {
		if v.Abs().GreaterThan(best.Value.Abs()) {
			best = Pick{Index: i + 1, Value: v}
		}
	}
	if best.Value.IsZero() {
		return Pick{}, false, nil
	}
	return best, true, nil
}

// LargestOpenOrder 挂单量（买单 + 卖单）最大的市场，平局取最小下标
func LargestOpenOrder(control *zo.Control, markets int) (int, bool) {
	if markets > zo.MaxMarkets {
		markets = zo.MaxMarkets
	}
	index, found := 0, false
	var largest uint64
	for i := 0; i < markets; i++ {
		oo := &control.OpenOrdersAgg[i]
		if !oo.HasRestingOrders() {
			continue
		}
		size := oo.CoinOnBids + oo.CoinOnAsks
		if !found || size > largest {
			index, largest, found = i, size, true
		}
	}
	return index, found
}

// IsSpotBankrupt 所有抵押品估值都低于粉尘阈值
func IsSpotBankrupt(values []decimal.Decimal) bool {
	for _, v := range values {
		if !v.LessThan(DustThreshold) {
			return false
		}
	}
	return true
}
