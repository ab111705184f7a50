package liquidator

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Branch 一次决策选中的处置方式
type Branch int

const (
	BranchNone Branch = iota
	BranchPerp
	BranchCancel
	BranchSpot
	BranchBankruptcy
)

func (b Branch) String() string {
	switch b {
	case BranchPerp:
		return "perp"
	case BranchCancel:
		return "cancel"
	case BranchSpot:
		return "spot"
	case BranchBankruptcy:
		return "bankruptcy"
	default:
		return "none"
	}
}

// Summary 策略选择的全部输入
type Summary struct {
	Worst           Pick
	BestQuote       Pick
	Position        Pick
	HasPosition     bool
	SpotBankrupt    bool
	HasRestingOrder bool
	RestingIndex    int
}

// SelectBranch 纯函数，按顺序匹配，先命中者生效：
//  1. 有仓位且（|最差抵押品| <= |仓位名义价值| 或现货破产）-> 永续清算
//  2. 现货破产且无仓位 -> 有挂单则撤单，否则破产结算
//  3. 最差抵押品 < 0 -> 现货清算
//  4. 有挂单 -> 撤单
//  5. 其他 -> 无操作
func SelectBranch(s Summary) Branch {
	switch {
	case s.HasPosition && (s.Worst.Value.Abs().LessThanOrEqual(s.Position.Value.Abs()) || s.SpotBankrupt):
		return BranchPerp
	case s.SpotBankrupt && !s.HasPosition:
		if s.HasRestingOrder {
			return BranchCancel
		}
		return BranchBankruptcy
	case s.Worst.Value.IsNegative():
		return BranchSpot
	case s.HasRestingOrder:
		return BranchCancel
	default:
		return BranchNone
	}
}

// Summarize 对账户估值并汇总为策略输入，同时返回抵押品估值向量
func Summarize(acc *Account, snap *Snapshot) (Summary, []decimal.Decimal, error) {
	colls, err := ValueCollateral(acc.Margin, snap.State, snap.Cache)
	if err != nil {
		return Summary{}, nil, err
	}

	var s Summary
	if s.Worst, err = WorstCollateral(colls); err != nil {
		return Summary{}, colls, err
	}
	if s.BestQuote, err = BestQuote(colls); err != nil {
		return Summary{}, colls, err
	}

	positions := ValuePositions(acc.Control, snap.Cache, snap.State.ActiveMarkets())
	s.Position, s.HasPosition, err = LargestPosition(positions)
	if err != nil && !errors.Is(err, ErrNoPositions) {
		return Summary{}, colls, err
	}

	s.SpotBankrupt = IsSpotBankrupt(colls)
	s.RestingIndex, s.HasRestingOrder = LargestOpenOrder(acc.Control, snap.State.ActiveMarkets())
	return s, colls, nil
}
