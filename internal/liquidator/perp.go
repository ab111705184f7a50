package liquidator

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// PerpLots 初始转移手数：floor(floor(capital / markPrice) / lotSize) × 10
func PerpLots(capital, markPrice decimal.Decimal, lotSize uint64) (int64, error) {
	if !markPrice.IsPositive() {
		return 0, fmt.Errorf("%w: mark price %s", ErrLiquidationFailure, markPrice)
	}
	if lotSize == 0 {
		return 0, fmt.Errorf("%w: zero lot size", ErrLiquidationFailure)
	}
	base := capital.Div(markPrice).Floor().IntPart()
	lots := floorDiv(base, int64(lotSize)) * 10
	if lots <= 0 {
		return 0, fmt.Errorf("%w: liquidator capital %s too small for lot size %d", ErrLiquidationFailure, capital, lotSize)
	}
	return lots, nil
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// liquidatePerp 复合交易：强制撤单 + 接管仓位 + 可选的平仓单，敞口超限时减半手数重发
func (e *Engine) liquidatePerp(ctx context.Context, entry *logrus.Entry, snap *Snapshot, target *Account, position Pick) error {
	index := position.Index
	entry = entry.WithField("market_index", index)

	dex, ok := snap.DexMarket(index)
	if !ok {
		return fmt.Errorf("%w: no dex market for index %d", ErrLiquidationFailure, index)
	}
	liqeeOO := target.Control.OpenOrdersAgg[index].Key
	liqorOO := solana.PublicKey{}
	if snap.Liquidator.Control != nil {
		liqorOO = snap.Liquidator.Control.OpenOrdersAgg[index].Key
	}
	if liqeeOO.IsZero() || liqorOO.IsZero() {
		return fmt.Errorf("%w: missing open orders account for market %d", ErrLiquidationFailure, index)
	}

	capital, err := e.callerCapital(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLiquidationFailure, err)
	}
	lots, err := PerpLots(capital, snap.Cache.Marks[index].Price, dex.CoinLotSize)
	if err != nil {
		return err
	}

	market := zo.PerpMarketAccountsOf(dex)
	liqor := snap.Liquidator.Authority()
	cancelIx := zo.ForceCancelAllPerpOrders{
		Pruner:       liqor,
		State:        snap.StateKey,
		Cache:        snap.CacheKey,
		StateSigner:  snap.StateSigner,
		LiqeeMargin:  target.Key,
		LiqeeControl: target.ControlKey(),
		LiqeeOO:      liqeeOO,
		Market:       market,
		Limit:        zo.ForceCancelLimit,
	}.Build(e.programs)

	// 平仓单构建失败只记录，不影响清算
	var rebalanceIx solana.Instruction
	if e.swapper != nil {
		ix, err := e.swapper.BuildClosePosition(ctx, ClosePositionRequest{
			Snapshot:     snap,
			MarketIndex:  index,
			LiqeeWasLong: position.Value.IsPositive(),
		})
		if err != nil {
			entry.WithError(err).Warn("⚠️ 无法构建平仓指令，本次不附带")
		} else {
			rebalanceIx = ix
		}
	}

	liq := zo.LiquidatePerpPosition{
		State:        snap.StateKey,
		Cache:        snap.CacheKey,
		StateSigner:  snap.StateSigner,
		Liqor:        liqor,
		LiqorMargin:  snap.Liquidator.Key,
		LiqorControl: snap.Liquidator.ControlKey(),
		LiqorOO:      liqorOO,
		Liqee:        target.Authority(),
		LiqeeMargin:  target.Key,
		LiqeeControl: target.ControlKey(),
		LiqeeOO:      liqeeOO,
		Market:       market,
	}

	build := func(size int64) func() ([]solana.Instruction, error) {
		return func() ([]solana.Instruction, error) {
			l := liq
			l.AssetTransferLots = uint64(size)
			ixs := []solana.Instruction{cancelIx, l.Build(e.programs)}
			if rebalanceIx != nil {
				ixs = append(ixs, rebalanceIx)
			}
			return ixs, nil
		}
	}

	entry.WithFields(logrus.Fields{"lots": lots, "capital": capital.String()}).Info("🔨 清算永续仓位")
	if _, err := e.sendHalving(ctx, entry, BranchPerp, lots, build); err != nil {
		return fmt.Errorf("%w: %w", ErrLiquidationFailure, err)
	}
	return nil
}
