package liquidator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/metrics"
	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// SpotAmount 初始转移数量：floor(floor(capital / price) / 10^decimals) × 10
func SpotAmount(capital, price decimal.Decimal, decimals uint8) (int64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: spot price %s", ErrLiquidationFailure, price)
	}
	base := capital.Div(price).Floor().IntPart()
	amount := floorDiv(base, decimal.New(1, int32(decimals)).IntPart()) * 10
	if amount <= 0 {
		return 0, fmt.Errorf("%w: liquidator capital %s too small for %d decimals", ErrLiquidationFailure, capital, decimals)
	}
	return amount, nil
}

// liquidateSpot 接管最差抵押品的负债，成功后把报价资产与被清算资产分别兑换回去
func (e *Engine) liquidateSpot(ctx context.Context, entry *logrus.Entry, snap *Snapshot, target *Account, assetIndex, quoteIndex int) error {
	entry = entry.WithFields(logrus.Fields{"asset_index": assetIndex, "quote_index": quoteIndex})

	info := &snap.State.Collaterals[assetIndex]
	oracle, ok := snap.Cache.Oracle(info.OracleSymbol)
	if !ok {
		return fmt.Errorf("%w: oracle %q not found", ErrLiquidationFailure, info.OracleSymbol)
	}
	capital, err := e.callerCapital(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLiquidationFailure, err)
	}
	amount, err := SpotAmount(capital, oracle.Price, info.Decimals)
	if err != nil {
		return err
	}

	liq := zo.LiquidateSpotPosition{
		State:        snap.StateKey,
		Cache:        snap.CacheKey,
		Liqor:        snap.Liquidator.Authority(),
		LiqorMargin:  snap.Liquidator.Key,
		LiqorControl: snap.Liquidator.ControlKey(),
		LiqeeMargin:  target.Key,
		LiqeeControl: target.ControlKey(),
		AssetMint:    info.Mint,
		QuoteMint:    snap.State.Collaterals[quoteIndex].Mint,
	}
	build := func(size int64) func() ([]solana.Instruction, error) {
		return func() ([]solana.Instruction, error) {
			l := liq
			l.AssetTransferAmount = size
			return []solana.Instruction{l.Build(e.programs)}, nil
		}
	}

	entry.WithFields(logrus.Fields{"amount": amount, "capital": capital.String()}).Info("🔨 清算现货负债")
	if _, err := e.sendHalving(ctx, entry, BranchSpot, amount, build); err != nil {
		return fmt.Errorf("%w: %w", ErrLiquidationFailure, err)
	}

	// 两条兑换腿相互独立，各自尝试
	var errs []error
	for _, idx := range uniqueIndices(quoteIndex, assetIndex) {
		if err := e.swapLeg(ctx, entry, snap, idx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: rebalance: %w", ErrLiquidationFailure, err)
	}
	return nil
}

// swapLeg 对一个抵押品下标做再平衡；未注册市场时只记录
func (e *Engine) swapLeg(ctx context.Context, entry *logrus.Entry, snap *Snapshot, index int) error {
	if e.swapper == nil {
		return nil
	}
	if _, ok := snap.SwapMarketFor(index); !ok {
		entry.WithField("collateral_index", index).Warn("⚠️ 该抵押品没有注册兑换市场，跳过兑换")
		metrics.Swaps.WithLabelValues("skipped").Inc()
		return nil
	}
	sig, err := e.swapper.SwapAsset(ctx, SwapRequest{Snapshot: snap, CollateralIndex: index})
	if err != nil {
		metrics.Swaps.WithLabelValues("failed").Inc()
		return fmt.Errorf("swap collateral %d: %w", index, err)
	}
	metrics.Swaps.WithLabelValues("ok").Inc()
	if sig != (solana.Signature{}) {
		entry.WithFields(logrus.Fields{"collateral_index": index, "tx": sig.String()}).Info("🔄 兑换完成")
	}
	return nil
}

func uniqueIndices(a, b int) []int {
	if a == b {
		return []int{a}
	}
	return []int{a, b}
}
