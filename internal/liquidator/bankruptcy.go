package liquidator

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// settleBankruptcy 按下标升序结算每个负余额资产。
// 每个资产结算后尝试兑换；任何一条腿失败都不会中断后续资产，最后汇总报告。
func (e *Engine) settleBankruptcy(ctx context.Context, entry *logrus.Entry, snap *Snapshot, target *Account) error {
	var errs []error
	settled := 0
	for i := 0; i < snap.State.ActiveCollaterals(); i++ {
		if !target.Margin.Collateral[i].IsNegative() {
			continue
		}
		legEntry := entry.WithField("collateral_index", i)

		ix := zo.SettleBankruptcy{
			State:        snap.StateKey,
			StateSigner:  snap.StateSigner,
			Cache:        snap.CacheKey,
			Liqor:        snap.Liquidator.Authority(),
			LiqorMargin:  snap.Liquidator.Key,
			LiqorControl: snap.Liquidator.ControlKey(),
			LiqeeMargin:  target.Key,
			LiqeeControl: target.ControlKey(),
			AssetMint:    snap.State.Collaterals[i].Mint,
		}.Build(e.programs)

		sig, err := e.sender.RetrySend(ctx, func() ([]solana.Instruction, error) {
			return []solana.Instruction{ix}, nil
		}, e.cfg.MaxSendAttempts)
		if err != nil {
			legEntry.WithError(err).Error("❌ 破产结算失败")
			errs = append(errs, fmt.Errorf("settle collateral %d: %w", i, err))
		} else {
			settled++
			legEntry.WithField("tx", sig.String()).Info("✅ 破产结算完成")
		}

		if err := e.swapLeg(ctx, legEntry, snap, i); err != nil {
			legEntry.WithError(err).Error("❌ 结算后兑换失败")
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrSettlementFailure, err)
	}
	entry.WithField("settled", settled).Info("🏁 破产结算结束")
	return nil
}
