package liquidator

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// cancel 强制撤销挂单量最大市场上的全部挂单；没有挂单时直接成功
func (e *Engine) cancel(ctx context.Context, entry *logrus.Entry, snap *Snapshot, target *Account) error {
	index, ok := LargestOpenOrder(target.Control, snap.State.ActiveMarkets())
	if !ok {
		entry.Debug("没有需要撤销的挂单")
		return nil
	}
	entry = entry.WithField("market_index", index)

	dex, ok := snap.DexMarket(index)
	if !ok {
		return fmt.Errorf("%w: no dex market for index %d", ErrCancelFailure, index)
	}
	oo := target.Control.OpenOrdersAgg[index].Key
	if oo.IsZero() {
		return fmt.Errorf("%w: missing open orders account for market %d", ErrCancelFailure, index)
	}

	ix := zo.ForceCancelAllPerpOrders{
		Pruner:       snap.Liquidator.Authority(),
		State:        snap.StateKey,
		Cache:        snap.CacheKey,
		StateSigner:  snap.StateSigner,
		LiqeeMargin:  target.Key,
		LiqeeControl: target.ControlKey(),
		LiqeeOO:      oo,
		Market:       zo.PerpMarketAccountsOf(dex),
		Limit:        zo.ForceCancelLimit,
	}.Build(e.programs)

	sig, err := e.sender.RetrySend(ctx, func() ([]solana.Instruction, error) {
		return []solana.Instruction{ix}, nil
	}, e.cfg.MaxSendAttempts)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCancelFailure, err)
	}
	entry.WithField("tx", sig.String()).Info("🧹 已强制撤单")
	return nil
}
