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
	"github.com/liqprotocol/zo-keeper/pkg/retry"
)

var log = logrus.WithField("component", "liquidator")

// Config 发送与减半上限
type Config struct {
	// MaxSendAttempts 同一规模下的发送次数上限
	MaxSendAttempts int
	// MaxReductions 敞口超限时的最大减半次数
	MaxReductions int
}

// DefaultConfig 默认 5 次发送、5 次减半
func DefaultConfig() Config {
	return Config{MaxSendAttempts: 5, MaxReductions: 5}
}

// Engine 单账户决策与执行：估值 -> 选分支 -> 执行唯一一个处置
type Engine struct {
	programs zo.Programs
	sender   Sender
	swapper  Swapper
	cfg      Config
}

// NewEngine 创建引擎
func NewEngine(programs zo.Programs, sender Sender, swapper Swapper, cfg Config) *Engine {
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = DefaultConfig().MaxSendAttempts
	}
	if cfg.MaxReductions < 0 {
		cfg.MaxReductions = DefaultConfig().MaxReductions
	}
	return &Engine{programs: programs, sender: sender, swapper: swapper, cfg: cfg}
}

// Liquidate 处理一个已被判定为可清算的账户，返回选中的分支。
// 同步执行：最多解决一笔复合交易（含有限次重试）后返回。
func (e *Engine) Liquidate(ctx context.Context, snap *Snapshot, target *Account) (Branch, error) {
	entry := log.WithField("authority", target.Authority().String())

	summary, _, err := Summarize(target, snap)
	if err != nil {
		if errors.Is(err, ErrNoCollateral) {
			entry.Debug("账户没有抵押品，跳过")
			return BranchNone, nil
		}
		entry.WithError(err).Error("❌ 估值失败")
		return BranchNone, err
	}

	branch := SelectBranch(summary)
	metrics.BranchDecisions.WithLabelValues(branch.String()).Inc()
	entry = entry.WithField("branch", branch.String())
	entry.WithFields(logrus.Fields{
		"worst_index":   summary.Worst.Index,
		"worst_value":   summary.Worst.Value.String(),
		"quote_index":   summary.BestQuote.Index,
		"has_position":  summary.HasPosition,
		"position":      summary.Position.Value.String(),
		"spot_bankrupt": summary.SpotBankrupt,
		"resting_order": summary.HasRestingOrder,
	}).Info("🎯 选择清算分支")

	switch branch {
	case BranchPerp:
		err = e.liquidatePerp(ctx, entry, snap, target, summary.Position)
	case BranchSpot:
		err = e.liquidateSpot(ctx, entry, snap, target, summary.Worst.Index, summary.BestQuote.Index)
	case BranchCancel:
		err = e.cancel(ctx, entry, snap, target)
	case BranchBankruptcy:
		err = e.settleBankruptcy(ctx, entry, snap, target)
	}
	if err != nil {
		metrics.Failures.WithLabelValues(branch.String()).Inc()
		entry.WithError(err).Error("❌ 清算失败")
	}
	return branch, err
}

// callerCapital 清算人自身抵押品总估值（用于限制单次转移规模）
func (e *Engine) callerCapital(snap *Snapshot) (decimal.Decimal, error) {
	if snap.Liquidator.Margin == nil {
		return decimal.Zero, fmt.Errorf("%w: liquidator margin not loaded", ErrLiquidationFailure)
	}
	values, err := ValueCollateral(snap.Liquidator.Margin, snap.State, snap.Cache)
	if err != nil {
		return decimal.Zero, err
	}
	return TotalCollateral(values), nil
}

// sendHalving 敞口超限时把规模减半重发，其他拒绝直接终止
func (e *Engine) sendHalving(ctx context.Context, entry *logrus.Entry, branch Branch, size int64,
	build func(size int64) func() ([]solana.Instruction, error)) (int64, error) {

	policy := retry.Policy{
		MaxAttempts:   1,
		MaxReductions: e.cfg.MaxReductions,
		Classify: func(err error) retry.Action {
			if errors.Is(err, ErrLiquidationOverExposure) {
				return retry.Shrink
			}
			return retry.Abort
		},
		OnRetry: func(ev retry.Event) {
			metrics.Reductions.WithLabelValues(branch.String()).Inc()
			entry.WithFields(logrus.Fields{
				"reduction": ev.Reduction,
				"size":      ev.Size,
				"next_size": ev.NextSize,
			}).Warn("⚠️ 清算人敞口超限，减半重试")
		},
	}
	return retry.Run(ctx, policy, size, func(ctx context.Context, size int64) (int64, error) {
		if size <= 0 {
			return 0, fmt.Errorf("%w: transfer size reduced to zero", ErrLiquidationFailure)
		}
		sig, err := e.sender.RetrySend(ctx, build(size), e.cfg.MaxSendAttempts)
		if err != nil {
			if zo.IsOverExposure(err) {
				return 0, fmt.Errorf("%w: %w", ErrLiquidationOverExposure, err)
			}
			return 0, err
		}
		entry.WithFields(logrus.Fields{"size": size, "tx": sig.String()}).Info("✅ 清算交易已确认")
		return size, nil
	})
}
