package liquidator

import (
	"context"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// quoteIndex 报价资产固定在抵押品下标 0
const quoteIndex = 0

// closeOrderMatchLimit 平仓单单次撮合的最大订单数
const closeOrderMatchLimit uint16 = 10

// MarginSource 读取清算人最新的保证金账户（兑换前余额可能已被清算改变）
type MarginSource func(ctx context.Context) (*zo.Margin, error)

// SerumSwapper 用 Serum 现货市场做再平衡，用 zo dex 减仓 IOC 单平掉接管的永续仓位
type SerumSwapper struct {
	programs    zo.Programs
	sender      Sender
	margin      MarginSource
	slippageBps int64
}

// NewSerumSwapper 创建再平衡协作者；margin 为 nil 时使用快照中的余额
func NewSerumSwapper(programs zo.Programs, sender Sender, margin MarginSource, slippageBps int64) *SerumSwapper {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &SerumSwapper{programs: programs, sender: sender, margin: margin, slippageBps: slippageBps}
}

func (s *SerumSwapper) slippage() decimal.Decimal {
	return decimal.New(s.slippageBps, -4)
}

// SwapAsset 正余额卖出换回报价资产，负余额用报价资产买回。
// 报价资产本身或零余额不需要兑换，返回零签名。
func (s *SerumSwapper) SwapAsset(ctx context.Context, req SwapRequest) (solana.Signature, error) {
	snap, index := req.Snapshot, req.CollateralIndex
	if index == quoteIndex {
		return solana.Signature{}, nil
	}
	market, ok := snap.SwapMarketFor(index)
	if !ok {
		return solana.Signature{}, fmt.Errorf("no swap market registered for collateral %d", index)
	}

	margin := snap.Liquidator.Margin
	if s.margin != nil {
		m, err := s.margin(ctx)
		if err != nil {
			return solana.Signature{}, fmt.Errorf("load liquidator margin: %w", err)
		}
		margin = m
	}
	if margin == nil {
		return solana.Signature{}, fmt.Errorf("liquidator margin not loaded")
	}
	balance := margin.Collateral[index]
	if balance.IsZero() {
		return solana.Signature{}, nil
	}

	asset := &snap.State.Collaterals[index]
	oracle, ok := snap.Cache.Oracle(asset.OracleSymbol)
	if !ok || !oracle.Price.IsPositive() {
		return solana.Signature{}, fmt.Errorf("no usable oracle price for %q", asset.OracleSymbol)
	}
	quoteDecimals := int32(snap.State.Collaterals[quoteIndex].Decimals)
	slip := s.slippage()

	buy := balance.IsNegative()
	var amount decimal.Decimal
	if buy {
		// 买入需要花费的报价资产数量（含滑点）
		amount = balance.Abs().
			Shift(-int32(asset.Decimals)).
			Mul(oracle.Price).
			Mul(decimal.NewFromInt(1).Add(slip)).
			Shift(quoteDecimals)
	} else {
		amount = balance
	}
	amount = amount.Floor()
	if !amount.IsPositive() {
		return solana.Signature{}, nil
	}
	// 每单位资产至少换回的报价资产（最小单位）
	minRate := oracle.Price.Mul(decimal.NewFromInt(1).Sub(slip)).Shift(quoteDecimals).Floor()
	if buy || !minRate.IsPositive() {
		minRate = decimal.NewFromInt(1)
	}

	ix := zo.Swap{
		Authority:        snap.Liquidator.Authority(),
		State:            snap.StateKey,
		StateSigner:      snap.StateSigner,
		Cache:            snap.CacheKey,
		Margin:           snap.Liquidator.Key,
		Control:          snap.Liquidator.ControlKey(),
		QuoteMint:        snap.State.Collaterals[quoteIndex].Mint,
		QuoteVault:       snap.State.Vaults[quoteIndex],
		AssetMint:        asset.Mint,
		AssetVault:       snap.State.Vaults[index],
		SwapFeeVault:     snap.State.SwapFeeVault,
		SerumOpenOrders:  asset.SerumOpenOrders,
		SerumMarket:      market.Market,
		SerumVaultSigner: market.VaultSigner,
		Buy:              buy,
		Amount:           uint64(amount.IntPart()),
		MinRate:          uint64(minRate.IntPart()),
	}.Build(s.programs)

	log.WithFields(logrus.Fields{
		"collateral_index": index,
		"buy":              buy,
		"amount":           amount.String(),
	}).Info("🔄 兑换抵押品")
	return s.sender.RetrySend(ctx, func() ([]solana.Instruction, error) {
		return []solana.Instruction{ix}, nil
	}, DefaultConfig().MaxSendAttempts)
}

// BuildClosePosition 反向减仓 IOC 单，限价为标记价格加减滑点
func (s *SerumSwapper) BuildClosePosition(_ context.Context, req ClosePositionRequest) (solana.Instruction, error) {
	snap, index := req.Snapshot, req.MarketIndex
	dex, ok := snap.DexMarket(index)
	if !ok {
		return nil, fmt.Errorf("no dex market for index %d", index)
	}
	if snap.Liquidator.Control == nil {
		return nil, fmt.Errorf("liquidator control not loaded")
	}
	oo := snap.Liquidator.Control.OpenOrdersAgg[index].Key
	if oo.IsZero() {
		return nil, fmt.Errorf("liquidator has no open orders account for market %d", index)
	}

	info := &snap.State.PerpMarkets[index]
	mark := snap.Cache.Marks[index].Price
	if !mark.IsPositive() {
		return nil, fmt.Errorf("mark price %s for market %d", mark, index)
	}
	if info.AssetLotSize == 0 || info.QuoteLotSize == 0 {
		return nil, fmt.Errorf("zero lot size for market %d", index)
	}

	// 被清算人为多头时，清算人接管了多头，需要卖出
	isLong := !req.LiqeeWasLong
	band := decimal.NewFromInt(1).Sub(s.slippage())
	if isLong {
		band = decimal.NewFromInt(1).Add(s.slippage())
	}
	price := PriceToLots(mark.Mul(band),
		snap.State.Collaterals[quoteIndex].Decimals, info.AssetDecimals,
		info.AssetLotSize, info.QuoteLotSize)
	if price <= 0 {
		return nil, fmt.Errorf("limit price rounds to zero for market %d", index)
	}

	return zo.PlacePerpOrder{
		Authority:        snap.Liquidator.Authority(),
		State:            snap.StateKey,
		StateSigner:      snap.StateSigner,
		Cache:            snap.CacheKey,
		Margin:           snap.Liquidator.Key,
		Control:          snap.Liquidator.ControlKey(),
		OpenOrders:       oo,
		Market:           zo.PerpMarketAccountsOf(dex),
		IsLong:           isLong,
		LimitPrice:       uint64(price),
		MaxBaseQuantity:  math.MaxInt64,
		MaxQuoteQuantity: math.MaxInt64,
		OrderType:        zo.OrderTypeReduceOnlyIoc,
		Limit:            closeOrderMatchLimit,
	}.Build(s.programs), nil
}

// PriceToLots 把“每单位资产的报价价格”换算为订单簿的手数价格：
// price × 10^quoteDecimals × assetLotSize / (10^assetDecimals × quoteLotSize)
func PriceToLots(price decimal.Decimal, quoteDecimals, assetDecimals uint8, assetLotSize, quoteLotSize uint64) int64 {
	return price.
		Shift(int32(quoteDecimals) - int32(assetDecimals)).
		Mul(decimal.NewFromUint64(assetLotSize)).
		Div(decimal.NewFromUint64(quoteLotSize)).
		Floor().
		IntPart()
}
