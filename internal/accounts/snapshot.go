package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/liqprotocol/zo-keeper/internal/liquidator"
	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// loadSnapshot 拉取本轮共享的协议数据：State、Cache、清算人账户与市场元数据
func (p *Provider) loadSnapshot(ctx context.Context) (*liquidator.Snapshot, error) {
	p.mu.RLock()
	liqor := p.liqor
	p.mu.RUnlock()
	if liqor == nil {
		return nil, ErrLiquidatorMarginNotFound
	}

	// State 里记录了 Cache 地址，需要先取 State
	infos, err := p.rpc.GetMultipleAccounts(ctx, []solana.PublicKey{p.cfg.StateKey, liqor.Margin, liqor.Control})
	if err != nil {
		return nil, fmt.Errorf("get state: %w", err)
	}
	if len(infos) != 3 || infos[0] == nil {
		return nil, fmt.Errorf("state account %s not found", p.cfg.StateKey)
	}
	if infos[1] == nil || infos[2] == nil {
		return nil, fmt.Errorf("%w: %s", ErrLiquidatorMarginNotFound, liqor.Margin)
	}
	state, err := zo.DecodeState(infos[0].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	liqorMargin, err := zo.DecodeMargin(infos[1].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode liquidator margin: %w", err)
	}
	liqorControl, err := zo.DecodeControl(infos[2].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode liquidator control: %w", err)
	}

	cacheInfos, err := p.rpc.GetMultipleAccounts(ctx, []solana.PublicKey{state.Cache})
	if err != nil {
		return nil, fmt.Errorf("get cache: %w", err)
	}
	if len(cacheInfos) != 1 || cacheInfos[0] == nil {
		return nil, fmt.Errorf("cache account %s not found", state.Cache)
	}
	zoCache, err := zo.DecodeCache(cacheInfos[0].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}

	signer, err := zo.StateSigner(p.cfg.StateKey, state.SignerNonce, p.cfg.Programs.Zo)
	if err != nil {
		return nil, fmt.Errorf("derive state signer: %w", err)
	}

	dex, err := p.loadDexMarkets(ctx, state)
	if err != nil {
		return nil, err
	}
	swaps, err := p.loadSwapMarkets(ctx, state)
	if err != nil {
		return nil, err
	}

	return &liquidator.Snapshot{
		StateKey:    p.cfg.StateKey,
		StateSigner: signer,
		CacheKey:    state.Cache,
		State:       state,
		Cache:       zoCache,
		DexMarkets:  dex,
		SwapMarkets: swaps,
		Liquidator:  liquidator.Account{Key: liqor.Margin, Margin: liqorMargin, Control: liqorControl},
	}, nil
}

// loadDexMarkets 按永续市场下标对齐；未注册或已下线的市场留空。
// 每轮重新读取，资金费率指数等字段随时在变。
func (p *Provider) loadDexMarkets(ctx context.Context, state *zo.State) ([]*zo.DexMarket, error) {
	n := state.ActiveMarkets()
	out := make([]*zo.DexMarket, n)

	var keys []solana.PublicKey
	var idx []int
	for i := 0; i < n; i++ {
		key := state.PerpMarkets[i].DexMarket
		if key.IsZero() {
			continue
		}
		keys = append(keys, key)
		idx = append(idx, i)
	}
	if len(keys) == 0 {
		return out, nil
	}

	infos, err := p.rpc.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get dex markets: %w", err)
	}
	for j, info := range infos {
		if j >= len(keys) || info == nil {
			continue
		}
		m, err := zo.DecodeDexMarket(info.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("decode dex market %s: %w", keys[j], err)
		}
		out[idx[j]] = m
	}
	return out, nil
}

// loadSwapMarkets 配置中注册的 Serum 市场及其 vault signer；市场布局基本不变，走缓存
func (p *Provider) loadSwapMarkets(ctx context.Context, state *zo.State) (map[int]liquidator.SwapMarket, error) {
	out := make(map[int]liquidator.SwapMarket, len(p.cfg.SwapMarkets))
	for idx, key := range p.cfg.SwapMarkets {
		if idx < 0 || idx >= state.ActiveCollaterals() {
			continue
		}
		sm, err := p.serumMarkets.GetOrLoad(key, func(k solana.PublicKey) (liquidator.SwapMarket, error) {
			return p.fetchSwapMarket(ctx, k)
		})
		if errors.Is(err, errAccountMissing) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[idx] = sm
	}
	return out, nil
}

// errAccountMissing 链上查不到该账户（缓存加载器用它跳过而不是失败）
var errAccountMissing = errors.New("account missing")

func (p *Provider) fetchSwapMarket(ctx context.Context, key solana.PublicKey) (liquidator.SwapMarket, error) {
	infos, err := p.rpc.GetMultipleAccounts(ctx, []solana.PublicKey{key})
	if err != nil {
		return liquidator.SwapMarket{}, fmt.Errorf("get serum market %s: %w", key, err)
	}
	if len(infos) != 1 || infos[0] == nil {
		return liquidator.SwapMarket{}, errAccountMissing
	}
	market, err := zo.DecodeSerumMarket(infos[0].Data.GetBinary())
	if err != nil {
		return liquidator.SwapMarket{}, fmt.Errorf("decode serum market %s: %w", key, err)
	}
	signer, err := market.VaultSigner(p.cfg.Programs.Serum)
	if err != nil {
		return liquidator.SwapMarket{}, fmt.Errorf("derive vault signer for %s: %w", key, err)
	}
	return liquidator.SwapMarket{Market: market, VaultSigner: signer}, nil
}

// liquidatorAccount 重新读取清算人的 margin 与 control
func (p *Provider) liquidatorAccount(ctx context.Context) (*liquidator.Account, error) {
	p.mu.RLock()
	liqor := p.liqor
	p.mu.RUnlock()
	if liqor == nil {
		return nil, ErrLiquidatorMarginNotFound
	}
	infos, err := p.rpc.GetMultipleAccounts(ctx, []solana.PublicKey{liqor.Margin, liqor.Control})
	if err != nil {
		return nil, err
	}
	if len(infos) != 2 || infos[0] == nil || infos[1] == nil {
		return nil, fmt.Errorf("%w: %s", ErrLiquidatorMarginNotFound, liqor.Margin)
	}
	m, err := zo.DecodeMargin(infos[0].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode liquidator margin: %w", err)
	}
	c, err := zo.DecodeControl(infos[1].Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("decode liquidator control: %w", err)
	}
	return &liquidator.Account{Key: liqor.Margin, Margin: m, Control: c}, nil
}

// LiquidatorMargin 读取清算人最新的保证金账户（供兑换使用）
func (p *Provider) LiquidatorMargin(ctx context.Context) (*zo.Margin, error) {
	acc, err := p.liquidatorAccount(ctx)
	if err != nil {
		return nil, err
	}
	return acc.Margin, nil
}
