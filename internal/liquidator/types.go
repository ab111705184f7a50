package liquidator

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/liqprotocol/zo-keeper/internal/zo"
)

// Account 一个保证金账户及其仓位汇总（只读）
type Account struct {
	// Key Margin 账户地址
	Key     solana.PublicKey
	Margin  *zo.Margin
	Control *zo.Control
}

// Authority 账户所有者
func (a *Account) Authority() solana.PublicKey {
	if a == nil || a.Margin == nil {
		return solana.PublicKey{}
	}
	return a.Margin.Authority
}

// ControlKey Control 账户地址
func (a *Account) ControlKey() solana.PublicKey {
	if a == nil || a.Margin == nil {
		return solana.PublicKey{}
	}
	return a.Margin.Control
}

// SwapMarket 某个抵押品下标注册的 Serum 现货市场
type SwapMarket struct {
	Market      *zo.SerumMarket
	VaultSigner solana.PublicKey
}

// Snapshot 一轮检查内共享的协议数据，决策过程中不修改
type Snapshot struct {
	StateKey    solana.PublicKey
	StateSigner solana.PublicKey
	CacheKey    solana.PublicKey
	State       *zo.State
	Cache       *zo.Cache
	// DexMarkets 按永续市场下标对齐
	DexMarkets []*zo.DexMarket
	// SwapMarkets 抵押品下标 -> Serum 市场（可缺省）
	SwapMarkets map[int]SwapMarket
	// Liquidator 清算人自己的账户
	Liquidator Account
}

// DexMarket 按下标取订单簿元数据
func (s *Snapshot) DexMarket(index int) (*zo.DexMarket, bool) {
	if index < 0 || index >= len(s.DexMarkets) || s.DexMarkets[index] == nil {
		return nil, false
	}
	return s.DexMarkets[index], true
}

// SwapMarketFor 某个抵押品下标的再平衡市场
func (s *Snapshot) SwapMarketFor(index int) (SwapMarket, bool) {
	m, ok := s.SwapMarkets[index]
	if !ok || m.Market == nil || m.VaultSigner.IsZero() {
		return SwapMarket{}, false
	}
	return m, true
}

// Sender 交易提交（按错误分类重试，程序拒绝直接返回）
type Sender interface {
	RetrySend(ctx context.Context, build func() ([]solana.Instruction, error), maxAttempts int) (solana.Signature, error)
}

// ClosePositionRequest 清算永续仓位后平掉接管仓位
type ClosePositionRequest struct {
	Snapshot    *Snapshot
	MarketIndex int
	// LiqeeWasLong 被清算人原本是多头，清算人接管后需要卖出
	LiqeeWasLong bool
}

// SwapRequest 把某个抵押品的余额兑换回报价资产
type SwapRequest struct {
	Snapshot        *Snapshot
	CollateralIndex int
}

// Swapper 再平衡协作者
type Swapper interface {
	BuildClosePosition(ctx context.Context, req ClosePositionRequest) (solana.Instruction, error)
	SwapAsset(ctx context.Context, req SwapRequest) (solana.Signature, error)
}

// AccountProvider 账户状态提供者（扫描循环使用）
type AccountProvider interface {
	CheckAllAccounts(ctx context.Context) (int, error)
	RefreshAccounts(ctx context.Context) error
}
