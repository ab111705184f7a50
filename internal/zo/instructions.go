package zo

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// 主网程序地址（可通过配置覆盖）
var (
	DefaultProgramID      = solana.MustPublicKeyFromBase58("Zo1ggzTUKMY5bYnDvT5mtVeZxzf2FaLTbKkmvGUhUQk")
	DefaultDexProgramID   = solana.MustPublicKeyFromBase58("ZDx8a8jBqGmJyxi1whFxxCo5vG6Q9t4hTzW2GSixMKK")
	DefaultSerumProgramID = solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
)

// ForceCancelLimit 单次强制撤单的最大订单数
const ForceCancelLimit uint16 = 32

// OrderType place_perp_order 订单类型
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeImmediateOrCancel
	OrderTypePostOnly
	OrderTypeReduceOnlyIoc
	OrderTypeReduceOnlyLimit
	OrderTypeFillOrKill
)

// PerpMarketAccounts 某个永续市场在 zo dex 上的订单簿账户
type PerpMarketAccounts struct {
	DexMarket solana.PublicKey
	ReqQ      solana.PublicKey
	EventQ    solana.PublicKey
	Bids      solana.PublicKey
	Asks      solana.PublicKey
}

// PerpMarketAccountsOf 从 dex 市场元数据取订单簿账户
func PerpMarketAccountsOf(m *DexMarket) PerpMarketAccounts {
	return PerpMarketAccounts{
		DexMarket: m.OwnAddress,
		ReqQ:      m.ReqQ,
		EventQ:    m.EventQ,
		Bids:      m.Bids,
		Asks:      m.Asks,
	}
}

func (m PerpMarketAccounts) metas() solana.AccountMetaSlice {
	return solana.AccountMetaSlice{
		solana.Meta(m.DexMarket).WRITE(),
		solana.Meta(m.ReqQ).WRITE(),
		solana.Meta(m.EventQ).WRITE(),
		solana.Meta(m.Bids).WRITE(),
		solana.Meta(m.Asks).WRITE(),
	}
}

// Programs 指令中引用的程序地址
type Programs struct {
	Zo    solana.PublicKey
	Dex   solana.PublicKey
	Serum solana.PublicKey
}

// DefaultPrograms 主网地址
func DefaultPrograms() Programs {
	return Programs{Zo: DefaultProgramID, Dex: DefaultDexProgramID, Serum: DefaultSerumProgramID}
}

// ForceCancelAllPerpOrders 强制撤销被清算账户在某市场的所有挂单
type ForceCancelAllPerpOrders struct {
	Pruner       solana.PublicKey
	State        solana.PublicKey
	Cache        solana.PublicKey
	StateSigner  solana.PublicKey
	LiqeeMargin  solana.PublicKey
	LiqeeControl solana.PublicKey
	LiqeeOO      solana.PublicKey
	Market       PerpMarketAccounts
	Limit        uint16
}

func (a ForceCancelAllPerpOrders) Build(p Programs) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.Pruner).SIGNER(),
		solana.Meta(a.State),
		solana.Meta(a.Cache).WRITE(),
		solana.Meta(a.StateSigner),
		solana.Meta(a.LiqeeMargin).WRITE(),
		solana.Meta(a.LiqeeControl).WRITE(),
		solana.Meta(a.LiqeeOO).WRITE(),
	}
	accounts = append(accounts, a.Market.metas()...)
	accounts = append(accounts, solana.Meta(p.Dex))

	data := newArgs("force_cancel_all_perp_orders").u16(a.Limit)
	return solana.NewInstruction(p.Zo, accounts, data.bytes())
}

// LiquidatePerpPosition 接管被清算账户的永续仓位
type LiquidatePerpPosition struct {
	State        solana.PublicKey
	Cache        solana.PublicKey
	StateSigner  solana.PublicKey
	Liqor        solana.PublicKey
	LiqorMargin  solana.PublicKey
	LiqorControl solana.PublicKey
	LiqorOO      solana.PublicKey
	Liqee        solana.PublicKey
	LiqeeMargin  solana.PublicKey
	LiqeeControl solana.PublicKey
	LiqeeOO      solana.PublicKey
	Market       PerpMarketAccounts
	// AssetTransferLots 转移的合约手数
	AssetTransferLots uint64
}

func (a LiquidatePerpPosition) Build(p Programs) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.State),
		solana.Meta(a.Cache).WRITE(),
		solana.Meta(a.StateSigner),
		solana.Meta(a.Liqor).SIGNER(),
		solana.Meta(a.LiqorMargin).WRITE(),
		solana.Meta(a.LiqorControl).WRITE(),
		solana.Meta(a.LiqorOO).WRITE(),
		solana.Meta(a.Liqee),
		solana.Meta(a.LiqeeMargin).WRITE(),
		solana.Meta(a.LiqeeControl).WRITE(),
		solana.Meta(a.LiqeeOO).WRITE(),
	}
	accounts = append(accounts, a.Market.metas()...)
	accounts = append(accounts, solana.Meta(p.Dex))

	data := newArgs("liquidate_perp_position").u64(a.AssetTransferLots)
	return solana.NewInstruction(p.Zo, accounts, data.bytes())
}

// LiquidateSpotPosition 接管被清算账户的现货负债
type LiquidateSpotPosition struct {
	State        solana.PublicKey
	Cache        solana.PublicKey
	Liqor        solana.PublicKey
	LiqorMargin  solana.PublicKey
	LiqorControl solana.PublicKey
	LiqeeMargin  solana.PublicKey
	LiqeeControl solana.PublicKey
	AssetMint    solana.PublicKey
	QuoteMint    solana.PublicKey
	// AssetTransferAmount 转移的资产数量（最小单位）
	AssetTransferAmount int64
}

func (a LiquidateSpotPosition) Build(p Programs) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.State),
		solana.Meta(a.Cache).WRITE(),
		solana.Meta(a.Liqor).SIGNER(),
		solana.Meta(a.LiqorMargin).WRITE(),
		solana.Meta(a.LiqorControl).WRITE(),
		solana.Meta(a.LiqeeMargin).WRITE(),
		solana.Meta(a.LiqeeControl).WRITE(),
		solana.Meta(a.AssetMint),
		solana.Meta(a.QuoteMint),
	}
	data := newArgs("liquidate_spot_position").i64(a.AssetTransferAmount)
	return solana.NewInstruction(p.Zo, accounts, data.bytes())
}

// SettleBankruptcy 结算某个资产上的破产负债
type SettleBankruptcy struct {
	State        solana.PublicKey
	StateSigner  solana.PublicKey
	Cache        solana.PublicKey
	Liqor        solana.PublicKey
	LiqorMargin  solana.PublicKey
	LiqorControl solana.PublicKey
	LiqeeMargin  solana.PublicKey
	LiqeeControl solana.PublicKey
	AssetMint    solana.PublicKey
}

func (a SettleBankruptcy) Build(p Programs) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.State).WRITE(),
		solana.Meta(a.StateSigner),
		solana.Meta(a.Cache).WRITE(),
		solana.Meta(a.Liqor).SIGNER(),
		solana.Meta(a.LiqorMargin).WRITE(),
		solana.Meta(a.LiqorControl).WRITE(),
		solana.Meta(a.LiqeeMargin).WRITE(),
		solana.Meta(a.LiqeeControl).WRITE(),
		solana.Meta(a.AssetMint),
	}
	data := newArgs("settle_bankruptcy")
	return solana.NewInstruction(p.Zo, accounts, data.bytes())
}

// Swap 通过 Serum 现货市场在保证金账户内兑换资产
type Swap struct {
	Authority        solana.PublicKey
	State            solana.PublicKey
	StateSigner      solana.PublicKey
	Cache            solana.PublicKey
	Margin           solana.PublicKey
	Control          solana.PublicKey
	QuoteMint        solana.PublicKey
	QuoteVault       solana.PublicKey
	AssetMint        solana.PublicKey
	AssetVault       solana.PublicKey
	SwapFeeVault     solana.PublicKey
	SerumOpenOrders  solana.PublicKey
	SerumMarket      *SerumMarket
	SerumVaultSigner solana.PublicKey

	Buy         bool
	AllowBorrow bool
	Amount      uint64
	MinRate     uint64
}

func (a Swap) Build(p Programs) *solana.GenericInstruction {
	m := a.SerumMarket
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.Authority).SIGNER(),
		solana.Meta(a.State).WRITE(),
		solana.Meta(a.StateSigner),
		solana.Meta(a.Cache).WRITE(),
		solana.Meta(a.Margin).WRITE(),
		solana.Meta(a.Control).WRITE(),
		solana.Meta(a.QuoteMint),
		solana.Meta(a.QuoteVault).WRITE(),
		solana.Meta(a.AssetMint),
		solana.Meta(a.AssetVault).WRITE(),
		solana.Meta(a.SwapFeeVault).WRITE(),
		solana.Meta(a.SerumOpenOrders).WRITE(),
		solana.Meta(m.OwnAddress).WRITE(),
		solana.Meta(m.ReqQ).WRITE(),
		solana.Meta(m.EventQ).WRITE(),
		solana.Meta(m.Bids).WRITE(),
		solana.Meta(m.Asks).WRITE(),
		solana.Meta(m.CoinVault).WRITE(),
		solana.Meta(m.PcVault).WRITE(),
		solana.Meta(a.SerumVaultSigner),
		solana.Meta(p.Serum),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SysVarRentPubkey),
	}
	data := newArgs("swap").boolean(a.Buy).boolean(a.AllowBorrow).u64(a.Amount).u64(a.MinRate)
	return solana.NewInstruction(p.Zo, accounts, data.bytes())
}

// PlacePerpOrder 下永续订单（清算后平掉接管的仓位）
type PlacePerpOrder struct {
	Authority   solana.PublicKey
	State       solana.PublicKey
	StateSigner solana.PublicKey
	Cache       solana.PublicKey
	Margin      solana.PublicKey
	Control     solana.PublicKey
	OpenOrders  solana.PublicKey
	Market      PerpMarketAccounts

	IsLong           bool
	LimitPrice       uint64
	MaxBaseQuantity  uint64
	MaxQuoteQuantity uint64
	OrderType        OrderType
	Limit            uint16
	ClientID         uint64
}

func (a PlacePerpOrder) Build(p Programs) *solana.GenericInstruction {
	accounts := solana.AccountMetaSlice{
		solana.Meta(a.Authority).SIGNER(),
		solana.Meta(a.State),
		solana.Meta(a.StateSigner),
		solana.Meta(a.Cache).WRITE(),
		solana.Meta(a.Margin).WRITE(),
		solana.Meta(a.Control).WRITE(),
		solana.Meta(a.OpenOrders).WRITE(),
	}
	accounts = append(accounts, a.Market.metas()...)
	accounts = append(accounts, solana.Meta(p.Dex), solana.Meta(solana.SysVarRentPubkey))

	data := newArgs("place_perp_order").
		boolean(a.IsLong).
		u64(a.LimitPrice).
		u64(a.MaxBaseQuantity).
		u64(a.MaxQuoteQuantity).
		u8(uint8(a.OrderType)).
		u16(a.Limit).
		u64(a.ClientID)
	return solana.NewInstruction(p.Zo, accounts, data.bytes())
}

// args anchor 指令参数（8 字节 discriminator + 小端参数）。
// 写入内存 buffer 不会失败，编码错误直接忽略。
type args struct {
	buf bytes.Buffer
	enc *bin.Encoder
}

func newArgs(name string) *args {
	a := &args{}
	a.enc = bin.NewBinEncoder(&a.buf)
	d := InstructionDiscriminator(name)
	_ = a.enc.WriteBytes(d[:], false)
	return a
}

func (a *args) u8(v uint8) *args {
	_ = a.enc.WriteUint8(v)
	return a
}

func (a *args) boolean(v bool) *args {
	_ = a.enc.WriteBool(v)
	return a
}

func (a *args) u16(v uint16) *args {
	_ = a.enc.WriteUint16(v, bin.LE)
	return a
}

func (a *args) u64(v uint64) *args {
	_ = a.enc.WriteUint64(v, bin.LE)
	return a
}

func (a *args) i64(v int64) *args {
	_ = a.enc.WriteInt64(v, bin.LE)
	return a
}

func (a *args) bytes() []byte { return a.buf.Bytes() }
