package zo

import (
	"bytes"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// 协议固定数组长度
const (
	MaxCollaterals = 25
	MaxMarkets     = 50
	MaxOracles     = 25
	// 每个预言机的数据源数量
	maxOracleSources = 3
)

// 各 zero-copy 结构尾部的保留字节
const (
	stateTailPadding      = 1280
	collateralInfoPadding = 384
	perpMarketInfoPadding = 320
	marginTailPadding     = 1024
	controlTailPadding    = 1024
	dexMarketTailPadding  = 1032
)

var (
	stateDiscriminator   = AccountDiscriminator("State")
	marginDiscriminator  = AccountDiscriminator("Margin")
	controlDiscriminator = AccountDiscriminator("Control")
	cacheDiscriminator   = AccountDiscriminator("Cache")
)

// MarginDiscriminator getProgramAccounts 过滤 Margin 账户用
func MarginDiscriminator() [8]byte { return marginDiscriminator }

// MarginSize Margin 账户数据长度
func MarginSize() int { return len((&Margin{}).Encode()) }

// Symbol 24 字节定长符号（右侧补零）
type Symbol [24]byte

// NewSymbol 从字符串构造
func NewSymbol(s string) Symbol {
	var sym Symbol
	copy(sym[:], s)
	return sym
}

func (s Symbol) String() string { return string(bytes.TrimRight(s[:], "\x00")) }

// IsEmpty 未使用的槽位
func (s Symbol) IsEmpty() bool { return s == Symbol{} }

// Margin 用户保证金账户
type Margin struct {
	Nonce      uint8
	Authority  solana.PublicKey
	State      solana.PublicKey
	Control    solana.PublicKey
	Collateral [MaxCollaterals]decimal.Decimal
}

func (m *Margin) layout(c *codec) {
	c.discriminator(marginDiscriminator)
	c.u8(&m.Nonce)
	c.pubkey(&m.Authority)
	c.pubkey(&m.State)
	c.pubkey(&m.Control)
	for i := range m.Collateral {
		c.fixed(&m.Collateral[i])
	}
	c.skip(marginTailPadding)
}

// OpenOrdersInfo 某个永续市场上的仓位与挂单汇总
type OpenOrdersInfo struct {
	Key           solana.PublicKey
	NativePcTotal int64
	PosSize       int64
	RealizedPnl   int64
	CoinOnBids    uint64
	CoinOnAsks    uint64
	OrderCount    uint16
	FundingIndex  *big.Int
}

// HasRestingOrders 是否有挂单
func (o *OpenOrdersInfo) HasRestingOrders() bool {
	return o.OrderCount > 0 || o.CoinOnBids > 0 || o.CoinOnAsks > 0
}

// Control 用户仓位汇总账户
type Control struct {
	Authority     solana.PublicKey
	OpenOrdersAgg [MaxMarkets]OpenOrdersInfo
}

func (ct *Control) layout(c *codec) {
	c.discriminator(controlDiscriminator)
	c.pubkey(&ct.Authority)
	for i := range ct.OpenOrdersAgg {
		o := &ct.OpenOrdersAgg[i]
		c.pubkey(&o.Key)
		c.i64(&o.NativePcTotal)
		c.i64(&o.PosSize)
		c.i64(&o.RealizedPnl)
		c.u64(&o.CoinOnBids)
		c.u64(&o.CoinOnAsks)
		c.u16(&o.OrderCount)
		c.i128(&o.FundingIndex)
	}
	c.skip(controlTailPadding)
}

// OracleSource 预言机数据源
type OracleSource struct {
	Type uint8
	Key  solana.PublicKey
}

// OracleCache 单个预言机价格
type OracleCache struct {
	Symbol        Symbol
	Sources       [maxOracleSources]OracleSource
	LastUpdated   uint64
	Price         decimal.Decimal
	Twap          decimal.Decimal
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// TwapInfo 标记价格 TWAP 采样
type TwapInfo struct {
	CumulAvg            decimal.Decimal
	Open                decimal.Decimal
	High                decimal.Decimal
	Low                 decimal.Decimal
	Close               decimal.Decimal
	LastSampleStartTime uint64
}

// MarkCache 永续市场标记价格
type MarkCache struct {
	Price decimal.Decimal
	Twap  TwapInfo
}

// BorrowCache 借贷乘数
type BorrowCache struct {
	Supply           decimal.Decimal
	Borrows          decimal.Decimal
	SupplyMultiplier decimal.Decimal
	BorrowMultiplier decimal.Decimal
	LastUpdated      uint64
}

// Cache 协议全局价格缓存（由外部 crank 刷新）
type Cache struct {
	Oracles      [MaxOracles]OracleCache
	Marks        [MaxMarkets]MarkCache
	FundingCache [MaxMarkets]*big.Int
	Borrows      [MaxCollaterals]BorrowCache
}

func (ca *Cache) layout(c *codec) {
	c.discriminator(cacheDiscriminator)
	for i := range ca.Oracles {
		o := &ca.Oracles[i]
		c.symbol(&o.Symbol)
		for j := range o.Sources {
			c.u8(&o.Sources[j].Type)
			c.pubkey(&o.Sources[j].Key)
		}
		c.u64(&o.LastUpdated)
		c.fixed(&o.Price)
		c.fixed(&o.Twap)
		c.u8(&o.BaseDecimals)
		c.u8(&o.QuoteDecimals)
	}
	for i := range ca.Marks {
		m := &ca.Marks[i]
		c.fixed(&m.Price)
		c.fixed(&m.Twap.CumulAvg)
		c.fixed(&m.Twap.Open)
		c.fixed(&m.Twap.High)
		c.fixed(&m.Twap.Low)
		c.fixed(&m.Twap.Close)
		c.u64(&m.Twap.LastSampleStartTime)
	}
	for i := range ca.FundingCache {
		c.i128(&ca.FundingCache[i])
	}
	for i := range ca.Borrows {
		b := &ca.Borrows[i]
		c.fixed(&b.Supply)
		c.fixed(&b.Borrows)
		c.fixed(&b.SupplyMultiplier)
		c.fixed(&b.BorrowMultiplier)
		c.u64(&b.LastUpdated)
	}
}

// Oracle 按符号查找预言机
func (ca *Cache) Oracle(sym Symbol) (*OracleCache, bool) {
	if sym.IsEmpty() {
		return nil, false
	}
	for i := range ca.Oracles {
		if ca.Oracles[i].Symbol == sym {
			return &ca.Oracles[i], true
		}
	}
	return nil, false
}

// CollateralInfo 抵押品配置
type CollateralInfo struct {
	Mint            solana.PublicKey
	OracleSymbol    Symbol
	Decimals        uint8
	Weight          uint16
	LiqFee          uint16
	IsBorrowable    bool
	OptimalUtil     uint16
	OptimalRate     uint16
	MaxRate         uint16
	OgFee           uint16
	IsSwappable     bool
	SerumOpenOrders solana.PublicKey
	MaxDeposit      uint64
	DustThreshold   uint16
}

// PerpMarketInfo 永续市场配置
type PerpMarketInfo struct {
	Symbol        Symbol
	OracleSymbol  Symbol
	PerpType      uint8
	AssetDecimals uint8
	AssetLotSize  uint64
	QuoteLotSize  uint64
	Strike        uint64
	BaseImf       uint16
	LiqFee        uint16
	DexMarket     solana.PublicKey
}

// State 协议全局配置
type State struct {
	SignerNonce      uint8
	Admin            solana.PublicKey
	Cache            solana.PublicKey
	SwapFeeVault     solana.PublicKey
	Insurance        uint64
	FeesAccrued      [MaxCollaterals]uint64
	Vaults           [MaxCollaterals]solana.PublicKey
	Collaterals      [MaxCollaterals]CollateralInfo
	PerpMarkets      [MaxMarkets]PerpMarketInfo
	TotalCollaterals uint16
	TotalMarkets     uint16
}

func (s *State) layout(c *codec) {
	c.discriminator(stateDiscriminator)
	c.u8(&s.SignerNonce)
	c.pubkey(&s.Admin)
	c.pubkey(&s.Cache)
	c.pubkey(&s.SwapFeeVault)
	c.u64(&s.Insurance)
	for i := range s.FeesAccrued {
		c.u64(&s.FeesAccrued[i])
	}
	for i := range s.Vaults {
		c.pubkey(&s.Vaults[i])
	}
	for i := range s.Collaterals {
		ci := &s.Collaterals[i]
		c.pubkey(&ci.Mint)
		c.symbol(&ci.OracleSymbol)
		c.u8(&ci.Decimals)
		c.u16(&ci.Weight)
		c.u16(&ci.LiqFee)
		c.boolean(&ci.IsBorrowable)
		c.u16(&ci.OptimalUtil)
		c.u16(&ci.OptimalRate)
		c.u16(&ci.MaxRate)
		c.u16(&ci.OgFee)
		c.boolean(&ci.IsSwappable)
		c.pubkey(&ci.SerumOpenOrders)
		c.u64(&ci.MaxDeposit)
		c.u16(&ci.DustThreshold)
		c.skip(collateralInfoPadding)
	}
	for i := range s.PerpMarkets {
		pm := &s.PerpMarkets[i]
		c.symbol(&pm.Symbol)
		c.symbol(&pm.OracleSymbol)
		c.u8(&pm.PerpType)
		c.u8(&pm.AssetDecimals)
		c.u64(&pm.AssetLotSize)
		c.u64(&pm.QuoteLotSize)
		c.u64(&pm.Strike)
		c.u16(&pm.BaseImf)
		c.u16(&pm.LiqFee)
		c.pubkey(&pm.DexMarket)
		c.skip(perpMarketInfoPadding)
	}
	c.u16(&s.TotalCollaterals)
	c.u16(&s.TotalMarkets)
	c.skip(stateTailPadding)
}

// ActiveCollaterals 已启用的抵押品数量（不超过数组长度）
func (s *State) ActiveCollaterals() int {
	return clampCount(int(s.TotalCollaterals), MaxCollaterals)
}

// ActiveMarkets 已启用的永续市场数量
func (s *State) ActiveMarkets() int {
	return clampCount(int(s.TotalMarkets), MaxMarkets)
}

func clampCount(n, max int) int {
	if n > max {
		return max
	}
	return n
}

// StateSigner 协议签名 PDA：seeds = [state, [signer_nonce]]
func StateSigner(stateKey solana.PublicKey, nonce uint8, programID solana.PublicKey) (solana.PublicKey, error) {
	return solana.CreateProgramAddress([][]byte{stateKey.Bytes(), {nonce}}, programID)
}

// DexMarket zo dex 永续订单簿元数据
type DexMarket struct {
	AccountFlags        uint64
	OwnAddress          solana.PublicKey
	PcFeesAccrued       uint64
	ReqQ                solana.PublicKey
	EventQ              solana.PublicKey
	Bids                solana.PublicKey
	Asks                solana.PublicKey
	CoinLotSize         uint64
	PcLotSize           uint64
	FeeRateBps          uint64
	ReferrerRebates     uint64
	FundingIndex        *big.Int
	LastUpdated         uint64
	Strike              uint64
	PerpType            uint64
	CoinDecimals        uint64
	OpenInterest        uint64
	OpenOrdersAuthority solana.PublicKey
	PruneAuthority      solana.PublicKey
}

func (d *DexMarket) layout(c *codec) {
	c.skip(5)
	c.u64(&d.AccountFlags)
	c.pubkey(&d.OwnAddress)
	c.u64(&d.PcFeesAccrued)
	c.pubkey(&d.ReqQ)
	c.pubkey(&d.EventQ)
	c.pubkey(&d.Bids)
	c.pubkey(&d.Asks)
	c.u64(&d.CoinLotSize)
	c.u64(&d.PcLotSize)
	c.u64(&d.FeeRateBps)
	c.u64(&d.ReferrerRebates)
	c.i128(&d.FundingIndex)
	c.u64(&d.LastUpdated)
	c.u64(&d.Strike)
	c.u64(&d.PerpType)
	c.u64(&d.CoinDecimals)
	c.u64(&d.OpenInterest)
	c.pubkey(&d.OpenOrdersAuthority)
	c.pubkey(&d.PruneAuthority)
	c.skip(dexMarketTailPadding)
	c.skip(7)
}

// SerumMarket Serum v3 现货市场（用于再平衡）
type SerumMarket struct {
	AccountFlags      uint64
	OwnAddress        solana.PublicKey
	VaultSignerNonce  uint64
	CoinMint          solana.PublicKey
	PcMint            solana.PublicKey
	CoinVault         solana.PublicKey
	CoinDepositsTotal uint64
	CoinFeesAccrued   uint64
	PcVault           solana.PublicKey
	PcDepositsTotal   uint64
	PcFeesAccrued     uint64
	PcDustThreshold   uint64
	ReqQ              solana.PublicKey
	EventQ            solana.PublicKey
	Bids              solana.PublicKey
	Asks              solana.PublicKey
	CoinLotSize       uint64
	PcLotSize         uint64
	FeeRateBps        uint64
	ReferrerRebates   uint64
}

func (m *SerumMarket) layout(c *codec) {
	c.head("serum")
	c.u64(&m.AccountFlags)
	c.pubkey(&m.OwnAddress)
	c.u64(&m.VaultSignerNonce)
	c.pubkey(&m.CoinMint)
	c.pubkey(&m.PcMint)
	c.pubkey(&m.CoinVault)
	c.u64(&m.CoinDepositsTotal)
	c.u64(&m.CoinFeesAccrued)
	c.pubkey(&m.PcVault)
	c.u64(&m.PcDepositsTotal)
	c.u64(&m.PcFeesAccrued)
	c.u64(&m.PcDustThreshold)
	c.pubkey(&m.ReqQ)
	c.pubkey(&m.EventQ)
	c.pubkey(&m.Bids)
	c.pubkey(&m.Asks)
	c.u64(&m.CoinLotSize)
	c.u64(&m.PcLotSize)
	c.u64(&m.FeeRateBps)
	c.u64(&m.ReferrerRebates)
	c.head("padding")
}

// VaultSigner Serum 市场金库签名 PDA：seeds = [market, nonce u64 LE]
func (m *SerumMarket) VaultSigner(serumProgram solana.PublicKey) (solana.PublicKey, error) {
	nonce := make([]byte, 8)
	for i := 0; i < 8; i++ {
		nonce[i] = byte(m.VaultSignerNonce >> (8 * i))
	}
	return solana.CreateProgramAddress([][]byte{m.OwnAddress.Bytes(), nonce}, serumProgram)
}

type layouter interface{ layout(c *codec) }

func decodeAs[T any, P interface {
	*T
	layouter
}](data []byte) (*T, error) {
	v := P(new(T))
	c := newDecoder(data)
	v.layout(c)
	if c.err != nil {
		return nil, c.err
	}
	return (*T)(v), nil
}

func encode(v layouter) []byte {
	c := newEncoder()
	v.layout(c)
	return c.out.Bytes()
}

// DecodeMargin 解码 Margin 账户
func DecodeMargin(data []byte) (*Margin, error) { return decodeAs[Margin](data) }

// DecodeControl 解码 Control 账户
func DecodeControl(data []byte) (*Control, error) { return decodeAs[Control](data) }

// DecodeCache 解码 Cache 账户
func DecodeCache(data []byte) (*Cache, error) { return decodeAs[Cache](data) }

// DecodeState 解码 State 账户
func DecodeState(data []byte) (*State, error) { return decodeAs[State](data) }

// DecodeDexMarket 解码 zo dex 市场
func DecodeDexMarket(data []byte) (*DexMarket, error) { return decodeAs[DexMarket](data) }

// DecodeSerumMarket 解码 Serum 市场
func DecodeSerumMarket(data []byte) (*SerumMarket, error) { return decodeAs[SerumMarket](data) }

// Encode 按链上布局编码（测试与离线工具使用）
func (m *Margin) Encode() []byte      { return encode(m) }
func (ct *Control) Encode() []byte    { return encode(ct) }
func (ca *Cache) Encode() []byte      { return encode(ca) }
func (s *State) Encode() []byte       { return encode(s) }
func (d *DexMarket) Encode() []byte   { return encode(d) }
func (m *SerumMarket) Encode() []byte { return encode(m) }
