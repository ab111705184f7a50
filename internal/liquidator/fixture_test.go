package liquidator

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/liqprotocol/zo-keeper/internal/zo"
	"github.com/liqprotocol/zo-keeper/pkg/chain"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = 0x5A
	return k
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// 三个抵押品：USDC(0, 6 位)、SOL(1, 9 位)、SRM(2, 1 位)；两个永续市场
func newSnapshot() *Snapshot {
	st := &zo.State{TotalCollaterals: 3, TotalMarkets: 2, SwapFeeVault: key(90)}
	st.Collaterals[0] = zo.CollateralInfo{Mint: key(10), OracleSymbol: zo.NewSymbol("USDC"), Decimals: 6}
	st.Collaterals[1] = zo.CollateralInfo{Mint: key(11), OracleSymbol: zo.NewSymbol("SOL"), Decimals: 9, SerumOpenOrders: key(71)}
	st.Collaterals[2] = zo.CollateralInfo{Mint: key(12), OracleSymbol: zo.NewSymbol("SRM"), Decimals: 1, SerumOpenOrders: key(72)}
	st.Vaults[0], st.Vaults[1], st.Vaults[2] = key(80), key(81), key(82)
	st.PerpMarkets[0] = zo.PerpMarketInfo{Symbol: zo.NewSymbol("SOL-PERP"), AssetDecimals: 9, AssetLotSize: 100_000_000, QuoteLotSize: 100}
	st.PerpMarkets[1] = zo.PerpMarketInfo{Symbol: zo.NewSymbol("BTC-PERP"), AssetDecimals: 6, AssetLotSize: 100, QuoteLotSize: 10}

	cache := &zo.Cache{}
	cache.Oracles[0] = zo.OracleCache{Symbol: zo.NewSymbol("USDC"), Price: dec("1")}
	cache.Oracles[1] = zo.OracleCache{Symbol: zo.NewSymbol("SOL"), Price: dec("100")}
	cache.Oracles[2] = zo.OracleCache{Symbol: zo.NewSymbol("SRM"), Price: dec("10")}
	cache.Marks[0].Price = dec("100")
	cache.Marks[1].Price = dec("20000")

	dex := []*zo.DexMarket{
		{OwnAddress: key(40), ReqQ: key(41), EventQ: key(42), Bids: key(43), Asks: key(44), CoinLotSize: 10},
		{OwnAddress: key(50), ReqQ: key(51), EventQ: key(52), Bids: key(53), Asks: key(54), CoinLotSize: 1},
	}

	liqorMargin := &zo.Margin{Authority: key(2), Control: key(3)}
	liqorMargin.Collateral[0] = dec("32000000000") // 32000 USDC
	liqorControl := &zo.Control{Authority: key(2)}
	liqorControl.OpenOrdersAgg[0].Key = key(60)
	liqorControl.OpenOrdersAgg[1].Key = key(61)

	return &Snapshot{
		StateKey:    key(20),
		StateSigner: key(21),
		CacheKey:    key(22),
		State:       st,
		Cache:       cache,
		DexMarkets:  dex,
		SwapMarkets: map[int]SwapMarket{
			1: {Market: &zo.SerumMarket{OwnAddress: key(31)}, VaultSigner: key(32)},
			2: {Market: &zo.SerumMarket{OwnAddress: key(33)}, VaultSigner: key(34)},
		},
		Liquidator: Account{Key: key(1), Margin: liqorMargin, Control: liqorControl},
	}
}

// newTarget 构造被清算账户，collateral 按整数单位给出（会换算成最小单位）
func newTarget(snap *Snapshot, collateral map[int]string) *Account {
	m := &zo.Margin{Authority: key(100), Control: key(101)}
	for i, v := range collateral {
		m.Collateral[i] = dec(v).Shift(int32(snap.State.Collaterals[i].Decimals))
	}
	c := &zo.Control{Authority: key(100)}
	c.OpenOrdersAgg[0].Key = key(110)
	c.OpenOrdersAgg[1].Key = key(111)
	return &Account{Key: key(102), Margin: m, Control: c}
}

type fakeSender struct {
	mu       sync.Mutex
	calls    [][]solana.Instruction
	attempts []int
	results  []error
}

func (f *fakeSender) RetrySend(_ context.Context, build func() ([]solana.Instruction, error), maxAttempts int) (solana.Signature, error) {
	ixs, err := build()
	if err != nil {
		return solana.Signature{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ixs)
	f.attempts = append(f.attempts, maxAttempts)
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		if res != nil {
			return solana.Signature{}, res
		}
	}
	var sig solana.Signature
	sig[0] = byte(len(f.calls))
	return sig, nil
}

func (f *fakeSender) sent() [][]solana.Instruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]solana.Instruction(nil), f.calls...)
}

// maxAttempts 每次发送传入的重试上限
func (f *fakeSender) maxAttempts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.attempts...)
}

type fakeSwapper struct {
	mu       sync.Mutex
	closeErr error
	swapErrs map[int]error
	swapped  []int
	closes   []ClosePositionRequest
}

func (f *fakeSwapper) BuildClosePosition(_ context.Context, req ClosePositionRequest) (solana.Instruction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, req)
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return solana.NewInstruction(key(200), nil, []byte{0xC1}), nil
}

func (f *fakeSwapper) SwapAsset(_ context.Context, req SwapRequest) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swapped = append(f.swapped, req.CollateralIndex)
	if err := f.swapErrs[req.CollateralIndex]; err != nil {
		return solana.Signature{}, err
	}
	return solana.Signature{9}, nil
}

func overExposure() error {
	return &chain.ProgramError{Instruction: 1, Kind: "Custom", Code: zo.ErrCodeLiquidationOverExposure}
}

func rejected(code uint32) error {
	return &chain.ProgramError{Instruction: 1, Kind: "Custom", Code: code}
}

func ixData(ix solana.Instruction) []byte {
	data, _ := ix.Data()
	return data
}

func ixKey(ix solana.Instruction, i int) solana.PublicKey {
	return ix.Accounts()[i].PublicKey
}

func isInstruction(ix solana.Instruction, name string) bool {
	d := zo.InstructionDiscriminator(name)
	data := ixData(ix)
	return len(data) >= 8 && string(data[:8]) == string(d[:])
}

// argU64 读取 discriminator 之后的第一个 8 字节参数
func argU64(ix solana.Instruction) uint64 {
	return binary.LittleEndian.Uint64(ixData(ix)[8:16])
}
