package accounts

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqprotocol/zo-keeper/internal/liquidator"
	"github.com/liqprotocol/zo-keeper/internal/zo"
)

var (
	stateKey = key(1)
	cacheKey = key(2)
	dexKey   = key(3)
	serumKey = key(4)
	payer    = key(5)
)

type fakeRPC struct {
	mu         sync.Mutex
	accounts   map[solana.PublicKey][]byte
	multiCalls [][]solana.PublicKey
	err        error
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{accounts: map[solana.PublicKey][]byte{}}
}

func (f *fakeRPC) put(k solana.PublicKey, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[k] = data
}

func (f *fakeRPC) GetMultipleAccounts(_ context.Context, keys []solana.PublicKey) ([]*rpc.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.multiCalls = append(f.multiCalls, append([]solana.PublicKey(nil), keys...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*rpc.Account, len(keys))
	for i, k := range keys {
		if data, ok := f.accounts[k]; ok {
			out[i] = &rpc.Account{Owner: zo.DefaultProgramID, Data: rpc.DataBytesOrJSONFromBytes(data)}
		}
	}
	return out, nil
}

func (f *fakeRPC) GetProgramAccounts(_ context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out rpc.GetProgramAccountsResult
	for k, data := range f.accounts {
		if matches(data, filters) {
			out = append(out, &rpc.KeyedAccount{
				Pubkey:  k,
				Account: &rpc.Account{Owner: program, Data: rpc.DataBytesOrJSONFromBytes(data)},
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Pubkey[:], out[j].Pubkey[:]) < 0 })
	return out, nil
}

func matches(data []byte, filters []rpc.RPCFilter) bool {
	for _, f := range filters {
		if f.DataSize != 0 && uint64(len(data)) != f.DataSize {
			return false
		}
		if m := f.Memcmp; m != nil {
			end := int(m.Offset) + len(m.Bytes)
			if end > len(data) || !bytes.Equal(data[m.Offset:end], []byte(m.Bytes)) {
				return false
			}
		}
	}
	return true
}

func (f *fakeRPC) callsFor(k solana.PublicKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.multiCalls {
		for _, c := range call {
			if c == k {
				n++
			}
		}
	}
	return n
}

type fakeEngine struct {
	mu      sync.Mutex
	targets []solana.PublicKey
	snaps   []*liquidator.Snapshot
	err     error
	// onLiquidate 模拟清算在链上产生的副作用
	onLiquidate func()
}

func (f *fakeEngine) Liquidate(_ context.Context, snap *liquidator.Snapshot, target *liquidator.Account) (liquidator.Branch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target.Key)
	f.snaps = append(f.snaps, snap)
	if f.onLiquidate != nil {
		f.onLiquidate()
	}
	return liquidator.BranchSpot, f.err
}

// signerNonce 链上 State 记录的是 FindProgramAddress 找到的 bump
func signerNonce(t *testing.T) uint8 {
	t.Helper()
	_, bump, err := solana.FindProgramAddress([][]byte{stateKey.Bytes()}, zo.DefaultProgramID)
	require.NoError(t, err)
	return bump
}

// vaultNonce 找一个能导出合法 vault signer 的 nonce
func vaultNonce(t *testing.T, market solana.PublicKey) uint64 {
	t.Helper()
	for n := uint64(0); n < 256; n++ {
		m := &zo.SerumMarket{OwnAddress: market, VaultSignerNonce: n}
		if _, err := m.VaultSigner(zo.DefaultSerumProgramID); err == nil {
			return n
		}
	}
	t.Fatal("no valid vault signer nonce")
	return 0
}

func testState(t *testing.T) *zo.State {
	st := &zo.State{SignerNonce: signerNonce(t), Cache: cacheKey, TotalCollaterals: 2, TotalMarkets: 1}
	st.Collaterals[0] = zo.CollateralInfo{Mint: key(20), OracleSymbol: zo.NewSymbol("USDC"), Decimals: 6, Weight: 1000}
	st.Collaterals[1] = zo.CollateralInfo{Mint: key(21), OracleSymbol: zo.NewSymbol("SOL"), Decimals: 9, Weight: 900}
	st.PerpMarkets[0] = zo.PerpMarketInfo{Symbol: zo.NewSymbol("SOL-PERP"), BaseImf: 100, DexMarket: dexKey}
	return st
}

func testCache() *zo.Cache {
	c := &zo.Cache{}
	c.Oracles[0] = zo.OracleCache{Symbol: zo.NewSymbol("USDC"), Price: decimal.NewFromInt(1)}
	c.Oracles[1] = zo.OracleCache{Symbol: zo.NewSymbol("SOL"), Price: decimal.NewFromInt(100)}
	c.Marks[0].Price = decimal.NewFromInt(100)
	return c
}

// addMargin 写入一对 margin/control 账户；usdc 为整数单位
func addMargin(rpc *fakeRPC, marginKey, authority, control solana.PublicKey, state solana.PublicKey, usdc int64) {
	m := &zo.Margin{Authority: authority, State: state, Control: control}
	m.Collateral[0] = decimal.NewFromInt(usdc).Shift(6)
	rpc.put(marginKey, m.Encode())
	rpc.put(control, (&zo.Control{Authority: authority}).Encode())
}

func newTestProvider(t *testing.T, rpc *fakeRPC, engine Liquidator, cfg Config) *Provider {
	t.Helper()
	rpc.put(stateKey, testState(t).Encode())
	rpc.put(cacheKey, testCache().Encode())
	rpc.put(dexKey, (&zo.DexMarket{OwnAddress: dexKey, CoinLotSize: 10}).Encode())
	rpc.put(serumKey, (&zo.SerumMarket{OwnAddress: serumKey, VaultSignerNonce: vaultNonce(t, serumKey)}).Encode())

	cfg.StateKey = stateKey
	cfg.Payer = payer
	cfg.Programs = zo.DefaultPrograms()
	return NewProvider(cfg, rpc, openTestStore(t), engine)
}

func TestRefreshAccounts(t *testing.T) {
	rpc := newFakeRPC()
	p := newTestProvider(t, rpc, &fakeEngine{}, Config{})
	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	addMargin(rpc, key(51), key(101), key(151), stateKey, 10)
	// 其他 State 下的账户不跟踪
	addMargin(rpc, key(52), key(102), key(152), key(9), 10)

	require.NoError(t, p.RefreshAccounts(context.Background()))
	rows, err := p.store.Shard(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	require.NotNil(t, p.liqor)
	assert.Equal(t, key(50), p.liqor.Margin)
}

func TestRefreshAccountsRequiresLiquidatorMargin(t *testing.T) {
	rpc := newFakeRPC()
	p := newTestProvider(t, rpc, &fakeEngine{}, Config{})
	addMargin(rpc, key(51), key(101), key(151), stateKey, 10)

	err := p.RefreshAccounts(context.Background())
	assert.ErrorIs(t, err, ErrLiquidatorMarginNotFound)
}

func TestCheckAllAccountsLiquidatesCandidatesOnly(t *testing.T) {
	rpc := newFakeRPC()
	engine := &fakeEngine{}
	p := newTestProvider(t, rpc, engine, Config{
		BatchSize:   1,
		SwapMarkets: map[int]solana.PublicKey{1: serumKey, 7: key(99)},
	})
	addMargin(rpc, key(50), payer, key(150), stateKey, -1000) // 清算人自己即使资不抵债也跳过
	addMargin(rpc, key(51), key(101), key(151), stateKey, 100)
	addMargin(rpc, key(52), key(102), key(152), stateKey, -5)
	addMargin(rpc, key(53), key(103), key(153), stateKey, -7)
	ctx := context.Background()
	require.NoError(t, p.RefreshAccounts(ctx))

	// 已关闭的账户跳过
	rpc.mu.Lock()
	delete(rpc.accounts, key(153))
	rpc.mu.Unlock()

	n, err := p.CheckAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []solana.PublicKey{key(52)}, engine.targets)

	snap := engine.snaps[0]
	assert.Equal(t, key(50), snap.Liquidator.Key)
	assert.Equal(t, cacheKey, snap.CacheKey)
	require.Len(t, snap.DexMarkets, 1)
	assert.Equal(t, dexKey, snap.DexMarkets[0].OwnAddress)
	_, ok := snap.SwapMarketFor(1)
	assert.True(t, ok)
	assert.Len(t, snap.SwapMarkets, 1, "超出启用抵押品范围的下标被忽略")
	assert.False(t, snap.StateSigner.IsZero())

	// dex 市场每轮重新读取，Serum 市场走缓存
	_, err = p.CheckAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rpc.callsFor(dexKey))
	assert.Equal(t, 1, rpc.callsFor(serumKey))
	assert.Equal(t, 2, rpc.callsFor(cacheKey))
}

func TestCheckAllAccountsRefreshesLiquidatorAfterLiquidation(t *testing.T) {
	rpc := newFakeRPC()
	engine := &fakeEngine{}
	p := newTestProvider(t, rpc, engine, Config{})
	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	addMargin(rpc, key(51), key(101), key(151), stateKey, -1)
	addMargin(rpc, key(52), key(102), key(152), stateKey, -2)
	ctx := context.Background()
	require.NoError(t, p.RefreshAccounts(ctx))

	// 第一次清算把清算人的 USDC 从 1000 消耗到 400
	engine.onLiquidate = func() { addMargin(rpc, key(50), payer, key(150), stateKey, 400) }

	_, err := p.CheckAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, engine.snaps, 2)
	first, second := engine.snaps[0], engine.snaps[1]
	assert.True(t, first.Liquidator.Margin.Collateral[0].Equal(decimal.NewFromInt(1000).Shift(6)))
	assert.True(t, second.Liquidator.Margin.Collateral[0].Equal(decimal.NewFromInt(400).Shift(6)))
	assert.Equal(t, key(50), second.Liquidator.Key)
	// 协议数据沿用本轮快照
	assert.Same(t, first.State, second.State)
	assert.Same(t, first.Cache, second.Cache)
}

func TestCheckAllAccountsKeepsSnapshotWhenLiquidationFails(t *testing.T) {
	rpc := newFakeRPC()
	engine := &fakeEngine{err: liquidator.ErrLiquidationFailure}
	p := newTestProvider(t, rpc, engine, Config{})
	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	addMargin(rpc, key(51), key(101), key(151), stateKey, -1)
	addMargin(rpc, key(52), key(102), key(152), stateKey, -2)
	ctx := context.Background()
	require.NoError(t, p.RefreshAccounts(ctx))

	_, err := p.CheckAllAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, engine.snaps, 2)
	assert.Same(t, engine.snaps[0], engine.snaps[1])
	assert.Equal(t, 1, rpc.callsFor(key(150)), "失败的清算不触发重新读取")
}

func TestCheckAllAccountsShards(t *testing.T) {
	rpc := newFakeRPC()
	engine := &fakeEngine{}
	p := newTestProvider(t, rpc, engine, Config{WorkerCount: 2, WorkerIndex: 1})
	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	addMargin(rpc, key(51), key(101), key(151), stateKey, -1)
	addMargin(rpc, key(52), key(102), key(152), stateKey, -1)
	addMargin(rpc, key(53), key(103), key(153), stateKey, -1)
	ctx := context.Background()
	require.NoError(t, p.RefreshAccounts(ctx))

	n, err := p.CheckAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, engine.targets, 2)
}

func TestCheckAllAccountsEngineErrorsDoNotStopCycle(t *testing.T) {
	rpc := newFakeRPC()
	engine := &fakeEngine{err: liquidator.ErrLiquidationFailure}
	p := newTestProvider(t, rpc, engine, Config{})
	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	addMargin(rpc, key(51), key(101), key(151), stateKey, -1)
	addMargin(rpc, key(52), key(102), key(152), stateKey, -2)
	ctx := context.Background()
	require.NoError(t, p.RefreshAccounts(ctx))

	_, err := p.CheckAllAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, engine.targets, 2)
}

func TestCheckAllAccountsRPCFailure(t *testing.T) {
	rpc := newFakeRPC()
	p := newTestProvider(t, rpc, &fakeEngine{}, Config{})
	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	ctx := context.Background()
	require.NoError(t, p.RefreshAccounts(ctx))

	rpc.err = errors.New("connection reset")
	_, err := p.CheckAllAccounts(ctx)
	assert.ErrorContains(t, err, "connection reset")
}

func TestLiquidatorMargin(t *testing.T) {
	rpc := newFakeRPC()
	p := newTestProvider(t, rpc, &fakeEngine{}, Config{})
	_, err := p.LiquidatorMargin(context.Background())
	assert.ErrorIs(t, err, ErrLiquidatorMarginNotFound)

	addMargin(rpc, key(50), payer, key(150), stateKey, 1000)
	require.NoError(t, p.RefreshAccounts(context.Background()))
	m, err := p.LiquidatorMargin(context.Background())
	require.NoError(t, err)
	assert.True(t, m.Collateral[0].Equal(decimal.NewFromInt(1000).Shift(6)))
}
