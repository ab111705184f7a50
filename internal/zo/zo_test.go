package zo

import (
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqprotocol/zo-keeper/pkg/chain"
)

func pk(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[1] = 0xEE
	return k
}

func TestI80F48ToDecimal(t *testing.T) {
	one := new(big.Int).Lsh(big.NewInt(1), 48)
	assert.True(t, I80F48ToDecimal(one).Equal(decimal.NewFromInt(1)))

	// -1.5
	raw := new(big.Int).Mul(big.NewInt(-3), new(big.Int).Lsh(big.NewInt(1), 47))
	assert.True(t, I80F48ToDecimal(raw).Equal(decimal.RequireFromString("-1.5")))

	// 最小正数 2^-48 也能精确表示
	d := I80F48ToDecimal(big.NewInt(1))
	assert.Equal(t, "0.000000000000003552713678800500929355621337890625", d.String())
	assert.Equal(t, 0, DecimalToI80F48(d).Cmp(big.NewInt(1)))

	assert.True(t, I80F48ToDecimal(nil).IsZero())
}

func TestInt128SignExtension(t *testing.T) {
	enc := newEncoder()
	v := big.NewInt(-2)
	enc.i128(&v)
	require.NoError(t, enc.err)
	b := enc.out.Bytes()
	require.Len(t, b, 16)
	assert.Equal(t, byte(0xfe), b[0])
	for i := 1; i < 16; i++ {
		assert.Equal(t, byte(0xff), b[i])
	}

	var got *big.Int
	dec := newDecoder(b)
	dec.i128(&got)
	require.NoError(t, dec.err)
	assert.Equal(t, 0, got.Cmp(big.NewInt(-2)))

	// 高 64 位也要保留
	big1 := new(big.Int).Lsh(big.NewInt(3), 100)
	enc = newEncoder()
	enc.i128(&big1)
	dec = newDecoder(enc.out.Bytes())
	dec.i128(&got)
	require.NoError(t, dec.err)
	assert.Equal(t, 0, got.Cmp(big1))
}

func TestAnchorDiscriminators(t *testing.T) {
	assert.Equal(t, [8]byte{0x98, 0x11, 0x8e, 0xc3, 0x50, 0xc4, 0xa1, 0x30}, AccountDiscriminator("Margin"))
	assert.Equal(t, [8]byte{0x5d, 0xf7, 0x86, 0x44, 0x67, 0x3c, 0xcc, 0x8c}, InstructionDiscriminator("liquidate_perp_position"))
}

func TestDecodeMargin(t *testing.T) {
	m := &Margin{Nonce: 3, Authority: pk(1), State: pk(2), Control: pk(3)}
	m.Collateral[0] = decimal.RequireFromString("-50.25")
	m.Collateral[24] = decimal.NewFromInt(1_000_000)

	data := m.Encode()
	got, err := DecodeMargin(data)
	require.NoError(t, err)
	assert.Equal(t, m.Authority, got.Authority)
	assert.Equal(t, m.Control, got.Control)
	assert.True(t, got.Collateral[0].Equal(m.Collateral[0]))
	assert.True(t, got.Collateral[24].Equal(m.Collateral[24]))
	assert.True(t, got.Collateral[1].IsZero())

	_, err = DecodeMargin(data[:100])
	assert.Error(t, err, "数据过短")

	_, err = DecodeControl(data)
	assert.Error(t, err, "discriminator 不匹配")
}

func TestDecodeStateAndCache(t *testing.T) {
	s := &State{SignerNonce: 254, Cache: pk(9), TotalCollaterals: 3, TotalMarkets: 2}
	s.Collaterals[1] = CollateralInfo{Mint: pk(4), OracleSymbol: NewSymbol("SOL"), Decimals: 9, IsSwappable: true, DustThreshold: 10}
	s.PerpMarkets[1] = PerpMarketInfo{Symbol: NewSymbol("SOL-PERP"), AssetLotSize: 100, BaseImf: 100, DexMarket: pk(5)}

	gotState, err := DecodeState(s.Encode())
	require.NoError(t, err)
	assert.Equal(t, s.Collaterals[1], gotState.Collaterals[1])
	assert.Equal(t, s.PerpMarkets[1], gotState.PerpMarkets[1])
	assert.Equal(t, 3, gotState.ActiveCollaterals())
	assert.Equal(t, 2, gotState.ActiveMarkets())
	assert.Equal(t, "SOL-PERP", gotState.PerpMarkets[1].Symbol.String())

	c := &Cache{}
	c.Oracles[2] = OracleCache{Symbol: NewSymbol("SOL"), Price: decimal.RequireFromString("0.0325"), BaseDecimals: 9, QuoteDecimals: 6}
	c.Marks[1].Price = decimal.NewFromInt(33)
	gotCache, err := DecodeCache(c.Encode())
	require.NoError(t, err)

	o, ok := gotCache.Oracle(NewSymbol("SOL"))
	require.True(t, ok)
	// 0.0325 不是 2 的幂次分数，编码时截断到 2^-48 精度
	assert.True(t, o.Price.Sub(decimal.RequireFromString("0.0325")).Abs().LessThan(decimal.New(1, -14)))
	assert.True(t, gotCache.Marks[1].Price.Equal(decimal.NewFromInt(33)))

	_, ok = gotCache.Oracle(Symbol{})
	assert.False(t, ok)
}

// vaultNonce 找一个能导出合法（不在曲线上）地址的 nonce
func vaultNonce(t *testing.T, market solana.PublicKey) (uint64, solana.PublicKey) {
	t.Helper()
	for n := uint64(0); n < 256; n++ {
		seed := make([]byte, 8)
		binary.LittleEndian.PutUint64(seed, n)
		if addr, err := solana.CreateProgramAddress([][]byte{market.Bytes(), seed}, DefaultSerumProgramID); err == nil {
			return n, addr
		}
	}
	t.Fatal("no valid vault signer nonce")
	return 0, solana.PublicKey{}
}

func TestSerumVaultSigner(t *testing.T) {
	nonce, want := vaultNonce(t, pk(7))
	m := &SerumMarket{OwnAddress: pk(7), VaultSignerNonce: nonce, PcMint: pk(8)}
	got, err := DecodeSerumMarket(m.Encode())
	require.NoError(t, err)
	assert.Equal(t, m.PcMint, got.PcMint)

	signer, err := got.VaultSigner(DefaultSerumProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, signer)

	bad := m.Encode()
	copy(bad, "xxxxx")
	_, err = DecodeSerumMarket(bad)
	assert.Error(t, err)
}

func TestStateSignerMatchesFindProgramAddress(t *testing.T) {
	addr, bump, err := solana.FindProgramAddress([][]byte{pk(1).Bytes()}, DefaultProgramID)
	require.NoError(t, err)
	got, err := StateSigner(pk(1), bump, DefaultProgramID)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
}

func TestLiquidatePerpPositionInstruction(t *testing.T) {
	p := DefaultPrograms()
	ix := LiquidatePerpPosition{
		State:       pk(1),
		Liqor:       pk(2),
		LiqeeMargin: pk(3),
		Market:      PerpMarketAccounts{DexMarket: pk(4)},

		AssetTransferLots: 320,
	}.Build(p)

	assert.Equal(t, p.Zo, ix.ProgID)
	disc := InstructionDiscriminator("liquidate_perp_position")
	assert.Equal(t, disc[:], ix.DataBytes[:8])
	assert.Equal(t, uint64(320), binary.LittleEndian.Uint64(ix.DataBytes[8:]))
	require.Len(t, ix.AccountValues, 17)
	assert.True(t, ix.AccountValues[3].IsSigner)
	assert.Equal(t, pk(4), ix.AccountValues[11].PublicKey)
	assert.Equal(t, p.Dex, ix.AccountValues[16].PublicKey)
}

func TestForceCancelAndSpotInstructions(t *testing.T) {
	p := DefaultPrograms()
	cancel := ForceCancelAllPerpOrders{Pruner: pk(1), Limit: ForceCancelLimit}.Build(p)
	assert.Len(t, cancel.DataBytes, 10)
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(cancel.DataBytes[8:]))
	require.Len(t, cancel.AccountValues, 13)
	assert.True(t, cancel.AccountValues[0].IsSigner)

	spot := LiquidateSpotPosition{Liqor: pk(1), AssetTransferAmount: -5}.Build(p)
	assert.Equal(t, int64(-5), int64(binary.LittleEndian.Uint64(spot.DataBytes[8:])))
	assert.Len(t, spot.AccountValues, 9)

	settle := SettleBankruptcy{Liqor: pk(1)}.Build(p)
	assert.Len(t, settle.DataBytes, 8)
}

func TestIsOverExposure(t *testing.T) {
	assert.True(t, IsOverExposure(&chain.ProgramError{Kind: "Custom", Code: ErrCodeLiquidationOverExposure}))
	assert.True(t, IsOverExposure(&chain.ProgramError{
		Kind: "Custom", Code: 1,
		Logs: []string{"Program log: AnchorError occurred. Error Code: LiquidationOverExposure."},
	}))
	assert.False(t, IsOverExposure(&chain.ProgramError{Kind: "Custom", Code: 1}))
	assert.False(t, IsOverExposure(chain.ErrConfirmTimeout))
	assert.False(t, IsOverExposure(nil))
}
