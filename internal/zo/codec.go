package zo

import (
	"bytes"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// codec 按 packed 布局顺序读写字段。
// 同一个 layout 方法既用于解码也用于编码，保证两者字段顺序一致。
// 第一次出错后后续读写全部跳过，错误留在 err 中。
type codec struct {
	dec *bin.Decoder
	enc *bin.Encoder
	out *bytes.Buffer
	err error
}

func newDecoder(b []byte) *codec { return &codec{dec: bin.NewBinDecoder(b)} }

func newEncoder() *codec {
	out := new(bytes.Buffer)
	return &codec{enc: bin.NewBinEncoder(out), out: out}
}

func (c *codec) fail(err error) {
	if c.err == nil && err != nil {
		c.err = fmt.Errorf("账户数据过短: %w", err)
	}
}

func (c *codec) skip(n int) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteBytes(make([]byte, n), false))
		return
	}
	c.fail(c.dec.SkipBytes(uint(n)))
}

// fixedBytes 定长字节（pubkey、符号等）
func (c *codec) fixedBytes(v []byte) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteBytes(v, false))
		return
	}
	b, err := c.dec.ReadNBytes(len(v))
	c.fail(err)
	copy(v, b)
}

func (c *codec) u8(v *uint8) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteUint8(*v))
		return
	}
	x, err := c.dec.ReadUint8()
	c.fail(err)
	*v = x
}

// boolean 非零即真（zero-copy 账户不校验取值）
func (c *codec) boolean(v *bool) {
	var x uint8
	if *v {
		x = 1
	}
	c.u8(&x)
	*v = x != 0
}

func (c *codec) u16(v *uint16) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteUint16(*v, bin.LE))
		return
	}
	x, err := c.dec.ReadUint16(bin.LE)
	c.fail(err)
	*v = x
}

func (c *codec) u64(v *uint64) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteUint64(*v, bin.LE))
		return
	}
	x, err := c.dec.ReadUint64(bin.LE)
	c.fail(err)
	*v = x
}

func (c *codec) i64(v *int64) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteInt64(*v, bin.LE))
		return
	}
	x, err := c.dec.ReadInt64(bin.LE)
	c.fail(err)
	*v = x
}

func (c *codec) pubkey(v *solana.PublicKey) { c.fixedBytes(v[:]) }

func (c *codec) symbol(v *Symbol) { c.fixedBytes(v[:]) }

// i128 小端有符号 128 位整数
func (c *codec) i128(v **big.Int) {
	if c.err != nil {
		return
	}
	if c.enc != nil {
		c.fail(c.enc.WriteInt128(toInt128(*v), bin.LE))
		return
	}
	x, err := c.dec.ReadInt128(bin.LE)
	c.fail(err)
	if err == nil {
		*v = x.BigInt()
	}
}

// fixed I80F48 定点数，精确转换为 decimal
func (c *codec) fixed(v *decimal.Decimal) {
	var raw *big.Int
	if c.enc != nil {
		raw = DecimalToI80F48(*v)
	}
	c.i128(&raw)
	if c.enc == nil && c.err == nil {
		*v = I80F48ToDecimal(raw)
	}
}

func (c *codec) discriminator(want [8]byte) {
	var got [8]byte
	if c.enc != nil {
		got = want
	}
	c.fixedBytes(got[:])
	if c.err == nil && got != want {
		c.err = fmt.Errorf("账户类型不匹配: discriminator %x != %x", got, want)
	}
}

func (c *codec) head(tag string) {
	b := make([]byte, len(tag))
	if c.enc != nil {
		copy(b, tag)
	}
	c.fixedBytes(b)
	if c.err == nil && string(b) != tag {
		c.err = fmt.Errorf("账户头不匹配: %q != %q", b, tag)
	}
}

var (
	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	mask64 = new(big.Int).SetUint64(^uint64(0))
)

// toInt128 按二进制补码拆成高低 64 位
func toInt128(v *big.Int) bin.Int128 {
	x := new(big.Int)
	if v != nil {
		x.Set(v)
	}
	if x.Sign() < 0 {
		x.Add(x, two128)
	}
	lo := new(big.Int).And(x, mask64).Uint64()
	hi := new(big.Int).Rsh(x, 64).Uint64()
	return bin.Int128{Lo: lo, Hi: hi, Endianness: bin.LE}
}

// AccountDiscriminator anchor 账户前 8 字节
func AccountDiscriminator(name string) [8]byte {
	var d [8]byte
	copy(d[:], bin.Sighash(bin.SIGHASH_ACCOUNT_NAMESPACE, name))
	return d
}

// InstructionDiscriminator anchor 指令前 8 字节
func InstructionDiscriminator(name string) [8]byte {
	var d [8]byte
	copy(d[:], bin.Sighash(bin.SIGHASH_GLOBAL_NAMESPACE, name))
	return d
}
