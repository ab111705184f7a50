package zo

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// I80F48 小数位数
const i80f48FracBits = 48

// 2^-48 = 5^48 / 10^48，所以 raw / 2^48 可以无损表示为 (raw * 5^48) * 10^-48
var (
	pow5_48 = new(big.Int).Exp(big.NewInt(5), big.NewInt(i80f48FracBits), nil)
	pow2_48 = decimal.NewFromBigInt(new(big.Int).Lsh(big.NewInt(1), i80f48FracBits), 0)
)

// I80F48ToDecimal 把链上 I80F48 原始值精确转换为 decimal
func I80F48ToDecimal(raw *big.Int) decimal.Decimal {
	if raw == nil || raw.Sign() == 0 {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(new(big.Int).Mul(raw, pow5_48), -i80f48FracBits)
}

// DecimalToI80F48 转换为 I80F48 原始值（向零截断）
func DecimalToI80F48(d decimal.Decimal) *big.Int {
	return d.Mul(pow2_48).BigInt()
}
