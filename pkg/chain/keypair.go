package chain

import (
	"encoding/json"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// ParseKeypairJSON 解析 solana-keygen 格式（64 个字节组成的 JSON 数组）
func ParseKeypairJSON(s string) (solana.PrivateKey, error) {
	return solana.PrivateKeyFromSolanaKeygenFileBytes([]byte(strings.TrimSpace(s)))
}

// KeypairJSON 编码为 solana-keygen 格式，可直接写成密钥文件
func KeypairJSON(k solana.PrivateKey) ([]byte, error) {
	ints := make([]int, len(k))
	for i, b := range k {
		ints[i] = int(b)
	}
	return json.Marshal(ints)
}
