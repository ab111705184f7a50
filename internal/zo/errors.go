package zo

import (
	"errors"
	"strings"

	"github.com/liqprotocol/zo-keeper/pkg/chain"
)

// anchor 自定义错误码从 6000 开始
const anchorErrorOffset = 6000

// ErrCodeLiquidationOverExposure 清算人敞口超限
const ErrCodeLiquidationOverExposure uint32 = anchorErrorOffset + 32

// 程序日志中的错误名（anchor 会打印 "Error Code: <Name>"）
const overExposureLogName = "LiquidationOverExposure"

// IsOverExposure 清算是否因清算人自身敞口过大被拒绝（可通过减半数量恢复）
func IsOverExposure(err error) bool {
	var pe *chain.ProgramError
	if !errors.As(err, &pe) {
		return false
	}
	if pe.IsCustom(ErrCodeLiquidationOverExposure) {
		return true
	}
	for _, l := range pe.Logs {
		if strings.Contains(l, overExposureLogName) {
			return true
		}
	}
	return false
}
