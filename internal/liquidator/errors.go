package liquidator

import "errors"

var (
	// ErrCollateralFailure 无法估值（缺少预言机价格等），本账户本轮放弃
	ErrCollateralFailure = errors.New("collateral valuation failed")
	// ErrNoCollateral 抵押品向量为空（退化状态，只记录日志）
	ErrNoCollateral = errors.New("no collateral")
	// ErrNoPositions 仓位向量为空（退化状态，按无仓位处理）
	ErrNoPositions = errors.New("no positions")
	// ErrCancelFailure 强制撤单失败
	ErrCancelFailure = errors.New("cancel failed")
	// ErrLiquidationOverExposure 清算人敞口超限，减半后可重试
	ErrLiquidationOverExposure = errors.New("liquidation over-exposure")
	// ErrLiquidationFailure 清算终止性失败
	ErrLiquidationFailure = errors.New("liquidation failed")
	// ErrSettlementFailure 至少一个破产结算分支失败
	ErrSettlementFailure = errors.New("bankruptcy settlement failed")
)
