package accounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liqprotocol/zo-keeper/internal/liquidator"
	"github.com/liqprotocol/zo-keeper/internal/zo"
)

func TestAssessWeightsPositiveCollateral(t *testing.T) {
	m := &zo.Margin{}
	m.Collateral[0] = decimal.NewFromInt(-50).Shift(6)
	m.Collateral[1] = decimal.NewFromInt(1).Shift(9) // 1 SOL = 100，权重 0.9

	h, err := Assess(m, &zo.Control{}, testState(t), testCache())
	require.NoError(t, err)
	assert.True(t, h.Value.Equal(decimal.NewFromInt(40)), h.Value.String())
	assert.True(t, h.Requirement.IsZero())
	assert.False(t, h.Liquidatable())
}

func TestAssessPerpRequirement(t *testing.T) {
	m := &zo.Margin{}
	m.Collateral[0] = decimal.NewFromInt(10).Shift(6)
	c := &zo.Control{}
	// 多头 1 手 @ 100，开仓花费 100
	c.OpenOrdersAgg[0].PosSize = 1
	c.OpenOrdersAgg[0].NativePcTotal = -100_000_000

	h, err := Assess(m, c, testState(t), testCache())
	require.NoError(t, err)
	assert.True(t, h.Value.Equal(decimal.NewFromInt(10)))
	// 100 × 100/1000/2
	assert.True(t, h.Requirement.Equal(decimal.NewFromInt(5)))
	assert.False(t, h.Liquidatable())

	// 价格下跌后亏损 10
	cache := testCache()
	cache.Marks[0].Price = decimal.NewFromInt(90)
	h, err = Assess(m, c, testState(t), cache)
	require.NoError(t, err)
	assert.True(t, h.Value.IsZero())
	assert.True(t, h.Liquidatable())
}

func TestAssessPropagatesValuationFailure(t *testing.T) {
	m := &zo.Margin{}
	m.Collateral[1] = decimal.NewFromInt(1)
	cache := testCache()
	cache.Oracles[1] = zo.OracleCache{}

	_, err := Assess(m, &zo.Control{}, testState(t), cache)
	assert.ErrorIs(t, err, liquidator.ErrCollateralFailure)
}
