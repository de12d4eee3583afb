package executor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/utils/testutils"
)

func TestPreviewFlashLoanFee(t *testing.T) {
	h := newHarness(t, nil)

	fee, err := h.exec.PreviewFlashLoanFee(testutils.DAI, testutils.Ether(10_000))
	require.NoError(t, err)
	assert.Equal(t, testutils.Ether(9).String(), fee.String())

	again, err := h.exec.PreviewFlashLoanFee(testutils.DAI, testutils.Ether(10_000))
	require.NoError(t, err)
	assert.Equal(t, fee, again)

	fee, err = h.exec.PreviewFlashLoanFee(testutils.USDC, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, int64(0), fee.Int64())

	_, err = h.exec.PreviewFlashLoanFee(common.HexToAddress("0x0000000000000000000000000000000000000123"), testutils.Ether(1))
	assert.Error(t, err)
}

func TestPreviewProfitability(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name       string
		estimate   *big.Int
		wantFee    string
		wantNet    string
		profitable bool
	}{
		{"Profitable", testutils.Ether(50), "125000000000000000", "40875000000000000000", true},
		{"CoversPremiumOnly", testutils.Ether(9), "22500000000000000", "-22500000000000000", false},
		{"Loss", big.NewInt(-5), "0", "-9000000000000000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := h.exec.PreviewProfitability(testutils.DAI, testutils.Ether(10_000), tt.estimate)
			require.NoError(t, err)
			assert.Equal(t, testutils.Ether(9).String(), p.Premium.String())
			assert.Equal(t, tt.wantFee, p.ServiceFee.String())
			assert.Equal(t, tt.wantNet, p.NetProfit.String())
			assert.Equal(t, tt.profitable, p.Profitable)
		})
	}
}

func TestPreviewLiquidationBonus(t *testing.T) {
	h := newHarness(t, nil)

	quote, err := h.exec.PreviewLiquidationBonus(testutils.WETH, testutils.USDC, testutils.Units(7_500, 6))
	require.NoError(t, err)
	assert.Equal(t, uint64(10_500), quote.BonusBps)
	assert.Equal(t, "3937500000000000000", quote.CollateralAmount.String())
	assert.Equal(t, "187500000000000000", quote.Bonus.String())
	assert.Equal(t, testutils.Units(375, 6).String(), quote.BonusInDebtAsset.String())
}

func TestPreviewRefinanceSavings(t *testing.T) {
	h := newHarness(t, nil)

	savings, err := h.exec.PreviewRefinanceSavings(testutils.DAI, testutils.Ether(10_000), flashloan.RateModeStable, flashloan.RateModeVariable)
	require.NoError(t, err)
	assert.Equal(t, testutils.Ether(350).String(), savings.String())

	savings, err = h.exec.PreviewRefinanceSavings(testutils.DAI, testutils.Ether(10_000), flashloan.RateModeVariable, flashloan.RateModeStable)
	require.NoError(t, err)
	assert.Equal(t, 0, savings.Sign())
}

func TestNetworkConfig(t *testing.T) {
	h := newHarness(t, nil)

	cfg := h.exec.NetworkConfig()
	assert.Equal(t, uint64(testutils.ChainID), cfg.ChainID)
	assert.Equal(t, executorAddr, cfg.Executor)
	assert.Equal(t, testutils.PoolAddress, cfg.Pool)
	assert.Equal(t, treasury, cfg.Treasury)
	assert.Equal(t, uint64(25), cfg.FeeBps)
	assert.Equal(t, uint64(9), cfg.PremiumBps)
	assert.Equal(t, gwei(100).String(), cfg.MaxGasPrice.String())
	assert.Equal(t, testutils.Ether(1).String(), cfg.MinFlashLoanAmount.String())
	assert.Equal(t, rateVenue, cfg.DefaultRouter)
	assert.Equal(t, []common.Address{rateVenue, testutils.RouterAddress}, cfg.Routers)
	assert.False(t, cfg.Paused)
	assert.False(t, cfg.Upgradeable)

	// views hand out copies
	cfg.MaxGasPrice.SetInt64(1)
	assert.Equal(t, gwei(100).String(), h.exec.MaxGasPrice().String())
}
