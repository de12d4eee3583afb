package strategies

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

var (
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	router = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")
	user   = common.HexToAddress("0x00000000000000000000000000000000000b0001")
)

func TestKind(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	k, err := ParseKind("Liquidation")
	require.NoError(t, err)
	assert.Equal(t, Liquidation, k)

	_, err = ParseKind("sandwich")
	assert.Error(t, err)
	assert.False(t, Kind(3).Valid())
	assert.Equal(t, "Kind(3)", Kind(3).String())
}

func TestArbitrageParamsCodec(t *testing.T) {
	p := &ArbitrageParams{
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountIn:     big.NewInt(1_000),
		Fee:          3000,
		MinAmountOut: big.NewInt(990),
		Router:       router,
	}
	data, err := p.Encode()
	require.NoError(t, err)
	assert.Len(t, data, 6*32)

	got, err := DecodeArbitrageParams(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = DecodeArbitrageParams(data[:64])
	assert.ErrorIs(t, err, types.ErrInvalidParams)
}

func TestLiquidationParamsCodec(t *testing.T) {
	p := &LiquidationParams{
		Borrower:        user,
		CollateralAsset: weth,
		DebtAsset:       usdc,
		DebtToCover:     big.NewInt(7_500_000_000),
		SwapRouter:      router,
		SwapData:        []byte{0x41, 0x4b, 0xf3, 0x89},
		MinProfitBps:    50,
	}
	data, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodeLiquidationParams(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.NoError(t, got.Validate())
}

func TestRefinanceParamsCodec(t *testing.T) {
	p := &RefinanceParams{
		DebtAsset:        usdc,
		DebtAmount:       big.NewInt(10_000),
		CurrentRateMode:  flashloan.RateModeStable,
		NewRateMode:      flashloan.RateModeVariable,
		CollateralAsset:  weth,
		CollateralAmount: big.NewInt(5),
		NewBorrowAmount:  big.NewInt(10_010),
		MinHealthFactor:  new(big.Int).Set(bmath.WAD),
		SwapData:         []byte{},
		MinSwapOutput:    big.NewInt(1),
		PermitDeadline:   1_700_000_600,
		PermitV:          27,
		PermitR:          [32]byte{1},
		PermitS:          [32]byte{2},
	}
	data, err := p.Encode()
	require.NoError(t, err)

	got, err := DecodeRefinanceParams(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
	assert.True(t, got.HasPermit())
	assert.False(t, got.SwapsCollateral())
}

func TestValidate(t *testing.T) {
	arb := func() *ArbitrageParams {
		return &ArbitrageParams{TokenIn: weth, TokenOut: usdc, AmountIn: big.NewInt(1), Fee: 500}
	}
	liq := func() *LiquidationParams {
		return &LiquidationParams{Borrower: user, CollateralAsset: weth, DebtAsset: usdc, DebtToCover: big.NewInt(1)}
	}
	refi := func() *RefinanceParams {
		return &RefinanceParams{
			DebtAsset:        usdc,
			DebtAmount:       big.NewInt(1),
			CurrentRateMode:  flashloan.RateModeStable,
			NewRateMode:      flashloan.RateModeVariable,
			CollateralAsset:  weth,
			CollateralAmount: big.NewInt(1),
			NewBorrowAmount:  big.NewInt(1),
			MinHealthFactor:  new(big.Int).Set(bmath.WAD),
		}
	}

	tests := []struct {
		name    string
		params  interface{ Validate() error }
		wantErr bool
	}{
		{"ArbitrageValid", arb(), false},
		{"ArbitrageZeroAmount", func() *ArbitrageParams { p := arb(); p.AmountIn = new(big.Int); return p }(), true},
		{"ArbitrageSameToken", func() *ArbitrageParams { p := arb(); p.TokenOut = weth; return p }(), true},
		{"ArbitrageFeeOutOfRange", func() *ArbitrageParams { p := arb(); p.Fee = MaxVenueFee; return p }(), true},
		{"LiquidationValid", liq(), false},
		{"LiquidationNoBorrower", func() *LiquidationParams { p := liq(); p.Borrower = common.Address{}; return p }(), true},
		{"LiquidationSameAsset", func() *LiquidationParams { p := liq(); p.CollateralAsset = usdc; return p }(), true},
		{"LiquidationProfitOver100Percent", func() *LiquidationParams { p := liq(); p.MinProfitBps = 10_001; return p }(), true},
		{"LiquidationRouterWithoutData", func() *LiquidationParams { p := liq(); p.SwapRouter = router; return p }(), true},
		{"LiquidationSwapAToken", func() *LiquidationParams {
			p := liq()
			p.SwapRouter, p.SwapData, p.ReceiveAToken = router, []byte{1}, true
			return p
		}(), true},
		{"RefinanceValid", refi(), false},
		{"RefinanceBadRateMode", func() *RefinanceParams { p := refi(); p.NewRateMode = flashloan.RateModeNone; return p }(), true},
		{"RefinanceHealthFactorBelowOne", func() *RefinanceParams { p := refi(); p.MinHealthFactor = big.NewInt(1); return p }(), true},
		{"RefinanceSwapToSameCollateral", func() *RefinanceParams {
			p := refi()
			p.SwapRouter, p.SwapData, p.NewCollateralAsset = router, []byte{1}, weth
			return p
		}(), true},
		{"RefinancePermitWithoutSignature", func() *RefinanceParams { p := refi(); p.PermitDeadline = 1; return p }(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrInvalidParams)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoanOwed(t *testing.T) {
	l := Loan{Amount: big.NewInt(10_000), Premium: big.NewInt(9)}
	assert.Equal(t, int64(10_009), l.Owed().Int64())
}
