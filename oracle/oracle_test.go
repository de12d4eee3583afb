package oracle

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flashexec/flashloan"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

var (
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	user = common.HexToAddress("0x0000000000000000000000000000000000005e01")
)

type mockSource struct {
	hf      map[common.Address]*big.Int
	configs map[common.Address]*flashloan.ReserveConfig
	rates   map[common.Address]*flashloan.ReserveRates
	prices  map[common.Address]*big.Int
	err     error
}

func newMockSource() *mockSource {
	return &mockSource{
		hf: make(map[common.Address]*big.Int),
		configs: map[common.Address]*flashloan.ReserveConfig{
			weth: {Decimals: 18, LTV: 8000, LiquidationThreshold: 8250, LiquidationBonus: 10500, Active: true},
			usdc: {Decimals: 6, LTV: 8000, LiquidationThreshold: 8500, LiquidationBonus: 10400, Active: true},
		},
		rates: map[common.Address]*flashloan.ReserveRates{
			usdc: {StableBorrowRate: 800, VariableBorrowRate: 500},
		},
		prices: map[common.Address]*big.Int{
			weth: big.NewInt(2000_00000000),
			usdc: big.NewInt(1_00000000),
		},
	}
}

func (m *mockSource) GetUserAccountData(u common.Address) (*flashloan.AccountData, error) {
	if m.err != nil {
		return nil, m.err
	}
	hf, ok := m.hf[u]
	if !ok {
		hf = bmath.MaxUint256
	}
	return &flashloan.AccountData{HealthFactor: hf}, nil
}

func (m *mockSource) GetReserveConfiguration(asset common.Address) (*flashloan.ReserveConfig, error) {
	cfg, ok := m.configs[asset]
	if !ok {
		return nil, errors.New("unknown reserve")
	}
	return cfg, nil
}

func (m *mockSource) GetReserveRates(asset common.Address) (*flashloan.ReserveRates, error) {
	r, ok := m.rates[asset]
	if !ok {
		return nil, errors.New("unknown reserve")
	}
	return r, nil
}

func (m *mockSource) AssetPrice(asset common.Address) (*big.Int, error) {
	p, ok := m.prices[asset]
	if !ok {
		return nil, errors.New("no price")
	}
	return p, nil
}

func newAdapter(t *testing.T, src *mockSource) *Adapter {
	a, err := New(src, src, src)
	require.NoError(t, err)
	return a
}

func TestNewRequiresAccounts(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.Error(t, err)
}

func TestIsLiquidatable(t *testing.T) {
	src := newMockSource()
	a := newAdapter(t, src)

	tests := []struct {
		name string
		hf   *big.Int
		want bool
	}{
		{"NoDebt", bmath.MaxUint256, false},
		{"Healthy", new(big.Int).Add(bmath.WAD, big.NewInt(1)), false},
		{"ExactlyOne", new(big.Int).Set(bmath.WAD), false},
		{"JustBelow", new(big.Int).Sub(bmath.WAD, big.NewInt(1)), true},
		{"Underwater", big.NewInt(0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src.hf[user] = tt.hf
			got, hf, err := a.IsLiquidatable(user)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 0, hf.Cmp(tt.hf))
		})
	}

	src.err = errors.New("rpc down")
	_, _, err := a.IsLiquidatable(user)
	assert.ErrorIs(t, err, src.err)
}

func TestLiquidationBonus(t *testing.T) {
	a := newAdapter(t, newMockSource())

	quote, err := a.LiquidationBonus(weth, usdc, big.NewInt(1000_000000))
	require.NoError(t, err)
	assert.Equal(t, uint64(10500), quote.BonusBps)
	assert.Equal(t, "525000000000000000", quote.CollateralAmount.String())
	assert.Equal(t, "25000000000000000", quote.Bonus.String())
	assert.Equal(t, int64(50_000000), quote.BonusInDebtAsset.Int64())

	_, err = a.LiquidationBonus(common.HexToAddress("0x01"), usdc, big.NewInt(1))
	assert.Error(t, err)
}

func TestRefinanceSavings(t *testing.T) {
	a := newAdapter(t, newMockSource())
	amount := big.NewInt(10_000_000000)

	saved, err := a.RefinanceSavings(usdc, amount, flashloan.RateModeStable, flashloan.RateModeVariable)
	require.NoError(t, err)
	assert.Equal(t, int64(300_000000), saved.Int64())

	saved, err = a.RefinanceSavings(usdc, amount, flashloan.RateModeVariable, flashloan.RateModeStable)
	require.NoError(t, err)
	assert.Equal(t, int64(0), saved.Int64())

	_, err = a.RefinanceSavings(usdc, amount, flashloan.RateModeNone, flashloan.RateModeStable)
	assert.Error(t, err)
}

func TestPrice(t *testing.T) {
	a := newAdapter(t, newMockSource())
	p, err := a.Price(weth)
	require.NoError(t, err)
	assert.Equal(t, int64(2000_00000000), p.Int64())

	bare, err := New(newMockSource(), nil, nil)
	require.NoError(t, err)
	_, err = bare.Price(weth)
	assert.Error(t, err)
}
