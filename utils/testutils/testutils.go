// Package testutils builds a local deployment for package tests: a host
// chain, an Aave-style pool with funded reserves, a constant-product venue
// and a fixed-rate venue.
package testutils

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/dex/uniswap"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/flashloan/aave"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

const (
	ChainID   = 1
	StartTime = 1_700_000_000
)

var (
	PoolAddress   = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	RouterAddress = common.HexToAddress("0xE592427A0AEce92De3Edee1F18E0157C05861564")

	WETH = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	USDC = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	DAI  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

// Ether returns n * 1e18.
func Ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), bmath.WAD)
}

// Units returns n whole tokens of an asset with the given decimals.
func Units(n int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), bmath.Pow10(decimals))
}

// Price returns n in the pool's 8-decimal base currency.
func Price(n int64) *big.Int {
	return Units(n, 8)
}

// Big parses a base-10 integer and fails the test when it is malformed.
func Big(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad integer %q", s)
	return n
}

func NewChain(t *testing.T) *chain.Chain {
	t.Helper()
	c, err := chain.New(chain.Config{ChainID: ChainID, Timestamp: StartTime}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

// Fixture is a funded local deployment.
type Fixture struct {
	t      *testing.T
	Chain  *chain.Chain
	Pool   *aave.Pool
	Router *uniswap.Router
}

// NewFixture deploys WETH, USDC and DAI reserves with one million units of
// liquidity each and a WETH/USDC venue pool at 2000 USDC per WETH.
func NewFixture(t *testing.T) *Fixture {
	t.Helper()
	c := NewChain(t)
	pool, err := aave.NewPool(c, PoolAddress, zaptest.NewLogger(t))
	require.NoError(t, err)

	reserves := []struct {
		asset common.Address
		cfg   flashloan.ReserveConfig
		rates flashloan.ReserveRates
		price *big.Int
	}{
		{WETH, flashloan.ReserveConfig{Decimals: 18, LTV: 8000, LiquidationThreshold: 8250, LiquidationBonus: 10500, Active: true},
			flashloan.ReserveRates{StableBorrowRate: 450, VariableBorrowRate: 300}, Price(2000)},
		{USDC, flashloan.ReserveConfig{Decimals: 6, LTV: 7700, LiquidationThreshold: 8000, LiquidationBonus: 10450, Active: true},
			flashloan.ReserveRates{StableBorrowRate: 900, VariableBorrowRate: 550}, Price(1)},
		{DAI, flashloan.ReserveConfig{Decimals: 18, LTV: 7500, LiquidationThreshold: 8000, LiquidationBonus: 10400, Active: true},
			flashloan.ReserveRates{StableBorrowRate: 850, VariableBorrowRate: 500}, Price(1)},
	}
	for _, r := range reserves {
		require.NoError(t, pool.InitReserve(r.asset, r.cfg, r.rates))
		pool.SetAssetPrice(r.asset, r.price)
		require.NoError(t, c.Ledger().Mint(r.asset, PoolAddress, Units(1_000_000, r.cfg.Decimals)))
	}

	router, err := uniswap.NewRouter(c, RouterAddress, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, router.AddPool(WETH, USDC, uniswap.FeeMedium, Ether(1_000), Units(2_000_000, 6)))

	return &Fixture{t: t, Chain: c, Pool: pool, Router: router}
}

// NewSwapper returns a swapper for self with the fixture router registered
// and supported.
func (f *Fixture) NewSwapper(self common.Address) *dex.Swapper {
	s, err := dex.NewSwapper(f.Chain, self, zaptest.NewLogger(f.t))
	require.NoError(f.t, err)
	s.Register(f.Router)
	s.SetSupported(f.Router.Address(), true)
	return s
}

func (f *Fixture) Mint(asset, to common.Address, amount *big.Int) {
	f.t.Helper()
	require.NoError(f.t, f.Chain.Ledger().Mint(asset, to, amount))
}

func (f *Fixture) Balance(asset, owner common.Address) *big.Int {
	return f.Chain.Ledger().BalanceOf(asset, owner)
}

// Supply mints amount to user and supplies it as collateral.
func (f *Fixture) Supply(user, asset common.Address, amount *big.Int) {
	f.t.Helper()
	f.Mint(asset, user, amount)
	f.transact(user, func(ctx *chain.Context) error {
		if err := ctx.Ledger().Approve(asset, user, f.Pool.Address(), amount); err != nil {
			return err
		}
		return f.Pool.Supply(ctx, asset, amount, user, 0)
	})
}

func (f *Fixture) Borrow(user, asset common.Address, amount *big.Int, mode flashloan.RateMode) {
	f.t.Helper()
	f.transact(user, func(ctx *chain.Context) error {
		return f.Pool.Borrow(ctx, asset, amount, mode, 0, user)
	})
}

// Delegate lets delegatee borrow asset on user's behalf and move user's
// collateral of collateralAsset.
func (f *Fixture) Delegate(user, delegatee, debtAsset common.Address, borrow *big.Int, collateralAsset common.Address, collateral *big.Int) {
	f.t.Helper()
	f.transact(user, func(ctx *chain.Context) error {
		if err := f.Pool.ApproveDelegation(ctx, debtAsset, delegatee, borrow); err != nil {
			return err
		}
		if collateral == nil {
			return nil
		}
		return f.Pool.ApproveCollateral(ctx, collateralAsset, delegatee, collateral)
	})
}

func (f *Fixture) transact(from common.Address, fn func(ctx *chain.Context) error) {
	f.t.Helper()
	_, err := f.Chain.Transact(chain.Msg{From: from}, fn)
	require.NoError(f.t, err)
}

// NewKey returns a deterministic signing key and its address.
func NewKey(t *testing.T, seed byte) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = seed
	}
	key, err := crypto.ToECDSA(raw)
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

type pair struct{ in, out common.Address }

type rate struct{ num, den *big.Int }

// RateVenue answers exactInputSingle at fixed per-pair rates. It pulls the
// input from the caller and mints the output to the recipient.
type RateVenue struct {
	addr  common.Address
	rates map[pair]rate
	// Err, when set, is returned from every call.
	Err error
	// Calls counts successful swaps.
	Calls int
}

var _ dex.Venue = (*RateVenue)(nil)

func NewRateVenue(addr common.Address) *RateVenue {
	return &RateVenue{addr: addr, rates: make(map[pair]rate)}
}

func (v *RateVenue) Address() common.Address { return v.addr }

// SetRate makes one unit of in buy num/den units of out.
func (v *RateVenue) SetRate(in, out common.Address, num, den int64) {
	v.rates[pair{in, out}] = rate{big.NewInt(num), big.NewInt(den)}
}

func (v *RateVenue) Call(ctx *chain.Context, calldata []byte) ([]byte, error) {
	if v.Err != nil {
		return nil, v.Err
	}
	p, err := dex.DecodeExactInputSingle(calldata)
	if err != nil {
		return nil, err
	}
	r, ok := v.rates[pair{p.TokenIn, p.TokenOut}]
	if !ok {
		return nil, fmt.Errorf("no rate for %s -> %s", p.TokenIn.Hex(), p.TokenOut.Hex())
	}
	ledger := ctx.Ledger()
	if err := ledger.TransferFrom(p.TokenIn, v.addr, ctx.Sender, v.addr, p.AmountIn); err != nil {
		return nil, err
	}
	out := new(big.Int).Mul(p.AmountIn, r.num)
	out.Div(out, r.den)
	if out.Cmp(p.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("too little received")
	}
	if err := ledger.Mint(p.TokenOut, p.Recipient, out); err != nil {
		return nil, err
	}
	v.Calls++
	return dex.EncodeAmountOut(out)
}
