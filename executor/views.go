package executor

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/oracle"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

func (e *Executor) FeeRate() uint64 {
	return e.feeBps.Get()
}

func (e *Executor) Nonce(user common.Address) uint64 {
	return e.accounts.Nonce(user)
}

// PreviewFlashLoanFee is the premium the pool charges for borrowing amount
// of asset.
func (e *Executor) PreviewFlashLoanFee(asset common.Address, amount *big.Int) (*big.Int, error) {
	pool := e.pool.Get()
	cfg, err := pool.GetReserveConfiguration(asset)
	if err != nil {
		return nil, err
	}
	if !cfg.Active {
		return nil, fmt.Errorf("%w: reserve %s is inactive", types.ErrInvalidParams, asset.Hex())
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", types.ErrInvalidAmount)
	}
	return bmath.CalculateFlashLoanFee(amount, pool.FlashLoanPremiumTotal()), nil
}

// Profitability breaks an estimated gross profit down into what the pool
// and the treasury take.
type Profitability struct {
	Premium    *big.Int
	ServiceFee *big.Int
	NetProfit  *big.Int
	Profitable bool
}

func (e *Executor) PreviewProfitability(asset common.Address, amount, estimatedProfit *big.Int) (*Profitability, error) {
	premium, err := e.PreviewFlashLoanFee(asset, amount)
	if err != nil {
		return nil, err
	}
	gross := bmath.FloorZero(estimatedProfit)
	fee := bmath.MulBps(gross, e.feeBps.Get())
	net := new(big.Int).Sub(gross, premium)
	net.Sub(net, fee)
	return &Profitability{
		Premium:    premium,
		ServiceFee: fee,
		NetProfit:  net,
		Profitable: net.Sign() > 0,
	}, nil
}

// PreviewLiquidationBonus quotes the collateral a liquidation covering
// debtToCover would seize, from the pool's reserve configuration and prices.
func (e *Executor) PreviewLiquidationBonus(collateralAsset, debtAsset common.Address, debtToCover *big.Int) (*oracle.LiquidationQuote, error) {
	return e.oracle().LiquidationBonus(collateralAsset, debtAsset, debtToCover)
}

// PreviewRefinanceSavings is the yearly interest saved by moving amount of
// asset debt from one rate mode to the other at current rates.
func (e *Executor) PreviewRefinanceSavings(asset common.Address, amount *big.Int, from, to flashloan.RateMode) (*big.Int, error) {
	return e.oracle().RefinanceSavings(asset, amount, from, to)
}

type NetworkConfig struct {
	ChainID            uint64
	Executor           common.Address
	Pool               common.Address
	Treasury           common.Address
	FeeBps             uint64
	PremiumBps         uint64
	MaxGasPrice        *big.Int
	MinFlashLoanAmount *big.Int
	DefaultDailyLimit  *big.Int
	DefaultRouter      common.Address
	Routers            []common.Address
	Paused             bool
	Upgradeable        bool
}

func (e *Executor) NetworkConfig() *NetworkConfig {
	pool := e.pool.Get()
	routers := e.swapper.Supported()
	sort.Slice(routers, func(i, j int) bool {
		return bytes.Compare(routers[i].Bytes(), routers[j].Bytes()) < 0
	})
	return &NetworkConfig{
		ChainID:            e.chainID,
		Executor:           e.address,
		Pool:               pool.Address(),
		Treasury:           e.treasury.Get(),
		FeeBps:             e.feeBps.Get(),
		PremiumBps:         pool.FlashLoanPremiumTotal(),
		MaxGasPrice:        e.MaxGasPrice(),
		MinFlashLoanAmount: e.MinFlashLoanAmount(),
		DefaultDailyLimit:  e.accounts.DefaultDailyLimit(),
		DefaultRouter:      e.defaultRouter.Get(),
		Routers:            routers,
		Paused:             e.control.Paused(),
		Upgradeable:        e.upgradeable,
	}
}
