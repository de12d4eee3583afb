package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/flashloan"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// LiquidationThreshold is the health factor below which a position can be
// liquidated. A health factor equal to it is still safe.
var LiquidationThreshold = new(big.Int).Set(bmath.WAD)

// Adapter answers solvency and pricing questions from live pool data.
type Adapter struct {
	accounts flashloan.AccountDataSource
	reserves flashloan.ReserveSource
	prices   flashloan.PriceSource
}

func New(accounts flashloan.AccountDataSource, reserves flashloan.ReserveSource, prices flashloan.PriceSource) (*Adapter, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account data source is required")
	}
	return &Adapter{accounts: accounts, reserves: reserves, prices: prices}, nil
}

// FromPool builds an adapter that reads everything from pool.
func FromPool(pool flashloan.Pool) *Adapter {
	return &Adapter{accounts: pool, reserves: pool, prices: pool}
}

func (a *Adapter) HealthFactor(user common.Address) (*big.Int, error) {
	data, err := a.accounts.GetUserAccountData(user)
	if err != nil {
		return nil, fmt.Errorf("account data for %s: %w", user.Hex(), err)
	}
	if data.HealthFactor == nil {
		return nil, fmt.Errorf("account data for %s has no health factor", user.Hex())
	}
	return new(big.Int).Set(data.HealthFactor), nil
}

// IsLiquidatable reports whether user's health factor is strictly below 1.0.
func (a *Adapter) IsLiquidatable(user common.Address) (bool, *big.Int, error) {
	hf, err := a.HealthFactor(user)
	if err != nil {
		return false, nil, err
	}
	return hf.Cmp(LiquidationThreshold) < 0, hf, nil
}

func (a *Adapter) Price(asset common.Address) (*big.Int, error) {
	if a.prices == nil {
		return nil, fmt.Errorf("no price source configured")
	}
	return a.prices.AssetPrice(asset)
}

// LiquidationQuote describes the collateral a liquidator receives for
// covering DebtToCover of debt.
type LiquidationQuote struct {
	BonusBps         uint64
	CollateralAmount *big.Int
	// Bonus is the collateral received beyond the value of the debt covered,
	// in collateral units.
	Bonus *big.Int
	// BonusInDebtAsset is Bonus valued in the debt asset.
	BonusInDebtAsset *big.Int
}

// LiquidationBonus prices a liquidation of debtToCover using the collateral
// reserve's configured bonus and current prices.
func (a *Adapter) LiquidationBonus(collateralAsset, debtAsset common.Address, debtToCover *big.Int) (*LiquidationQuote, error) {
	if a.reserves == nil || a.prices == nil {
		return nil, fmt.Errorf("reserve and price sources are required")
	}
	collCfg, err := a.reserves.GetReserveConfiguration(collateralAsset)
	if err != nil {
		return nil, err
	}
	debtCfg, err := a.reserves.GetReserveConfiguration(debtAsset)
	if err != nil {
		return nil, err
	}
	collPrice, err := a.prices.AssetPrice(collateralAsset)
	if err != nil {
		return nil, err
	}
	debtPrice, err := a.prices.AssetPrice(debtAsset)
	if err != nil {
		return nil, err
	}

	debtBase := bmath.ToBase(debtToCover, debtPrice, debtCfg.Decimals)
	base := bmath.FromBase(debtBase, collPrice, collCfg.Decimals)
	seized := bmath.FromBase(bmath.MulBps(debtBase, collCfg.LiquidationBonus), collPrice, collCfg.Decimals)
	bonus := bmath.FloorZero(new(big.Int).Sub(seized, base))

	return &LiquidationQuote{
		BonusBps:         collCfg.LiquidationBonus,
		CollateralAmount: seized,
		Bonus:            bonus,
		BonusInDebtAsset: bmath.FromBase(bmath.ToBase(bonus, collPrice, collCfg.Decimals), debtPrice, debtCfg.Decimals),
	}, nil
}

// RefinanceSavings returns the annual interest saved by moving amount of
// asset debt from one rate mode to another, floored at zero.
func (a *Adapter) RefinanceSavings(asset common.Address, amount *big.Int, from, to flashloan.RateMode) (*big.Int, error) {
	if a.reserves == nil {
		return nil, fmt.Errorf("reserve source is required")
	}
	rates, err := a.reserves.GetReserveRates(asset)
	if err != nil {
		return nil, err
	}
	fromRate, err := rates.BorrowRate(from)
	if err != nil {
		return nil, err
	}
	toRate, err := rates.BorrowRate(to)
	if err != nil {
		return nil, err
	}
	if toRate >= fromRate {
		return new(big.Int), nil
	}
	return bmath.MulBps(amount, fromRate-toRate), nil
}
