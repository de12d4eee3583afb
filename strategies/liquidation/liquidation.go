// Package liquidation repays an unhealthy borrower's debt with borrowed
// funds and keeps the discounted collateral.
package liquidation

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// Execute liquidates p.Borrower and returns the surplus of the borrowed asset.
// The borrower's health factor is read immediately before the liquidation
// call and must be strictly below 1.0.
func Execute(env *strategies.Env, loan strategies.Loan, p *strategies.LiquidationParams) (*big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.DebtAsset != loan.Asset {
		return nil, fmt.Errorf("%w: debt asset %s is not the borrowed asset %s", types.ErrInvalidParams, p.DebtAsset.Hex(), loan.Asset.Hex())
	}
	if p.DebtToCover.Cmp(loan.Amount) > 0 {
		return nil, fmt.Errorf("%w: debtToCover %s exceeds loan %s", types.ErrInvalidAmount, p.DebtToCover, loan.Amount)
	}

	liquidatable, hf, err := env.Oracle.IsLiquidatable(p.Borrower)
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		return nil, fmt.Errorf("%w: %s has health factor %s", types.ErrUserNotLiquidatable, p.Borrower.Hex(), hf)
	}

	pool := env.Pool.Address()
	before := env.Balance(loan.Asset)
	collBefore := collateralHeld(env, p)

	if err := env.Approve(p.DebtAsset, pool, p.DebtToCover); err != nil {
		return nil, err
	}
	if err := env.Pool.LiquidationCall(env.Ctx, p.CollateralAsset, p.DebtAsset, p.Borrower, p.DebtToCover, p.ReceiveAToken); err != nil {
		return nil, err
	}
	if err := env.Ctx.Ledger().Approve(p.DebtAsset, env.Self, pool, new(big.Int)); err != nil {
		return nil, err
	}
	seized := bmath.FloorZero(new(big.Int).Sub(collateralHeld(env, p), collBefore))

	if p.SwapRouter != (common.Address{}) && seized.Sign() > 0 {
		if _, err := env.Swapper.Swap(env.Ctx, p.CollateralAsset, p.DebtAsset, seized, new(big.Int), p.SwapRouter, p.SwapData); err != nil {
			return nil, err
		}
	}

	profit := bmath.FloorZero(new(big.Int).Sub(env.Balance(loan.Asset), before))
	if !bmath.MeetsBps(profit, p.DebtToCover, p.MinProfitBps) {
		return nil, fmt.Errorf("%w: profit %s is below %d bps of %s", types.ErrInsufficientProfit, profit, p.MinProfitBps, p.DebtToCover)
	}

	env.Logger.Info("liquidation completed",
		zap.String("borrower", p.Borrower.Hex()),
		zap.String("health_factor", hf.String()),
		zap.String("collateral_seized", seized.String()),
		zap.String("profit", profit.String()))
	return profit, nil
}

// collateralHeld is the executor's holding of the collateral asset in the
// form the liquidation pays it out.
func collateralHeld(env *strategies.Env, p *strategies.LiquidationParams) *big.Int {
	if p.ReceiveAToken {
		return env.Pool.CollateralBalance(p.CollateralAsset, env.Self)
	}
	return env.Balance(p.CollateralAsset)
}
