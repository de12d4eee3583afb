// Package refinance moves a borrower's position to a new rate mode, and
// optionally a new collateral asset, inside one flash loan.
package refinance

import (
	"fmt"
	"math/big"

	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// Execute refinances the loan initiator's position. The initiator must have
// delegated credit for p.NewBorrowAmount of the debt asset to the executor
// and allowed it to move p.CollateralAmount of collateral, either beforehand
// or through the permit carried in p.
//
// The returned profit is the new borrow in excess of the repaid debt. It
// may be zero.
func Execute(env *strategies.Env, loan strategies.Loan, p *strategies.RefinanceParams) (*big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.DebtAsset != loan.Asset {
		return nil, fmt.Errorf("%w: debt asset %s is not the borrowed asset %s", types.ErrInvalidParams, p.DebtAsset.Hex(), loan.Asset.Hex())
	}
	if p.SwapsCollateral() && p.NewCollateralAsset == loan.Asset {
		return nil, fmt.Errorf("%w: new collateral cannot be the borrowed asset", types.ErrInvalidParams)
	}
	if p.DebtAmount.Cmp(loan.Amount) > 0 {
		return nil, fmt.Errorf("%w: debtAmount %s exceeds loan %s", types.ErrInvalidAmount, p.DebtAmount, loan.Amount)
	}
	if err := checkCoverage(loan, p); err != nil {
		return nil, err
	}

	user := loan.Initiator
	pool := env.Pool.Address()
	before := env.Balance(loan.Asset)

	if p.HasPermit() {
		if err := env.Pool.PermitCollateral(env.Ctx, p.CollateralAsset, user, env.Self, p.CollateralAmount, p.PermitDeadline, p.PermitV, p.PermitR, p.PermitS); err != nil {
			return nil, err
		}
	}

	if err := env.Approve(p.DebtAsset, pool, p.DebtAmount); err != nil {
		return nil, err
	}
	repaid, err := env.Pool.Repay(env.Ctx, p.DebtAsset, p.DebtAmount, p.CurrentRateMode, user)
	if err != nil {
		return nil, err
	}
	if repaid.Cmp(p.DebtAmount) != 0 {
		return nil, fmt.Errorf("%w: %s owes %s at %s, not %s", types.ErrInvalidAmount, user.Hex(), repaid, p.CurrentRateMode, p.DebtAmount)
	}

	if err := env.Pool.TransferCollateral(env.Ctx, p.CollateralAsset, user, env.Self, p.CollateralAmount); err != nil {
		return nil, err
	}
	withdrawn, err := env.Pool.Withdraw(env.Ctx, p.CollateralAsset, p.CollateralAmount, env.Self)
	if err != nil {
		return nil, err
	}

	asset, amount := p.CollateralAsset, withdrawn
	if p.SwapsCollateral() {
		out, err := env.Swapper.Swap(env.Ctx, p.CollateralAsset, p.NewCollateralAsset, withdrawn, p.MinSwapOutput, p.SwapRouter, p.SwapData)
		if err != nil {
			return nil, err
		}
		asset, amount = p.NewCollateralAsset, out
	}

	if err := env.Approve(asset, pool, amount); err != nil {
		return nil, err
	}
	if err := env.Pool.Supply(env.Ctx, asset, amount, user, 0); err != nil {
		return nil, err
	}
	if err := env.Pool.Borrow(env.Ctx, p.DebtAsset, p.NewBorrowAmount, p.NewRateMode, 0, user); err != nil {
		return nil, err
	}

	hf, err := env.Oracle.HealthFactor(user)
	if err != nil {
		return nil, err
	}
	if hf.Cmp(p.MinHealthFactor) < 0 {
		return nil, fmt.Errorf("%w: %s after refinance, minimum %s", types.ErrInsufficientHealthFactor, hf, p.MinHealthFactor)
	}

	profit := bmath.FloorZero(new(big.Int).Sub(env.Balance(loan.Asset), before))
	env.Logger.Info("refinance completed",
		zap.String("user", user.Hex()),
		zap.Stringer("from_mode", p.CurrentRateMode),
		zap.Stringer("to_mode", p.NewRateMode),
		zap.String("collateral", asset.Hex()),
		zap.String("health_factor", hf.String()),
		zap.String("profit", profit.String()))
	return profit, nil
}

// checkCoverage requires the new borrow to repay the replaced debt, the
// premium and the service fee on the difference.
func checkCoverage(loan strategies.Loan, p *strategies.RefinanceParams) error {
	gain := new(big.Int).Sub(p.NewBorrowAmount, p.DebtAmount)
	net := new(big.Int).Sub(gain, bmath.MulBps(bmath.FloorZero(gain), loan.ServiceFeeBps))
	if net.Cmp(bmath.NewBigInt(loan.Premium)) < 0 {
		return fmt.Errorf("%w: new borrow %s does not cover debt %s plus premium %s and fee",
			types.ErrRefinanceNotProfitable, p.NewBorrowAmount, p.DebtAmount, loan.Premium)
	}
	return nil
}
