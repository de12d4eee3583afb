package aave

import "errors"

var (
	ErrReserveNotFound                = errors.New("reserve not initialized")
	ErrReserveInactive                = errors.New("reserve inactive")
	ErrReserveAlreadyInitialized      = errors.New("reserve already initialized")
	ErrPriceNotSet                    = errors.New("asset price not set")
	ErrInvalidAmount                  = errors.New("amount must be greater than 0")
	ErrInvalidInterestRateMode        = errors.New("invalid interest rate mode selected")
	ErrInvalidExecutorReturn          = errors.New("invalid flash loan executor return")
	ErrHealthFactorNotBelowThreshold  = errors.New("health factor is not below the threshold")
	ErrHealthFactorBelowThreshold     = errors.New("health factor is lesser than the liquidation threshold")
	ErrCollateralBalanceIsZero        = errors.New("collateral balance is 0")
	ErrCollateralCannotCoverNewBorrow = errors.New("there is not enough collateral to cover a new borrow")
	ErrNoDebtOfSelectedType           = errors.New("user does not have outstanding debt of the selected type")
	ErrNoCollateralAvailable          = errors.New("collateral is not available for liquidation")
	ErrNotEnoughAvailableUserBalance  = errors.New("user cannot withdraw more than the available balance")
	ErrCollateralAllowanceExceeded    = errors.New("collateral transfer amount exceeds allowance")
	ErrBorrowAllowanceExceeded        = errors.New("borrow amount exceeds delegated allowance")
	ErrPermitExpired                  = errors.New("permit expired")
	ErrInvalidSignature               = errors.New("invalid permit signature")
)
