package aave

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/flashloan"
)

type FlashLoanEvent struct {
	Target       common.Address
	Initiator    common.Address
	Asset        common.Address
	Amount       *big.Int
	Premium      *big.Int
	ReferralCode uint16
}

type SupplyEvent struct {
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

type WithdrawEvent struct {
	Reserve common.Address
	User    common.Address
	To      common.Address
	Amount  *big.Int
}

type BorrowEvent struct {
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
	RateMode   flashloan.RateMode
}

type RepayEvent struct {
	Reserve common.Address
	User    common.Address
	Repayer common.Address
	Amount  *big.Int
}

type LiquidationCallEvent struct {
	CollateralAsset            common.Address
	DebtAsset                  common.Address
	User                       common.Address
	DebtToCover                *big.Int
	LiquidatedCollateralAmount *big.Int
	Liquidator                 common.Address
	ReceiveAToken              bool
}
