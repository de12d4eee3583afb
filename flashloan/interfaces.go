package flashloan

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/chain"
)

// Receiver is the contract a pool lends to. ExecuteOperation runs with
// ctx.Sender set to the pool; initiator is the account that requested the
// loan. Returning false or an error aborts the loan.
type Receiver interface {
	Address() common.Address
	ExecuteOperation(ctx *chain.Context, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error)
}

// AccountDataSource answers getUserAccountData.
type AccountDataSource interface {
	GetUserAccountData(user common.Address) (*AccountData, error)
}

// ReserveSource answers reserve configuration and rate queries.
type ReserveSource interface {
	GetReserveConfiguration(asset common.Address) (*ReserveConfig, error)
	GetReserveRates(asset common.Address) (*ReserveRates, error)
}

// PriceSource quotes asset prices in the pool's base currency.
type PriceSource interface {
	AssetPrice(asset common.Address) (*big.Int, error)
}

// Pool is the lending pool the executor borrows from and whose positions
// the liquidation and refinance strategies act on.
type Pool interface {
	AccountDataSource
	ReserveSource
	PriceSource

	Address() common.Address
	FlashLoanPremiumTotal() uint64

	FlashLoanSimple(ctx *chain.Context, receiver Receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) error
	LiquidationCall(ctx *chain.Context, collateralAsset, debtAsset, user common.Address, debtToCover *big.Int, receiveAToken bool) error

	Supply(ctx *chain.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error
	Withdraw(ctx *chain.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error)
	Borrow(ctx *chain.Context, asset common.Address, amount *big.Int, rateMode RateMode, referralCode uint16, onBehalfOf common.Address) error
	Repay(ctx *chain.Context, asset common.Address, amount *big.Int, rateMode RateMode, onBehalfOf common.Address) (*big.Int, error)

	// CollateralBalance is the supplied (aToken) balance of user in asset.
	CollateralBalance(asset, user common.Address) *big.Int
	DebtBalance(asset, user common.Address, rateMode RateMode) *big.Int
	ApproveCollateral(ctx *chain.Context, asset, spender common.Address, amount *big.Int) error
	TransferCollateral(ctx *chain.Context, asset, from, to common.Address, amount *big.Int) error
	PermitCollateral(ctx *chain.Context, asset, owner, spender common.Address, value *big.Int, deadline uint64, v uint8, r, s [32]byte) error
	ApproveDelegation(ctx *chain.Context, asset, delegatee common.Address, amount *big.Int) error
}
