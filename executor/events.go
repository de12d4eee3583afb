package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/strategies"
)

// Event names emitted by the executor.
const (
	EventFlashLoanExecuted = "FlashLoanExecuted"
	EventFeeRateUpdated    = "FeeRateUpdated"
	EventTreasuryUpdated   = "TreasuryUpdated"
	EventLimitUpdated      = "LimitUpdated"
	EventWhitelistUpdated  = "WhitelistUpdated"
	EventRouterUpdated     = "RouterUpdated"
	EventStrategyUpdated   = "StrategyUpdated"
	EventPoolUpdated       = "LendingPoolUpdated"
	EventPaused            = "Paused"
	EventUnpaused          = "Unpaused"
	EventProfitWithdrawn   = "ProfitWithdrawn"
)

type FlashLoanExecuted struct {
	Asset    common.Address
	Amount   *big.Int
	Strategy strategies.Kind
	Caller   common.Address
	Profit   *big.Int
	Fee      *big.Int
}

type FeeRateUpdated struct {
	OldBps, NewBps uint64
}

type TreasuryUpdated struct {
	Old, New common.Address
}

// LimitUpdated covers the numeric limits. User is zero for global limits.
type LimitUpdated struct {
	Name  string
	User  common.Address
	Value *big.Int
}

type WhitelistUpdated struct {
	User        common.Address
	Whitelisted bool
}

type RouterUpdated struct {
	Router    common.Address
	Supported bool
}

type StrategyUpdated struct {
	Strategy strategies.Kind
	Enabled  bool
}

type LendingPoolUpdated struct {
	Old, New common.Address
}

type ProfitWithdrawn struct {
	Asset  common.Address
	Amount *big.Int
	To     common.Address
}

// Paused carries the admin that changed the pause switch.
type Paused struct {
	Account common.Address
}
