package flashloan

import (
	"fmt"
	"math/big"
	"strings"
)

// RateMode selects the interest model of a borrow position.
type RateMode uint8

const (
	RateModeNone     RateMode = 0
	RateModeStable   RateMode = 1
	RateModeVariable RateMode = 2
)

func (m RateMode) Valid() bool {
	return m == RateModeStable || m == RateModeVariable
}

func (m RateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	case RateModeNone:
		return "none"
	default:
		return fmt.Sprintf("RateMode(%d)", uint8(m))
	}
}

// ParseRateMode accepts "stable" or "variable" in any case.
func ParseRateMode(s string) (RateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stable":
		return RateModeStable, nil
	case "variable":
		return RateModeVariable, nil
	}
	return RateModeNone, fmt.Errorf("unknown rate mode %q", s)
}

// AccountData mirrors the return tuple of getUserAccountData. Base amounts
// are in the price oracle's base currency; HealthFactor is WAD scaled.
type AccountData struct {
	TotalCollateralBase         *big.Int
	TotalDebtBase               *big.Int
	AvailableBorrowsBase        *big.Int
	CurrentLiquidationThreshold *big.Int
	LTV                         *big.Int
	HealthFactor                *big.Int
}

// ReserveConfig holds the risk parameters of a reserve, all in basis points
// except Decimals. LiquidationBonus includes the principal (10500 = 5% bonus).
type ReserveConfig struct {
	Decimals             uint8
	LTV                  uint64
	LiquidationThreshold uint64
	LiquidationBonus     uint64
	Active               bool
}

// ReserveRates are the current annual borrow rates of a reserve in basis points.
type ReserveRates struct {
	StableBorrowRate   uint64
	VariableBorrowRate uint64
}

// BorrowRate returns the annual rate in bps for mode.
func (r *ReserveRates) BorrowRate(mode RateMode) (uint64, error) {
	switch mode {
	case RateModeStable:
		return r.StableBorrowRate, nil
	case RateModeVariable:
		return r.VariableBorrowRate, nil
	default:
		return 0, fmt.Errorf("unknown rate mode %d", uint8(mode))
	}
}
