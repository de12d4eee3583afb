package strategies

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/oracle"
)

// Kind identifies a strategy. The values are part of the request encoding.
type Kind uint8

const (
	Arbitrage Kind = iota
	Liquidation
	Refinance
)

var kindNames = [...]string{
	Arbitrage:   "arbitrage",
	Liquidation: "liquidation",
	Refinance:   "refinance",
}

// Kinds lists every known strategy.
func Kinds() []Kind {
	return []Kind{Arbitrage, Liquidation, Refinance}
}

func (k Kind) Valid() bool {
	return int(k) < len(kindNames)
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind maps a strategy name to its Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown strategy %q", name)
}

// Loan describes the flash loan a strategy runs inside.
type Loan struct {
	Asset   common.Address
	Amount  *big.Int
	Premium *big.Int
	// Initiator is the account that requested the loan from the executor.
	Initiator common.Address
	Deadline  uint64
	// ServiceFeeBps is the executor's cut of realized profit.
	ServiceFeeBps uint64
}

// Owed is principal plus premium.
func (l Loan) Owed() *big.Int {
	return new(big.Int).Add(l.Amount, l.Premium)
}

// Env is what a strategy may touch. Ctx is a frame whose sender is the
// executor, so pool and venue calls are made by the executor.
type Env struct {
	Ctx           *chain.Context
	Self          common.Address
	Pool          flashloan.Pool
	Swapper       *dex.Swapper
	Oracle        *oracle.Adapter
	DefaultRouter common.Address
	Logger        *zap.Logger
}

// Balance is the executor's balance of asset.
func (e *Env) Balance(asset common.Address) *big.Int {
	return e.Ctx.Ledger().BalanceOf(asset, e.Self)
}

// Approve resets spender's allowance to zero before setting it to amount.
func (e *Env) Approve(asset, spender common.Address, amount *big.Int) error {
	ledger := e.Ctx.Ledger()
	if err := ledger.Approve(asset, e.Self, spender, new(big.Int)); err != nil {
		return err
	}
	return ledger.Approve(asset, e.Self, spender, amount)
}
