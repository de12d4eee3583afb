package chain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

var (
	ErrTransferExceedsBalance   = fmt.Errorf("%w: transfer amount exceeds balance", types.ErrInsufficientBalance)
	ErrTransferExceedsAllowance = errors.New("transfer amount exceeds allowance")
	ErrNegativeAmount           = errors.New("negative token amount")
)

type holding struct {
	token  common.Address
	holder common.Address
}

type allowance struct {
	token   common.Address
	owner   common.Address
	spender common.Address
}

// Ledger holds ERC20-style balances and allowances for every token on the
// host chain. All writes are journaled.
type Ledger struct {
	balances   *Map[holding, *big.Int]
	allowances *Map[allowance, *big.Int]
	supply     *Map[common.Address, *big.Int]
}

func newLedger(c *Chain) *Ledger {
	return &Ledger{
		balances:   NewMap[holding, *big.Int](c),
		allowances: NewMap[allowance, *big.Int](c),
		supply:     NewMap[common.Address, *big.Int](c),
	}
}

func (l *Ledger) BalanceOf(token, holder common.Address) *big.Int {
	bal, _ := l.balances.Get(holding{token, holder})
	return bmath.NewBigInt(bal)
}

func (l *Ledger) TotalSupply(token common.Address) *big.Int {
	s, _ := l.supply.Get(token)
	return bmath.NewBigInt(s)
}

func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	a, _ := l.allowances.Get(allowance{token, owner, spender})
	return bmath.NewBigInt(a)
}

// Mint creates amount of token for to. Used to seed local deployments.
func (l *Ledger) Mint(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.balances.Set(holding{token, to}, new(big.Int).Add(l.BalanceOf(token, to), amount))
	l.supply.Set(token, new(big.Int).Add(l.TotalSupply(token), amount))
	return nil
}

func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	l.allowances.Set(allowance{token, owner, spender}, new(big.Int).Set(amount))
	return nil
}

func (l *Ledger) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal := l.BalanceOf(token, from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrTransferExceedsBalance,
			from.Hex(), bal, token.Hex(), amount)
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	l.balances.Set(holding{token, from}, bal.Sub(bal, amount))
	l.balances.Set(holding{token, to}, new(big.Int).Add(l.BalanceOf(token, to), amount))
	return nil
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// allowance. An allowance of MaxUint256 is never decremented.
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if spender != from {
		current := l.Allowance(token, from, spender)
		if current.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allowed %s by %s, needs %s", ErrTransferExceedsAllowance,
				spender.Hex(), current, from.Hex(), amount)
		}
		if current.Cmp(bmath.MaxUint256) != 0 {
			l.allowances.Set(allowance{token, from, spender}, current.Sub(current, amount))
		}
	}
	return l.Transfer(token, from, to, amount)
}
