package access

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

const secondsPerDay = 86400

// UserAccount is the per-caller replay and volume state. A DailyLimit of
// zero means the configured default applies.
type UserAccount struct {
	Nonce           uint64
	DailyVolumeUsed *big.Int
	LastResetDay    uint64
	DailyLimit      *big.Int
	Whitelisted     bool
}

func (u UserAccount) copy() UserAccount {
	u.DailyVolumeUsed = bmath.NewBigInt(u.DailyVolumeUsed)
	u.DailyLimit = bmath.NewBigInt(u.DailyLimit)
	return u
}

// Accounts stores UserAccount records. Records are created implicitly on
// first use.
type Accounts struct {
	accounts     *chain.Map[common.Address, UserAccount]
	defaultLimit *chain.Var[*big.Int]
}

func NewAccounts(c *chain.Chain, defaultLimit *big.Int) *Accounts {
	return &Accounts{
		accounts:     chain.NewMap[common.Address, UserAccount](c),
		defaultLimit: chain.NewVar(c, bmath.NewBigInt(defaultLimit)),
	}
}

// Get returns a copy of the user's account.
func (a *Accounts) Get(user common.Address) UserAccount {
	acct, _ := a.accounts.Get(user)
	return acct.copy()
}

func (a *Accounts) Nonce(user common.Address) uint64 {
	return a.Get(user).Nonce
}

func (a *Accounts) IsWhitelisted(user common.Address) bool {
	return a.Get(user).Whitelisted
}

func (a *Accounts) SetWhitelisted(user common.Address, whitelisted bool) {
	acct := a.Get(user)
	acct.Whitelisted = whitelisted
	a.accounts.Set(user, acct)
}

func (a *Accounts) SetDailyLimit(user common.Address, limit *big.Int) {
	acct := a.Get(user)
	acct.DailyLimit = bmath.NewBigInt(limit)
	a.accounts.Set(user, acct)
}

func (a *Accounts) DefaultDailyLimit() *big.Int {
	return bmath.NewBigInt(a.defaultLimit.Get())
}

func (a *Accounts) SetDefaultDailyLimit(limit *big.Int) {
	a.defaultLimit.Set(bmath.NewBigInt(limit))
}

// EffectiveDailyLimit is the user's own limit when set, otherwise the
// default. Zero means no cap.
func (a *Accounts) EffectiveDailyLimit(user common.Address) *big.Int {
	acct := a.Get(user)
	if acct.DailyLimit.Sign() > 0 {
		return acct.DailyLimit
	}
	return a.DefaultDailyLimit()
}

// CheckNonce fails unless nonce equals the user's next expected nonce.
func (a *Accounts) CheckNonce(user common.Address, nonce uint64) error {
	if expected := a.Nonce(user); nonce != expected {
		return fmt.Errorf("%w: expected %d, got %d", types.ErrInvalidNonce, expected, nonce)
	}
	return nil
}

// RemainingVolume returns how much more the user may borrow on the day of
// timestamp, or nil when the user has no cap.
func (a *Accounts) RemainingVolume(user common.Address, timestamp uint64) *big.Int {
	limit := a.EffectiveDailyLimit(user)
	if limit.Sign() == 0 {
		return nil
	}
	acct := a.Get(user)
	used := acct.DailyVolumeUsed
	if timestamp/secondsPerDay > acct.LastResetDay {
		used = new(big.Int)
	}
	return bmath.FloorZero(new(big.Int).Sub(limit, used))
}

// Accept checks nonce and daily volume for a request of amount and, when
// both pass, advances the nonce and records the volume. The volume counter
// resets once when a new day begins.
func (a *Accounts) Accept(user common.Address, nonce uint64, amount *big.Int, timestamp uint64) error {
	if err := a.CheckNonce(user, nonce); err != nil {
		return err
	}

	acct := a.Get(user)
	day := timestamp / secondsPerDay
	if day > acct.LastResetDay {
		acct.DailyVolumeUsed = new(big.Int)
		acct.LastResetDay = day
	}

	used := new(big.Int).Add(acct.DailyVolumeUsed, amount)
	limit := a.EffectiveDailyLimit(user)
	if limit.Sign() > 0 && used.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %s of %s used, requested %s", types.ErrDailyLimitExceeded,
			acct.DailyVolumeUsed, limit, amount)
	}

	acct.DailyVolumeUsed = used
	acct.Nonce++
	a.accounts.Set(user, acct)
	return nil
}
