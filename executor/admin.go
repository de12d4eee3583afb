package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/access"
	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// admin runs fn under the reentrancy lock once the sender is known to hold
// AdminRole.
func (e *Executor) admin(ctx *chain.Context, fn func() error) error {
	release, err := e.control.Lock()
	if err != nil {
		return err
	}
	defer release()
	if err := e.control.RequireRole(access.AdminRole, ctx.Sender); err != nil {
		return err
	}
	return fn()
}

func nonNegative(name string, v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return fmt.Errorf("%w: %s must not be negative", types.ErrInvalidAmount, name)
	}
	return nil
}

func (e *Executor) SetFeeRate(ctx *chain.Context, bps uint64) error {
	return e.admin(ctx, func() error {
		if bps > MaxFeeBps {
			return fmt.Errorf("%w: %d bps exceeds %d", types.ErrInvalidFee, bps, MaxFeeBps)
		}
		old := e.feeBps.Get()
		e.feeBps.Set(bps)
		ctx.Emit(e.address, EventFeeRateUpdated, FeeRateUpdated{OldBps: old, NewBps: bps})
		e.logger.Info("fee rate updated", zap.Uint64("old_bps", old), zap.Uint64("new_bps", bps))
		return nil
	})
}

func (e *Executor) SetTreasury(ctx *chain.Context, treasury common.Address) error {
	return e.admin(ctx, func() error {
		if treasury == (common.Address{}) {
			return fmt.Errorf("%w: zero treasury", types.ErrInvalidParams)
		}
		old := e.treasury.Get()
		e.treasury.Set(treasury)
		ctx.Emit(e.address, EventTreasuryUpdated, TreasuryUpdated{Old: old, New: treasury})
		return nil
	})
}

func (e *Executor) SetMaxGasPrice(ctx *chain.Context, price *big.Int) error {
	return e.admin(ctx, func() error {
		if price == nil || price.Sign() <= 0 {
			return fmt.Errorf("%w: max gas price must be positive", types.ErrInvalidParams)
		}
		e.maxGasPrice.Set(new(big.Int).Set(price))
		ctx.Emit(e.address, EventLimitUpdated, LimitUpdated{Name: "maxGasPrice", Value: new(big.Int).Set(price)})
		return nil
	})
}

func (e *Executor) SetMinFlashLoanAmount(ctx *chain.Context, amount *big.Int) error {
	return e.admin(ctx, func() error {
		if err := nonNegative("minimum loan", amount); err != nil {
			return err
		}
		e.minAmount.Set(new(big.Int).Set(amount))
		ctx.Emit(e.address, EventLimitUpdated, LimitUpdated{Name: "minFlashLoanAmount", Value: new(big.Int).Set(amount)})
		return nil
	})
}

// SetUserDailyLimit overrides the default daily limit for user. Zero
// returns the user to the default.
func (e *Executor) SetUserDailyLimit(ctx *chain.Context, user common.Address, limit *big.Int) error {
	return e.admin(ctx, func() error {
		if err := nonNegative("daily limit", limit); err != nil {
			return err
		}
		e.accounts.SetDailyLimit(user, limit)
		ctx.Emit(e.address, EventLimitUpdated, LimitUpdated{Name: "dailyLimit", User: user, Value: new(big.Int).Set(limit)})
		return nil
	})
}

func (e *Executor) SetDefaultDailyLimit(ctx *chain.Context, limit *big.Int) error {
	return e.admin(ctx, func() error {
		if err := nonNegative("daily limit", limit); err != nil {
			return err
		}
		e.accounts.SetDefaultDailyLimit(limit)
		ctx.Emit(e.address, EventLimitUpdated, LimitUpdated{Name: "defaultDailyLimit", Value: new(big.Int).Set(limit)})
		return nil
	})
}

func (e *Executor) SetWhitelisted(ctx *chain.Context, user common.Address, whitelisted bool) error {
	return e.admin(ctx, func() error {
		if user == (common.Address{}) {
			return fmt.Errorf("%w: zero user", types.ErrInvalidParams)
		}
		e.accounts.SetWhitelisted(user, whitelisted)
		ctx.Emit(e.address, EventWhitelistUpdated, WhitelistUpdated{User: user, Whitelisted: whitelisted})
		return nil
	})
}

func (e *Executor) SetSupportedRouter(ctx *chain.Context, router common.Address, supported bool) error {
	return e.admin(ctx, func() error {
		if router == (common.Address{}) {
			return fmt.Errorf("%w: zero router", types.ErrInvalidParams)
		}
		e.swapper.SetSupported(router, supported)
		ctx.Emit(e.address, EventRouterUpdated, RouterUpdated{Router: router, Supported: supported})
		e.logger.Info("router updated", zap.String("router", router.Hex()), zap.Bool("supported", supported))
		return nil
	})
}

func (e *Executor) SetStrategyEnabled(ctx *chain.Context, strategy strategies.Kind, enabled bool) error {
	return e.admin(ctx, func() error {
		if !strategy.Valid() {
			return fmt.Errorf("%w: %s", types.ErrUnsupportedStrategy, strategy)
		}
		e.enabled.Set(strategy, enabled)
		ctx.Emit(e.address, EventStrategyUpdated, StrategyUpdated{Strategy: strategy, Enabled: enabled})
		return nil
	})
}

// SetLendingPool replaces the pool on upgradeable deployments.
func (e *Executor) SetLendingPool(ctx *chain.Context, pool flashloan.Pool) error {
	return e.admin(ctx, func() error {
		if !e.upgradeable {
			return fmt.Errorf("%w: lending pool is immutable", types.ErrUnauthorizedCaller)
		}
		if pool == nil || pool.Address() == (common.Address{}) {
			return fmt.Errorf("%w: lending pool is required", types.ErrInvalidParams)
		}
		old := e.pool.Get().Address()
		e.pool.Set(pool)
		ctx.Emit(e.address, EventPoolUpdated, LendingPoolUpdated{Old: old, New: pool.Address()})
		e.logger.Warn("lending pool replaced", zap.String("old", old.Hex()), zap.String("new", pool.Address().Hex()))
		return nil
	})
}

func (e *Executor) GrantRole(ctx *chain.Context, role common.Hash, account common.Address) error {
	release, err := e.control.Lock()
	if err != nil {
		return err
	}
	defer release()
	return e.control.GrantRole(ctx, role, account)
}

func (e *Executor) RevokeRole(ctx *chain.Context, role common.Hash, account common.Address) error {
	release, err := e.control.Lock()
	if err != nil {
		return err
	}
	defer release()
	return e.control.RevokeRole(ctx, role, account)
}

func (e *Executor) Pause(ctx *chain.Context) error {
	release, err := e.control.Lock()
	if err != nil {
		return err
	}
	defer release()
	if err := e.control.Pause(ctx); err != nil {
		return err
	}
	ctx.Emit(e.address, EventPaused, Paused{Account: ctx.Sender})
	return nil
}

func (e *Executor) Unpause(ctx *chain.Context) error {
	release, err := e.control.Lock()
	if err != nil {
		return err
	}
	defer release()
	if err := e.control.Unpause(ctx); err != nil {
		return err
	}
	ctx.Emit(e.address, EventUnpaused, Paused{Account: ctx.Sender})
	return nil
}

// WithdrawProfit sends retained funds to to. A MaxUint256 amount withdraws
// the whole balance.
func (e *Executor) WithdrawProfit(ctx *chain.Context, asset common.Address, amount *big.Int, to common.Address) error {
	return e.admin(ctx, func() error {
		if to == (common.Address{}) {
			return fmt.Errorf("%w: zero recipient", types.ErrInvalidParams)
		}
		if amount == nil || amount.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", types.ErrInvalidAmount)
		}
		ledger := ctx.Ledger()
		balance := ledger.BalanceOf(asset, e.address)
		if amount.Cmp(bmath.MaxUint256) == 0 {
			amount = balance
		}
		if amount.Sign() == 0 || balance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: balance %s, requested %s", types.ErrInsufficientBalance, balance, amount)
		}
		if err := ledger.Transfer(asset, e.address, to, amount); err != nil {
			return err
		}
		ctx.Emit(e.address, EventProfitWithdrawn, ProfitWithdrawn{Asset: asset, Amount: new(big.Int).Set(amount), To: to})
		e.logger.Info("profit withdrawn",
			zap.String("asset", asset.Hex()),
			zap.String("amount", amount.String()),
			zap.String("to", to.Hex()))
		return nil
	})
}
