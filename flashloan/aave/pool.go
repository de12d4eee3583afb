package aave

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/flashloan"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

const (
	// DefaultPremiumBps is the Aave V3 FLASHLOAN_PREMIUM_TOTAL.
	DefaultPremiumBps = 9

	defaultCloseFactorBps = 5000
	maxCloseFactorBps     = 10000
)

// closeFactorHFThreshold is the health factor at or below which a position
// can be liquidated in full.
var closeFactorHFThreshold = new(big.Int).Div(new(big.Int).Mul(bmath.WAD, big.NewInt(95)), big.NewInt(100))

type reserve struct {
	Config flashloan.ReserveConfig
	Rates  flashloan.ReserveRates
}

type position struct {
	asset common.Address
	user  common.Address
}

type debtPosition struct {
	asset common.Address
	user  common.Address
	mode  flashloan.RateMode
}

type approval struct {
	asset   common.Address
	owner   common.Address
	spender common.Address
}

// Pool is an in-process lending pool with Aave V3 semantics: single-asset
// flash loans, supply/withdraw, stable and variable borrowing, repay,
// liquidation, credit delegation and permit-based collateral approvals.
type Pool struct {
	address common.Address
	chain   *chain.Chain

	premiumBps *chain.Var[uint64]
	assets     *chain.Var[[]common.Address]
	reserves   *chain.Map[common.Address, reserve]
	prices     *chain.Map[common.Address, *big.Int]

	collateral           *chain.Map[position, *big.Int]
	debt                 *chain.Map[debtPosition, *big.Int]
	collateralAllowances *chain.Map[approval, *big.Int]
	borrowAllowances     *chain.Map[approval, *big.Int]
	nonces               *chain.Map[common.Address, uint64]

	logger *zap.Logger
}

var _ flashloan.Pool = (*Pool)(nil)

func NewPool(c *chain.Chain, address common.Address, logger *zap.Logger) (*Pool, error) {
	if c == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		address:              address,
		chain:                c,
		premiumBps:           chain.NewVar[uint64](c, DefaultPremiumBps),
		assets:               chain.NewVar[[]common.Address](c, nil),
		reserves:             chain.NewMap[common.Address, reserve](c),
		prices:               chain.NewMap[common.Address, *big.Int](c),
		collateral:           chain.NewMap[position, *big.Int](c),
		debt:                 chain.NewMap[debtPosition, *big.Int](c),
		collateralAllowances: chain.NewMap[approval, *big.Int](c),
		borrowAllowances:     chain.NewMap[approval, *big.Int](c),
		nonces:               chain.NewMap[common.Address, uint64](c),
		logger:               logger.With(zap.String("pool", address.Hex())),
	}, nil
}

func (p *Pool) Address() common.Address {
	return p.address
}

func (p *Pool) FlashLoanPremiumTotal() uint64 {
	return p.premiumBps.Get()
}

func (p *Pool) SetFlashLoanPremium(bps uint64) {
	p.premiumBps.Set(bps)
}

// InitReserve lists asset. Liquidity is whatever token balance the pool
// address holds.
func (p *Pool) InitReserve(asset common.Address, cfg flashloan.ReserveConfig, rates flashloan.ReserveRates) error {
	if _, ok := p.reserves.Get(asset); ok {
		return fmt.Errorf("%w: %s", ErrReserveAlreadyInitialized, asset.Hex())
	}
	p.reserves.Set(asset, reserve{Config: cfg, Rates: rates})
	assets := append(append([]common.Address(nil), p.assets.Get()...), asset)
	p.assets.Set(assets)
	return nil
}

func (p *Pool) SetReserveRates(asset common.Address, rates flashloan.ReserveRates) error {
	r, err := p.reserve(asset)
	if err != nil {
		return err
	}
	r.Rates = rates
	p.reserves.Set(asset, r)
	return nil
}

// SetAssetPrice sets the oracle price of one whole token in base currency.
func (p *Pool) SetAssetPrice(asset common.Address, price *big.Int) {
	p.prices.Set(asset, bmath.NewBigInt(price))
}

func (p *Pool) AssetPrice(asset common.Address) (*big.Int, error) {
	price, ok := p.prices.Get(asset)
	if !ok || price.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPriceNotSet, asset.Hex())
	}
	return new(big.Int).Set(price), nil
}

func (p *Pool) AvailableLiquidity(asset common.Address) *big.Int {
	return p.chain.Ledger().BalanceOf(asset, p.address)
}

func (p *Pool) GetReserveConfiguration(asset common.Address) (*flashloan.ReserveConfig, error) {
	r, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	cfg := r.Config
	return &cfg, nil
}

func (p *Pool) GetReserveRates(asset common.Address) (*flashloan.ReserveRates, error) {
	r, err := p.reserve(asset)
	if err != nil {
		return nil, err
	}
	rates := r.Rates
	return &rates, nil
}

func (p *Pool) CollateralBalance(asset, user common.Address) *big.Int {
	bal, _ := p.collateral.Get(position{asset, user})
	return bmath.NewBigInt(bal)
}

func (p *Pool) DebtBalance(asset, user common.Address, mode flashloan.RateMode) *big.Int {
	d, _ := p.debt.Get(debtPosition{asset, user, mode})
	return bmath.NewBigInt(d)
}

func (p *Pool) totalDebt(asset, user common.Address) *big.Int {
	return new(big.Int).Add(
		p.DebtBalance(asset, user, flashloan.RateModeStable),
		p.DebtBalance(asset, user, flashloan.RateModeVariable),
	)
}

func (p *Pool) CollateralAllowance(asset, owner, spender common.Address) *big.Int {
	a, _ := p.collateralAllowances.Get(approval{asset, owner, spender})
	return bmath.NewBigInt(a)
}

func (p *Pool) BorrowAllowance(asset, delegator, delegatee common.Address) *big.Int {
	a, _ := p.borrowAllowances.Get(approval{asset, delegator, delegatee})
	return bmath.NewBigInt(a)
}

func (p *Pool) reserve(asset common.Address) (reserve, error) {
	r, ok := p.reserves.Get(asset)
	if !ok {
		return reserve{}, fmt.Errorf("%w: %s", ErrReserveNotFound, asset.Hex())
	}
	return r, nil
}

func (p *Pool) activeReserve(asset common.Address) (reserve, error) {
	r, err := p.reserve(asset)
	if err != nil {
		return reserve{}, err
	}
	if !r.Config.Active {
		return reserve{}, fmt.Errorf("%w: %s", ErrReserveInactive, asset.Hex())
	}
	return r, nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (p *Pool) setCollateral(asset, user common.Address, amount *big.Int) {
	p.collateral.Set(position{asset, user}, amount)
}

func (p *Pool) setDebt(asset, user common.Address, mode flashloan.RateMode, amount *big.Int) {
	p.debt.Set(debtPosition{asset, user, mode}, amount)
}

// FlashLoanSimple lends amount of asset to receiver for the duration of the
// call and pulls back amount plus premium afterwards.
func (p *Pool) FlashLoanSimple(ctx *chain.Context, receiver flashloan.Receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) error {
	if _, err := p.activeReserve(asset); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}

	ledger := ctx.Ledger()
	target := receiver.Address()
	premium := bmath.CalculateFlashLoanFee(amount, p.premiumBps.Get())

	if err := ledger.Transfer(asset, p.address, target, amount); err != nil {
		return fmt.Errorf("flash loan liquidity: %w", err)
	}

	ok, err := receiver.ExecuteOperation(ctx.As(p.address), asset, new(big.Int).Set(amount), premium, ctx.Sender, params)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidExecutorReturn
	}

	owed := new(big.Int).Add(amount, premium)
	if err := ledger.TransferFrom(asset, p.address, target, p.address, owed); err != nil {
		return fmt.Errorf("flash loan repayment: %w", err)
	}

	ctx.Emit(p.address, "FlashLoan", FlashLoanEvent{
		Target:       target,
		Initiator:    ctx.Sender,
		Asset:        asset,
		Amount:       new(big.Int).Set(amount),
		Premium:      premium,
		ReferralCode: referralCode,
	})
	p.logger.Debug("flash loan repaid",
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", premium.String()))
	return nil
}

func (p *Pool) Supply(ctx *chain.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) error {
	if _, err := p.activeReserve(asset); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if err := ctx.Ledger().TransferFrom(asset, p.address, ctx.Sender, p.address, amount); err != nil {
		return fmt.Errorf("supply: %w", err)
	}
	p.setCollateral(asset, onBehalfOf, new(big.Int).Add(p.CollateralBalance(asset, onBehalfOf), amount))

	ctx.Emit(p.address, "Supply", SupplyEvent{Reserve: asset, User: ctx.Sender, OnBehalfOf: onBehalfOf, Amount: new(big.Int).Set(amount)})
	return nil
}

// Withdraw redeems the sender's collateral. MaxUint256 withdraws the full
// balance. The returned amount is what was sent to to.
func (p *Pool) Withdraw(ctx *chain.Context, asset common.Address, amount *big.Int, to common.Address) (*big.Int, error) {
	if _, err := p.activeReserve(asset); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	balance := p.CollateralBalance(asset, ctx.Sender)
	withdrawn := new(big.Int).Set(amount)
	if amount.Cmp(bmath.MaxUint256) == 0 {
		withdrawn = balance
	}
	if withdrawn.Sign() == 0 || withdrawn.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: balance %s, requested %s", ErrNotEnoughAvailableUserBalance, balance, withdrawn)
	}

	p.setCollateral(asset, ctx.Sender, new(big.Int).Sub(balance, withdrawn))
	if err := p.requireHealthy(ctx.Sender); err != nil {
		return nil, err
	}
	if err := ctx.Ledger().Transfer(asset, p.address, to, withdrawn); err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}

	ctx.Emit(p.address, "Withdraw", WithdrawEvent{Reserve: asset, User: ctx.Sender, To: to, Amount: new(big.Int).Set(withdrawn)})
	return withdrawn, nil
}

// Borrow opens or increases onBehalfOf's debt and sends the funds to the
// sender. Borrowing for another account consumes their credit delegation.
func (p *Pool) Borrow(ctx *chain.Context, asset common.Address, amount *big.Int, rateMode flashloan.RateMode, referralCode uint16, onBehalfOf common.Address) error {
	if _, err := p.activeReserve(asset); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if !rateMode.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidInterestRateMode, rateMode)
	}

	if onBehalfOf != ctx.Sender {
		allowed := p.BorrowAllowance(asset, onBehalfOf, ctx.Sender)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s delegated %s, requested %s", ErrBorrowAllowanceExceeded, onBehalfOf.Hex(), allowed, amount)
		}
		p.borrowAllowances.Set(approval{asset, onBehalfOf, ctx.Sender}, allowed.Sub(allowed, amount))
	}

	p.setDebt(asset, onBehalfOf, rateMode, new(big.Int).Add(p.DebtBalance(asset, onBehalfOf, rateMode), amount))

	totals, err := p.accountTotals(onBehalfOf)
	if err != nil {
		return err
	}
	if totals.collateralBase.Sign() == 0 {
		return ErrCollateralBalanceIsZero
	}
	if totals.borrowCapacity().Cmp(totals.debtBase) < 0 {
		return fmt.Errorf("%w: debt %s exceeds capacity %s", ErrCollateralCannotCoverNewBorrow, totals.debtBase, totals.borrowCapacity())
	}

	if err := ctx.Ledger().Transfer(asset, p.address, ctx.Sender, amount); err != nil {
		return fmt.Errorf("borrow: %w", err)
	}

	ctx.Emit(p.address, "Borrow", BorrowEvent{Reserve: asset, User: ctx.Sender, OnBehalfOf: onBehalfOf, Amount: new(big.Int).Set(amount), RateMode: rateMode})
	return nil
}

// Repay pays back onBehalfOf's debt from the sender. Paying more than the
// outstanding debt (or MaxUint256) repays it in full.
func (p *Pool) Repay(ctx *chain.Context, asset common.Address, amount *big.Int, rateMode flashloan.RateMode, onBehalfOf common.Address) (*big.Int, error) {
	if _, err := p.reserve(asset); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	if !rateMode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidInterestRateMode, rateMode)
	}
	debt := p.DebtBalance(asset, onBehalfOf, rateMode)
	if debt.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNoDebtOfSelectedType, onBehalfOf.Hex(), rateMode)
	}
	payback := bmath.Min(amount, debt)

	if err := ctx.Ledger().TransferFrom(asset, p.address, ctx.Sender, p.address, payback); err != nil {
		return nil, fmt.Errorf("repay: %w", err)
	}
	p.setDebt(asset, onBehalfOf, rateMode, debt.Sub(debt, payback))

	ctx.Emit(p.address, "Repay", RepayEvent{Reserve: asset, User: onBehalfOf, Repayer: ctx.Sender, Amount: new(big.Int).Set(payback)})
	return payback, nil
}

// LiquidationCall repays up to debtToCover of user's debt on behalf of the
// sender and transfers the matching collateral plus bonus to the sender,
// either as underlying or as supplied balance when receiveAToken is set.
func (p *Pool) LiquidationCall(ctx *chain.Context, collateralAsset, debtAsset, user common.Address, debtToCover *big.Int, receiveAToken bool) error {
	collReserve, err := p.activeReserve(collateralAsset)
	if err != nil {
		return err
	}
	debtReserve, err := p.activeReserve(debtAsset)
	if err != nil {
		return err
	}
	if err := positive(debtToCover); err != nil {
		return err
	}

	data, err := p.GetUserAccountData(user)
	if err != nil {
		return err
	}
	if data.HealthFactor.Cmp(bmath.WAD) >= 0 {
		return fmt.Errorf("%w: %s", ErrHealthFactorNotBelowThreshold, data.HealthFactor)
	}

	userDebt := p.totalDebt(debtAsset, user)
	if userDebt.Sign() == 0 {
		return fmt.Errorf("%w: %s", ErrNoDebtOfSelectedType, user.Hex())
	}
	userCollateral := p.CollateralBalance(collateralAsset, user)
	if userCollateral.Sign() == 0 {
		return ErrNoCollateralAvailable
	}

	closeFactor := uint64(defaultCloseFactorBps)
	if data.HealthFactor.Cmp(closeFactorHFThreshold) <= 0 {
		closeFactor = maxCloseFactorBps
	}
	debtAmount := bmath.Min(debtToCover, bmath.MulBps(userDebt, closeFactor))

	collPrice, err := p.AssetPrice(collateralAsset)
	if err != nil {
		return err
	}
	debtPrice, err := p.AssetPrice(debtAsset)
	if err != nil {
		return err
	}

	bonus := collReserve.Config.LiquidationBonus
	debtBase := bmath.ToBase(debtAmount, debtPrice, debtReserve.Config.Decimals)
	seized := bmath.FromBase(bmath.MulBps(debtBase, bonus), collPrice, collReserve.Config.Decimals)
	if seized.Cmp(userCollateral) > 0 {
		seized = userCollateral
		collBase := bmath.ToBase(seized, collPrice, collReserve.Config.Decimals)
		collBase.Mul(collBase, big.NewInt(bmath.BasisPoints)).Div(collBase, new(big.Int).SetUint64(bonus))
		debtAmount = bmath.FromBase(collBase, debtPrice, debtReserve.Config.Decimals)
	}

	ledger := ctx.Ledger()
	if err := ledger.TransferFrom(debtAsset, p.address, ctx.Sender, p.address, debtAmount); err != nil {
		return fmt.Errorf("liquidation repayment: %w", err)
	}
	p.burnDebt(debtAsset, user, debtAmount)

	p.setCollateral(collateralAsset, user, new(big.Int).Sub(userCollateral, seized))
	if receiveAToken {
		p.setCollateral(collateralAsset, ctx.Sender, new(big.Int).Add(p.CollateralBalance(collateralAsset, ctx.Sender), seized))
	} else if err := ledger.Transfer(collateralAsset, p.address, ctx.Sender, seized); err != nil {
		return fmt.Errorf("liquidation collateral: %w", err)
	}

	ctx.Emit(p.address, "LiquidationCall", LiquidationCallEvent{
		CollateralAsset:            collateralAsset,
		DebtAsset:                  debtAsset,
		User:                       user,
		DebtToCover:                new(big.Int).Set(debtAmount),
		LiquidatedCollateralAmount: new(big.Int).Set(seized),
		Liquidator:                 ctx.Sender,
		ReceiveAToken:              receiveAToken,
	})
	p.logger.Info("position liquidated",
		zap.String("user", user.Hex()),
		zap.String("debt_covered", debtAmount.String()),
		zap.String("collateral_seized", seized.String()))
	return nil
}

// burnDebt reduces variable debt first, then stable.
func (p *Pool) burnDebt(asset, user common.Address, amount *big.Int) {
	remaining := new(big.Int).Set(amount)
	for _, mode := range []flashloan.RateMode{flashloan.RateModeVariable, flashloan.RateModeStable} {
		if remaining.Sign() == 0 {
			return
		}
		d := p.DebtBalance(asset, user, mode)
		if d.Sign() == 0 {
			continue
		}
		burn := bmath.Min(d, remaining)
		p.setDebt(asset, user, mode, d.Sub(d, burn))
		remaining.Sub(remaining, burn)
	}
}

func (p *Pool) ApproveCollateral(ctx *chain.Context, asset, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	p.collateralAllowances.Set(approval{asset, ctx.Sender, spender}, new(big.Int).Set(amount))
	return nil
}

// TransferCollateral moves supplied balance between accounts, the way an
// aToken transferFrom does. The sender needs a collateral allowance from
// from unless it is from.
func (p *Pool) TransferCollateral(ctx *chain.Context, asset, from, to common.Address, amount *big.Int) error {
	if _, err := p.reserve(asset); err != nil {
		return err
	}
	if err := positive(amount); err != nil {
		return err
	}
	if ctx.Sender != from {
		allowed := p.CollateralAllowance(asset, from, ctx.Sender)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%w: allowed %s, requested %s", ErrCollateralAllowanceExceeded, allowed, amount)
		}
		p.collateralAllowances.Set(approval{asset, from, ctx.Sender}, allowed.Sub(allowed, amount))
	}

	balance := p.CollateralBalance(asset, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: balance %s, requested %s", ErrNotEnoughAvailableUserBalance, balance, amount)
	}
	p.setCollateral(asset, from, balance.Sub(balance, amount))
	p.setCollateral(asset, to, new(big.Int).Add(p.CollateralBalance(asset, to), amount))
	return p.requireHealthy(from)
}

func (p *Pool) ApproveDelegation(ctx *chain.Context, asset, delegatee common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	p.borrowAllowances.Set(approval{asset, ctx.Sender, delegatee}, new(big.Int).Set(amount))
	return nil
}

func (p *Pool) requireHealthy(user common.Address) error {
	data, err := p.GetUserAccountData(user)
	if err != nil {
		return err
	}
	if data.HealthFactor.Cmp(bmath.WAD) < 0 {
		return fmt.Errorf("%w: %s", ErrHealthFactorBelowThreshold, data.HealthFactor)
	}
	return nil
}

type totals struct {
	collateralBase *big.Int
	debtBase       *big.Int
	// sums of collateral base weighted by bps parameters
	weightedLT  *big.Int
	weightedLTV *big.Int
}

func (t totals) borrowCapacity() *big.Int {
	return new(big.Int).Div(t.weightedLTV, big.NewInt(bmath.BasisPoints))
}

func (p *Pool) accountTotals(user common.Address) (totals, error) {
	t := totals{
		collateralBase: new(big.Int),
		debtBase:       new(big.Int),
		weightedLT:     new(big.Int),
		weightedLTV:    new(big.Int),
	}
	for _, asset := range p.assets.Get() {
		coll := p.CollateralBalance(asset, user)
		debt := p.totalDebt(asset, user)
		if coll.Sign() == 0 && debt.Sign() == 0 {
			continue
		}
		r, err := p.reserve(asset)
		if err != nil {
			return t, err
		}
		price, err := p.AssetPrice(asset)
		if err != nil {
			return t, err
		}
		if coll.Sign() > 0 {
			base := bmath.ToBase(coll, price, r.Config.Decimals)
			t.collateralBase.Add(t.collateralBase, base)
			t.weightedLT.Add(t.weightedLT, new(big.Int).Mul(base, new(big.Int).SetUint64(r.Config.LiquidationThreshold)))
			t.weightedLTV.Add(t.weightedLTV, new(big.Int).Mul(base, new(big.Int).SetUint64(r.Config.LTV)))
		}
		if debt.Sign() > 0 {
			t.debtBase.Add(t.debtBase, bmath.ToBase(debt, price, r.Config.Decimals))
		}
	}
	return t, nil
}

// GetUserAccountData aggregates user's positions across reserves. The health
// factor is MaxUint256 when the user has no debt.
func (p *Pool) GetUserAccountData(user common.Address) (*flashloan.AccountData, error) {
	t, err := p.accountTotals(user)
	if err != nil {
		return nil, err
	}

	data := &flashloan.AccountData{
		TotalCollateralBase:         t.collateralBase,
		TotalDebtBase:               t.debtBase,
		AvailableBorrowsBase:        bmath.FloorZero(new(big.Int).Sub(t.borrowCapacity(), t.debtBase)),
		CurrentLiquidationThreshold: new(big.Int),
		LTV:                         new(big.Int),
		HealthFactor:                new(big.Int).Set(bmath.MaxUint256),
	}
	if t.collateralBase.Sign() > 0 {
		data.CurrentLiquidationThreshold.Div(t.weightedLT, t.collateralBase)
		data.LTV.Div(t.weightedLTV, t.collateralBase)
	}
	if t.debtBase.Sign() > 0 {
		hf := new(big.Int).Mul(t.weightedLT, bmath.WAD)
		denom := new(big.Int).Mul(t.debtBase, big.NewInt(bmath.BasisPoints))
		data.HealthFactor = hf.Div(hf, denom)
	}
	return data, nil
}
