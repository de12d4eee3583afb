package executor

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/access"
	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/gas"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// ExecuteFlashLoan borrows amount of asset and runs strategy with data
// inside the pool callback. The caller's nonce must be the next expected one
// and the settled profit must reach expectedProfit. Any failure is returned
// and reverts the whole transaction.
func (e *Executor) ExecuteFlashLoan(ctx *chain.Context, asset common.Address, amount *big.Int, strategy strategies.Kind, data []byte, expectedProfit *big.Int, deadline, nonce uint64) (res *Result, err error) {
	start := time.Now()
	defer func() {
		if err != nil && !ctx.Static() {
			e.metrics.ObserveFailure(types.ConditionName(err))
			e.logger.Warn("flash loan rejected",
				zap.String("caller", ctx.Sender.Hex()),
				zap.Stringer("strategy", strategy),
				zap.String("condition", types.ConditionName(err)),
				zap.Error(err))
		}
	}()

	release, err := e.control.Lock()
	if err != nil {
		return nil, err
	}
	defer release()

	caller := ctx.Sender
	if err := e.control.WhenNotPaused(); err != nil {
		return nil, err
	}
	if !e.accounts.IsWhitelisted(caller) && !e.control.HasRole(access.OperatorRole, caller) {
		return nil, fmt.Errorf("%w: %s is neither whitelisted nor an operator", types.ErrUnauthorizedCaller, caller.Hex())
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", types.ErrInvalidAmount)
	}
	if minimum := e.minAmount.Get(); amount.Cmp(minimum) < 0 {
		return nil, fmt.Errorf("%w: %s is below the minimum %s", types.ErrInvalidAmount, amount, minimum)
	}
	if expectedProfit != nil && expectedProfit.Sign() < 0 {
		return nil, fmt.Errorf("%w: expected profit %s is negative", types.ErrInvalidAmount, expectedProfit)
	}
	if deadline <= ctx.Timestamp() {
		return nil, fmt.Errorf("%w: deadline %d, now %d", types.ErrInvalidDeadline, deadline, ctx.Timestamp())
	}
	if err := e.accounts.CheckNonce(caller, nonce); err != nil {
		return nil, err
	}
	if err := gas.CheckCeiling(ctx.GasPrice(), e.maxGasPrice.Get()); err != nil {
		return nil, err
	}
	if !e.StrategyEnabled(strategy) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedStrategy, strategy)
	}
	if err := e.accounts.Accept(caller, nonce, amount, ctx.Timestamp()); err != nil {
		return nil, err
	}

	req := &Request{
		Strategy:       strategy,
		Caller:         caller,
		Data:           data,
		ExpectedProfit: bmath.NewBigInt(expectedProfit),
		Deadline:       deadline,
		Nonce:          nonce,
	}
	params, err := req.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}

	e.pending = &pendingLoan{asset: asset, amount: new(big.Int).Set(amount)}
	e.settled = nil
	defer func() { e.pending, e.settled = nil, nil }()

	pool := e.pool.Get()
	if err := pool.FlashLoanSimple(ctx.As(e.address), e, asset, amount, params, 0); err != nil {
		return nil, err
	}
	if e.settled == nil {
		return nil, fmt.Errorf("%w: pool returned without calling back", types.ErrUnauthorizedCaller)
	}

	res = &Result{
		Asset:    asset,
		Amount:   new(big.Int).Set(amount),
		Premium:  e.settled.premium,
		Strategy: strategy,
		Profit:   e.settled.profit,
		Fee:      e.settled.fee,
	}
	ctx.Emit(e.address, EventFlashLoanExecuted, FlashLoanExecuted{
		Asset:    asset,
		Amount:   res.Amount,
		Strategy: strategy,
		Caller:   caller,
		Profit:   res.Profit,
		Fee:      res.Fee,
	})
	if !ctx.Static() {
		e.metrics.ObserveExecution(strategy.String(), asset.Hex(), amount, res.Profit, res.Fee, time.Since(start))
	}
	e.logger.Info("flash loan executed",
		zap.String("caller", caller.Hex()),
		zap.Stringer("strategy", strategy),
		zap.String("asset", asset.Hex()),
		zap.String("amount", amount.String()),
		zap.String("premium", res.Premium.String()),
		zap.String("profit", res.Profit.String()),
		zap.String("fee", res.Fee.String()))
	return res, nil
}

// ExecuteOperation is the pool callback. It only accepts the single loan
// this executor has in flight.
func (e *Executor) ExecuteOperation(ctx *chain.Context, asset common.Address, amount, premium *big.Int, initiator common.Address, params []byte) (bool, error) {
	pool := e.pool.Get()
	if ctx.Sender != pool.Address() {
		return false, fmt.Errorf("%w: callback from %s", types.ErrUnauthorizedCaller, ctx.Sender.Hex())
	}
	if initiator != e.address {
		return false, fmt.Errorf("%w: loan initiated by %s", types.ErrUnauthorizedCaller, initiator.Hex())
	}
	pending := e.pending
	if pending == nil || pending.asset != asset || pending.amount.Cmp(amount) != 0 {
		return false, fmt.Errorf("%w: no matching loan in flight", types.ErrUnauthorizedCaller)
	}
	e.pending = nil

	req, err := DecodeRequest(params)
	if err != nil {
		return false, err
	}
	if req.Deadline <= ctx.Timestamp() {
		return false, fmt.Errorf("%w: deadline %d, now %d", types.ErrInvalidDeadline, req.Deadline, ctx.Timestamp())
	}

	self := ctx.As(e.address)
	ledger := self.Ledger()
	feeBps := e.feeBps.Get()
	before := ledger.BalanceOf(asset, e.address)

	loan := strategies.Loan{
		Asset:         asset,
		Amount:        new(big.Int).Set(amount),
		Premium:       new(big.Int).Set(premium),
		Initiator:     req.Caller,
		Deadline:      req.Deadline,
		ServiceFeeBps: feeBps,
	}
	if _, err := e.dispatch(e.env(self), req.Strategy, loan, req.Data); err != nil {
		return false, err
	}

	net := new(big.Int).Sub(ledger.BalanceOf(asset, e.address), before)
	profit := bmath.FloorZero(net)
	if profit.Cmp(req.ExpectedProfit) < 0 {
		return false, fmt.Errorf("%w: profit %s, expected %s", types.ErrInsufficientProfit, profit, req.ExpectedProfit)
	}

	fee := bmath.MulBps(profit, feeBps)
	owed := loan.Owed()
	// the operation pays its own premium and fee
	if new(big.Int).Sub(net, fee).Cmp(premium) < 0 {
		return false, fmt.Errorf("%w: net result %s does not cover premium %s and fee %s", types.ErrInsufficientBalance, net, premium, fee)
	}
	if fee.Sign() > 0 {
		if err := ledger.Transfer(asset, e.address, e.treasury.Get(), fee); err != nil {
			return false, err
		}
	}
	if balance := ledger.BalanceOf(asset, e.address); balance.Cmp(owed) < 0 {
		return false, fmt.Errorf("%w: balance %s, owed %s", types.ErrInsufficientBalance, balance, owed)
	}
	if err := ledger.Approve(asset, e.address, pool.Address(), new(big.Int)); err != nil {
		return false, err
	}
	if err := ledger.Approve(asset, e.address, pool.Address(), owed); err != nil {
		return false, err
	}

	e.assetProfit.Set(asset, new(big.Int).Add(e.TotalProfit(asset), profit))
	key := profitKey{req.Strategy, asset}
	e.profit.Set(key, new(big.Int).Add(e.StrategyProfit(req.Strategy, asset), profit))
	e.settled = &settlement{premium: new(big.Int).Set(premium), profit: profit, fee: fee}
	return true, nil
}

// ExecuteArbitrage encodes p and runs it through ExecuteFlashLoan.
func (e *Executor) ExecuteArbitrage(ctx *chain.Context, asset common.Address, amount *big.Int, p *strategies.ArbitrageParams, expectedProfit *big.Int, deadline, nonce uint64) (*Result, error) {
	data, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	return e.ExecuteFlashLoan(ctx, asset, amount, strategies.Arbitrage, data, expectedProfit, deadline, nonce)
}

// ExecuteLiquidation borrows p.DebtToCover of the debt asset and liquidates
// p.Borrower.
func (e *Executor) ExecuteLiquidation(ctx *chain.Context, p *strategies.LiquidationParams, expectedProfit *big.Int, deadline, nonce uint64) (*Result, error) {
	data, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	return e.ExecuteFlashLoan(ctx, p.DebtAsset, p.DebtToCover, strategies.Liquidation, data, expectedProfit, deadline, nonce)
}

// ExecuteRefinance borrows p.DebtAmount of the debt asset and refinances
// the caller's own position.
func (e *Executor) ExecuteRefinance(ctx *chain.Context, p *strategies.RefinanceParams, expectedProfit *big.Int, deadline, nonce uint64) (*Result, error) {
	data, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	return e.ExecuteFlashLoan(ctx, p.DebtAsset, p.DebtAmount, strategies.Refinance, data, expectedProfit, deadline, nonce)
}
