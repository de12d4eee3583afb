package scenario

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/executor"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/simulator"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// Outcome is what one request did and whether that matched its expectation.
type Outcome struct {
	Name      string
	Strategy  strategies.Kind
	Asset     common.Address
	Amount    *big.Int
	DryRun    bool
	Success   bool
	TxHash    common.Hash
	Premium   *big.Int
	Profit    *big.Int
	Fee       *big.Int
	GasUsed   uint64
	Condition string
	Err       error

	// Mismatch is empty when the outcome matched the expectation.
	Mismatch string
}

func (o *Outcome) Matched() bool { return o.Mismatch == "" }

// Run executes every request in order. A request that fails is reported in
// its outcome; Run itself only fails when a request cannot be built.
func (d *Deployment) Run(ctx context.Context) ([]*Outcome, error) {
	outcomes := make([]*Outcome, 0, len(d.Scenario.Requests))
	for i := range d.Scenario.Requests {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		out, err := d.RunRequest(ctx, &d.Scenario.Requests[i])
		if err != nil {
			return outcomes, fmt.Errorf("request %s: %w", d.Scenario.Requests[i].Name, err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, nil
}

// built is a request ready to hand to the executor.
type built struct {
	kind           strategies.Kind
	asset          common.Address
	amount         *big.Int
	data           []byte
	expectedProfit *big.Int
}

func (d *Deployment) RunRequest(ctx context.Context, r *Request) (*Outcome, error) {
	for symbol, price := range r.Prices {
		if err := d.SetPrice(symbol, price); err != nil {
			return nil, err
		}
	}
	if r.Advance > 0 {
		d.Chain.AdvanceTime(r.Advance)
	}

	from, err := d.Address(r.From)
	if err != nil {
		return nil, err
	}
	gasPrice, err := ParseUnits(r.GasPriceGwei, 9)
	if err != nil {
		return nil, err
	}
	deadline := d.Chain.Timestamp() + r.DeadlineIn
	b, err := d.build(r, deadline)
	if err != nil {
		return nil, err
	}

	sim, err := d.Simulator.SimulateFlashLoan(ctx, simulator.FlashLoanRequest{
		From:           from,
		GasPrice:       gasPrice,
		Asset:          b.asset,
		Amount:         b.amount,
		Strategy:       b.kind,
		Data:           b.data,
		ExpectedProfit: b.expectedProfit,
		Deadline:       deadline,
		Nonce:          d.Executor.Nonce(from),
	})
	if err != nil {
		return nil, err
	}
	out := &Outcome{
		Name:      r.Name,
		Strategy:  b.kind,
		Asset:     b.asset,
		Amount:    b.amount,
		DryRun:    r.DryRun,
		Success:   sim.Success,
		TxHash:    sim.TxHash,
		Premium:   sim.Premium,
		Profit:    sim.Profit,
		Fee:       sim.Fee,
		GasUsed:   sim.GasUsed,
		Condition: sim.Condition,
		Err:       sim.Error,
	}

	if !r.DryRun {
		nonce := d.Executor.Nonce(from)
		var res *executor.Result
		receipt, err := d.Chain.Transact(chain.Msg{From: from, GasPrice: gasPrice}, func(cctx *chain.Context) error {
			var err error
			res, err = d.Executor.ExecuteFlashLoan(cctx, b.asset, b.amount, b.kind, b.data, b.expectedProfit, deadline, nonce)
			return err
		})
		out.TxHash = receipt.TxHash
		out.Success = err == nil
		out.Err = err
		if err != nil {
			out.Condition = types.ConditionName(err)
			out.Profit, out.Fee = nil, nil
		} else {
			out.Condition = ""
			out.Profit, out.Fee = res.Profit, res.Fee
		}
	}

	d.check(r, out)
	d.logger.Info("request finished",
		zap.String("request", r.Name),
		zap.Stringer("strategy", b.kind),
		zap.Bool("success", out.Success),
		zap.Bool("dry_run", out.DryRun),
		zap.String("condition", out.Condition),
		zap.String("profit", d.Format(b.asset, out.Profit)),
		zap.String("mismatch", out.Mismatch))
	return out, nil
}

func (d *Deployment) check(r *Request, out *Outcome) {
	want := r.Expect
	switch {
	case want.Condition == "" && !out.Success:
		out.Mismatch = fmt.Sprintf("expected success, got %s", out.Condition)
	case want.Condition != "" && out.Success:
		out.Mismatch = fmt.Sprintf("expected %s, got success", want.Condition)
	case want.Condition != "" && want.Condition != out.Condition:
		out.Mismatch = fmt.Sprintf("expected %s, got %s", want.Condition, out.Condition)
	case want.Profit != "" && out.Success:
		token, ok := d.byAddr[out.Asset]
		if !ok {
			out.Mismatch = "profit expectation on an unknown asset"
			return
		}
		expected, err := decimal.NewFromString(want.Profit)
		if err != nil {
			out.Mismatch = fmt.Sprintf("bad expected profit %q", want.Profit)
			return
		}
		got := decimal.NewFromBigInt(out.Profit, -int32(token.Decimals))
		if !got.Equal(expected) {
			out.Mismatch = fmt.Sprintf("expected profit %s, got %s", expected, got)
		}
	}
}

func (d *Deployment) build(r *Request, deadline uint64) (*built, error) {
	kind, err := strategies.ParseKind(r.Strategy)
	if err != nil {
		return nil, err
	}
	b := &built{kind: kind}
	switch kind {
	case strategies.Arbitrage:
		p, err := d.arbitrageParams(r.Arbitrage)
		if err != nil {
			return nil, err
		}
		b.asset, b.amount = p.TokenIn, p.AmountIn
		b.data, err = p.Encode()
		if err != nil {
			return nil, err
		}
	case strategies.Liquidation:
		p, err := d.liquidationParams(r.Liquidation, deadline)
		if err != nil {
			return nil, err
		}
		b.asset, b.amount = p.DebtAsset, p.DebtToCover
		b.data, err = p.Encode()
		if err != nil {
			return nil, err
		}
	case strategies.Refinance:
		p, err := d.refinanceParams(r.Refinance, deadline)
		if err != nil {
			return nil, err
		}
		b.asset, b.amount = p.DebtAsset, p.DebtAmount
		b.data, err = p.Encode()
		if err != nil {
			return nil, err
		}
	}

	if r.ExpectedProfit != "" {
		token, err := d.Token(b.asset.Hex())
		if err != nil {
			return nil, err
		}
		if b.expectedProfit, err = ParseUnits(r.ExpectedProfit, token.Decimals); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (d *Deployment) arbitrageParams(spec *ArbitrageSpec) (*strategies.ArbitrageParams, error) {
	in, amount, err := d.amount(spec.TokenIn, spec.Amount)
	if err != nil {
		return nil, err
	}
	out, err := d.Token(spec.TokenOut)
	if err != nil {
		return nil, err
	}
	p := &strategies.ArbitrageParams{
		TokenIn:      in.Address,
		TokenOut:     out.Address,
		AmountIn:     amount,
		Fee:          spec.Fee,
		MinAmountOut: new(big.Int),
	}
	if spec.MinAmountOut != "" {
		if p.MinAmountOut, err = ParseUnits(spec.MinAmountOut, out.Decimals); err != nil {
			return nil, err
		}
	}
	if spec.Router != "" {
		if p.Router, err = d.Address(spec.Router); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (d *Deployment) liquidationParams(spec *LiquidationSpec, deadline uint64) (*strategies.LiquidationParams, error) {
	borrower, err := d.Address(spec.Borrower)
	if err != nil {
		return nil, err
	}
	collateral, err := d.Token(spec.Collateral)
	if err != nil {
		return nil, err
	}
	debt, amount, err := d.amount(spec.Debt, spec.DebtToCover)
	if err != nil {
		return nil, err
	}
	p := &strategies.LiquidationParams{
		Borrower:        borrower,
		CollateralAsset: collateral.Address,
		DebtAsset:       debt.Address,
		DebtToCover:     amount,
		ReceiveAToken:   spec.ReceiveAToken,
		MinProfitBps:    spec.MinProfitBps,
	}
	if spec.SwapRouter == "" {
		return p, nil
	}
	if p.SwapRouter, err = d.Address(spec.SwapRouter); err != nil {
		return nil, err
	}
	// the swap sells exactly what the liquidation is quoted to seize
	quote, err := d.Executor.PreviewLiquidationBonus(collateral.Address, debt.Address, amount)
	if err != nil {
		return nil, err
	}
	p.SwapData, err = dex.EncodeExactInputSingle(dex.ExactInputSingleParams{
		TokenIn:   collateral.Address,
		TokenOut:  debt.Address,
		Fee:       new(big.Int).SetUint64(uint64(spec.SwapFee)),
		Recipient: d.Executor.Address(),
		Deadline:  new(big.Int).SetUint64(deadline),
		AmountIn:  quote.CollateralAmount,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *Deployment) refinanceParams(spec *RefinanceSpec, deadline uint64) (*strategies.RefinanceParams, error) {
	debt, debtAmount, err := d.amount(spec.Debt, spec.DebtAmount)
	if err != nil {
		return nil, err
	}
	collateral, collateralAmount, err := d.amount(spec.Collateral, spec.CollateralAmount)
	if err != nil {
		return nil, err
	}
	_, newBorrow, err := d.amount(spec.Debt, spec.NewBorrowAmount)
	if err != nil {
		return nil, err
	}
	current, err := flashloan.ParseRateMode(spec.CurrentMode)
	if err != nil {
		return nil, err
	}
	next, err := flashloan.ParseRateMode(spec.NewMode)
	if err != nil {
		return nil, err
	}
	minHF := new(big.Int).Set(bmath.WAD)
	if spec.MinHealthFactor != "" {
		if minHF, err = ParseUnits(spec.MinHealthFactor, 18); err != nil {
			return nil, err
		}
	}
	p := &strategies.RefinanceParams{
		DebtAsset:        debt.Address,
		DebtAmount:       debtAmount,
		CurrentRateMode:  current,
		NewRateMode:      next,
		CollateralAsset:  collateral.Address,
		CollateralAmount: collateralAmount,
		NewBorrowAmount:  newBorrow,
		MinHealthFactor:  minHF,
		MinSwapOutput:    new(big.Int),
	}
	if spec.NewCollateral == "" {
		return p, nil
	}

	target, err := d.Token(spec.NewCollateral)
	if err != nil {
		return nil, err
	}
	p.NewCollateralAsset = target.Address
	if p.SwapRouter, err = d.Address(spec.SwapRouter); err != nil {
		return nil, err
	}
	if spec.MinSwapOutput != "" {
		if p.MinSwapOutput, err = ParseUnits(spec.MinSwapOutput, target.Decimals); err != nil {
			return nil, err
		}
	}
	p.SwapData, err = dex.EncodeExactInputSingle(dex.ExactInputSingleParams{
		TokenIn:          collateral.Address,
		TokenOut:         target.Address,
		Fee:              new(big.Int).SetUint64(uint64(spec.SwapFee)),
		Recipient:        d.Executor.Address(),
		Deadline:         new(big.Int).SetUint64(deadline),
		AmountIn:         collateralAmount,
		AmountOutMinimum: p.MinSwapOutput,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
