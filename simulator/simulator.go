package simulator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/executor"
	"github.com/michaelpento.lv/flashexec/gas"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
)

// SimulationResult represents the result of a dry run
type SimulationResult struct {
	Success bool
	// GasUsed is estimated from the strategy and the number of swaps the
	// run performed.
	GasUsed uint64
	TxHash  common.Hash

	Premium *big.Int
	Profit  *big.Int
	Fee     *big.Int

	// Condition and Category name the failure when Success is false.
	Condition string
	Category  types.Category
	Error     error

	Events []chain.Event
}

// FlashLoanRequest is everything ExecuteFlashLoan takes, plus the sender and
// gas price of the enclosing transaction.
type FlashLoanRequest struct {
	From           common.Address
	GasPrice       *big.Int
	Asset          common.Address
	Amount         *big.Int
	Strategy       strategies.Kind
	Data           []byte
	ExpectedProfit *big.Int
	Deadline       uint64
	Nonce          uint64
}

// Simulator runs requests against the executor as static calls. Nothing a
// simulation does is kept.
type Simulator struct {
	chain  *chain.Chain
	exec   *executor.Executor
	logger *zap.Logger
}

// NewSimulator creates a new simulator
func NewSimulator(c *chain.Chain, exec *executor.Executor, logger *zap.Logger) (*Simulator, error) {
	if c == nil || exec == nil {
		return nil, fmt.Errorf("chain and executor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{chain: c, exec: exec, logger: logger}, nil
}

// SimulateTransaction dry-runs fn as a transaction from the given sender.
// A reverted run is reported in the result, not as an error.
func (s *Simulator) SimulateTransaction(ctx context.Context, from common.Address, gasPrice *big.Int, fn func(ctx *chain.Context) error) (*SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	receipt, err := s.chain.Call(chain.Msg{From: from, GasPrice: gasPrice}, fn)
	result := &SimulationResult{
		Success: err == nil,
		TxHash:  receipt.TxHash,
		Events:  receipt.Logs,
	}
	if err != nil {
		result.Error = err
		result.Condition = types.ConditionName(err)
		result.Category = types.CategoryOf(err)
	}
	return result, nil
}

// SimulateFlashLoan dry-runs a flash loan request and reports its premium,
// profit and fee, or the condition it would fail with.
func (s *Simulator) SimulateFlashLoan(ctx context.Context, req FlashLoanRequest) (*SimulationResult, error) {
	var res *executor.Result
	result, err := s.SimulateTransaction(ctx, req.From, req.GasPrice, func(cctx *chain.Context) error {
		var err error
		res, err = s.exec.ExecuteFlashLoan(cctx, req.Asset, req.Amount, req.Strategy, req.Data, req.ExpectedProfit, req.Deadline, req.Nonce)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res != nil {
		result.Premium = res.Premium
		result.Profit = res.Profit
		result.Fee = res.Fee
	} else if premium, err := s.exec.PreviewFlashLoanFee(req.Asset, req.Amount); err == nil {
		result.Premium = premium
	}

	if result.Success {
		gasUsed, err := gas.EstimateStrategyGas(req.Strategy, countSwaps(result.Events))
		if err != nil {
			return nil, err
		}
		result.GasUsed = gasUsed
	}

	s.logger.Debug("flash loan simulated",
		zap.String("from", req.From.Hex()),
		zap.Stringer("strategy", req.Strategy),
		zap.Bool("success", result.Success),
		zap.String("condition", result.Condition),
		zap.Uint64("gas", result.GasUsed))
	return result, nil
}

// SimulateArbitrage encodes p and dry-runs it as an arbitrage loan of
// p.AmountIn of p.TokenIn.
func (s *Simulator) SimulateArbitrage(ctx context.Context, req FlashLoanRequest, p *strategies.ArbitrageParams) (*SimulationResult, error) {
	data, err := p.Encode()
	if err != nil {
		return nil, err
	}
	req.Strategy = strategies.Arbitrage
	req.Asset = p.TokenIn
	req.Amount = p.AmountIn
	req.Data = data
	return s.SimulateFlashLoan(ctx, req)
}

func countSwaps(events []chain.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Name == dex.EventSwap {
			n++
		}
	}
	return n
}
