// Package arbitrage runs a single-venue round trip on borrowed funds.
package arbitrage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	bmath "github.com/michaelpento.lv/flashexec/utils/math"
)

// Execute swaps p.AmountIn of the borrowed asset into p.TokenOut and, when
// that differs from the borrowed asset, back again at the same venue. It
// returns the gain in the borrowed asset, floored at zero.
func Execute(env *strategies.Env, loan strategies.Loan, p *strategies.ArbitrageParams) (*big.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.TokenIn != loan.Asset {
		return nil, fmt.Errorf("%w: tokenIn %s is not the borrowed asset %s", types.ErrInvalidParams, p.TokenIn.Hex(), loan.Asset.Hex())
	}
	if p.AmountIn.Cmp(loan.Amount) > 0 {
		return nil, fmt.Errorf("%w: amountIn %s exceeds loan %s", types.ErrInvalidAmount, p.AmountIn, loan.Amount)
	}

	venue := p.Router
	if venue == (common.Address{}) {
		venue = env.DefaultRouter
	}
	before := env.Balance(loan.Asset)

	out, err := swap(env, loan, venue, p.TokenIn, p.TokenOut, p.Fee, p.AmountIn, p.MinAmountOut)
	if err != nil {
		return nil, err
	}
	if p.TokenOut != loan.Asset {
		// the second hop is bounded by the settlement profit check
		if _, err := swap(env, loan, venue, p.TokenOut, loan.Asset, p.Fee, out, new(big.Int)); err != nil {
			return nil, err
		}
	}

	profit := bmath.FloorZero(new(big.Int).Sub(env.Balance(loan.Asset), before))
	env.Logger.Info("arbitrage completed",
		zap.String("venue", venue.Hex()),
		zap.String("asset", loan.Asset.Hex()),
		zap.String("via", p.TokenOut.Hex()),
		zap.String("amount_in", p.AmountIn.String()),
		zap.String("profit", profit.String()))
	return profit, nil
}

func swap(env *strategies.Env, loan strategies.Loan, venue, from, to common.Address, fee uint32, amountIn, minOut *big.Int) (*big.Int, error) {
	calldata, err := dex.EncodeExactInputSingle(dex.ExactInputSingleParams{
		TokenIn:          from,
		TokenOut:         to,
		Fee:              new(big.Int).SetUint64(uint64(fee)),
		Recipient:        env.Self,
		Deadline:         new(big.Int).SetUint64(loan.Deadline),
		AmountIn:         amountIn,
		AmountOutMinimum: bmath.NewBigInt(minOut),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidParams, err)
	}
	return env.Swapper.Swap(env.Ctx, from, to, amountIn, minOut, venue, calldata)
}
