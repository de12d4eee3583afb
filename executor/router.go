package executor

import (
	"fmt"
	"math/big"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/strategies/arbitrage"
	"github.com/michaelpento.lv/flashexec/strategies/liquidation"
	"github.com/michaelpento.lv/flashexec/strategies/refinance"
	"github.com/michaelpento.lv/flashexec/types"
)

func (e *Executor) env(self *chain.Context) *strategies.Env {
	return &strategies.Env{
		Ctx:           self,
		Self:          e.address,
		Pool:          e.pool.Get(),
		Swapper:       e.swapper,
		Oracle:        e.oracle(),
		DefaultRouter: e.defaultRouter.Get(),
		Logger:        e.logger,
	}
}

// dispatch decodes data for kind and runs the matching strategy. It returns
// the strategy's own profit figure, which settlement does not rely on.
func (e *Executor) dispatch(env *strategies.Env, kind strategies.Kind, loan strategies.Loan, data []byte) (*big.Int, error) {
	if !e.StrategyEnabled(kind) {
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedStrategy, kind)
	}
	switch kind {
	case strategies.Arbitrage:
		p, err := strategies.DecodeArbitrageParams(data)
		if err != nil {
			return nil, err
		}
		return arbitrage.Execute(env, loan, p)
	case strategies.Liquidation:
		p, err := strategies.DecodeLiquidationParams(data)
		if err != nil {
			return nil, err
		}
		return liquidation.Execute(env, loan, p)
	case strategies.Refinance:
		p, err := strategies.DecodeRefinanceParams(data)
		if err != nil {
			return nil, err
		}
		return refinance.Execute(env, loan, p)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedStrategy, kind)
	}
}
