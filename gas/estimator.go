package gas

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	"github.com/michaelpento.lv/flashexec/utils/metrics"
)

const (
	txBaseGas = 21_000
	// flashLoanSimple, the callback frame, premium accounting and repayment
	flashLoanGas = 180_000
	// storage reads, token transfers and swap execution of one venue hop
	swapHopGas = 152_000

	liquidationCallGas = 350_000
	permitGas          = 60_000
	repayGas           = 120_000
	collateralMoveGas  = 180_000
	supplyGas          = 120_000
	borrowGas          = 150_000
)

// FeeSource is the part of ethclient.Client the estimator samples.
type FeeSource interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
}

// Estimator provides gas price estimation and tracking
type Estimator struct {
	source  FeeSource
	ceiling *big.Int
	metrics *metrics.GasMetrics
	logger  *zap.Logger

	mu           sync.RWMutex
	baseGasPrice *big.Int
	priorityFee  *big.Int
}

// NewEstimator creates a gas estimator. A nil ceiling disables CheckCeiling.
func NewEstimator(source FeeSource, ceiling *big.Int, m *metrics.GasMetrics, logger *zap.Logger) (*Estimator, error) {
	if source == nil {
		return nil, fmt.Errorf("fee source is required")
	}
	if m == nil {
		m = metrics.NewGasMetrics(nil, "flashexec")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{
		source:       source,
		ceiling:      ceiling,
		metrics:      m,
		logger:       logger,
		baseGasPrice: new(big.Int),
		priorityFee:  new(big.Int),
	}, nil
}

// Run samples gas prices every interval until ctx is done.
func (e *Estimator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := e.Update(ctx); err != nil {
			e.logger.Error("Failed to update gas prices", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Update fetches the latest base fee and priority fee suggestion.
func (e *Estimator) Update(ctx context.Context) error {
	header, err := e.source.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}
	baseFee := new(big.Int)
	if header.BaseFee != nil {
		baseFee.Set(header.BaseFee)
	}

	priorityFee, err := e.source.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get priority fee: %w", err)
	}

	e.mu.Lock()
	e.baseGasPrice = baseFee
	e.priorityFee = new(big.Int).Set(priorityFee)
	e.mu.Unlock()

	price, _ := new(big.Float).SetInt(e.GasPrice()).Float64()
	e.metrics.GasPrice.Observe(price)
	return nil
}

// GasPrice is the last sampled base fee plus priority fee.
func (e *Estimator) GasPrice() *big.Int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return new(big.Int).Add(e.baseGasPrice, e.priorityFee)
}

// CheckCeiling fails when the sampled gas price is above the ceiling.
func (e *Estimator) CheckCeiling() error {
	err := CheckCeiling(e.GasPrice(), e.ceiling)
	if err != nil {
		e.metrics.CeilingRejects.Inc()
	}
	return err
}

// EstimateGasCost estimates the cost in wei of executing strategy with the
// given number of venue swaps at the sampled gas price.
func (e *Estimator) EstimateGasCost(strategy strategies.Kind, swaps int) (*big.Int, error) {
	gasUsed, err := EstimateStrategyGas(strategy, swaps)
	if err != nil {
		return nil, err
	}
	e.metrics.EstimatedGasUsed.WithLabelValues(strategy.String()).Observe(float64(gasUsed))
	return new(big.Int).Mul(e.GasPrice(), new(big.Int).SetUint64(gasUsed)), nil
}

// CheckCeiling fails with ErrGasPriceTooHigh when price exceeds ceiling. A
// nil ceiling means no cap.
func CheckCeiling(price, ceiling *big.Int) error {
	if ceiling == nil || price == nil {
		return nil
	}
	if price.Cmp(ceiling) > 0 {
		return fmt.Errorf("%w: %s > %s", types.ErrGasPriceTooHigh, price, ceiling)
	}
	return nil
}

// EstimateStrategyGas approximates the gas used by a flash loan running
// strategy with the given number of venue swaps.
func EstimateStrategyGas(strategy strategies.Kind, swaps int) (uint64, error) {
	if swaps < 0 {
		return 0, fmt.Errorf("%w: negative swap count", types.ErrInvalidParams)
	}
	gasUsed := uint64(txBaseGas+flashLoanGas) + uint64(swaps)*swapHopGas
	switch strategy {
	case strategies.Arbitrage:
	case strategies.Liquidation:
		gasUsed += liquidationCallGas
	case strategies.Refinance:
		gasUsed += permitGas + repayGas + collateralMoveGas + supplyGas + borrowGas
	default:
		return 0, fmt.Errorf("%w: %s", types.ErrUnsupportedStrategy, strategy)
	}
	return gasUsed, nil
}
