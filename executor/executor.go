// Package executor is the flash loan orchestrator: it accepts requests,
// borrows from the lending pool, dispatches to a strategy inside the pool
// callback and settles fee and repayment.
package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/access"
	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/oracle"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	"github.com/michaelpento.lv/flashexec/utils/metrics"
)

// MaxFeeBps caps the service fee at 10%.
const MaxFeeBps = 1_000

type Config struct {
	Address            common.Address
	Admin              common.Address
	ChainID            uint64
	Treasury           common.Address
	FeeBps             uint64
	MaxGasPrice        *big.Int
	MinFlashLoanAmount *big.Int
	// DefaultDailyLimit applies to users without their own limit. Zero
	// means no cap.
	DefaultDailyLimit *big.Int
	// DefaultRouter is used by arbitrage requests that name no venue.
	DefaultRouter common.Address
	Routers       []common.Address
	// Upgradeable deployments may replace the lending pool.
	Upgradeable bool
}

func (c *Config) validate() error {
	switch {
	case c.Address == (common.Address{}):
		return fmt.Errorf("%w: executor address is required", types.ErrInvalidParams)
	case c.Admin == (common.Address{}):
		return fmt.Errorf("%w: admin is required", types.ErrInvalidParams)
	case c.Treasury == (common.Address{}):
		return fmt.Errorf("%w: treasury is required", types.ErrInvalidParams)
	case c.FeeBps > MaxFeeBps:
		return fmt.Errorf("%w: fee %d bps exceeds %d", types.ErrInvalidFee, c.FeeBps, MaxFeeBps)
	case c.MaxGasPrice == nil || c.MaxGasPrice.Sign() <= 0:
		return fmt.Errorf("%w: max gas price must be positive", types.ErrInvalidParams)
	case c.MinFlashLoanAmount != nil && c.MinFlashLoanAmount.Sign() < 0:
		return fmt.Errorf("%w: negative minimum loan", types.ErrInvalidAmount)
	case c.DefaultDailyLimit != nil && c.DefaultDailyLimit.Sign() < 0:
		return fmt.Errorf("%w: negative daily limit", types.ErrInvalidAmount)
	}
	return nil
}

type profitKey struct {
	strategy strategies.Kind
	asset    common.Address
}

// pendingLoan marks the single callback ExecuteFlashLoan expects.
type pendingLoan struct {
	asset  common.Address
	amount *big.Int
}

type settlement struct {
	premium *big.Int
	profit  *big.Int
	fee     *big.Int
}

// Result describes a settled flash loan.
type Result struct {
	Asset    common.Address
	Amount   *big.Int
	Premium  *big.Int
	Strategy strategies.Kind
	Profit   *big.Int
	Fee      *big.Int
}

type Executor struct {
	address     common.Address
	chainID     uint64
	upgradeable bool

	control  *access.Control
	accounts *access.Accounts
	swapper  *dex.Swapper

	pool          *chain.Var[flashloan.Pool]
	feeBps        *chain.Var[uint64]
	treasury      *chain.Var[common.Address]
	maxGasPrice   *chain.Var[*big.Int]
	minAmount     *chain.Var[*big.Int]
	defaultRouter *chain.Var[common.Address]
	enabled       *chain.Map[strategies.Kind, bool]
	assetProfit   *chain.Map[common.Address, *big.Int]
	profit        *chain.Map[profitKey, *big.Int]

	// transient for the duration of one ExecuteFlashLoan
	pending *pendingLoan
	settled *settlement

	metrics *metrics.ExecutorMetrics
	logger  *zap.Logger
}

// New deploys an executor on c against pool. Every venue is registered with
// the swap adapter; the ones listed in cfg.Routers are also supported.
func New(c *chain.Chain, pool flashloan.Pool, venues []dex.Venue, cfg Config, reg prometheus.Registerer, logger *zap.Logger) (*Executor, error) {
	if c == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("lending pool is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if c.ChainID().Cmp(new(big.Int).SetUint64(cfg.ChainID)) != 0 {
		return nil, fmt.Errorf("%w: configured %d, chain %s", types.ErrNetworkMismatch, cfg.ChainID, c.ChainID())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("executor", cfg.Address.Hex()))

	control, err := access.NewControl(c, cfg.Admin, logger)
	if err != nil {
		return nil, err
	}
	swapper, err := dex.NewSwapper(c, cfg.Address, logger, cfg.Routers...)
	if err != nil {
		return nil, err
	}
	for _, v := range venues {
		swapper.Register(v)
	}

	minAmount := new(big.Int)
	if cfg.MinFlashLoanAmount != nil {
		minAmount.Set(cfg.MinFlashLoanAmount)
	}
	e := &Executor{
		address:       cfg.Address,
		chainID:       cfg.ChainID,
		upgradeable:   cfg.Upgradeable,
		control:       control,
		accounts:      access.NewAccounts(c, cfg.DefaultDailyLimit),
		swapper:       swapper,
		pool:          chain.NewVar(c, pool),
		feeBps:        chain.NewVar(c, cfg.FeeBps),
		treasury:      chain.NewVar(c, cfg.Treasury),
		maxGasPrice:   chain.NewVar(c, new(big.Int).Set(cfg.MaxGasPrice)),
		minAmount:     chain.NewVar(c, minAmount),
		defaultRouter: chain.NewVar(c, cfg.DefaultRouter),
		enabled:       chain.NewMap[strategies.Kind, bool](c),
		assetProfit:   chain.NewMap[common.Address, *big.Int](c),
		profit:        chain.NewMap[profitKey, *big.Int](c),
		metrics:       metrics.NewExecutorMetrics(reg, "flashexec"),
		logger:        logger,
	}
	for _, k := range strategies.Kinds() {
		e.enabled.Seed(k, true)
	}

	logger.Info("executor deployed",
		zap.Uint64("chain_id", cfg.ChainID),
		zap.String("pool", pool.Address().Hex()),
		zap.Uint64("fee_bps", cfg.FeeBps),
		zap.Int("routers", len(cfg.Routers)))
	return e, nil
}

// Address implements flashloan.Receiver.
func (e *Executor) Address() common.Address {
	return e.address
}

func (e *Executor) Control() *access.Control {
	return e.control
}

func (e *Executor) Accounts() *access.Accounts {
	return e.accounts
}

func (e *Executor) Swapper() *dex.Swapper {
	return e.swapper
}

func (e *Executor) Pool() flashloan.Pool {
	return e.pool.Get()
}

func (e *Executor) Metrics() *metrics.ExecutorMetrics {
	return e.metrics
}

func (e *Executor) oracle() *oracle.Adapter {
	return oracle.FromPool(e.pool.Get())
}

// TotalProfit is the cumulative realized profit in asset.
func (e *Executor) TotalProfit(asset common.Address) *big.Int {
	v, ok := e.assetProfit.Get(asset)
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// StrategyProfit is the cumulative realized profit of strategy in asset.
func (e *Executor) StrategyProfit(strategy strategies.Kind, asset common.Address) *big.Int {
	v, ok := e.profit.Get(profitKey{strategy, asset})
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (e *Executor) StrategyEnabled(strategy strategies.Kind) bool {
	ok, _ := e.enabled.Get(strategy)
	return ok
}

func (e *Executor) Treasury() common.Address {
	return e.treasury.Get()
}

func (e *Executor) MaxGasPrice() *big.Int {
	return new(big.Int).Set(e.maxGasPrice.Get())
}

func (e *Executor) MinFlashLoanAmount() *big.Int {
	return new(big.Int).Set(e.minAmount.Get())
}

func (e *Executor) DefaultRouter() common.Address {
	return e.defaultRouter.Get()
}
