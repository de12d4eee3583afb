package executor

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/michaelpento.lv/flashexec/access"
	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/flashloan/aave"
	"github.com/michaelpento.lv/flashexec/strategies"
	"github.com/michaelpento.lv/flashexec/types"
	"github.com/michaelpento.lv/flashexec/utils/testutils"
)

var (
	executorAddr = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
	admin        = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	operator     = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	alice        = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	mallory      = common.HexToAddress("0x0000000000000000000000000000000000000bad")
	treasury     = common.HexToAddress("0x0000000000000000000000000000000000007e55")
	rateVenue    = common.HexToAddress("0x0000000000000000000000000000000000007a7e")

	deadline = uint64(testutils.StartTime + 300)
)

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e9))
}

type harness struct {
	t     *testing.T
	fx    *testutils.Fixture
	exec  *Executor
	venue *testutils.RateVenue
	reg   *prometheus.Registry
}

func newHarness(t *testing.T, mutate func(cfg *Config)) *harness {
	fx := testutils.NewFixture(t)
	venue := testutils.NewRateVenue(rateVenue)
	// DAI -> USDC at par, USDC -> DAI 0.5% rich
	venue.SetRate(testutils.DAI, testutils.USDC, 1, 1_000_000_000_000)
	venue.SetRate(testutils.USDC, testutils.DAI, 201_000_000_000_000, 200)

	cfg := Config{
		Address:            executorAddr,
		Admin:              admin,
		ChainID:            testutils.ChainID,
		Treasury:           treasury,
		FeeBps:             25,
		MaxGasPrice:        gwei(100),
		MinFlashLoanAmount: testutils.Ether(1),
		DefaultRouter:      rateVenue,
		Routers:            []common.Address{rateVenue, testutils.RouterAddress},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reg := prometheus.NewRegistry()
	exec, err := New(fx.Chain, fx.Pool, []dex.Venue{venue, fx.Router}, cfg, reg, zaptest.NewLogger(t))
	require.NoError(t, err)

	h := &harness{t: t, fx: fx, exec: exec, venue: venue, reg: reg}
	h.mustAs(admin, func(ctx *chain.Context) error {
		if err := exec.SetWhitelisted(ctx, alice, true); err != nil {
			return err
		}
		return exec.GrantRole(ctx, access.OperatorRole, operator)
	})
	return h
}

func (h *harness) as(from common.Address, fn func(ctx *chain.Context) error) (*chain.Receipt, error) {
	return h.fx.Chain.Transact(chain.Msg{From: from, GasPrice: gwei(30)}, fn)
}

func (h *harness) mustAs(from common.Address, fn func(ctx *chain.Context) error) *chain.Receipt {
	h.t.Helper()
	receipt, err := h.as(from, fn)
	require.NoError(h.t, err)
	return receipt
}

func arbParams(amountIn *big.Int) *strategies.ArbitrageParams {
	return &strategies.ArbitrageParams{
		TokenIn:      testutils.DAI,
		TokenOut:     testutils.USDC,
		AmountIn:     amountIn,
		Fee:          500,
		MinAmountOut: new(big.Int),
	}
}

// arbitrage borrows amount of DAI and round-trips all of it through the
// rate venue.
func (h *harness) arbitrage(from common.Address, amount, expectedProfit *big.Int, nonce uint64) (*Result, *chain.Receipt, error) {
	var res *Result
	receipt, err := h.as(from, func(ctx *chain.Context) error {
		var err error
		res, err = h.exec.ExecuteArbitrage(ctx, testutils.DAI, amount, arbParams(amount), expectedProfit, deadline, nonce)
		return err
	})
	return res, receipt, err
}

func TestNew(t *testing.T) {
	fx := testutils.NewFixture(t)
	base := Config{
		Address:     executorAddr,
		Admin:       admin,
		ChainID:     testutils.ChainID,
		Treasury:    treasury,
		MaxGasPrice: gwei(100),
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr error
	}{
		{"NetworkMismatch", func(cfg *Config) { cfg.ChainID = 137 }, types.ErrNetworkMismatch},
		{"FeeTooHigh", func(cfg *Config) { cfg.FeeBps = MaxFeeBps + 1 }, types.ErrInvalidFee},
		{"NoTreasury", func(cfg *Config) { cfg.Treasury = common.Address{} }, types.ErrInvalidParams},
		{"NoGasCeiling", func(cfg *Config) { cfg.MaxGasPrice = nil }, types.ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(fx.Chain, fx.Pool, nil, cfg, nil, zaptest.NewLogger(t))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := New(fx.Chain, nil, nil, base, nil, nil)
	assert.Error(t, err)
}

// Borrow 10,000 at a 9 bps premium, make exactly 50 gross, pay a 25 bps fee.
func TestExecuteFlashLoanScenario(t *testing.T) {
	h := newHarness(t, nil)
	poolBefore := h.fx.Balance(testutils.DAI, testutils.PoolAddress)

	res, receipt, err := h.arbitrage(alice, testutils.Ether(10_000), testutils.Ether(50), 0)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded())

	assert.Equal(t, testutils.Ether(9).String(), res.Premium.String())
	assert.Equal(t, testutils.Ether(50).String(), res.Profit.String())
	assert.Equal(t, "125000000000000000", res.Fee.String())

	assert.Equal(t, "125000000000000000", h.fx.Balance(testutils.DAI, treasury).String())
	assert.Equal(t, new(big.Int).Add(poolBefore, testutils.Ether(9)).String(), h.fx.Balance(testutils.DAI, testutils.PoolAddress).String())
	// 50 - 9 - 0.125 stays with the executor
	assert.Equal(t, "40875000000000000000", h.fx.Balance(testutils.DAI, executorAddr).String())
	assert.Equal(t, int64(0), h.fx.Chain.Ledger().Allowance(testutils.DAI, executorAddr, testutils.PoolAddress).Int64())

	assert.Equal(t, uint64(1), h.exec.Nonce(alice))
	assert.Equal(t, testutils.Ether(50).String(), h.exec.TotalProfit(testutils.DAI).String())
	assert.Equal(t, testutils.Ether(50).String(), h.exec.StrategyProfit(strategies.Arbitrage, testutils.DAI).String())

	ev, ok := receipt.FindEvent(EventFlashLoanExecuted)
	require.True(t, ok)
	executed := ev.Data.(FlashLoanExecuted)
	assert.Equal(t, alice, executed.Caller)
	assert.Equal(t, strategies.Arbitrage, executed.Strategy)
	assert.Equal(t, testutils.Ether(10_000).String(), executed.Amount.String())
	_, ok = receipt.FindEvent("FlashLoan")
	assert.True(t, ok)

	stored, ok := h.fx.Chain.Receipt(receipt.TxHash)
	require.True(t, ok)
	assert.Equal(t, receipt, stored)

	assert.Equal(t, float64(1), testutil.ToFloat64(h.exec.Metrics().Executions.WithLabelValues("arbitrage")))
}

func TestExecuteFlashLoanRollsBackOnInsufficientProfit(t *testing.T) {
	h := newHarness(t, nil)
	poolBefore := h.fx.Balance(testutils.DAI, testutils.PoolAddress)

	_, receipt, err := h.arbitrage(alice, testutils.Ether(10_000), testutils.Ether(51), 0)
	assert.ErrorIs(t, err, types.ErrInsufficientProfit)
	assert.False(t, receipt.Succeeded())
	assert.Empty(t, receipt.Logs)

	assert.Equal(t, uint64(0), h.exec.Nonce(alice))
	assert.Equal(t, int64(0), h.fx.Balance(testutils.DAI, executorAddr).Int64())
	assert.Equal(t, int64(0), h.fx.Balance(testutils.DAI, treasury).Int64())
	assert.Equal(t, int64(0), h.fx.Balance(testutils.USDC, executorAddr).Int64())
	assert.Equal(t, poolBefore.String(), h.fx.Balance(testutils.DAI, testutils.PoolAddress).String())
	assert.Equal(t, 0, h.exec.Accounts().Get(alice).DailyVolumeUsed.Sign())
	assert.Equal(t, int64(0), h.exec.TotalProfit(testutils.DAI).Int64())
	assert.False(t, h.exec.Control().Locked())

	assert.Equal(t, float64(1), testutil.ToFloat64(h.exec.Metrics().Failures.WithLabelValues("InsufficientProfit")))
}

func TestExecuteFlashLoanPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(h *harness)
		from    common.Address
		amount  *big.Int
		nonce   uint64
		gas     *big.Int
		profit  *big.Int
		wantErr error
	}{
		{
			name:    "Paused",
			setup:   func(h *harness) { h.mustAs(admin, h.exec.Pause) },
			wantErr: types.ErrPaused,
		},
		{
			name:    "NotWhitelisted",
			from:    mallory,
			wantErr: types.ErrUnauthorizedCaller,
		},
		{
			name:    "ZeroAmount",
			amount:  new(big.Int),
			wantErr: types.ErrInvalidAmount,
		},
		{
			name:    "BelowMinimum",
			amount:  big.NewInt(999),
			wantErr: types.ErrInvalidAmount,
		},
		{
			name:    "NegativeExpectedProfit",
			profit:  big.NewInt(-1),
			wantErr: types.ErrInvalidAmount,
		},
		{
			name:    "DeadlineReached",
			setup:   func(h *harness) { h.fx.Chain.SetTime(deadline) },
			wantErr: types.ErrInvalidDeadline,
		},
		{
			name:    "SkippedNonce",
			nonce:   1,
			wantErr: types.ErrInvalidNonce,
		},
		{
			name:    "GasPriceTooHigh",
			gas:     gwei(101),
			wantErr: types.ErrGasPriceTooHigh,
		},
		{
			name: "StrategyDisabled",
			setup: func(h *harness) {
				h.mustAs(admin, func(ctx *chain.Context) error {
					return h.exec.SetStrategyEnabled(ctx, strategies.Arbitrage, false)
				})
			},
			wantErr: types.ErrUnsupportedStrategy,
		},
		{
			name: "DailyLimitExceeded",
			setup: func(h *harness) {
				h.mustAs(admin, func(ctx *chain.Context) error {
					return h.exec.SetUserDailyLimit(ctx, alice, testutils.Ether(9_999))
				})
			},
			wantErr: types.ErrDailyLimitExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			if tt.setup != nil {
				tt.setup(h)
			}
			from := alice
			if tt.from != (common.Address{}) {
				from = tt.from
			}
			amount := testutils.Ether(10_000)
			if tt.amount != nil {
				amount = tt.amount
			}
			gasPrice := gwei(30)
			if tt.gas != nil {
				gasPrice = tt.gas
			}

			_, err := h.fx.Chain.Transact(chain.Msg{From: from, GasPrice: gasPrice}, func(ctx *chain.Context) error {
				_, err := h.exec.ExecuteArbitrage(ctx, testutils.DAI, amount, arbParams(amount), tt.profit, deadline, tt.nonce)
				return err
			})
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, types.CategoryOf(tt.wantErr), types.CategoryOf(err))
			assert.Equal(t, 0, h.venue.Calls)
			assert.Equal(t, uint64(0), h.exec.Nonce(from))
		})
	}
}

func TestExecuteFlashLoanOperator(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.arbitrage(operator, testutils.Ether(10_000), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.exec.Nonce(operator))
}

func TestNonceSequence(t *testing.T) {
	h := newHarness(t, nil)

	for nonce := uint64(0); nonce < 3; nonce++ {
		_, _, err := h.arbitrage(alice, testutils.Ether(100), nil, nonce)
		require.NoError(t, err)
		assert.Equal(t, nonce+1, h.exec.Nonce(alice))
	}

	_, _, err := h.arbitrage(alice, testutils.Ether(100), nil, 1)
	assert.ErrorIs(t, err, types.ErrInvalidNonce)
	assert.Equal(t, uint64(3), h.exec.Nonce(alice))
}

func TestDailyVolumeResetsOnce(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.DefaultDailyLimit = testutils.Ether(15_000) })

	_, _, err := h.arbitrage(alice, testutils.Ether(10_000), nil, 0)
	require.NoError(t, err)
	_, _, err = h.arbitrage(alice, testutils.Ether(10_000), nil, 1)
	assert.ErrorIs(t, err, types.ErrDailyLimitExceeded)
	_, _, err = h.arbitrage(alice, testutils.Ether(5_000), nil, 1)
	require.NoError(t, err)

	h.fx.Chain.AdvanceTime(86_400)
	next := deadline + 86_400
	_, err = h.as(alice, func(ctx *chain.Context) error {
		_, err := h.exec.ExecuteArbitrage(ctx, testutils.DAI, testutils.Ether(10_000), arbParams(testutils.Ether(10_000)), nil, next, 2)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, testutils.Ether(10_000).String(), h.exec.Accounts().Get(alice).DailyVolumeUsed.String())
}

func TestSettlementNeverUsesExistingFunds(t *testing.T) {
	h := newHarness(t, nil)
	// 5 DAI of profit on 10,000 does not pay the 9 DAI premium
	h.venue.SetRate(testutils.USDC, testutils.DAI, 2_001_000_000_000_000, 2_000)
	h.fx.Mint(testutils.DAI, executorAddr, testutils.Ether(1_000))

	_, _, err := h.arbitrage(alice, testutils.Ether(10_000), nil, 0)
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)
	assert.Equal(t, testutils.Ether(1_000).String(), h.fx.Balance(testutils.DAI, executorAddr).String())
}

func TestExecuteOperationGuards(t *testing.T) {
	h := newHarness(t, nil)
	req := &Request{Strategy: strategies.Arbitrage, Caller: alice, ExpectedProfit: new(big.Int), Deadline: deadline}
	params, err := req.Encode()
	require.NoError(t, err)

	t.Run("SenderIsNotPool", func(t *testing.T) {
		_, err := h.as(mallory, func(ctx *chain.Context) error {
			_, err := h.exec.ExecuteOperation(ctx, testutils.DAI, testutils.Ether(1), new(big.Int), executorAddr, params)
			return err
		})
		assert.ErrorIs(t, err, types.ErrUnauthorizedCaller)
	})

	t.Run("NoLoanInFlight", func(t *testing.T) {
		_, err := h.as(mallory, func(ctx *chain.Context) error {
			_, err := h.exec.ExecuteOperation(ctx.As(testutils.PoolAddress), testutils.DAI, testutils.Ether(1), new(big.Int), executorAddr, params)
			return err
		})
		assert.ErrorIs(t, err, types.ErrUnauthorizedCaller)
	})

	t.Run("ForeignInitiator", func(t *testing.T) {
		h.fx.Mint(testutils.DAI, executorAddr, testutils.Ether(10))
		_, err := h.as(mallory, func(ctx *chain.Context) error {
			return h.fx.Pool.FlashLoanSimple(ctx, h.exec, testutils.DAI, testutils.Ether(1), params, 0)
		})
		assert.ErrorIs(t, err, types.ErrUnauthorizedCaller)
		assert.Equal(t, testutils.Ether(10).String(), h.fx.Balance(testutils.DAI, executorAddr).String())
	})
}

// reentrantVenue calls back into the executor in the middle of a swap.
type reentrantVenue struct {
	addr common.Address
	exec *Executor
}

func (v *reentrantVenue) Address() common.Address { return v.addr }

func (v *reentrantVenue) Call(ctx *chain.Context, _ []byte) ([]byte, error) {
	_, err := v.exec.ExecuteFlashLoan(ctx.As(alice), testutils.DAI, testutils.Ether(1), strategies.Arbitrage, nil, nil, deadline, 1)
	return nil, err
}

func TestReentrancyRejected(t *testing.T) {
	h := newHarness(t, nil)
	evil := common.HexToAddress("0x000000000000000000000000000000000000e411")
	h.exec.Swapper().Register(&reentrantVenue{addr: evil, exec: h.exec})
	h.mustAs(admin, func(ctx *chain.Context) error {
		return h.exec.SetSupportedRouter(ctx, evil, true)
	})

	p := arbParams(testutils.Ether(100))
	p.Router = evil
	_, err := h.as(alice, func(ctx *chain.Context) error {
		_, err := h.exec.ExecuteArbitrage(ctx, testutils.DAI, testutils.Ether(100), p, nil, deadline, 0)
		return err
	})
	assert.ErrorIs(t, err, types.ErrReentrantCall)
	assert.ErrorIs(t, err, types.ErrSwapFailed)
	assert.Equal(t, uint64(0), h.exec.Nonce(alice))
}

func TestRequestCodec(t *testing.T) {
	req := &Request{
		Strategy:       strategies.Refinance,
		Caller:         alice,
		Data:           []byte{1, 2, 3},
		ExpectedProfit: big.NewInt(42),
		Deadline:       deadline,
		Nonce:          7,
	}
	data, err := req.Encode()
	require.NoError(t, err)

	got, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = DecodeRequest(data[:32])
	assert.ErrorIs(t, err, types.ErrInvalidParams)

	req.ExpectedProfit = big.NewInt(-1)
	_, err = req.Encode()
	assert.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestUnknownStrategyFailsClosed(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.as(alice, func(ctx *chain.Context) error {
		_, err := h.exec.ExecuteFlashLoan(ctx, testutils.DAI, testutils.Ether(100), strategies.Kind(5), nil, nil, deadline, 0)
		return err
	})
	assert.ErrorIs(t, err, types.ErrUnsupportedStrategy)
	assert.Equal(t, uint64(0), h.exec.Nonce(alice))
	assert.Equal(t, 0, h.venue.Calls)
}

// lateCallbackPool lends like the real pool but rewrites the request so
// its deadline has passed by the time the executor is called back.
type lateCallbackPool struct {
	*aave.Pool
}

func (p *lateCallbackPool) FlashLoanSimple(ctx *chain.Context, receiver flashloan.Receiver, asset common.Address, amount *big.Int, params []byte, referralCode uint16) error {
	req, err := DecodeRequest(params)
	if err != nil {
		return err
	}
	req.Deadline = ctx.Timestamp()
	if params, err = req.Encode(); err != nil {
		return err
	}
	return p.Pool.FlashLoanSimple(ctx, receiver, asset, amount, params, referralCode)
}

func TestExecuteOperationRechecksDeadline(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Upgradeable = true })
	h.mustAs(admin, func(ctx *chain.Context) error {
		return h.exec.SetLendingPool(ctx, &lateCallbackPool{Pool: h.fx.Pool})
	})

	_, _, err := h.arbitrage(alice, testutils.Ether(10_000), nil, 0)
	assert.ErrorIs(t, err, types.ErrInvalidDeadline)
	assert.Equal(t, uint64(0), h.exec.Nonce(alice))
	assert.Equal(t, 0, h.venue.Calls)
}
