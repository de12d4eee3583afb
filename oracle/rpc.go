package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/flashexec/flashloan"
	"github.com/michaelpento.lv/flashexec/flashloan/aave"
)

// RPCConfig tunes the request budget of an RPCAccountSource.
type RPCConfig struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

func DefaultRPCConfig() RPCConfig {
	return RPCConfig{RequestsPerSecond: 10, Burst: 5, Timeout: 5 * time.Second}
}

// RPCAccountSource reads getUserAccountData from a deployed Aave V3 pool.
type RPCAccountSource struct {
	caller  bind.ContractCaller
	pool    common.Address
	abi     abi.ABI
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

var _ flashloan.AccountDataSource = (*RPCAccountSource)(nil)

func NewRPCAccountSource(caller bind.ContractCaller, pool common.Address, cfg RPCConfig, logger *zap.Logger) (*RPCAccountSource, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if pool == (common.Address{}) {
		return nil, fmt.Errorf("pool address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parsed, err := aave.PoolABI()
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRPCConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRPCConfig().Timeout
	}
	return &RPCAccountSource{
		caller:  caller,
		pool:    pool,
		abi:     parsed,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

func (s *RPCAccountSource) GetUserAccountData(user common.Address) (*flashloan.AccountData, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.GetUserAccountDataContext(ctx, user)
}

// GetUserAccountDataContext performs an eth_call against the latest block.
func (s *RPCAccountSource) GetUserAccountDataContext(ctx context.Context, user common.Address) (*flashloan.AccountData, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	input, err := aave.PackGetUserAccountData(s.abi, user)
	if err != nil {
		return nil, fmt.Errorf("failed to pack call: %w", err)
	}

	start := time.Now()
	out, err := s.caller.CallContract(ctx, ethereum.CallMsg{To: &s.pool, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("getUserAccountData(%s): %w", user.Hex(), err)
	}
	s.logger.Debug("fetched account data",
		zap.String("user", user.Hex()),
		zap.Duration("latency", time.Since(start)))

	return aave.UnpackAccountData(s.abi, out)
}
