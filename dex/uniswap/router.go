package uniswap

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/flashexec/chain"
	"github.com/michaelpento.lv/flashexec/dex"
)

// FeeDenominator is the unit of pool fee tiers (3000 = 0.3%).
const FeeDenominator = 1_000_000

// Common fee tiers.
const (
	FeeLowest uint32 = 100
	FeeLow    uint32 = 500
	FeeMedium uint32 = 3000
	FeeHigh   uint32 = 10000
)

var (
	ErrPoolNotFound          = errors.New("pool not found")
	ErrPoolExists            = errors.New("pool already exists")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrTransactionTooOld     = errors.New("transaction too old")
	ErrTooLittleReceived     = errors.New("too little received")
	ErrInvalidFee            = errors.New("invalid fee tier")
)

type poolKey struct {
	token0 common.Address
	token1 common.Address
	fee    uint32
}

type poolReserves struct {
	reserve0 *big.Int
	reserve1 *big.Int
}

func sortTokens(a, b common.Address) (common.Address, common.Address) {
	if a.Hex() > b.Hex() {
		return b, a
	}
	return a, b
}

// Router is a constant-product venue keyed by (token pair, fee tier) that
// answers exactInputSingle calldata. Reserves are held by the router address.
type Router struct {
	address common.Address
	chain   *chain.Chain
	pools   *chain.Map[poolKey, poolReserves]
	logger  *zap.Logger
}

var _ dex.Venue = (*Router)(nil)

func NewRouter(c *chain.Chain, address common.Address, logger *zap.Logger) (*Router, error) {
	if c == nil {
		return nil, fmt.Errorf("chain is required")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("router address is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		address: address,
		chain:   c,
		pools:   chain.NewMap[poolKey, poolReserves](c),
		logger:  logger.With(zap.String("router", address.Hex())),
	}, nil
}

func (r *Router) Address() common.Address {
	return r.address
}

// AddPool creates a pool seeded with amountA of tokenA and amountB of tokenB.
func (r *Router) AddPool(tokenA, tokenB common.Address, fee uint32, amountA, amountB *big.Int) error {
	if fee >= FeeDenominator {
		return fmt.Errorf("%w: %d", ErrInvalidFee, fee)
	}
	if tokenA == tokenB {
		return fmt.Errorf("identical tokens %s", tokenA.Hex())
	}
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return ErrInsufficientLiquidity
	}
	token0, token1 := sortTokens(tokenA, tokenB)
	key := poolKey{token0, token1, fee}
	if _, ok := r.pools.Get(key); ok {
		return fmt.Errorf("%w: %s/%s %d", ErrPoolExists, token0.Hex(), token1.Hex(), fee)
	}

	ledger := r.chain.Ledger()
	if err := ledger.Mint(tokenA, r.address, amountA); err != nil {
		return err
	}
	if err := ledger.Mint(tokenB, r.address, amountB); err != nil {
		return err
	}
	res := poolReserves{new(big.Int).Set(amountA), new(big.Int).Set(amountB)}
	if token0 != tokenA {
		res.reserve0, res.reserve1 = res.reserve1, res.reserve0
	}
	r.pools.Set(key, res)
	return nil
}

// GetReserves returns the reserves of the pool ordered as (tokenIn, tokenOut).
func (r *Router) GetReserves(tokenIn, tokenOut common.Address, fee uint32) (*big.Int, *big.Int, error) {
	token0, token1 := sortTokens(tokenIn, tokenOut)
	res, ok := r.pools.Get(poolKey{token0, token1, fee})
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s/%s %d", ErrPoolNotFound, tokenIn.Hex(), tokenOut.Hex(), fee)
	}
	if tokenIn == token0 {
		return new(big.Int).Set(res.reserve0), new(big.Int).Set(res.reserve1), nil
	}
	return new(big.Int).Set(res.reserve1), new(big.Int).Set(res.reserve0), nil
}

// Quote returns the output of swapping amountIn at current reserves.
func (r *Router) Quote(tokenIn, tokenOut common.Address, fee uint32, amountIn *big.Int) (*big.Int, error) {
	reserveIn, reserveOut, err := r.GetReserves(tokenIn, tokenOut, fee)
	if err != nil {
		return nil, err
	}
	out := GetAmountOut(amountIn, reserveIn, reserveOut, fee)
	if out.Sign() == 0 {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// Call dispatches exactInputSingle calldata.
func (r *Router) Call(ctx *chain.Context, calldata []byte) ([]byte, error) {
	params, err := dex.DecodeExactInputSingle(calldata)
	if err != nil {
		return nil, err
	}
	out, err := r.ExactInputSingle(ctx, params)
	if err != nil {
		return nil, err
	}
	return dex.EncodeAmountOut(out)
}

// ExactInputSingle swaps params.AmountIn of TokenIn pulled from ctx.Sender
// for TokenOut sent to params.Recipient.
func (r *Router) ExactInputSingle(ctx *chain.Context, params *dex.ExactInputSingleParams) (*big.Int, error) {
	if params.Deadline == nil || params.Deadline.Cmp(new(big.Int).SetUint64(ctx.Timestamp())) < 0 {
		return nil, ErrTransactionTooOld
	}
	if params.Fee == nil || !params.Fee.IsUint64() || params.Fee.Uint64() >= FeeDenominator {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFee, params.Fee)
	}
	if params.AmountIn == nil || params.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("amountIn must be positive")
	}
	fee := uint32(params.Fee.Uint64())

	reserveIn, reserveOut, err := r.GetReserves(params.TokenIn, params.TokenOut, fee)
	if err != nil {
		return nil, err
	}
	amountOut := GetAmountOut(params.AmountIn, reserveIn, reserveOut, fee)
	if amountOut.Sign() == 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	if params.AmountOutMinimum != nil && amountOut.Cmp(params.AmountOutMinimum) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrTooLittleReceived, amountOut, params.AmountOutMinimum)
	}

	ledger := ctx.Ledger()
	if err := ledger.TransferFrom(params.TokenIn, r.address, ctx.Sender, r.address, params.AmountIn); err != nil {
		return nil, fmt.Errorf("pull %s: %w", params.TokenIn.Hex(), err)
	}
	if err := ledger.Transfer(params.TokenOut, r.address, params.Recipient, amountOut); err != nil {
		return nil, fmt.Errorf("pay %s: %w", params.TokenOut.Hex(), err)
	}
	r.setReserves(params.TokenIn, params.TokenOut, fee,
		reserveIn.Add(reserveIn, params.AmountIn),
		reserveOut.Sub(reserveOut, amountOut))

	r.logger.Debug("exactInputSingle",
		zap.String("token_in", params.TokenIn.Hex()),
		zap.String("token_out", params.TokenOut.Hex()),
		zap.String("amount_in", params.AmountIn.String()),
		zap.String("amount_out", amountOut.String()))
	return amountOut, nil
}

func (r *Router) setReserves(tokenIn, tokenOut common.Address, fee uint32, reserveIn, reserveOut *big.Int) {
	token0, token1 := sortTokens(tokenIn, tokenOut)
	res := poolReserves{reserveIn, reserveOut}
	if tokenIn != token0 {
		res = poolReserves{reserveOut, reserveIn}
	}
	r.pools.Set(poolKey{token0, token1, fee}, res)
}

// GetAmountOut calculates the output amount for an input amount after the
// pool fee.
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, fee uint32) *big.Int {
	if amountIn == nil || amountIn.Sign() <= 0 || reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return new(big.Int)
	}
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(int64(FeeDenominator-fee)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(
		new(big.Int).Mul(reserveIn, big.NewInt(FeeDenominator)),
		amountInWithFee,
	)
	return numerator.Div(numerator, denominator)
}

// GetAmountIn calculates the input amount needed for amountOut.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, fee uint32) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	numerator := new(big.Int).Mul(
		new(big.Int).Mul(reserveIn, amountOut),
		big.NewInt(FeeDenominator),
	)
	denominator := new(big.Int).Mul(
		new(big.Int).Sub(reserveOut, amountOut),
		big.NewInt(int64(FeeDenominator-fee)),
	)
	return new(big.Int).Add(numerator.Div(numerator, denominator), big.NewInt(1)), nil
}
